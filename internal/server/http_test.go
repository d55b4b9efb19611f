package server

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordscope/internal/annotation"
	"recordscope/internal/export"
	"recordscope/internal/fake"
	"recordscope/internal/interfaces"
	"recordscope/internal/service"
	"recordscope/internal/storage"
	"recordscope/internal/types"
)

var fixedNow = time.Date(2024, 5, 10, 14, 30, 0, 0, time.UTC)

// apiResult mirrors APIResponse with the payload left raw
type apiResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// setupTestHTTPServer creates a server over a fake Query Service seeded with 45 events and 3 logs
func setupTestHTTPServer(t *testing.T) (*HTTPServer, *fake.QueryService) {
	t.Helper()
	t.Setenv("TZ", "UTC")

	client := fake.New()
	for i := 1; i <= 45; i++ {
		user := "alice"
		if i%3 == 0 {
			user = "bob"
		}
		client.Events = append(client.Events, types.Event{ID: int64(i), Message: "pump started", User: &types.UserRef{Username: user}})
	}
	client.Logs = []types.Log{
		{ID: 1, Message: "level low", Alarm: &types.AlarmRef{Name: "LowLevel"}},
		{ID: 2, Message: "pressure high", Alarm: &types.AlarmRef{Name: "HighPressure"}},
		{ID: 3, Message: "level low", Alarm: &types.AlarmRef{Name: "LowLevel"}},
	}

	svc := service.NewViewService(client, storage.NewMemoryStore(), service.Config{
		View: service.ViewConfig{
			DefaultLimit:  20,
			ExportCeiling: 100,
			Clock:         func() time.Time { return fixedNow },
		},
	})
	config := &types.Config{HTTPPort: 8080}
	return NewHTTPServer(config, svc), client
}

func doRequest(t *testing.T, s *HTTPServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) apiResult {
	t.Helper()
	var result apiResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result), rec.Body.String())
	return result
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) (apiResult, service.Snapshot) {
	t.Helper()
	result := decodeResult(t, rec)
	var snap service.Snapshot
	require.NoError(t, json.Unmarshal(result.Data, &snap))
	return result, snap
}

func TestHandleHealth(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "1.0.0", health.Version)
	assert.Contains(t, health.Services, "view_service")
	assert.Contains(t, health.Services, "http_server")
	assert.Equal(t, "degraded", health.Status, "no probe has run yet")
}

func TestHandleStatus(t *testing.T) {
	s, _ := setupTestHTTPServer(t)
	s.svc.CheckConnection(t.Context())

	result := decodeResult(t, doRequest(t, s, http.MethodGet, "/api/status", nil))
	assert.True(t, result.Success)
	assert.Contains(t, string(result.Data), `"connected":true`)
}

func TestHandleMetrics(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleRecords_UnknownKind(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/alerts/records", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeResult(t, rec).Success)
}

func TestHandleRefreshAndRecords(t *testing.T) {
	s, client := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/events/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	result, snap := decodeSnapshot(t, rec)
	assert.True(t, result.Success)
	assert.Len(t, snap.Records, 20)
	assert.Equal(t, 45, snap.Pagination.TotalRecords)
	assert.Equal(t, 3, snap.Pagination.TotalPages)
	assert.Equal(t, 1, client.RequestCount())

	// Reading records never queries
	_, snap = decodeSnapshot(t, doRequest(t, s, http.MethodGet, "/api/events/records", nil))
	assert.Len(t, snap.Records, 20)
	assert.Equal(t, 1, client.RequestCount())
}

func TestHandlePageAndLimit(t *testing.T) {
	s, client := setupTestHTTPServer(t)
	doRequest(t, s, http.MethodPost, "/api/events/refresh", nil)

	_, snap := decodeSnapshot(t, doRequest(t, s, http.MethodPost, "/api/events/page", pageRequest{Page: 3}))
	assert.Equal(t, 3, snap.Pagination.Page)
	assert.Len(t, snap.Records, 5)
	assert.Equal(t, 3, snap.Filters.Page)

	// Out of range pages are ignored without a request
	before := client.RequestCount()
	_, snap = decodeSnapshot(t, doRequest(t, s, http.MethodPost, "/api/events/page", pageRequest{Page: 9}))
	assert.Equal(t, 3, snap.Pagination.Page)
	assert.Equal(t, before, client.RequestCount())

	_, snap = decodeSnapshot(t, doRequest(t, s, http.MethodPost, "/api/events/limit", limitRequest{Limit: 50}))
	assert.Equal(t, 1, snap.Pagination.Page)
	assert.Equal(t, 50, snap.Pagination.Limit)
	assert.Len(t, snap.Records, 45)
	assert.Equal(t, 1, client.LastRequest()["page"])
	assert.Equal(t, 50, client.LastRequest()["limit"])
}

func TestHandlePage_MissingBody(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/events/page", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "request body is required", decodeResult(t, rec).Error)
}

func TestHandleFilters(t *testing.T) {
	s, client := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodPut, "/api/events/filters", map[string]interface{}{
		"usernames": []string{"bob"},
		"preset":    "6h",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	_, snap := decodeSnapshot(t, rec)
	assert.Equal(t, []string{"bob"}, snap.Filters.Usernames)
	assert.Equal(t, types.PresetLast6Hours, snap.Filters.Preset)
	assert.Equal(t, 15, snap.Pagination.TotalRecords)

	last := client.LastRequest()
	assert.Equal(t, []string{"bob"}, last["usernames"])
	assert.Equal(t, "2024-05-10 08:30:00.00", last["greater_than_timestamp"])

	result := decodeResult(t, doRequest(t, s, http.MethodGet, "/api/events/filters", nil))
	var filters types.FilterCriteria
	require.NoError(t, json.Unmarshal(result.Data, &filters))
	assert.Equal(t, []string{"bob"}, filters.Usernames)

	_, snap = decodeSnapshot(t, doRequest(t, s, http.MethodDelete, "/api/events/filters", nil))
	assert.Empty(t, snap.Filters.Usernames)
	assert.Equal(t, types.PresetLastHour, snap.Filters.Preset)
	assert.Equal(t, 45, snap.Pagination.TotalRecords)
}

func TestHandleFilters_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{"unknown preset", map[string]interface{}{"preset": "fortnight"}, "preset"},
		{"bad time", map[string]interface{}{"start": "noon"}, "start"},
		{"severity out of range", map[string]interface{}{"priorities": []int{9}}, "priorities"},
		{"inverted window", map[string]interface{}{"start": "2024-05-10T12:00", "end": "2024-05-10T10:00"}, "start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, client := setupTestHTTPServer(t)

			rec := doRequest(t, s, http.MethodPut, "/api/events/filters", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decodeResult(t, rec).Error, tt.want)
			assert.Zero(t, client.RequestCount())
		})
	}
}

func TestHandleRefresh_QueryFailureIsDisplayed(t *testing.T) {
	s, client := setupTestHTTPServer(t)
	client.FilterErr = &types.QueryError{StatusCode: 500, Message: "database offline"}

	rec := doRequest(t, s, http.MethodPost, "/api/logs/refresh", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	result, snap := decodeSnapshot(t, rec)
	assert.False(t, result.Success)
	assert.Equal(t, "database offline", result.Error)
	assert.Empty(t, snap.Records)
	assert.Equal(t, "database offline", snap.Error)

	result = decodeResult(t, doRequest(t, s, http.MethodGet, "/api/logs/records", nil))
	assert.False(t, result.Success)
	assert.Equal(t, "database offline", result.Error)
}

func TestHandleOptions(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	result := decodeResult(t, doRequest(t, s, http.MethodGet, "/api/logs/options", nil))
	var opts service.Options
	require.NoError(t, json.Unmarshal(result.Data, &opts))
	assert.Equal(t, []string{"alice", "bob"}, opts.Users)
	assert.Equal(t, []string{"HighPressure", "LowLevel"}, opts.Alarms)

	result = decodeResult(t, doRequest(t, s, http.MethodGet, "/api/events/options", nil))
	opts = service.Options{}
	require.NoError(t, json.Unmarshal(result.Data, &opts))
	assert.Nil(t, opts.Alarms)
}

func TestHandleExport(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/logs/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "logs_2024-05-10.csv")
	assert.Equal(t, "false", rec.Header().Get(export.TruncatedHeader))

	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestHandleExport_NoData(t *testing.T) {
	s, client := setupTestHTTPServer(t)
	client.Logs = nil

	rec := doRequest(t, s, http.MethodGet, "/api/logs/export", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, types.MsgNoDataToExport, decodeResult(t, rec).Error)
}

func TestHandleExport_QueryFailure(t *testing.T) {
	s, client := setupTestHTTPServer(t)
	client.FilterErr = &types.QueryError{StatusCode: 503, Message: "overloaded"}

	rec := doRequest(t, s, http.MethodGet, "/api/events/export", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decodeResult(t, rec).Error, "overloaded")
}

func TestHandleComments(t *testing.T) {
	s, client := setupTestHTTPServer(t)
	client.Comments[7] = []types.Comment{
		{ID: 1, EventID: 7, Message: "checked valve"},
	}

	result := decodeResult(t, doRequest(t, s, http.MethodGet, "/api/events/7/comments", nil))
	var comments []types.Comment
	require.NoError(t, json.Unmarshal(result.Data, &comments))
	require.Len(t, comments, 1)
	assert.Equal(t, "checked valve", comments[0].Message)

	result = decodeResult(t, doRequest(t, s, http.MethodGet, "/api/events/8/comments", nil))
	assert.JSONEq(t, `[]`, string(result.Data))

	rec := doRequest(t, s, http.MethodGet, "/api/events/abc/comments", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCommentsExport(t *testing.T) {
	s, client := setupTestHTTPServer(t)
	client.Comments[7] = []types.Comment{{ID: 1, EventID: 7, Message: "checked, valve"}}

	rec := doRequest(t, s, http.MethodGet, "/api/events/7/comments/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "event_comments_7_2024-05-10.csv")
	assert.Contains(t, rec.Body.String(), `"checked, valve"`)

	rec = doRequest(t, s, http.MethodGet, "/api/events/8/comments/export", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func annotationState(t *testing.T, rec *httptest.ResponseRecorder) (apiResult, annotation.Snapshot) {
	t.Helper()
	result := decodeResult(t, rec)
	var snap annotation.Snapshot
	require.NoError(t, json.Unmarshal(result.Data, &snap))
	return result, snap
}

func TestAnnotationFlow(t *testing.T) {
	s, client := setupTestHTTPServer(t)
	doRequest(t, s, http.MethodPost, "/api/events/refresh", nil)
	requests := client.RequestCount()

	_, snap := annotationState(t, doRequest(t, s, http.MethodPost, "/api/events/annotation/context-menu",
		annotationRequest{RecordID: 4, X: 120, Y: 80}))
	assert.Equal(t, annotation.StateContextMenuOpen, snap.State)
	assert.Equal(t, annotation.Point{X: 120, Y: 80}, snap.Position)

	_, snap = annotationState(t, doRequest(t, s, http.MethodPost, "/api/events/annotation/add-comment", nil))
	assert.Equal(t, annotation.StateCommentModalOpen, snap.State)

	// Blank message stays in the modal
	rec := doRequest(t, s, http.MethodPost, "/api/events/annotation/submit", annotationRequest{Message: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	result, snap := annotationState(t, rec)
	assert.Equal(t, "message: message is required", result.Error)
	assert.Equal(t, annotation.StateCommentModalOpen, snap.State)

	rec = doRequest(t, s, http.MethodPost, "/api/events/annotation/submit", annotationRequest{Message: "valve replaced"})
	require.Equal(t, http.StatusOK, rec.Code)
	_, snap = annotationState(t, rec)
	assert.Equal(t, annotation.StateIdle, snap.State)

	require.Len(t, client.CreatedDrafts, 1)
	require.NotNil(t, client.CreatedDrafts[0].EventID)
	assert.Equal(t, int64(4), *client.CreatedDrafts[0].EventID)
	assert.Equal(t, requests+1, client.RequestCount(), "submission refreshes the view")

	_, snap = annotationState(t, doRequest(t, s, http.MethodPost, "/api/events/annotation/view-comments",
		annotationRequest{RecordID: 4}))
	assert.Equal(t, annotation.StateCommentsViewerOpen, snap.State)
	require.Len(t, snap.Comments, 1)
	assert.Equal(t, "valve replaced", snap.Comments[0].Message)

	_, snap = annotationState(t, doRequest(t, s, http.MethodGet, "/api/events/annotation", nil))
	assert.Equal(t, annotation.StateCommentsViewerOpen, snap.State)

	_, snap = annotationState(t, doRequest(t, s, http.MethodPost, "/api/events/annotation/close-comments", nil))
	assert.Equal(t, annotation.StateIdle, snap.State)
}

func TestAnnotationAction_InvalidTransition(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/events/annotation/add-comment", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	result, snap := annotationState(t, rec)
	assert.False(t, result.Success)
	assert.Equal(t, annotation.StateIdle, snap.State)
}

func openCommentModal(t *testing.T, s *HTTPServer, recordID int64) {
	t.Helper()
	doRequest(t, s, http.MethodPost, "/api/events/annotation/context-menu", annotationRequest{RecordID: recordID})
	rec := doRequest(t, s, http.MethodPost, "/api/events/annotation/add-comment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAnnotationSubmit_RefreshFailureIsDisplayed(t *testing.T) {
	s, client := setupTestHTTPServer(t)
	openCommentModal(t, s, 4)

	client.FilterHook = func(ctx context.Context, kind types.RecordKind, req interfaces.FilterRequest) (types.ResultPage, error) {
		return types.ResultPage{}, &types.QueryError{StatusCode: 503, Message: "backend down"}
	}

	rec := doRequest(t, s, http.MethodPost, "/api/events/annotation/submit", annotationRequest{Message: "valve replaced"})
	assert.Equal(t, http.StatusOK, rec.Code, "a stored comment must not be reported as a server failure")
	result, snap := annotationState(t, rec)
	assert.False(t, result.Success)
	assert.Equal(t, "backend down", result.Error)
	assert.Equal(t, annotation.StateIdle, snap.State)
	assert.Len(t, client.CreatedDrafts, 1)
}

func TestAnnotationSubmit_SupersededRefreshSucceeds(t *testing.T) {
	s, client := setupTestHTTPServer(t)
	openCommentModal(t, s, 4)

	// A newer refresh lands while the submit's refresh is in flight
	var overtaken bool
	client.FilterHook = func(ctx context.Context, kind types.RecordKind, req interfaces.FilterRequest) (types.ResultPage, error) {
		if !overtaken {
			overtaken = true
			doRequest(t, s, http.MethodPost, "/api/events/refresh", nil)
		}
		return fake.Paginate(nil, 1, 20), nil
	}

	rec := doRequest(t, s, http.MethodPost, "/api/events/annotation/submit", annotationRequest{Message: "valve replaced"})
	assert.Equal(t, http.StatusOK, rec.Code)
	result, snap := annotationState(t, rec)
	assert.True(t, result.Success)
	assert.Equal(t, annotation.StateIdle, snap.State)
	assert.Len(t, client.CreatedDrafts, 1)
}

func TestAnnotationAction_DismissMenu(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	doRequest(t, s, http.MethodPost, "/api/events/annotation/context-menu", annotationRequest{RecordID: 1})
	_, snap := annotationState(t, doRequest(t, s, http.MethodPost, "/api/events/annotation/outside-click", nil))
	assert.Equal(t, annotation.StateIdle, snap.State)

	doRequest(t, s, http.MethodPost, "/api/events/annotation/context-menu", annotationRequest{RecordID: 1})
	_, snap = annotationState(t, doRequest(t, s, http.MethodPost, "/api/events/annotation/escape", nil))
	assert.Equal(t, annotation.StateIdle, snap.State)
}

func TestAnnotationAction_Unknown(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/events/annotation/shout", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/events/records", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestStats(t *testing.T) {
	s, _ := setupTestHTTPServer(t)

	doRequest(t, s, http.MethodGet, "/api/health", nil)
	doRequest(t, s, http.MethodGet, "/api/alerts/records", nil)

	stats := s.GetStats()
	assert.Equal(t, int64(2), stats.RequestsHandled)
	assert.Equal(t, int64(1), stats.RequestErrors)
	assert.False(t, stats.IsRunning)
}

func TestStartStop(t *testing.T) {
	s, _ := setupTestHTTPServer(t)
	s.config.HTTPPort = 0

	require.NoError(t, s.Start())
	assert.Error(t, s.Start(), "second start must fail")
	assert.True(t, s.GetStats().IsRunning)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.GetStats().IsRunning)
}
