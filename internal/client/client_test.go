package client

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordscope/internal/interfaces"
	"recordscope/internal/types"
)

const baseURL = "http://query.local"

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	c := New(baseURL, 5*time.Second)
	httpmock.ActivateNonDefault(c.Resty().GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestFilter_Events(t *testing.T) {
	c := newMockedClient(t)

	var captured map[string]any
	var requestID string
	httpmock.RegisterResponder("POST", baseURL+"/events/filter",
		func(req *http.Request) (*http.Response, error) {
			requestID = req.Header.Get(RequestIDHeader)
			if err := json.NewDecoder(req.Body).Decode(&captured); err != nil {
				return httpmock.NewStringResponse(400, `{"detail":"bad body"}`), nil
			}
			return httpmock.NewStringResponse(200, `{
				"data": [
					{"id": 7, "timestamp": "2024-05-10 14:00:05.25", "message": "valve stuck",
					 "priority": 3, "user": {"id": 1, "username": "alice"}, "has_comments": true, "extra": "ignored"},
					{"id": 8, "timestamp": "2024-05-10T13:59:00Z", "message": "ok"}
				],
				"pagination": {"page": 2, "limit": 2, "total_records": 5, "total_pages": 3, "has_next": true, "has_prev": true}
			}`), nil
		})

	page, err := c.Filter(context.Background(), types.KindEvents, interfaces.FilterRequest{
		"usernames": []string{"alice"},
		"timezone":  "UTC",
		"page":      2,
		"limit":     2,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, requestID)
	assert.Equal(t, []any{"alice"}, captured["usernames"])
	assert.Equal(t, "UTC", captured["timezone"])
	assert.Equal(t, float64(2), captured["page"])

	require.Len(t, page.Records, 2)
	first := page.Records[0]
	assert.Equal(t, types.KindEvents, first.Kind)
	assert.Equal(t, int64(7), first.ID())
	assert.Equal(t, 3, *first.Event.Priority)
	assert.Equal(t, "alice", first.Event.User.Username)
	assert.True(t, first.Event.HasComments)
	assert.Equal(t, time.Date(2024, 5, 10, 14, 0, 5, 250000000, time.UTC), first.Time())
	assert.Equal(t, types.Pagination{Page: 2, Limit: 2, TotalRecords: 5, TotalPages: 3, HasNext: true, HasPrev: true}, page.Pagination)
}

func TestFilter_Logs(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("POST", baseURL+"/logs/filter",
		httpmock.NewStringResponder(200, `{"data":[{"id":3,"timestamp":"2024-05-10 10:00:00","message":"pump started","alarm":{"id":2,"name":"LowLevel"},"event":{"id":7}}],"pagination":{"page":1,"limit":20,"total_records":1,"total_pages":1}}`))

	page, err := c.Filter(context.Background(), types.KindLogs, interfaces.FilterRequest{"timezone": "UTC"})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "LowLevel", page.Records[0].Log.Alarm.Name)
	assert.Equal(t, int64(7), page.Records[0].Log.Event.ID)
}

func TestFilter_ErrorEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"detail", 422, `{"detail":"invalid timezone"}`, "invalid timezone"},
		{"error", 500, `{"error":"database offline"}`, "database offline"},
		{"message", 503, `{"message":"maintenance"}`, "maintenance"},
		{"detail list", 422, `{"detail":[{"msg":"page must be positive"}]}`, "page must be positive"},
		{"no envelope", 502, `<html>bad gateway</html>`, "failed to query events (HTTP 502)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMockedClient(t)
			httpmock.RegisterResponder("POST", baseURL+"/events/filter",
				httpmock.NewStringResponder(tt.status, tt.body))

			_, err := c.Filter(context.Background(), types.KindEvents, interfaces.FilterRequest{})

			var queryErr *types.QueryError
			require.ErrorAs(t, err, &queryErr)
			assert.Equal(t, tt.status, queryErr.StatusCode)
			assert.Equal(t, tt.message, types.DisplayMessage(err))
		})
	}
}

func TestFilter_MalformedBody(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("POST", baseURL+"/events/filter",
		httpmock.NewStringResponder(200, `{"data": "nope"}`))

	_, err := c.Filter(context.Background(), types.KindEvents, interfaces.FilterRequest{})
	var queryErr *types.QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Contains(t, queryErr.Message, "malformed response")
}

func TestFilter_TransportError(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("POST", baseURL+"/events/filter",
		httpmock.NewErrorResponder(assert.AnError))

	_, err := c.Filter(context.Background(), types.KindEvents, interfaces.FilterRequest{})
	var queryErr *types.QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Contains(t, queryErr.Message, "failed to query events")
	assert.Zero(t, queryErr.StatusCode)
}

func TestCreateComment(t *testing.T) {
	c := newMockedClient(t)

	var captured map[string]any
	httpmock.RegisterResponder("POST", baseURL+"/comments",
		func(req *http.Request) (*http.Response, error) {
			_ = json.NewDecoder(req.Body).Decode(&captured)
			return httpmock.NewStringResponse(201, `{"status":"created"}`), nil
		})

	eventID := int64(42)
	err := c.CreateComment(context.Background(), types.CommentDraft{Message: "checked", EventID: &eventID})
	require.NoError(t, err)
	assert.Equal(t, "checked", captured["message"])
	assert.Equal(t, float64(42), captured["event_id"])
	_, hasDescription := captured["description"]
	assert.False(t, hasDescription)
}

func TestListComments(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"envelope", `{"data":[{"id":1,"message":"first","timestamp":"2024-05-10 10:00:00"}]}`},
		{"bare array", `[{"id":1,"message":"first","timestamp":"2024-05-10 10:00:00"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newMockedClient(t)
			httpmock.RegisterResponder("GET", baseURL+"/events/42/comments",
				httpmock.NewStringResponder(200, tt.body))

			comments, err := c.ListComments(context.Background(), 42)
			require.NoError(t, err)
			require.Len(t, comments, 1)
			assert.Equal(t, "first", comments[0].Message)
			assert.Equal(t, int64(42), comments[0].EventID)
		})
	}
}

func TestListOptions(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", baseURL+"/users",
		httpmock.NewStringResponder(200, `[{"id":1,"username":"bob"},{"id":2,"username":"alice"}]`))
	httpmock.RegisterResponder("GET", baseURL+"/timezones",
		httpmock.NewStringResponder(200, `{"data":["UTC","Europe/Paris"]}`))
	httpmock.RegisterResponder("GET", baseURL+"/alarms",
		httpmock.NewStringResponder(200, `[{"id":1,"name":"HighPressure"}]`))

	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, users)

	zones, err := c.ListTimezones(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"UTC", "Europe/Paris"}, zones)

	alarms, err := c.ListAlarms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"HighPressure"}, alarms)
}

func TestPing(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder("GET", baseURL+"/health", httpmock.NewStringResponder(200, `{"status":"ok"}`))
	assert.NoError(t, c.Ping(context.Background()))

	httpmock.RegisterResponder("GET", baseURL+"/health", httpmock.NewStringResponder(503, `{"detail":"starting"}`))
	err := c.Ping(context.Background())
	assert.Equal(t, "starting", types.DisplayMessage(err))
	assert.Equal(t, 2, httpmock.GetTotalCallCount())
}
