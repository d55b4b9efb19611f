package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queryServiceStub answers the Query Service routes the CLI uses
type queryServiceStub struct {
	mu       sync.Mutex
	bodies   []map[string]interface{}
	comments []map[string]interface{}
}

func (q *queryServiceStub) lastBody() map[string]interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.bodies) == 0 {
		return nil
	}
	return q.bodies[len(q.bodies)-1]
}

func (q *queryServiceStub) handler() http.Handler {
	mux := http.NewServeMux()
	filter := func(records string, total int) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var body map[string]interface{}
			_ = json.NewDecoder(r.Body).Decode(&body)
			q.mu.Lock()
			q.bodies = append(q.bodies, body)
			q.mu.Unlock()

			page, _ := body["page"].(float64)
			limit, _ := body["limit"].(float64)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data":` + records + `,"pagination":{"page":` + jsonInt(page) +
				`,"limit":` + jsonInt(limit) + `,"total_records":` + jsonInt(float64(total)) +
				`,"total_pages":` + jsonInt(float64((total+int(limit)-1)/int(limit))) + `}}`))
		}
	}
	mux.HandleFunc("POST /events/filter", filter(`[
		{"id":1,"timestamp":"2024-05-10T14:00:00","message":"pump started","priority":2,"user":{"username":"alice"}},
		{"id":2,"timestamp":"2024-05-10T14:05:00","message":"pump, stopped","user":{"username":"bob"},"has_comments":true}
	]`, 2))
	mux.HandleFunc("POST /logs/filter", filter(`[]`, 0))
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"username":"bob"},{"username":"alice"}]`))
	})
	mux.HandleFunc("GET /timezones", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`["UTC","Europe/Paris"]`))
	})
	mux.HandleFunc("GET /alarms", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"name":"LowLevel"}]}`))
	})
	mux.HandleFunc("POST /comments", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		q.mu.Lock()
		q.comments = append(q.comments, body)
		q.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("GET /events/{id}/comments", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "2" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`[{"id":5,"timestamp":"2024-05-10T14:10:00","message":"checked","event_id":2}]`))
	})
	return mux
}

func jsonInt(f float64) string {
	b, _ := json.Marshal(int(f))
	return string(b)
}

type cliHarness struct {
	stub      *queryServiceStub
	baseArgs  []string
	exportDir string
}

func newHarness(t *testing.T) *cliHarness {
	t.Helper()
	t.Setenv("TZ", "UTC")
	for _, key := range []string{"CONFIG", "SERVICE_URL", "STATE_DRIVER", "STATE_PATH", "EXPORT_DIR", "TIMEZONE", "LOG_LEVEL"} {
		t.Setenv("RECORDSCOPE_"+key, "")
	}

	stub := &queryServiceStub{}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	return &cliHarness{
		stub:      stub,
		exportDir: filepath.Join(dir, "exports"),
		baseArgs: []string{
			"--service-url", srv.URL,
			"--state-driver", "sqlite",
			"--state-path", filepath.Join(dir, "state.db"),
			"--export-dir", filepath.Join(dir, "exports"),
			"--log-level", "error",
		},
	}
}

func (h *cliHarness) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), append(append([]string{}, args...), h.baseArgs...), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestQuery_PrintsPage(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "query", "events")
	require.NoError(t, err)
	assert.Contains(t, out, "pump started")
	assert.Contains(t, out, "page 1/1, 20 per page, 2 records")

	body := h.stub.lastBody()
	assert.EqualValues(t, 1, body["page"])
	assert.EqualValues(t, 20, body["limit"])
	assert.NotContains(t, body, "usernames")
}

func TestQuery_FiltersPersistAcrossRuns(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "query", "events", "--user", "alice,bob", "--priority", "2", "--limit", "50", "--preset", "6h")
	require.NoError(t, err)
	body := h.stub.lastBody()
	assert.Equal(t, []interface{}{"alice", "bob"}, body["usernames"])
	assert.Equal(t, []interface{}{float64(2)}, body["priorities"])
	assert.EqualValues(t, 50, body["limit"])

	// A later run without flags reuses the persisted filters
	out, _, err := h.run(t, "filters", "show", "events")
	require.NoError(t, err)
	assert.Contains(t, out, "preset: last_6_hours")
	assert.Contains(t, out, "limit: 50")
	assert.Contains(t, out, "- alice")

	_, _, err = h.run(t, "query", "events")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"alice", "bob"}, h.stub.lastBody()["usernames"])
}

func TestQuery_JSONOutput(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "query", "events", "--json")
	require.NoError(t, err)

	var snap struct {
		Kind    string        `json:"kind"`
		Records []interface{} `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "events", snap.Kind)
	assert.Len(t, snap.Records, 2)
}

func TestQuery_RejectsInvalidFilters(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "query", "logs", "--priority", "3")
	assert.Error(t, err, "logs cannot be filtered on priorities")

	_, _, err = h.run(t, "query", "events", "--preset", "fortnight")
	assert.Error(t, err)

	_, _, err = h.run(t, "query", "alerts")
	assert.Error(t, err)
	assert.Empty(t, h.stub.bodies)
}

func TestQuery_OutOfRangePage(t *testing.T) {
	h := newHarness(t)

	_, stderr, err := h.run(t, "query", "events", "--page", "4")
	require.NoError(t, err)
	assert.Contains(t, stderr, "page 4 is out of range (1-1)")
}

func TestFiltersClear(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "query", "logs", "--alarm", "LowLevel")
	require.NoError(t, err)

	out, _, err := h.run(t, "filters", "clear", "logs")
	require.NoError(t, err)
	assert.NotContains(t, out, "LowLevel")
	assert.Contains(t, out, "preset: last_hour")
	assert.NotContains(t, h.stub.lastBody(), "alarm_names")
}

func TestExport_WritesCSV(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "export", "events")
	require.NoError(t, err)
	assert.Contains(t, out, "(2 rows)")

	matches, err := filepath.Glob(filepath.Join(h.exportDir, "events_*.csv"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "ID,Timestamp,Message"))
	assert.Contains(t, string(data), `"pump, stopped"`)
	assert.EqualValues(t, 10000, h.stub.lastBody()["limit"])
}

func TestExport_NoData(t *testing.T) {
	h := newHarness(t)

	_, _, err := h.run(t, "export", "logs")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no data to export")
}

func TestComments(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "comments", "list", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "checked")

	out, _, err = h.run(t, "comments", "list", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "no comments")

	out, _, err = h.run(t, "comments", "add", "2", "-m", "valve replaced", "--classification", "maintenance")
	require.NoError(t, err)
	assert.Contains(t, out, "comment added to event 2")
	require.Len(t, h.stub.comments, 1)
	assert.Equal(t, "valve replaced", h.stub.comments[0]["message"])
	assert.EqualValues(t, 2, h.stub.comments[0]["event_id"])

	_, _, err = h.run(t, "comments", "add", "2")
	assert.Error(t, err, "message is required")
	assert.Len(t, h.stub.comments, 1)

	_, _, err = h.run(t, "comments", "list", "abc")
	assert.Error(t, err)
}

func TestCommentsExport(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "comments", "export", "2", "--out", h.exportDir)
	require.NoError(t, err)
	assert.Contains(t, out, "event_comments_2_")
}

func TestOptions(t *testing.T) {
	h := newHarness(t)

	out, _, err := h.run(t, "options", "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "- alice")
	assert.Contains(t, out, "- LowLevel")
	assert.Contains(t, out, "- Europe/Paris")
}

func TestInvalidConfiguration(t *testing.T) {
	h := newHarness(t)
	t.Setenv("RECORDSCOPE_STATE_DRIVER", "postgres")

	_, _, err := h.run(t, "query", "events")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}
