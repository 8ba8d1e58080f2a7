package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/compareMS2/internal/compare"
	"github.com/524D/compareMS2/internal/distmatrix"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/parallel"
	"github.com/524D/compareMS2/internal/service"
	"github.com/524D/compareMS2/internal/testutil"
)

type testServer struct {
	*httptest.Server
	tools   testutil.Tools
	manager *service.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	tools := testutil.FakeTools(t)
	collector := metrics.NewCollector()
	slots := parallel.NewManager(2)
	mgr := service.NewManager(nil)
	ex := compare.NewExecutor(tools.CompareExe, slots, collector)
	gen := distmatrix.NewGenerator(tools.DistanceExe)

	srv := New(Deps{
		Manager:  mgr,
		Trees:    service.NewTreeService(mgr, ex, gen, collector),
		Species:  service.NewSpeciesService(mgr, ex, collector),
		Executor: ex,
		Slots:    slots,
		Metrics:  collector,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		mgr.StopAll(ctx)
		ts.Close()
	})
	return &testServer{Server: ts, tools: tools, manager: mgr}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) waitDone(t *testing.T, id string) service.SessionSnapshot {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for {
		resp, body := ts.do(t, http.MethodGet, "/api/sessions/"+id, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var snap service.SessionSnapshot
		require.NoError(t, json.Unmarshal(body, &snap))
		if snap.Done() {
			return snap
		}
		require.True(t, time.Now().Before(deadline), "session %s did not finish", id)
		time.Sleep(50 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))
}

func TestTreeSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2, "c.mgf": 3})

	resp, body := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{
		"mgfDir":    dir,
		"cutoff":    "0.8",
		"outNewick": true,
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var started service.SessionSnapshot
	require.NoError(t, json.Unmarshal(body, &started))
	assert.Equal(t, service.KindTree, started.Kind)
	assert.Equal(t, dir, started.Options.MgfDir)

	snap := ts.waitDone(t, started.ID)
	assert.Equal(t, service.SessionCompleted, snap.Status)
	assert.Equal(t, 3, snap.Completed)
	assert.Contains(t, snap.Newick, "a.mgf")

	resp, body = ts.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []service.SessionSnapshot
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, started.ID, list[0].ID)

	resp, _ = ts.do(t, http.MethodDelete, "/api/sessions/"+started.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/sessions/"+started.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartSession_BadRequest(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing dir", map[string]any{"cutoff": 0.5}},
		{"bad number", map[string]any{"mgfDir": "/data", "cutoff": "high"}},
		{"not an object", []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/api/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e errorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
		})
	}
}

func TestSessionNotFound(t *testing.T) {
	ts := newTestServer(t)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/nope"},
		{http.MethodPost, "/api/sessions/nope/pause"},
		{http.MethodPost, "/api/sessions/nope/resume"},
		{http.MethodPost, "/api/sessions/nope/stop"},
		{http.MethodDelete, "/api/sessions/nope"},
	} {
		resp, _ := ts.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestPauseResumeStop(t *testing.T) {
	ts := newTestServer(t)
	ts.tools.SetCompareDelay(t, "0.5")
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2, "c.mgf": 3, "d.mgf": 4})

	resp, body := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"mgfDir": dir})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started service.SessionSnapshot
	require.NoError(t, json.Unmarshal(body, &started))

	resp, body = ts.do(t, http.MethodPost, "/api/sessions/"+started.ID+"/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap service.SessionSnapshot
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, service.SessionPaused, snap.Status)

	resp, body = ts.do(t, http.MethodPost, "/api/sessions/"+started.ID+"/resume", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.Equal(t, service.SessionRunning, snap.Status)

	resp, body = ts.do(t, http.MethodPost, "/api/sessions/"+started.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &snap))
	assert.True(t, snap.Done())
}

func TestComparePair(t *testing.T) {
	ts := newTestServer(t)
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2})

	req := map[string]any{
		"a":       "b.mgf",
		"b":       "a.mgf",
		"json":    true,
		"options": map[string]any{"mgfDir": dir},
	}
	resp, body := ts.do(t, http.MethodPost, "/api/compare", req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got CompareResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Fingerprint, 24)
	assert.False(t, got.CacheHit)
	require.NotNil(t, got.Distance)
	assert.Greater(t, *got.Distance, 0.0)

	resp, body = ts.do(t, http.MethodPost, "/api/compare", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.True(t, got.CacheHit)
	assert.Len(t, ts.tools.CompareCallLines(t), 1)
}

func TestComparePair_Heatmap(t *testing.T) {
	ts := newTestServer(t)
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1})

	resp, body := ts.do(t, http.MethodPost, "/api/compare", map[string]any{
		"a":       "a.mgf",
		"heatmap": true,
		"options": map[string]any{"mgfDir": dir},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got CompareResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.FileExists(t, got.HeatmapPath)
	require.NotNil(t, got.Distance)
	require.NotNil(t, got.Heatmap)
	assert.Equal(t, "Self comparison (a.mgf)", got.Heatmap.Title)
	assert.Equal(t, "MS2 similarity (dot product)", got.Heatmap.YAxisLabel)
	assert.Equal(t, 2, got.Heatmap.Rows)
	assert.Equal(t, 3, got.Heatmap.Columns)
	assert.Equal(t, []string{"a.mgf a.mgf"}, ts.tools.CompareCallLines(t))
}

func TestComparePair_Errors(t *testing.T) {
	ts := newTestServer(t)
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1, "fail.mgf": 2})

	resp, _ := ts.do(t, http.MethodPost, "/api/compare", map[string]any{"b": "a.mgf"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/compare", map[string]any{
		"a": "a.mgf", "b": "fail.mgf", "options": map[string]any{"mgfDir": dir},
	})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "exit")
}

func TestSpeciesSession(t *testing.T) {
	ts := newTestServer(t)
	dir := testutil.SampleDir(t, map[string]int{"q.mgf": 1, "a.mgf": 2, "b.mgf": 3})

	resp, body := ts.do(t, http.MethodPost, "/api/species", map[string]any{
		"mgfDir":  dir,
		"mzFile1": "q.mgf",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var started service.SessionSnapshot
	require.NoError(t, json.Unmarshal(body, &started))

	snap := ts.waitDone(t, started.ID)
	assert.Equal(t, service.SessionCompleted, snap.Status)
	assert.Len(t, snap.Species, 2)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats StatsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 2, stats.Slots.Capacity)
	assert.Equal(t, 0, stats.Slots.Active)
	assert.Equal(t, 0, stats.Slots.Waiting)
	assert.Positive(t, stats.System.CPUs)
	assert.GreaterOrEqual(t, stats.Metrics.UptimeSeconds, 0.0)
}

func TestSessionEvents(t *testing.T) {
	ts := newTestServer(t)
	ts.tools.SetCompareDelay(t, "0.2")
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2, "c.mgf": 3})

	resp, body := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"mgfDir": dir})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started service.SessionSnapshot
	require.NoError(t, json.Unmarshal(body, &started))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/sessions/" + started.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(30*time.Second)))

	var first StreamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, SnapshotEvent, first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Equal(t, started.ID, first.Snapshot.ID)

	var last StreamMessage
	for {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), fmt.Sprint(err))
			break
		}
		last = msg
	}
	assert.Equal(t, service.EventFinished, last.Type)
	require.NotNil(t, last.Event)
	assert.Equal(t, service.SessionCompleted, last.Event.Status)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "fine")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok?"+strings.Repeat("x", 300), nil))
	assert.Contains(t, buf.String(), "request completed")
	assert.Contains(t, buf.String(), "status=200")
	assert.Contains(t, buf.String(), "...")

	buf.Reset()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "status=500")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestPrometheusMetrics(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
