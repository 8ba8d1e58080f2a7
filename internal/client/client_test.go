package client

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/524D/compareMS2/internal/compare"
	"github.com/524D/compareMS2/internal/distmatrix"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/models"
	"github.com/524D/compareMS2/internal/parallel"
	"github.com/524D/compareMS2/internal/server"
	"github.com/524D/compareMS2/internal/service"
	"github.com/524D/compareMS2/internal/testutil"
)

func newTestClient(t *testing.T) (*Client, testutil.Tools) {
	t.Helper()
	tools := testutil.FakeTools(t)
	collector := metrics.NewCollector()
	slots := parallel.NewManager(2)
	mgr := service.NewManager(nil)
	ex := compare.NewExecutor(tools.CompareExe, slots, collector)

	srv := server.New(server.Deps{
		Manager:  mgr,
		Trees:    service.NewTreeService(mgr, ex, distmatrix.NewGenerator(tools.DistanceExe), collector),
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
	return New(ts.URL+"/", 10*time.Second), tools
}

func TestNew_Defaults(t *testing.T) {
	t.Setenv("COMPMS2_SERVER_URL", "")
	t.Setenv("COMPMS2_CLIENT_TIMEOUT", "")
	c := New("", 0)
	assert.Equal(t, "http://localhost:8484", c.endpoint)
	assert.Equal(t, 30*time.Second, c.httpClient.Timeout)

	t.Setenv("COMPMS2_SERVER_URL", "http://example:9000/")
	t.Setenv("COMPMS2_CLIENT_TIMEOUT", "1m")
	c = New("", 0)
	assert.Equal(t, "http://example:9000", c.endpoint)
	assert.Equal(t, time.Minute, c.httpClient.Timeout)
}

func TestClient_TreeSessionAndWatch(t *testing.T) {
	c, tools := newTestClient(t)
	tools.SetCompareDelay(t, "0.2")
	ctx := context.Background()
	require.NoError(t, c.Health(ctx))

	opts := models.DefaultOptions()
	opts.MgfDir = testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2, "c.mgf": 3})

	started, err := c.StartTree(ctx, opts)
	require.NoError(t, err)

	var types []service.EventType
	err = c.Watch(ctx, started.ID, func(msg server.StreamMessage) error {
		types = append(types, msg.Type)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, types)
	assert.Equal(t, server.SnapshotEvent, types[0])
	assert.Equal(t, service.EventFinished, types[len(types)-1])

	snap, err := c.GetSession(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, service.SessionCompleted, snap.Status)

	list, err := c.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats.Metrics.Compare)
	assert.Equal(t, int64(3), stats.Metrics.Compare.Count)

	require.NoError(t, c.RemoveSession(ctx, started.ID))
	_, err = c.GetSession(ctx, started.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClient_PauseResumeStop(t *testing.T) {
	c, tools := newTestClient(t)
	tools.SetCompareDelay(t, "0.5")
	ctx := context.Background()

	opts := models.DefaultOptions()
	opts.MgfDir = testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2, "c.mgf": 3, "d.mgf": 4})
	started, err := c.StartTree(ctx, opts)
	require.NoError(t, err)

	snap, err := c.PauseSession(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, service.SessionPaused, snap.Status)

	snap, err = c.ResumeSession(ctx, started.ID)
	require.NoError(t, err)
	assert.Equal(t, service.SessionRunning, snap.Status)

	snap, err = c.StopSession(ctx, started.ID)
	require.NoError(t, err)
	assert.True(t, snap.Done())
}

func TestClient_Compare(t *testing.T) {
	c, _ := newTestClient(t)
	dir := testutil.SampleDir(t, map[string]int{"a.mgf": 1, "b.mgf": 2})

	res, err := c.Compare(context.Background(), server.CompareRequest{
		A:       "a.mgf",
		B:       "b.mgf",
		JSON:    true,
		Options: []byte(`{"mgfDir":"` + dir + `"}`),
	})
	require.NoError(t, err)
	assert.Len(t, res.Fingerprint, 24)
	require.NotNil(t, res.Distance)
}

func TestClient_Errors(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = c.Watch(ctx, "missing", func(server.StreamMessage) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.StartTree(ctx, models.Options{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "mgfDir")
}
