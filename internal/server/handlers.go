package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/524D/compareMS2/internal/compare"
	"github.com/524D/compareMS2/internal/config"
	"github.com/524D/compareMS2/internal/heatmap"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/models"
	"github.com/524D/compareMS2/internal/service"
)

// maxBodySize limits request bodies.
const maxBodySize = 1 << 20

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSampleNotFound),
		errors.Is(err, service.ErrTooFewSamples),
		errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var errInvalidRequest = errors.New("invalid request")

// readOptions decodes session options from the request body over the defaults.
func readOptions(r *http.Request) (models.Options, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return models.Options{}, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	opts, err := config.ParseOptions(body)
	if err != nil {
		return models.Options{}, fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	if opts.MgfDir == "" {
		return models.Options{}, fmt.Errorf("%w: mgfDir is required", errInvalidRequest)
	}
	return opts, nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

// SlotStats reports the parallelization manager state.
type SlotStats struct {
	Capacity int `json:"capacity"`
	Active   int `json:"active"`
	Waiting  int `json:"waiting"`
}

// SystemStats reports host resources.
type SystemStats struct {
	CPUs        int     `json:"cpus"`
	MemTotal    uint64  `json:"mem_total"`
	MemUsedPct  float64 `json:"mem_used_pct"`
	Goroutines  int     `json:"goroutines"`
	SessionsRun int     `json:"sessions_running"`
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Metrics metrics.Snapshot `json:"metrics"`
	Slots   SlotStats        `json:"slots"`
	System  SystemStats      `json:"system"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{}
	if s.deps.Metrics != nil {
		resp.Metrics = s.deps.Metrics.Snapshot()
	}
	if s.deps.Slots != nil {
		resp.Slots = SlotStats{
			Capacity: s.deps.Slots.Capacity(),
			Active:   s.deps.Slots.Active(),
			Waiting:  s.deps.Slots.Waiting(),
		}
	}

	resp.System.CPUs = runtime.NumCPU()
	resp.System.Goroutines = runtime.NumGoroutine()
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		resp.System.MemTotal = vm.Total
		resp.System.MemUsedPct = vm.UsedPercent
	} else {
		slog.Debug("memory stats unavailable", "error", err)
	}
	resp.System.SessionsRun = lo.CountBy(s.deps.Manager.List(), func(sess *service.Session) bool {
		return sess.Snapshot().Status == service.SessionRunning
	})

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	snaps := lo.Map(s.deps.Manager.List(), func(sess *service.Session, _ int) service.SessionSnapshot {
		return sess.Snapshot()
	})
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) startTree(w http.ResponseWriter, r *http.Request) {
	opts, err := readOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.deps.Trees.Start(r.Context(), opts)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) startSpecies(w http.ResponseWriter, r *http.Request) {
	opts, err := readOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.deps.Species.Start(r.Context(), opts)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

// session looks up the session named in the URL, writing 404 when missing.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	sess, err := s.deps.Manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return nil, false
	}
	return sess, true
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func (s *Server) pauseSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		sess.Pause()
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func (s *Server) resumeSession(w http.ResponseWriter, r *http.Request) {
	if sess, ok := s.session(w, r); ok {
		sess.Resume()
		writeJSON(w, http.StatusOK, sess.Snapshot())
	}
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Stop()
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := sess.Wait(ctx); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) removeSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := s.deps.Manager.Remove(ctx, chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompareRequest is the body of POST /api/compare. An empty B compares A
// with itself.
type CompareRequest struct {
	A       string          `json:"a"`
	B       string          `json:"b,omitempty"`
	JSON    bool            `json:"json"`
	Heatmap bool            `json:"heatmap,omitempty"`
	Options json.RawMessage `json:"options"`
}

// CompareResponse is the body of a successful POST /api/compare.
type CompareResponse struct {
	Fingerprint string         `json:"fingerprint"`
	Path        string         `json:"path"`
	JSONPath    string         `json:"json_path,omitempty"`
	HeatmapPath string         `json:"heatmap_path,omitempty"`
	CacheHit    bool           `json:"cache_hit"`
	DurationMs  int64          `json:"duration_ms"`
	Distance    *float64       `json:"distance,omitempty"`
	Heatmap     *heatmap.Chart `json:"heatmap,omitempty"`
}

func (s *Server) comparePair(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", errInvalidRequest, err))
		return
	}
	if req.A == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: a is required", errInvalidRequest))
		return
	}
	opts, err := config.ParseOptions(req.Options)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", errInvalidRequest, err))
		return
	}
	dir := opts.MgfDir
	if dir == "" {
		dir = filepath.Dir(req.A)
	}

	res, err := s.deps.Executor.Compare(r.Context(), compare.Request{
		SampleDir: dir,
		A:         req.A,
		B:         req.B,
		Options:   opts,
		SessionID: "api",
		JSON:      req.JSON,
		Heatmap:   req.Heatmap,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := CompareResponse{
		Fingerprint: res.Fingerprint,
		Path:        res.Path,
		JSONPath:    res.JSONPath,
		HeatmapPath: res.HeatmapPath,
		CacheHit:    res.CacheHit,
		DurationMs:  res.Duration.Milliseconds(),
	}
	if res.JSONPath != "" {
		jr, err := compare.ReadJSONResult(res.JSONPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp.Distance = &jr.SetDistance
	}
	if req.Heatmap {
		chart, err := heatmap.ConvertFile(res.HeatmapPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		chart.Title = heatmap.Title(req.A, req.B)
		chart.YAxisLabel = heatmap.YAxisLabel(opts.SpecMetric)
		resp.Heatmap = chart
	}
	writeJSON(w, http.StatusOK, resp)
}
