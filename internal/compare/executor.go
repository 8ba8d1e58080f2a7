// Package compare runs compareMS2 for one pair of samples, using the result
// cache to skip pairs that were compared before with the same parameters.
package compare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/524D/compareMS2/internal/cache"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/models"
	"github.com/524D/compareMS2/internal/parallel"
	"github.com/524D/compareMS2/internal/runner"
)

// Errors returned by Compare. Use errors.Is to classify.
var (
	ErrSpawn       = runner.ErrSpawn
	ErrNonZeroExit = runner.ErrNonZeroExit
	ErrSignaled    = runner.ErrSignaled
	ErrPromotion   = cache.ErrPromotion
	// ErrNoOutput is returned when compareMS2 exits successfully but did not
	// write the requested output.
	ErrNoOutput = errors.New("compareMS2 output not created")
)

// Request describes one pairwise comparison.
type Request struct {
	// SampleDir is the working directory of compareMS2 and holds the cache directory.
	SampleDir string
	// A and B name the samples, relative to SampleDir or absolute.
	A, B      string
	Options   models.Options
	SessionID string
	// JSON additionally requests the JSON result (-J).
	JSON bool
	// Heatmap requests the heatmap matrix (-x 1, -X) and the JSON result.
	// It is cached under its own key; an empty B compares A with itself.
	Heatmap bool
	Log     runner.LogFunc
}

// pair returns the canonical sample pair of the request.
func (r Request) pair() (string, string) {
	b := r.B
	if b == "" {
		b = r.A
	}
	return Canonical(r.A, b)
}

// paramArgs returns the fingerprinted argument vector of the request.
func (r Request) paramArgs() []any {
	a, b := r.pair()
	if !r.Heatmap {
		return r.Options.ParamArgs(a, b)
	}
	opts := r.Options
	opts.ExperimentalFeatures = ""
	// The desktop application sets the heatmap flag as a number.
	return append(opts.ParamArgs(a, b), "-x", 1.0)
}

// Result describes a completed comparison.
type Result struct {
	Fingerprint string
	Path        string
	JSONPath    string
	HeatmapPath string
	CacheHit    bool
	Duration    time.Duration
}

// Executor runs comparisons under a shared parallelization manager.
type Executor struct {
	exe     string
	slots   *parallel.Manager
	metrics *metrics.Collector

	mu     sync.Mutex
	stores map[string]*cache.Store
}

// NewExecutor creates an executor for the compareMS2 binary at exe.
// collector may be nil.
func NewExecutor(exe string, slots *parallel.Manager, collector *metrics.Collector) *Executor {
	return &Executor{
		exe:     exe,
		slots:   slots,
		metrics: collector,
		stores:  make(map[string]*cache.Store),
	}
}

// Store returns the cache store of a sample directory, shared by all callers.
func (e *Executor) Store(sampleDir string) *cache.Store {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.stores[sampleDir]
	if !ok {
		s = cache.ForSampleDir(sampleDir)
		e.stores[sampleDir] = s
	}
	return s
}

// Canonical orders a pair lexicographically. compareMS2 is symmetric, so both
// orders of a pair share one cache entry.
func Canonical(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Fingerprint returns the cache key of a pair under opts.
func Fingerprint(a, b string, opts models.Options) string {
	a, b = Canonical(a, b)
	return cache.Fingerprint(opts.ParamArgs(a, b))
}

// Cached reports whether the result for a pair exists, and its path.
func (e *Executor) Cached(req Request) (Result, bool) {
	fp := cache.Fingerprint(req.paramArgs())
	store := e.Store(req.SampleDir)

	res := Result{Fingerprint: fp, Path: store.ResultPath(fp)}
	switch {
	case req.Heatmap:
		res.JSONPath = store.JSONPath(fp)
		res.HeatmapPath = store.HeatmapPath(fp)
		return res, store.Exists(res.HeatmapPath)
	case req.JSON:
		res.JSONPath = store.JSONPath(fp)
		return res, store.Exists(res.JSONPath)
	}
	return res, store.Exists(res.Path)
}

// Compare returns the cached result for the pair or runs compareMS2 to create it.
func (e *Executor) Compare(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	res, hit := e.Cached(req)
	if hit {
		res.CacheHit = true
		res.Duration = time.Since(start)
		e.metrics.RecordTiming(metrics.OpCacheHit, res.Duration)
		return res, nil
	}

	store := e.Store(req.SampleDir)
	if err := store.Ensure(); err != nil {
		return res, err
	}

	err := e.slots.RunExclusive(ctx, func(ctx context.Context) error {
		return e.run(ctx, store, req, res)
	})
	res.Duration = time.Since(start)
	if err != nil {
		e.metrics.RecordFailure(metrics.OpCompare)
		return res, fmt.Errorf("compare %s %s: %w", req.A, req.B, err)
	}

	e.metrics.RecordTiming(metrics.OpCompare, res.Duration)
	return res, nil
}

// output is one compareMS2 output file and its final cache name.
type output struct {
	tmp, final string
}

func (e *Executor) run(ctx context.Context, store *cache.Store, req Request, res Result) error {
	tmp := store.TempPath(res.Fingerprint, req.SessionID)

	// The text result comes first and the entry checked for a cache hit
	// comes last, so a hit implies every other output exists.
	outs := []output{{tmp, res.Path}}
	args := models.ArgStrings(req.paramArgs())
	args = append(args, "-o", tmp)
	if res.JSONPath != "" {
		outs = append(outs, output{tmp + ".json", res.JSONPath})
		args = append(args, "-J", tmp+".json")
	}
	if res.HeatmapPath != "" {
		tmpX := strings.TrimSuffix(tmp, ".tmp") + "-x.tmp"
		outs = append(outs, output{tmpX, res.HeatmapPath})
		args = append(args, "-X", tmpX)
	}
	discard := func(outs []output) {
		for _, o := range outs {
			store.Discard(o.tmp)
		}
	}
	slog.Debug("running compareMS2", "exe", e.exe, "args", args, "dir", req.SampleDir)

	if err := runner.Run(ctx, runner.Command{
		Path: e.exe,
		Args: args,
		Dir:  req.SampleDir,
		Log:  req.Log,
	}); err != nil {
		discard(outs)
		return err
	}

	for _, o := range outs[1:] {
		if _, err := os.Stat(o.tmp); err != nil {
			discard(outs)
			return fmt.Errorf("%w: %s", ErrNoOutput, filepath.Base(o.tmp))
		}
	}

	for i, o := range outs {
		if err := store.Promote(o.tmp, o.final); err != nil {
			discard(outs[i:])
			return err
		}
	}
	return nil
}

// JSONResult is the JSON document written by compareMS2 -J.
type JSONResult struct {
	DatasetA    string  `json:"datasetA"`
	DatasetB    string  `json:"datasetB"`
	SetDistance float64 `json:"setDistance"`
}

// ReadJSONResult reads a JSON result file.
func ReadJSONResult(path string) (JSONResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return JSONResult{}, fmt.Errorf("read compare result: %w", err)
	}
	var r JSONResult
	if err := json.Unmarshal(data, &r); err != nil {
		return JSONResult{}, fmt.Errorf("parse compare result %s: %w", filepath.Base(path), err)
	}
	return r, nil
}
