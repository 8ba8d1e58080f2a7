package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/524D/compareMS2/internal/compare"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/models"
)

// SpeciesDistance is the mean distance from a query sample to the samples of
// one species.
type SpeciesDistance struct {
	Species    string  `json:"species"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
	Samples    int     `json:"samples"`
}

// Similarity converts a set distance to a similarity in (0, 1], rounded to
// four decimals.
func Similarity(distance float64) float64 {
	return math.Round(1/(1+distance)*10000) / 10000
}

// ReadSample2Species reads a tab-separated sample-to-species file. Lines
// without exactly two fields are ignored. A species name that is not itself
// a sample file is removed as a key. Samples missing from the file map to
// their own name. A missing file yields the identity mapping.
func ReadSample2Species(path string, samples []string) (map[string]string, error) {
	mapping := make(map[string]string)
	species := make(map[string]struct{})

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("open sample-to-species file: %w", err)
		default:
			defer f.Close()
			sc := bufio.NewScanner(f)
			for sc.Scan() {
				line := sc.Text()
				if strings.TrimSpace(line) == "" {
					continue
				}
				parts := strings.Split(line, "\t")
				if len(parts) != 2 {
					continue
				}
				sample, sp := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
				mapping[sample] = sp
				species[sp] = struct{}{}
			}
			if err := sc.Err(); err != nil {
				return nil, fmt.Errorf("read sample-to-species file: %w", err)
			}
		}
	}

	bases := lo.Map(samples, func(s string, _ int) string { return filepath.Base(s) })
	for _, b := range bases {
		delete(species, b)
	}
	for sp := range species {
		delete(mapping, sp)
	}
	for _, b := range bases {
		if _, ok := mapping[b]; !ok {
			mapping[b] = b
		}
	}
	return mapping, nil
}

// SpeciesDistances averages the distances from query to every compared
// sample per species, nearest species first. Results that do not involve the
// query or whose other sample is unmapped are skipped.
func SpeciesDistances(query string, results []compare.JSONResult, s2s map[string]string) []SpeciesDistance {
	query = filepath.Base(query)
	sums := make(map[string]float64)
	counts := make(map[string]int)

	for _, r := range results {
		a, b := filepath.Base(r.DatasetA), filepath.Base(r.DatasetB)
		var other string
		switch query {
		case a:
			other = b
		case b:
			other = a
		default:
			slog.Warn("comparison does not involve query sample", "query", query, "a", a, "b", b)
			continue
		}
		sp, ok := s2s[other]
		if !ok {
			slog.Warn("sample missing from species map", "sample", other)
			continue
		}
		sums[sp] += r.SetDistance
		counts[sp]++
	}

	out := make([]SpeciesDistance, 0, len(sums))
	for sp, sum := range sums {
		d := sum / float64(counts[sp])
		out = append(out, SpeciesDistance{
			Species:    sp,
			Distance:   d,
			Similarity: Similarity(d),
			Samples:    counts[sp],
		})
	}
	slices.SortFunc(out, func(x, y SpeciesDistance) int {
		if c := cmpFloat(x.Distance, y.Distance); c != 0 {
			return c
		}
		return strings.Compare(x.Species, y.Species)
	})
	return out
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SpeciesService compares one query sample with every other sample of its
// directory and ranks species by mean distance.
type SpeciesService struct {
	manager  *Manager
	executor *compare.Executor
	metrics  *metrics.Collector
}

// NewSpeciesService creates a species service. collector may be nil.
func NewSpeciesService(manager *Manager, executor *compare.Executor, collector *metrics.Collector) *SpeciesService {
	return &SpeciesService{manager: manager, executor: executor, metrics: collector}
}

// Start creates a species session for opts.MzFile1 and runs it in the background.
func (sv *SpeciesService) Start(ctx context.Context, opts models.Options) (*Session, error) {
	if opts.MzFile1 == "" {
		return nil, fmt.Errorf("%w: no query sample given", ErrSampleNotFound)
	}
	s, err := sv.manager.Create(ctx, KindSpecies, opts)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sv.manager.setRunning(ctx, s, cancel)

	go func() {
		defer cancel()
		defer sv.manager.finish(s)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("species session panicked", "session_id", s.ID, "panic", r)
				sv.manager.fail(context.Background(), s, fmt.Errorf("internal panic: %v", r))
			}
		}()

		start := time.Now()
		errs, err := sv.run(runCtx, s)
		if err == nil {
			sv.metrics.RecordTiming(metrics.OpSpecies, time.Since(start))
		} else {
			sv.metrics.RecordFailure(metrics.OpSpecies)
		}
		switch {
		case err == nil && errs > 0:
			sv.manager.complete(context.Background(), s,
				fmt.Sprintf("Species comparison completed with %d errors. Check the log for details.", errs))
		case err == nil:
			sv.manager.complete(context.Background(), s, "Species comparison completed successfully.")
		case runCtx.Err() != nil:
			sv.manager.stopped(s)
		default:
			sv.manager.fail(context.Background(), s, err)
		}
	}()
	return s, nil
}

func (sv *SpeciesService) run(ctx context.Context, s *Session) (int, error) {
	opts := s.Options
	query := filepath.Base(opts.MzFile1)

	samples, err := CollectSamples(opts.MgfDir)
	if err != nil {
		return 0, err
	}
	names := SampleNames(samples)
	if !slices.Contains(names, query) {
		return 0, fmt.Errorf("%w: %s in %s", ErrSampleNotFound, query, opts.MgfDir)
	}
	others := lo.Without(names, query)
	if len(others) == 0 {
		return 0, fmt.Errorf("%w: nothing to compare %s with", ErrTooFewSamples, query)
	}
	s.setSamples(names)
	s.setTotal(len(others))

	s2sFile := opts.S2SFile
	if s2sFile != "" && !filepath.IsAbs(s2sFile) {
		s2sFile = filepath.Join(opts.MgfDir, s2sFile)
	}
	s2s, err := ReadSample2Species(s2sFile, names)
	if err != nil {
		return 0, err
	}
	if err := sv.executor.Store(opts.MgfDir).Ensure(); err != nil {
		return 0, err
	}

	var (
		mu      sync.Mutex
		results []compare.JSONResult
		errs    int
	)
	fail := func(other string, err error) {
		if ctx.Err() == nil {
			slog.Warn("comparison failed", "session_id", s.ID, "query", query, "sample", other, "error", err)
			s.logError(fmt.Sprintf("Error comparing %s and %s: %v", query, other, err))
		}
		mu.Lock()
		errs++
		mu.Unlock()
		s.advance(0, 1)
	}

	s.setActivity(fmt.Sprintf("Comparing %s with %d samples", query, len(others)))
	var g errgroup.Group
	for _, other := range others {
		g.Go(func() error {
			res, err := sv.executor.Compare(ctx, compare.Request{
				SampleDir: opts.MgfDir,
				A:         query,
				B:         other,
				Options:   opts,
				SessionID: s.ID,
				JSON:      true,
				Log:       s.logFunc(),
			})
			if err != nil {
				fail(other, err)
				return nil
			}
			jr, err := compare.ReadJSONResult(res.JSONPath)
			if err != nil {
				fail(other, err)
				return nil
			}

			mu.Lock()
			results = append(results, jr)
			s.setSpecies(SpeciesDistances(query, results, s2s))
			mu.Unlock()

			s.advance(1, 0)
			sv.manager.updateProgress(ctx, s, false)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return errs, err
	}
	return errs, nil
}
