package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/524D/compareMS2/internal/compare"
	"github.com/524D/compareMS2/internal/distmatrix"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/models"
	"github.com/524D/compareMS2/internal/upgma"
)

// Stable output names in the sample directory.
const (
	ManifestName   = "cmp_list.txt"
	manifestPrefix = "cmp_list-"
)

// TreeService builds distance matrices row by row and derives UPGMA trees.
type TreeService struct {
	manager   *Manager
	executor  *compare.Executor
	generator *distmatrix.Generator
	metrics   *metrics.Collector
	rng       *rand.Rand
}

// NewTreeService creates a tree service. collector may be nil.
func NewTreeService(manager *Manager, executor *compare.Executor, generator *distmatrix.Generator, collector *metrics.Collector) *TreeService {
	return &TreeService{
		manager:   manager,
		executor:  executor,
		generator: generator,
		metrics:   collector,
	}
}

// WithRand sets the random source used for the random compare order.
func (t *TreeService) WithRand(rng *rand.Rand) *TreeService {
	t.rng = rng
	return t
}

// Start creates a tree session and runs it in the background.
func (t *TreeService) Start(ctx context.Context, opts models.Options) (*Session, error) {
	s, err := t.manager.Create(ctx, KindTree, opts)
	if err != nil {
		return nil, err
	}
	t.launch(s)
	return s, nil
}

// launch runs a registered session in the background. The session outlives
// the request that created it, so it gets its own context.
func (t *TreeService) launch(s *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	t.manager.setRunning(ctx, s, cancel)

	go func() {
		defer cancel()
		defer t.manager.finish(s)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("tree session panicked", "session_id", s.ID, "panic", r)
				t.manager.fail(context.Background(), s, fmt.Errorf("internal panic: %v", r))
			}
		}()

		err := t.run(ctx, s)
		switch {
		case err == nil:
			t.manager.complete(context.Background(), s, "Finished")
		case ctx.Err() != nil:
			t.manager.stopped(s)
		default:
			t.manager.fail(context.Background(), s, err)
		}
	}()
}

// treeRun holds the per-run paths of a tree session.
type treeRun struct {
	dir      string
	samples  []string
	manifest *os.File
	stem     string
}

func (t *TreeService) run(ctx context.Context, s *Session) error {
	opts := s.Options
	r := &treeRun{
		dir:  opts.MgfDir,
		stem: filepath.Join(opts.MgfDir, opts.OutBasename+"-"+s.ID),
	}

	s.setActivity("Scanning samples")
	samples, err := t.orderedSamples(ctx, s)
	if err != nil {
		return err
	}
	r.samples = SampleNames(samples)
	n := len(samples)
	s.setTotal(n * (n - 1) / 2)

	if err := t.executor.Store(r.dir).Ensure(); err != nil {
		return err
	}

	manifestPath := filepath.Join(r.dir, manifestPrefix+s.ID+".txt")
	r.manifest, err = os.Create(manifestPath)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer r.manifest.Close()
	s.mu.Lock()
	s.manifest = manifestPath
	s.mu.Unlock()

	start, err := t.replayCachedRows(ctx, s, r)
	if err != nil {
		return err
	}

	for i := start; i < n; i++ {
		if err := s.waitIfPaused(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.runRow(ctx, s, r, i); err != nil {
			return err
		}
		t.manager.updateProgress(ctx, s, true)
		t.updateTree(ctx, s, r)
	}

	return t.finalize(ctx, s, r, manifestPath)
}

// orderedSamples collects the samples of the session directory and orders
// them, reusing a persisted order when the session is resumed.
func (t *TreeService) orderedSamples(ctx context.Context, s *Session) ([]Sample, error) {
	samples, err := CollectSamples(s.Options.MgfDir)
	if err != nil {
		return nil, err
	}
	if len(samples) < 2 {
		return nil, fmt.Errorf("%w: found %d in %s", ErrTooFewSamples, len(samples), s.Options.MgfDir)
	}

	if prev := s.Snapshot().Samples; len(prev) > 0 {
		if ordered, ok := restoreOrder(samples, prev); ok {
			return ordered, nil
		}
		slog.Warn("sample set changed, ordering again", "session_id", s.ID)
	}

	ordered := OrderSamples(samples, s.Options.CompareOrder, t.rng)
	total := lo.SumBy(ordered, func(x Sample) int64 { return x.Size })
	slog.Info("samples collected",
		"session_id", s.ID,
		"count", len(ordered),
		"total_size", humanize.Bytes(uint64(total)),
		"order", s.Options.CompareOrder)
	t.manager.persistSamples(ctx, s, SampleNames(ordered))
	return ordered, nil
}

func (t *TreeService) pairRequest(s *Session, r *treeRun, i, j int) compare.Request {
	return compare.Request{
		SampleDir: r.dir,
		A:         r.samples[i],
		B:         r.samples[j],
		Options:   s.Options,
		SessionID: s.ID,
		Log:       s.logFunc(),
	}
}

// replayCachedRows finds the leading rows whose comparisons are all cached,
// writes them to the manifest and builds one tree from them. It returns the
// first row that still needs work.
func (t *TreeService) replayCachedRows(ctx context.Context, s *Session, r *treeRun) (int, error) {
	row := 1
	for ; row < len(r.samples); row++ {
		paths := make([]string, 0, row)
		for j := 0; j < row; j++ {
			res, ok := t.executor.Cached(t.pairRequest(s, r, row, j))
			if !ok {
				break
			}
			paths = append(paths, res.Path)
		}
		if len(paths) < row {
			break
		}
		if err := appendManifest(r.manifest, paths); err != nil {
			return 0, err
		}
		s.setRow(row)
		s.advance(row, 0)
	}

	if row > 1 {
		slog.Info("resumed from cache", "session_id", s.ID, "rows", row-1)
		s.setActivity(fmt.Sprintf("Resumed %d cached rows", row-1))
		t.manager.updateProgress(ctx, s, true)
		t.updateTree(ctx, s, r)
	}
	return row, nil
}

// runRow compares sample i with every earlier sample. Each comparison is a
// task; the parallelization manager bounds how many run at once. Failed
// comparisons are logged and left out of the manifest.
func (t *TreeService) runRow(ctx context.Context, s *Session, r *treeRun, i int) error {
	s.setRow(i)
	s.setActivity(fmt.Sprintf("Comparing %s with %d samples", r.samples[i], i))

	paths := make([]string, i)
	var g errgroup.Group
	for j := 0; j < i; j++ {
		g.Go(func() error {
			res, err := t.executor.Compare(ctx, t.pairRequest(s, r, i, j))
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("comparison failed", "session_id", s.ID, "a", r.samples[i], "b", r.samples[j], "error", err)
					s.logError(fmt.Sprintf("Error comparing %s and %s: %v", r.samples[i], r.samples[j], err))
				}
				s.advance(0, 1)
				return nil
			}
			paths[j] = res.Path
			s.advance(1, 0)
			t.manager.updateProgress(ctx, s, false)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	return appendManifest(r.manifest, lo.Compact(paths))
}

func appendManifest(f *os.File, paths []string) error {
	w := bufio.NewWriter(f)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if _, err := w.WriteString(abs + "\n"); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// updateTree regenerates the distance matrix from the manifest and rebuilds
// the tree. Failures are logged and leave the previous tree in place.
func (t *TreeService) updateTree(ctx context.Context, s *Session, r *treeRun) {
	s.setActivity("Creating tree")
	start := time.Now()
	out, err := t.generator.Generate(ctx, distmatrix.Request{
		Manifest:   r.manifest.Name(),
		OutputStem: r.stem,
		Cutoff:     s.Options.Cutoff,
		S2SFile:    s.Options.S2SFile,
		SampleDir:  s.Options.MgfDir,
		Format:     distmatrix.FormatMega,
		Log:        s.logFunc(),
	})
	if err != nil {
		t.metrics.RecordFailure(metrics.OpDistance)
		if ctx.Err() == nil {
			slog.Warn("distance matrix generation failed", "session_id", s.ID, "error", err)
			s.logError("Error running compareMS2_to_distance_matrices: " + err.Error())
		}
		return
	}
	t.metrics.RecordTiming(metrics.OpDistance, time.Since(start))

	s.setActivity("Computing tree")
	start = time.Now()
	m, err := distmatrix.ParseFile(out)
	if err != nil {
		slog.Warn("distance matrix unreadable", "session_id", s.ID, "error", err)
		s.logError("Error reading distance matrix: " + err.Error())
		return
	}

	newick := upgma.Build(m.Table, m.Labels)
	if newick == "" {
		t.metrics.RecordFailure(metrics.OpTree)
		slog.Debug("no tree from distance matrix", "session_id", s.ID, "labels", len(m.Labels), "rows", len(m.Table))
		return
	}
	t.metrics.RecordTiming(metrics.OpTree, time.Since(start))

	qmin, qmax := m.Quality.Range()
	update := TreeUpdate{
		Newick:   newick,
		Topology: upgma.StripBranchLengths(newick),
		Labels:   m.Labels,
		Quality:  m.Quality.Scores,
		QualMin:  qmin,
		QualMax:  qmax,
		QualMean: m.Quality.Mean(),
	}
	s.setTree(update)

	// A single leaf is not worth showing.
	if strings.Contains(newick, ",") {
		s.publish(Event{Type: EventTree, Tree: &update})
	}
}

// finalize moves the session files to their stable names and writes the
// optional outputs.
func (t *TreeService) finalize(ctx context.Context, s *Session, r *treeRun, manifestPath string) error {
	s.setActivity("Writing results")
	base := filepath.Join(r.dir, s.Options.OutBasename)

	if err := r.manifest.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}

	megaTmp := r.stem + distmatrix.MegaSuffix
	if err := os.Rename(megaTmp, base+distmatrix.MegaSuffix); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to rename distance matrix", "session_id", s.ID, "error", err)
		s.logError("Error renaming distance matrix: " + err.Error())
	}

	listPath := filepath.Join(r.dir, ManifestName)
	if err := os.Rename(manifestPath, listPath); err != nil {
		slog.Warn("failed to rename manifest", "session_id", s.ID, "error", err)
		s.logError("Error renaming comparison list: " + err.Error())
		listPath = manifestPath
	} else {
		s.mu.Lock()
		s.manifest = listPath
		s.mu.Unlock()
	}

	if s.Options.OutNewick {
		newick := s.Snapshot().Newick
		if newick != "" {
			if err := os.WriteFile(base+".nwk", []byte(newick+";"), 0o644); err != nil {
				return fmt.Errorf("write newick: %w", err)
			}
		}
	}

	if s.Options.OutNexus {
		s.setActivity("Creating Nexus output")
		if _, err := t.generator.Generate(ctx, distmatrix.Request{
			Manifest:   listPath,
			OutputStem: base,
			Cutoff:     s.Options.Cutoff,
			S2SFile:    s.Options.S2SFile,
			SampleDir:  s.Options.MgfDir,
			Format:     distmatrix.FormatNexus,
			Log:        s.logFunc(),
		}); err != nil {
			slog.Warn("nexus generation failed", "session_id", s.ID, "error", err)
			s.logError("Error creating Nexus output: " + err.Error())
		}
	}
	return nil
}
