package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/524D/compareMS2/internal/compare"
	"github.com/524D/compareMS2/internal/heatmap"
	"github.com/524D/compareMS2/internal/runner"
	"github.com/524D/compareMS2/internal/server"
)

var (
	compareFlags   optionFlags
	compareJSON    bool
	compareHeatmap bool
	compareRemote  bool
)

var compareCmd = &cobra.Command{
	Use:   "compare <a.mgf> [b.mgf]",
	Short: "Compare one pair of samples",
	Long: `Run compareMS2 for one pair of samples, or return the cached result when
the pair was compared before with the same options. Both samples must be in
the same directory. With one sample, it is compared with itself.

Examples:
  compms2 compare ./samples/a.mgf ./samples/b.mgf
  compms2 compare a.mgf b.mgf --options settings.json --json
  compms2 compare ./samples/a.mgf --heatmap`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCompare,
}

func init() {
	compareFlags.register(compareCmd, false)
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "also write the JSON result and print the set distance")
	compareCmd.Flags().BoolVar(&compareHeatmap, "heatmap", false, "also write the heatmap matrix and print a summary")
	compareCmd.Flags().BoolVar(&compareRemote, "remote", false, "run on the compms2-server")
	rootCmd.AddCommand(compareCmd)
}

// sampleDir returns the directory shared by the sample arguments.
func sampleDir(args []string) (string, error) {
	dir := filepath.Dir(args[0])
	for _, arg := range args[1:] {
		other := filepath.Dir(arg)
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return "", err
		}
		absOther, err := filepath.Abs(other)
		if err != nil {
			return "", err
		}
		if absDir != absOther {
			return "", fmt.Errorf("samples must be in the same directory: %s and %s", dir, other)
		}
	}
	return dir, nil
}

// compareOutput is what the compare command prints.
type compareOutput struct {
	Fingerprint string
	Path        string
	HeatmapPath string
	CacheHit    bool
	Duration    time.Duration
	Distance    *float64
	Chart       *heatmap.Chart
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	dir, err := sampleDir(args)
	if err != nil {
		return err
	}
	if dir == "." && compareFlags.file != "" {
		dir = ""
	}
	opts, err := compareFlags.resolve(cmd, dir)
	if err != nil {
		return err
	}
	a, b := filepath.Base(args[0]), ""
	if len(args) == 2 {
		b = filepath.Base(args[1])
	}

	if compareRemote {
		raw, err := json.Marshal(opts)
		if err != nil {
			return fmt.Errorf("encode options: %w", err)
		}
		resp, err := getClient().Compare(ctx, server.CompareRequest{
			A: a, B: b, JSON: compareJSON, Heatmap: compareHeatmap, Options: raw,
		})
		if err != nil {
			return fmt.Errorf("compare: %w", err)
		}
		printCompare(cmd.OutOrStdout(), compareOutput{
			Fingerprint: resp.Fingerprint,
			Path:        resp.Path,
			HeatmapPath: resp.HeatmapPath,
			CacheHit:    resp.CacheHit,
			Duration:    time.Duration(resp.DurationMs) * time.Millisecond,
			Distance:    resp.Distance,
			Chart:       resp.Heatmap,
		})
		return nil
	}

	toolOut := cmd.ErrOrStderr()
	res, err := getEngine().executor.Compare(ctx, compare.Request{
		SampleDir: opts.MgfDir,
		A:         a,
		B:         b,
		Options:   opts,
		SessionID: "cli",
		JSON:      compareJSON,
		Heatmap:   compareHeatmap,
		Log: func(_ runner.Stream, line string) {
			fmt.Fprintln(toolOut, line)
		},
	})
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}

	out := compareOutput{
		Fingerprint: res.Fingerprint,
		Path:        res.Path,
		HeatmapPath: res.HeatmapPath,
		CacheHit:    res.CacheHit,
		Duration:    res.Duration,
	}
	if res.JSONPath != "" {
		jr, err := compare.ReadJSONResult(res.JSONPath)
		if err != nil {
			return err
		}
		out.Distance = &jr.SetDistance
	}
	if compareHeatmap {
		if out.Chart, err = heatmap.ConvertFile(res.HeatmapPath); err != nil {
			return err
		}
		out.Chart.Title = heatmap.Title(a, b)
		out.Chart.YAxisLabel = heatmap.YAxisLabel(opts.SpecMetric)
	}
	printCompare(cmd.OutOrStdout(), out)
	return nil
}

func printCompare(w io.Writer, out compareOutput) {
	fmt.Fprintf(w, "Fingerprint: %s\n", out.Fingerprint)
	fmt.Fprintf(w, "Result: %s\n", out.Path)
	if out.CacheHit {
		fmt.Fprintln(w, "Cache: hit")
	} else {
		fmt.Fprintf(w, "Cache: miss (compared in %s)\n", out.Duration.Round(time.Millisecond))
	}
	if out.Distance != nil {
		fmt.Fprintf(w, "Set distance: %.4f\n", *out.Distance)
	}
	if out.Chart != nil {
		fmt.Fprintf(w, "Heatmap: %s\n", out.HeatmapPath)
		fmt.Fprintf(w, "  %s, %s\n", out.Chart.Title, out.Chart.YAxisLabel)
		fmt.Fprintf(w, "  %d rows x %d columns, first row at %.2f, max log count %.3f\n",
			out.Chart.Rows, out.Chart.Columns, out.Chart.RealYMin, out.Chart.MaxValue)
	}
}
