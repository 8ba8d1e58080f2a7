package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/server"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show runtime statistics",
	Long: `Show the runtime statistics of the compms2-server: comparison timings,
cache hits, slot usage and host resources.

Examples:
  compms2 stats
  compms2 stats --server http://lab-host:8484`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stats, err := getClient().Stats(ctx)
	if err != nil {
		return fmt.Errorf("get server stats: %w", err)
	}
	printServerStats(os.Stdout, stats)
	return nil
}

// printServerStats displays server runtime statistics.
func printServerStats(w io.Writer, stats *server.StatsResponse) {
	fmt.Fprintf(w, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %s\n", (time.Duration(stats.Metrics.UptimeSeconds) * time.Second).String())

	fmt.Fprintf(w, "\nSlots: %d active, %d waiting, %d total\n", stats.Slots.Active, stats.Slots.Waiting, stats.Slots.Capacity)
	fmt.Fprintf(w, "Host: %d CPUs, %s memory (%.1f%% used), %d sessions running\n",
		stats.System.CPUs, humanize.Bytes(stats.System.MemTotal), stats.System.MemUsedPct, stats.System.SessionsRun)

	ops := []struct {
		name string
		op   *metrics.OperationSnapshot
	}{
		{"Comparisons", stats.Metrics.Compare},
		{"Cache hits", stats.Metrics.CacheHit},
		{"Distance matrices", stats.Metrics.Distance},
		{"Trees", stats.Metrics.Tree},
		{"Species runs", stats.Metrics.Species},
	}
	for _, o := range ops {
		if o.op == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", o.name)
		printOpStats(w, o.op)
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Failures: %d, Total: %dms\n", op.Count, op.Failures, op.TotalTimeMs)
	if op.Count > 0 {
		fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
			op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	}
}
