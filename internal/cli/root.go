// Package cli provides the command-line interface for compms2.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/524D/compareMS2/internal/client"
	"github.com/524D/compareMS2/internal/compare"
	"github.com/524D/compareMS2/internal/config"
	"github.com/524D/compareMS2/internal/distmatrix"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/parallel"
	"github.com/524D/compareMS2/internal/service"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config, set before every command runs
	cfg        config.Config
	logCleanup func() error

	// Lazy-initialized server client and local engine
	apiClient *client.Client
	local     *engine
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "compms2",
	Short: "Compare MS/MS datasets and build sample trees",
	Long: `compms2 compares tandem mass spectrometry datasets pairwise with compareMS2
and builds UPGMA trees from the resulting distance matrix.

Comparisons run locally by default. Commands that manage sessions talk to a
compms2-server, and --remote starts tree and species runs on the server.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, cleanup := config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		logCleanup = cleanup
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// getClient returns the server client, creating it on first use.
func getClient() *client.Client {
	if apiClient == nil {
		apiClient = client.New(cfg.ServerURL, cfg.ClientTimeout)
	}
	return apiClient
}

// engine holds the services used for runs in this process.
type engine struct {
	manager  *service.Manager
	executor *compare.Executor
	trees    *service.TreeService
	species  *service.SpeciesService
	metrics  *metrics.Collector
}

// getEngine wires the local services, creating them on first use.
func getEngine() *engine {
	if local != nil {
		return local
	}
	parallel.Init(cfg.MaxParallel)
	collector := metrics.NewCollector()
	manager := service.NewManager(nil)
	executor := compare.NewExecutor(cfg.CompareExe, parallel.Default(), collector)
	local = &engine{
		manager:  manager,
		executor: executor,
		trees:    service.NewTreeService(manager, executor, distmatrix.NewGenerator(cfg.DistanceExe), collector),
		species:  service.NewSpeciesService(manager, executor, collector),
		metrics:  collector,
	}
	return local
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "compms2-server URL (default $COMPMS2_SERVER_URL)")
}

