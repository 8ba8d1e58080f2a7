package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

var speciesFlags optionFlags

var speciesCmd = &cobra.Command{
	Use:   "species <query.mgf>",
	Short: "Rank species by distance to a query sample",
	Long: `Compare a query sample against every other sample in its directory and
average the distances per species. Samples map to species through the
sample-to-species file; samples missing from it are their own species.

Examples:
  compms2 species ./samples/unknown.mgf --s2s ./samples/species.txt
  compms2 species unknown.mgf --options settings.json`,
	Args: cobra.ExactArgs(1),
	RunE: runSpecies,
}

func init() {
	speciesFlags.register(speciesCmd, true)
	rootCmd.AddCommand(speciesCmd)
}

func runSpecies(cmd *cobra.Command, args []string) error {
	query := args[0]
	// A bare file name refers to the sample directory of the options file.
	dir := filepath.Dir(query)
	if dir == "." && speciesFlags.file != "" {
		dir = ""
	}
	opts, err := speciesFlags.resolve(cmd, dir)
	if err != nil {
		return err
	}
	opts.MzFile1 = filepath.Base(query)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if speciesFlags.remote {
		c := getClient()
		snap, err := c.StartSpecies(ctx, opts)
		if err != nil {
			return fmt.Errorf("start species session: %w", err)
		}
		fmt.Printf("Started session %s\n", snap.ID)
		if speciesFlags.detach {
			return nil
		}
		final, background, err := followRemote(ctx, c, snap.ID)
		if err != nil || background {
			return err
		}
		return printResult(os.Stdout, final)
	}

	sess, err := getEngine().species.Start(ctx, opts)
	if err != nil {
		return fmt.Errorf("start species session: %w", err)
	}
	final, err := followLocal(ctx, sess)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, final)
}
