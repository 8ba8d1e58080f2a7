package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var treeFlags optionFlags

var treeCmd = &cobra.Command{
	Use:   "tree [sample-dir]",
	Short: "Compare all samples of a directory and build a tree",
	Long: `Compare every pair of .mgf files in a directory and build a UPGMA tree.
The tree is rebuilt after every row of the distance matrix. Pairs compared
before with the same options are taken from the result cache.

Examples:
  compms2 tree ./samples
  compms2 tree ./samples --newick --nexus --cutoff 0.75
  compms2 tree --options settings.json
  compms2 tree ./samples --remote --detach`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTree,
}

func init() {
	treeFlags.register(treeCmd, true)
	rootCmd.AddCommand(treeCmd)
}

func runTree(cmd *cobra.Command, args []string) error {
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}
	opts, err := treeFlags.resolve(cmd, dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if treeFlags.remote {
		c := getClient()
		snap, err := c.StartTree(ctx, opts)
		if err != nil {
			return fmt.Errorf("start tree session: %w", err)
		}
		fmt.Printf("Started session %s\n", snap.ID)
		if treeFlags.detach {
			return nil
		}
		final, background, err := followRemote(ctx, c, snap.ID)
		if err != nil || background {
			return err
		}
		return printResult(os.Stdout, final)
	}

	sess, err := getEngine().trees.Start(ctx, opts)
	if err != nil {
		return fmt.Errorf("start tree session: %w", err)
	}
	final, err := followLocal(ctx, sess)
	if err != nil {
		return err
	}
	return printResult(os.Stdout, final)
}
