package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Follow the progress of a server session",
	Long: `Follow a session of the compms2-server until it ends. Leaving the watch
does not stop the session.

Examples:
  compms2 watch abc123`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	final, background, err := followRemote(ctx, getClient(), args[0])
	if err != nil || background {
		return err
	}
	return printResult(os.Stdout, final)
}
