package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/524D/compareMS2/internal/client"
	"github.com/524D/compareMS2/internal/service"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List or inspect server sessions",
	Long: `List all sessions of the compms2-server or inspect a specific session by ID.

Examples:
  compms2 sessions           # List all sessions
  compms2 sessions abc123    # Show details for session abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSessions,
}

var pauseCmd = &cobra.Command{
	Use:   "pause <session-id>",
	Short: "Pause a session after its running comparisons",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionAction(args[0], "paused", getClient().PauseSession)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Resume a paused session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionAction(args[0], "resumed", getClient().ResumeSession)
	},
}

var stopRemove bool

var stopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Stop a session",
	Long: `Stop a session. Running comparisons are terminated; finished pairs stay in
the result cache, so a new run over the same samples continues from there.
With --rm the session is also removed from the server.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if stopRemove {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := getClient().RemoveSession(ctx, args[0]); err != nil {
				return fmt.Errorf("remove session: %w", err)
			}
			fmt.Printf("Session %s removed\n", args[0])
			return nil
		}
		return sessionAction(args[0], "stopped", getClient().StopSession)
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopRemove, "rm", false, "also remove the session")
	rootCmd.AddCommand(sessionsCmd, pauseCmd, resumeCmd, stopCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// If session ID provided, show that specific session
	if len(args) == 1 {
		return showSession(ctx, getClient(), args[0])
	}

	// List all sessions
	return listSessions(ctx, getClient())
}

func listSessions(ctx context.Context, c *client.Client) error {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	writeSessionList(os.Stdout, sessions)
	return nil
}

func writeSessionList(w io.Writer, sessions []service.SessionSnapshot) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found")
		return
	}

	fmt.Fprintf(w, "%-10s %-8s %-10s %-12s %s\n", "ID", "KIND", "STATUS", "PROGRESS", "STARTED")
	fmt.Fprintln(w, "------------------------------------------------------------------------")

	for _, s := range sessions {
		progress := ""
		if s.Total > 0 {
			progress = fmt.Sprintf("%d/%d", s.Completed, s.Total)
		}
		fmt.Fprintf(w, "%-10s %-8s %-10s %-12s %s\n", s.ID, s.Kind, s.Status, progress, humanize.Time(s.StartedAt))
	}
}

func showSession(ctx context.Context, c *client.Client, id string) error {
	s, err := c.GetSession(ctx, id)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	writeSession(os.Stdout, *s)
	return nil
}

func writeSession(w io.Writer, s service.SessionSnapshot) {
	fmt.Fprintf(w, "Session: %s\n", s.ID)
	fmt.Fprintf(w, "  Kind: %s\n", s.Kind)
	fmt.Fprintf(w, "  Status: %s\n", s.Status)
	fmt.Fprintf(w, "  Samples: %s (%d files)\n", s.Options.MgfDir, len(s.Samples))
	if s.Total > 0 {
		fmt.Fprintf(w, "  Progress: %d/%d pairs, %d failed, row %d\n", s.Completed, s.Total, s.Failed, s.Row)
	}
	if s.Activity != "" {
		fmt.Fprintf(w, "  Activity: %s\n", s.Activity)
	}
	fmt.Fprintf(w, "  Started: %s\n", s.StartedAt.Format(time.RFC3339))
	if s.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", s.CompletedAt.Format(time.RFC3339))
		duration := s.CompletedAt.Sub(s.StartedAt)
		fmt.Fprintf(w, "  Duration: %s\n", duration.Round(time.Second))
	}

	if s.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", s.Error)
	}

	if s.Topology != "" {
		fmt.Fprintf(w, "\nTree:\n  %s\n", s.Topology)
	}
	printSpecies(w, s.Species)
}

// sessionAction runs a session command and reports the resulting status.
func sessionAction(id, verb string, call func(context.Context, string) (*service.SessionSnapshot, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := call(ctx, id)
	if err != nil {
		return fmt.Errorf("session %s: %w", id, err)
	}
	fmt.Printf("Session %s %s (status %s)\n", s.ID, verb, s.Status)
	return nil
}
