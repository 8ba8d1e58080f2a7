package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/524D/compareMS2/internal/client"
	"github.com/524D/compareMS2/internal/server"
	"github.com/524D/compareMS2/internal/service"
)

// interactive reports whether stdout is a terminal.
var interactive = func() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// followLocal shows the progress of a session running in this process and
// stops it when ctx is cancelled or the user quits.
func followLocal(ctx context.Context, sess *service.Session) (service.SessionSnapshot, error) {
	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	stop := context.AfterFunc(ctx, sess.Stop)
	defer stop()

	snap := sess.Snapshot()
	if interactive() {
		quit, err := RunSessionProgress(snap, events, false)
		if err != nil {
			return snap, err
		}
		if quit {
			sess.Stop()
		}
	} else {
		printEvents(os.Stdout, events)
	}

	if err := sess.Wait(context.Background()); err != nil {
		return sess.Snapshot(), err
	}
	return sess.Snapshot(), nil
}

// followRemote shows the progress of a server session. The session keeps
// running when ctx is cancelled or the user quits.
func followRemote(ctx context.Context, c *client.Client, id string) (service.SessionSnapshot, bool, error) {
	snapCh := make(chan service.SessionSnapshot, 1)
	events := make(chan service.Event, 64)
	watchErr := make(chan error, 1)

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer close(events)
		first := true
		watchErr <- c.Watch(watchCtx, id, func(msg server.StreamMessage) error {
			if msg.Type == server.SnapshotEvent && msg.Snapshot != nil {
				if first {
					snapCh <- *msg.Snapshot
					first = false
				}
				return nil
			}
			if msg.Event == nil {
				return nil
			}
			select {
			case events <- *msg.Event:
				return nil
			case <-watchCtx.Done():
				return watchCtx.Err()
			}
		})
	}()

	var snap service.SessionSnapshot
	select {
	case snap = <-snapCh:
	case err := <-watchErr:
		if err == nil {
			err = errors.New("event stream closed before the session snapshot")
		}
		return snap, false, err
	}

	quit := false
	if interactive() {
		var err error
		if quit, err = RunSessionProgress(snap, events, true); err != nil {
			return snap, false, err
		}
	} else {
		printEvents(os.Stdout, events)
	}
	cancel()

	if err := <-watchErr; err != nil && !errors.Is(err, context.Canceled) {
		return snap, quit, err
	}
	if quit || ctx.Err() != nil {
		return snap, true, nil
	}

	fetchCtx, fetchCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer fetchCancel()
	final, err := c.GetSession(fetchCtx, id)
	if err != nil {
		return snap, false, fmt.Errorf("get session: %w", err)
	}
	return *final, false, nil
}

// printEvents writes events as plain lines until the stream ends.
func printEvents(w io.Writer, events <-chan service.Event) {
	lastRow := -1
	for ev := range events {
		switch ev.Type {
		case service.EventProgress:
			p := ev.Progress
			if p == nil || p.Row == lastRow {
				continue
			}
			lastRow = p.Row
			fmt.Fprintf(w, "%s %d/%d pairs (%d failed)\n", ev.Time.Format("15:04:05"), p.Completed, p.Total, p.Failed)
		case service.EventActivity:
			fmt.Fprintf(w, "%s %s\n", ev.Time.Format("15:04:05"), ev.Message)
		case service.EventLog:
			if ev.Stderr {
				fmt.Fprintf(w, "%s ! %s\n", ev.Time.Format("15:04:05"), ev.Message)
			} else {
				slog.Debug("tool output", "session_id", ev.SessionID, "line", ev.Message)
			}
		case service.EventTree:
			if ev.Tree != nil {
				fmt.Fprintf(w, "%s tree %s\n", ev.Time.Format("15:04:05"), ev.Tree.Topology)
			}
		case service.EventFinished:
			fmt.Fprintf(w, "%s %s\n", ev.Time.Format("15:04:05"), ev.Message)
		case service.EventError:
			fmt.Fprintf(w, "%s error: %s\n", ev.Time.Format("15:04:05"), ev.Message)
		}
	}
}

// printResult writes the outcome of a finished session and returns its error.
func printResult(w io.Writer, snap service.SessionSnapshot) error {
	switch snap.Status {
	case service.SessionFailed:
		return fmt.Errorf("session %s failed: %s", snap.ID, snap.Error)
	case service.SessionStopped:
		fmt.Fprintf(w, "Session %s stopped after %d/%d pairs\n", snap.ID, snap.Completed, snap.Total)
		return nil
	}

	switch snap.Kind {
	case service.KindTree:
		if snap.Newick != "" {
			fmt.Fprintf(w, "\n%s;\n", snap.Newick)
		}
		if snap.Manifest != "" {
			fmt.Fprintf(w, "\nResult list: %s\n", snap.Manifest)
		}
	case service.KindSpecies:
		printSpecies(w, snap.Species)
	}
	return nil
}

// printSpecies writes species distances as a table.
func printSpecies(w io.Writer, species []service.SpeciesDistance) {
	if len(species) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-30s %-10s %-10s %s\n", "SPECIES", "DISTANCE", "SIMILARITY", "SAMPLES")
	fmt.Fprintln(w, "------------------------------------------------------------------")
	for _, sd := range species {
		fmt.Fprintf(w, "%-30s %-10.4f %-10.4f %d\n", sd.Species, sd.Distance, sd.Similarity, sd.Samples)
	}
}
