package cli

import (
	"errors"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"

	"github.com/524D/compareMS2/internal/service"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// eventMsg carries one session event.
type eventMsg service.Event

// streamClosedMsg is sent when the event stream ends.
type streamClosedMsg struct{}

// progressModel is the bubbletea model for session progress.
type progressModel struct {
	sessionID string
	events    <-chan service.Event
	// background is set for server sessions, which keep running after quit.
	background bool

	progress progress.Model
	theme    Theme
	status   service.SessionStatus
	counts   service.Progress
	activity string
	lastErr  string
	topology string
	species  []service.SpeciesDistance
	message  string
	done     bool
	quitting bool
	err      error
}

// newProgressModel creates a progress model starting from a snapshot.
func newProgressModel(snap service.SessionSnapshot, events <-chan service.Event, background bool) progressModel {
	// Create progress bar with color blend
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		sessionID:  snap.ID,
		events:     events,
		background: background,
		progress:   prog,
		theme:      defaultTheme,
		status:     snap.Status,
		counts: service.Progress{
			Completed: snap.Completed,
			Failed:    snap.Failed,
			Total:     snap.Total,
			Row:       snap.Row,
			Fraction:  snap.Fraction(),
		},
		activity: snap.Activity,
		topology: snap.Topology,
		species:  snap.Species,
	}
}

// Init returns the initial command (start reading events).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		waitForEvent(m.events),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case eventMsg:
		m.apply(service.Event(msg))
		return m, waitForEvent(m.events)

	case streamClosedMsg:
		m.done = true
		return m, tea.Quit

	case progress.FrameMsg:
		// Update progress bar animation
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds an event into the model.
func (m *progressModel) apply(ev service.Event) {
	if ev.Status != "" {
		m.status = ev.Status
	}
	switch ev.Type {
	case service.EventProgress:
		if ev.Progress != nil {
			m.counts = *ev.Progress
		}
	case service.EventActivity:
		m.activity = ev.Message
	case service.EventLog:
		if ev.Stderr {
			m.lastErr = ev.Message
		}
	case service.EventTree:
		if ev.Tree != nil {
			m.topology = ev.Tree.Topology
		}
	case service.EventSpecies:
		m.species = ev.Species
	case service.EventFinished:
		m.message = ev.Message
		if ev.Progress != nil {
			m.counts = *ev.Progress
		}
	case service.EventError:
		m.err = errors.New(ev.Message)
	}
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m progressModel) renderContent() string {
	if m.done || m.quitting {
		return m.finalView()
	}

	// Status line with color
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.status))

	// Progress bar with counts
	progressBar := m.progress.ViewAs(m.counts.Fraction)
	counts := fmt.Sprintf("%d/%d pairs", m.counts.Completed, m.counts.Total)
	if m.counts.Failed > 0 {
		counts += m.theme.errorStyle().Render(fmt.Sprintf(" (%d failed)", m.counts.Failed))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s %s\n", status, progressBar, counts)
	if m.activity != "" {
		fmt.Fprintf(&sb, "%s\n", m.activity)
	}
	if m.lastErr != "" {
		fmt.Fprintf(&sb, "%s\n", m.theme.errorStyle().Render(m.lastErr))
	}
	if m.topology != "" {
		fmt.Fprintf(&sb, "Tree: %s\n", m.topology)
	}
	for _, sd := range m.species {
		fmt.Fprintf(&sb, "  %-30s %.4f\n", sd.Species, sd.Distance)
	}

	hint := "Press Ctrl+C to stop"
	if m.background {
		hint = "Press Ctrl+C to continue in background"
	}
	fmt.Fprintf(&sb, "%s\n", m.theme.hintStyle().Render(hint))
	return sb.String()
}

// finalView renders the completion message.
func (m progressModel) finalView() string {
	if m.quitting {
		if !m.background {
			return m.theme.hintStyle().Render("\nStopping session...\n")
		}
		msg := fmt.Sprintf("\nSession %s continues in background.\nUse 'compms2 watch %s' to follow it.\n",
			m.sessionID, m.sessionID)
		return m.theme.hintStyle().Render(msg)
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Session failed: %s\n", m.err))
	}

	if m.status == service.SessionStopped {
		return m.theme.hintStyle().Render("\nSession stopped.\n")
	}

	msg := "✓ Completed"
	if m.message != "" {
		msg = "✓ " + m.message
	}
	return m.theme.completedStyle().Render(msg) +
		fmt.Sprintf("\n  %d/%d pairs compared, %d failed\n", m.counts.Completed, m.counts.Total, m.counts.Failed)
}

// waitForEvent reads the next event off the stream.
func waitForEvent(events <-chan service.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// RunSessionProgress runs the interactive progress UI until the event stream
// ends or the user quits. It reports whether the user quit.
func RunSessionProgress(snap service.SessionSnapshot, events <-chan service.Event, background bool) (bool, error) {
	model := newProgressModel(snap, events, background)
	p := tea.NewProgram(model)

	finalModel, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		return m.quitting, nil
	}
	return false, nil
}
