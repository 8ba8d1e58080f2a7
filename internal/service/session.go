package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/524D/compareMS2/internal/models"
	"github.com/524D/compareMS2/internal/runner"
)

// SessionStatus represents the state of a session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionStopped   SessionStatus = "stopped"
)

// Session kinds.
const (
	KindTree    = "tree"
	KindSpecies = "species"
)

// Errors returned by session operations.
var (
	ErrNotFound       = errors.New("session not found")
	ErrTooFewSamples  = errors.New("at least two sample files are required")
	ErrSessionClosed  = errors.New("session closed")
	ErrSampleNotFound = errors.New("query sample not found")
)

// Session is one tree or species run. All exported methods are safe for
// concurrent use.
type Session struct {
	ID        string
	Kind      string
	Options   models.Options
	StartedAt time.Time

	mu          sync.RWMutex
	status      SessionStatus
	samples     []string
	row         int
	completed   int
	failed      int
	total       int
	activity    string
	manifest    string
	newick      string
	topology    string
	labels      []string
	quality     map[string]float64
	species     []SpeciesDistance
	errMsg      string
	completedAt *time.Time

	// Pause gate: resume is closed when the session is resumed.
	paused bool
	resume chan struct{}

	// Internal fields
	lastProgressUpdate time.Time
	cancel             context.CancelFunc
	done               chan struct{}
	events             *hub
}

func newSession(id, kind string, opts models.Options) *Session {
	return &Session{
		ID:        id,
		Kind:      kind,
		Options:   opts,
		StartedAt: time.Now(),
		status:    SessionPending,
		done:      make(chan struct{}),
		events:    newHub(),
	}
}

// SessionSnapshot is a copy of the session state.
type SessionSnapshot struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Status      SessionStatus      `json:"status"`
	Options     models.Options     `json:"options"`
	Samples     []string           `json:"samples,omitempty"`
	Row         int                `json:"row"`
	Completed   int                `json:"completed"`
	Failed      int                `json:"failed"`
	Total       int                `json:"total"`
	Activity    string             `json:"activity,omitempty"`
	Manifest    string             `json:"manifest,omitempty"`
	Newick      string             `json:"newick,omitempty"`
	Topology    string             `json:"topology,omitempty"`
	Labels      []string           `json:"labels,omitempty"`
	Quality     map[string]float64 `json:"quality,omitempty"`
	Species     []SpeciesDistance  `json:"species,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// Fraction returns completed pairs over the total, or 0 without a total.
func (s SessionSnapshot) Fraction() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Completed) / float64(s.Total)
}

// Done reports whether the session has ended.
func (s SessionSnapshot) Done() bool {
	switch s.Status {
	case SessionCompleted, SessionFailed, SessionStopped:
		return true
	}
	return false
}

// Snapshot returns a thread-safe copy of session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := s.status
	if s.paused && status == SessionRunning {
		status = SessionPaused
	}
	return SessionSnapshot{
		ID:          s.ID,
		Kind:        s.Kind,
		Status:      status,
		Options:     s.Options,
		Samples:     append([]string(nil), s.samples...),
		Row:         s.row,
		Completed:   s.completed,
		Failed:      s.failed,
		Total:       s.total,
		Activity:    s.activity,
		Manifest:    s.manifest,
		Newick:      s.newick,
		Topology:    s.topology,
		Labels:      append([]string(nil), s.labels...),
		Quality:     s.quality,
		Species:     append([]SpeciesDistance(nil), s.species...),
		Error:       s.errMsg,
		StartedAt:   s.StartedAt,
		CompletedAt: s.completedAt,
	}
}

// Subscribe returns a channel of session events and a function to cancel the
// subscription. The channel is closed when the session ends.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.subscribe()
}

// Done returns a channel that is closed when the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has ended or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause stops the session from starting a new row. Comparisons already
// running finish normally.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.ended() {
		return
	}
	s.paused = true
	s.resume = make(chan struct{})
	s.publish(Event{Type: EventActivity, Message: "Paused", Status: SessionPaused})
}

// Resume releases a paused session.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	close(s.resume)
	s.publish(Event{Type: EventActivity, Message: "Resumed", Status: s.status})
}

// Stop cancels the session. Running comparisons are terminated and no new
// ones are started.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// waitIfPaused blocks while the session is paused.
func (s *Session) waitIfPaused(ctx context.Context) error {
	s.mu.RLock()
	if !s.paused {
		s.mu.RUnlock()
		return nil
	}
	ch := s.resume
	s.mu.RUnlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ended reports whether the session reached a final status. Caller must hold the lock.
func (s *Session) ended() bool {
	switch s.status {
	case SessionCompleted, SessionFailed, SessionStopped:
		return true
	}
	return false
}

func (s *Session) publish(ev Event) {
	ev.SessionID = s.ID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.events.publish(ev)
}

func (s *Session) setActivity(msg string) {
	s.mu.Lock()
	s.activity = msg
	s.mu.Unlock()
	s.publish(Event{Type: EventActivity, Message: msg})
}

// logFunc returns a LogFunc that publishes tool output as log events.
func (s *Session) logFunc() runner.LogFunc {
	return func(stream runner.Stream, line string) {
		s.publish(Event{Type: EventLog, Message: line, Stderr: stream == runner.Stderr})
	}
}

func (s *Session) logError(msg string) {
	s.publish(Event{Type: EventLog, Message: msg, Stderr: true})
}

func (s *Session) setSamples(samples []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = samples
}

func (s *Session) setTotal(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = total
}

func (s *Session) setRow(row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.row = row
}

// advance records finished comparisons and publishes progress.
func (s *Session) advance(ok, failed int) Progress {
	s.mu.Lock()
	s.completed += ok
	s.failed += failed
	p := s.progressLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventProgress, Progress: &p})
	return p
}

func (s *Session) progressLocked() Progress {
	p := Progress{Completed: s.completed, Failed: s.failed, Total: s.total, Row: s.row}
	if s.total > 0 {
		p.Fraction = float64(s.completed+s.failed) / float64(s.total)
	}
	return p
}

func (s *Session) setTree(update TreeUpdate) {
	s.mu.Lock()
	s.newick = update.Newick
	s.topology = update.Topology
	s.labels = update.Labels
	s.quality = update.Quality
	s.mu.Unlock()
}

func (s *Session) setSpecies(d []SpeciesDistance) {
	s.mu.Lock()
	s.species = d
	s.mu.Unlock()
	s.publish(Event{Type: EventSpecies, Species: d})
}
