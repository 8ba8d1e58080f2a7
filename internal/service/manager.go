// Package service runs compareMS2 tree and species sessions.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/524D/compareMS2/internal/models"
)

// SessionStore persists session records. *db.Client implements it.
type SessionStore interface {
	CreateSession(ctx context.Context, rec models.SessionRecord) error
	UpdateSessionProgress(ctx context.Context, id string, progress, total int) error
	UpdateSessionStatus(ctx context.Context, id, status string) error
	UpdateSessionSamples(ctx context.Context, id string, samples []string) error
	CompleteSession(ctx context.Context, id, newick string) error
	FailSession(ctx context.Context, id, errMsg string) error
	GetIncompleteSessions(ctx context.Context) ([]models.SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
}

// Manager tracks sessions and persists their state when a store is configured.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	store    SessionStore
}

// NewManager creates a session manager. store may be nil.
func NewManager(store SessionStore) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
	}
}

// Create registers a new pending session with persistence.
func (m *Manager) Create(ctx context.Context, kind string, opts models.Options) (*Session, error) {
	s := newSession(uuid.New().String()[:8], kind, opts)

	if m.store != nil {
		rec := models.SessionRecord{
			ID:        models.SessionRecordID(s.ID),
			Kind:      kind,
			Status:    string(SessionPending),
			Options:   opts,
			StartedAt: s.StartedAt,
		}
		if err := m.store.CreateSession(ctx, rec); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}

	m.Register(s)
	slog.Info("session created", "session_id", s.ID, "kind", kind, "dir", opts.MgfDir)
	return s, nil
}

// Register adds an existing session to the in-memory map (for resume).
func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Get retrieves a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns all sessions, most recent first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}

	slices.SortFunc(sessions, func(a, b *Session) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	return sessions
}

// Remove stops a session, waits for it to end and deletes it.
func (m *Manager) Remove(ctx context.Context, id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.Stop()
	if err := s.Wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	slog.Info("session removed", "session_id", id)
	return nil
}

// StopAll stops every running session and waits for them to end.
func (m *Manager) StopAll(ctx context.Context) {
	for _, s := range m.List() {
		s.Stop()
	}
	for _, s := range m.List() {
		if err := s.Wait(ctx); err != nil {
			slog.Warn("session did not stop in time", "session_id", s.ID, "error", err)
		}
	}
}

// setRunning marks a session as running.
func (m *Manager) setRunning(ctx context.Context, s *Session, cancel context.CancelFunc) {
	s.mu.Lock()
	s.status = SessionRunning
	s.cancel = cancel
	s.mu.Unlock()

	if m.store != nil {
		if err := m.store.UpdateSessionStatus(ctx, s.ID, string(SessionRunning)); err != nil {
			slog.Warn("failed to set session running", "session_id", s.ID, "error", err)
		}
	}
}

// persistSamples stores the sample order so a resumed session uses the same matrix layout.
func (m *Manager) persistSamples(ctx context.Context, s *Session, samples []string) {
	s.setSamples(samples)
	if m.store != nil {
		if err := m.store.UpdateSessionSamples(ctx, s.ID, samples); err != nil {
			slog.Warn("failed to persist session samples", "session_id", s.ID, "error", err)
		}
	}
}

// updateProgress persists progress, debounced to every 5 seconds or every
// completed row.
func (m *Manager) updateProgress(ctx context.Context, s *Session, rowDone bool) {
	if m.store == nil {
		return
	}
	s.mu.Lock()
	shouldPersist := rowDone || time.Since(s.lastProgressUpdate) > 5*time.Second
	if shouldPersist {
		s.lastProgressUpdate = time.Now()
	}
	progress, total := s.completed, s.total
	s.mu.Unlock()

	if shouldPersist {
		if err := m.store.UpdateSessionProgress(ctx, s.ID, progress, total); err != nil {
			slog.Warn("failed to persist session progress", "session_id", s.ID, "error", err)
		}
	}
}

// complete marks a session as completed.
func (m *Manager) complete(ctx context.Context, s *Session, msg string) {
	s.mu.Lock()
	s.status = SessionCompleted
	s.activity = msg
	now := time.Now()
	s.completedAt = &now
	newick := s.newick
	p := s.progressLocked()
	s.mu.Unlock()

	if m.store != nil {
		if err := m.store.CompleteSession(ctx, s.ID, newick); err != nil {
			slog.Warn("failed to persist session completion", "session_id", s.ID, "error", err)
		}
	}

	s.publish(Event{Type: EventFinished, Message: msg, Status: SessionCompleted, Progress: &p})
	slog.Info("session completed", "session_id", s.ID, "completed", p.Completed, "failed", p.Failed)
}

// fail marks a session as failed.
func (m *Manager) fail(ctx context.Context, s *Session, err error) {
	s.mu.Lock()
	s.status = SessionFailed
	s.errMsg = err.Error()
	now := time.Now()
	s.completedAt = &now
	s.mu.Unlock()

	if m.store != nil {
		if dbErr := m.store.FailSession(ctx, s.ID, err.Error()); dbErr != nil {
			slog.Warn("failed to persist session failure", "session_id", s.ID, "error", dbErr)
		}
	}

	s.publish(Event{Type: EventError, Message: err.Error(), Status: SessionFailed})
	slog.Error("session failed", "session_id", s.ID, "error", err)
}

// stopped marks a session as stopped by its owner. The persisted record keeps
// its running status so the session is resumed after a restart.
func (m *Manager) stopped(s *Session) {
	s.mu.Lock()
	s.status = SessionStopped
	now := time.Now()
	s.completedAt = &now
	s.mu.Unlock()

	s.publish(Event{Type: EventFinished, Message: "Stopped", Status: SessionStopped})
	slog.Info("session stopped", "session_id", s.ID)
}

// finish ends a session run: it releases the pause gate and closes the event stream.
func (m *Manager) finish(s *Session) {
	s.Resume()
	s.events.close()
	close(s.done)
}

// ResumeIncompleteSessions restarts tree sessions that were running when the
// process last exited. Cached comparisons are picked up by the resume scan.
func (m *Manager) ResumeIncompleteSessions(ctx context.Context, trees *TreeService) error {
	if m.store == nil {
		return nil
	}

	records, err := m.store.GetIncompleteSessions(ctx)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		slog.Info("no incomplete sessions to resume")
		return nil
	}

	slog.Info("found incomplete sessions", "count", len(records))

	for _, rec := range records {
		id, err := rec.SessionID()
		if err != nil {
			slog.Warn("failed to get session ID", "error", err)
			continue
		}

		// Species sessions are cheap to rerun from the cache; only trees resume.
		if rec.Kind != KindTree {
			slog.Info("skipping non-tree session", "session_id", id, "kind", rec.Kind)
			continue
		}

		s := newSession(id, rec.Kind, rec.Options)
		s.StartedAt = rec.StartedAt
		s.samples = rec.Samples
		m.Register(s)

		slog.Info("resuming session", "session_id", id, "progress", rec.Progress, "total", rec.Total)
		trees.launch(s)
	}

	return nil
}
