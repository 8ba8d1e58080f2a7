// Package graph provides GraphQL resolvers for compareMS2 sessions.
// It serves as dependency injection for the GraphQL handler.
package graph

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"

	"github.com/524D/compareMS2/internal/config"
	"github.com/524D/compareMS2/internal/metrics"
	"github.com/524D/compareMS2/internal/models"
	"github.com/524D/compareMS2/internal/parallel"
	"github.com/524D/compareMS2/internal/service"
)

// stopTimeout bounds how long stopSession and removeSession wait for the
// session to end.
const stopTimeout = 30 * time.Second

// SnapshotEvent is the type of the first sessionEvents message.
const SnapshotEvent = "snapshot"

// ErrMissingDir is returned when a session is started without a sample
// directory.
var ErrMissingDir = errors.New("mgfDir is required")

// Resolver is the root resolver with all dependencies.
type Resolver struct {
	manager *service.Manager
	trees   *service.TreeService
	species *service.SpeciesService
	slots   *parallel.Manager
	metrics *metrics.Collector
}

// NewResolver creates a resolver over the session services. slots and
// collector may be nil.
func NewResolver(manager *service.Manager, trees *service.TreeService, species *service.SpeciesService,
	slots *parallel.Manager, collector *metrics.Collector) *Resolver {
	return &Resolver{
		manager: manager,
		trees:   trees,
		species: species,
		slots:   slots,
		metrics: collector,
	}
}

// Sessions lists all sessions, newest first.
func (r *Resolver) Sessions(ctx context.Context) ([]*Session, error) {
	return lo.Map(r.manager.List(), func(s *service.Session, _ int) *Session {
		return sessionToGraphQL(s.Snapshot())
	}), nil
}

// Session returns one session.
func (r *Resolver) Session(ctx context.Context, id string) (*Session, error) {
	s, err := r.manager.Get(id)
	if err != nil {
		return nil, err
	}
	return sessionToGraphQL(s.Snapshot()), nil
}

// Stats reports slot usage and running sessions.
func (r *Resolver) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{
		UptimeSeconds: r.metrics.Snapshot().UptimeSeconds,
		SessionsRunning: lo.CountBy(r.manager.List(), func(s *service.Session) bool {
			return s.Snapshot().Status == service.SessionRunning
		}),
	}
	if r.slots != nil {
		out.SlotCapacity = r.slots.Capacity()
		out.SlotsActive = r.slots.Active()
		out.SlotsWaiting = r.slots.Waiting()
	}
	return out, nil
}

// sessionOptions decodes an option document over the defaults and sets the
// sample directory.
func sessionOptions(mgfDir string, doc *string) (models.Options, error) {
	if mgfDir == "" {
		return models.Options{}, ErrMissingDir
	}
	var data []byte
	if doc != nil {
		data = []byte(*doc)
	}
	opts, err := config.ParseOptions(data)
	if err != nil {
		return models.Options{}, err
	}
	opts.MgfDir = mgfDir
	return opts, nil
}

// StartTree starts a tree session.
func (r *Resolver) StartTree(ctx context.Context, mgfDir string, options *string) (*Session, error) {
	opts, err := sessionOptions(mgfDir, options)
	if err != nil {
		return nil, err
	}
	s, err := r.trees.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sessionToGraphQL(s.Snapshot()), nil
}

// StartSpecies starts a species session for the query sample.
func (r *Resolver) StartSpecies(ctx context.Context, mgfDir, query string, options *string) (*Session, error) {
	opts, err := sessionOptions(mgfDir, options)
	if err != nil {
		return nil, err
	}
	opts.MzFile1 = query
	s, err := r.species.Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return sessionToGraphQL(s.Snapshot()), nil
}

// PauseSession pauses a running session.
func (r *Resolver) PauseSession(ctx context.Context, id string) (*Session, error) {
	s, err := r.manager.Get(id)
	if err != nil {
		return nil, err
	}
	s.Pause()
	return sessionToGraphQL(s.Snapshot()), nil
}

// ResumeSession resumes a paused session.
func (r *Resolver) ResumeSession(ctx context.Context, id string) (*Session, error) {
	s, err := r.manager.Get(id)
	if err != nil {
		return nil, err
	}
	s.Resume()
	return sessionToGraphQL(s.Snapshot()), nil
}

// StopSession stops a session and waits for it to end.
func (r *Resolver) StopSession(ctx context.Context, id string) (*Session, error) {
	s, err := r.manager.Get(id)
	if err != nil {
		return nil, err
	}
	s.Stop()
	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		return nil, err
	}
	return sessionToGraphQL(s.Snapshot()), nil
}

// RemoveSession stops and deletes a session.
func (r *Resolver) RemoveSession(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := r.manager.Remove(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// SessionEvents streams the session followed by its events. The channel
// closes when the session ends or ctx is cancelled.
func (r *Resolver) SessionEvents(ctx context.Context, id string) (<-chan *SessionEvent, error) {
	s, err := r.manager.Get(id)
	if err != nil {
		return nil, err
	}

	events, unsubscribe := s.Subscribe()
	out := make(chan *SessionEvent, 1)
	out <- &SessionEvent{
		Type:      SnapshotEvent,
		SessionID: s.ID,
		Time:      time.Now(),
		Species:   []SpeciesDistance{},
		Session:   sessionToGraphQL(s.Snapshot()),
	}

	go func() {
		defer close(out)
		defer unsubscribe()
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case out <- eventToGraphQL(ev):
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
