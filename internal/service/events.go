package service

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies the kind of a session event.
type EventType string

const (
	EventProgress EventType = "progress"
	EventActivity EventType = "activity"
	EventLog      EventType = "log"
	EventTree     EventType = "tree"
	EventSpecies  EventType = "species"
	EventFinished EventType = "finished"
	EventError    EventType = "error"
)

// Event is published to session subscribers.
type Event struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"session_id"`
	Time      time.Time         `json:"time"`
	Message   string            `json:"message,omitempty"`
	Stderr    bool              `json:"stderr,omitempty"`
	Progress  *Progress         `json:"progress,omitempty"`
	Tree      *TreeUpdate       `json:"tree,omitempty"`
	Species   []SpeciesDistance `json:"species,omitempty"`
	Status    SessionStatus     `json:"status,omitempty"`
}

// Progress reports completed pairs out of the total.
type Progress struct {
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Total     int     `json:"total"`
	Row       int     `json:"row"`
	Fraction  float64 `json:"fraction"`
}

// TreeUpdate carries an intermediate or final tree.
type TreeUpdate struct {
	Newick   string             `json:"newick"`
	Topology string             `json:"topology"`
	Labels   []string           `json:"labels"`
	Quality  map[string]float64 `json:"quality,omitempty"`
	QualMin  float64            `json:"qual_min"`
	QualMax  float64            `json:"qual_max"`
	QualMean float64            `json:"qual_mean"`
}

// subscriberBuffer is the channel capacity of one subscriber.
const subscriberBuffer = 256

// hub fans events out to subscribers. Slow subscribers lose events rather
// than blocking the session; the session snapshot always has the latest state.
type hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("dropping event for slow subscriber", "session_id", ev.SessionID, "type", ev.Type)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
