package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/524D/compareMS2/internal/service"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 10 * time.Second
)

// SnapshotEvent is the first message of an event stream.
const SnapshotEvent service.EventType = "snapshot"

// StreamMessage is one message of the event stream: the session snapshot
// first, then the session events as they happen.
type StreamMessage struct {
	Type     service.EventType        `json:"type"`
	Snapshot *service.SessionSnapshot `json:"snapshot,omitempty"`
	Event    *service.Event           `json:"event,omitempty"`
}

// sessionEvents streams session events over a WebSocket until the session
// ends or the client disconnects.
func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", sess.ID, "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	// The read loop only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	snap := sess.Snapshot()
	if err := writeMessage(conn, StreamMessage{Type: SnapshotEvent, Snapshot: &snap}); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeMessage(conn, StreamMessage{Type: ev.Type, Event: &ev}); err != nil {
				slog.Debug("event stream write failed", "session_id", sess.ID, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
