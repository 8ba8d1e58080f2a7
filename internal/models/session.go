package models

import (
	"fmt"
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// SessionRecord is the persisted state of a tree session, used to resume
// sessions that were interrupted by a process restart.
type SessionRecord struct {
	ID          surrealmodels.RecordID `json:"id"`
	Kind        string                 `json:"kind"`
	Status      string                 `json:"status"`
	Options     Options                `json:"options"`
	Samples     []string               `json:"samples,omitempty"`
	Total       int                    `json:"total"`
	Progress    int                    `json:"progress"`
	Newick      *string                `json:"newick,omitempty"`
	Error       *string                `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// SessionTable is the table holding session records.
const SessionTable = "session"

// SessionRecordID returns the record ID of the session with the given ID.
func SessionRecordID(id string) surrealmodels.RecordID {
	return surrealmodels.RecordID{Table: SessionTable, ID: id}
}

// SessionID returns the session ID stored in the record ID.
func (r SessionRecord) SessionID() (string, error) {
	s, ok := r.ID.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected session ID type: %T (expected string)", r.ID.ID)
	}
	return s, nil
}
