// Package graph provides GraphQL types and resolvers for compareMS2 sessions.
package graph

import (
	"time"
)

// Session is a tree or species session in the GraphQL schema.
type Session struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	Status      string            `json:"status"`
	MgfDir      string            `json:"mgfDir"`
	Samples     []string          `json:"samples"`
	Row         int               `json:"row"`
	Completed   int               `json:"completed"`
	Failed      int               `json:"failed"`
	Total       int               `json:"total"`
	Fraction    float64           `json:"fraction"`
	Activity    *string           `json:"activity"`
	Newick      *string           `json:"newick"`
	Topology    *string           `json:"topology"`
	Labels      []string          `json:"labels"`
	Quality     []SampleQuality   `json:"quality"`
	Species     []SpeciesDistance `json:"species"`
	Error       *string           `json:"error"`
	StartedAt   time.Time         `json:"startedAt"`
	CompletedAt *time.Time        `json:"completedAt"`
}

// SampleQuality is the tree quality score of one sample.
type SampleQuality struct {
	Sample string  `json:"sample"`
	Value  float64 `json:"value"`
}

// SpeciesDistance is one row of a species session result.
type SpeciesDistance struct {
	Species    string  `json:"species"`
	Distance   float64 `json:"distance"`
	Similarity float64 `json:"similarity"`
	Samples    int     `json:"samples"`
}

// Progress reports completed pairs out of the total.
type Progress struct {
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Total     int     `json:"total"`
	Row       int     `json:"row"`
	Fraction  float64 `json:"fraction"`
}

// SessionEvent is one message of the sessionEvents subscription.
type SessionEvent struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	Time      time.Time         `json:"time"`
	Message   *string           `json:"message"`
	Stderr    bool              `json:"stderr"`
	Status    *string           `json:"status"`
	Progress  *Progress         `json:"progress"`
	Newick    *string           `json:"newick"`
	Species   []SpeciesDistance `json:"species"`
	Session   *Session          `json:"session"`
}

// Stats reports the comparison slots and running sessions.
type Stats struct {
	UptimeSeconds   float64 `json:"uptimeSeconds"`
	SlotCapacity    int     `json:"slotCapacity"`
	SlotsActive     int     `json:"slotsActive"`
	SlotsWaiting    int     `json:"slotsWaiting"`
	SessionsRunning int     `json:"sessionsRunning"`
}
