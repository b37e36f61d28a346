package sessiondb

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// The composite types used for messages to the ClickHouse database.

// NewID returns a fresh lexicographically-sortable identifier for sessions.
func NewID() string {
	return ulid.Make().String()
}

// SessionMessage is the information for the sessions table: one row per
// sampled process run.
type SessionMessage struct {
	ID        string
	Hostname  string
	Version   string
	Githash   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// SampleMessage is one recorded sample, flattened for the samples table.
type SampleMessage struct {
	SessionID string
	Source    string
	Time      time.Time
	ElapsedS  float64
	Values    []float64
}

// EventMessage is one status event, for the events table.
type EventMessage struct {
	SessionID string
	Source    string
	Kind      string
	Detail    string
	Time      time.Time
}
