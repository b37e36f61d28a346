package sampled

import (
	"github.com/karstlab/sampled/internal/sessiondb"
)

// DBWriter adapts a sessiondb connection to the SampleWriter interface, so a
// Recorder can persist a source's stream into ClickHouse. Inserts are
// asynchronous; the recorder goroutine never blocks on the database.
type DBWriter struct {
	db        *sessiondb.Connection
	sessionID string
}

// NewDBWriter wraps db for recording under the given session id.
func NewDBWriter(db *sessiondb.Connection, sessionID string) *DBWriter {
	return &DBWriter{db: db, sessionID: sessionID}
}

// WriteSample implements SampleWriter.
func (w *DBWriter) WriteSample(s *Sample) error {
	w.db.RecordSample(&sessiondb.SampleMessage{
		SessionID: w.sessionID,
		Source:    s.SourceName,
		Time:      s.Time,
		ElapsedS:  s.Elapsed.Seconds(),
		Values:    s.Payload.Values(),
	})
	return nil
}

// Close implements SampleWriter. The connection is shared across recorders
// and outlives them; nothing to do here.
func (w *DBWriter) Close() error { return nil }

// RecordEvents drains a bus subscription into the database. Run it on its own
// goroutine; it exits when the subscription closes.
func RecordEvents(db *sessiondb.Connection, sessionID string, events <-chan Event) {
	for e := range events {
		db.RecordEvent(&sessiondb.EventMessage{
			SessionID: sessionID,
			Source:    e.Source,
			Kind:      e.Kind.String(),
			Detail:    e.Detail,
			Time:      e.Time,
		})
	}
}
