package callengine

import "time"

// StatusFields carries the optional per-status payload of a persistence
// update. Nil fields are omitted by the sink.
type StatusFields struct {
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds *int
}

// PersistenceSink receives call status updates for the external call
// record. Updates are fire-and-forget: the engine invokes the sink on a
// separate goroutine and never blocks on, or reacts to, the outcome.
// Implementations own their own retry and error handling.
//
// Status values are call.PersistRinging, call.PersistActive, and
// call.PersistEnded. A session that is ended twice produces exactly one
// "ended" update.
type PersistenceSink interface {
	UpdateCallStatus(callID, status string, fields StatusFields)
}

// NoopSink discards all updates.
type NoopSink struct{}

// UpdateCallStatus does nothing.
func (NoopSink) UpdateCallStatus(callID, status string, fields StatusFields) {}
