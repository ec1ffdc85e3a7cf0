package call

import "time"

// Session holds the full observable state of one call. It is a plain
// value: the engine owns the authoritative copy and mutates it only by
// applying Transition on the session's event goroutine, so no locking is
// needed here. Snapshots handed to listeners are copies.
type Session struct {
	// ID is the call identifier shared with the remote peer through the
	// signaling relay.
	ID string

	// LocalParticipant and RemoteParticipant identify the two parties.
	LocalParticipant  string
	RemoteParticipant string

	Role Role
	Kind Kind

	State State

	// FailureReason is set when entering StateFailed and refined by the
	// asynchronous permission probe. ReasonNone otherwise.
	FailureReason FailureReason

	// StartedAt is the moment the transport first became usable. Zero
	// until then.
	StartedAt time.Time

	// DurationSeconds counts whole seconds since StartedAt, advanced by
	// 1 Hz duration ticks while the call is alive.
	DurationSeconds int

	// Quality is the most recent classification tier ("excellent",
	// "good", "poor"). Empty before the first sample.
	Quality string

	// Participants lists the remote members of a merged conference.
	// Empty for a plain two-party call.
	Participants []ConferenceParticipant
}

// ConferenceParticipant describes one leg of a merged conference call.
type ConferenceParticipant struct {
	ID          string
	DisplayName string
	IsMuted     bool
	IsOnHold    bool
}

// NewSession creates a session in StateIdle for the given parties.
func NewSession(id, localID, remoteID string, role Role, kind Kind) Session {
	return Session{
		ID:                id,
		LocalParticipant:  localID,
		RemoteParticipant: remoteID,
		Role:              role,
		Kind:              kind,
		State:             StateIdle,
	}
}
