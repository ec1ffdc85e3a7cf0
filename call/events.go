package call

import "time"

// Event is something that happened to a call session. Events are pushed
// into the session's ordered queue and applied through Transition one at
// a time.
type Event interface {
	event()
}

// FailureClass is the recovery supervisor's classification of a media or
// transport failure. The state machine only ever sees the class, never
// the raw error.
type FailureClass int

const (
	// FailurePermission is a non-retryable permission denial.
	FailurePermission FailureClass = iota
	// FailureDeviceBusy is a transient device conflict, retried without
	// counting against the retry budget.
	FailureDeviceBusy
	// FailureTransient covers every other media/ICE error, retried with
	// an ICE restart under a bounded deadline.
	FailureTransient
)

// String returns the string representation of FailureClass.
func (c FailureClass) String() string {
	switch c {
	case FailurePermission:
		return "Permission"
	case FailureDeviceBusy:
		return "DeviceBusy"
	case FailureTransient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// EventDial starts an outgoing call. Valid only in StateIdle.
type EventDial struct{}

// EventIncoming registers an incoming call created from the first
// inbound signaling message for an unknown call id. Valid only in
// StateIdle.
type EventIncoming struct{}

// EventOfferSent reports that the local offer reached the relay and the
// remote side is being alerted. Moves an initiator to StateRinging;
// responders stay in StateConnecting.
type EventOfferSent struct{}

// EventTransportUsable reports that the peer connection has a usable
// media path. This, not offer/answer completion, is the authoritative
// "call answered" signal: it stops ringback and starts the duration
// timer.
type EventTransportUsable struct {
	At time.Time
}

// EventHold freezes the session's media. Valid only in StateConnected.
type EventHold struct{}

// EventResume reactivates a held session. Valid only in StateOnHold.
type EventResume struct{}

// EventMediaFailure carries the supervisor's classification of a media
// controller failure.
type EventMediaFailure struct {
	Class FailureClass
}

// EventSignalingLost reports that the relay stayed unreachable after
// bounded send retries.
type EventSignalingLost struct{}

// EventReconnectExpired fires when a session stuck in StateReconnecting
// exhausts its recovery deadline.
type EventReconnectExpired struct{}

// EventPermissionProbed refines the failure reason after the async
// platform permission probe completes.
type EventPermissionProbed struct {
	Reason FailureReason
}

// EventRemoteEnded is the authoritative remote hangup. Moves any
// non-ended state to StateEnded immediately.
type EventRemoteEnded struct{}

// EventEndRequested is the local hangup. Idempotent: applying it to a
// session that is already Ended is a no-op.
type EventEndRequested struct{}

// EventRetry restarts negotiation from StateFailed.
type EventRetry struct{}

// EventDurationTick advances DurationSeconds by one. Emitted at 1 Hz
// while the call is alive.
type EventDurationTick struct{}

// EventQualityChanged updates the display quality tier. Never forces a
// lifecycle transition.
type EventQualityChanged struct {
	Tier string
}

// EventVideoUpgraded records a successful voice-to-video upgrade.
type EventVideoUpgraded struct{}

// EventMerged attaches the conference participant set produced by a
// successful merge.
type EventMerged struct {
	Participants []ConferenceParticipant
}

func (EventDial) event()             {}
func (EventIncoming) event()         {}
func (EventOfferSent) event()        {}
func (EventTransportUsable) event()  {}
func (EventHold) event()             {}
func (EventResume) event()           {}
func (EventMediaFailure) event()     {}
func (EventSignalingLost) event()    {}
func (EventReconnectExpired) event() {}
func (EventPermissionProbed) event() {}
func (EventRemoteEnded) event()      {}
func (EventEndRequested) event()     {}
func (EventRetry) event()            {}
func (EventDurationTick) event()     {}
func (EventQualityChanged) event()   {}
func (EventVideoUpgraded) event()    {}
func (EventMerged) event()           {}
