// Package call implements the call lifecycle state machine.
//
// The state machine is the single source of truth for a call session's
// lifecycle. All other engine components emit events into it and read
// state from it. Transitions are pure: Transition returns the updated
// session plus a list of side effects, and the effects are executed by a
// separate runner. This keeps the machine deterministically testable.
package call

import "fmt"

// State represents the lifecycle state of a call session.
type State int

const (
	// StateIdle indicates no call activity for this session yet.
	StateIdle State = iota
	// StateConnecting indicates negotiation is in progress.
	StateConnecting
	// StateRinging indicates the remote party is being alerted.
	// Reachable only for the initiating side.
	StateRinging
	// StateConnected indicates a usable media path exists.
	StateConnected
	// StateOnHold indicates the session is held with media paused.
	StateOnHold
	// StateReconnecting indicates a recoverable failure is being retried.
	StateReconnecting
	// StateFailed indicates a terminal failure. The UI may offer a retry
	// from this state, unlike StateEnded.
	StateFailed
	// StateEnded indicates the call is over and the session is dead.
	StateEnded
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateRinging:
		return "Ringing"
	case StateConnected:
		return "Connected"
	case StateOnHold:
		return "OnHold"
	case StateReconnecting:
		return "Reconnecting"
	case StateFailed:
		return "Failed"
	case StateEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsTerminal returns true if no further lifecycle progress is possible
// other than retry (StateFailed) or nothing at all (StateEnded).
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateEnded
}

// Role indicates which side of the call this session represents.
type Role int

const (
	// RoleInitiator placed the call and creates the offer.
	RoleInitiator Role = iota
	// RoleResponder received the call and creates the answer.
	RoleResponder
)

// String returns the string representation of Role.
func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "Initiator"
	case RoleResponder:
		return "Responder"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// Kind indicates the media kind the call was started with.
type Kind int

const (
	// KindVoice is an audio-only call.
	KindVoice Kind = iota
	// KindVideo is an audio plus video call.
	KindVideo
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindVoice:
		return "Voice"
	case KindVideo:
		return "Video"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// FailureReason explains why a session entered StateFailed, or carries
// remediation context while it is still alive. It is the only error
// detail ever surfaced to the UI.
type FailureReason int

const (
	// ReasonNone indicates no failure has been recorded.
	ReasonNone FailureReason = iota
	// ReasonPermissionDenied indicates the OS denied mic/camera access.
	ReasonPermissionDenied
	// ReasonDeviceBlocked indicates the app-level capture pipeline is
	// blocked even though the OS permission is granted.
	ReasonDeviceBlocked
	// ReasonNegotiationTimeout indicates the reconnect budget expired.
	ReasonNegotiationTimeout
	// ReasonSignalingUnreachable indicates the relay could not be reached
	// after bounded retries.
	ReasonSignalingUnreachable
)

// String returns the string representation of FailureReason.
func (r FailureReason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonPermissionDenied:
		return "PermissionDenied"
	case ReasonDeviceBlocked:
		return "DeviceBlocked"
	case ReasonNegotiationTimeout:
		return "NegotiationTimeout"
	case ReasonSignalingUnreachable:
		return "SignalingUnreachable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}
