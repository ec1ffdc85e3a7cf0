package call

import (
	"github.com/sirupsen/logrus"
)

// Persistence statuses reported through EffectPersistStatus. These match
// the external persistence sink contract.
const (
	PersistRinging = "ringing"
	PersistActive  = "active"
	PersistEnded   = "ended"
)

// Transition applies one event to a session and returns the updated
// session plus the side effects to run. It is a pure function: it never
// touches timers, transports, or media itself.
//
// Events that are not valid for the current state return the session
// unchanged with zero effects. Out-of-order signaling after termination
// is expected, not exceptional, so these no-ops only log a warning.
func Transition(s Session, ev Event) (Session, []Effect) {
	switch e := ev.(type) {
	case EventDial:
		if s.State != StateIdle {
			return ignore(s, ev)
		}
		s.State = StateConnecting
		return s, []Effect{EffectEmitState{}, EffectPersistStatus{Status: PersistRinging}}

	case EventIncoming:
		if s.State != StateIdle {
			return ignore(s, ev)
		}
		s.State = StateConnecting
		return s, []Effect{EffectEmitState{}, EffectPersistStatus{Status: PersistRinging}}

	case EventOfferSent:
		// Only the initiating side rings; a responder keeps negotiating.
		if s.State != StateConnecting || s.Role != RoleInitiator {
			return ignore(s, ev)
		}
		s.State = StateRinging
		return s, []Effect{EffectEmitState{}}

	case EventTransportUsable:
		switch s.State {
		case StateConnecting, StateRinging:
			s.State = StateConnected
			s.StartedAt = e.At
			s.DurationSeconds = 0
			return s, []Effect{
				EffectEmitState{},
				EffectStartDurationTimer{},
				EffectStartQualityMonitor{},
				EffectPersistStatus{Status: PersistActive},
			}
		case StateReconnecting:
			s.State = StateConnected
			s.FailureReason = ReasonNone
			return s, []Effect{
				EffectEmitState{},
				EffectStartQualityMonitor{},
			}
		default:
			return ignore(s, ev)
		}

	case EventHold:
		if s.State != StateConnected {
			return ignore(s, ev)
		}
		s.State = StateOnHold
		return s, []Effect{EffectEmitState{}, EffectPauseMedia{}, EffectStopQualityMonitor{}}

	case EventResume:
		if s.State != StateOnHold {
			return ignore(s, ev)
		}
		s.State = StateConnected
		return s, []Effect{EffectEmitState{}, EffectResumeMedia{}, EffectStartQualityMonitor{}}

	case EventMediaFailure:
		return applyMediaFailure(s, e)

	case EventSignalingLost:
		switch s.State {
		case StateConnecting, StateRinging, StateConnected, StateOnHold:
			s.State = StateReconnecting
			s.FailureReason = ReasonSignalingUnreachable
			return s, []Effect{EffectEmitState{}, EffectStopQualityMonitor{}, EffectStartReconnectDeadline{}}
		default:
			return ignore(s, ev)
		}

	case EventReconnectExpired:
		if s.State != StateReconnecting {
			return ignore(s, ev)
		}
		s.State = StateFailed
		if s.FailureReason == ReasonNone {
			s.FailureReason = ReasonNegotiationTimeout
		}
		return s, []Effect{EffectEmitState{}, EffectStopTimers{}}

	case EventPermissionProbed:
		// Refines the remediation message only; the state stays put.
		if s.FailureReason != ReasonPermissionDenied && s.FailureReason != ReasonDeviceBlocked {
			return ignore(s, ev)
		}
		s.FailureReason = e.Reason
		return s, []Effect{EffectEmitState{}}

	case EventRemoteEnded:
		if s.State == StateEnded {
			return ignore(s, ev)
		}
		return endSession(s)

	case EventEndRequested:
		if s.State == StateEnded {
			return ignore(s, ev)
		}
		sess, effects := endSession(s)
		return sess, append(effects, EffectSendEndSignal{})

	case EventRetry:
		if s.State != StateFailed {
			return ignore(s, ev)
		}
		s.State = StateConnecting
		s.FailureReason = ReasonNone
		return s, []Effect{EffectEmitState{}, EffectRestartMedia{}, EffectPersistStatus{Status: PersistRinging}}

	case EventDurationTick:
		switch s.State {
		case StateConnected, StateOnHold, StateReconnecting:
			s.DurationSeconds++
			return s, nil
		default:
			return ignore(s, ev)
		}

	case EventQualityChanged:
		// Display only: quality degradation alone never forces a
		// lifecycle transition.
		if s.State != StateConnected {
			return ignore(s, ev)
		}
		s.Quality = e.Tier
		return s, []Effect{EffectEmitQuality{Tier: e.Tier}}

	case EventVideoUpgraded:
		if s.State != StateConnected {
			return ignore(s, ev)
		}
		s.Kind = KindVideo
		return s, []Effect{EffectEmitState{}}

	case EventMerged:
		if s.State != StateConnected {
			return ignore(s, ev)
		}
		s.Participants = e.Participants
		return s, []Effect{EffectEmitState{}}

	default:
		return ignore(s, ev)
	}
}

// applyMediaFailure implements the recovery policy table. The class has
// already been decided by the supervisor.
func applyMediaFailure(s Session, e EventMediaFailure) (Session, []Effect) {
	switch s.State {
	case StateConnecting, StateRinging, StateConnected, StateOnHold, StateReconnecting:
	default:
		return ignore(s, e)
	}

	switch e.Class {
	case FailurePermission:
		// Terminal but never auto-ended: the user may retry or hang up.
		s.State = StateFailed
		s.FailureReason = ReasonPermissionDenied
		return s, []Effect{
			EffectEmitState{},
			EffectStopQualityMonitor{},
			EffectStopTimers{},
			EffectProbePermissions{},
		}

	case FailureDeviceBusy:
		if s.State == StateReconnecting {
			// Already re-probing; nothing new to arm.
			return s, nil
		}
		s.State = StateReconnecting
		return s, []Effect{EffectEmitState{}, EffectStopQualityMonitor{}, EffectScheduleDeviceProbe{}}

	default: // FailureTransient
		if s.State == StateReconnecting {
			return s, nil
		}
		s.State = StateReconnecting
		return s, []Effect{
			EffectEmitState{},
			EffectStopQualityMonitor{},
			EffectRestartICE{},
			EffectStartReconnectDeadline{},
		}
	}
}

// endSession moves any live session to StateEnded with full teardown.
func endSession(s Session) (Session, []Effect) {
	s.State = StateEnded
	return s, []Effect{
		EffectEmitState{},
		EffectStopTimers{},
		EffectStopQualityMonitor{},
		EffectTeardownMedia{},
		EffectUnsubscribeSignaling{},
		EffectPersistStatus{Status: PersistEnded},
	}
}

// ignore logs and drops an event that is not valid for the current state.
func ignore(s Session, ev Event) (Session, []Effect) {
	logrus.WithFields(logrus.Fields{
		"function": "Transition",
		"call_id":  s.ID,
		"state":    s.State.String(),
		"event":    eventName(ev),
	}).Warn("Ignoring event not valid for current state")
	return s, nil
}

func eventName(ev Event) string {
	switch ev.(type) {
	case EventDial:
		return "Dial"
	case EventIncoming:
		return "Incoming"
	case EventOfferSent:
		return "OfferSent"
	case EventTransportUsable:
		return "TransportUsable"
	case EventHold:
		return "Hold"
	case EventResume:
		return "Resume"
	case EventMediaFailure:
		return "MediaFailure"
	case EventSignalingLost:
		return "SignalingLost"
	case EventReconnectExpired:
		return "ReconnectExpired"
	case EventPermissionProbed:
		return "PermissionProbed"
	case EventRemoteEnded:
		return "RemoteEnded"
	case EventEndRequested:
		return "EndRequested"
	case EventRetry:
		return "Retry"
	case EventDurationTick:
		return "DurationTick"
	case EventQualityChanged:
		return "QualityChanged"
	case EventVideoUpgraded:
		return "VideoUpgraded"
	case EventMerged:
		return "Merged"
	default:
		return "Unknown"
	}
}
