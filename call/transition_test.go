package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(role Role) Session {
	return NewSession("call-1", "alice", "bob", role, KindVoice)
}

func connectedSession() Session {
	s := newTestSession(RoleInitiator)
	s, _ = Transition(s, EventDial{})
	s, _ = Transition(s, EventOfferSent{})
	s, _ = Transition(s, EventTransportUsable{At: time.Unix(1000, 0)})
	return s
}

func TestLifecycleHappyPath(t *testing.T) {
	s := newTestSession(RoleInitiator)

	s, effects := Transition(s, EventDial{})
	assert.Equal(t, StateConnecting, s.State)
	require.Len(t, effects, 2)
	assert.Equal(t, EffectPersistStatus{Status: PersistRinging}, effects[1])

	s, _ = Transition(s, EventOfferSent{})
	assert.Equal(t, StateRinging, s.State)

	answered := time.Unix(1000, 0)
	s, effects = Transition(s, EventTransportUsable{At: answered})
	assert.Equal(t, StateConnected, s.State)
	assert.Equal(t, answered, s.StartedAt)
	assert.Equal(t, 0, s.DurationSeconds)
	assert.Contains(t, effects, Effect(EffectStartDurationTimer{}))
	assert.Contains(t, effects, Effect(EffectStartQualityMonitor{}))
	assert.Contains(t, effects, Effect(EffectPersistStatus{Status: PersistActive}))

	for i := 0; i < 3; i++ {
		s, _ = Transition(s, EventDurationTick{})
	}
	assert.Equal(t, 3, s.DurationSeconds)
}

func TestResponderNeverRings(t *testing.T) {
	s := newTestSession(RoleResponder)
	s, _ = Transition(s, EventIncoming{})
	require.Equal(t, StateConnecting, s.State)

	s, effects := Transition(s, EventOfferSent{})
	assert.Equal(t, StateConnecting, s.State)
	assert.Empty(t, effects)
}

func TestEndIsIdempotent(t *testing.T) {
	s := connectedSession()

	s, effects := Transition(s, EventEndRequested{})
	assert.Equal(t, StateEnded, s.State)
	assert.Contains(t, effects, Effect(EffectPersistStatus{Status: PersistEnded}))
	assert.Contains(t, effects, Effect(EffectSendEndSignal{}))
	assert.Contains(t, effects, Effect(EffectTeardownMedia{}))
	assert.Contains(t, effects, Effect(EffectUnsubscribeSignaling{}))

	// A second hangup, local or remote, must not produce a second
	// teardown or persistence update.
	s2, effects := Transition(s, EventEndRequested{})
	assert.Equal(t, s, s2)
	assert.Empty(t, effects)

	s3, effects := Transition(s, EventRemoteEnded{})
	assert.Equal(t, s, s3)
	assert.Empty(t, effects)
}

func TestRemoteEndedTearsDownImmediately(t *testing.T) {
	s := connectedSession()
	s, effects := Transition(s, EventRemoteEnded{})
	assert.Equal(t, StateEnded, s.State)
	assert.Contains(t, effects, Effect(EffectTeardownMedia{}))
	assert.NotContains(t, effects, Effect(EffectSendEndSignal{}))
}

func TestHoldAndResume(t *testing.T) {
	s := connectedSession()

	s, effects := Transition(s, EventHold{})
	assert.Equal(t, StateOnHold, s.State)
	assert.Contains(t, effects, Effect(EffectPauseMedia{}))
	assert.Contains(t, effects, Effect(EffectStopQualityMonitor{}))

	s, effects = Transition(s, EventResume{})
	assert.Equal(t, StateConnected, s.State)
	assert.Contains(t, effects, Effect(EffectResumeMedia{}))
	assert.Contains(t, effects, Effect(EffectStartQualityMonitor{}))
}

func TestPermissionFailureIsNotAutoEnded(t *testing.T) {
	s := connectedSession()

	s, effects := Transition(s, EventMediaFailure{Class: FailurePermission})
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, ReasonPermissionDenied, s.FailureReason)
	assert.Contains(t, effects, Effect(EffectProbePermissions{}))
	// Failed is terminal but the session stays queryable; no teardown of
	// the signaling subscription and no "ended" persistence update.
	assert.NotContains(t, effects, Effect(EffectUnsubscribeSignaling{}))
	assert.NotContains(t, effects, Effect(EffectPersistStatus{Status: PersistEnded}))
}

func TestPermissionProbeRefinesReason(t *testing.T) {
	s := connectedSession()
	s, _ = Transition(s, EventMediaFailure{Class: FailurePermission})

	s, effects := Transition(s, EventPermissionProbed{Reason: ReasonDeviceBlocked})
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, ReasonDeviceBlocked, s.FailureReason)
	assert.Contains(t, effects, Effect(EffectEmitState{}))
}

func TestDeviceBusySchedulesReprobeWithoutDeadline(t *testing.T) {
	s := connectedSession()

	s, effects := Transition(s, EventMediaFailure{Class: FailureDeviceBusy})
	assert.Equal(t, StateReconnecting, s.State)
	assert.Contains(t, effects, Effect(EffectScheduleDeviceProbe{}))
	assert.NotContains(t, effects, Effect(EffectStartReconnectDeadline{}))

	// Repeated busy reports while already re-probing arm nothing new.
	s2, effects := Transition(s, EventMediaFailure{Class: FailureDeviceBusy})
	assert.Equal(t, s, s2)
	assert.Empty(t, effects)
}

func TestTransientFailureRestartsICEUnderDeadline(t *testing.T) {
	s := connectedSession()

	s, effects := Transition(s, EventMediaFailure{Class: FailureTransient})
	assert.Equal(t, StateReconnecting, s.State)
	assert.Contains(t, effects, Effect(EffectRestartICE{}))
	assert.Contains(t, effects, Effect(EffectStartReconnectDeadline{}))
}

func TestReconnectExpiry(t *testing.T) {
	s := connectedSession()
	s, _ = Transition(s, EventMediaFailure{Class: FailureTransient})

	s, _ = Transition(s, EventReconnectExpired{})
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, ReasonNegotiationTimeout, s.FailureReason)
}

func TestSignalingLostKeepsItsReasonOnExpiry(t *testing.T) {
	s := connectedSession()

	s, _ = Transition(s, EventSignalingLost{})
	assert.Equal(t, StateReconnecting, s.State)
	assert.Equal(t, ReasonSignalingUnreachable, s.FailureReason)

	s, _ = Transition(s, EventReconnectExpired{})
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, ReasonSignalingUnreachable, s.FailureReason)
}

func TestReconnectRecovery(t *testing.T) {
	s := connectedSession()
	s, _ = Transition(s, EventMediaFailure{Class: FailureTransient})

	s, effects := Transition(s, EventTransportUsable{At: time.Unix(2000, 0)})
	assert.Equal(t, StateConnected, s.State)
	assert.Equal(t, ReasonNone, s.FailureReason)
	// Recovery must not reset the call clock.
	assert.Equal(t, time.Unix(1000, 0), s.StartedAt)
	assert.NotContains(t, effects, Effect(EffectStartDurationTimer{}))
	assert.NotContains(t, effects, Effect(EffectPersistStatus{Status: PersistActive}))
}

func TestDurationAdvancesWhileReconnecting(t *testing.T) {
	s := connectedSession()
	s, _ = Transition(s, EventMediaFailure{Class: FailureTransient})

	s, _ = Transition(s, EventDurationTick{})
	assert.Equal(t, 1, s.DurationSeconds)
}

func TestRetryFromFailed(t *testing.T) {
	s := connectedSession()
	s, _ = Transition(s, EventMediaFailure{Class: FailurePermission})
	require.Equal(t, StateFailed, s.State)

	s, effects := Transition(s, EventRetry{})
	assert.Equal(t, StateConnecting, s.State)
	assert.Equal(t, ReasonNone, s.FailureReason)
	assert.Contains(t, effects, Effect(EffectRestartMedia{}))
}

func TestQualityChangeIsDisplayOnly(t *testing.T) {
	s := connectedSession()

	s, effects := Transition(s, EventQualityChanged{Tier: "poor"})
	assert.Equal(t, StateConnected, s.State)
	assert.Equal(t, "poor", s.Quality)
	require.Len(t, effects, 1)
	assert.Equal(t, EffectEmitQuality{Tier: "poor"}, effects[0])
}

func TestVideoUpgrade(t *testing.T) {
	s := connectedSession()
	require.Equal(t, KindVoice, s.Kind)

	s, _ = Transition(s, EventVideoUpgraded{})
	assert.Equal(t, KindVideo, s.Kind)
}

func TestMergeAttachesParticipants(t *testing.T) {
	s := connectedSession()
	participants := []ConferenceParticipant{
		{ID: "bob"}, {ID: "carol"},
	}

	s, _ = Transition(s, EventMerged{Participants: participants})
	assert.Equal(t, participants, s.Participants)
}

func TestInvalidEventsAreIgnored(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		event   Event
	}{
		{"hold while idle", newTestSession(RoleInitiator), EventHold{}},
		{"resume while connected", connectedSession(), EventResume{}},
		{"dial twice", mustState(newTestSession(RoleInitiator), EventDial{}), EventDial{}},
		{"retry while connected", connectedSession(), EventRetry{}},
		{"tick before connect", newTestSession(RoleInitiator), EventDurationTick{}},
		{"quality while holding", mustState(connectedSession(), EventHold{}), EventQualityChanged{Tier: "good"}},
		{"merge while ringing", mustState(mustState(newTestSession(RoleInitiator), EventDial{}), EventOfferSent{}), EventMerged{}},
		{"expiry while connected", connectedSession(), EventReconnectExpired{}},
		{"transport usable after end", mustState(connectedSession(), EventEndRequested{}), EventTransportUsable{At: time.Now()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, effects := Transition(tt.session, tt.event)
			assert.Equal(t, tt.session, next)
			assert.Empty(t, effects)
		})
	}
}

func mustState(s Session, ev Event) Session {
	next, _ := Transition(s, ev)
	return next
}
