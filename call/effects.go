package call

// Effect is a side effect requested by a transition. Effects are never
// executed inside Transition itself; the engine's effect runner performs
// them after the new session value has been stored.
type Effect interface {
	effect()
}

// EffectEmitState notifies state-change listeners with a fresh snapshot.
type EffectEmitState struct{}

// EffectEmitQuality notifies quality listeners of a tier change.
type EffectEmitQuality struct {
	Tier string
}

// EffectPersistStatus sends a fire-and-forget status update to the
// persistence sink.
type EffectPersistStatus struct {
	Status string
}

// EffectStartDurationTimer begins the 1 Hz duration ticks.
type EffectStartDurationTimer struct{}

// EffectStopTimers cancels the duration timer and any recovery timers.
type EffectStopTimers struct{}

// EffectStartQualityMonitor begins 2 s quality sampling.
type EffectStartQualityMonitor struct{}

// EffectStopQualityMonitor halts quality sampling.
type EffectStopQualityMonitor struct{}

// EffectTeardownMedia closes the media session controller.
type EffectTeardownMedia struct{}

// EffectUnsubscribeSignaling cancels the relay subscription for the
// call id. Events arriving afterwards are dropped with a warning.
type EffectUnsubscribeSignaling struct{}

// EffectSendEndSignal publishes the end message so the remote side tears
// down promptly.
type EffectSendEndSignal struct{}

// EffectRestartICE asks the media controller for an ICE restart.
type EffectRestartICE struct{}

// EffectStartReconnectDeadline arms the bounded recovery deadline.
type EffectStartReconnectDeadline struct{}

// EffectScheduleDeviceProbe arms the periodic device re-probe used for
// device-busy recovery.
type EffectScheduleDeviceProbe struct{}

// EffectProbePermissions launches the best-effort asynchronous platform
// permission probe that refines the failure reason.
type EffectProbePermissions struct{}

// EffectRestartMedia re-runs negotiation from scratch after a retry from
// StateFailed.
type EffectRestartMedia struct{}

// EffectPauseMedia disables outbound audio without closing the
// controller (hold).
type EffectPauseMedia struct{}

// EffectResumeMedia re-enables outbound audio after hold.
type EffectResumeMedia struct{}

func (EffectEmitState) effect()              {}
func (EffectEmitQuality) effect()            {}
func (EffectPersistStatus) effect()          {}
func (EffectStartDurationTimer) effect()     {}
func (EffectStopTimers) effect()             {}
func (EffectStartQualityMonitor) effect()    {}
func (EffectStopQualityMonitor) effect()     {}
func (EffectTeardownMedia) effect()          {}
func (EffectUnsubscribeSignaling) effect()   {}
func (EffectSendEndSignal) effect()          {}
func (EffectRestartICE) effect()             {}
func (EffectStartReconnectDeadline) effect() {}
func (EffectScheduleDeviceProbe) effect()    {}
func (EffectProbePermissions) effect()       {}
func (EffectRestartMedia) effect()           {}
func (EffectPauseMedia) effect()             {}
func (EffectResumeMedia) effect()            {}
