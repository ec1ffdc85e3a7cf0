package callengine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callengine/call"
	"github.com/opd-ai/callengine/media"
	"github.com/opd-ai/callengine/quality"
	"github.com/opd-ai/callengine/recovery"
	"github.com/opd-ai/callengine/signaling"
)

// queueCapacity bounds the per-call event queue. Overflow drops the
// newest item with a warning rather than blocking a producer.
const queueCapacity = 64

// negotiationTimeout bounds one negotiation round trip to the relay.
const negotiationTimeout = 15 * time.Second

// Queue items besides call.Event. Signaling messages and internal
// commands flow through the same ordered queue as state-machine events,
// so everything that touches a session is serialized on its goroutine.
type cmdSignal struct{ msg signaling.Message }

type cmdAnswer struct{ ctx context.Context }

type cmdMediaError struct{ err error }

type cmdConnState struct{ state media.ConnState }

type cmdRestartMedia struct{}

// callRuntime drives one call session: it owns the authoritative
// session value, the media controller, and the per-call timers. All
// mutation happens on the run goroutine.
type callRuntime struct {
	eng *Engine
	id  string

	mu         sync.Mutex
	session    call.Session
	controller *media.Controller
	muted      bool

	queue   chan any
	qmu     sync.Mutex
	qclosed bool

	msgs      <-chan signaling.Message
	cancelSub func()

	monitor    *quality.Monitor
	supervisor *recovery.Supervisor

	durMu   sync.Mutex
	durStop chan struct{}

	// Responder bookkeeping: the remote offer is parked here until the
	// local user answers.
	pendingOffer string
	answered     bool

	done chan struct{}

	log *logrus.Entry
}

// start launches the run loop and the subscription pump.
func (rt *callRuntime) start() {
	go rt.run()
	go func() {
		for msg := range rt.msgs {
			rt.deliver(cmdSignal{msg: msg})
		}
	}()
}

// deliver enqueues one item. Items for a finished call, or beyond the
// queue capacity, are dropped with a warning.
func (rt *callRuntime) deliver(item any) {
	rt.qmu.Lock()
	defer rt.qmu.Unlock()
	if rt.qclosed {
		rt.log.Warn("Dropping event for ended call")
		return
	}
	select {
	case rt.queue <- item:
	default:
		rt.log.Warn("Event queue full, dropping event")
	}
}

func (rt *callRuntime) run() {
	for {
		select {
		case <-rt.done:
			return
		case item := <-rt.queue:
			rt.dispatch(item)
		}
	}
}

func (rt *callRuntime) dispatch(item any) {
	switch v := item.(type) {
	case call.Event:
		rt.apply(v)
	case cmdSignal:
		rt.handleSignal(v.msg)
	case cmdAnswer:
		rt.handleAnswer(v.ctx)
	case cmdMediaError:
		rt.handleMediaError(v.err)
	case cmdConnState:
		rt.handleConnState(v.state)
	case cmdRestartMedia:
		rt.restartMedia()
	default:
		rt.log.Warn("Unknown queue item dropped")
	}
}

// apply runs one event through the transition function, stores the new
// session, and executes the requested effects.
func (rt *callRuntime) apply(ev call.Event) {
	rt.mu.Lock()
	prev := rt.session
	next, effects := call.Transition(prev, ev)
	rt.session = next
	rt.mu.Unlock()

	if prev.State == call.StateReconnecting && next.State == call.StateConnected {
		rt.supervisor.DisarmReconnect()
		rt.supervisor.StopDeviceProbe()
	}

	for _, eff := range effects {
		rt.runEffect(eff, next)
	}

	// A call can finish connecting after another call has taken the
	// foreground; it must not leave two live media paths. Resume and
	// swap are excluded: they move the foreground themselves.
	if next.State == call.StateConnected &&
		prev.State != call.StateConnected && prev.State != call.StateOnHold &&
		rt.eng.shouldHoldBackground(rt.id) {
		rt.deliver(call.EventHold{})
	}

	if next.State == call.StateEnded && prev.State != call.StateEnded {
		rt.finish()
	}
}

func (rt *callRuntime) runEffect(eff call.Effect, snap call.Session) {
	switch e := eff.(type) {
	case call.EffectEmitState:
		rt.eng.notifyState(snap)

	case call.EffectEmitQuality:
		rt.eng.notifyQuality(rt.id, e.Tier)

	case call.EffectPersistStatus:
		rt.persist(e.Status, snap)

	case call.EffectStartDurationTimer:
		rt.startDurationTimer()

	case call.EffectStopTimers:
		rt.stopDurationTimer()
		rt.supervisor.DisarmReconnect()
		rt.supervisor.StopDeviceProbe()

	case call.EffectStartQualityMonitor:
		rt.monitor.Start()

	case call.EffectStopQualityMonitor:
		rt.monitor.Stop()

	case call.EffectTeardownMedia:
		if c := rt.currentController(); c != nil {
			c.Close()
		}
		rt.monitor.Stop()
		rt.supervisor.Stop()

	case call.EffectUnsubscribeSignaling:
		rt.cancelSub()

	case call.EffectSendEndSignal:
		rt.sendEnd(snap)

	case call.EffectRestartICE:
		c := rt.currentController()
		if c == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), negotiationTimeout)
			defer cancel()
			if err := c.RestartICE(ctx); err != nil {
				rt.deliver(cmdMediaError{err: err})
			}
		}()

	case call.EffectStartReconnectDeadline:
		rt.supervisor.ArmReconnectDeadline(func() {
			rt.deliver(call.EventReconnectExpired{})
		})

	case call.EffectScheduleDeviceProbe:
		rt.supervisor.StartDeviceProbe(rt.probeDevice, func() {
			rt.deliver(cmdRestartMedia{})
		})

	case call.EffectProbePermissions:
		recovery.ProbePermission(rt.eng.prober, func(reason call.FailureReason) {
			rt.deliver(call.EventPermissionProbed{Reason: reason})
		})

	case call.EffectRestartMedia:
		rt.restartMedia()

	case call.EffectPauseMedia:
		if c := rt.currentController(); c != nil {
			c.ToggleAudio(false)
		}

	case call.EffectResumeMedia:
		if c := rt.currentController(); c != nil && !rt.isMuted() {
			c.ToggleAudio(true)
		}
	}
}

// persist ships a status update to the sink without blocking the loop.
func (rt *callRuntime) persist(status string, snap call.Session) {
	fields := StatusFields{}
	switch status {
	case call.PersistActive:
		startedAt := snap.StartedAt
		fields.StartedAt = &startedAt
	case call.PersistEnded:
		endedAt := rt.eng.clock.Now()
		duration := snap.DurationSeconds
		fields.EndedAt = &endedAt
		fields.DurationSeconds = &duration
	}
	sink := rt.eng.sink
	go sink.UpdateCallStatus(rt.id, status, fields)
}

// startDurationTimer begins the 1 Hz duration ticks. Starting a running
// timer is a no-op.
func (rt *callRuntime) startDurationTimer() {
	rt.durMu.Lock()
	defer rt.durMu.Unlock()
	if rt.durStop != nil {
		return
	}
	stop := make(chan struct{})
	rt.durStop = stop

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				rt.deliver(call.EventDurationTick{})
			}
		}
	}()
}

func (rt *callRuntime) stopDurationTimer() {
	rt.durMu.Lock()
	defer rt.durMu.Unlock()
	if rt.durStop != nil {
		close(rt.durStop)
		rt.durStop = nil
	}
}

// handleSignal processes one relay message on the run goroutine.
func (rt *callRuntime) handleSignal(msg signaling.Message) {
	switch msg.Type {
	case signaling.TypeOffer:
		sdp, err := signaling.DataString(msg.Data)
		if err != nil {
			rt.log.WithField("error", err.Error()).Warn("Malformed offer payload")
			return
		}
		rt.mu.Lock()
		parked := rt.session.Role == call.RoleResponder && !rt.answered
		if parked {
			rt.pendingOffer = sdp
		}
		c := rt.controller
		rt.mu.Unlock()
		if parked {
			rt.log.Debug("Remote offer parked until the call is answered")
			return
		}
		if c == nil {
			rt.log.Warn("Offer with no active media controller")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), negotiationTimeout)
		defer cancel()
		if err := c.ApplyRemoteOffer(ctx, sdp); err != nil {
			rt.handleMediaError(err)
		}

	case signaling.TypeAnswer:
		sdp, err := signaling.DataString(msg.Data)
		if err != nil {
			rt.log.WithField("error", err.Error()).Warn("Malformed answer payload")
			return
		}
		c := rt.currentController()
		if c == nil {
			rt.log.Warn("Answer with no active media controller")
			return
		}
		if err := c.ApplyRemoteAnswer(sdp); err != nil {
			rt.handleMediaError(err)
		}

	case signaling.TypeICECandidate:
		cand, err := media.ParseCandidate(msg.Data)
		if err != nil {
			rt.log.WithField("error", err.Error()).Warn("Malformed ICE candidate payload")
			return
		}
		if c := rt.currentController(); c != nil {
			c.AddRemoteCandidate(cand)
		}

	case signaling.TypeEnd:
		rt.apply(call.EventRemoteEnded{})

	case signaling.TypeDTMFEcho:
		digit, err := signaling.DataString(msg.Data)
		if err != nil {
			return
		}
		rt.log.WithField("digit", digit).Debug("Remote DTMF keypress")

	default:
		rt.log.WithField("type", string(msg.Type)).Warn("Unhandled signaling message type")
	}
}

// handleAnswer accepts the parked remote offer after the local user
// answered.
func (rt *callRuntime) handleAnswer(ctx context.Context) {
	rt.mu.Lock()
	offer := rt.pendingOffer
	rt.pendingOffer = ""
	rt.answered = true
	c := rt.controller
	rt.mu.Unlock()

	if offer == "" {
		rt.log.Warn("Answer requested with no pending offer")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, negotiationTimeout)
	defer cancel()
	if err := c.ApplyRemoteOffer(ctx, offer); err != nil {
		rt.handleMediaError(err)
	}
}

// handleMediaError classifies a controller failure and feeds the
// verdict into the state machine.
func (rt *callRuntime) handleMediaError(err error) {
	decision := recovery.Classify(err)
	rt.log.WithFields(logrus.Fields{
		"error":    err.Error(),
		"decision": decision.String(),
	}).Warn("Media failure reported")

	if decision == recovery.DecisionSignalingLost {
		rt.apply(call.EventSignalingLost{})
		return
	}
	rt.apply(call.EventMediaFailure{Class: decision.FailureClass()})
}

// handleConnState reacts to peer connection transport state changes.
// Connected is the authoritative answer signal; a dropped path is
// treated as a transient media failure.
func (rt *callRuntime) handleConnState(state media.ConnState) {
	switch state {
	case media.ConnConnected:
		rt.apply(call.EventTransportUsable{At: rt.eng.clock.Now()})
	case media.ConnDisconnected, media.ConnFailed:
		rt.apply(call.EventMediaFailure{Class: call.FailureTransient})
	}
}

// probeDevice checks whether local media can be acquired again after a
// device-busy failure. The probe stream is released immediately.
func (rt *callRuntime) probeDevice() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := media.StreamRequest{Audio: true, Video: rt.snapshot().Kind == call.KindVideo}
	stream, err := rt.eng.platform.AcquireMedia(ctx, req)
	if err != nil {
		return false
	}
	stream.Close()
	return true
}

// restartMedia tears down the old controller and renegotiates from
// scratch. The restart side always produces the new offer regardless of
// who initiated the original call.
func (rt *callRuntime) restartMedia() {
	if old := rt.currentController(); old != nil {
		old.Close()
	}

	ctrl := rt.eng.newController(rt, call.RoleInitiator)
	rt.mu.Lock()
	rt.controller = ctrl
	rt.mu.Unlock()

	rt.log.Info("Restarting media negotiation")
	go rt.startController(context.Background(), ctrl)
}

// startController runs controller negotiation off the loop goroutine,
// routing failures back through the queue.
func (rt *callRuntime) startController(ctx context.Context, ctrl *media.Controller) {
	ctx, cancel := context.WithTimeout(ctx, negotiationTimeout)
	defer cancel()
	if err := ctrl.Start(ctx); err != nil {
		rt.deliver(cmdMediaError{err: err})
	}
}

// sendEnd publishes the end signal so the remote side tears down
// promptly. Best effort: the local teardown already happened.
func (rt *callRuntime) sendEnd(snap call.Session) {
	msg := signaling.Message{
		Type:   signaling.TypeEnd,
		CallID: rt.id,
		From:   snap.LocalParticipant,
		To:     snap.RemoteParticipant,
		SentAt: rt.eng.clock.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.eng.sender.Send(ctx, msg); err != nil {
			rt.log.WithField("error", err.Error()).Warn("End signal not delivered")
		}
	}()
}

// finish closes the queue and unregisters the runtime. Idempotent.
func (rt *callRuntime) finish() {
	rt.qmu.Lock()
	if rt.qclosed {
		rt.qmu.Unlock()
		return
	}
	rt.qclosed = true
	rt.qmu.Unlock()

	close(rt.done)
	rt.eng.release(rt)
	rt.log.Info("Call runtime finished")
}

// sampleStats adapts controller statistics for the quality monitor.
func (rt *callRuntime) sampleStats() (quality.Sample, error) {
	c := rt.currentController()
	if c == nil {
		return quality.Sample{}, media.ErrControllerClosed
	}
	s, err := c.ReadInboundStats(rt.snapshot().Kind)
	if err != nil {
		return quality.Sample{}, err
	}
	return quality.Sample{PacketLoss: s.PacketLoss, Jitter: s.Jitter, Timestamp: s.Timestamp}, nil
}

// snapshot returns a copy of the current session.
func (rt *callRuntime) snapshot() call.Session {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.session
}

func (rt *callRuntime) currentController() *media.Controller {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.controller
}

func (rt *callRuntime) isMuted() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.muted
}

// toggleMute flips the mute flag and applies it to the controller,
// returning the new muted state.
func (rt *callRuntime) toggleMute() bool {
	rt.mu.Lock()
	rt.muted = !rt.muted
	muted := rt.muted
	c := rt.controller
	rt.mu.Unlock()

	if c != nil {
		c.ToggleAudio(!muted)
	}
	return muted
}
