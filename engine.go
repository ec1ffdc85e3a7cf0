package callengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callengine/audioroute"
	"github.com/opd-ai/callengine/call"
	"github.com/opd-ai/callengine/media"
	"github.com/opd-ai/callengine/quality"
	"github.com/opd-ai/callengine/recovery"
	"github.com/opd-ai/callengine/signaling"
)

// maxConcurrentCalls bounds the live sessions per engine: one active
// call plus one on hold.
const maxConcurrentCalls = 2

// Config assembles an Engine. Transport, Platform, and the participant
// id are required; everything else has a working default.
type Config struct {
	// LocalParticipantID identifies this endpoint on the relay.
	LocalParticipantID string

	// Transport is this participant's relay endpoint.
	Transport signaling.Transport

	// Platform provides media capture and peer connections.
	Platform media.Platform

	// Persistence receives fire-and-forget call status updates.
	// Defaults to NoopSink.
	Persistence PersistenceSink

	// PermissionProber refines permission-class failures. Optional.
	PermissionProber recovery.Prober

	// AudioOutputs enables audio route management. Optional.
	AudioOutputs audioroute.Enumerator

	// Options tunes timings and logging. Nil takes DefaultOptions.
	Options *Options

	// Clock overrides the wall clock in tests.
	Clock TimeProvider
}

// Engine owns every live call session for one participant. All methods
// are safe for concurrent use.
type Engine struct {
	localID   string
	transport signaling.Transport
	sender    *signaling.ReliableSender
	platform  media.Platform
	sink      PersistenceSink
	prober    recovery.Prober
	routes    *audioroute.Manager
	opts      Options
	clock     TimeProvider

	mu               sync.RWMutex
	calls            map[string]*callRuntime
	foregroundID     string
	conf             *conferenceState
	stateListeners   []func(call.Session)
	qualityListeners []func(callID, tier string)
	running          bool
	closed           bool

	// mergeHook runs between merge validation and commit so tests can
	// race a leg drop against the merge window.
	mergeHook func()

	done chan struct{}

	log *logrus.Entry
}

// New assembles an engine from the config. The engine does not consume
// incoming calls until Start.
func New(cfg Config) (*Engine, error) {
	if cfg.LocalParticipantID == "" {
		return nil, errors.New("callengine: missing local participant id")
	}
	if cfg.Transport == nil {
		return nil, errors.New("callengine: missing signaling transport")
	}
	if cfg.Platform == nil {
		return nil, errors.New("callengine: missing media platform")
	}

	opts := DefaultOptions()
	if cfg.Options != nil {
		opts = *cfg.Options
	}
	sink := cfg.Persistence
	if sink == nil {
		sink = NoopSink{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = DefaultTimeProvider{}
	}

	e := &Engine{
		localID:   cfg.LocalParticipantID,
		transport: cfg.Transport,
		sender:    signaling.NewReliableSender(cfg.Transport),
		platform:  cfg.Platform,
		sink:      sink,
		prober:    cfg.PermissionProber,
		opts:      opts,
		clock:     clock,
		calls:     make(map[string]*callRuntime),
		done:      make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component":   "engine",
			"participant": cfg.LocalParticipantID,
		}),
	}
	if cfg.AudioOutputs != nil {
		e.routes = audioroute.NewManager(cfg.AudioOutputs)
	}
	return e, nil
}

// OnStateChange registers a session snapshot listener. Listeners run on
// call goroutines and must not block.
func (e *Engine) OnStateChange(fn func(call.Session)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateListeners = append(e.stateListeners, fn)
}

// OnQualityChange registers a quality tier listener.
func (e *Engine) OnQualityChange(fn func(callID, tier string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.qualityListeners = append(e.qualityListeners, fn)
}

// Start begins consuming incoming call signals. Starting a running
// engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running || e.closed {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.mu.Unlock()

	go e.acceptLoop()
	e.log.Info("Call engine started")
}

// acceptLoop consumes relay messages for call ids without a live
// subscription. The first offer for an unknown id becomes an incoming
// call.
func (e *Engine) acceptLoop() {
	for {
		select {
		case <-e.done:
			return
		case msg, ok := <-e.transport.Incoming():
			if !ok {
				return
			}
			e.handleUnattributed(msg)
		}
	}
}

func (e *Engine) handleUnattributed(msg signaling.Message) {
	e.mu.RLock()
	rt, known := e.calls[msg.CallID]
	e.mu.RUnlock()
	if known {
		rt.deliver(cmdSignal{msg: msg})
		return
	}

	if msg.Type != signaling.TypeOffer {
		// Stragglers for already-ended calls, or candidates that outran
		// the offer. Either way there is nothing to attach them to.
		e.log.WithFields(logrus.Fields{
			"call_id": msg.CallID,
			"type":    string(msg.Type),
		}).Warn("Dropping message for unknown call")
		return
	}

	sdp, err := signaling.DataString(msg.Data)
	if err != nil {
		e.log.WithField("error", err.Error()).Warn("Malformed incoming offer")
		return
	}
	kind := call.KindVoice
	if strings.Contains(sdp, "m=video") {
		kind = call.KindVideo
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if len(e.calls) >= maxConcurrentCalls {
		e.mu.Unlock()
		e.log.WithField("call_id", msg.CallID).Info("Rejecting incoming call, line busy")
		e.sendBusy(msg)
		return
	}
	rt, err = e.newRuntime(msg.CallID, msg.From, call.RoleResponder, kind)
	if err != nil {
		e.mu.Unlock()
		e.log.WithField("error", err.Error()).Error("Failed to accept incoming call")
		return
	}
	e.calls[msg.CallID] = rt
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"call_id": msg.CallID,
		"from":    msg.From,
		"kind":    kind.String(),
	}).Info("Incoming call")

	// Park the offer before announcing the call so an immediate Answer
	// always finds it.
	rt.start()
	rt.deliver(cmdSignal{msg: msg})
	rt.deliver(call.EventIncoming{})
}

// sendBusy answers an offer we cannot take with an immediate end.
func (e *Engine) sendBusy(offer signaling.Message) {
	msg := signaling.Message{
		Type:   signaling.TypeEnd,
		CallID: offer.CallID,
		From:   e.localID,
		To:     offer.From,
		SentAt: e.clock.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.sender.Send(ctx, msg); err != nil {
			e.log.WithField("error", err.Error()).Warn("Busy signal not delivered")
		}
	}()
}

// newRuntime builds a runtime and its collaborators. Caller holds e.mu.
func (e *Engine) newRuntime(callID, remoteID string, role call.Role, kind call.Kind) (*callRuntime, error) {
	msgs, cancel, err := e.transport.Subscribe(callID)
	if err != nil {
		return nil, fmt.Errorf("subscribe call %s: %w", callID, err)
	}

	rt := &callRuntime{
		eng:       e,
		id:        callID,
		session:   call.NewSession(callID, e.localID, remoteID, role, kind),
		queue:     make(chan any, queueCapacity),
		msgs:      msgs,
		cancelSub: cancel,
		done:      make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component": "engine",
			"call_id":   callID,
		}),
	}
	rt.supervisor = recovery.NewSupervisor(callID, recovery.Config{
		ReconnectDeadline: e.opts.ReconnectDeadline,
		ProbeInterval:     e.opts.DeviceProbeInterval,
	})
	rt.monitor = quality.NewMonitor(callID, rt.sampleStats, func(tier quality.Tier, _ quality.Sample) {
		rt.deliver(call.EventQualityChanged{Tier: tier.String()})
	})
	rt.controller = e.newController(rt, role)
	return rt, nil
}

// newController builds a media controller wired into the runtime's
// queue. The role decides which side produces the offer.
func (e *Engine) newController(rt *callRuntime, role call.Role) *media.Controller {
	snap := rt.snapshot()
	ctrl := media.NewController(rt.id, e.localID, snap.RemoteParticipant, role, snap.Kind, e.platform, e.sender)
	ctrl.OnConnState(func(state media.ConnState) {
		rt.deliver(cmdConnState{state: state})
	})
	ctrl.OnOfferSent(func() {
		rt.deliver(call.EventOfferSent{})
	})
	ctrl.OnError(func(err error) {
		rt.deliver(cmdMediaError{err: err})
	})
	return ctrl
}

// Dial starts an outgoing call to the remote participant and returns
// the new call id. Dialing while another call is active puts that call
// on hold.
func (e *Engine) Dial(ctx context.Context, remoteID string, kind call.Kind) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", ErrEngineClosed
	}
	if len(e.calls) >= maxConcurrentCalls {
		e.mu.Unlock()
		return "", ErrTooManyCalls
	}

	id := uuid.NewString()
	rt, err := e.newRuntime(id, remoteID, call.RoleInitiator, kind)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	e.calls[id] = rt
	prevID := e.foregroundID
	e.foregroundID = id
	var prev *callRuntime
	if prevID != "" {
		prev = e.calls[prevID]
	}
	e.mu.Unlock()

	if prev != nil && prev.snapshot().State == call.StateConnected {
		prev.deliver(call.EventHold{})
	}

	e.log.WithFields(logrus.Fields{
		"call_id": id,
		"to":      remoteID,
		"kind":    kind.String(),
	}).Info("Dialing")

	rt.start()
	rt.deliver(call.EventDial{})
	go rt.startController(ctx, rt.currentController())
	if e.routes != nil {
		go e.routes.Refresh()
	}
	return id, nil
}

// Answer accepts an incoming call. Accepting while another call is
// active puts that call on hold.
func (e *Engine) Answer(ctx context.Context, callID string) error {
	rt, err := e.lookup(callID)
	if err != nil {
		return err
	}
	snap := rt.snapshot()
	if snap.Role != call.RoleResponder || snap.State != call.StateConnecting {
		return ErrCallNotActive
	}

	e.mu.Lock()
	prevID := e.foregroundID
	e.foregroundID = callID
	var prev *callRuntime
	if prevID != "" && prevID != callID {
		prev = e.calls[prevID]
	}
	e.mu.Unlock()

	if prev != nil && prev.snapshot().State == call.StateConnected {
		prev.deliver(call.EventHold{})
	}

	rt.deliver(cmdAnswer{ctx: ctx})
	if e.routes != nil {
		go e.routes.Refresh()
	}
	return nil
}

// Reject declines an incoming call that has not been answered.
func (e *Engine) Reject(callID string) error {
	rt, err := e.lookup(callID)
	if err != nil {
		return err
	}
	snap := rt.snapshot()
	if snap.Role != call.RoleResponder || snap.State != call.StateConnecting {
		return ErrCallNotActive
	}
	rt.deliver(call.EventEndRequested{})
	return nil
}

// End hangs up the call. Ending an already-ended call is a no-op.
func (e *Engine) End(callID string) error {
	rt, err := e.lookup(callID)
	if err != nil {
		return err
	}
	rt.deliver(call.EventEndRequested{})
	return nil
}

// Hold freezes the call's media. Valid only while connected.
func (e *Engine) Hold(callID string) error {
	rt, err := e.lookup(callID)
	if err != nil {
		return err
	}
	if rt.snapshot().State != call.StateConnected {
		return ErrCallNotActive
	}
	rt.deliver(call.EventHold{})
	return nil
}

// Resume reactivates a held call and brings it to the foreground,
// holding whichever call occupied it.
func (e *Engine) Resume(callID string) error {
	rt, err := e.lookup(callID)
	if err != nil {
		return err
	}
	if rt.snapshot().State != call.StateOnHold {
		return ErrCallNotActive
	}

	e.mu.Lock()
	prevID := e.foregroundID
	e.foregroundID = callID
	var prev *callRuntime
	if prevID != "" && prevID != callID {
		prev = e.calls[prevID]
	}
	e.mu.Unlock()

	if prev != nil && prev.snapshot().State == call.StateConnected {
		prev.deliver(call.EventHold{})
	}

	rt.deliver(call.EventResume{})
	return nil
}

// Retry restarts negotiation for a failed call.
func (e *Engine) Retry(callID string) error {
	rt, err := e.lookup(callID)
	if err != nil {
		return err
	}
	if rt.snapshot().State != call.StateFailed {
		return ErrCallNotActive
	}
	rt.deliver(call.EventRetry{})
	return nil
}

// ToggleMute flips outbound audio for the call and returns the new
// muted state.
func (e *Engine) ToggleMute(callID string) (bool, error) {
	rt, err := e.lookup(callID)
	if err != nil {
		return false, err
	}
	return rt.toggleMute(), nil
}

// UpgradeToVideo adds a video track to a connected voice call and
// renegotiates.
func (e *Engine) UpgradeToVideo(ctx context.Context, callID string) error {
	rt, err := e.lookup(callID)
	if err != nil {
		return err
	}
	if rt.snapshot().State != call.StateConnected {
		return ErrCallNotActive
	}
	c := rt.currentController()
	if c == nil {
		return ErrCallNotActive
	}
	if _, err := c.AddVideoTrack(ctx); err != nil {
		return err
	}
	rt.deliver(call.EventVideoUpgraded{})
	return nil
}

// SendDTMF emits one keypad digit on a connected call.
func (e *Engine) SendDTMF(ctx context.Context, callID string, digit rune) error {
	rt, err := e.lookup(callID)
	if err != nil {
		return err
	}
	if rt.snapshot().State != call.StateConnected {
		return ErrCallNotActive
	}
	c := rt.currentController()
	if c == nil {
		return ErrCallNotActive
	}
	return c.SendDTMF(ctx, digit)
}

// CycleAudioRoute advances to the next available audio output route.
func (e *Engine) CycleAudioRoute() (audioroute.Route, error) {
	if e.routes == nil {
		return audioroute.RouteEarpiece, ErrNoAudioRouting
	}
	return e.routes.Cycle()
}

// RefreshAudioRoutes re-enumerates outputs after a platform
// device-change event.
func (e *Engine) RefreshAudioRoutes() error {
	if e.routes == nil {
		return ErrNoAudioRouting
	}
	return e.routes.Refresh()
}

// ActiveAudioRoute returns the currently bound output route.
func (e *Engine) ActiveAudioRoute() (audioroute.Route, error) {
	if e.routes == nil {
		return audioroute.RouteEarpiece, ErrNoAudioRouting
	}
	return e.routes.Active(), nil
}

// Session returns a snapshot of the call, if it is live. While a
// conference is active the merged call is the only visible session; its
// secondary leg is internal bookkeeping.
func (e *Engine) Session(callID string) (call.Session, bool) {
	e.mu.RLock()
	rt, ok := e.calls[callID]
	if ok && e.conf != nil && callID == e.conf.secondaryID {
		ok = false
	}
	e.mu.RUnlock()
	if !ok {
		return call.Session{}, false
	}
	return rt.snapshot(), true
}

// Sessions returns snapshots of every visible call. A merged conference
// shows up as exactly one session.
func (e *Engine) Sessions() []call.Session {
	e.mu.RLock()
	hiddenID := ""
	if e.conf != nil {
		hiddenID = e.conf.secondaryID
	}
	runtimes := make([]*callRuntime, 0, len(e.calls))
	for id, rt := range e.calls {
		if id == hiddenID {
			continue
		}
		runtimes = append(runtimes, rt)
	}
	e.mu.RUnlock()

	sessions := make([]call.Session, 0, len(runtimes))
	for _, rt := range runtimes {
		sessions = append(sessions, rt.snapshot())
	}
	return sessions
}

// Foreground returns the call id currently in the foreground, or empty.
func (e *Engine) Foreground() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.foregroundID
}

// Stop ends every live call and closes the transport.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	runtimes := make([]*callRuntime, 0, len(e.calls))
	for _, rt := range e.calls {
		runtimes = append(runtimes, rt)
	}
	e.mu.Unlock()

	for _, rt := range runtimes {
		rt.deliver(call.EventEndRequested{})
	}

	deadline := time.After(3 * time.Second)
	for _, rt := range runtimes {
		select {
		case <-rt.done:
		case <-deadline:
			e.log.Warn("Timed out waiting for call teardown")
		}
	}

	close(e.done)
	e.log.Info("Call engine stopped")
	return e.transport.Close()
}

// shouldHoldBackground reports whether a call that just connected sits
// behind another foreground call. Exactly one session may drive live
// media outside a conference, so such a call goes straight on hold.
func (e *Engine) shouldHoldBackground(callID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conf == nil && e.foregroundID != "" && e.foregroundID != callID && len(e.calls) > 1
}

func (e *Engine) lookup(callID string) (*callRuntime, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	rt, ok := e.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	return rt, nil
}

// release unregisters a finished runtime and repairs foreground and
// conference bookkeeping.
func (e *Engine) release(rt *callRuntime) {
	e.mu.Lock()
	delete(e.calls, rt.id)
	if e.foregroundID == rt.id {
		e.foregroundID = ""
		for id := range e.calls {
			e.foregroundID = id
			break
		}
	}
	e.mu.Unlock()

	e.handleConferenceLegEnded(rt.id)
}

func (e *Engine) notifyState(snap call.Session) {
	e.mu.RLock()
	listeners := make([]func(call.Session), len(e.stateListeners))
	copy(listeners, e.stateListeners)
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (e *Engine) notifyQuality(callID, tier string) {
	e.mu.RLock()
	listeners := make([]func(string, string), len(e.qualityListeners))
	copy(listeners, e.qualityListeners)
	e.mu.RUnlock()
	for _, fn := range listeners {
		fn(callID, tier)
	}
}
