package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callengine/call"
	"github.com/opd-ai/callengine/signaling"
)

// SignalSender publishes signaling messages for the controller. The
// engine passes its retrying sender so exhaustion surfaces as
// signaling.ErrUnreachable.
type SignalSender interface {
	Send(ctx context.Context, msg signaling.Message) error
}

// Controller drives negotiation for one call session.
//
// Exactly one controller is active per foreground call. The engine
// creates it on dial/answer, observes it through the callbacks, and
// closes it when the session reaches a terminal state.
type Controller struct {
	callID   string
	localID  string
	remoteID string
	role     call.Role

	platform Platform
	sender   SignalSender

	mu        sync.Mutex
	pc        PeerConnection
	stream    LocalStream
	request   StreamRequest
	remoteSet bool
	// Candidates that arrived before the remote description; applied in
	// arrival order once it is set.
	pendingCandidates []Candidate
	closed            bool

	onConnState func(ConnState)
	onOfferSent func()
	onError     func(error)

	log *logrus.Entry
}

// NewController creates a controller for one session. Callbacks must be
// registered before Start.
func NewController(callID, localID, remoteID string, role call.Role, kind call.Kind, platform Platform, sender SignalSender) *Controller {
	return &Controller{
		callID:   callID,
		localID:  localID,
		remoteID: remoteID,
		role:     role,
		platform: platform,
		sender:   sender,
		request:  StreamRequest{Audio: true, Video: kind == call.KindVideo},
		log: logrus.WithFields(logrus.Fields{
			"component": "media",
			"call_id":   callID,
			"role":      role.String(),
		}),
	}
}

// OnConnState registers the transport state callback. ConnConnected is
// the authoritative "call answered" signal.
func (c *Controller) OnConnState(fn func(ConnState)) { c.onConnState = fn }

// OnOfferSent registers the callback fired after the local offer
// reached the relay.
func (c *Controller) OnOfferSent(fn func()) { c.onOfferSent = fn }

// OnError registers the failure callback feeding the recovery
// supervisor.
func (c *Controller) OnError(fn func(error)) { c.onError = fn }

// Start begins negotiation. For an initiator it acquires local media,
// creates the offer, and publishes it. For a responder it only acquires
// resources lazily: the work happens when the remote offer arrives via
// ApplyRemoteOffer.
func (c *Controller) Start(ctx context.Context) error {
	if c.role == call.RoleResponder {
		c.log.Debug("Responder controller waiting for remote offer")
		return nil
	}

	if err := c.setupLocalMedia(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	offer, err := pc.CreateOffer(ctx, false)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", ErrNegotiationFailed, err)
	}
	if err := c.sendDescription(ctx, signaling.TypeOffer, offer); err != nil {
		return err
	}

	c.log.Info("Local offer published")
	if c.onOfferSent != nil {
		c.onOfferSent()
	}
	return nil
}

// setupLocalMedia acquires the local stream and wires up the peer
// connection. Shared by the initiator start path and the responder
// offer path.
func (c *Controller) setupLocalMedia(ctx context.Context) error {
	stream, err := c.platform.AcquireMedia(ctx, c.request)
	if err != nil {
		return fmt.Errorf("acquire local media: %w", err)
	}

	pc, err := c.platform.NewPeerConnection()
	if err != nil {
		stream.Close()
		return fmt.Errorf("%w: create peer connection: %v", ErrNegotiationFailed, err)
	}

	pc.OnICECandidate(c.publishCandidate)
	if c.onConnState != nil {
		pc.OnConnectionStateChange(c.onConnState)
	}

	if err := pc.AttachStream(stream); err != nil {
		stream.Close()
		pc.Close()
		return fmt.Errorf("%w: attach stream: %v", ErrNegotiationFailed, err)
	}

	c.mu.Lock()
	c.pc = pc
	c.stream = stream
	c.mu.Unlock()
	return nil
}

// ApplyRemoteOffer handles the remote offer. For a responder this is
// the moment local media is acquired and the answer produced; for an
// established session it handles renegotiation (video upgrade from the
// remote side).
func (c *Controller) ApplyRemoteOffer(ctx context.Context, sdp string) error {
	c.mu.Lock()
	ready := c.pc != nil
	c.mu.Unlock()

	if !ready {
		if err := c.setupLocalMedia(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	pc := c.pc
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrControllerClosed
	}

	if err := pc.SetRemoteDescription(SessionDescription{Type: "offer", SDP: sdp}); err != nil {
		return fmt.Errorf("%w: apply remote offer: %v", ErrNegotiationFailed, err)
	}
	c.markRemoteSet()

	answer, err := pc.CreateAnswer(ctx)
	if err != nil {
		return fmt.Errorf("%w: create answer: %v", ErrNegotiationFailed, err)
	}
	if err := c.sendDescription(ctx, signaling.TypeAnswer, answer); err != nil {
		return err
	}

	c.log.Info("Remote offer applied, answer published")
	return nil
}

// ApplyRemoteAnswer completes the initiator's negotiation round-trip.
func (c *Controller) ApplyRemoteAnswer(sdp string) error {
	c.mu.Lock()
	pc := c.pc
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrControllerClosed
	}
	if pc == nil {
		return fmt.Errorf("%w: answer before offer", ErrNegotiationFailed)
	}

	if err := pc.SetRemoteDescription(SessionDescription{Type: "answer", SDP: sdp}); err != nil {
		return fmt.Errorf("%w: apply remote answer: %v", ErrNegotiationFailed, err)
	}
	c.markRemoteSet()
	c.log.Info("Remote answer applied")
	return nil
}

// AddRemoteCandidate applies a remote ICE candidate, buffering any that
// arrive before the remote description is set.
func (c *Controller) AddRemoteCandidate(cand Candidate) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if !c.remoteSet || c.pc == nil {
		c.pendingCandidates = append(c.pendingCandidates, cand)
		buffered := len(c.pendingCandidates)
		c.mu.Unlock()
		c.log.WithField("buffered", buffered).Debug("Buffered early ICE candidate")
		return nil
	}
	pc := c.pc
	c.mu.Unlock()

	if err := pc.AddICECandidate(cand); err != nil {
		// Duplicate or malformed candidates are expected with
		// at-least-once delivery; log and move on.
		c.log.WithField("error", err.Error()).Debug("Ignoring unusable ICE candidate")
	}
	return nil
}

// markRemoteSet flushes candidates buffered before the remote
// description was available.
func (c *Controller) markRemoteSet() {
	c.mu.Lock()
	c.remoteSet = true
	pending := c.pendingCandidates
	c.pendingCandidates = nil
	pc := c.pc
	c.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			c.log.WithField("error", err.Error()).Debug("Ignoring unusable buffered candidate")
		}
	}
	if len(pending) > 0 {
		c.log.WithField("count", len(pending)).Debug("Flushed buffered ICE candidates")
	}
}

// publishCandidate ships one local candidate to the remote side.
func (c *Controller) publishCandidate(cand Candidate) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	payload := candidatePayload{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	msg := signaling.Message{
		Type:   signaling.TypeICECandidate,
		CallID: c.callID,
		From:   c.localID,
		To:     c.remoteID,
		Data:   payload.marshal(),
		SentAt: time.Now(),
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		c.log.WithField("error", err.Error()).Warn("Failed to publish ICE candidate")
		c.reportError(err)
	}
}

// sendDescription publishes an offer or answer.
func (c *Controller) sendDescription(ctx context.Context, t signaling.Type, desc SessionDescription) error {
	msg := signaling.Message{
		Type:   t,
		CallID: c.callID,
		From:   c.localID,
		To:     c.remoteID,
		Data:   signaling.StringData(desc.SDP),
		SentAt: time.Now(),
	}
	if err := c.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", string(t), err)
	}
	return nil
}

// ToggleAudio enables or disables outbound audio.
func (c *Controller) ToggleAudio(enabled bool) {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		stream.SetAudioEnabled(enabled)
		c.log.WithField("enabled", enabled).Debug("Outbound audio toggled")
	}
}

// AddVideoTrack upgrades the session to video and renegotiates.
func (c *Controller) AddVideoTrack(ctx context.Context) (string, error) {
	c.mu.Lock()
	pc := c.pc
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return "", ErrControllerClosed
	}
	if pc == nil {
		return "", fmt.Errorf("%w: no active connection", ErrNegotiationFailed)
	}

	handle, err := pc.AddVideoTrack()
	if err != nil {
		return "", fmt.Errorf("add video track: %w", err)
	}

	offer, err := pc.CreateOffer(ctx, false)
	if err != nil {
		return "", fmt.Errorf("%w: renegotiation offer: %v", ErrNegotiationFailed, err)
	}
	if err := c.sendDescription(ctx, signaling.TypeOffer, offer); err != nil {
		return "", err
	}

	c.log.WithField("handle", handle).Info("Video track added, renegotiating")
	return handle, nil
}

// SendDTMF emits one keypad digit and echoes it over signaling so the
// remote UI can display it.
func (c *Controller) SendDTMF(ctx context.Context, digit rune) error {
	c.mu.Lock()
	pc := c.pc
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrControllerClosed
	}
	if pc == nil {
		return fmt.Errorf("%w: no active connection", ErrNegotiationFailed)
	}

	if err := pc.SendDTMF(digit); err != nil {
		return fmt.Errorf("send dtmf: %w", err)
	}

	echo := signaling.Message{
		Type:   signaling.TypeDTMFEcho,
		CallID: c.callID,
		From:   c.localID,
		To:     c.remoteID,
		Data:   signaling.StringData(string(digit)),
		SentAt: time.Now(),
	}
	if err := c.sender.Send(ctx, echo); err != nil {
		// The in-band tone already went out; a lost echo only affects
		// remote keypad display.
		c.log.WithField("error", err.Error()).Debug("DTMF echo not delivered")
	}
	return nil
}

// RestartICE triggers an ICE restart by publishing a restart offer.
func (c *Controller) RestartICE(ctx context.Context) error {
	c.mu.Lock()
	pc := c.pc
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return ErrControllerClosed
	}
	if pc == nil {
		return fmt.Errorf("%w: no active connection", ErrNegotiationFailed)
	}

	offer, err := pc.CreateOffer(ctx, true)
	if err != nil {
		return fmt.Errorf("%w: ice restart offer: %v", ErrNegotiationFailed, err)
	}
	if err := c.sendDescription(ctx, signaling.TypeOffer, offer); err != nil {
		return err
	}
	c.log.Info("ICE restart offer published")
	return nil
}

// ReadInboundStats reads the inbound statistics report for quality
// sampling, using the kind-matching report.
func (c *Controller) ReadInboundStats(kind call.Kind) (StatsSample, error) {
	c.mu.Lock()
	pc := c.pc
	c.mu.Unlock()

	if pc == nil {
		return StatsSample{}, ErrControllerClosed
	}
	mediaKind := "audio"
	if kind == call.KindVideo {
		mediaKind = "video"
	}
	return pc.ReadInboundStats(mediaKind)
}

// Close tears down the peer connection and releases local media. It is
// idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pc := c.pc
	stream := c.stream
	c.pc = nil
	c.stream = nil
	c.mu.Unlock()

	var errs []error
	if pc != nil {
		if err := pc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.log.Info("Media controller closed")
	return errors.Join(errs...)
}

func (c *Controller) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
