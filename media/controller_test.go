package media

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callengine/call"
	"github.com/opd-ai/callengine/signaling"
)

type fakeStream struct {
	mu       sync.Mutex
	enabled  bool
	hasVideo bool
	closed   bool
}

func (f *fakeStream) SetAudioEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func (f *fakeStream) HasVideo() bool { return f.hasVideo }

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakePC struct {
	mu          sync.Mutex
	remote      []SessionDescription
	added       []Candidate
	offers      int
	restarts    int
	videoTracks int
	digits      []rune
	closed      bool

	onCandidate func(Candidate)
	onConn      func(ConnState)
}

func (f *fakePC) CreateOffer(ctx context.Context, iceRestart bool) (SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	if iceRestart {
		f.restarts++
	}
	return SessionDescription{Type: "offer", SDP: "v=0\r\nm=audio fake"}, nil
}

func (f *fakePC) CreateAnswer(ctx context.Context) (SessionDescription, error) {
	return SessionDescription{Type: "answer", SDP: "v=0\r\nm=audio fake-answer"}, nil
}

func (f *fakePC) SetRemoteDescription(desc SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, desc)
	return nil
}

func (f *fakePC) AddICECandidate(c Candidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, c)
	return nil
}

func (f *fakePC) AttachStream(stream LocalStream) error { return nil }

func (f *fakePC) AddVideoTrack() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videoTracks++
	return "video-0", nil
}

func (f *fakePC) SendDTMF(digit rune) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digits = append(f.digits, digit)
	return nil
}

func (f *fakePC) ReadInboundStats(kind string) (StatsSample, error) {
	return StatsSample{}, nil
}

func (f *fakePC) OnICECandidate(fn func(Candidate)) { f.onCandidate = fn }

func (f *fakePC) OnConnectionStateChange(fn func(ConnState)) { f.onConn = fn }

func (f *fakePC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePC) candidates() []Candidate {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Candidate, len(f.added))
	copy(out, f.added)
	return out
}

type fakePlatform struct {
	mu         sync.Mutex
	acquireErr error
	streams    []*fakeStream
	pcs        []*fakePC
}

func (f *fakePlatform) AcquireMedia(ctx context.Context, req StreamRequest) (LocalStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return nil, fmt.Errorf("capture pipeline: %w", f.acquireErr)
	}
	s := &fakeStream{enabled: true, hasVideo: req.Video}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakePlatform) NewPeerConnection() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pc := &fakePC{}
	f.pcs = append(f.pcs, pc)
	return pc, nil
}

func (f *fakePlatform) lastPC() *fakePC {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pcs) == 0 {
		return nil
	}
	return f.pcs[len(f.pcs)-1]
}

type recordingSender struct {
	mu      sync.Mutex
	sent    []signaling.Message
	sendErr error
}

func (r *recordingSender) Send(ctx context.Context, msg signaling.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) messages() []signaling.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]signaling.Message, len(r.sent))
	copy(out, r.sent)
	return out
}

func newTestController(role call.Role) (*Controller, *fakePlatform, *recordingSender) {
	platform := &fakePlatform{}
	sender := &recordingSender{}
	c := NewController("call-1", "alice", "bob", role, call.KindVoice, platform, sender)
	return c, platform, sender
}

func TestInitiatorStartPublishesOffer(t *testing.T) {
	c, platform, sender := newTestController(call.RoleInitiator)

	offerSent := false
	c.OnOfferSent(func() { offerSent = true })

	require.NoError(t, c.Start(context.Background()))

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, signaling.TypeOffer, msgs[0].Type)
	assert.Equal(t, "alice", msgs[0].From)
	assert.Equal(t, "bob", msgs[0].To)
	assert.True(t, offerSent)
	assert.Len(t, platform.streams, 1)
}

func TestResponderStartWaitsForOffer(t *testing.T) {
	c, platform, sender := newTestController(call.RoleResponder)

	require.NoError(t, c.Start(context.Background()))
	assert.Empty(t, sender.messages())
	assert.Empty(t, platform.streams)
}

func TestResponderOfferProducesAnswer(t *testing.T) {
	c, platform, sender := newTestController(call.RoleResponder)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.ApplyRemoteOffer(context.Background(), "v=0 remote-offer"))

	pc := platform.lastPC()
	require.NotNil(t, pc)
	require.Len(t, pc.remote, 1)
	assert.Equal(t, "offer", pc.remote[0].Type)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, signaling.TypeAnswer, msgs[0].Type)
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	c, platform, _ := newTestController(call.RoleInitiator)
	require.NoError(t, c.Start(context.Background()))

	early := []Candidate{
		{Candidate: "candidate:1 1 udp 1 10.0.0.1 1000 typ host"},
		{Candidate: "candidate:2 1 udp 2 10.0.0.2 2000 typ host"},
	}
	for _, cand := range early {
		require.NoError(t, c.AddRemoteCandidate(cand))
	}
	pc := platform.lastPC()
	assert.Empty(t, pc.candidates(), "candidates must not reach the peer connection before the remote description")

	require.NoError(t, c.ApplyRemoteAnswer("v=0 remote-answer"))
	assert.Equal(t, early, pc.candidates(), "buffered candidates must flush in arrival order")

	// Candidates after the description go straight through.
	late := Candidate{Candidate: "candidate:3 1 udp 3 10.0.0.3 3000 typ host"}
	require.NoError(t, c.AddRemoteCandidate(late))
	assert.Equal(t, append(early, late), pc.candidates())
}

func TestAnswerBeforeOfferFails(t *testing.T) {
	c, _, _ := newTestController(call.RoleResponder)
	err := c.ApplyRemoteAnswer("v=0 stray-answer")
	assert.ErrorIs(t, err, ErrNegotiationFailed)
}

func TestAcquireFailureSurfaces(t *testing.T) {
	c, platform, _ := newTestController(call.RoleInitiator)
	platform.acquireErr = ErrPermissionDenied

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestToggleAudio(t *testing.T) {
	c, platform, _ := newTestController(call.RoleInitiator)
	require.NoError(t, c.Start(context.Background()))

	c.ToggleAudio(false)
	assert.False(t, platform.streams[0].enabled)
	c.ToggleAudio(true)
	assert.True(t, platform.streams[0].enabled)
}

func TestAddVideoTrackRenegotiates(t *testing.T) {
	c, platform, sender := newTestController(call.RoleInitiator)
	require.NoError(t, c.Start(context.Background()))

	handle, err := c.AddVideoTrack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "video-0", handle)
	assert.Equal(t, 1, platform.lastPC().videoTracks)

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, signaling.TypeOffer, msgs[1].Type)
}

func TestSendDTMFEmitsToneAndEcho(t *testing.T) {
	c, platform, sender := newTestController(call.RoleInitiator)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.SendDTMF(context.Background(), '5'))
	assert.Equal(t, []rune{'5'}, platform.lastPC().digits)

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, signaling.TypeDTMFEcho, msgs[1].Type)
}

func TestLostEchoDoesNotFailDTMF(t *testing.T) {
	c, platform, sender := newTestController(call.RoleInitiator)
	require.NoError(t, c.Start(context.Background()))

	sender.sendErr = signaling.ErrUnreachable
	require.NoError(t, c.SendDTMF(context.Background(), '#'))
	assert.Equal(t, []rune{'#'}, platform.lastPC().digits)
}

func TestRestartICECreatesRestartOffer(t *testing.T) {
	c, platform, sender := newTestController(call.RoleInitiator)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.RestartICE(context.Background()))
	assert.Equal(t, 1, platform.lastPC().restarts)

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, signaling.TypeOffer, msgs[1].Type)
}

func TestCloseIsIdempotent(t *testing.T) {
	c, platform, _ := newTestController(call.RoleInitiator)
	require.NoError(t, c.Start(context.Background()))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, platform.lastPC().closed)
	assert.True(t, platform.streams[0].closed)

	err := c.ApplyRemoteAnswer("v=0 after-close")
	assert.ErrorIs(t, err, ErrControllerClosed)
}
