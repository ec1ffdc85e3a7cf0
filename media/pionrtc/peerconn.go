package pionrtc

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"

	"github.com/opd-ai/callengine/media"
)

// Sample is one encoded media sample fed into a local track.
type Sample struct {
	Data     []byte
	Duration time.Duration
}

func (s Sample) toPion() pionmedia.Sample {
	return pionmedia.Sample{Data: s.Data, Duration: s.Duration}
}

// peerConn adapts *webrtc.PeerConnection to media.PeerConnection.
type peerConn struct {
	pc        *webrtc.PeerConnection
	dtmfTrack *webrtc.TrackLocalStaticSample
}

func (p *peerConn) CreateOffer(ctx context.Context, iceRestart bool) (media.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return media.SessionDescription{}, err
	}

	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return media.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return media.SessionDescription{}, err
	}
	return media.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *peerConn) CreateAnswer(ctx context.Context) (media.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return media.SessionDescription{}, err
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return media.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return media.SessionDescription{}, err
	}
	return media.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *peerConn) SetRemoteDescription(desc media.SessionDescription) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (p *peerConn) AddICECandidate(c media.Candidate) error {
	init := webrtc.ICECandidateInit{Candidate: c.Candidate}
	if c.SDPMid != "" {
		mid := c.SDPMid
		init.SDPMid = &mid
	}
	idx := c.SDPMLineIndex
	init.SDPMLineIndex = &idx
	return p.pc.AddICECandidate(init)
}

func (p *peerConn) AttachStream(stream media.LocalStream) error {
	local, ok := stream.(*LocalStream)
	if !ok {
		return fmt.Errorf("pionrtc: unsupported stream type %T", stream)
	}

	local.mu.Lock()
	audio, video := local.audio, local.video
	local.mu.Unlock()

	if audio != nil {
		if _, err := p.pc.AddTrack(audio); err != nil {
			return err
		}
	}
	if video != nil {
		if _, err := p.pc.AddTrack(video); err != nil {
			return err
		}
	}
	return nil
}

func (p *peerConn) AddVideoTrack() (string, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "callengine-video-upgrade")
	if err != nil {
		return "", err
	}
	if _, err := p.pc.AddTrack(track); err != nil {
		return "", err
	}
	return track.ID(), nil
}

// dtmfEvents maps keypad digits to RFC 4733 event codes.
var dtmfEvents = map[rune]byte{
	'0': 0, '1': 1, '2': 2, '3': 3, '4': 4,
	'5': 5, '6': 6, '7': 7, '8': 8, '9': 9,
	'*': 10, '#': 11,
	'A': 12, 'B': 13, 'C': 14, 'D': 15,
}

// SendDTMF emits one digit as RFC 4733 telephone-event samples on a
// lazily created event track.
func (p *peerConn) SendDTMF(digit rune) error {
	event, ok := dtmfEvents[digit]
	if !ok {
		return fmt.Errorf("pionrtc: not a DTMF digit: %q", digit)
	}

	if p.dtmfTrack == nil {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: "audio/telephone-event", ClockRate: 8000},
			"dtmf", "callengine-dtmf")
		if err != nil {
			return err
		}
		if _, err := p.pc.AddTrack(track); err != nil {
			return err
		}
		p.dtmfTrack = track
	}

	// 160 ms tone at 8 kHz: event, end bit + volume 10, duration 1280.
	payload := []byte{event, 0x8A, 0x05, 0x00}
	return p.dtmfTrack.WriteSample(pionmedia.Sample{
		Data:     payload,
		Duration: 160 * time.Millisecond,
	})
}

// ReadInboundStats reads the inbound RTP report for the given kind.
func (p *peerConn) ReadInboundStats(kind string) (media.StatsSample, error) {
	report := p.pc.GetStats()

	for _, s := range report {
		inbound, ok := s.(webrtc.InboundRTPStreamStats)
		if !ok || inbound.Kind != kind {
			continue
		}
		sample := media.StatsSample{
			Jitter:    time.Duration(inbound.Jitter * float64(time.Second)),
			Timestamp: time.Now(),
		}
		received := float64(inbound.PacketsReceived)
		lost := float64(inbound.PacketsLost)
		if received+lost > 0 {
			sample.PacketLoss = lost / (received + lost)
		}
		return sample, nil
	}
	return media.StatsSample{Timestamp: time.Now()}, nil
}

func (p *peerConn) OnICECandidate(fn func(media.Candidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-candidates marker.
			return
		}
		init := c.ToJSON()
		cand := media.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			cand.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *init.SDPMLineIndex
		}
		fn(cand)
	})
}

func (p *peerConn) OnConnectionStateChange(fn func(media.ConnState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(mapConnState(s))
	})
}

func (p *peerConn) Close() error {
	return p.pc.Close()
}

func mapConnState(s webrtc.PeerConnectionState) media.ConnState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return media.ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return media.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return media.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return media.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return media.ConnFailed
	default:
		return media.ConnClosed
	}
}
