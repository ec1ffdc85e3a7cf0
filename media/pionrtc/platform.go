// Package pionrtc implements the media platform interfaces on top of
// pion/webrtc. It is the production peer-connection primitive; the
// engine core never imports pion directly, so tests run against fakes.
package pionrtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callengine/media"
)

// Platform constructs pion peer connections and local sample-fed
// streams. The ICE server list comes from the external TURN/STUN config
// provider.
type Platform struct {
	iceServers []string
}

// New creates a platform with the given ICE server URLs.
func New(iceServers []string) *Platform {
	return &Platform{iceServers: iceServers}
}

// AcquireMedia creates a sample-fed local stream. The application feeds
// captured frames through WriteAudio/WriteVideo on the returned stream;
// the engine itself never touches capture hardware.
func (p *Platform) AcquireMedia(ctx context.Context, req media.StreamRequest) (media.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream := &LocalStream{}

	if req.Audio {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
			"audio", "callengine-audio")
		if err != nil {
			return nil, err
		}
		stream.audio = track
	}
	if req.Video {
		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "callengine-video")
		if err != nil {
			return nil, err
		}
		stream.video = track
	}

	logrus.WithFields(logrus.Fields{
		"function": "Platform.AcquireMedia",
		"audio":    req.Audio,
		"video":    req.Video,
	}).Debug("Local stream created")

	return stream, nil
}

// NewPeerConnection constructs a pion peer connection.
func (p *Platform) NewPeerConnection() (media.PeerConnection, error) {
	cfg := webrtc.Configuration{}
	if len(p.iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: p.iceServers}}
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Platform.NewPeerConnection",
		"ice_servers": len(p.iceServers),
	}).Debug("Peer connection created")

	return &peerConn{pc: pc}, nil
}

// LocalStream is a sample-fed stream over pion static-sample tracks.
type LocalStream struct {
	mu           sync.Mutex
	audio        *webrtc.TrackLocalStaticSample
	video        *webrtc.TrackLocalStaticSample
	audioMuted   bool
	closedStream bool
}

// SetAudioEnabled gates WriteAudio; disabling drops samples on the
// floor, which mutes the outbound track without renegotiation.
func (s *LocalStream) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioMuted = !enabled
}

// HasVideo reports whether the stream carries a video track.
func (s *LocalStream) HasVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.video != nil
}

// WriteAudio feeds one captured audio sample, honoring mute.
func (s *LocalStream) WriteAudio(sample Sample) error {
	s.mu.Lock()
	track, muted, closed := s.audio, s.audioMuted, s.closedStream
	s.mu.Unlock()

	if closed || muted || track == nil {
		return nil
	}
	return track.WriteSample(sample.toPion())
}

// WriteVideo feeds one captured video sample.
func (s *LocalStream) WriteVideo(sample Sample) error {
	s.mu.Lock()
	track, closed := s.video, s.closedStream
	s.mu.Unlock()

	if closed || track == nil {
		return nil
	}
	return track.WriteSample(sample.toPion())
}

// Close marks the stream dead; the tracks are released with the peer
// connection.
func (s *LocalStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closedStream = true
	return nil
}
