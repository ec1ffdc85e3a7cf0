// Package media owns the peer connection and local track lifecycle for
// one call: negotiation, ICE candidate exchange, mute, video upgrade,
// and DTMF emission.
//
// The platform media API (stream acquisition, peer connection
// construction) is injected through the Platform interface so the
// controller is testable without a real device; pionrtc provides the
// production implementation.
package media

import (
	"context"
	"time"
)

// StreamRequest describes the local media to acquire.
type StreamRequest struct {
	Audio bool
	Video bool
}

// SessionDescription is a negotiation document (SDP) decoupled from any
// particular peer-connection library.
type SessionDescription struct {
	// Type is "offer" or "answer".
	Type string
	SDP  string
}

// Candidate is one ICE candidate in wire form.
type Candidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
}

// ConnState mirrors the underlying peer connection's transport state.
type ConnState int

const (
	// ConnNew is the initial state before negotiation.
	ConnNew ConnState = iota
	// ConnConnecting indicates path discovery is in progress.
	ConnConnecting
	// ConnConnected indicates a usable media path exists. This is the
	// authoritative "call answered" signal.
	ConnConnected
	// ConnDisconnected indicates the path was lost, possibly transiently.
	ConnDisconnected
	// ConnFailed indicates path discovery gave up.
	ConnFailed
	// ConnClosed indicates the connection was torn down.
	ConnClosed
)

// String returns the string representation of ConnState.
func (s ConnState) String() string {
	switch s {
	case ConnNew:
		return "New"
	case ConnConnecting:
		return "Connecting"
	case ConnConnected:
		return "Connected"
	case ConnDisconnected:
		return "Disconnected"
	case ConnFailed:
		return "Failed"
	case ConnClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// StatsSample is one transport statistics reading for quality
// classification. Loss is a 0.0-1.0 fraction.
type StatsSample struct {
	PacketLoss float64
	Jitter     time.Duration
	Timestamp  time.Time
}

// LocalStream is an acquired local media stream.
type LocalStream interface {
	// SetAudioEnabled toggles outbound audio (mute/unmute, hold).
	SetAudioEnabled(enabled bool)

	// HasVideo reports whether the stream carries a video track.
	HasVideo() bool

	// Close releases the underlying devices.
	Close() error
}

// PeerConnection is the injected peer-connection primitive. The engine
// only negotiates, observes, and reacts to it; packet transport itself
// lives below this interface.
type PeerConnection interface {
	CreateOffer(ctx context.Context, iceRestart bool) (SessionDescription, error)
	CreateAnswer(ctx context.Context) (SessionDescription, error)
	SetRemoteDescription(desc SessionDescription) error
	AddICECandidate(c Candidate) error

	// AttachStream adds the local stream's tracks to the connection.
	AttachStream(stream LocalStream) error

	// AddVideoTrack upgrades a running session with a video track and
	// returns a handle identifier for it.
	AddVideoTrack() (string, error)

	// SendDTMF emits one keypad digit in-band.
	SendDTMF(digit rune) error

	// ReadInboundStats reads the inbound report for the given media kind
	// ("audio" or "video").
	ReadInboundStats(kind string) (StatsSample, error)

	// OnICECandidate registers the local candidate callback.
	OnICECandidate(fn func(Candidate))

	// OnConnectionStateChange registers the transport state callback.
	OnConnectionStateChange(fn func(ConnState))

	Close() error
}

// Platform is the injected platform capability surface: everything the
// controller needs from the host environment.
type Platform interface {
	// AcquireMedia obtains a local stream for the request. Failures must
	// map to ErrPermissionDenied or ErrDeviceBusy where the cause is
	// known; anything else is treated as transient.
	AcquireMedia(ctx context.Context, req StreamRequest) (LocalStream, error)

	// NewPeerConnection constructs a peer connection using the ICE
	// server list from the external TURN/STUN config provider.
	NewPeerConnection() (PeerConnection, error)
}
