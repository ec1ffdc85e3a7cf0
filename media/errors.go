package media

import "errors"

// Sentinel errors for media operations. The recovery supervisor
// classifies controller failures with errors.Is against these.
var (
	// ErrPermissionDenied indicates camera or microphone access was
	// refused. Non-retryable and terminal for negotiation, but never
	// auto-ends the call.
	ErrPermissionDenied = errors.New("media permission denied")

	// ErrDeviceBusy indicates a capture device is held by another
	// process. Retryable without ending the call.
	ErrDeviceBusy = errors.New("media device busy")

	// ErrNegotiationFailed indicates SDP or ICE processing failed.
	ErrNegotiationFailed = errors.New("media negotiation failed")

	// ErrNoRemoteDescription indicates an operation that requires the
	// remote description before it has been applied.
	ErrNoRemoteDescription = errors.New("remote description not set")

	// ErrControllerClosed indicates the controller has been torn down.
	ErrControllerClosed = errors.New("media controller closed")

	// ErrVideoUnsupported indicates the platform cannot add a video
	// track to the running session.
	ErrVideoUnsupported = errors.New("video track not supported")
)
