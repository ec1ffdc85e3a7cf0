package callengine

import "errors"

// Engine-level sentinel errors. Transport and media failures never
// surface here; they feed the recovery supervisor instead.
var (
	// ErrEngineClosed indicates the engine has been stopped.
	ErrEngineClosed = errors.New("call engine closed")

	// ErrCallNotFound indicates no live session exists for the call id.
	ErrCallNotFound = errors.New("call not found")

	// ErrTooManyCalls indicates the two-call concurrency limit was hit.
	ErrTooManyCalls = errors.New("too many concurrent calls")

	// ErrCallNotActive indicates the operation needs a connected session.
	ErrCallNotActive = errors.New("call not active")

	// ErrMergeUnavailable indicates merge preconditions are not met: it
	// needs exactly two live, non-terminal call legs.
	ErrMergeUnavailable = errors.New("merge unavailable")

	// ErrMergeLegLost indicates a leg disconnected mid-merge; both
	// sessions were left untouched.
	ErrMergeLegLost = errors.New("call leg lost during merge")

	// ErrNoAudioRouting indicates the engine was built without an audio
	// output enumerator.
	ErrNoAudioRouting = errors.New("audio routing not configured")
)
