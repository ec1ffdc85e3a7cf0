// Package recovery decides what a media or transport failure means for
// the call: transient retry, device-busy stall, or terminal failure.
//
// The central policy is to distinguish why the media controller failed
// before deciding the outcome. Naively ending the call on the first
// permission-class error conflates OS-level denial with app-level
// blocking, so the supervisor probes platform permission state
// asynchronously before choosing the remediation message, without ever
// silently dropping the call.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callengine/call"
	"github.com/opd-ai/callengine/media"
	"github.com/opd-ai/callengine/signaling"
)

// Decision is the supervisor's verdict on a reported failure.
type Decision int

const (
	// DecisionFailPermission moves the session to Failed without ending
	// it; the user may retry or hang up manually.
	DecisionFailPermission Decision = iota
	// DecisionRetryDeviceBusy re-probes the device every ProbeInterval
	// without counting against the retry budget.
	DecisionRetryDeviceBusy
	// DecisionReconnect attempts an ICE restart under the bounded
	// reconnect deadline.
	DecisionReconnect
	// DecisionSignalingLost marks the relay unreachable; recovery runs
	// under the same bounded deadline.
	DecisionSignalingLost
)

// String returns the string representation of Decision.
func (d Decision) String() string {
	switch d {
	case DecisionFailPermission:
		return "FailPermission"
	case DecisionRetryDeviceBusy:
		return "RetryDeviceBusy"
	case DecisionReconnect:
		return "Reconnect"
	case DecisionSignalingLost:
		return "SignalingLost"
	default:
		return "Unknown"
	}
}

// FailureClass maps a decision to the state machine's failure class.
func (d Decision) FailureClass() call.FailureClass {
	switch d {
	case DecisionFailPermission:
		return call.FailurePermission
	case DecisionRetryDeviceBusy:
		return call.FailureDeviceBusy
	default:
		return call.FailureTransient
	}
}

// Classify inspects a controller or transport error and returns the
// recovery decision. All non-permission, non-device-busy media/ICE
// errors are deliberately treated alike as reconnectable; refining that
// policy needs product input.
func Classify(err error) Decision {
	switch {
	case errors.Is(err, media.ErrPermissionDenied):
		return DecisionFailPermission
	case errors.Is(err, media.ErrDeviceBusy):
		return DecisionRetryDeviceBusy
	case errors.Is(err, signaling.ErrUnreachable):
		return DecisionSignalingLost
	default:
		return DecisionReconnect
	}
}

// PermissionState is the platform's answer to the async permission
// probe.
type PermissionState int

const (
	// PermissionUnknown means the platform could not say.
	PermissionUnknown PermissionState = iota
	// PermissionGranted means the OS permission is granted, so a
	// permission-class failure came from app-level blocking.
	PermissionGranted
	// PermissionDenied means the OS denied access.
	PermissionDenied
)

// Prober reads the platform permission state for media capture.
type Prober interface {
	Probe(ctx context.Context) (PermissionState, error)
}

// probeTimeout bounds the best-effort permission probe.
const probeTimeout = 3 * time.Second

// ProbePermission runs the async permission probe and reports the
// refined failure reason. Best-effort: on timeout or error the reason
// stays ReasonPermissionDenied.
func ProbePermission(prober Prober, report func(call.FailureReason)) {
	if prober == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()

		state, err := prober.Probe(ctx)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ProbePermission",
				"error":    err.Error(),
			}).Debug("Permission probe failed, keeping coarse reason")
			return
		}

		reason := call.ReasonPermissionDenied
		if state == PermissionGranted {
			// OS says yes but capture failed: something app-level is
			// holding or blocking the device.
			reason = call.ReasonDeviceBlocked
		}
		logrus.WithFields(logrus.Fields{
			"function": "ProbePermission",
			"state":    int(state),
			"reason":   reason.String(),
		}).Info("Permission probe completed")
		report(reason)
	}()
}
