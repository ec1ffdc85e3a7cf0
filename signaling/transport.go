package signaling

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for signaling operations.
var (
	// ErrUnreachable indicates the relay could not be reached after the
	// bounded retry budget.
	ErrUnreachable = errors.New("signaling relay unreachable")

	// ErrClosed indicates the transport has been closed.
	ErrClosed = errors.New("signaling transport closed")

	// ErrInvalidMessage indicates a message that fails validation.
	ErrInvalidMessage = errors.New("invalid signaling message")
)

// Transport is the relay endpoint a single participant holds.
//
// Subscribe delivers messages for one call id in the order the relay
// received them. Messages addressed to this participant for a call id
// with no live subscription arrive on Incoming; the engine treats the
// first of those as an incoming-call signal.
type Transport interface {
	// Send publishes one message. A failed attempt returns an error the
	// caller may retry; ReliableSender adds the bounded retry policy.
	Send(ctx context.Context, msg Message) error

	// Subscribe starts delivery for a call id. The returned cancel
	// function stops delivery and releases the channel.
	Subscribe(callID string) (<-chan Message, func(), error)

	// Incoming delivers messages for call ids without a subscription.
	Incoming() <-chan Message

	// Close tears down the endpoint and all subscriptions.
	Close() error
}

const (
	// sendAttempts bounds retries for one message.
	sendAttempts = 3
	// sendRetryDelay separates successive attempts.
	sendRetryDelay = 250 * time.Millisecond
)

// ReliableSender wraps a Transport with the bounded send-retry policy:
// up to three attempts, after which the error surfaces as
// ErrUnreachable for the recovery supervisor. It never reaches the UI.
type ReliableSender struct {
	transport Transport
}

// NewReliableSender wraps the given transport.
func NewReliableSender(t Transport) *ReliableSender {
	return &ReliableSender{transport: t}
}

// Send publishes the message, retrying transient failures.
func (r *ReliableSender) Send(ctx context.Context, msg Message) error {
	var lastErr error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		lastErr = r.transport.Send(ctx, msg)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrClosed) || errors.Is(lastErr, ErrInvalidMessage) {
			return lastErr
		}

		logrus.WithFields(logrus.Fields{
			"function": "ReliableSender.Send",
			"call_id":  msg.CallID,
			"type":     string(msg.Type),
			"attempt":  attempt,
			"error":    lastErr.Error(),
		}).Warn("Signaling send attempt failed")

		if attempt == sendAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sendRetryDelay):
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "ReliableSender.Send",
		"call_id":  msg.CallID,
		"type":     string(msg.Type),
	}).Error("Signaling send retries exhausted")

	return errors.Join(ErrUnreachable, lastErr)
}
