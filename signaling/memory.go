package signaling

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// chanBuffer sizes every delivery channel. Delivery never blocks the
// relay; a full channel drops the message with a warning, matching
// at-least-once (not exactly-once) relay semantics.
const chanBuffer = 64

// MemoryRelay is an in-process signaling relay. Both sides of a call
// bind an endpoint and exchange messages without any network, which is
// how the loopback example and the integration-style tests run two
// engines against each other.
type MemoryRelay struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryEndpoint
}

// NewMemoryRelay creates an empty relay.
func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{endpoints: make(map[string]*MemoryEndpoint)}
}

// Bind creates (or returns) the endpoint for a participant id.
func (r *MemoryRelay) Bind(participantID string) *MemoryEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ep, ok := r.endpoints[participantID]; ok {
		return ep
	}
	ep := &MemoryEndpoint{
		relay:         r,
		participantID: participantID,
		subs:          make(map[string]chan Message),
		incoming:      make(chan Message, chanBuffer),
	}
	r.endpoints[participantID] = ep
	return ep
}

// route delivers a message to the recipient endpoint. Messages for
// unknown participants are dropped with a warning: the relay contract is
// at-least-once toward connected subscribers only.
func (r *MemoryRelay) route(msg Message) {
	r.mu.Lock()
	ep, ok := r.endpoints[msg.To]
	r.mu.Unlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "MemoryRelay.route",
			"call_id":  msg.CallID,
			"to":       msg.To,
		}).Warn("Dropping message for unknown participant")
		return
	}
	ep.deliver(msg)
}

// MemoryEndpoint implements Transport over a MemoryRelay.
type MemoryEndpoint struct {
	relay         *MemoryRelay
	participantID string

	mu       sync.Mutex
	closed   bool
	subs     map[string]chan Message
	incoming chan Message
}

// Send publishes a message through the relay.
func (e *MemoryEndpoint) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	e.relay.route(msg)
	return nil
}

// Subscribe starts ordered delivery for one call id.
func (e *MemoryEndpoint) Subscribe(callID string) (<-chan Message, func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, nil, ErrClosed
	}
	if ch, ok := e.subs[callID]; ok {
		cancel := e.cancelFunc(callID)
		return ch, cancel, nil
	}

	ch := make(chan Message, chanBuffer)
	e.subs[callID] = ch
	return ch, e.cancelFunc(callID), nil
}

func (e *MemoryEndpoint) cancelFunc(callID string) func() {
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if ch, ok := e.subs[callID]; ok {
			delete(e.subs, callID)
			close(ch)
		}
	}
}

// Incoming delivers messages for call ids without a subscription.
func (e *MemoryEndpoint) Incoming() <-chan Message {
	return e.incoming
}

// Close tears down the endpoint and all subscriptions.
func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
	close(e.incoming)
	return nil
}

// deliver hands a message to the matching subscription, or to the
// incoming channel when no subscription exists for the call id.
func (e *MemoryEndpoint) deliver(msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	target := e.incoming
	if ch, ok := e.subs[msg.CallID]; ok {
		target = ch
	}

	select {
	case target <- msg:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "MemoryEndpoint.deliver",
			"call_id":  msg.CallID,
			"type":     string(msg.Type),
		}).Warn("Delivery channel full, dropping message")
	}
}
