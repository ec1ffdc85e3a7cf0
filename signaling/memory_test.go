package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(callID, from, to string, t Type) Message {
	return Message{
		Type:   t,
		CallID: callID,
		From:   from,
		To:     to,
		Data:   StringData("payload"),
		SentAt: time.Now(),
	}
}

func TestMemoryRelayRoutesToSubscription(t *testing.T) {
	relay := NewMemoryRelay()
	alice := relay.Bind("alice")
	bob := relay.Bind("bob")

	msgs, cancel, err := bob.Subscribe("call-1")
	require.NoError(t, err)
	defer cancel()

	sent := testMessage("call-1", "alice", "bob", TypeOffer)
	require.NoError(t, alice.Send(context.Background(), sent))

	select {
	case got := <-msgs:
		assert.Equal(t, sent.CallID, got.CallID)
		assert.Equal(t, TypeOffer, got.Type)
	case <-time.After(time.Second):
		t.Fatal("message not delivered to subscription")
	}
}

func TestMemoryRelayUnsubscribedGoesToIncoming(t *testing.T) {
	relay := NewMemoryRelay()
	alice := relay.Bind("alice")
	bob := relay.Bind("bob")

	require.NoError(t, alice.Send(context.Background(), testMessage("call-2", "alice", "bob", TypeOffer)))

	select {
	case got := <-bob.Incoming():
		assert.Equal(t, "call-2", got.CallID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered to incoming channel")
	}
}

func TestMemoryRelayOrderPreservedPerCall(t *testing.T) {
	relay := NewMemoryRelay()
	alice := relay.Bind("alice")
	bob := relay.Bind("bob")

	msgs, cancel, err := bob.Subscribe("call-3")
	require.NoError(t, err)
	defer cancel()

	order := []Type{TypeOffer, TypeICECandidate, TypeICECandidate, TypeEnd}
	for _, typ := range order {
		require.NoError(t, alice.Send(context.Background(), testMessage("call-3", "alice", "bob", typ)))
	}

	for i, want := range order {
		select {
		case got := <-msgs:
			assert.Equal(t, want, got.Type, "message %d out of order", i)
		case <-time.After(time.Second):
			t.Fatal("delivery stalled")
		}
	}
}

func TestSendValidatesMessage(t *testing.T) {
	relay := NewMemoryRelay()
	alice := relay.Bind("alice")

	err := alice.Send(context.Background(), Message{Type: TypeOffer, To: "bob"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = alice.Send(context.Background(), Message{Type: "bogus", CallID: "c", To: "bob"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestClosedEndpointRefusesSend(t *testing.T) {
	relay := NewMemoryRelay()
	alice := relay.Bind("alice")
	require.NoError(t, alice.Close())

	err := alice.Send(context.Background(), testMessage("call-4", "alice", "bob", TypeOffer))
	assert.ErrorIs(t, err, ErrClosed)
}

// flakyTransport fails the first failCount sends, then succeeds.
type flakyTransport struct {
	failCount int
	failErr   error
	attempts  int
	sent      []Message
}

func (f *flakyTransport) Send(ctx context.Context, msg Message) error {
	f.attempts++
	if f.attempts <= f.failCount {
		return f.failErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *flakyTransport) Subscribe(callID string) (<-chan Message, func(), error) {
	return nil, nil, ErrClosed
}

func (f *flakyTransport) Incoming() <-chan Message { return nil }

func (f *flakyTransport) Close() error { return nil }

func TestReliableSenderRetriesTransientFailures(t *testing.T) {
	transport := &flakyTransport{failCount: 2, failErr: assert.AnError}
	sender := NewReliableSender(transport)

	err := sender.Send(context.Background(), testMessage("call-5", "alice", "bob", TypeOffer))
	require.NoError(t, err)
	assert.Equal(t, 3, transport.attempts)
	assert.Len(t, transport.sent, 1)
}

func TestReliableSenderSurfacesUnreachable(t *testing.T) {
	transport := &flakyTransport{failCount: 100, failErr: assert.AnError}
	sender := NewReliableSender(transport)

	err := sender.Send(context.Background(), testMessage("call-6", "alice", "bob", TypeOffer))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, sendAttempts, transport.attempts)
}

func TestReliableSenderDoesNotRetryPermanentErrors(t *testing.T) {
	transport := &flakyTransport{failCount: 100, failErr: ErrClosed}
	sender := NewReliableSender(transport)

	err := sender.Send(context.Background(), testMessage("call-7", "alice", "bob", TypeOffer))
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 1, transport.attempts)
}
