package wsrelay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/callengine/signaling"
)

// testRelay is a minimal in-process relay: it upgrades connections,
// keys them by the participant query parameter, and forwards publish
// frames to the recipient as deliver frames.
type testRelay struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

func newTestRelay() *testRelay {
	return &testRelay{conns: make(map[string]*websocket.Conn)}
}

func (r *testRelay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	participant := req.URL.Query().Get("participant")
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	r.mu.Lock()
	r.conns[participant] = conn
	r.mu.Unlock()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Op != "publish" || f.Message == nil {
			continue
		}
		r.mu.Lock()
		target := r.conns[f.Message.To]
		if target != nil {
			target.WriteJSON(frame{Op: "deliver", Message: f.Message})
		}
		r.mu.Unlock()
	}
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialTestClient(t *testing.T, server *httptest.Server, participant string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), wsURL(server), participant)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClientRoutesSubscribedMessages(t *testing.T) {
	server := httptest.NewServer(newTestRelay())
	defer server.Close()

	alice := dialTestClient(t, server, "alice")
	bob := dialTestClient(t, server, "bob")

	msgs, cancel, err := bob.Subscribe("call-1")
	require.NoError(t, err)
	defer cancel()

	sent := signaling.Message{
		Type:   signaling.TypeOffer,
		CallID: "call-1",
		From:   "alice",
		To:     "bob",
		Data:   signaling.StringData("v=0 offer"),
		SentAt: time.Now(),
	}
	require.NoError(t, alice.Send(context.Background(), sent))

	select {
	case got := <-msgs:
		assert.Equal(t, signaling.TypeOffer, got.Type)
		assert.Equal(t, "call-1", got.CallID)
		assert.Equal(t, "alice", got.From)
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}

func TestClientDeliversUnknownCallsToIncoming(t *testing.T) {
	server := httptest.NewServer(newTestRelay())
	defer server.Close()

	alice := dialTestClient(t, server, "alice")
	bob := dialTestClient(t, server, "bob")

	sent := signaling.Message{
		Type:   signaling.TypeOffer,
		CallID: "call-2",
		From:   "alice",
		To:     "bob",
		Data:   signaling.StringData("v=0 offer"),
		SentAt: time.Now(),
	}
	require.NoError(t, alice.Send(context.Background(), sent))

	select {
	case got := <-bob.Incoming():
		assert.Equal(t, "call-2", got.CallID)
	case <-time.After(2 * time.Second):
		t.Fatal("incoming message never delivered")
	}
}

func TestClientValidatesBeforeSending(t *testing.T) {
	server := httptest.NewServer(newTestRelay())
	defer server.Close()

	alice := dialTestClient(t, server, "alice")
	err := alice.Send(context.Background(), signaling.Message{Type: signaling.TypeOffer})
	assert.ErrorIs(t, err, signaling.ErrInvalidMessage)
}

func TestClosedClientRefusesOperations(t *testing.T) {
	server := httptest.NewServer(newTestRelay())
	defer server.Close()

	alice := dialTestClient(t, server, "alice")
	require.NoError(t, alice.Close())
	require.NoError(t, alice.Close())

	err := alice.Send(context.Background(), signaling.Message{
		Type:   signaling.TypeOffer,
		CallID: "call-3",
		From:   "alice",
		To:     "bob",
		SentAt: time.Now(),
	})
	assert.ErrorIs(t, err, signaling.ErrClosed)

	_, _, err = alice.Subscribe("call-3")
	assert.ErrorIs(t, err, signaling.ErrClosed)
}
