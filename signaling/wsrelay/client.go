// Package wsrelay implements the signaling Transport over a websocket
// relay service.
//
// The relay protocol is minimal: the client identifies itself with a
// participant query parameter, subscribes and unsubscribes to call ids
// with control frames, and publishes messages with publish frames. The
// relay pushes every message addressed to the participant as a JSON
// frame; ordering is preserved per call id by the relay.
//
// The subscription set survives relay disconnects: the client
// reconnects with exponential backoff and replays its subscribe frames,
// so callers never observe a transient outage as a lost subscription.
package wsrelay

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/callengine/signaling"
)

const (
	// reconnectBase is the first reconnect delay after a disconnect.
	reconnectBase = 500 * time.Millisecond
	// reconnectCap bounds the exponential backoff.
	reconnectCap = 8 * time.Second

	writeTimeout = 5 * time.Second
	chanBuffer   = 64
)

// frame is one websocket JSON frame in either direction.
type frame struct {
	Op      string             `json:"op"` // subscribe | unsubscribe | publish | deliver
	CallID  string             `json:"callId,omitempty"`
	Message *signaling.Message `json:"message,omitempty"`
}

// Client is a signaling.Transport backed by a websocket relay.
type Client struct {
	rawURL        string
	participantID string

	mu       sync.Mutex
	conn     *websocket.Conn
	subs     map[string]chan signaling.Message
	incoming chan signaling.Message
	closed   bool
	done     chan struct{}

	log *logrus.Entry
}

// Dial connects to the relay and starts the read/reconnect loop.
func Dial(ctx context.Context, rawURL, participantID string) (*Client, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	q.Set("participant", participantID)
	u.RawQuery = q.Encode()

	c := &Client{
		rawURL:        u.String(),
		participantID: participantID,
		subs:          make(map[string]chan signaling.Message),
		incoming:      make(chan signaling.Message, chanBuffer),
		done:          make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"component":   "wsrelay",
			"participant": participantID,
		}),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c.conn = conn
	c.log.Info("Connected to signaling relay")

	go c.readLoop(conn)
	return c, nil
}

// Send publishes one message through the relay. A failed write is
// returned to the caller; signaling.ReliableSender adds the bounded
// retry policy on top.
func (c *Client) Send(ctx context.Context, msg signaling.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return signaling.ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: relay disconnected", signaling.ErrUnreachable)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := conn.WriteJSON(frame{Op: "publish", Message: &msg}); err != nil {
		return fmt.Errorf("%w: %v", signaling.ErrUnreachable, err)
	}
	return nil
}

// Subscribe starts delivery for a call id and registers it for replay
// across reconnects.
func (c *Client) Subscribe(callID string) (<-chan signaling.Message, func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, signaling.ErrClosed
	}
	ch, ok := c.subs[callID]
	if !ok {
		ch = make(chan signaling.Message, chanBuffer)
		c.subs[callID] = ch
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeFrame(conn, frame{Op: "subscribe", CallID: callID})
	}

	cancel := func() {
		c.mu.Lock()
		sub, exists := c.subs[callID]
		if exists {
			delete(c.subs, callID)
			close(sub)
		}
		conn := c.conn
		c.mu.Unlock()
		if exists && conn != nil {
			c.writeFrame(conn, frame{Op: "unsubscribe", CallID: callID})
		}
	}
	return ch, cancel, nil
}

// Incoming delivers messages for call ids without a subscription.
func (c *Client) Incoming() <-chan signaling.Message {
	return c.incoming
}

// Close tears down the connection and every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	close(c.incoming)
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// writeFrame sends a control frame, logging failures; the reconnect
// replay makes a lost control frame harmless.
func (c *Client) writeFrame(conn *websocket.Conn, f frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(f); err != nil {
		c.log.WithFields(logrus.Fields{
			"op":      f.Op,
			"call_id": f.CallID,
			"error":   err.Error(),
		}).Warn("Failed to write relay control frame")
	}
}

// readLoop consumes frames until the connection drops, then hands off
// to the reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				c.log.WithField("error", err.Error()).Warn("Relay connection lost")
			}
			c.reconnectLoop()
			return
		}
		if f.Message == nil {
			continue
		}
		c.dispatch(*f.Message)
	}
}

// reconnectLoop re-dials with exponential backoff and replays the
// subscription set once connected.
func (c *Client) reconnectLoop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.mu.Unlock()

	delay := reconnectBase
	for {
		select {
		case <-c.done:
			return
		case <-time.After(delay):
		}

		conn, _, err := websocket.DefaultDialer.Dial(c.rawURL, nil)
		if err != nil {
			c.log.WithFields(logrus.Fields{
				"error": err.Error(),
				"delay": delay.String(),
			}).Warn("Relay reconnect failed")
			delay *= 2
			if delay > reconnectCap {
				delay = reconnectCap
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		callIDs := make([]string, 0, len(c.subs))
		for id := range c.subs {
			callIDs = append(callIDs, id)
		}
		c.mu.Unlock()

		for _, id := range callIDs {
			c.writeFrame(conn, frame{Op: "subscribe", CallID: id})
		}
		c.log.WithField("subscriptions", len(callIDs)).Info("Reconnected to signaling relay")

		go c.readLoop(conn)
		return
	}
}

// dispatch routes one delivered message to its subscription, or to the
// incoming channel when the call id is unknown.
func (c *Client) dispatch(msg signaling.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	target := c.incoming
	if ch, ok := c.subs[msg.CallID]; ok {
		target = ch
	}
	select {
	case target <- msg:
	default:
		c.log.WithFields(logrus.Fields{
			"call_id": msg.CallID,
			"type":    string(msg.Type),
		}).Warn("Delivery channel full, dropping message")
	}
}
