// Package signaling defines the out-of-band signaling messages and the
// relay transport contract used to exchange them.
//
// The relay is publish/subscribe keyed by call id. Delivery is
// at-least-once and ordered per call id; there is no ordering guarantee
// across different calls. Messages are transient and never persisted
// beyond delivery.
package signaling

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of signaling message.
type Type string

const (
	// TypeOffer carries an SDP offer.
	TypeOffer Type = "offer"
	// TypeAnswer carries an SDP answer.
	TypeAnswer Type = "answer"
	// TypeICECandidate carries one ICE candidate.
	TypeICECandidate Type = "ice-candidate"
	// TypeEnd is the authoritative remote hangup.
	TypeEnd Type = "end"
	// TypeDTMFEcho echoes a sent DTMF digit for remote keypad display.
	TypeDTMFEcho Type = "dtmf-echo"
)

// Message is one signaling message relayed between peers. Data is an
// opaque negotiation blob (SDP or ICE candidate) the relay never
// inspects.
type Message struct {
	Type   Type            `json:"type"`
	CallID string          `json:"callId"`
	From   string          `json:"from"`
	To     string          `json:"to"`
	Data   json.RawMessage `json:"data,omitempty"`
	SentAt time.Time       `json:"sentAt"`
}

// Validate checks the fields every relayed message must carry.
func (m Message) Validate() error {
	if m.CallID == "" {
		return fmt.Errorf("%w: missing call id", ErrInvalidMessage)
	}
	if m.To == "" {
		return fmt.Errorf("%w: missing recipient", ErrInvalidMessage)
	}
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeICECandidate, TypeEnd, TypeDTMFEcho:
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, m.Type)
	}
}

// Marshal encodes the message as relay JSON.
func Marshal(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Unmarshal decodes relay JSON into a message, validating the result.
func Unmarshal(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// StringData wraps a plain string payload (an SDP body or candidate
// line) as the opaque data blob.
func StringData(s string) json.RawMessage {
	b, _ := json.Marshal(s)
	return b
}

// DataString unwraps a payload produced by StringData.
func DataString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: payload is not a string: %v", ErrInvalidMessage, err)
	}
	return s, nil
}
