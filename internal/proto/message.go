package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame names on the wire.
const (
	EventMessage    = "message"
	EventTyping     = "typing"
	EventUserTyping = "userTyping"
	EventConnect    = "connect"

	// Client-side lifecycle notifications; never sent by the relay.
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// Handshake query parameters.
const (
	QueryUserID = "userId"
	QueryToken  = "token"
)

// ErrMalformed marks a payload that does not match its event.
var ErrMalformed = errors.New("malformed payload")

// Inbound is the envelope for frames read off the wire.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Outbound is the envelope for frames written to the wire.
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// MessagePayload is a chat message in both directions.
// RoomID is carried untouched; the relay does not partition by room.
type MessagePayload struct {
	Text      string `json:"text"`
	UserID    string `json:"userId"`
	ID        string `json:"id,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	RoomID    string `json:"roomId,omitempty"`
}

// TypingPayload is sent by clients. UserID is informational only; the relay
// uses the identity bound to the connection.
type TypingPayload struct {
	UserID   string `json:"userId,omitempty"`
	IsTyping bool   `json:"isTyping"`
}

// UserTypingPayload is relayed to every connection but the sender.
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// ConnectPayload acknowledges a registered connection.
type ConnectPayload struct {
	ID     string `json:"id"`
	UserID string `json:"userId,omitempty"`
}

// DecodeMessage parses a message payload. The text field is required.
func DecodeMessage(raw json.RawMessage) (MessagePayload, error) {
	var probe struct {
		Text *string `json:"text"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return MessagePayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if probe.Text == nil {
		return MessagePayload{}, fmt.Errorf("%w: text is required", ErrMalformed)
	}

	var msg MessagePayload
	if err := json.Unmarshal(raw, &msg); err != nil {
		return MessagePayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return msg, nil
}

// DecodeTyping parses a typing payload. The isTyping field is required.
func DecodeTyping(raw json.RawMessage) (TypingPayload, error) {
	var probe struct {
		IsTyping *bool `json:"isTyping"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return TypingPayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if probe.IsTyping == nil {
		return TypingPayload{}, fmt.Errorf("%w: isTyping is required", ErrMalformed)
	}

	var typing TypingPayload
	if err := json.Unmarshal(raw, &typing); err != nil {
		return TypingPayload{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return typing, nil
}
