// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeMessage  = "message"
	TypeTyping   = "typing"
	TypeMarkRead = "mark_read"
	TypePing     = "ping"
)

// Server -> Client message types.
const (
	TypeConnected     = "connected"
	TypeServerMessage = "message"
	TypeMessageSent   = "message_sent"
	TypeMatch         = "match"
	TypeUnmatch       = "unmatch"
	TypeServerTyping  = "typing"
	TypeRateLimited   = "rate_limited"
	TypeMuted         = "muted"
	TypeError         = "error"
	TypePong          = "pong"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// SendMsg is a text message sent by the client to a matched recipient.
type SendMsg struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
}

// TypingMsg indicates whether the client is currently typing to a peer.
type TypingMsg struct {
	Type     string `json:"type"`
	PeerID   string `json:"peer_id"`
	IsTyping bool   `json:"is_typing"`
}

// MarkReadMsg advances the client's read watermark for one conversation.
type MarkReadMsg struct {
	Type       string `json:"type"`
	PeerID     string `json:"peer_id"`
	ThroughSeq int64  `json:"through_seq"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// ConnectedMsg is sent by the server once the connection is authenticated.
type ConnectedMsg struct {
	Type       string `json:"type"`
	IdentityID string `json:"identity_id"`
}

// ServerChatMsg delivers a committed message to its recipient.
type ServerChatMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Seq       int64  `json:"seq"`
	SenderID  string `json:"sender_id"`
	Body      string `json:"body"`
	Ts        int64  `json:"ts"`
}

// MessageSentMsg acknowledges the sender's message with its committed
// identity and sequence.
type MessageSentMsg struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Seq       int64  `json:"seq"`
	Ts        int64  `json:"ts"`
}

// MatchMsg notifies the client that a new match edge now includes them.
type MatchMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// UnmatchMsg notifies the client that a match edge was removed.
type UnmatchMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// ServerTypingMsg relays a peer's typing indicator to the client.
type ServerTypingMsg struct {
	Type     string `json:"type"`
	PeerID   string `json:"peer_id"`
	IsTyping bool   `json:"is_typing"`
}

// RateLimitedMsg is sent by the server when the client has been rate-limited.
type RateLimitedMsg struct {
	Type       string `json:"type"`
	RetryAfter int    `json:"retry_after"`
}

// MutedMsg is sent by the server when the client's send was rejected because
// they are muted.
type MutedMsg struct {
	Type      string `json:"type"`
	Remaining int    `json:"remaining"`
	Reason    string `json:"reason"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeMessage:
		var m SendMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
