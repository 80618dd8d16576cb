// Package message owns the canonical message log. Every message lives in
// exactly one place — the messages table — and all per-party views are
// derived from it on read; no component holds a second mutable copy.
package message

import (
	"time"

	"github.com/google/uuid"

	"github.com/pawmatch/match-app/internal/identity"
)

// Message is one immutable record in the canonical log. Seq is the
// server-assigned append order; within a single conversation it is the
// total message order.
type Message struct {
	Seq       int64       `json:"seq"`
	ID        uuid.UUID   `json:"id"`
	Sender    identity.ID `json:"sender_id"`
	Recipient identity.ID `json:"recipient_id"`
	Body      string      `json:"body"`
	CreatedAt time.Time   `json:"created_at"`
}
