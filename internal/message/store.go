package message

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/pawmatch/match-app/internal/errs"
	"github.com/pawmatch/match-app/internal/identity"
	"github.com/pawmatch/match-app/internal/match"
)

// DefaultPageSize bounds ListConversation when the caller does not ask for
// a specific limit.
const DefaultPageSize = 50

// Store is the PostgreSQL-backed canonical message log.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append commits a message to the canonical log and returns it with its
// server-assigned seq and timestamp. Concurrent appends for the same pair
// are funneled through a pair-scoped advisory lock so per-conversation
// order equals commit order; unrelated pairs do not serialize.
func (s *Store) Append(ctx context.Context, sender, recipient identity.ID, body string) (*Message, error) {
	lo, hi := match.CanonicalPair(sender, recipient)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "message: begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		string(lo)+"\x00"+string(hi),
	)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "message: pair lock")
	}

	m := &Message{
		ID:        uuid.New(),
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, body)
		 VALUES ($1, $2, $3, $4)
		 RETURNING seq, created_at`,
		m.ID, string(sender), string(recipient), body,
	).Scan(&m.Seq, &m.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "message: insert")
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "message: commit")
	}
	return m, nil
}

// GetByID looks up a single message. Returns NotFound if absent.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	var m Message
	var sender, recipient string
	err := s.db.QueryRowContext(ctx,
		`SELECT seq, id, sender_id, recipient_id, body, created_at
		 FROM messages WHERE id = $1`, id,
	).Scan(&m.Seq, &m.ID, &sender, &recipient, &m.Body, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.New(errs.NotFound, "message %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "message: get")
	}
	m.Sender, m.Recipient = identity.ID(sender), identity.ID(recipient)
	return &m, nil
}

// ListConversation returns messages between a and b in ascending seq order,
// starting strictly after afterSeq. The cursor makes the sequence lazy and
// restartable; an empty conversation yields an empty slice, not an error.
func (s *Store) ListConversation(ctx context.Context, a, b identity.ID, afterSeq int64, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = DefaultPageSize
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, sender_id, recipient_id, body, created_at
		 FROM messages
		 WHERE ((sender_id = $1 AND recipient_id = $2)
		     OR (sender_id = $2 AND recipient_id = $1))
		   AND seq > $3
		 ORDER BY seq ASC
		 LIMIT $4`,
		string(a), string(b), afterSeq, limit,
	)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "message: list conversation")
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var m Message
		var sender, recipient string
		if err := rows.Scan(&m.Seq, &m.ID, &sender, &recipient, &m.Body, &m.CreatedAt); err != nil {
			return nil, errs.Wrap(errs.Unavailable, err, "message: scan")
		}
		m.Sender, m.Recipient = identity.ID(sender), identity.ID(recipient)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "message: rows")
	}
	return out, nil
}
