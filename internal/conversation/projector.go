// Package conversation derives per-identity conversation views from the
// canonical message log. Nothing here is stored per party — the legacy
// design's embedded per-user message copies (and their dual-write hazard)
// are replaced by these read-side projections plus a small read watermark
// for the unread indicator.
package conversation

import (
	"context"
	"database/sql"
	"time"

	"github.com/pawmatch/match-app/internal/errs"
	"github.com/pawmatch/match-app/internal/identity"
)

// Summary is one conversation as seen by a specific identity.
type Summary struct {
	Peer        identity.ID `json:"peer_id"`
	LastSeq     int64       `json:"last_seq"`
	LastBody    string      `json:"last_body"`
	LastSender  identity.ID `json:"last_sender_id"`
	LastAt      time.Time   `json:"last_at"`
	Unread      bool        `json:"unread"`
	UnreadCount int         `json:"unread_count"`
}

// Projector reads conversation projections from PostgreSQL.
type Projector struct {
	db *sql.DB
}

// NewProjector creates a Projector over the given database handle.
func NewProjector(db *sql.DB) *Projector {
	return &Projector{db: db}
}

// ListFor returns one summary per distinct peer the identity has exchanged
// messages with, ordered by most recent activity descending. An identity
// with no conversations yields an empty slice.
func (p *Projector) ListFor(ctx context.Context, id identity.ID) ([]Summary, error) {
	// DISTINCT ON the derived peer column picks each conversation's latest
	// row; the watermark join turns it into an unread indicator.
	rows, err := p.db.QueryContext(ctx, `
		SELECT last.peer, last.seq, last.body, last.sender_id, last.created_at,
		       COALESCE(r.last_read, 0) AS last_read,
		       (SELECT COUNT(*) FROM messages u
		        WHERE u.sender_id = last.peer AND u.recipient_id = $1
		          AND u.seq > COALESCE(r.last_read, 0)) AS unread_count
		FROM (
			SELECT DISTINCT ON (peer) *
			FROM (
				SELECT CASE WHEN sender_id = $1 THEN recipient_id ELSE sender_id END AS peer,
				       seq, body, sender_id, created_at
				FROM messages
				WHERE sender_id = $1 OR recipient_id = $1
			) m
			ORDER BY peer, seq DESC
		) last
		LEFT JOIN conversation_reads r ON r.identity = $1 AND r.peer = last.peer
		ORDER BY last.seq DESC`,
		string(id),
	)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "conversation: list")
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var s Summary
		var peer, lastSender string
		var lastRead int64
		if err := rows.Scan(&peer, &s.LastSeq, &s.LastBody, &lastSender, &s.LastAt, &lastRead, &s.UnreadCount); err != nil {
			return nil, errs.Wrap(errs.Unavailable, err, "conversation: scan")
		}
		s.Peer = identity.ID(peer)
		s.LastSender = identity.ID(lastSender)
		s.Unread = s.UnreadCount > 0
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "conversation: rows")
	}
	return out, nil
}

// MarkRead advances the identity's read watermark for one peer. The
// watermark only moves forward; a stale MarkRead is a no-op.
func (p *Projector) MarkRead(ctx context.Context, id, peer identity.ID, throughSeq int64) error {
	if throughSeq < 0 {
		return errs.New(errs.InvalidArgument, "through_seq must be non-negative")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO conversation_reads (identity, peer, last_read, read_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (identity, peer) DO UPDATE
		SET last_read = GREATEST(conversation_reads.last_read, EXCLUDED.last_read),
		    read_at = NOW()`,
		string(id), string(peer), throughSeq,
	)
	if err != nil {
		return errs.Wrap(errs.Unavailable, err, "conversation: mark read")
	}
	return nil
}
