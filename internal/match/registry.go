// Package match maintains the symmetric "is matched with" relation between
// identities. The relation is a single edge keyed by the canonical (sorted)
// pair, so creation and teardown are atomic for both sides — no interleaving
// of concurrent requests can produce a state where one side observes the
// match and the other does not.
package match

import (
	"context"
	"database/sql"
	"time"

	"github.com/pawmatch/match-app/internal/errs"
	"github.com/pawmatch/match-app/internal/identity"
)

// Match is one symmetric edge. UserA < UserB always (canonical order).
type Match struct {
	UserA     identity.ID `json:"user_a"`
	UserB     identity.ID `json:"user_b"`
	CreatedAt time.Time   `json:"created_at"`
}

// Peer returns the other party of the edge, or "" if id is not on it.
func (m *Match) Peer(id identity.ID) identity.ID {
	switch id {
	case m.UserA:
		return m.UserB
	case m.UserB:
		return m.UserA
	}
	return ""
}

// CanonicalPair orders two identities into the stored edge key.
func CanonicalPair(a, b identity.ID) (identity.ID, identity.ID) {
	if a > b {
		return b, a
	}
	return a, b
}

// Registry is the PostgreSQL-backed match store.
type Registry struct {
	db  *sql.DB
	dir identity.Directory
}

// NewRegistry creates a Registry over the given database handle and
// identity directory.
func NewRegistry(db *sql.DB, dir identity.Directory) *Registry {
	return &Registry{db: db, dir: dir}
}

// Request creates the match between caller and target if absent. The
// returned bool is true when this call created the edge, false when it
// already existed — callers use it to suppress duplicate notifications.
// Idempotent: repeating an existing request is a no-op, not an error.
func (r *Registry) Request(ctx context.Context, caller, target identity.ID) (*Match, bool, error) {
	if !caller.Valid() || !target.Valid() {
		return nil, false, errs.New(errs.InvalidArgument, "invalid identity")
	}
	if caller == target {
		return nil, false, errs.New(errs.InvalidArgument, "cannot match with yourself")
	}

	for _, id := range []identity.ID{caller, target} {
		ok, err := r.dir.Exists(ctx, id)
		if err != nil {
			return nil, false, errs.Wrap(errs.Unavailable, err, "match: resolve identity")
		}
		if !ok {
			return nil, false, errs.New(errs.NotFound, "user %s not found", id)
		}
	}

	lo, hi := CanonicalPair(caller, target)

	// ON CONFLICT DO NOTHING makes concurrent A→B / B→A requests converge
	// on exactly one row; rows-affected tells new from existing.
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO matches (user_a, user_b) VALUES ($1, $2)
		 ON CONFLICT (user_a, user_b) DO NOTHING`,
		string(lo), string(hi),
	)
	if err != nil {
		return nil, false, errs.Wrap(errs.Unavailable, err, "match: insert edge")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, errs.Wrap(errs.Unavailable, err, "match: rows affected")
	}

	m := &Match{UserA: lo, UserB: hi}
	err = r.db.QueryRowContext(ctx,
		`SELECT created_at FROM matches WHERE user_a = $1 AND user_b = $2`,
		string(lo), string(hi),
	).Scan(&m.CreatedAt)
	if err != nil {
		// The edge vanished between insert and read: a concurrent unmatch.
		if err == sql.ErrNoRows {
			return nil, false, errs.New(errs.Conflict, "match removed concurrently")
		}
		return nil, false, errs.Wrap(errs.Unavailable, err, "match: read edge")
	}

	return m, n == 1, nil
}

// IsMatched reports whether an edge exists between a and b. Symmetric:
// IsMatched(a, b) == IsMatched(b, a).
func (r *Registry) IsMatched(ctx context.Context, a, b identity.ID) (bool, error) {
	lo, hi := CanonicalPair(a, b)
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM matches WHERE user_a = $1 AND user_b = $2)`,
		string(lo), string(hi),
	).Scan(&exists)
	if err != nil {
		return false, errs.Wrap(errs.Unavailable, err, "match: exists")
	}
	return exists, nil
}

// Unmatch removes the edge symmetrically. Either party may revoke.
// Returns false when no edge existed.
func (r *Registry) Unmatch(ctx context.Context, a, b identity.ID) (bool, error) {
	lo, hi := CanonicalPair(a, b)
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM matches WHERE user_a = $1 AND user_b = $2`,
		string(lo), string(hi),
	)
	if err != nil {
		return false, errs.Wrap(errs.Unavailable, err, "match: delete edge")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.Unavailable, err, "match: rows affected")
	}
	return n == 1, nil
}

// ListFor returns all edges that include the given identity, newest first.
func (r *Registry) ListFor(ctx context.Context, id identity.ID) ([]Match, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_a, user_b, created_at FROM matches
		 WHERE user_a = $1 OR user_b = $1
		 ORDER BY created_at DESC`,
		string(id),
	)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "match: list")
	}
	defer rows.Close()

	var out []Match
	for rows.Next() {
		var m Match
		var a, b string
		if err := rows.Scan(&a, &b, &m.CreatedAt); err != nil {
			return nil, errs.Wrap(errs.Unavailable, err, "match: scan")
		}
		m.UserA, m.UserB = identity.ID(a), identity.ID(b)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "match: rows")
	}
	return out, nil
}
