// Package flag provides the append-only flag ledger. Flags accumulate
// against users, listings, and messages; a target's flagged state is derived
// from the ledger and never cleared by removing rows, so it is monotonic by
// construction.
package flag

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pawmatch/match-app/internal/errs"
	"github.com/pawmatch/match-app/internal/identity"
	"github.com/pawmatch/match-app/internal/metrics"
)

// Kind identifies what a flag points at.
type Kind string

const (
	KindUser    Kind = "user"
	KindListing Kind = "listing"
	KindMessage Kind = "message"
)

// Valid reports whether k is a known target kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindListing, KindMessage:
		return true
	}
	return false
}

const (
	// MaxReasonLen bounds the free-text reason.
	MaxReasonLen = 500

	// DedupPrefix is the Redis key prefix for repeat-flag suppression.
	DedupPrefix = "flagdedup:"

	// DedupTTL is how long a (kind, target, flagger) triple suppresses
	// repeat flags from the same flagger.
	DedupTTL = 24 * time.Hour

	// SanctionThreshold is the number of flags against a user that
	// triggers an escalating mute.
	SanctionThreshold = 3
)

// Flag is one ledger entry.
type Flag struct {
	ID        uuid.UUID   `json:"id"`
	Kind      Kind        `json:"target_kind"`
	TargetID  string      `json:"target_id"`
	FlaggedBy identity.ID `json:"flagged_by"`
	Reason    string      `json:"reason"`
	CreatedAt time.Time   `json:"created_at"`
}

// TargetState is the derived moderation state of one target.
type TargetState struct {
	Kind        Kind      `json:"target_kind"`
	TargetID    string    `json:"target_id"`
	Flagged     bool      `json:"flagged"`
	FlagCount   int       `json:"flag_count"`
	LastFlagged time.Time `json:"last_flagged,omitempty"`
}

// Receipt is the outcome of filing a flag. Duplicate is true when the same
// flagger already flagged the same target within the dedup window; the
// ledger is unchanged in that case.
type Receipt struct {
	Flag      *Flag       `json:"flag,omitempty"`
	Duplicate bool        `json:"duplicate"`
	State     TargetState `json:"state"`
}

// Resolver reports whether a flag target exists. Each kind gets its own
// resolver wired at startup.
type Resolver func(ctx context.Context, targetID string) (bool, error)

// Sanctioner applies an escalating sanction to a user. Satisfied by
// sanction.Store.Escalate.
type Sanctioner interface {
	Escalate(ctx context.Context, id identity.ID, reason string) (time.Duration, error)
}

// Ledger manages the flag ledger in PostgreSQL, with Redis-backed repeat
// suppression.
type Ledger struct {
	db        *sql.DB
	rdb       *redis.Client
	resolvers map[Kind]Resolver
	sanctions Sanctioner
}

// NewLedger creates a Ledger. resolvers must cover every kind that will be
// filed; a nil rdb disables repeat suppression and a nil sanctions disables
// auto-escalation.
func NewLedger(db *sql.DB, rdb *redis.Client, resolvers map[Kind]Resolver, sanctions Sanctioner) *Ledger {
	return &Ledger{db: db, rdb: rdb, resolvers: resolvers, sanctions: sanctions}
}

// File appends a flag to the ledger. The target must exist; repeat flags by
// the same flagger within DedupTTL are suppressed and reported as
// duplicates rather than errors. Filing against a user at or past the
// sanction threshold triggers an escalating mute.
func (l *Ledger) File(ctx context.Context, flagger identity.ID, kind Kind, targetID, reason string) (*Receipt, error) {
	if !flagger.Valid() {
		return nil, errs.New(errs.InvalidArgument, "invalid flagger id")
	}
	if !kind.Valid() {
		return nil, errs.New(errs.InvalidArgument, "unknown target kind %q", kind)
	}
	if targetID == "" {
		return nil, errs.New(errs.InvalidArgument, "target id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errs.New(errs.InvalidArgument, "reason is required")
	}
	if len(reason) > MaxReasonLen {
		return nil, errs.New(errs.InvalidArgument, "reason exceeds %d bytes", MaxReasonLen)
	}

	resolve, ok := l.resolvers[kind]
	if !ok {
		return nil, errs.New(errs.InvalidArgument, "no resolver for kind %q", kind)
	}
	exists, err := resolve(ctx, targetID)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "flag: resolve target")
	}
	if !exists {
		return nil, errs.New(errs.NotFound, "%s %q not found", kind, targetID)
	}

	if dup, err := l.markFiled(ctx, flagger, kind, targetID); err != nil {
		// Dedup is best-effort. A Redis outage must not lose flags.
		log.Printf("[flag] dedup check failed, accepting flag: %v", err)
	} else if dup {
		state, err := l.TargetState(ctx, kind, targetID)
		if err != nil {
			return nil, err
		}
		return &Receipt{Duplicate: true, State: state}, nil
	}

	f := &Flag{
		ID:        uuid.New(),
		Kind:      kind,
		TargetID:  targetID,
		FlaggedBy: flagger,
		Reason:    reason,
	}
	err = l.db.QueryRowContext(ctx, `
		INSERT INTO flags (id, target_kind, target_id, flagged_by, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		f.ID, string(kind), targetID, string(flagger), reason,
	).Scan(&f.CreatedAt)
	if err != nil {
		// The dedup marker was written before the insert; clear it so a
		// retry is not misclassified as a duplicate and lost.
		l.clearFiled(ctx, flagger, kind, targetID)
		return nil, errs.Wrap(errs.Unavailable, err, "flag: insert")
	}
	metrics.FlagsTotal.WithLabelValues(string(kind)).Inc()

	state, err := l.TargetState(ctx, kind, targetID)
	if err != nil {
		return nil, err
	}

	if kind == KindUser && l.sanctions != nil && state.FlagCount >= SanctionThreshold {
		duration, err := l.sanctions.Escalate(ctx, identity.ID(targetID), "flag_threshold")
		if err != nil {
			log.Printf("[flag] sanction escalation failed for %s: %v", targetID, err)
		} else {
			log.Printf("[flag] muted %s for %s after %d flags", targetID, duration, state.FlagCount)
		}
	}

	return &Receipt{Flag: f, State: state}, nil
}

// markFiled records the (kind, target, flagger) triple in Redis with NX
// semantics. Returns true when the triple was already present.
func (l *Ledger) markFiled(ctx context.Context, flagger identity.ID, kind Kind, targetID string) (bool, error) {
	if l.rdb == nil {
		return false, nil
	}
	set, err := l.rdb.SetNX(ctx, dedupKey(flagger, kind, targetID), 1, DedupTTL).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// clearFiled drops the dedup marker. Best effort: if the delete fails the
// flagger is suppressed for the window, which is the pre-existing behavior.
func (l *Ledger) clearFiled(ctx context.Context, flagger identity.ID, kind Kind, targetID string) {
	if l.rdb == nil {
		return
	}
	key := dedupKey(flagger, kind, targetID)
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		log.Printf("[flag] dedup clear failed for %s: %v", key, err)
	}
}

func dedupKey(flagger identity.ID, kind Kind, targetID string) string {
	return fmt.Sprintf("%s%s:%s:%s", DedupPrefix, kind, targetID, flagger)
}

// TargetState derives the moderation state of one target from the ledger.
// A target that exists but has never been flagged yields a zero-count,
// unflagged state.
func (l *Ledger) TargetState(ctx context.Context, kind Kind, targetID string) (TargetState, error) {
	state := TargetState{Kind: kind, TargetID: targetID}
	if !kind.Valid() {
		return state, errs.New(errs.InvalidArgument, "unknown target kind %q", kind)
	}

	var last sql.NullTime
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MAX(created_at)
		FROM flags
		WHERE target_kind = $1 AND target_id = $2`,
		string(kind), targetID,
	).Scan(&state.FlagCount, &last)
	if err != nil {
		return state, errs.Wrap(errs.Unavailable, err, "flag: target state")
	}
	state.Flagged = state.FlagCount > 0
	if last.Valid {
		state.LastFlagged = last.Time
	}
	return state, nil
}

// ListFlagged returns the flagged targets of one kind ordered by most
// recently flagged, newest first. limit is clamped to 200 and defaults
// to 50.
func (l *Ledger) ListFlagged(ctx context.Context, kind Kind, limit, offset int) ([]TargetState, error) {
	if !kind.Valid() {
		return nil, errs.New(errs.InvalidArgument, "unknown target kind %q", kind)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT target_id, COUNT(*), MAX(created_at) AS last_flagged
		FROM flags
		WHERE target_kind = $1
		GROUP BY target_id
		ORDER BY last_flagged DESC
		LIMIT $2 OFFSET $3`,
		string(kind), limit, offset,
	)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "flag: list flagged")
	}
	defer rows.Close()

	out := []TargetState{}
	for rows.Next() {
		state := TargetState{Kind: kind, Flagged: true}
		if err := rows.Scan(&state.TargetID, &state.FlagCount, &state.LastFlagged); err != nil {
			return nil, errs.Wrap(errs.Unavailable, err, "flag: scan")
		}
		out = append(out, state)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "flag: rows")
	}
	return out, nil
}

// History returns the raw ledger entries for one target, newest first.
func (l *Ledger) History(ctx context.Context, kind Kind, targetID string, limit int) ([]Flag, error) {
	if !kind.Valid() {
		return nil, errs.New(errs.InvalidArgument, "unknown target kind %q", kind)
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, flagged_by, reason, created_at
		FROM flags
		WHERE target_kind = $1 AND target_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		string(kind), targetID, limit,
	)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "flag: history")
	}
	defer rows.Close()

	out := []Flag{}
	for rows.Next() {
		f := Flag{Kind: kind, TargetID: targetID}
		var by string
		if err := rows.Scan(&f.ID, &by, &f.Reason, &f.CreatedAt); err != nil {
			return nil, errs.Wrap(errs.Unavailable, err, "flag: scan")
		}
		f.FlaggedBy = identity.ID(by)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "flag: rows")
	}
	return out, nil
}
