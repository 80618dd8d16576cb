// Package sanction provides identity-level mute management backed by Redis.
// Mute records are stored as simple key-value pairs with TTL-based expiry:
//
//	Key:   mute:<identity>
//	Value: <reason>
//	TTL:   mute duration
package sanction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawmatch/match-app/internal/identity"
)

const (
	// MutePrefix is the Redis key prefix for mute records.
	MutePrefix = "mute:"

	// StrikesPrefix is the Redis key prefix for strike counters used by
	// the escalating mute system.
	StrikesPrefix = "strikes:"

	// Escalating mute durations.
	Mute15Min  = 15 * time.Minute // 1st strike
	Mute1Hour  = 1 * time.Hour    // 2nd strike
	Mute24Hour = 24 * time.Hour   // 3rd+ strike

	// StrikesTTL is how long the strike counter lives in Redis. After 24h
	// without new strikes the counter resets to zero.
	StrikesTTL = 24 * time.Hour
)

// Store manages mute records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new sanction store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsMuted checks if an identity is currently muted.
// Returns (muted, remainingSeconds, reason, error). Redis errors are
// returned so callers can decide how to handle them; the send path
// fails open.
func (s *Store) IsMuted(ctx context.Context, id identity.ID) (bool, int, string, error) {
	key := MutePrefix + string(id)

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The mute exists but the TTL read failed. Report muted with 0
		// remaining rather than swallowing the mute.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}

	return true, remaining, reason, nil
}

// Mute silences an identity for the given duration. The mute expires
// automatically.
func (s *Store) Mute(ctx context.Context, id identity.ID, duration time.Duration, reason string) error {
	return s.client.Set(ctx, MutePrefix+string(id), reason, duration).Err()
}

// Unmute lifts a mute immediately.
func (s *Store) Unmute(ctx context.Context, id identity.ID) error {
	return s.client.Del(ctx, MutePrefix+string(id)).Err()
}

// escalationDuration returns the mute duration for a given strike count.
func escalationDuration(strikes int) time.Duration {
	switch {
	case strikes <= 1:
		return Mute15Min
	case strikes == 2:
		return Mute1Hour
	default:
		return Mute24Hour
	}
}

// StrikeCount returns the current strike counter for an identity. Returns 0
// if the key does not exist (no strikes recorded or counter expired).
func (s *Store) StrikeCount(ctx context.Context, id identity.ID) (int, error) {
	val, err := s.client.Get(ctx, StrikesPrefix+string(id)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// Escalate increments the strike counter for an identity and applies a mute
// whose duration escalates with the number of strikes:
//
//	1st strike  -> 15 minutes
//	2nd strike  -> 1 hour
//	3rd+ strike -> 24 hours
//
// The strike counter has a 24h TTL set on first increment, so counters
// naturally expire if there is no new activity.
//
// Returns the mute duration that was applied.
func (s *Store) Escalate(ctx context.Context, id identity.ID, reason string) (time.Duration, error) {
	key := StrikesPrefix + string(id)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("sanction: escalate incr: %w", err)
	}

	// Set TTL only on first increment so the window doesn't slide.
	if count == 1 {
		if err := s.client.Expire(ctx, key, StrikesTTL).Err(); err != nil {
			return 0, fmt.Errorf("sanction: escalate expire: %w", err)
		}
	}

	duration := escalationDuration(int(count))
	if err := s.Mute(ctx, id, duration, reason); err != nil {
		return 0, fmt.Errorf("sanction: escalate mute: %w", err)
	}

	return duration, nil
}
