package sanction

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pawmatch/match-app/internal/identity"
)

// newTestStore creates a Store connected to a local Redis instance and flushes
// all mute and strike keys before returning.  Tests that call this helper
// require a running Redis on localhost:6379.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	// Clean up any leftover test keys (both mute: and strikes: prefixes).
	for _, prefix := range []string{MutePrefix + "test_*", StrikesPrefix + "test_*"} {
		iter := client.Scan(ctx, 0, prefix, 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	t.Cleanup(func() {
		for _, prefix := range []string{MutePrefix + "test_*", StrikesPrefix + "test_*"} {
			iter := client.Scan(ctx, 0, prefix, 100).Iterator()
			for iter.Next(ctx) {
				client.Del(ctx, iter.Val())
			}
		}
		client.Close()
	})
	return NewStore(client)
}

func TestIsMuted_NotMuted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	muted, remaining, reason, err := store.IsMuted(ctx, identity.ID("test_no_mute"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if muted {
		t.Errorf("expected not muted, got muted (remaining=%d reason=%q)", remaining, reason)
	}
}

func TestMuteAndCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := identity.ID("test_mute_check")

	if err := store.Mute(ctx, id, 30*time.Second, "spam"); err != nil {
		t.Fatalf("Mute() error: %v", err)
	}

	muted, remaining, reason, err := store.IsMuted(ctx, id)
	if err != nil {
		t.Fatalf("IsMuted() error: %v", err)
	}
	if !muted {
		t.Fatal("expected muted=true")
	}
	if reason != "spam" {
		t.Errorf("expected reason=%q, got %q", "spam", reason)
	}
	if remaining <= 0 || remaining > 30 {
		t.Errorf("expected remaining in (0,30], got %d", remaining)
	}
}

func TestUnmute(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := identity.ID("test_unmute")

	if err := store.Mute(ctx, id, time.Minute, "test"); err != nil {
		t.Fatalf("Mute() error: %v", err)
	}

	// Verify muted.
	muted, _, _, _ := store.IsMuted(ctx, id)
	if !muted {
		t.Fatal("expected muted=true after Mute()")
	}

	// Unmute and verify.
	if err := store.Unmute(ctx, id); err != nil {
		t.Fatalf("Unmute() error: %v", err)
	}
	muted, _, _, err := store.IsMuted(ctx, id)
	if err != nil {
		t.Fatalf("IsMuted() error: %v", err)
	}
	if muted {
		t.Error("expected not muted after Unmute()")
	}
}

func TestEscalationDuration(t *testing.T) {
	cases := []struct {
		count    int
		expected time.Duration
	}{
		{0, Mute15Min},
		{1, Mute15Min},
		{2, Mute1Hour},
		{3, Mute24Hour},
		{4, Mute24Hour},
		{10, Mute24Hour},
	}
	for _, tc := range cases {
		got := escalationDuration(tc.count)
		if got != tc.expected {
			t.Errorf("escalationDuration(%d) = %v, want %v", tc.count, got, tc.expected)
		}
	}
}

func TestStrikeCount_NoStrikes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.StrikeCount(ctx, identity.ID("test_no_strikes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 strikes, got %d", count)
	}
}

func TestEscalate_FirstStrike_15Min(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := identity.ID("test_escalate_1st")

	duration, err := store.Escalate(ctx, id, "spam")
	if err != nil {
		t.Fatalf("Escalate() error: %v", err)
	}
	if duration != Mute15Min {
		t.Errorf("1st strike: expected %v, got %v", Mute15Min, duration)
	}

	// Verify the mute is in place.
	muted, remaining, reason, err := store.IsMuted(ctx, id)
	if err != nil {
		t.Fatalf("IsMuted() error: %v", err)
	}
	if !muted {
		t.Fatal("expected muted=true after 1st strike")
	}
	if reason != "spam" {
		t.Errorf("expected reason=%q, got %q", "spam", reason)
	}
	// 15 min = 900 seconds; allow some slack for test execution time.
	if remaining < 890 || remaining > 900 {
		t.Errorf("expected remaining ~900s, got %d", remaining)
	}

	// Strike counter should be 1.
	count, err := store.StrikeCount(ctx, id)
	if err != nil {
		t.Fatalf("StrikeCount() error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected strike count=1, got %d", count)
	}
}

func TestEscalate_SecondStrike_1Hour(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := identity.ID("test_escalate_2nd")

	// First strike.
	if _, err := store.Escalate(ctx, id, "spam"); err != nil {
		t.Fatalf("1st Escalate() error: %v", err)
	}

	// Unmute so the second strike's mute duration is unambiguous.
	store.Unmute(ctx, id)

	// Second strike.
	duration, err := store.Escalate(ctx, id, "harassment")
	if err != nil {
		t.Fatalf("2nd Escalate() error: %v", err)
	}
	if duration != Mute1Hour {
		t.Errorf("2nd strike: expected %v, got %v", Mute1Hour, duration)
	}

	// Verify mute.
	muted, remaining, _, err := store.IsMuted(ctx, id)
	if err != nil {
		t.Fatalf("IsMuted() error: %v", err)
	}
	if !muted {
		t.Fatal("expected muted=true after 2nd strike")
	}
	// 1 hour = 3600 seconds.
	if remaining < 3590 || remaining > 3600 {
		t.Errorf("expected remaining ~3600s, got %d", remaining)
	}

	// Strike counter should be 2.
	count, _ := store.StrikeCount(ctx, id)
	if count != 2 {
		t.Errorf("expected strike count=2, got %d", count)
	}
}

func TestEscalate_ThirdStrike_24Hour(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := identity.ID("test_escalate_3rd")

	// First and second strikes.
	store.Escalate(ctx, id, "spam")
	store.Escalate(ctx, id, "spam")
	store.Unmute(ctx, id)

	// Third strike.
	duration, err := store.Escalate(ctx, id, "serious")
	if err != nil {
		t.Fatalf("3rd Escalate() error: %v", err)
	}
	if duration != Mute24Hour {
		t.Errorf("3rd strike: expected %v, got %v", Mute24Hour, duration)
	}

	// 24h = 86400 seconds.
	_, remaining, _, _ := store.IsMuted(ctx, id)
	if remaining < 86390 || remaining > 86400 {
		t.Errorf("expected remaining ~86400s, got %d", remaining)
	}
}

func TestEscalate_FourthStrike_StillCapped24Hour(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := identity.ID("test_escalate_4th")

	// Build up 3 strikes.
	store.Escalate(ctx, id, "spam")
	store.Escalate(ctx, id, "spam")
	store.Escalate(ctx, id, "spam")
	store.Unmute(ctx, id)

	// Fourth strike should still be 24h, never permanent.
	duration, err := store.Escalate(ctx, id, "repeat")
	if err != nil {
		t.Fatalf("4th Escalate() error: %v", err)
	}
	if duration != Mute24Hour {
		t.Errorf("4th strike: expected %v (capped), got %v", Mute24Hour, duration)
	}
}

func TestStrikeCounterTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := identity.ID("test_strike_ttl")

	// Record a strike to create the counter.
	store.Escalate(ctx, id, "test")

	// Verify the counter has a TTL set (should be close to 24h).
	key := StrikesPrefix + string(id)
	ttl, err := store.client.TTL(ctx, key).Result()
	if err != nil {
		t.Fatalf("TTL() error: %v", err)
	}
	// TTL should be positive and close to 24h (86400s). Allow 10s slack.
	if ttl < 86390*time.Second || ttl > 86400*time.Second {
		t.Errorf("expected TTL ~24h, got %v", ttl)
	}
}

func TestStrikeCount_AfterEscalate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	id := identity.ID("test_strike_count")

	store.Escalate(ctx, id, "a")
	store.Escalate(ctx, id, "b")
	store.Escalate(ctx, id, "c")

	count, err := store.StrikeCount(ctx, id)
	if err != nil {
		t.Fatalf("StrikeCount() error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count=3, got %d", count)
	}
}
