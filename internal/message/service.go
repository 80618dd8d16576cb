package message

import (
	"context"
	"log"
	"time"

	"github.com/pawmatch/match-app/internal/errs"
	"github.com/pawmatch/match-app/internal/identity"
	"github.com/pawmatch/match-app/internal/metrics"
	"github.com/pawmatch/match-app/internal/moderation"
)

// MatchChecker is the slice of the match registry the send path needs.
type MatchChecker interface {
	IsMatched(ctx context.Context, a, b identity.ID) (bool, error)
}

// MuteChecker reports whether a sender is currently muted by a sanction.
type MuteChecker interface {
	IsMuted(ctx context.Context, id identity.ID) (bool, int, string, error)
}

// Notifier receives committed messages for best-effort realtime delivery.
// It must never block the send path beyond its own internal bounds and its
// failures never surface to the sender.
type Notifier interface {
	MessageCommitted(m *Message)
}

// Service runs the full send pipeline: authorize → validate → append →
// notify → moderate. It is the only writer to the canonical log.
type Service struct {
	store    *Store
	matches  MatchChecker
	dir      identity.Directory
	mutes    MuteChecker
	filter   *moderation.Filter
	notifier Notifier

	// autoFlag files a system flag against a committed message that
	// tripped the content filter. Wired in main; nil disables.
	autoFlag func(ctx context.Context, messageID string, reason string)
}

// NewService wires the send pipeline. mutes, filter, notifier, and autoFlag
// may be nil to disable the corresponding step.
func NewService(store *Store, matches MatchChecker, dir identity.Directory, mutes MuteChecker, filter *moderation.Filter, notifier Notifier, autoFlag func(ctx context.Context, messageID string, reason string)) *Service {
	return &Service{
		store:    store,
		matches:  matches,
		dir:      dir,
		mutes:    mutes,
		filter:   filter,
		notifier: notifier,
		autoFlag: autoFlag,
	}
}

// Send authorizes, validates, and commits a message, then hands it to the
// realtime path. The committed message is durable before any notification
// is attempted, so realtime delivery failures cost latency, never data.
func (s *Service) Send(ctx context.Context, sender, recipient identity.ID, body string) (*Message, error) {
	if !recipient.Valid() {
		return nil, errs.New(errs.InvalidArgument, "invalid recipient")
	}
	if sender == recipient {
		return nil, errs.New(errs.InvalidArgument, "cannot message yourself")
	}
	if err := ValidateBody(body); err != nil {
		return nil, err
	}

	ok, err := s.dir.Exists(ctx, recipient)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, err, "message: resolve recipient")
	}
	if !ok {
		return nil, errs.New(errs.NotFound, "user %s not found", recipient)
	}

	if s.mutes != nil {
		muted, _, _, err := s.mutes.IsMuted(ctx, sender)
		if err != nil {
			// Fail open: a sanction-store outage must not block all sends.
			log.Printf("message: mute check for %s failed: %v", sender, err)
		} else if muted {
			return nil, errs.New(errs.Unauthorized, "sender is muted")
		}
	}

	matched, err := s.matches.IsMatched(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, errs.New(errs.Unauthorized, "you can only message matched users")
	}

	start := time.Now()
	m, err := s.store.Append(ctx, sender, recipient, body)
	if err != nil {
		return nil, err
	}
	metrics.MessageLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues("sent").Inc()

	if s.notifier != nil {
		s.notifier.MessageCommitted(m)
	}

	if s.filter != nil && s.autoFlag != nil {
		if result := s.filter.Check(body); result.Flagged {
			metrics.MessagesTotal.WithLabelValues("auto_flagged").Inc()
			s.autoFlag(ctx, m.ID.String(), result.Reason)
		}
	}

	return m, nil
}

// ListConversation verifies the caller is matched with the peer, then reads
// the ordered slice from the canonical log.
func (s *Service) ListConversation(ctx context.Context, caller, peer identity.ID, afterSeq int64, limit int) ([]Message, error) {
	matched, err := s.matches.IsMatched(ctx, caller, peer)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, errs.New(errs.Unauthorized, "not matched with %s", peer)
	}
	return s.store.ListConversation(ctx, caller, peer, afterSeq, limit)
}
