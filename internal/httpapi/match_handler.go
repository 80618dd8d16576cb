package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pawmatch/match-app/internal/identity"
	"github.com/pawmatch/match-app/internal/match"
	"github.com/pawmatch/match-app/internal/metrics"
	"github.com/pawmatch/match-app/internal/ratelimit"
)

// MatchNotifier pushes real-time match lifecycle events to online parties.
// Satisfied by presence.Router.
type MatchNotifier interface {
	NotifyMatch(a, b identity.ID)
	NotifyUnmatch(a, b identity.ID)
}

// MatchHandler serves the match edge endpoints.
type MatchHandler struct {
	registry *match.Registry
	limiter  *ratelimit.Limiter
	notifier MatchNotifier
}

func NewMatchHandler(registry *match.Registry, limiter *ratelimit.Limiter, notifier MatchNotifier) *MatchHandler {
	return &MatchHandler{registry: registry, limiter: limiter, notifier: notifier}
}

type matchRequest struct {
	UserID string `json:"user_id"`
}

// Request handles POST /api/v1/matches. 201 when the edge was created by
// this call, 200 when it already existed.
func (h *MatchHandler) Request(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no caller identity")
		return
	}

	if !h.allow(r.Context(), w, caller) {
		return
	}

	var req matchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}

	m, created, err := h.registry.Request(r.Context(), caller, identity.ID(req.UserID))
	if err != nil {
		writeErr(w, err)
		return
	}

	if created {
		metrics.MatchesTotal.WithLabelValues("created").Inc()
		if h.notifier != nil {
			h.notifier.NotifyMatch(m.UserA, m.UserB)
		}
		writeJSON(w, http.StatusCreated, m)
		return
	}
	metrics.MatchesTotal.WithLabelValues("duplicate").Inc()
	writeJSON(w, http.StatusOK, m)
}

// Unmatch handles DELETE /api/v1/matches/{user_id}. Either party may
// revoke; removal is symmetric and idempotent.
func (h *MatchHandler) Unmatch(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no caller identity")
		return
	}

	peer := identity.ID(r.PathValue("user_id"))
	if !peer.Valid() {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid user id")
		return
	}

	removed, err := h.registry.Unmatch(r.Context(), caller, peer)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "no match with that user")
		return
	}

	metrics.MatchesTotal.WithLabelValues("removed").Inc()
	if h.notifier != nil {
		h.notifier.NotifyUnmatch(caller, peer)
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/v1/matches, returning the caller's matches with the
// peer resolved on each edge.
func (h *MatchHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no caller identity")
		return
	}

	edges, err := h.registry.ListFor(r.Context(), caller)
	if err != nil {
		writeErr(w, err)
		return
	}

	type entry struct {
		PeerID    identity.ID `json:"peer_id"`
		CreatedAt time.Time   `json:"created_at"`
	}
	out := make([]entry, 0, len(edges))
	for _, m := range edges {
		out = append(out, entry{PeerID: m.Peer(caller), CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": out})
}

func (h *MatchHandler) allow(ctx context.Context, w http.ResponseWriter, caller identity.ID) bool {
	if h.limiter == nil {
		return true
	}
	ok, err := h.limiter.Allow(ctx, string(caller), ratelimit.RuleMatch)
	if err == nil && !ok {
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many match requests")
		return false
	}
	return true
}
