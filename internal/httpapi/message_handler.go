package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pawmatch/match-app/internal/conversation"
	"github.com/pawmatch/match-app/internal/identity"
	"github.com/pawmatch/match-app/internal/message"
	"github.com/pawmatch/match-app/internal/ratelimit"
)

// MessageHandler serves sending and conversation read endpoints.
type MessageHandler struct {
	svc       *message.Service
	projector *conversation.Projector
	limiter   *ratelimit.Limiter
}

func NewMessageHandler(svc *message.Service, projector *conversation.Projector, limiter *ratelimit.Limiter) *MessageHandler {
	return &MessageHandler{svc: svc, projector: projector, limiter: limiter}
}

type sendRequest struct {
	RecipientID string `json:"recipient_id"`
	Body        string `json:"body"`
}

// Send handles POST /api/v1/messages.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no caller identity")
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(r.Context(), string(caller), ratelimit.RuleMessage)
		if err == nil && !allowed {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "sending too fast, slow down")
			return
		}
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}

	m, err := h.svc.Send(r.Context(), caller, identity.ID(req.RecipientID), req.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Conversations handles GET /api/v1/conversations, the caller's inbox view.
func (h *MessageHandler) Conversations(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no caller identity")
		return
	}

	summaries, err := h.projector.ListFor(r.Context(), caller)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

// History handles GET /api/v1/conversations/{peer}/messages with optional
// after_seq and limit query parameters.
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no caller identity")
		return
	}

	peer := identity.ID(r.PathValue("peer"))
	afterSeq := parseInt64(r.URL.Query().Get("after_seq"), 0)
	limit := int(parseInt64(r.URL.Query().Get("limit"), 50))

	msgs, err := h.svc.ListConversation(r.Context(), caller, peer, afterSeq, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type markReadRequest struct {
	ThroughSeq int64 `json:"through_seq"`
}

// MarkRead handles POST /api/v1/conversations/{peer}/read.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no caller identity")
		return
	}

	peer := identity.ID(r.PathValue("peer"))
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}

	if err := h.projector.MarkRead(r.Context(), caller, peer, req.ThroughSeq); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}
