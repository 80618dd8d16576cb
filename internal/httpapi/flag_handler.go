package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/pawmatch/match-app/internal/flag"
	"github.com/pawmatch/match-app/internal/ratelimit"
)

// FlagHandler serves the flag ledger endpoints.
type FlagHandler struct {
	ledger  *flag.Ledger
	limiter *ratelimit.Limiter
}

func NewFlagHandler(ledger *flag.Ledger, limiter *ratelimit.Limiter) *FlagHandler {
	return &FlagHandler{ledger: ledger, limiter: limiter}
}

type fileFlagRequest struct {
	TargetKind string `json:"target_kind"`
	TargetID   string `json:"target_id"`
	Reason     string `json:"reason"`
}

// File handles POST /api/v1/flags. 201 when the flag was recorded, 200 with
// duplicate=true when the same flagger already flagged the target recently.
func (h *FlagHandler) File(w http.ResponseWriter, r *http.Request) {
	caller, ok := CallerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "no caller identity")
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(r.Context(), string(caller), ratelimit.RuleFlag)
		if err == nil && !allowed {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many flags")
			return
		}
	}

	var req fileFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return
	}

	receipt, err := h.ledger.File(r.Context(), caller, flag.Kind(req.TargetKind), req.TargetID, req.Reason)
	if err != nil {
		writeErr(w, err)
		return
	}

	if receipt.Duplicate {
		writeJSON(w, http.StatusOK, receipt)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// ListFlagged handles GET /api/v1/flags/{kind}, the moderation review queue
// for one target kind, most recently flagged first.
func (h *FlagHandler) ListFlagged(w http.ResponseWriter, r *http.Request) {
	kind := flag.Kind(r.PathValue("kind"))
	limit := int(parseInt64(r.URL.Query().Get("limit"), 50))
	offset := int(parseInt64(r.URL.Query().Get("offset"), 0))

	states, err := h.ledger.ListFlagged(r.Context(), kind, limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": states})
}

// TargetState handles GET /api/v1/flags/{kind}/{target}, the derived state
// of a single target.
func (h *FlagHandler) TargetState(w http.ResponseWriter, r *http.Request) {
	kind := flag.Kind(r.PathValue("kind"))
	state, err := h.ledger.TargetState(r.Context(), kind, r.PathValue("target"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
