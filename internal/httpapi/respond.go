package httpapi

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/pawmatch/match-app/internal/errs"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeErr maps a classified error onto the HTTP surface. Unavailable
// errors hide their cause from the client and log it instead.
func writeErr(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status, code := statusFor(kind)
	msg := err.Error()
	if kind == errs.Unavailable {
		log.Printf("ERROR %v", err)
		msg = "service temporarily unavailable"
	}
	writeError(w, status, code, msg)
}

func statusFor(kind errs.Kind) (int, string) {
	switch kind {
	case errs.InvalidArgument:
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errs.NotFound:
		return http.StatusNotFound, "NOT_FOUND"
	case errs.Unauthorized:
		return http.StatusForbidden, "FORBIDDEN"
	case errs.Unauthenticated:
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errs.Conflict:
		return http.StatusConflict, "CONFLICT"
	default:
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	}
}
