package httpapi

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pawmatch/match-app/internal/identity"
)

type contextKey string

const callerKey contextKey = "caller_id"

// Auth verifies the bearer token on every request and stashes the caller
// identity in the request context. Requests without a valid token never
// reach the handler.
func Auth(verifier identity.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
				return
			}

			caller, err := verifier.Verify(r.Context(), token)
			if err != nil {
				log.Printf("http: auth failed from %s", r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerID returns the authenticated identity placed by Auth.
func CallerID(ctx context.Context) (identity.ID, bool) {
	id, ok := ctx.Value(callerKey).(identity.ID)
	return id, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Logging records method, path, status and latency for each request.
func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Printf("http: %s %s %d %s", r.Method, r.URL.Path, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
