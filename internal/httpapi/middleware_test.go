package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pawmatch/match-app/internal/identity"
)

func TestAuth_ValidToken(t *testing.T) {
	verifier := identity.StaticVerifier{"tok-alice": "alice"}

	var got identity.ID
	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = CallerID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/api/v1/matches", nil)
	req.Header.Set("Authorization", "Bearer tok-alice")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got != "alice" {
		t.Errorf("expected caller alice, got %q", got)
	}
}

func TestAuth_MissingToken(t *testing.T) {
	verifier := identity.StaticVerifier{"tok-alice": "alice"}

	called := false
	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/api/v1/matches", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if called {
		t.Error("handler should not run without a token")
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	verifier := identity.StaticVerifier{"tok-alice": "alice"}

	handler := Auth(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run with a bad token")
	}))

	req := httptest.NewRequest("GET", "/api/v1/matches", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestCallerID_Absent(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if _, ok := CallerID(req.Context()); ok {
		t.Error("expected no caller on a bare context")
	}
}
