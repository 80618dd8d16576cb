package httpapi

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pawmatch/match-app/internal/errs"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		kind   errs.Kind
		status int
		code   string
	}{
		{errs.InvalidArgument, 400, "INVALID_ARGUMENT"},
		{errs.Unauthenticated, 401, "UNAUTHENTICATED"},
		{errs.Unauthorized, 403, "FORBIDDEN"},
		{errs.NotFound, 404, "NOT_FOUND"},
		{errs.Conflict, 409, "CONFLICT"},
		{errs.Unavailable, 503, "UNAVAILABLE"},
	}

	for _, c := range cases {
		status, code := statusFor(c.kind)
		if status != c.status || code != c.code {
			t.Errorf("statusFor(%s) = (%d, %s), want (%d, %s)", c.kind, status, code, c.status, c.code)
		}
	}
}

func TestWriteErr_ClassifiedError(t *testing.T) {
	w := httptest.NewRecorder()
	writeErr(w, errs.New(errs.NotFound, "user bob not found"))

	if w.Code != 404 {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error.Code != "NOT_FOUND" {
		t.Errorf("expected code NOT_FOUND, got %s", body.Error.Code)
	}
	if body.Error.Message == "" {
		t.Error("expected a message")
	}
}

func TestWriteErr_UnclassifiedHidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	writeErr(w, errors.New("pq: connection refused"))

	if w.Code != 503 {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if got := w.Body.String(); strings.Contains(got, "pq:") {
		t.Errorf("driver error leaked to client: %s", got)
	}
}
