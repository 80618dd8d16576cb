// Package identity defines the opaque identity value used across the match
// and message core, plus the two collaborator seams the core consumes:
// a token verifier (credential checks live in the auth service, not here)
// and a directory for existence lookups.
package identity

import (
	"context"
	"strings"

	"github.com/pawmatch/match-app/internal/errs"
)

// ID is an opaque, stable identity value supplied by the auth collaborator.
// The core never inspects its structure.
type ID string

// System is the reserved identity used when the moderation filter files a
// flag on its own behalf. It never appears in the user directory.
const System ID = "system"

func (id ID) String() string { return string(id) }

// Valid reports whether the value can be used as an identity at all.
// Structural validation only — existence is the directory's job.
func (id ID) Valid() bool {
	s := string(id)
	return s != "" && len(s) <= 128 && !strings.ContainsAny(s, " \t\n")
}

// TokenVerifier resolves a bearer token to a verified identity. The real
// implementation is owned by the auth collaborator; this core only consumes
// the result.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (ID, error)
}

// Directory answers existence checks for identities.
type Directory interface {
	Exists(ctx context.Context, id ID) (bool, error)
}

// StaticVerifier is a fixed token→identity map for development and tests.
// Production deployments plug the auth service's verifier instead.
type StaticVerifier map[string]ID

// Verify implements TokenVerifier.
func (v StaticVerifier) Verify(_ context.Context, token string) (ID, error) {
	id, ok := v[token]
	if !ok {
		return "", errs.New(errs.Unauthenticated, "unknown token")
	}
	return id, nil
}
