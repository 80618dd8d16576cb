package identity

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/pawmatch/match-app/internal/errs"
)

// TokenPrefix is the Redis key prefix under which the auth collaborator
// stores session tokens. The value at "authtok:<token>" is the identity the
// token resolves to; the auth service owns the TTL.
const TokenPrefix = "authtok:"

// RedisVerifier resolves bearer tokens against the session tokens the auth
// collaborator maintains in Redis.
type RedisVerifier struct {
	client *redis.Client
}

// NewRedisVerifier creates a verifier over the given Redis client.
func NewRedisVerifier(client *redis.Client) *RedisVerifier {
	return &RedisVerifier{client: client}
}

// Verify implements TokenVerifier.
func (v *RedisVerifier) Verify(ctx context.Context, token string) (ID, error) {
	if token == "" {
		return "", errs.New(errs.Unauthenticated, "empty token")
	}
	val, err := v.client.Get(ctx, TokenPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", errs.New(errs.Unauthenticated, "unknown token")
	}
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, err, "identity: verify token")
	}
	id := ID(val)
	if !id.Valid() {
		return "", errs.New(errs.Unauthenticated, "token resolves to invalid identity")
	}
	return id, nil
}
