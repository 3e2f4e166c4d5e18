package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reqguard/reqguard/guardlib"
)

// DefaultRedisPrefix is prepended to every session identifier.
const DefaultRedisPrefix = "reqguard:csrf:"

// Redis keeps tokens as keys with TTL.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// Get implements guardlib.TokenStore.
func (r *Redis) Get(ctx context.Context, sessionID string) (string, error) {
	token, err := r.client.Get(ctx, r.prefix+sessionID).Result()

	switch {
	case errors.Is(err, redis.Nil):
		return "", guardlib.ErrTokenNotFound
	case err != nil:
		return "", fmt.Errorf("cannot get a token: %w", err)
	}

	return token, nil
}

// Put implements guardlib.TokenStore.
func (r *Redis) Put(ctx context.Context, sessionID, token string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+sessionID, token, ttl).Err(); err != nil {
		return fmt.Errorf("cannot store a token: %w", err)
	}

	return nil
}

func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	return &Redis{
		client: client,
		prefix: prefix,
	}
}

var _ guardlib.TokenStore = (*Redis)(nil)
