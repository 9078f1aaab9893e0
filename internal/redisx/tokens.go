package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnknownToken = errors.New("redisx: unknown token")

// TokenStore resolves opaque API tokens to user ids.
type TokenStore struct {
	RDB redis.Cmdable
}

func (s TokenStore) Lookup(ctx context.Context, token string) (string, error) {
	userID, ok, err := getString(ctx, s.RDB, fmt.Sprintf(KeyAuthToken, token))
	if err != nil {
		return "", err
	}
	if !ok || userID == "" {
		return "", ErrUnknownToken
	}
	return userID, nil
}

// Issue binds token to userID. ttl 0 means no expiry.
func (s TokenStore) Issue(ctx context.Context, token, userID string, ttl time.Duration) error {
	return s.RDB.Set(ctx, fmt.Sprintf(KeyAuthToken, token), userID, ttl).Err()
}
