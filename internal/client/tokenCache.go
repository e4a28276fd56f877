package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// tokenRefreshMargin is how long before expiry a cached token stops being
// handed out.
const tokenRefreshMargin = time.Minute

type redisTokenSource struct {
	rdb  *redis.Client
	key  string
	base oauth2.TokenSource
}

func newRedisTokenSource(rdb *redis.Client, clientID string, base oauth2.TokenSource) *redisTokenSource {
	return &redisTokenSource{
		rdb:  rdb,
		key:  "paypal:access_token:" + clientID,
		base: base,
	}
}

// Token returns the shared token when another replica already fetched one.
// Redis errors fall through to the base source.
func (s *redisTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := s.rdb.Get(ctx, s.key).Bytes()
	if err == nil {
		var tok oauth2.Token
		if jsonErr := json.Unmarshal(raw, &tok); jsonErr == nil && time.Until(tok.Expiry) > tokenRefreshMargin {
			return &tok, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("paypal token cache read failed", "error", err)
	}

	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	ttl := time.Until(tok.Expiry) - tokenRefreshMargin
	if ttl > 0 {
		if b, err := json.Marshal(tok); err == nil {
			if err := s.rdb.Set(ctx, s.key, b, ttl).Err(); err != nil {
				slog.Warn("paypal token cache write failed", "error", err)
			}
		}
	}
	return tok, nil
}
