// Package registry publishes device tokens to shared backends so servers
// can address this installation.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pushhand/pushhand/internal/logging"
)

const keyPrefix = "pushhand:"

// redisClient is the subset of *redis.Client used by Redis.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// Redis stores the current token per installation and marks rotated tokens
// as stale so senders stop using them.
type Redis struct {
	client         redisClient
	installationID string
	staleTTL       time.Duration
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedis returns a token sink. staleTTL bounds how long a rotated token is
// remembered; zero keeps it without expiry.
func NewRedis(client redisClient, installationID string, staleTTL time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("registry: redis client is required")
	}
	if installationID == "" {
		return nil, errors.New("registry: installation id is required")
	}
	return &Redis{client: client, installationID: installationID, staleTTL: staleTTL}, nil
}

// Name implements push.TokenSink.
func (r *Redis) Name() string { return "redis" }

// StoreToken implements push.TokenSink.
func (r *Redis) StoreToken(ctx context.Context, family, token, previous string) error {
	if err := r.client.Set(ctx, tokenKey(r.installationID), token, 0).Err(); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if err := r.client.Set(ctx, familyKey(r.installationID), family, 0).Err(); err != nil {
		return fmt.Errorf("store family: %w", err)
	}
	if previous == "" || previous == token {
		return nil
	}
	if err := r.client.Set(ctx, staleKey(previous), r.installationID, r.staleTTL).Err(); err != nil {
		return fmt.Errorf("mark stale token: %w", err)
	}
	logging.Get().Debug().Str("installation", r.installationID).Dur("ttl", r.staleTTL).Msg("previous device token marked stale")
	return nil
}

// CurrentToken returns the token stored for this installation, or "" when
// none is known.
func (r *Redis) CurrentToken(ctx context.Context) (string, error) {
	tok, err := r.client.Get(ctx, tokenKey(r.installationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return tok, nil
}

// IsStale reports whether token was replaced by a rotation.
func (r *Redis) IsStale(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, staleKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check stale token: %w", err)
	}
	return n > 0, nil
}

func tokenKey(id string) string  { return keyPrefix + "installation:" + id + ":token" }
func familyKey(id string) string { return keyPrefix + "installation:" + id + ":family" }
func staleKey(tok string) string { return keyPrefix + "token:stale:" + tok }
