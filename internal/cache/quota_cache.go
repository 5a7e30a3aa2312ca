package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vtryon/backend/internal/ledger"
)

const keyPrefix = "quota:"

// BalanceLoader reads the authoritative balance.
type BalanceLoader interface {
	Balance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error)
}

type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// QuotaCache holds short-lived balance snapshots for display. It is never
// consulted for admission or deduction. A nil client disables caching.
type QuotaCache struct {
	client kv
	loader BalanceLoader
	ttl    time.Duration
	logger *slog.Logger
}

func NewQuotaCache(client *redis.Client, loader BalanceLoader, ttl time.Duration, logger *slog.Logger) *QuotaCache {
	c := &QuotaCache{loader: loader, ttl: ttl, logger: logger}
	if client != nil {
		c.client = client
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Connect parses a redis:// URL and checks the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func cacheKey(userID uuid.UUID) string { return keyPrefix + userID.String() }

// Balance returns the cached snapshot if fresh, otherwise loads and stores it.
// Cache failures fall through to the loader.
func (c *QuotaCache) Balance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error) {
	if c.client == nil {
		return c.loader.Balance(ctx, userID)
	}
	raw, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err == nil {
		var b ledger.Balance
		if jsonErr := json.Unmarshal(raw, &b); jsonErr == nil {
			return b, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("quota cache read failed", "user_id", userID, "error", err)
	}

	b, err := c.loader.Balance(ctx, userID)
	if err != nil {
		return ledger.Balance{}, err
	}
	if data, err := json.Marshal(b); err == nil {
		if err := c.client.Set(ctx, cacheKey(userID), data, c.ttl).Err(); err != nil {
			c.logger.Warn("quota cache write failed", "user_id", userID, "error", err)
		}
	}
	return b, nil
}

// Invalidate drops the snapshot after a deduction commits.
func (c *QuotaCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		c.logger.Warn("quota cache invalidate failed", "user_id", userID, "error", err)
	}
}
