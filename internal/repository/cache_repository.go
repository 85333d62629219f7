package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/edu-privacy-api/pkg/errors"
)

// Cache key layout for deletion state views. Intake, review, cancellation and
// execution all invalidate the keys of the users they touch.
const (
	CacheKeyStats       = "deletion:stats"
	cacheKeyUserPattern = "deletion:user:%s:*"
	cacheKeyUserList    = "deletion:user:%s:requests"
)

// CacheRepository provides helpers around Redis interactions for caching
// deletion state views.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

// UserRequestsKey returns the cache key for a user's request list view.
func UserRequestsKey(userID string) string {
	return fmt.Sprintf(cacheKeyUserList, userID)
}

// Get retrieves and unmarshals the cached value into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}

	return nil
}

// Set marshals the provided value and stores it with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

// InvalidateUser drops every cached deletion view keyed by this user plus the
// global stats aggregate.
func (r *CacheRepository) InvalidateUser(ctx context.Context, userID string) {
	if r.client == nil {
		return
	}
	if err := r.deleteByPattern(ctx, fmt.Sprintf(cacheKeyUserPattern, userID)); err != nil {
		r.logger.Warn("failed to invalidate user deletion cache", zap.String("user_id", userID), zap.Error(err))
	}
	if err := r.client.Del(ctx, CacheKeyStats).Err(); err != nil {
		r.logger.Warn("failed to invalidate deletion stats cache", zap.Error(err))
	}
}

func (r *CacheRepository) deleteByPattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}

	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
