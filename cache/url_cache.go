package cache

import (
	"context"
	"errors"
	"time"

	"waveloft/logger"

	"github.com/redis/go-redis/v9"
)

const presignPrefix = "presign:"

// Presigner issues time-limited download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// PresignCache remembers presigned URLs in Redis for half their lifetime,
// so list and due pages handed out close together share URLs.
type PresignCache struct {
	rdb  redis.Cmdable
	next Presigner
}

// NewPresignCache wraps next.
func NewPresignCache(rdb redis.Cmdable, next Presigner) *PresignCache {
	return &PresignCache{rdb: rdb, next: next}
}

func presignKey(key string, expiry time.Duration) string {
	return presignPrefix + expiry.String() + ":" + key
}

// PresignGet returns a cached URL or signs a new one. Redis failures fall
// through to the signer.
func (c *PresignCache) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	ck := presignKey(key, expiry)
	u, err := c.rdb.Get(ctx, ck).Result()
	switch {
	case err == nil:
		return u, nil
	case !errors.Is(err, redis.Nil):
		logger.Warn("presign cache read failed", logger.String("key", key), logger.ErrorField(err))
	}

	u, err = c.next.PresignGet(ctx, key, expiry)
	if err != nil {
		return "", err
	}
	if ttl := expiry / 2; ttl > 0 {
		if err := c.rdb.Set(ctx, ck, u, ttl).Err(); err != nil {
			logger.Warn("presign cache write failed", logger.String("key", key), logger.ErrorField(err))
		}
	}
	return u, nil
}

// Forget drops cached URLs for object keys signed with expiry.
func (c *PresignCache) Forget(ctx context.Context, expiry time.Duration, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	cks := make([]string, len(keys))
	for i, k := range keys {
		cks[i] = presignKey(k, expiry)
	}
	return c.rdb.Del(ctx, cks...).Err()
}
