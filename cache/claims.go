package cache

import (
	"context"
	"fmt"
	"time"

	"waveloft/logger"

	"github.com/redis/go-redis/v9"
)

const claimPrefix = "transcode:claim:"

// ClaimStore hands out short-lived exclusive claims so that only one worker
// processes a given object at a time.
type ClaimStore struct {
	rdb   redis.Cmdable
	owner string
}

// NewClaimStore creates a ClaimStore. owner is stored as the claim value
// for debugging (hostname/pid).
func NewClaimStore(rdb redis.Cmdable, owner string) *ClaimStore {
	return &ClaimStore{rdb: rdb, owner: owner}
}

func claimKey(name string) string { return claimPrefix + name }

// Claim takes name for ttl. It returns false when another worker holds it.
func (c *ClaimStore) Claim(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, claimKey(name), c.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", name, err)
	}
	logger.Debug("claim attempted", logger.String("name", name), logger.Bool("acquired", ok), logger.Duration("ttl", ttl))
	return ok, nil
}

// Release drops a claim taken with Claim.
func (c *ClaimStore) Release(ctx context.Context, name string) error {
	if err := c.rdb.Del(ctx, claimKey(name)).Err(); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}
