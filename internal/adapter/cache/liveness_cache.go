package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const livenessPrefix = "google:live:"

// LivenessCache remembers positive tokeninfo verdicts for a short window so
// hot submission paths do not introspect the same access token on every
// request. Only live verdicts are cached; anything else falls through to the
// provider, keeping the fail-closed contract intact.
type LivenessCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewLivenessCache constructs a Redis-backed liveness cache.
func NewLivenessCache(client redis.UniversalClient, ttl time.Duration) *LivenessCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &LivenessCache{client: client, ttl: ttl}
}

// IsLive reports whether the token was recently seen live. A Redis error is
// treated as a miss.
func (c *LivenessCache) IsLive(ctx context.Context, accessToken string) bool {
	if c == nil || c.client == nil {
		return false
	}
	ok, err := c.client.Exists(ctx, livenessKey(accessToken)).Result()
	return err == nil && ok == 1
}

// MarkLive records a live verdict. Failures are ignored; the cache is an
// optimization, not a source of truth.
func (c *LivenessCache) MarkLive(ctx context.Context, accessToken string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Set(ctx, livenessKey(accessToken), "1", c.ttl).Err()
}

// Invalidate drops a cached verdict, used after a token is replaced.
func (c *LivenessCache) Invalidate(ctx context.Context, accessToken string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, livenessKey(accessToken)).Err()
}

// Tokens are hashed before use as cache keys so raw credentials never land
// in Redis.
func livenessKey(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return livenessPrefix + hex.EncodeToString(sum[:])
}
