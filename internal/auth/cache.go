package auth

import (
	"context"
	"sync"
	"time"

	"github.com/c-pro/geche"
)

// verifyCache memoizes successful token verifications. Entries expire after
// a fixed TTL (handled by the underlying TTL cache) and the cache evicts its
// oldest-inserted entries once the total byte size of cached tokens exceeds
// the cap. Eviction is insertion-ordered, not recency-based.
type verifyCache struct {
	entries geche.Geche[string, Claims]

	mu       sync.Mutex
	queue    []string
	size     int64
	maxBytes int64
}

func newVerifyCache(ctx context.Context, ttl time.Duration, maxBytes int64) *verifyCache {
	return &verifyCache{
		entries:  geche.NewMapTTLCache[string, Claims](ctx, ttl, time.Minute),
		maxBytes: maxBytes,
	}
}

func (c *verifyCache) get(token string) (Claims, bool) {
	claims, err := c.entries.Get(token)
	return claims, err == nil
}

func (c *verifyCache) put(token string, claims Claims) {
	c.entries.Set(token, claims)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = append(c.queue, token)
	c.size += int64(len(token))

	for c.size > c.maxBytes && len(c.queue) > 0 {
		oldest := c.queue[0]
		c.queue = c.queue[1:]
		c.size -= int64(len(oldest))
		_ = c.entries.Del(oldest)
	}
}
