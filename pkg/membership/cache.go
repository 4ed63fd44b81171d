package membership

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/greenroomhq/greenroom/pkg/observability"
	"github.com/greenroomhq/greenroom/pkg/rbac"
)

// ContextCache caches validated permission contexts keyed by project
// and user. Entries expire after a short TTL; lifecycle mutations
// invalidate the affected entry synchronously so a suspended or revoked
// membership never serves a stale allow.
type ContextCache struct {
	lru     *expirable.LRU[string, rbac.Context]
	metrics *observability.Metrics
}

// NewContextCache creates a context cache. metrics may be nil.
func NewContextCache(size int, ttl time.Duration, metrics *observability.Metrics) *ContextCache {
	return &ContextCache{
		lru:     expirable.NewLRU[string, rbac.Context](size, nil, ttl),
		metrics: metrics,
	}
}

func cacheKey(projectID, userID int64) string {
	return fmt.Sprintf("%d:%d", projectID, userID)
}

// Get returns a cached permission context, if present.
func (c *ContextCache) Get(projectID, userID int64) (rbac.Context, bool) {
	permCtx, ok := c.lru.Get(cacheKey(projectID, userID))
	if c.metrics != nil {
		if ok {
			c.metrics.CacheHitsTotal.Inc()
		} else {
			c.metrics.CacheMissesTotal.Inc()
		}
	}
	return permCtx, ok
}

// Put stores a permission context.
func (c *ContextCache) Put(projectID, userID int64, permCtx rbac.Context) {
	c.lru.Add(cacheKey(projectID, userID), permCtx)
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(float64(c.lru.Len()))
	}
}

// Invalidate removes a user's cached context for a project. source
// labels the invalidation origin in metrics (local or redis).
func (c *ContextCache) Invalidate(projectID, userID int64, source string) {
	c.lru.Remove(cacheKey(projectID, userID))
	if c.metrics != nil {
		c.metrics.CacheInvalidations.WithLabelValues(source).Inc()
		c.metrics.CacheEntries.Set(float64(c.lru.Len()))
	}
}

// Purge clears the entire cache.
func (c *ContextCache) Purge() {
	c.lru.Purge()
	if c.metrics != nil {
		c.metrics.CacheEntries.Set(0)
	}
}

// Len returns the number of cached contexts.
func (c *ContextCache) Len() int {
	return c.lru.Len()
}
