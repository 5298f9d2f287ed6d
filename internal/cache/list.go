package cache

import (
	"encoding/json"
	"time"
)

// Views a ListCache entry can belong to. REST and MCP render the catalog
// into different payload shapes, so each surface caches its own rendering.
const (
	ViewAPITools = "api/tools"
	ViewMCPTools = "mcp/tools"
)

const defaultListTTL = 30 * time.Minute

// ListCache holds rendered tool-catalog payloads, one entry per surface
// view. Builds are singleflighted so a burst of listings after startup or
// an invalidation renders the catalog once. The catalog only changes when
// the process restarts or secrets are reloaded, so Invalidate is the only
// freshness signal besides the TTL backstop.
type ListCache struct {
	cache *Cache[string, json.RawMessage]
}

// NewListCache creates a list cache; ttl <= 0 selects the 30-minute default.
func NewListCache(ttl time.Duration) *ListCache {
	if ttl <= 0 {
		ttl = defaultListTTL
	}
	return &ListCache{cache: New[string, json.RawMessage](8, ttl)}
}

// GetOrBuild returns the cached payload for view, rendering it with build
// on a miss. Build errors are not cached.
func (lc *ListCache) GetOrBuild(view string, build func() (json.RawMessage, error)) (json.RawMessage, error) {
	return lc.cache.GetOrLoad(view, build)
}

// Invalidate drops every view at once.
func (lc *ListCache) Invalidate() {
	lc.cache.Flush()
}

// Stats reports hit and miss counters across all views.
func (lc *ListCache) Stats() Stats {
	return lc.cache.Stats()
}
