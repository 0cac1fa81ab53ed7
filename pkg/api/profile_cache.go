package api

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

const (
	defaultProfileCacheSize = 1024
	defaultProfileCacheTTL  = 30 * time.Second
)

// Profile is the account view served by GET /api/accounts/{username}.
type Profile struct {
	Username       string                   `json:"username"`
	Arrested       bool                     `json:"arrested"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
	Permissions    map[rbac.Permission]bool `json:"permissions"`
	ActiveSessions int                      `json:"active_sessions"`
}

// ProfileCache holds recently built profiles for a short TTL. Writes through
// the admin endpoints invalidate the affected entry.
type ProfileCache struct {
	cache   *lru.LRU[string, *Profile]
	metrics *observability.Metrics
}

// NewProfileCache creates a cache; zero values take the defaults.
func NewProfileCache(size int, ttl time.Duration, metrics *observability.Metrics) *ProfileCache {
	if size <= 0 {
		size = defaultProfileCacheSize
	}
	if ttl <= 0 {
		ttl = defaultProfileCacheTTL
	}
	return &ProfileCache{
		cache:   lru.NewLRU[string, *Profile](size, nil, ttl),
		metrics: metrics,
	}
}

// Get returns a cached profile.
func (c *ProfileCache) Get(username string) (*Profile, bool) {
	profile, ok := c.cache.Get(username)
	c.metrics.RecordCacheLookup("profile", ok)
	return profile, ok
}

// Add stores a profile.
func (c *ProfileCache) Add(profile *Profile) {
	c.cache.Add(profile.Username, profile)
}

// Invalidate drops the entry for username.
func (c *ProfileCache) Invalidate(username string) {
	c.cache.Remove(username)
}

// Len returns the number of live entries.
func (c *ProfileCache) Len() int {
	return c.cache.Len()
}
