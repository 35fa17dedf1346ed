package matching

import (
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ReferenceCache holds each symbol's current reference price with a
// short TTL, so a stale externally-supplied reference is automatically
// dropped rather than silently reused past its validity window.
type ReferenceCache struct {
	c *gocache.Cache
}

// NewReferenceCache builds a cache where entries expire after ttl.
func NewReferenceCache(ttl time.Duration) *ReferenceCache {
	return &ReferenceCache{c: gocache.New(ttl, ttl/2)}
}

// Set records symbol's reference price, resetting its TTL.
func (rc *ReferenceCache) Set(symbol uint64, price uint32) {
	rc.c.Set(strconv.FormatUint(symbol, 10), price, gocache.DefaultExpiration)
}

// Get returns symbol's reference price if it has not expired.
func (rc *ReferenceCache) Get(symbol uint64) (uint32, bool) {
	v, ok := rc.c.Get(strconv.FormatUint(symbol, 10))
	if !ok {
		return 0, false
	}
	return v.(uint32), true
}
