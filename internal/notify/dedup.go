package notify

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// dedupCache remembers when each key last produced a sent receipt.
// Expiry in the underlying cache only reclaims memory; whether a key is a
// duplicate is decided against the gateway clock.
type dedupCache struct {
	window  time.Duration
	entries *gocache.Cache // nil when dedup is disabled
}

func newDedupCache(window time.Duration) *dedupCache {
	if window <= 0 {
		return &dedupCache{}
	}
	return &dedupCache{
		window:  window,
		entries: gocache.New(window, 2*window),
	}
}

func (d *dedupCache) isDuplicate(key string, now time.Time) bool {
	if d.entries == nil {
		return false
	}
	v, ok := d.entries.Get(key)
	if !ok {
		return false
	}
	sentAt, ok := v.(time.Time)
	if !ok {
		return false
	}
	return now.Sub(sentAt) < d.window
}

func (d *dedupCache) stamp(key string, sentAt time.Time) {
	if d.entries == nil {
		return
	}
	d.entries.Set(key, sentAt, gocache.DefaultExpiration)
}
