package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/djlord-it/reflex/internal/domain"
)

type bucketKey struct {
	tenant  string
	channel domain.Channel
}

type bucket struct {
	window int64
	count  int
}

// Memory is an in-process fixed-window limiter. The first call of a window
// is always allowed. It is NOT distributed:
// each replica counts independently. Stale buckets are overwritten lazily
// when their key is next used and are never swept.
type Memory struct {
	limits Limits

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

func NewMemory(limits Limits) *Memory {
	return &Memory{
		limits:  limits,
		buckets: make(map[bucketKey]*bucket),
	}
}

func (m *Memory) Consume(_ context.Context, tenantID string, channel domain.Channel, ts time.Time) (bool, error) {
	limit := m.limits.For(channel)
	window := WindowIndex(ts)
	key := bucketKey{tenant: tenantID, channel: channel}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || b.window != window {
		m.buckets[key] = &bucket{window: window, count: 1}
		return true, nil
	}
	if b.count >= limit {
		return false, nil
	}
	b.count++
	return true, nil
}

var _ Limiter = (*Memory)(nil)
