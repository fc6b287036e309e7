// Package ratelimit enforces per-tenant, per-channel send limits over
// fixed one-minute windows.
package ratelimit

import (
	"context"
	"time"

	"github.com/djlord-it/reflex/internal/domain"
)

// Window is the fixed bucket length.
const Window = time.Minute

// Limiter decides whether one more send is allowed for (tenant, channel)
// in the window containing ts. Allowed calls consume capacity.
type Limiter interface {
	Consume(ctx context.Context, tenantID string, channel domain.Channel, ts time.Time) (bool, error)
}

// Limits holds the per-minute cap for each channel. A missing or
// non-positive entry still allows the call that opens a window and refuses
// the rest of that window.
type Limits map[domain.Channel]int

func (l Limits) For(channel domain.Channel) int {
	return l[channel]
}

// WindowIndex returns floor(ts_ms / 60000).
func WindowIndex(ts time.Time) int64 {
	return ts.UnixMilli() / Window.Milliseconds()
}

// NextWindowStart returns the first instant of the window after ts.
func NextWindowStart(ts time.Time) time.Time {
	return time.UnixMilli((WindowIndex(ts) + 1) * Window.Milliseconds()).In(ts.Location())
}
