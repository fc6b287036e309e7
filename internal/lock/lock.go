// Package lock defines the cross-process mutual exclusion used by the reflex
// scheduler. Keys are derived from job names so every cooperating process
// maps the same job to the same lock.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Locker is a non-blocking try-lock keyed by integer.
//
// TryAcquire returns false without error when another holder owns the key.
// Release of a key the caller does not hold is a no-op.
type Locker interface {
	TryAcquire(ctx context.Context, key int64) (bool, error)
	Release(ctx context.Context, key int64) error
}

// KeyFor returns the first four bytes of SHA-256(name) read as a big-endian
// signed 32-bit integer. The value is stable across restarts and hosts.
func KeyFor(name string) int64 {
	sum := sha256.Sum256([]byte(name))
	return int64(int32(binary.BigEndian.Uint32(sum[:4])))
}

// ReleaseTimeout bounds Release calls made on a context detached from the
// caller, so a cancelled caller still frees the key.
const ReleaseTimeout = 5 * time.Second

// Do runs fn while holding key. It returns false without calling fn when the
// key is held elsewhere. A backend error on acquisition is returned with
// false. The key is released on every exit path of fn, including panics.
func Do(ctx context.Context, l Locker, key int64, fn func(ctx context.Context) error) (bool, error) {
	acquired, err := l.TryAcquire(ctx, key)
	if err != nil {
		return false, fmt.Errorf("try acquire lock %d: %w", key, err)
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ReleaseTimeout)
		defer cancel()
		if err := l.Release(rctx, key); err != nil {
			log.Error().Str("component", "lock").Int64("lock_key", key).Err(err).Msg("release failed")
		}
	}()
	return true, fn(ctx)
}
