// Package redis provides a lock.Locker backed by Redis SET NX.
//
// Each acquisition stores a random owner token under the key with a TTL.
// While the key is held the lease is refreshed in the background, so a job
// running longer than the TTL keeps its lock. Release stops the refresh and
// deletes the key only while it still carries that token, so an expired lock
// that was taken over by another process is never released by the previous
// owner. A crashed holder stops refreshing and the key expires after one TTL.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/lock"
)

const keyPrefix = "reflex:lock:"

// refreshTimeout bounds one lease refresh round trip.
const refreshTimeout = 3 * time.Second

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

type lease struct {
	token string
	stop  chan struct{}
	done  chan struct{}
}

type Locker struct {
	client  *redis.Client
	ttl     time.Duration
	refresh time.Duration

	mu     sync.Mutex
	leases map[int64]*lease
}

// New creates a Locker. ttl is the lease length; held leases are refreshed
// every ttl/3.
func New(client *redis.Client, ttl time.Duration) *Locker {
	return &Locker{
		client:  client,
		ttl:     ttl,
		refresh: ttl / 3,
		leases:  make(map[int64]*lease),
	}
}

// WithRefreshInterval overrides how often held leases are extended.
func (l *Locker) WithRefreshInterval(d time.Duration) *Locker {
	if d > 0 {
		l.refresh = d
	}
	return l
}

func (l *Locker) TryAcquire(ctx context.Context, key int64) (bool, error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, redisKey(key), token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis set nx: %w", err)
	}
	if !ok {
		log.Debug().Str("component", "lock").Int64("lock_key", key).Msg("redis lock held by another owner")
		return false, nil
	}

	ls := &lease{token: token, stop: make(chan struct{}), done: make(chan struct{})}
	l.mu.Lock()
	l.leases[key] = ls
	l.mu.Unlock()

	go l.keepAlive(key, ls)
	return true, nil
}

func (l *Locker) Release(ctx context.Context, key int64) error {
	l.mu.Lock()
	ls, ok := l.leases[key]
	delete(l.leases, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	close(ls.stop)
	<-ls.done

	n, err := releaseScript.Run(ctx, l.client, []string{redisKey(key)}, ls.token).Int()
	if err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	if n == 0 {
		log.Warn().Str("component", "lock").Int64("lock_key", key).Msg("redis lock expired before release")
	}
	return nil
}

// keepAlive extends the lease until Release stops it or the key is found
// under another owner.
func (l *Locker) keepAlive(key int64, ls *lease) {
	defer close(ls.done)
	if l.refresh <= 0 {
		<-ls.stop
		return
	}

	ticker := time.NewTicker(l.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ls.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			n, err := refreshScript.Run(ctx, l.client, []string{redisKey(key)}, ls.token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Error().Str("component", "lock").Int64("lock_key", key).Err(err).Msg("redis lease refresh failed")
				continue
			}
			if n == 0 {
				log.Error().Str("component", "lock").Int64("lock_key", key).Msg("redis lease lost before refresh")
				<-ls.stop
				return
			}
		}
	}
}

func redisKey(key int64) string {
	return keyPrefix + strconv.FormatInt(key, 10)
}

var _ lock.Locker = (*Locker)(nil)
