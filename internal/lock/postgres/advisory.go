// Package postgres provides a lock.Locker backed by Postgres advisory locks.
//
// Advisory locks are session-scoped, so every held key pins a dedicated
// database connection until Release. If that connection dies, Postgres
// releases the lock server-side (timing depends on TCP keepalive settings).
// The lock is never renewed and has no TTL.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/lock"
)

// AdvisoryLocker implements lock.Locker using pg_try_advisory_lock.
type AdvisoryLocker struct {
	db *sql.DB

	mu    sync.Mutex
	conns map[int64]*sql.Conn // held keys -> dedicated session
}

func New(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{
		db:    db,
		conns: make(map[int64]*sql.Conn),
	}
}

// TryAcquire attempts the advisory lock without blocking.
// A key already held by this process reports false, same as a foreign holder.
func (l *AdvisoryLocker) TryAcquire(ctx context.Context, key int64) (bool, error) {
	l.mu.Lock()
	_, held := l.conns[key]
	l.mu.Unlock()
	if held {
		return false, nil
	}

	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire dedicated connection: %w", err)
	}

	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired)
	if err != nil {
		conn.Close()
		return false, fmt.Errorf("advisory lock query: %w", err)
	}
	if !acquired {
		conn.Close()
		log.Debug().Str("component", "lock").Int64("lock_key", key).Msg("advisory lock held by another session")
		return false, nil
	}

	l.mu.Lock()
	if _, raced := l.conns[key]; raced {
		// Another goroutine stored the key between the check and the query.
		l.mu.Unlock()
		l.unlock(ctx, key, conn)
		return false, nil
	}
	l.conns[key] = conn
	l.mu.Unlock()

	log.Debug().Str("component", "lock").Int64("lock_key", key).Msg("acquired advisory lock")
	return true, nil
}

// Release unlocks the key and returns its connection to the pool.
func (l *AdvisoryLocker) Release(ctx context.Context, key int64) error {
	l.mu.Lock()
	conn, ok := l.conns[key]
	delete(l.conns, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return l.unlock(ctx, key, conn)
}

func (l *AdvisoryLocker) unlock(ctx context.Context, key int64, conn *sql.Conn) error {
	var released bool
	err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&released)
	if err != nil {
		// The session may still hold the lock. Discard the connection instead
		// of returning it to the pool so Postgres drops the session and the lock.
		_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		conn.Close()
		return fmt.Errorf("advisory unlock query: %w", err)
	}
	if !released {
		log.Warn().Str("component", "lock").Int64("lock_key", key).Msg("advisory unlock reported lock not held")
	}
	conn.Close()
	log.Debug().Str("component", "lock").Int64("lock_key", key).Msg("released advisory lock")
	return nil
}

var _ lock.Locker = (*AdvisoryLocker)(nil)
