package lock

import (
	"context"
	"sync"
)

// Memory is an in-process Locker. It gives mutual exclusion between
// goroutines of one process only and is NOT distributed; multi-replica
// deployments must use the postgres or redis backends.
type Memory struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewMemory() *Memory {
	return &Memory{held: make(map[int64]struct{})}
}

func (m *Memory) TryAcquire(ctx context.Context, key int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.held[key]; ok {
		return false, nil
	}
	m.held[key] = struct{}{}
	return true, nil
}

func (m *Memory) Release(ctx context.Context, key int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

// Held reports whether key is currently held.
func (m *Memory) Held(key int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.held[key]
	return ok
}

var _ Locker = (*Memory)(nil)
