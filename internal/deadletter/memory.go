package deadletter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/reflex/internal/domain"
)

// MemoryStore keeps dead letters in process memory. It is not shared across
// processes and loses its contents on restart; use the Postgres store for
// multi-replica deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]domain.DeadLetter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]domain.DeadLetter)}
}

func (s *MemoryStore) Persist(ctx context.Context, entry domain.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry
	return nil
}

func (s *MemoryStore) DueEntries(ctx context.Context, now time.Time, limit int) ([]domain.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.DeadLetter
	for _, e := range s.entries {
		if !e.NextAttemptAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit >= 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id uuid.UUID, retry Retry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.RetryCount = retry.RetryCount
	e.LastError = retry.LastError
	e.NextAttemptAt = retry.NextAttemptAt
	s.entries[id] = e
	return nil
}

// Snapshot returns all entries ordered by creation time.
func (s *MemoryStore) Snapshot() []domain.DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.DeadLetter, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns a single entry by ID.
func (s *MemoryStore) Get(id uuid.UUID) (domain.DeadLetter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

var _ Store = (*MemoryStore)(nil)
