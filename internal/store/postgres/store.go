// Package postgres implements deadletter.Store on PostgreSQL.
//
// Each queue (job dead letters, notification dead letters) lives in its own
// table with the layout built by migrations/001 and 002.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/reflex/internal/deadletter"
	"github.com/djlord-it/reflex/internal/domain"
)

// Default table names.
const (
	JobTable          = "runtime_job_dlq"
	NotificationTable = "notification_dlq"
)

// Store implements deadletter.Store using PostgreSQL.
type Store struct {
	db        *sql.DB
	q         queries
	opTimeout time.Duration // 0 disables per-operation timeouts
}

// New creates a store bound to one dead-letter table.
func New(db *sql.DB, table string, opTimeout time.Duration) *Store {
	return &Store{
		db:        db,
		q:         newQueries(table),
		opTimeout: opTimeout,
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Persist inserts a new dead-letter row.
func (s *Store) Persist(ctx context.Context, entry domain.DeadLetter) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	payload, err := encodePayload(entry.Payload)
	if err != nil {
		return err
	}
	metadata, err := encodePayload(entry.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.q.insert,
		entry.ID,
		string(entry.Kind),
		entry.EventID,
		entry.TenantID,
		string(entry.Channel),
		entry.CorrelationKey,
		entry.RecipientLocalTime,
		metadata,
		entry.JobName,
		payload,
		entry.PayloadChecksum,
		entry.RetryCount,
		entry.LastError,
		entry.NextAttemptAt.UTC(),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// DueEntries returns rows whose next_attempt_at has elapsed, oldest-due first.
func (s *Store) DueEntries(ctx context.Context, now time.Time, limit int) ([]domain.DeadLetter, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, s.q.due, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due dead letters: %w", err)
	}
	defer rows.Close()

	var result []domain.DeadLetter
	for rows.Next() {
		var (
			e        domain.DeadLetter
			kind     string
			channel  string
			metadata []byte
			payload  []byte
		)
		err := rows.Scan(
			&e.ID,
			&kind,
			&e.EventID,
			&e.TenantID,
			&channel,
			&e.CorrelationKey,
			&e.RecipientLocalTime,
			&metadata,
			&e.JobName,
			&payload,
			&e.PayloadChecksum,
			&e.RetryCount,
			&e.LastError,
			&e.NextAttemptAt,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		e.Kind = domain.DeadLetterKind(kind)
		e.Channel = domain.Channel(channel)
		if e.Payload, err = decodePayload(payload); err != nil {
			return nil, fmt.Errorf("dead letter %s: %w", e.ID, err)
		}
		if e.Metadata, err = decodePayload(metadata); err != nil {
			return nil, fmt.Errorf("dead letter %s metadata: %w", e.ID, err)
		}
		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a row. Returns deadletter.ErrNotFound if it no longer exists,
// which happens when a concurrent replayer already handled it.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, s.q.delete, id)
	if err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	return expectOneRow(result)
}

// Update records a failed replay.
func (s *Store) Update(ctx context.Context, id uuid.UUID, retry deadletter.Retry) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, s.q.update,
		retry.RetryCount,
		retry.LastError,
		retry.NextAttemptAt.UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update dead letter: %w", err)
	}
	return expectOneRow(result)
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return deadletter.ErrNotFound
	}
	return nil
}

func encodePayload(p map[string]any) ([]byte, error) {
	if p == nil {
		p = map[string]any{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}

func decodePayload(data []byte) (map[string]any, error) {
	p := map[string]any{}
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return p, nil
}

// Compile-time interface assertion
var _ deadletter.Store = (*Store)(nil)
