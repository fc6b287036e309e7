// Package deadletter defines the dead-letter queue contract shared by the
// notification gateway and the reflex scheduler, plus an in-memory store.
//
// Entries are written only after a unit of work exhausted its attempt budget.
// A replay pass deletes an entry on success or pushes its NextAttemptAt
// forward on failure.
package deadletter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/reflex/internal/domain"
)

var ErrNotFound = errors.New("dead letter not found")

// Store persists dead letters. Implementations must be safe for concurrent use.
type Store interface {
	Persist(ctx context.Context, entry domain.DeadLetter) error
	// DueEntries returns at most limit entries with NextAttemptAt <= now,
	// ordered by NextAttemptAt ascending.
	DueEntries(ctx context.Context, now time.Time, limit int) ([]domain.DeadLetter, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Update(ctx context.Context, id uuid.UUID, retry Retry) error
}

// Retry is the mutation applied after a failed replay.
type Retry struct {
	RetryCount    int
	LastError     string
	NextAttemptAt time.Time
}

// Checksum returns the hex SHA-256 of the payload's JSON encoding.
// encoding/json sorts map keys, which makes the encoding canonical.
// A nil payload hashes like an empty object.
func Checksum(payload map[string]any) (string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// NewEntry builds an entry with a fresh ID and checksum. Callers fill in the
// identity fields (EventID/TenantID/Channel or JobName).
func NewEntry(kind domain.DeadLetterKind, payload map[string]any, retryCount int, lastError string, nextAttemptAt, now time.Time) (domain.DeadLetter, error) {
	checksum, err := Checksum(payload)
	if err != nil {
		return domain.DeadLetter{}, err
	}
	return domain.DeadLetter{
		ID:              uuid.New(),
		Kind:            kind,
		Payload:         payload,
		PayloadChecksum: checksum,
		RetryCount:      retryCount,
		LastError:       lastError,
		NextAttemptAt:   nextAttemptAt,
		CreatedAt:       now,
	}, nil
}

// ErrorReason renders err for LastError/FailureReason fields.
func ErrorReason(err error) string {
	if err == nil || err.Error() == "" {
		return domain.ReasonUnknownError
	}
	return err.Error()
}
