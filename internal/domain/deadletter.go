package domain

import (
	"time"

	"github.com/google/uuid"
)

type DeadLetterKind string

const (
	DeadLetterKindNotification DeadLetterKind = "notification"
	DeadLetterKindJob          DeadLetterKind = "job"
)

// DeadLetter is a unit of work that exhausted its retry budget.
// Notification entries carry the event fields; job entries carry JobName.
type DeadLetter struct {
	ID   uuid.UUID
	Kind DeadLetterKind

	EventID            string
	TenantID           string
	Channel            Channel
	CorrelationKey     string
	RecipientLocalTime string
	Metadata           map[string]any
	JobName            string

	Payload         map[string]any
	PayloadChecksum string // sha256 hex of the canonical JSON payload

	RetryCount    int
	LastError     string
	NextAttemptAt time.Time

	CreatedAt time.Time
}

// Event rebuilds the notification a notification entry was written for.
func (d DeadLetter) Event() NotificationEvent {
	return NotificationEvent{
		EventID:            d.EventID,
		TenantID:           d.TenantID,
		Channel:            d.Channel,
		Payload:            d.Payload,
		CorrelationKey:     d.CorrelationKey,
		RecipientLocalTime: d.RecipientLocalTime,
		Metadata:           d.Metadata,
	}
}

// Subject returns the identity of the dead-lettered unit.
func (d DeadLetter) Subject() string {
	if d.Kind == DeadLetterKindJob {
		return d.JobName
	}
	return d.EventID
}
