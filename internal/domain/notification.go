package domain

import (
	"context"
	"errors"
	"time"
)

type Channel string

const (
	ChannelSlack    Channel = "slack"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelSlack, ChannelWhatsApp, ChannelEmail}

func (c Channel) Valid() bool {
	switch c {
	case ChannelSlack, ChannelWhatsApp, ChannelEmail:
		return true
	default:
		return false
	}
}

// NotificationEvent is one unit of outbound intent. Callers build it once and
// must not mutate it after handing it to the gateway.
type NotificationEvent struct {
	EventID  string
	TenantID string
	Channel  Channel
	Payload  map[string]any

	// CorrelationKey is the dedup identity. Empty means EventID.
	CorrelationKey string

	// RecipientLocalTime is an "HH:MM" clock string used for quiet hours.
	// Empty means locality is unknown.
	RecipientLocalTime string

	Metadata map[string]any
}

// DedupKey returns the identity used for coalescing.
func (e NotificationEvent) DedupKey() string {
	if e.CorrelationKey != "" {
		return e.CorrelationKey
	}
	return e.EventID
}

type ReceiptStatus string

const (
	ReceiptStatusSent     ReceiptStatus = "sent"
	ReceiptStatusDeferred ReceiptStatus = "deferred"
	ReceiptStatusDeduped  ReceiptStatus = "deduped"
	ReceiptStatusFailed   ReceiptStatus = "failed"
)

// Failure reasons carried on receipts and scheduler results.
const (
	ReasonCoalesceWindowHit = "coalesce_window_hit"
	ReasonQuietHours        = "quiet_hours"
	ReasonRateLimited       = "rate_limited"
	ReasonLockNotAcquired   = "lock_not_acquired"
	ReasonLockError         = "lock_error"
	ReasonInvalidEvent      = "invalid_event"
	ReasonTimeout           = "timeout"
	ReasonCanceled          = "canceled"
	ReasonUnknownError      = "unknown_error"
)

// CancellationReason maps a context error to ReasonTimeout or ReasonCanceled.
func CancellationReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonCanceled
}

// SendReceipt is the outcome of a single Emit call.
type SendReceipt struct {
	EventID       string        `json:"event_id"`
	Channel       Channel       `json:"channel"`
	Attempt       int           `json:"attempt"` // dispatch attempts actually made
	Status        ReceiptStatus `json:"status"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
}
