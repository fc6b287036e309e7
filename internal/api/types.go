package api

import (
	"github.com/djlord-it/reflex/internal/domain"
	"github.com/djlord-it/reflex/internal/scheduler"
)

type EmitRequest struct {
	EventID            string         `json:"event_id,omitempty"` // generated when empty
	TenantID           string         `json:"tenant_id"`
	Channel            string         `json:"channel"`
	Payload            map[string]any `json:"payload,omitempty"`
	CorrelationKey     string         `json:"correlation_key,omitempty"`
	RecipientLocalTime string         `json:"recipient_local_time,omitempty"` // "HH:MM"
	Metadata           map[string]any `json:"metadata,omitempty"`
}

type AuditResponse struct {
	Receipts []domain.SendReceipt `json:"receipts"`
	Total    int                  `json:"total"`
}

type ListJobsResponse struct {
	Jobs []scheduler.JobInfo `json:"jobs"`
}

// RunJobRequest is optional; an empty body runs the job without a payload.
type RunJobRequest struct {
	Payload map[string]any `json:"payload,omitempty"`
}

type ReplayResponse struct {
	Replayed map[string]int `json:"replayed"`
	Queues   []string       `json:"queues"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
