package api

import (
	"fmt"

	"github.com/djlord-it/reflex/internal/domain"
)

const maxIDLength = 255

func validateEmit(req EmitRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if len(req.TenantID) > maxIDLength {
		return fmt.Errorf("tenant_id exceeds %d characters", maxIDLength)
	}

	if req.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	if !domain.Channel(req.Channel).Valid() {
		return fmt.Errorf("invalid channel %q: must be one of slack, whatsapp, email", req.Channel)
	}

	if len(req.EventID) > maxIDLength {
		return fmt.Errorf("event_id exceeds %d characters", maxIDLength)
	}
	if len(req.CorrelationKey) > maxIDLength {
		return fmt.Errorf("correlation_key exceeds %d characters", maxIDLength)
	}

	return nil
}
