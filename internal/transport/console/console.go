// Package console is a development transport that logs events instead of
// delivering them.
package console

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/domain"
)

type Transport struct {
	logger zerolog.Logger
}

// New returns a transport writing through the global logger.
func New() *Transport {
	return &Transport{logger: log.Logger}
}

// WithLogger replaces the logger.
func (t *Transport) WithLogger(l zerolog.Logger) *Transport {
	t.logger = l
	return t
}

func (t *Transport) Send(ctx context.Context, event domain.NotificationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.logger.Info().
		Str("component", "transport").
		Str("channel", string(event.Channel)).
		Str("event_id", event.EventID).
		Str("tenant_id", event.TenantID).
		Interface("payload", event.Payload).
		Msg("notification delivered to console")
	return nil
}
