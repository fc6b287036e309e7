package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/backoff"
	"github.com/djlord-it/reflex/internal/deadletter"
	"github.com/djlord-it/reflex/internal/domain"
	"github.com/djlord-it/reflex/internal/lock"
	"github.com/djlord-it/reflex/internal/metrics"
)

// ReplayDLQ re-dispatches up to limit due notification dead letters, oldest
// due first, one attempt each. Delivered entries are deleted; failures bump
// the retry count and push NextAttemptAt out by the backoff for the new
// count. It returns the number of entries delivered.
//
// With a replay lock configured, a pass that finds the lock held elsewhere
// returns 0 without touching the store.
func (g *Gateway) ReplayDLQ(ctx context.Context, limit int) (int, error) {
	if g.locker == nil {
		return g.replay(ctx, limit)
	}

	var replayed int
	acquired, err := lock.Do(ctx, g.locker, g.replayKey, func(ctx context.Context) error {
		var err error
		replayed, err = g.replay(ctx, limit)
		return err
	})
	if err != nil {
		return replayed, err
	}
	if !acquired {
		log.Debug().Str("component", "gateway").Msg("replay lock held elsewhere, skipping pass")
	}
	return replayed, nil
}

func (g *Gateway) replay(ctx context.Context, limit int) (int, error) {
	entries, err := g.store.DueEntries(ctx, g.clock(), limit)
	if err != nil {
		return 0, fmt.Errorf("load due dead letters: %w", err)
	}

	replayed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		if entry.Kind != domain.DeadLetterKindNotification {
			g.replayOutcome(metrics.ReplaySkipped)
			continue
		}

		event := entry.Event()

		if err := g.dispatch(ctx, event); err != nil {
			retryCount := entry.RetryCount + 1
			retry := deadletter.Retry{
				RetryCount:    retryCount,
				LastError:     deadletter.ErrorReason(err),
				NextAttemptAt: g.clock().Add(backoff.Delay(g.strategy, retryCount)),
			}
			if uerr := g.store.Update(ctx, entry.ID, retry); uerr != nil {
				log.Error().Str("component", "gateway").Str("dlq_id", entry.ID.String()).Err(uerr).Msg("update dead letter")
				continue
			}
			g.replayOutcome(metrics.ReplayRescheduled)
			log.Warn().Str("component", "gateway").Str("dlq_id", entry.ID.String()).
				Int("retry_count", retryCount).Err(err).Msg("replay failed, rescheduled")
			continue
		}

		if err := g.store.Delete(ctx, entry.ID); err != nil {
			log.Error().Str("component", "gateway").Str("dlq_id", entry.ID.String()).Err(err).Msg("delete replayed dead letter")
			continue
		}
		g.dedup.stamp(event.DedupKey(), g.clock())
		g.replayOutcome(metrics.ReplayDelivered)
		replayed++
		log.Info().Str("component", "gateway").Str("dlq_id", entry.ID.String()).
			Str("subject", entry.Subject()).Msg("replayed dead letter")
	}
	return replayed, nil
}

func (g *Gateway) replayOutcome(outcome string) {
	if g.metrics != nil {
		g.metrics.ReplayOutcome(string(domain.DeadLetterKindNotification), outcome)
	}
}
