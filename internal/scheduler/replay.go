package scheduler

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

// ReplayDLQ invokes the handler once for each due job dead letter, oldest due
// first, up to limit. Entries whose job is not registered here are left for
// another process. A successful replay deletes the entry; a failure bumps
// its retry count and pushes NextAttemptAt out by the backoff for the new
// count. It returns the number of entries deleted.
//
// The pass runs under a lock scoped to the queue; when another replica holds
// it the pass returns 0.
func (s *Scheduler) ReplayDLQ(ctx context.Context, limit int) (int, error) {
	var replayed int
	acquired, err := lock.Do(ctx, s.locker, lock.KeyFor("dlq-replay:"+s.config.Queue), func(ctx context.Context) error {
		var err error
		replayed, err = s.replay(ctx, limit)
		return err
	})
	if err != nil {
		return replayed, err
	}
	if !acquired {
		log.Debug().Str("component", "scheduler").Str("queue", s.config.Queue).Msg("replay lock held elsewhere, skipping pass")
	}
	return replayed, nil
}

func (s *Scheduler) replay(ctx context.Context, limit int) (int, error) {
	entries, err := s.store.DueEntries(ctx, s.clock(), limit)
	if err != nil {
		return 0, fmt.Errorf("load due dead letters: %w", err)
	}

	replayed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return replayed, ctx.Err()
		}
		if entry.Kind != domain.DeadLetterKindJob {
			s.replayOutcome(metrics.ReplaySkipped)
			continue
		}
		job, ok := s.job(entry.JobName)
		if !ok {
			s.replayOutcome(metrics.ReplaySkipped)
			continue
		}

		payload := entry.Payload
		if payload == nil {
			payload = map[string]any{}
		}

		if err := invoke(ctx, job.Handler, domain.JobContext{Payload: payload}); err != nil {
			retryCount := entry.RetryCount + 1
			retry := deadletter.Retry{
				RetryCount:    retryCount,
				LastError:     deadletter.ErrorReason(err),
				NextAttemptAt: s.clock().Add(backoff.Delay(backoff.Exponential, retryCount)),
			}
			if uerr := s.store.Update(ctx, entry.ID, retry); uerr != nil {
				log.Error().Str("component", "scheduler").Str("dlq_id", entry.ID.String()).Err(uerr).Msg("update dead letter")
				continue
			}
			s.replayOutcome(metrics.ReplayRescheduled)
			log.Warn().Str("component", "scheduler").Str("job", entry.JobName).Str("dlq_id", entry.ID.String()).
				Int("retry_count", retryCount).Err(err).Msg("replay failed, rescheduled")
			continue
		}

		if err := s.store.Delete(ctx, entry.ID); err != nil {
			log.Error().Str("component", "scheduler").Str("dlq_id", entry.ID.String()).Err(err).Msg("delete replayed dead letter")
			continue
		}
		replayed++
		s.replayOutcome(metrics.ReplayDelivered)
		s.jobEvent(entry.JobName, metrics.JobEventDLQReplayed)
		log.Info().Str("component", "scheduler").Str("job", entry.JobName).Str("dlq_id", entry.ID.String()).Msg("replayed dead letter")
	}
	return replayed, nil
}

func (s *Scheduler) replayOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.ReplayOutcome(string(domain.DeadLetterKindJob), outcome)
	}
}
