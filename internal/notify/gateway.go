// Package notify implements the notification gateway: it turns domain events
// into outbound messages under deduplication, quiet hours, per-tenant rate
// limits, in-flight coalescing and retry with dead-lettering.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/djlord-it/reflex/internal/backoff"
	"github.com/djlord-it/reflex/internal/circuitbreaker"
	"github.com/djlord-it/reflex/internal/deadletter"
	"github.com/djlord-it/reflex/internal/domain"
	"github.com/djlord-it/reflex/internal/lock"
	"github.com/djlord-it/reflex/internal/metrics"
	"github.com/djlord-it/reflex/internal/quiethours"
	"github.com/djlord-it/reflex/internal/ratelimit"
)

// Transport delivers one event on one channel. Errors are retried by the
// gateway.
type Transport interface {
	Send(ctx context.Context, event domain.NotificationEvent) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, event domain.NotificationEvent) error

func (f TransportFunc) Send(ctx context.Context, event domain.NotificationEvent) error {
	return f(ctx, event)
}

// MetricsSink defines the interface for recording gateway metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	ReceiptRecorded(channel, status, reason string)
	DispatchAttemptCompleted(channel string, attempt int, errorClass string, duration time.Duration)
	DispatchesInFlightIncr()
	DispatchesInFlightDecr()
	DeadLetterWritten(kind string)
	ReplayOutcome(kind, outcome string)
}

// DefaultWriteTimeout bounds dead-letter writes made after the caller's
// context was cancelled.
const DefaultWriteTimeout = 10 * time.Second

var errInvalidEvent = errors.New(domain.ReasonInvalidEvent)

type Gateway struct {
	strategy    backoff.Strategy
	maxAttempts int

	transports map[domain.Channel]Transport
	store      deadletter.Store
	limiter    ratelimit.Limiter
	quiet      *quiethours.Guard // nil = disabled
	dedup      *dedupCache
	inflight   singleflight.Group

	breaker   *circuitbreaker.CircuitBreaker // optional, nil = disabled
	locker    lock.Locker                    // optional, guards ReplayDLQ
	replayKey int64
	metrics   MetricsSink // optional, nil = disabled

	clock        func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	writeTimeout time.Duration

	auditMu sync.Mutex
	audit   []domain.SendReceipt
}

// New creates a gateway. A nil store keeps dead letters in memory and a nil
// limiter counts in memory; both are process-local.
func New(cfg NotificationConfig, transports map[domain.Channel]Transport, store deadletter.Store, limiter ratelimit.Limiter) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("notification config: %w", err)
	}
	strategy, _ := backoff.Parse(cfg.RetryPolicy.BackoffStrategy)
	guard, _ := cfg.QuietHours.Guard()

	if store == nil {
		store = deadletter.NewMemoryStore()
	}
	if limiter == nil {
		limiter = ratelimit.NewMemory(cfg.RateLimits.Limits())
	}

	ts := make(map[domain.Channel]Transport, len(transports))
	for ch, t := range transports {
		if t != nil {
			ts[ch] = t
		}
	}

	return &Gateway{
		strategy:     strategy,
		maxAttempts:  max(cfg.RetryPolicy.MaxAttempts, 1),
		transports:   ts,
		store:        store,
		limiter:      limiter,
		quiet:        guard,
		dedup:        newDedupCache(cfg.CoalesceWindow()),
		clock:        time.Now,
		sleep:        backoff.Sleep,
		writeTimeout: DefaultWriteTimeout,
	}, nil
}

// WithMetrics attaches a metrics sink to the gateway.
func (g *Gateway) WithMetrics(sink MetricsSink) *Gateway {
	g.metrics = sink
	return g
}

// WithCircuitBreaker trips dispatch per channel after consecutive failures.
// An open circuit fails the attempt and counts against the retry budget.
func (g *Gateway) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Gateway {
	g.breaker = cb
	return g
}

// WithReplayLock makes ReplayDLQ run only while holding the lock derived
// from queue, so one replica replays a shared store at a time.
func (g *Gateway) WithReplayLock(locker lock.Locker, queue string) *Gateway {
	g.locker = locker
	g.replayKey = lock.KeyFor("dlq-replay:" + queue)
	return g
}

// WithClock sets a custom clock function for testing.
func (g *Gateway) WithClock(clock func() time.Time) *Gateway {
	g.clock = clock
	return g
}

// WithSleep replaces the backoff wait for testing.
func (g *Gateway) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Gateway {
	g.sleep = sleep
	return g
}

// Emit runs event through dedup, quiet hours, rate limiting and in-flight
// coalescing, then dispatches it with retries. It returns exactly one
// receipt; callers that join an in-flight dispatch receive the leader's.
func (g *Gateway) Emit(ctx context.Context, event domain.NotificationEvent) domain.SendReceipt {
	if err := validateEvent(event); err != nil {
		log.Warn().Str("component", "gateway").Str("event_id", event.EventID).Err(err).Msg("rejected invalid event")
		return g.record(domain.SendReceipt{
			EventID:       event.EventID,
			Channel:       event.Channel,
			Status:        domain.ReceiptStatusFailed,
			FailureReason: domain.ReasonInvalidEvent,
		})
	}

	now := g.clock()
	key := event.DedupKey()

	if g.dedup.isDuplicate(key, now) {
		return g.record(domain.SendReceipt{
			EventID:       event.EventID,
			Channel:       event.Channel,
			Status:        domain.ReceiptStatusDeduped,
			FailureReason: domain.ReasonCoalesceWindowHit,
		})
	}

	if g.quiet != nil && g.quiet.IsQuiet(event.RecipientLocalTime) {
		next := g.quiet.NextWindow(now)
		return g.record(domain.SendReceipt{
			EventID:       event.EventID,
			Channel:       event.Channel,
			Status:        domain.ReceiptStatusDeferred,
			NextAttemptAt: &next,
			FailureReason: domain.ReasonQuietHours,
		})
	}

	allowed, err := g.limiter.Consume(ctx, event.TenantID, event.Channel, now)
	if err != nil {
		// Fail open: a limiter outage must not block delivery.
		log.Error().Str("component", "gateway").Str("tenant_id", event.TenantID).
			Str("channel", string(event.Channel)).Err(err).Msg("rate limiter unavailable, allowing send")
		allowed = true
	}
	if !allowed {
		next := ratelimit.NextWindowStart(now)
		return g.record(domain.SendReceipt{
			EventID:       event.EventID,
			Channel:       event.Channel,
			Status:        domain.ReceiptStatusDeferred,
			NextAttemptAt: &next,
			FailureReason: domain.ReasonRateLimited,
		})
	}

	v, _, shared := g.inflight.Do(event.EventID+":"+string(event.Channel), func() (any, error) {
		receipt := g.sendWithRetry(ctx, event)
		if receipt.Status == domain.ReceiptStatusSent {
			g.dedup.stamp(key, g.clock())
		}
		return g.record(receipt), nil
	})
	if shared {
		log.Debug().Str("component", "gateway").Str("event_id", event.EventID).
			Str("channel", string(event.Channel)).Msg("joined in-flight dispatch")
	}
	return v.(domain.SendReceipt)
}

// AuditTrail returns a copy of every receipt produced so far, in order.
func (g *Gateway) AuditTrail() []domain.SendReceipt {
	g.auditMu.Lock()
	defer g.auditMu.Unlock()
	out := make([]domain.SendReceipt, len(g.audit))
	copy(out, g.audit)
	return out
}

func (g *Gateway) record(receipt domain.SendReceipt) domain.SendReceipt {
	g.auditMu.Lock()
	g.audit = append(g.audit, receipt)
	g.auditMu.Unlock()

	if g.metrics != nil {
		g.metrics.ReceiptRecorded(string(receipt.Channel), string(receipt.Status), receipt.FailureReason)
	}
	return receipt
}

func (g *Gateway) sendWithRetry(ctx context.Context, event domain.NotificationEvent) domain.SendReceipt {
	if g.metrics != nil {
		g.metrics.DispatchesInFlightIncr()
		defer g.metrics.DispatchesInFlightDecr()
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff.Delay(g.strategy, attempt-1)
			log.Debug().Str("component", "gateway").Str("event_id", event.EventID).
				Int("attempt", attempt).Dur("backoff", delay).Msg("retrying dispatch")
			if err := g.sleep(ctx, delay); err != nil {
				return g.abandoned(event, attempt-1, err)
			}
		}

		start := time.Now()
		err := g.dispatch(ctx, event)
		if g.metrics != nil {
			g.metrics.DispatchAttemptCompleted(string(event.Channel), attempt, metrics.ClassifyError(err), time.Since(start))
		}
		if err == nil {
			log.Info().Str("component", "gateway").Str("event_id", event.EventID).
				Str("channel", string(event.Channel)).Int("attempt", attempt).Msg("delivered")
			return domain.SendReceipt{
				EventID: event.EventID,
				Channel: event.Channel,
				Attempt: attempt,
				Status:  domain.ReceiptStatusSent,
			}
		}
		lastErr = err
		log.Warn().Str("component", "gateway").Str("event_id", event.EventID).
			Str("channel", string(event.Channel)).Int("attempt", attempt).Err(err).Msg("dispatch failed")
		if ctxErr := ctx.Err(); ctxErr != nil && attempt < g.maxAttempts {
			return g.abandoned(event, attempt, ctxErr)
		}
	}

	now := g.clock()
	next := now.Add(backoff.Delay(g.strategy, g.maxAttempts+1))
	reason := deadletter.ErrorReason(lastErr)
	g.writeDeadLetter(ctx, event, reason, next, now)

	return domain.SendReceipt{
		EventID:       event.EventID,
		Channel:       event.Channel,
		Attempt:       g.maxAttempts,
		Status:        domain.ReceiptStatusFailed,
		NextAttemptAt: &next,
		FailureReason: reason,
	}
}

// abandoned is the receipt for a dispatch cut short by cancellation. The
// budget was not exhausted, so no dead letter is written.
func (g *Gateway) abandoned(event domain.NotificationEvent, attempts int, err error) domain.SendReceipt {
	next := g.clock().Add(backoff.Delay(g.strategy, attempts+1))
	reason := domain.CancellationReason(err)
	log.Warn().Str("component", "gateway").Str("event_id", event.EventID).
		Int("attempts", attempts).Str("reason", reason).Msg("dispatch abandoned")
	return domain.SendReceipt{
		EventID:       event.EventID,
		Channel:       event.Channel,
		Attempt:       attempts,
		Status:        domain.ReceiptStatusFailed,
		NextAttemptAt: &next,
		FailureReason: reason,
	}
}

func (g *Gateway) dispatch(ctx context.Context, event domain.NotificationEvent) (err error) {
	transport, ok := g.transports[event.Channel]
	if !ok {
		return fmt.Errorf("transport unavailable for channel %s", event.Channel)
	}

	key := string(event.Channel)
	if g.breaker != nil {
		if err := g.breaker.Allow(key); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				g.breaker.RecordFailure(key)
			} else {
				g.breaker.RecordSuccess(key)
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transport panic: %v", r)
		}
	}()
	return transport.Send(ctx, event)
}

func (g *Gateway) writeDeadLetter(ctx context.Context, event domain.NotificationEvent, reason string, next, now time.Time) {
	entry, err := deadletter.NewEntry(domain.DeadLetterKindNotification, event.Payload, g.maxAttempts, reason, next, now)
	if err != nil {
		log.Error().Str("component", "gateway").Str("event_id", event.EventID).Err(err).Msg("build dead letter")
		return
	}
	entry.EventID = event.EventID
	entry.TenantID = event.TenantID
	entry.Channel = event.Channel
	entry.CorrelationKey = event.CorrelationKey
	entry.RecipientLocalTime = event.RecipientLocalTime
	entry.Metadata = event.Metadata

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.writeTimeout)
	defer cancel()
	if err := g.store.Persist(wctx, entry); err != nil {
		log.Error().Str("component", "gateway").Str("event_id", event.EventID).Err(err).Msg("persist dead letter")
		return
	}
	if g.metrics != nil {
		g.metrics.DeadLetterWritten(string(domain.DeadLetterKindNotification))
	}
	log.Warn().Str("component", "gateway").Str("event_id", event.EventID).Str("dlq_id", entry.ID.String()).
		Int("retry_count", entry.RetryCount).Msg("dead-lettered after retry exhaustion")
}

func validateEvent(event domain.NotificationEvent) error {
	switch {
	case event.EventID == "":
		return fmt.Errorf("%w: missing event id", errInvalidEvent)
	case event.TenantID == "":
		return fmt.Errorf("%w: missing tenant id", errInvalidEvent)
	case !event.Channel.Valid():
		return fmt.Errorf("%w: unknown channel %q", errInvalidEvent, event.Channel)
	}
	return nil
}
