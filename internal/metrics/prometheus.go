package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Gateway metrics
	receiptsTotal         *prometheus.CounterVec
	dispatchAttemptsTotal *prometheus.CounterVec
	dispatchDuration      *prometheus.HistogramVec
	dispatchesInFlight    prometheus.Gauge
	deadLettersTotal      *prometheus.CounterVec

	// Scheduler metrics
	jobEventsTotal    *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	lockAttemptsTotal *prometheus.CounterVec

	// Replay metrics
	replayOutcomesTotal *prometheus.CounterVec

	// Transport metrics
	transportRequestsTotal *prometheus.CounterVec
	transportDuration      prometheus.Histogram
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink;
// the failed collectors still accept observations but are not exported.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initGatewayMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initReplayMetrics(reg)
	s.initTransportMetrics(reg)
	return s
}

func (s *PrometheusSink) initGatewayMetrics(reg prometheus.Registerer) {
	s.receiptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reflex_gateway_receipts_total",
		Help: "Total number of send receipts by channel, status and reason.",
	}, []string{"channel", "status", "reason"})

	s.dispatchAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reflex_gateway_dispatch_attempts_total",
		Help: "Total number of transport dispatch attempts.",
	}, []string{"channel", "attempt", "error_class"})

	s.dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reflex_gateway_dispatch_duration_seconds",
		Help:    "Transport send latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"channel"})

	s.dispatchesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reflex_gateway_dispatches_in_flight",
		Help: "Number of dispatches currently running.",
	})

	s.deadLettersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reflex_dead_letters_written_total",
		Help: "Total number of dead-letter entries written after retry exhaustion.",
	}, []string{"kind"})

	s.register(reg, s.receiptsTotal, "reflex_gateway_receipts_total")
	s.register(reg, s.dispatchAttemptsTotal, "reflex_gateway_dispatch_attempts_total")
	s.register(reg, s.dispatchDuration, "reflex_gateway_dispatch_duration_seconds")
	s.register(reg, s.dispatchesInFlight, "reflex_gateway_dispatches_in_flight")
	s.register(reg, s.deadLettersTotal, "reflex_dead_letters_written_total")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.jobEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reflex_scheduler_job_events_total",
		Help: "Total number of scheduler job events (skipped_lock, started, completed, failed, dlq_replayed).",
	}, []string{"job", "event"})

	s.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reflex_scheduler_job_duration_seconds",
		Help:    "Wall time of a job run under the lock, retries included.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"job"})

	s.lockAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reflex_lock_attempts_total",
		Help: "Total number of distributed lock acquisition attempts by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.jobEventsTotal, "reflex_scheduler_job_events_total")
	s.register(reg, s.jobDuration, "reflex_scheduler_job_duration_seconds")
	s.register(reg, s.lockAttemptsTotal, "reflex_lock_attempts_total")
}

func (s *PrometheusSink) initReplayMetrics(reg prometheus.Registerer) {
	s.replayOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reflex_replay_outcomes_total",
		Help: "Total number of dead-letter replay outcomes.",
	}, []string{"kind", "outcome"})

	s.register(reg, s.replayOutcomesTotal, "reflex_replay_outcomes_total")
}

func (s *PrometheusSink) initTransportMetrics(reg prometheus.Registerer) {
	s.transportRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reflex_transport_requests_total",
		Help: "Total number of outbound webhook transport requests.",
	}, []string{"status_class"})

	s.transportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reflex_transport_request_duration_seconds",
		Help:    "Outbound webhook request latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.transportRequestsTotal, "reflex_transport_requests_total")
	s.register(reg, s.transportDuration, "reflex_transport_request_duration_seconds")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Warn().Str("component", "metrics").Str("metric", name).Err(err).Msg("failed to register collector")
	}
}

// Gateway metrics implementation

func (s *PrometheusSink) ReceiptRecorded(channel, status, reason string) {
	s.receiptsTotal.WithLabelValues(channel, status, reasonLabel(reason)).Inc()
}

func (s *PrometheusSink) DispatchAttemptCompleted(channel string, attempt int, errorClass string, duration time.Duration) {
	s.dispatchAttemptsTotal.WithLabelValues(channel, strconv.Itoa(attempt), errorClass).Inc()
	s.dispatchDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func (s *PrometheusSink) DispatchesInFlightIncr() {
	s.dispatchesInFlight.Inc()
}

func (s *PrometheusSink) DispatchesInFlightDecr() {
	s.dispatchesInFlight.Dec()
}

func (s *PrometheusSink) DeadLetterWritten(kind string) {
	s.deadLettersTotal.WithLabelValues(kind).Inc()
}

// Scheduler metrics implementation

func (s *PrometheusSink) JobEvent(job, event string) {
	s.jobEventsTotal.WithLabelValues(job, event).Inc()
}

func (s *PrometheusSink) JobDuration(job string, duration time.Duration) {
	s.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (s *PrometheusSink) LockAttempt(outcome string) {
	s.lockAttemptsTotal.WithLabelValues(outcome).Inc()
}

// Replay metrics implementation

func (s *PrometheusSink) ReplayOutcome(kind, outcome string) {
	s.replayOutcomesTotal.WithLabelValues(kind, outcome).Inc()
}

// Transport metrics implementation

func (s *PrometheusSink) TransportRequestCompleted(statusClass string, duration time.Duration) {
	s.transportRequestsTotal.WithLabelValues(statusClass).Inc()
	s.transportDuration.Observe(duration.Seconds())
}

// reasonLabel collapses free-form error text into one label value so
// transport error messages cannot explode cardinality.
func reasonLabel(reason string) string {
	switch reason {
	case "":
		return "none"
	case "coalesce_window_hit", "quiet_hours", "rate_limited", "invalid_event",
		"timeout", "canceled", "unknown_error":
		return reason
	default:
		return "dispatch_error"
	}
}

var _ Sink = (*PrometheusSink)(nil)
