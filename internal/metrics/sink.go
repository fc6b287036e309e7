package metrics

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Gateway metrics
	ReceiptRecorded(channel, status, reason string)
	DispatchAttemptCompleted(channel string, attempt int, errorClass string, duration time.Duration)
	DispatchesInFlightIncr()
	DispatchesInFlightDecr()
	DeadLetterWritten(kind string)

	// Scheduler metrics
	JobEvent(job, event string)
	JobDuration(job string, duration time.Duration)
	LockAttempt(outcome string)

	// Replay metrics
	ReplayOutcome(kind, outcome string)

	// Transport metrics
	TransportRequestCompleted(statusClass string, duration time.Duration)
}

// Job event constants for JobEvent metric.
const (
	JobEventSkippedLock = "skipped_lock"
	JobEventStarted     = "started"
	JobEventCompleted   = "completed"
	JobEventFailed      = "failed"
	JobEventDLQReplayed = "dlq_replayed"
)

// Lock outcome constants for LockAttempt metric.
const (
	LockAcquired  = "acquired"
	LockContended = "contended"
	LockError     = "error"
)

// Replay outcome constants for ReplayOutcome metric.
const (
	ReplayDelivered   = "delivered"
	ReplayRescheduled = "rescheduled"
	ReplaySkipped     = "skipped"
)

// ErrorClass constants for DispatchAttemptCompleted metric.
const (
	ErrorClassNone        = "none"
	ErrorClassTimeout     = "timeout"
	ErrorClassCanceled    = "canceled"
	ErrorClassCircuitOpen = "circuit_open"
	ErrorClassConnection  = "connection_error"
	ErrorClassOther       = "other_error"
)

// StatusClass constants for TransportRequestCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyError maps a dispatch error to a low-cardinality class.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ErrorClassNone
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	case errors.Is(err, context.Canceled):
		return ErrorClassCanceled
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "circuit breaker is open"):
		return ErrorClassCircuitOpen
	case strings.Contains(msg, "timeout"):
		return ErrorClassTimeout
	case isConnectionError(msg):
		return ErrorClassConnection
	default:
		return ErrorClassOther
	}
}

// ClassifyStatus maps an HTTP status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
			return StatusClassTimeout
		}
		if isConnectionError(msg) {
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}

func isConnectionError(msg string) bool {
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "dial")
}
