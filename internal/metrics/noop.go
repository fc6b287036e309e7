package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) ReceiptRecorded(channel, status, reason string)                                      {}
func (n *NoopSink) DispatchAttemptCompleted(channel string, attempt int, class string, d time.Duration) {}
func (n *NoopSink) DispatchesInFlightIncr()                                                             {}
func (n *NoopSink) DispatchesInFlightDecr()                                                             {}
func (n *NoopSink) DeadLetterWritten(kind string)                                                       {}
func (n *NoopSink) JobEvent(job, event string)                                                          {}
func (n *NoopSink) JobDuration(job string, d time.Duration)                                             {}
func (n *NoopSink) LockAttempt(outcome string)                                                          {}
func (n *NoopSink) ReplayOutcome(kind, outcome string)                                                  {}
func (n *NoopSink) TransportRequestCompleted(statusClass string, d time.Duration)                       {}

var _ Sink = (*NoopSink)(nil)
