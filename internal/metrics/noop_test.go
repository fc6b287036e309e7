package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	s.ReceiptRecorded("slack", "sent", "")
	s.DispatchAttemptCompleted("slack", 1, ErrorClassNone, 20*time.Millisecond)
	s.DispatchesInFlightIncr()
	s.DispatchesInFlightDecr()
	s.DeadLetterWritten("notification")

	s.JobEvent("digest", JobEventStarted)
	s.JobDuration("digest", time.Second)
	s.LockAttempt(LockAcquired)

	s.ReplayOutcome("job", ReplayDelivered)
	s.TransportRequestCompleted(StatusClass2xx, 200*time.Millisecond)
}
