package domain

import (
	"context"
	"fmt"
	"testing"
)

func TestRunStatus_Values(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusCompleted, "completed"},
		{RunStatusSkipped, "skipped"},
		{RunStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if string(tt.status) != tt.want {
				t.Errorf("RunStatus = %q, want %q", tt.status, tt.want)
			}
		})
	}
}

func TestNotificationEvent_DedupKey(t *testing.T) {
	e := NotificationEvent{EventID: "e1"}
	if got := e.DedupKey(); got != "e1" {
		t.Errorf("DedupKey() = %q, want e1", got)
	}

	e.CorrelationKey = "lead-42"
	if got := e.DedupKey(); got != "lead-42" {
		t.Errorf("DedupKey() = %q, want lead-42", got)
	}
}

func TestChannel_Valid(t *testing.T) {
	for _, c := range Channels {
		if !c.Valid() {
			t.Errorf("%q should be valid", c)
		}
	}
	if Channel("sms").Valid() {
		t.Error("sms should not be valid")
	}
}

func TestDeadLetter_Subject(t *testing.T) {
	job := DeadLetter{Kind: DeadLetterKindJob, JobName: "lead-reminders", EventID: "ignored"}
	if got := job.Subject(); got != "lead-reminders" {
		t.Errorf("Subject() = %q, want lead-reminders", got)
	}
	n := DeadLetter{Kind: DeadLetterKindNotification, EventID: "e1"}
	if got := n.Subject(); got != "e1" {
		t.Errorf("Subject() = %q, want e1", got)
	}
}

func TestCancellationReason(t *testing.T) {
	if got := CancellationReason(fmt.Errorf("sleep: %w", context.DeadlineExceeded)); got != ReasonTimeout {
		t.Errorf("deadline: got %q, want %q", got, ReasonTimeout)
	}
	if got := CancellationReason(context.Canceled); got != ReasonCanceled {
		t.Errorf("canceled: got %q, want %q", got, ReasonCanceled)
	}
}
