package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDelay(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		attempt  int
		want     time.Duration
	}{
		{"exponential 1", Exponential, 1, time.Second},
		{"exponential 2", Exponential, 2, 2 * time.Second},
		{"exponential 3", Exponential, 3, 4 * time.Second},
		{"exponential 4", Exponential, 4, 8 * time.Second},
		{"linear 1", Linear, 1, time.Second},
		{"linear 2", Linear, 2, 2 * time.Second},
		{"linear 5", Linear, 5, 5 * time.Second},
		{"zero attempt clamps", Exponential, 0, time.Second},
		{"unknown strategy", Strategy("fibonacci"), 3, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Delay(tt.strategy, tt.attempt); got != tt.want {
				t.Errorf("Delay(%s, %d) = %s, want %s", tt.strategy, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestDelay_LargeAttemptDoesNotOverflow(t *testing.T) {
	d := Delay(Exponential, 500)
	if d <= 0 {
		t.Fatalf("Delay overflowed: %s", d)
	}
	if d != Delay(Exponential, 31) {
		t.Errorf("Delay(500) = %s, want capped value %s", d, Delay(Exponential, 31))
	}
}

func TestParse(t *testing.T) {
	if s, err := Parse(""); err != nil || s != Exponential {
		t.Errorf("Parse(\"\") = %q, %v; want exponential", s, err)
	}
	if s, err := Parse("linear"); err != nil || s != Linear {
		t.Errorf("Parse(linear) = %q, %v", s, err)
	}
	if _, err := Parse("random"); err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestSleep_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("Sleep should return promptly on a cancelled context")
	}
}

func TestSleep_Elapses(t *testing.T) {
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
}
