// Package backoff holds the retry delay formula shared by the notification
// gateway and the reflex scheduler.
package backoff

import (
	"context"
	"fmt"
	"time"
)

// Base is the unit delay both strategies scale.
const Base = time.Second

type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
)

// Parse maps a config string to a Strategy. Empty means Exponential.
func Parse(s string) (Strategy, error) {
	switch Strategy(s) {
	case "", Exponential:
		return Exponential, nil
	case Linear:
		return Linear, nil
	default:
		return "", fmt.Errorf("unknown backoff strategy %q (want exponential or linear)", s)
	}
}

// Delay returns the wait after the given 1-based attempt failed.
//
//	exponential: Base * 2^(attempt-1)
//	linear:      Base * attempt
//
// Attempts below 1 are treated as 1. Unknown strategies fall back to exponential.
func Delay(strategy Strategy, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if strategy == Linear {
		return Base * time.Duration(attempt)
	}
	// Cap the shift so huge retry counts on long-lived dead letters cannot overflow.
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return Base * time.Duration(1<<shift)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
