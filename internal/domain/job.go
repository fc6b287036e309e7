package domain

import (
	"context"
	"time"
)

// JobContext is handed to a job handler. Payload is set on dead-letter replay.
type JobContext struct {
	Payload map[string]any
}

type JobHandler func(ctx context.Context, jc JobContext) error

// Job is a named unit of recurring work. Cron is descriptive; triggering is
// external to the scheduler.
type Job struct {
	Name       string
	Cron       string
	Handler    JobHandler
	MaxRetries int // 0 means the scheduler default
}

type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusFailed    RunStatus = "failed"
)

// RunResult is the outcome of one scheduler Run.
type RunResult struct {
	Job           string     `json:"job"`
	Attempt       int        `json:"attempt"`
	Status        RunStatus  `json:"status"`
	Reason        string     `json:"reason,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}
