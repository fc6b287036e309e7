package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/reflex/internal/domain"
)

type recordingRunner struct {
	mu    sync.Mutex
	names []string
	fired chan struct{}
}

func (r *recordingRunner) Run(ctx context.Context, name string, jc domain.JobContext) (domain.RunResult, error) {
	r.mu.Lock()
	r.names = append(r.names, name)
	first := len(r.names) == 1
	r.mu.Unlock()
	if first {
		close(r.fired)
	}
	return domain.RunResult{Job: name, Attempt: 1, Status: domain.RunStatusCompleted}, nil
}

func TestTrigger_FiresRunner(t *testing.T) {
	runner := &recordingRunner{fired: make(chan struct{})}
	tr := NewTrigger(runner, NewParser())
	if err := tr.Add("heartbeat", "@every 1s"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	tr.Start()
	select {
	case <-runner.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not fire within 5s")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.names[0] != "heartbeat" {
		t.Errorf("fired job = %q, want heartbeat", runner.names[0])
	}
}

func TestTrigger_AddRejectsInvalidExpression(t *testing.T) {
	tr := NewTrigger(&recordingRunner{fired: make(chan struct{})}, NewParser())
	if err := tr.Add("broken", "not a cron"); err == nil {
		t.Error("Add should reject an invalid expression")
	}
}

func TestTrigger_StopWithoutStart(t *testing.T) {
	tr := NewTrigger(&recordingRunner{fired: make(chan struct{})}, NewParser())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tr.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
