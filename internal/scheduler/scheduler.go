// Package scheduler runs named jobs under cross-process mutual exclusion
// with jittered starts, bounded retries and dead-letter replay.
//
// Triggering is external: a cron runner, an HTTP call or a test calls Run.
// Run never returns an error for job failures; only an unknown job name is
// an error.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/backoff"
	"github.com/djlord-it/reflex/internal/deadletter"
	"github.com/djlord-it/reflex/internal/domain"
	"github.com/djlord-it/reflex/internal/lock"
	"github.com/djlord-it/reflex/internal/metrics"
)

var (
	ErrUnknownJob   = errors.New("unknown job")
	ErrDuplicateJob = errors.New("job already registered")
	ErrInvalidJob   = errors.New("invalid job")
)

// Defaults applied by DefaultConfig.
const (
	DefaultJitterWindow = 5 * time.Second
	DefaultMaxRetries   = 3
	DefaultQueue        = "runtime_job_dlq"
	DefaultWriteTimeout = 10 * time.Second
)

// CronParser rejects malformed job cron expressions at registration and
// computes when a job's expression next fires.
type CronParser interface {
	Validate(expression string) error
	NextRun(expression string, after time.Time) (time.Time, error)
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobEvent(job, event string)
	JobDuration(job string, duration time.Duration)
	LockAttempt(outcome string)
	DeadLetterWritten(kind string)
	ReplayOutcome(kind, outcome string)
}

type Config struct {
	// JitterWindow bounds the random delay before lock acquisition.
	// Zero disables jitter.
	JitterWindow time.Duration
	// MaxRetries applies to jobs that leave MaxRetries unset.
	MaxRetries int
	// Queue names the dead-letter queue; it scopes the replay lock.
	Queue string
}

func DefaultConfig() Config {
	return Config{
		JitterWindow: DefaultJitterWindow,
		MaxRetries:   DefaultMaxRetries,
		Queue:        DefaultQueue,
	}
}

// JobInfo describes a registered job without its handler.
type JobInfo struct {
	Name       string     `json:"name"`
	Cron       string     `json:"cron"`
	MaxRetries int        `json:"max_retries"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

type Scheduler struct {
	config    Config
	locker    lock.Locker
	store     deadletter.Store
	cron      CronParser  // optional, nil = no cron validation
	metrics   MetricsSink // optional, nil = disabled

	clock        func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	jitter       func(window time.Duration) time.Duration
	writeTimeout time.Duration

	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func New(config Config, locker lock.Locker, store deadletter.Store) *Scheduler {
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.Queue == "" {
		config.Queue = DefaultQueue
	}
	return &Scheduler{
		config:       config,
		locker:       locker,
		store:        store,
		clock:        time.Now,
		sleep:        backoff.Sleep,
		jitter:       randomJitter,
		writeTimeout: DefaultWriteTimeout,
		jobs:         make(map[string]domain.Job),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithCronParser makes Register reject jobs whose cron does not parse and
// lets Jobs report each job's next fire time.
func (s *Scheduler) WithCronParser(p CronParser) *Scheduler {
	s.cron = p
	return s
}

// WithClock sets a custom clock function for testing.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// WithSleep replaces jitter and backoff waits for testing.
func (s *Scheduler) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Scheduler {
	s.sleep = sleep
	return s
}

// WithJitter replaces the random jitter source for testing.
func (s *Scheduler) WithJitter(jitter func(window time.Duration) time.Duration) *Scheduler {
	s.jitter = jitter
	return s
}

// Register adds a job. Names are unique for the scheduler's lifetime.
func (s *Scheduler) Register(job domain.Job) error {
	if job.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidJob)
	}
	if job.Handler == nil {
		return fmt.Errorf("%w: job %s has no handler", ErrInvalidJob, job.Name)
	}
	if s.cron != nil && job.Cron != "" {
		if err := s.cron.Validate(job.Cron); err != nil {
			return fmt.Errorf("%w: job %s: %v", ErrInvalidJob, job.Name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	s.jobs[job.Name] = job

	log.Info().Str("component", "scheduler").Str("job", job.Name).Str("cron", job.Cron).Msg("registered job")
	return nil
}

// Jobs lists registered jobs ordered by name. NextRun is set when a cron
// parser is configured and the job has a cron expression.
func (s *Scheduler) Jobs() []JobInfo {
	now := s.clock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{Name: j.Name, Cron: j.Cron, MaxRetries: s.maxAttempts(j)}
		if s.cron != nil && j.Cron != "" {
			if next, err := s.cron.NextRun(j.Cron, now); err == nil {
				info.NextRun = &next
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) job(name string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[name]
	return j, ok
}

func (s *Scheduler) maxAttempts(job domain.Job) int {
	if job.MaxRetries > 0 {
		return job.MaxRetries
	}
	return max(s.config.MaxRetries, 1)
}

// Run executes the named job once under its distributed lock.
//
// The lock is released on every exit path, including handler panics and
// cancellation. A run that exhausts its attempts writes one dead letter.
// The only error returned is ErrUnknownJob.
func (s *Scheduler) Run(ctx context.Context, name string, jc domain.JobContext) (domain.RunResult, error) {
	job, ok := s.job(name)
	if !ok {
		return domain.RunResult{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	if d := s.jitter(s.config.JitterWindow); d > 0 {
		if err := s.sleep(ctx, d); err != nil {
			return domain.RunResult{
				Job:    name,
				Status: domain.RunStatusSkipped,
				Reason: domain.CancellationReason(err),
			}, nil
		}
	}

	key := lock.KeyFor(name)
	acquired, err := s.locker.TryAcquire(ctx, key)
	if err != nil {
		s.lockAttempt(metrics.LockError)
		log.Error().Str("component", "scheduler").Str("job", name).Err(err).Msg("lock backend error")
		return domain.RunResult{Job: name, Status: domain.RunStatusSkipped, Reason: domain.ReasonLockError}, nil
	}
	if !acquired {
		s.lockAttempt(metrics.LockContended)
		s.jobEvent(name, metrics.JobEventSkippedLock)
		log.Info().Str("component", "scheduler").Str("job", name).Msg("lock held elsewhere, skipping")
		return domain.RunResult{Job: name, Status: domain.RunStatusSkipped, Reason: domain.ReasonLockNotAcquired}, nil
	}
	s.lockAttempt(metrics.LockAcquired)
	defer s.release(ctx, key, name)

	return s.execute(ctx, job, jc), nil
}

func (s *Scheduler) execute(ctx context.Context, job domain.Job, jc domain.JobContext) domain.RunResult {
	maxAttempts := s.maxAttempts(job)
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.JobDuration(job.Name, time.Since(start))
		}
	}()

	s.jobEvent(job.Name, metrics.JobEventStarted)
	log.Info().Str("component", "scheduler").Str("job", job.Name).Int("max_attempts", maxAttempts).Msg("job started")

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := backoff.Delay(backoff.Exponential, attempt-1)
			if err := s.sleep(ctx, delay); err != nil {
				return s.abandoned(job.Name, attempt-1, err)
			}
		}

		err := invoke(ctx, job.Handler, jc)
		if err == nil {
			s.jobEvent(job.Name, metrics.JobEventCompleted)
			log.Info().Str("component", "scheduler").Str("job", job.Name).Int("attempt", attempt).Msg("job completed")
			return domain.RunResult{Job: job.Name, Attempt: attempt, Status: domain.RunStatusCompleted}
		}
		lastErr = err
		log.Warn().Str("component", "scheduler").Str("job", job.Name).Int("attempt", attempt).Err(err).Msg("job attempt failed")
		if ctxErr := ctx.Err(); ctxErr != nil && attempt < maxAttempts {
			return s.abandoned(job.Name, attempt, ctxErr)
		}
	}

	now := s.clock()
	next := now.Add(backoff.Delay(backoff.Exponential, maxAttempts))
	reason := deadletter.ErrorReason(lastErr)
	s.writeDeadLetter(ctx, job.Name, jc, maxAttempts, reason, next, now)
	s.jobEvent(job.Name, metrics.JobEventFailed)

	return domain.RunResult{
		Job:           job.Name,
		Attempt:       maxAttempts,
		Status:        domain.RunStatusFailed,
		Reason:        reason,
		NextAttemptAt: &next,
	}
}

// abandoned is the result for a run cut short by cancellation. The budget
// was not exhausted, so no dead letter is written.
func (s *Scheduler) abandoned(name string, attempts int, err error) domain.RunResult {
	next := s.clock().Add(backoff.Delay(backoff.Exponential, attempts+1))
	reason := domain.CancellationReason(err)
	s.jobEvent(name, metrics.JobEventFailed)
	log.Warn().Str("component", "scheduler").Str("job", name).
		Int("attempts", attempts).Str("reason", reason).Msg("job abandoned")
	return domain.RunResult{
		Job:           name,
		Attempt:       attempts,
		Status:        domain.RunStatusFailed,
		Reason:        reason,
		NextAttemptAt: &next,
	}
}

// invoke calls the handler, converting a panic into an error.
func invoke(ctx context.Context, handler domain.JobHandler, jc domain.JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return handler(ctx, jc)
}

func (s *Scheduler) release(ctx context.Context, key int64, name string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lock.ReleaseTimeout)
	defer cancel()
	if err := s.locker.Release(rctx, key); err != nil {
		log.Error().Str("component", "scheduler").Str("job", name).Err(err).Msg("lock release failed")
	}
}

func (s *Scheduler) writeDeadLetter(ctx context.Context, name string, jc domain.JobContext, retryCount int, reason string, next, now time.Time) {
	entry, err := deadletter.NewEntry(domain.DeadLetterKindJob, jc.Payload, retryCount, reason, next, now)
	if err != nil {
		log.Error().Str("component", "scheduler").Str("job", name).Err(err).Msg("build dead letter")
		return
	}
	entry.JobName = name

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()
	if err := s.store.Persist(wctx, entry); err != nil {
		log.Error().Str("component", "scheduler").Str("job", name).Err(err).Msg("persist dead letter")
		return
	}
	if s.metrics != nil {
		s.metrics.DeadLetterWritten(string(domain.DeadLetterKindJob))
	}
	log.Warn().Str("component", "scheduler").Str("job", name).Str("dlq_id", entry.ID.String()).
		Int("retry_count", retryCount).Msg("dead-lettered after retry exhaustion")
}

func (s *Scheduler) jobEvent(job, event string) {
	if s.metrics != nil {
		s.metrics.JobEvent(job, event)
	}
}

func (s *Scheduler) lockAttempt(outcome string) {
	if s.metrics != nil {
		s.metrics.LockAttempt(outcome)
	}
}

func randomJitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return rand.N(window)
}
