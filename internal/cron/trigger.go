package cron

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/domain"
)

// Runner executes one named job run.
type Runner interface {
	Run(ctx context.Context, name string, jc domain.JobContext) (domain.RunResult, error)
}

// Trigger fires Runner.Run for each added job on its cron expression.
// A job whose previous run is still going is skipped for that tick.
type Trigger struct {
	cron   *cron.Cron
	runner Runner
	parser *Parser
	ctx    context.Context
	cancel context.CancelFunc
}

// NewTrigger creates a trigger evaluating expressions in the parser's
// location.
func NewTrigger(runner Runner, parser *Parser) *Trigger {
	logger := cronLogger{log: log.With().Str("component", "trigger").Logger()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Trigger{
		cron: cron.New(
			cron.WithParser(parser.parser),
			cron.WithLocation(parser.loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runner: runner,
		parser: parser,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules name on expression. Must be called before Start.
func (t *Trigger) Add(name, expression string) error {
	_, err := t.cron.AddFunc(expression, func() { t.fire(name) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (t *Trigger) fire(name string) {
	res, err := t.runner.Run(t.ctx, name, domain.JobContext{})
	if err != nil {
		log.Error().Str("component", "trigger").Str("job", name).Err(err).Msg("run failed")
		return
	}
	log.Debug().Str("component", "trigger").Str("job", name).
		Str("status", string(res.Status)).Str("reason", res.Reason).Msg("run finished")
}

// Start begins firing in a background goroutine.
func (t *Trigger) Start() {
	log.Info().Str("component", "trigger").Int("jobs", len(t.cron.Entries())).Msg("started")
	t.cron.Start()
}

// Stop prevents new runs, cancels in-flight runs and waits for them to
// return or for ctx to expire.
func (t *Trigger) Stop(ctx context.Context) error {
	done := t.cron.Stop()
	t.cancel()
	select {
	case <-done.Done():
		log.Info().Str("component", "trigger").Msg("stopped")
		return nil
	case <-ctx.Done():
		return errors.New("trigger: timed out waiting for running jobs")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
