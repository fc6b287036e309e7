// Package replayer periodically drains due dead letters.
//
// Each registered target (the job scheduler, the notification gateway) owns
// its own queue and replay semantics; the replayer only decides when a pass
// runs and how many entries it may take. Targets coordinate across replicas
// through their replay lock, so every replica may run a replayer.
package replayer

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Target replays up to limit due entries and reports how many it cleared.
type Target interface {
	ReplayDLQ(ctx context.Context, limit int) (int, error)
}

// Config holds replayer configuration.
type Config struct {
	// Interval is how often a replay pass runs.
	// Default: 1 minute.
	Interval time.Duration

	// BatchSize is the maximum number of entries per target per pass.
	// Default: 50.
	BatchSize int
}

// DefaultConfig returns the default replayer configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  time.Minute,
		BatchSize: 50,
	}
}

type namedTarget struct {
	name   string
	target Target
}

// Replayer runs replay passes over its targets.
type Replayer struct {
	config  Config
	targets []namedTarget
}

// New creates a new Replayer.
func New(config Config) *Replayer {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	return &Replayer{config: config}
}

// Add registers a target under name. Must be called before Run.
func (r *Replayer) Add(name string, target Target) *Replayer {
	r.targets = append(r.targets, namedTarget{name: name, target: target})
	return r
}

// Run starts the replay loop. It blocks until ctx is cancelled.
func (r *Replayer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Info().Str("component", "replayer").Dur("interval", r.config.Interval).
		Int("batch", r.config.BatchSize).Int("targets", len(r.targets)).Msg("started")

	// Run immediately on startup, then on ticker
	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("component", "replayer").Msg("stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce runs one pass over every target and returns the number of
// entries cleared per target name. A failing target is logged and does
// not stop the others.
func (r *Replayer) RunOnce(ctx context.Context) map[string]int {
	cleared := make(map[string]int, len(r.targets))
	for _, t := range r.targets {
		if ctx.Err() != nil {
			log.Info().Str("component", "replayer").Msg("pass interrupted")
			return cleared
		}

		n, err := t.target.ReplayDLQ(ctx, r.config.BatchSize)
		cleared[t.name] = n
		if err != nil {
			// Store error: log and move on. Will retry next interval.
			log.Error().Str("component", "replayer").Str("target", t.name).Err(err).Msg("replay pass failed")
			continue
		}
		if n > 0 {
			log.Info().Str("component", "replayer").Str("target", t.name).Int("cleared", n).Msg("replay pass complete")
		}
	}
	return cleared
}
