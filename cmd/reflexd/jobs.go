package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/domain"
)

// backlogLimit caps how many due entries the backlog job counts per queue.
const backlogLimit = 1000

type backlogSource interface {
	DueEntries(ctx context.Context, now time.Time, limit int) ([]domain.DeadLetter, error)
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// builtinJobs are the housekeeping jobs reflexd registers on startup.
func builtinJobs(db pinger, queues map[string]backlogSource) []domain.Job {
	return []domain.Job{
		{
			Name:    "dlq-backlog",
			Cron:    "*/5 * * * *",
			Handler: dlqBacklogHandler(queues, time.Now),
		},
		{
			Name:       "db-ping",
			Cron:       "@every 1m",
			Handler:    dbPingHandler(db),
			MaxRetries: 2,
		},
	}
}

// dlqBacklogHandler logs the number of due dead letters per queue.
func dlqBacklogHandler(queues map[string]backlogSource, now func() time.Time) domain.JobHandler {
	names := make([]string, 0, len(queues))
	for name := range queues {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(ctx context.Context, _ domain.JobContext) error {
		for _, name := range names {
			due, err := queues[name].DueEntries(ctx, now(), backlogLimit)
			if err != nil {
				return fmt.Errorf("count %s backlog: %w", name, err)
			}
			ev := log.Info()
			if len(due) > 0 {
				ev = log.Warn()
			}
			ev.Str("component", "reflexd").
				Str("queue", name).
				Int("due", len(due)).
				Bool("capped", len(due) == backlogLimit).
				Msg("dead-letter backlog")
		}
		return nil
	}
}

func dbPingHandler(db pinger) domain.JobHandler {
	return func(ctx context.Context, _ domain.JobContext) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping: %w", err)
		}
		return nil
	}
}
