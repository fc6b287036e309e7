package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/config"
	"github.com/djlord-it/reflex/internal/domain"
	"github.com/djlord-it/reflex/internal/lock"
	lockpg "github.com/djlord-it/reflex/internal/lock/postgres"
	lockredis "github.com/djlord-it/reflex/internal/lock/redis"
	"github.com/djlord-it/reflex/internal/metrics"
	"github.com/djlord-it/reflex/internal/notify"
	"github.com/djlord-it/reflex/internal/ratelimit"
	"github.com/djlord-it/reflex/internal/transport/console"
	"github.com/djlord-it/reflex/internal/transport/webhook"
)

func openDB(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	log.Info().Str("component", "reflexd").
		Int("max_open", cfg.DBMaxOpenConns).
		Int("max_idle", cfg.DBMaxIdleConns).
		Dur("max_lifetime", cfg.DBConnMaxLifetime).
		Msg("db pool configured")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// probeDLQTable returns sql.ErrNoRows when table does not exist.
func probeDLQTable(db *sql.DB, table string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var one int
	return db.QueryRowContext(ctx,
		`SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`,
		table,
	).Scan(&one)
}

func newLocker(cfg config.Config, db *sql.DB, rdb *redis.Client) lock.Locker {
	switch cfg.LockBackend {
	case config.LockBackendRedis:
		return lockredis.New(rdb, cfg.LockTTL)
	case config.LockBackendMemory:
		return lock.NewMemory()
	default:
		return lockpg.New(db)
	}
}

// newLimiter shares counters through Redis when it is configured.
func newLimiter(cfg notify.NotificationConfig, rdb *redis.Client) ratelimit.Limiter {
	limits := cfg.RateLimits.Limits()
	if rdb != nil {
		return ratelimit.NewRedis(rdb, limits)
	}
	return ratelimit.NewMemory(limits)
}

func newTransports(cfg config.Config, sink metrics.Sink) map[domain.Channel]notify.Transport {
	urls := map[domain.Channel]string{
		domain.ChannelSlack:    cfg.SlackWebhookURL,
		domain.ChannelWhatsApp: cfg.WhatsAppWebhookURL,
		domain.ChannelEmail:    cfg.EmailWebhookURL,
	}

	// Senders share one client so connections to a common host are pooled.
	client := &http.Client{Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}}

	transports := make(map[domain.Channel]notify.Transport, len(urls))
	for _, ch := range domain.Channels {
		url := urls[ch]
		if url == "" {
			transports[ch] = console.New()
			continue
		}
		transports[ch] = webhook.New(url, cfg.TransportSecret).
			WithHTTPClient(client).
			WithRate(cfg.TransportRatePerSec).
			WithMetrics(sink)
	}
	return transports
}

// logConfigWarnings surfaces risky but valid combinations at startup.
func logConfigWarnings(cfg *config.Config) {
	l := log.With().Str("component", "reflexd").Logger()

	if cfg.LockBackend == config.LockBackendMemory {
		l.Warn().Msg("WARNING [P0]: LOCK_BACKEND=memory; job locks are per-process, run a single instance only")
	}
	if !cfg.ReplayEnabled {
		l.Warn().Msg("WARNING [P0]: REPLAY_ENABLED=false; dead letters accumulate until replayed via POST /v1/dlq/replay")
	}
	if !cfg.MetricsEnabled {
		l.Warn().Msg("WARNING [P1]: METRICS_ENABLED=false; delivery and lock contention are not observable")
	}
	if cfg.RedisAddr == "" {
		l.Info().Msg("INFO: REDIS_ADDR not set; rate limits are counted per process")
	}

	anyWebhook := false
	for name, url := range map[string]string{
		"SLACK_WEBHOOK_URL":    cfg.SlackWebhookURL,
		"WHATSAPP_WEBHOOK_URL": cfg.WhatsAppWebhookURL,
		"EMAIL_WEBHOOK_URL":    cfg.EmailWebhookURL,
	} {
		if url == "" {
			l.Info().Msgf("INFO: %s not set; channel uses the console transport", name)
			continue
		}
		anyWebhook = true
	}
	if anyWebhook && cfg.TransportSecret == "" {
		l.Warn().Msg("WARNING [P1]: TRANSPORT_SECRET empty; webhook signatures use an empty key")
	}
	if cfg.CircuitBreakerThreshold == 0 {
		l.Info().Msg("INFO: CIRCUIT_BREAKER_THRESHOLD=0; circuit breaker disabled")
	}
}
