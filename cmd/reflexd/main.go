package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/djlord-it/reflex/internal/api"
	"github.com/djlord-it/reflex/internal/circuitbreaker"
	"github.com/djlord-it/reflex/internal/config"
	"github.com/djlord-it/reflex/internal/cron"
	"github.com/djlord-it/reflex/internal/logging"
	"github.com/djlord-it/reflex/internal/metrics"
	"github.com/djlord-it/reflex/internal/notify"
	"github.com/djlord-it/reflex/internal/replayer"
	"github.com/djlord-it/reflex/internal/scheduler"
	"github.com/djlord-it/reflex/internal/store/postgres"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`reflexd - reliable notification delivery and locked job runtime

Usage:
  reflexd <command>

Commands:
  serve      Start the gateway, scheduler, replayer and HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL              PostgreSQL connection string (required)
  REDIS_ADDR                Redis address for shared rate limits and locks (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", or ":$PORT")
  LOG_LEVEL                 trace|debug|info|warn|error (default: "info")
  LOG_FORMAT                console|json (default: "console")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path on HTTP_ADDR (default: "/metrics")

  LOCK_BACKEND              postgres|redis|memory (default: "postgres")
  LOCK_TTL                  Redis lock lease, refreshed while held (default: "5m")
  SCHEDULER_JITTER_WINDOW   Max random delay before a job attempt (default: "5s")

  REPLAY_ENABLED            Run the dead-letter replayer (default: "true")
  REPLAY_INTERVAL           Replay pass interval (default: "1m")
  REPLAY_BATCH_SIZE         Max entries per queue per pass (default: "50")
  JOB_DLQ_TABLE             Job dead-letter table (default: "runtime_job_dlq")
  NOTIFY_DLQ_TABLE          Notification dead-letter table (default: "notification_dlq")

  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a channel opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Open-circuit cooldown (default: "2m")

  SLACK_WEBHOOK_URL         Slack delivery endpoint (default: console transport)
  WHATSAPP_WEBHOOK_URL      WhatsApp delivery endpoint (default: console transport)
  EMAIL_WEBHOOK_URL         Email delivery endpoint (default: console transport)
  TRANSPORT_SECRET          HMAC key for X-Reflex-Signature
  TRANSPORT_RATE_PER_SEC    Client-side pacing per channel, 0 disables (default: "10")
  NOTIFY_CONFIG_FILE        YAML/JSON delivery policy (default: built-in policy)`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	notifyCfg, err := config.LoadNotification(cfg.NotifyConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	db, err := openDB(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	for _, table := range []string{cfg.JobDLQTable, cfg.NotifyDLQTable} {
		if err := probeDLQTable(db, table); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				fmt.Fprintf(os.Stderr, "dead-letter table %q not found; apply migrations/001_dead_letters.sql\n", table)
			} else {
				fmt.Fprintf(os.Stderr, "failed to probe dead-letter table %q: %v\n", table, err)
			}
			return exitRuntimeError
		}
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Info().Str("component", "reflexd").Str("path", cfg.MetricsPath).Msg("metrics enabled")
	}

	locker := newLocker(cfg, db, rdb)
	jobStore := postgres.New(db, cfg.JobDLQTable, cfg.DBOpTimeout)
	notifyStore := postgres.New(db, cfg.NotifyDLQTable, cfg.DBOpTimeout)

	gw, err := notify.New(notifyCfg, newTransports(cfg, sink), notifyStore, newLimiter(notifyCfg, rdb))
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	gw.WithMetrics(sink).WithReplayLock(locker, cfg.NotifyDLQTable)
	if cfg.CircuitBreakerThreshold > 0 {
		gw.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}

	cronParser := cron.NewParser()
	schedCfg := scheduler.DefaultConfig()
	schedCfg.JitterWindow = cfg.SchedulerJitterWindow
	schedCfg.Queue = cfg.JobDLQTable
	sched := scheduler.New(schedCfg, locker, jobStore).
		WithMetrics(sink).
		WithCronParser(cronParser)

	trigger := cron.NewTrigger(sched, cronParser)
	for _, job := range builtinJobs(db, map[string]backlogSource{
		cfg.JobDLQTable:    jobStore,
		cfg.NotifyDLQTable: notifyStore,
	}) {
		if err := sched.Register(job); err != nil {
			fmt.Fprintf(os.Stderr, "failed to register job %s: %v\n", job.Name, err)
			return exitRuntimeError
		}
		if err := trigger.Add(job.Name, job.Cron); err != nil {
			fmt.Fprintf(os.Stderr, "failed to schedule job %s: %v\n", job.Name, err)
			return exitRuntimeError
		}
	}

	rp := replayer.New(replayer.Config{
		Interval:  cfg.ReplayInterval,
		BatchSize: cfg.ReplayBatchSize,
	}).
		Add("scheduler", sched).
		Add("notifications", gw)

	apiHandler := api.NewHandler(gw, sched).
		WithReplayer(rp).
		WithHealthCheck("database", db.PingContext)
	if rdb != nil {
		apiHandler.WithHealthCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/", apiHandler)
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		log.Info().Str("component", "reflexd").Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("component", "reflexd").Msg("http server error")
		}
	}()

	trigger.Start()

	var replayerWg sync.WaitGroup
	var cancelReplayer context.CancelFunc
	if cfg.ReplayEnabled {
		var replayerCtx context.Context
		replayerCtx, cancelReplayer = context.WithCancel(context.Background())
		replayerWg.Add(1)
		go func() {
			defer replayerWg.Done()
			rp.Run(replayerCtx)
		}()
		log.Info().Str("component", "reflexd").
			Dur("interval", cfg.ReplayInterval).
			Int("batch", cfg.ReplayBatchSize).
			Msg("replayer enabled")
	}

	log.Info().Str("component", "reflexd").
		Str("version", version).
		Str("lock_backend", cfg.LockBackend).
		Str("http", cfg.HTTPAddr).
		Msg("started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Info().Str("component", "reflexd").Str("signal", received.String()).Msg("shutting down")

	// Phase 1: stop the trigger and wait for in-flight job runs.
	log.Info().Str("component", "reflexd").Msg("stopping trigger...")
	triggerCtx, triggerCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer triggerCancel()
	if err := trigger.Stop(triggerCtx); err != nil {
		log.Warn().Err(err).Str("component", "reflexd").Msg("trigger stop timed out")
	}

	// Phase 2: stop the replayer.
	if cancelReplayer != nil {
		log.Info().Str("component", "reflexd").Msg("stopping replayer...")
		cancelReplayer()
		replayerWg.Wait()
	}

	// Phase 3: stop the HTTP server, metrics included.
	log.Info().Str("component", "reflexd").Msg("stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Error().Err(err).Str("component", "reflexd").Msg("http server shutdown error")
	}

	log.Info().Str("component", "reflexd").Msg("stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	if _, err := config.LoadNotification(cfg.NotifyConfigFile); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(data))

	notifyCfg, err := config.LoadNotification(cfg.NotifyConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	data, err = json.MarshalIndent(notifyCfg, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal notification config: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("reflexd version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
