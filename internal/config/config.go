package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Lock backends.
const (
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
	LockBackendMemory   = "memory"
)

// Config holds all configuration for reflexd.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// LockBackend: "postgres" (advisory locks), "redis" (SET NX) or "memory" (single process).
	LockBackend string        `json:"lock_backend"`
	LockTTL     time.Duration `json:"-"`
	LockTTLStr  string        `json:"lock_ttl"`

	SchedulerJitterWindow    time.Duration `json:"-"`
	SchedulerJitterWindowStr string        `json:"scheduler_jitter_window"`

	ReplayEnabled     bool          `json:"replay_enabled"`
	ReplayInterval    time.Duration `json:"-"`
	ReplayIntervalStr string        `json:"replay_interval"`
	ReplayBatchSize   int           `json:"replay_batch_size"`

	JobDLQTable    string `json:"job_dlq_table"`
	NotifyDLQTable string `json:"notify_dlq_table"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// Channels without a webhook URL fall back to the console transport.
	SlackWebhookURL    string `json:"slack_webhook_url,omitempty"`
	WhatsAppWebhookURL string `json:"whatsapp_webhook_url,omitempty"`
	EmailWebhookURL    string `json:"email_webhook_url,omitempty"`
	TransportSecret    string `json:"transport_secret,omitempty"`

	// TransportRatePerSec: 0 disables client-side pacing.
	TransportRatePerSec    float64 `json:"-"`
	TransportRatePerSecStr string  `json:"transport_rate_per_sec"`

	NotifyConfigFile string `json:"notify_config_file,omitempty"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		LogLevel:                  os.Getenv("LOG_LEVEL"),
		LogFormat:                 os.Getenv("LOG_FORMAT"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:      os.Getenv("DB_CONN_MAX_LIFETIME"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		LockBackend:               os.Getenv("LOCK_BACKEND"),
		LockTTLStr:                os.Getenv("LOCK_TTL"),
		SchedulerJitterWindowStr:  os.Getenv("SCHEDULER_JITTER_WINDOW"),
		ReplayEnabled:             os.Getenv("REPLAY_ENABLED") != "false",
		ReplayIntervalStr:         os.Getenv("REPLAY_INTERVAL"),
		JobDLQTable:               os.Getenv("JOB_DLQ_TABLE"),
		NotifyDLQTable:            os.Getenv("NOTIFY_DLQ_TABLE"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		SlackWebhookURL:           os.Getenv("SLACK_WEBHOOK_URL"),
		WhatsAppWebhookURL:        os.Getenv("WHATSAPP_WEBHOOK_URL"),
		EmailWebhookURL:           os.Getenv("EMAIL_WEBHOOK_URL"),
		TransportSecret:           os.Getenv("TRANSPORT_SECRET"),
		TransportRatePerSecStr:    os.Getenv("TRANSPORT_RATE_PER_SEC"),
		NotifyConfigFile:          os.Getenv("NOTIFY_CONFIG_FILE"),
	}

	if batchStr := os.Getenv("REPLAY_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.ReplayBatchSize = batch
		} else {
			log.Warn().Str("component", "config").Str("value", batchStr).
				Msg("invalid REPLAY_BATCH_SIZE (must be a positive integer), using default 50")
		}
	}
	if cfg.ReplayBatchSize == 0 {
		cfg.ReplayBatchSize = 50
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Warn().Str("component", "config").Str("value", cbThreshStr).
				Msg("invalid CIRCUIT_BREAKER_THRESHOLD, using default 5")
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// PORT is honoured as a fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.LockBackend == "" {
		cfg.LockBackend = LockBackendPostgres
	}
	if cfg.LockTTLStr == "" {
		cfg.LockTTLStr = "5m"
	}
	if cfg.SchedulerJitterWindowStr == "" {
		cfg.SchedulerJitterWindowStr = "5s"
	}
	if cfg.ReplayIntervalStr == "" {
		cfg.ReplayIntervalStr = "1m"
	}
	if cfg.JobDLQTable == "" {
		cfg.JobDLQTable = "runtime_job_dlq"
	}
	if cfg.NotifyDLQTable == "" {
		cfg.NotifyDLQTable = "notification_dlq"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.TransportRatePerSecStr == "" {
		cfg.TransportRatePerSecStr = "10"
	}

	// Parse values; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.LockTTLStr); err == nil {
		cfg.LockTTL = d
	}
	if d, err := time.ParseDuration(cfg.SchedulerJitterWindowStr); err == nil {
		cfg.SchedulerJitterWindow = d
	}
	if d, err := time.ParseDuration(cfg.ReplayIntervalStr); err == nil {
		cfg.ReplayInterval = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if r, err := strconv.ParseFloat(cfg.TransportRatePerSecStr, 64); err == nil {
		cfg.TransportRatePerSec = r
	}

	return cfg
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.SlackWebhookURL = maskURL(c.SlackWebhookURL)
	masked.WhatsAppWebhookURL = maskURL(c.WhatsAppWebhookURL)
	masked.EmailWebhookURL = maskURL(c.EmailWebhookURL)
	masked.TransportSecret = maskSecret(c.TransportSecret)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}

// maskURL keeps only the scheme and host.
func maskURL(s string) string {
	if s == "" {
		return ""
	}
	u, err := parseWebhookURL(s)
	if err != nil {
		return "***"
	}
	return u.Scheme + "://" + u.Host + "/***"
}
