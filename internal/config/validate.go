package config

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/djlord-it/reflex/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if cfg.DatabaseURL == "" {
		add("DATABASE_URL", "required")
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		add("LOG_LEVEL", err.Error())
	}
	if cfg.LogFormat != "" && cfg.LogFormat != logging.FormatConsole && cfg.LogFormat != logging.FormatJSON {
		add("LOG_FORMAT", fmt.Sprintf("must be 'console' or 'json', got %q", cfg.LogFormat))
	}

	switch cfg.LockBackend {
	case "", LockBackendPostgres, LockBackendMemory:
	case LockBackendRedis:
		if cfg.RedisAddr == "" {
			add("REDIS_ADDR", "required when LOCK_BACKEND is 'redis'")
		}
	default:
		add("LOCK_BACKEND", fmt.Sprintf("must be 'postgres', 'redis' or 'memory', got %q", cfg.LockBackend))
	}

	positive := []struct {
		field string
		value string
	}{
		{"DB_OP_TIMEOUT", cfg.DBOpTimeoutStr},
		{"DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetimeStr},
		{"HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr},
		{"LOCK_TTL", cfg.LockTTLStr},
		{"REPLAY_INTERVAL", cfg.ReplayIntervalStr},
		{"CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr},
	}
	for _, p := range positive {
		if p.value == "" {
			continue
		}
		d, err := time.ParseDuration(p.value)
		if err != nil {
			add(p.field, fmt.Sprintf("invalid duration: %v", err))
		} else if d <= 0 {
			add(p.field, "must be positive")
		}
	}

	// A zero jitter window is allowed and disables jitter.
	if cfg.SchedulerJitterWindowStr != "" {
		d, err := time.ParseDuration(cfg.SchedulerJitterWindowStr)
		if err != nil {
			add("SCHEDULER_JITTER_WINDOW", fmt.Sprintf("invalid duration: %v", err))
		} else if d < 0 {
			add("SCHEDULER_JITTER_WINDOW", "must not be negative")
		}
	}

	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}
	if cfg.ReplayBatchSize < 0 {
		add("REPLAY_BATCH_SIZE", "must not be negative")
	}
	if cfg.JobDLQTable != "" && cfg.JobDLQTable == cfg.NotifyDLQTable {
		add("NOTIFY_DLQ_TABLE", "must differ from JOB_DLQ_TABLE")
	}

	webhooks := []struct {
		field string
		value string
	}{
		{"SLACK_WEBHOOK_URL", cfg.SlackWebhookURL},
		{"WHATSAPP_WEBHOOK_URL", cfg.WhatsAppWebhookURL},
		{"EMAIL_WEBHOOK_URL", cfg.EmailWebhookURL},
	}
	for _, w := range webhooks {
		if w.value == "" {
			continue
		}
		if _, err := parseWebhookURL(w.value); err != nil {
			add(w.field, err.Error())
		}
	}

	if cfg.TransportRatePerSecStr != "" {
		if r, err := strconv.ParseFloat(cfg.TransportRatePerSecStr, 64); err != nil {
			add("TRANSPORT_RATE_PER_SEC", fmt.Sprintf("invalid number %q", cfg.TransportRatePerSecStr))
		} else if r < 0 {
			add("TRANSPORT_RATE_PER_SEC", "must not be negative")
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func parseWebhookURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	return u, nil
}
