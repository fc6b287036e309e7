package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/djlord-it/reflex/internal/backoff"
	"github.com/djlord-it/reflex/internal/domain"
	"github.com/djlord-it/reflex/internal/quiethours"
	"github.com/djlord-it/reflex/internal/ratelimit"
)

// NotificationConfig is the delivery policy. It is read once when the
// gateway is constructed.
type NotificationConfig struct {
	RateLimits        RateLimits  `yaml:"rate_limits" json:"rate_limits"`
	QuietHours        QuietHours  `yaml:"quiet_hours" json:"quiet_hours"`
	RetryPolicy       RetryPolicy `yaml:"retry_policy" json:"retry_policy"`
	CoalesceWindowMin int         `yaml:"coalesce_window_min" json:"coalesce_window_min"`
}

// RateLimits are per-tenant sends per minute for each channel.
type RateLimits struct {
	SlackPerMin    int `yaml:"slack_per_min" json:"slack_per_min"`
	WhatsAppPerMin int `yaml:"whatsapp_per_min" json:"whatsapp_per_min"`
	EmailPerMin    int `yaml:"email_per_min" json:"email_per_min"`
}

func (r RateLimits) Limits() ratelimit.Limits {
	return ratelimit.Limits{
		domain.ChannelSlack:    r.SlackPerMin,
		domain.ChannelWhatsApp: r.WhatsAppPerMin,
		domain.ChannelEmail:    r.EmailPerMin,
	}
}

// QuietHours holds "HH:MM" boundaries. Both empty disables the guard.
// Timezone names the location used for NextWindow; empty means local time.
type QuietHours struct {
	StartLocal string `yaml:"start_local" json:"start_local"`
	EndLocal   string `yaml:"end_local" json:"end_local"`
	Timezone   string `yaml:"timezone" json:"timezone,omitempty"`
}

func (q QuietHours) enabled() bool {
	return q.StartLocal != "" || q.EndLocal != ""
}

// Guard builds the quiet-hours guard, or nil when quiet hours are disabled.
func (q QuietHours) Guard() (*quiethours.Guard, error) {
	if !q.enabled() {
		return nil, nil
	}
	var loc *time.Location
	if q.Timezone != "" {
		l, err := time.LoadLocation(q.Timezone)
		if err != nil {
			return nil, fmt.Errorf("quiet hours timezone: %w", err)
		}
		loc = l
	}
	return quiethours.New(q.StartLocal, q.EndLocal, loc)
}

type RetryPolicy struct {
	MaxAttempts     int    `yaml:"max_attempts" json:"max_attempts"`
	BackoffStrategy string `yaml:"backoff_strategy" json:"backoff_strategy"`
}

// DefaultConfig returns the policy used when no file is configured.
func DefaultConfig() NotificationConfig {
	return NotificationConfig{
		RateLimits: RateLimits{
			SlackPerMin:    60,
			WhatsAppPerMin: 30,
			EmailPerMin:    120,
		},
		RetryPolicy: RetryPolicy{
			MaxAttempts:     3,
			BackoffStrategy: string(backoff.Exponential),
		},
		CoalesceWindowMin: 5,
	}
}

// CoalesceWindow returns the dedup window as a duration.
func (c NotificationConfig) CoalesceWindow() time.Duration {
	return time.Duration(c.CoalesceWindowMin) * time.Minute
}

// Validate checks the policy and returns every problem found.
func (c NotificationConfig) Validate() error {
	var errs []error
	if c.RateLimits.SlackPerMin < 0 || c.RateLimits.WhatsAppPerMin < 0 || c.RateLimits.EmailPerMin < 0 {
		errs = append(errs, errors.New("rate_limits must not be negative"))
	}
	if c.QuietHours.enabled() {
		if _, err := c.QuietHours.Guard(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.RetryPolicy.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry_policy.max_attempts must not be negative"))
	}
	if _, err := backoff.Parse(c.RetryPolicy.BackoffStrategy); err != nil {
		errs = append(errs, fmt.Errorf("retry_policy.backoff_strategy: %w", err))
	}
	if c.CoalesceWindowMin < 0 {
		errs = append(errs, errors.New("coalesce_window_min must not be negative"))
	}
	return errors.Join(errs...)
}
