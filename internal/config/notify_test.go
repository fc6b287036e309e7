package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/reflex/internal/notify"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadNotification_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := LoadNotification("")
	require.NoError(t, err)
	assert.Equal(t, notify.DefaultConfig(), cfg)
}

func TestLoadNotification_YAML(t *testing.T) {
	path := writeFile(t, "notify.yaml", `
rate_limits:
  slack_per_min: 10
  whatsapp_per_min: 5
  email_per_min: 20
quiet_hours:
  start_local: "22:00"
  end_local: "07:00"
  timezone: UTC
retry_policy:
  max_attempts: 4
  backoff_strategy: linear
coalesce_window_min: 2
`)

	cfg, err := LoadNotification(path)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.RateLimits.SlackPerMin)
	assert.Equal(t, 5, cfg.RateLimits.WhatsAppPerMin)
	assert.Equal(t, 20, cfg.RateLimits.EmailPerMin)
	assert.Equal(t, "22:00", cfg.QuietHours.StartLocal)
	assert.Equal(t, "07:00", cfg.QuietHours.EndLocal)
	assert.Equal(t, "UTC", cfg.QuietHours.Timezone)
	assert.Equal(t, 4, cfg.RetryPolicy.MaxAttempts)
	assert.Equal(t, "linear", cfg.RetryPolicy.BackoffStrategy)
	assert.Equal(t, 2, cfg.CoalesceWindowMin)
}

func TestLoadNotification_PartialKeepsDefaults(t *testing.T) {
	path := writeFile(t, "notify.yml", "coalesce_window_min: 0\n")

	cfg, err := LoadNotification(path)
	require.NoError(t, err)

	def := notify.DefaultConfig()
	assert.Equal(t, 0, cfg.CoalesceWindowMin)
	assert.Equal(t, def.RateLimits, cfg.RateLimits)
	assert.Equal(t, def.RetryPolicy, cfg.RetryPolicy)
}

func TestLoadNotification_EmptyYAMLFile(t *testing.T) {
	path := writeFile(t, "notify.yaml", "")

	cfg, err := LoadNotification(path)
	require.NoError(t, err)
	assert.Equal(t, notify.DefaultConfig(), cfg)
}

func TestLoadNotification_JSON(t *testing.T) {
	path := writeFile(t, "notify.json", `{"retry_policy": {"max_attempts": 1, "backoff_strategy": "exponential"}}`)

	cfg, err := LoadNotification(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.RetryPolicy.MaxAttempts)
}

func TestLoadNotification_UnknownField(t *testing.T) {
	path := writeFile(t, "notify.yaml", "rate_limit:\n  slack_per_min: 1\n")

	_, err := LoadNotification(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestLoadNotification_InvalidPolicy(t *testing.T) {
	path := writeFile(t, "notify.yaml", "retry_policy:\n  backoff_strategy: fibonacci\n")

	_, err := LoadNotification(path)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "backoff_strategy"), err.Error())
}

func TestLoadNotification_MissingFile(t *testing.T) {
	_, err := LoadNotification(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
