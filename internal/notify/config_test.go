package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/reflex/internal/domain"
)

func TestDefaultConfig_Valid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestNotificationConfig_ValidateCollectsErrors(t *testing.T) {
	cfg := NotificationConfig{
		RateLimits:        RateLimits{SlackPerMin: -1},
		QuietHours:        QuietHours{StartLocal: "22:00", EndLocal: "6pm"},
		RetryPolicy:       RetryPolicy{MaxAttempts: -2, BackoffStrategy: "random"},
		CoalesceWindowMin: -5,
	}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"rate_limits", "quiet hours end", "max_attempts", "backoff_strategy", "coalesce_window_min"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestQuietHours_DisabledWhenEmpty(t *testing.T) {
	g, err := QuietHours{}.Guard()
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestQuietHours_UnknownTimezone(t *testing.T) {
	_, err := QuietHours{StartLocal: "22:00", EndLocal: "06:00", Timezone: "Mars/Olympus"}.Guard()
	assert.Error(t, err)
}

func TestRateLimits_Limits(t *testing.T) {
	limits := RateLimits{SlackPerMin: 1, WhatsAppPerMin: 2, EmailPerMin: 3}.Limits()
	assert.Equal(t, 1, limits.For(domain.ChannelSlack))
	assert.Equal(t, 2, limits.For(domain.ChannelWhatsApp))
	assert.Equal(t, 3, limits.For(domain.ChannelEmail))
}

func TestCoalesceWindow(t *testing.T) {
	assert.Equal(t, 15*time.Minute, NotificationConfig{CoalesceWindowMin: 15}.CoalesceWindow())
}
