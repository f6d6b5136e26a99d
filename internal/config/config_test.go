package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "TRIAL_DURATION", "PAIRING_TTL", "SWEEP_INTERVAL", "DATABASE_URL"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 48*time.Hour, cfg.TrialDuration)
	assert.Equal(t, 24*time.Hour, cfg.PairingTTL)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("TRIAL_DURATION", "72h")
	t.Setenv("PAIRING_TTL", "90")
	t.Setenv("SWEEP_INTERVAL", "not-a-duration")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_x")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 72*time.Hour, cfg.TrialDuration)
	assert.Equal(t, 90*time.Minute, cfg.PairingTTL)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, "whsec_x", cfg.StripeWebhookSecret)
}
