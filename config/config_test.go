package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, int64(2048), cfg.MaxTokens)
	assert.Equal(t, 20, cfg.HistoryMax)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, 30*time.Minute, cfg.ValidateInterval)
	assert.Equal(t, 3*time.Minute, cfg.ConfirmTTL)
	assert.Equal(t, 2*time.Second, cfg.QuoteTTL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BROKERBOT_ADDR", ":9090")
	t.Setenv("BROKERBOT_MAX_TOKENS", "512")
	t.Setenv("BROKERBOT_CONFIRM_TTL", "90s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, int64(512), cfg.MaxTokens)
	assert.Equal(t, 90*time.Second, cfg.ConfirmTTL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("BROKERBOT_MAX_TOKENS", "lots")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("BROKERBOT_MAX_TOKENS", "100")
	t.Setenv("BROKERBOT_SESSION_TTL", "soon")
	_, err = Load()
	assert.Error(t, err)
}
