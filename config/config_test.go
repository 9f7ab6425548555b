package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Engine.PollInterval)
	assert.Equal(t, "@every 30s", cfg.Scheduler.TickSpec)
	assert.Equal(t, "5", cfg.Scheduler.SpikeThresholdPct)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Database.URL)
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("MARTINGALIAN_ENGINE_WORKERS", "3")
	t.Setenv("MARTINGALIAN_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsBadWorkers(t *testing.T) {
	t.Setenv("MARTINGALIAN_ENGINE_WORKERS", "0")

	_, err := Load("")
	assert.Error(t, err)
}
