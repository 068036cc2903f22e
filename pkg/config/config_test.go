package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("HTTP_SERVER_PORT", "8080")
	t.Setenv("LOGGER_LEVEL", "debug")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTP.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Kind)
	assert.Equal(t, 8, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, 4, cfg.Scheduler.MaxRetries)
	assert.Equal(t, float32(2), cfg.LOD.SubdivideThreshold)
	assert.Equal(t, float32(0.5), cfg.LOD.MergeRatio)
	assert.Equal(t, 2*time.Second, cfg.Frame.CleanupDelay)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
}

func TestNewOverrides(t *testing.T) {
	t.Setenv("HTTP_SERVER_PORT", "9000")
	t.Setenv("LOGGER_LEVEL", "info")
	t.Setenv("SCHEDULER_MAX_CONCURRENCY", "2")
	t.Setenv("LOD_MERGE_RATIO", "0.25")
	t.Setenv("STORE_KIND", "redis")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Scheduler.MaxConcurrency)
	assert.Equal(t, float32(0.25), cfg.LOD.MergeRatio)
	assert.Equal(t, "redis", cfg.Store.Kind)
}

func TestNewMissingRequired(t *testing.T) {
	t.Setenv("LOGGER_LEVEL", "info")

	_, err := New()
	assert.Error(t, err)
}
