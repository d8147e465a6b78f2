package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	opts, err := Load("agentflow")
	require.NoError(t, err)
	assert.Equal(t, "agentflow", opts.ServiceName)
	assert.Equal(t, "info", opts.LogLevel)
	assert.Equal(t, "text", opts.LogFormat)
	assert.Equal(t, "./checkpoints", opts.CheckpointDir)
	assert.Equal(t, 8088, opts.FanoutPort)
	assert.False(t, opts.EnableTracing)
}

func TestLoadReadsOverridesFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ENABLE_METRICS", "true")
	t.Setenv("FANOUT_PORT", "9001")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	opts, err := Load("agentflow")
	require.NoError(t, err)
	assert.Equal(t, "debug", opts.LogLevel)
	assert.True(t, opts.EnableMetrics)
	assert.Equal(t, 9001, opts.FanoutPort)
	assert.Equal(t, "localhost:6379", opts.RedisAddr)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	_, err := Load("agentflow")
	assert.Error(t, err)
}

func TestLoadRejectsInvalidFanoutPort(t *testing.T) {
	t.Setenv("FANOUT_PORT", "70000")
	_, err := Load("agentflow")
	assert.Error(t, err)
}

func TestValidateAcceptsEveryKnownLogLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		opts := &RuntimeOptions{LogLevel: level, FanoutPort: 8088}
		assert.NoError(t, opts.Validate())
	}
}
