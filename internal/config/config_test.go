package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsApplied(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.NotEmpty(t, cfg.ControlDir)
	assert.Equal(t, DefaultProbeTimeoutMS, cfg.ProbeTimeoutMS)
	assert.Equal(t, DefaultRPCTimeoutMS, cfg.RPCTimeoutMS)
	assert.Equal(t, DefaultWaitTimeoutMS, cfg.WaitTimeoutMS)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestExplicitValuesSurviveDefaults(t *testing.T) {
	cfg := &Config{
		ControlDir:     "/tmp/ctl",
		ProbeTimeoutMS: 50,
		RPCTimeoutMS:   1000,
		LogLevel:       "debug",
	}
	cfg.applyDefaults()

	assert.Equal(t, "/tmp/ctl", cfg.ControlDir)
	assert.Equal(t, 50, cfg.ProbeTimeoutMS)
	assert.Equal(t, 1000, cfg.RPCTimeoutMS)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SESSIONWIRE_CONTROL_DIR", "/run/ctl")
	t.Setenv("SESSIONWIRE_SUMMARY_MODEL", "claude-3-5-haiku-20241022")
	t.Setenv("SESSIONWIRE_SUMMARY_PROVIDER", "anthropic")

	cfg := &Config{ControlDir: "/tmp/other"}
	cfg.applyEnv()

	assert.Equal(t, "/run/ctl", cfg.ControlDir)
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.SummaryModel)
	assert.Equal(t, "anthropic", cfg.SummaryProvider)
}

func TestTimeoutConversions(t *testing.T) {
	cfg := &Config{ProbeTimeoutMS: 250, RPCTimeoutMS: 3000, WaitTimeoutMS: 60000}

	require.Equal(t, 250*time.Millisecond, cfg.ProbeTimeout())
	require.Equal(t, 3*time.Second, cfg.RPCTimeout())
	require.Equal(t, time.Minute, cfg.WaitTimeout())
}
