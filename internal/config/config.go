package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	// DefaultProbeTimeoutMS bounds the liveness probe connect attempt.
	DefaultProbeTimeoutMS = 300

	// DefaultRPCTimeoutMS bounds an ordinary command round-trip.
	DefaultRPCTimeoutMS = 5_000

	// DefaultWaitTimeoutMS bounds calls that block until a remote session
	// finishes a turn (subscribe + wait).
	DefaultWaitTimeoutMS = 600_000
)

// Config holds the control-plane configuration. All fields have usable
// zero-value fallbacks so a missing or partial config file is fine.
type Config struct {
	// ControlDir overrides the directory holding session sockets and
	// alias symlinks. Empty means <home>/.sessionwire/control.
	ControlDir string `json:"control_dir,omitempty"`

	// ProbeTimeoutMS is the liveness probe timeout in milliseconds.
	ProbeTimeoutMS int `json:"probe_timeout_ms,omitempty"`

	// RPCTimeoutMS is the default client command timeout in milliseconds.
	RPCTimeoutMS int `json:"rpc_timeout_ms,omitempty"`

	// WaitTimeoutMS is the timeout for event-waiting calls in milliseconds.
	WaitTimeoutMS int `json:"wait_timeout_ms,omitempty"`

	// SummaryProvider selects the completion backend for get_summary:
	// "anthropic" or "openai". Empty means anthropic.
	SummaryProvider string `json:"summary_provider,omitempty"`

	// SummaryModel overrides the model used for get_summary. Empty means
	// the provider's default small model.
	SummaryModel string `json:"summary_model,omitempty"`

	LogLevel string `json:"log_level,omitempty"` // debug, info, warn, error, none
	LogPath  string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "linux":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "sessionwire")
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "sessionwire")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "sessionwire")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "sessionwire")
	}
}

// ConfigPath returns the path of the config file.
func ConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// Load reads the config file, applies environment overrides, and fills in
// defaults. A missing file is not an error.
func Load() (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(ConfigPath())
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", ConfigPath(), err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes the config file, creating the config directory if needed.
func (c *Config) Save() error {
	if err := os.MkdirAll(defaultConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(ConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("SESSIONWIRE_CONTROL_DIR")); v != "" {
		c.ControlDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SESSIONWIRE_LOG_LEVEL")); v != "" {
		c.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("SESSIONWIRE_SUMMARY_MODEL")); v != "" {
		c.SummaryModel = v
	}
	if v := strings.TrimSpace(os.Getenv("SESSIONWIRE_SUMMARY_PROVIDER")); v != "" {
		c.SummaryProvider = v
	}
}

func (c *Config) applyDefaults() {
	if c.ControlDir == "" {
		homeDir, _ := os.UserHomeDir()
		c.ControlDir = filepath.Join(homeDir, ".sessionwire", "control")
	}
	if c.ProbeTimeoutMS <= 0 {
		c.ProbeTimeoutMS = DefaultProbeTimeoutMS
	}
	if c.RPCTimeoutMS <= 0 {
		c.RPCTimeoutMS = DefaultRPCTimeoutMS
	}
	if c.WaitTimeoutMS <= 0 {
		c.WaitTimeoutMS = DefaultWaitTimeoutMS
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogPath == "" {
		c.LogPath = filepath.Join(defaultConfigDir(), "sessionwire.log")
	}
}

// ProbeTimeout returns the liveness probe timeout as a duration.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// RPCTimeout returns the default command timeout as a duration.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.RPCTimeoutMS) * time.Millisecond
}

// WaitTimeout returns the event-wait timeout as a duration.
func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutMS) * time.Millisecond
}
