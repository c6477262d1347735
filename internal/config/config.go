// Package config contains configuration types for tabcon.
package config

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the complete tabcon configuration.
type Config struct {
	// Version is the config file version.
	Version string `json:"version"`

	// Agent configures injection and the in-target agent.
	Agent AgentSettings `json:"agent"`

	// Logging configures the log output.
	Logging LoggingSettings `json:"logging"`

	// Metrics configures the prometheus endpoint.
	Metrics MetricsSettings `json:"metrics"`

	// ShutdownTimeout bounds how long exit waits for consoles to close
	// before killing the ones tabcon started.
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// AgentSettings holds injection and agent settings.
type AgentSettings struct {
	// Directory holds the agent libraries and injection helpers. Empty
	// means the directory of the tabcon executable.
	Directory string `json:"directory,omitempty"`
	// OwnerNames are the executable names the agent accepts as owner.
	OwnerNames []string `json:"owner_names"`
	// AllowCrossBitness permits injecting through the helper executable.
	AllowCrossBitness bool `json:"allow_cross_bitness"`
	// WatchdogInterval is how often the agent polls for drift.
	WatchdogInterval time.Duration `json:"watchdog_interval"`
	// WindowPollInterval is how often the agent looks for its window.
	WindowPollInterval time.Duration `json:"window_poll_interval"`
	// PipePrefix is the leading component of channel names.
	PipePrefix string `json:"pipe_prefix"`
}

// LoggingSettings holds log output settings.
type LoggingSettings struct {
	// Level is a logrus level name.
	Level string `json:"level"`
	// File receives log output when set; stderr otherwise.
	File string `json:"file,omitempty"`
}

// MetricsSettings holds the prometheus endpoint settings.
type MetricsSettings struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `json:"addr,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Version: "1.0",
		Agent: AgentSettings{
			OwnerNames:         []string{"tabcon.exe"},
			AllowCrossBitness:  true,
			WatchdogInterval:   2048 * time.Millisecond,
			WindowPollInterval: 50 * time.Millisecond,
			PipePrefix:         "tabcon",
		},
		Logging: LoggingSettings{
			Level: "info",
		},
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration for errors and fills in defaults
// for values left at zero.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if len(c.Agent.OwnerNames) == 0 {
		c.Agent.OwnerNames = def.Agent.OwnerNames
	}
	if c.Agent.WatchdogInterval <= 0 {
		c.Agent.WatchdogInterval = def.Agent.WatchdogInterval
	}
	if c.Agent.WindowPollInterval <= 0 {
		c.Agent.WindowPollInterval = def.Agent.WindowPollInterval
	}
	if c.Agent.PipePrefix == "" {
		c.Agent.PipePrefix = def.Agent.PipePrefix
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Logging.Level, err)
	}
	return nil
}
