package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// GlobalConfigFile is the KDL configuration file name.
const GlobalConfigFile = "config.kdl"

// KDLConfig represents the KDL configuration structure.
// Uses kdl struct tags for unmarshaling.
type KDLConfig struct {
	Version         string     `kdl:"version"`
	Agent           KDLAgent   `kdl:"agent"`
	Logging         KDLLogging `kdl:"logging"`
	Metrics         KDLMetrics `kdl:"metrics"`
	ShutdownTimeout int        `kdl:"shutdown-timeout"`
}

// KDLAgent holds agent settings. Intervals are in milliseconds.
type KDLAgent struct {
	Directory          string   `kdl:"directory"`
	OwnerNames         []string `kdl:"owner-names"`
	AllowCrossBitness  *bool    `kdl:"allow-cross-bitness"`
	WatchdogInterval   int      `kdl:"watchdog-interval"`
	WindowPollInterval int      `kdl:"window-poll-interval"`
	PipePrefix         string   `kdl:"pipe-prefix"`
}

// KDLLogging holds logging settings.
type KDLLogging struct {
	Level string `kdl:"level"`
	File  string `kdl:"file"`
}

// KDLMetrics holds metrics settings.
type KDLMetrics struct {
	Addr string `kdl:"addr"`
}

// LoadGlobalConfig loads the global configuration from the default location.
func LoadGlobalConfig() (*Config, error) {
	path := GlobalConfigPath()
	if path == "" {
		return DefaultConfig(), nil
	}

	// If file doesn't exist, return defaults
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	return LoadConfigFile(path)
}

// LoadConfigFile loads configuration from a specific file path.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseKDLConfig(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// ParseKDLConfig parses KDL configuration data.
func ParseKDLConfig(data string) (*Config, error) {
	var kdlCfg KDLConfig
	if err := kdl.Unmarshal([]byte(data), &kdlCfg); err != nil {
		return nil, err
	}

	cfg := kdlConfigToConfig(&kdlCfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// kdlConfigToConfig converts KDL config to our Config type.
func kdlConfigToConfig(kdlCfg *KDLConfig) *Config {
	cfg := DefaultConfig()

	if kdlCfg.Version != "" {
		cfg.Version = kdlCfg.Version
	}
	if kdlCfg.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = time.Duration(kdlCfg.ShutdownTimeout) * time.Second
	}

	// Agent
	a := kdlCfg.Agent
	if a.Directory != "" {
		cfg.Agent.Directory = a.Directory
	}
	if len(a.OwnerNames) > 0 {
		cfg.Agent.OwnerNames = a.OwnerNames
	}
	if a.AllowCrossBitness != nil {
		cfg.Agent.AllowCrossBitness = *a.AllowCrossBitness
	}
	if a.WatchdogInterval > 0 {
		cfg.Agent.WatchdogInterval = time.Duration(a.WatchdogInterval) * time.Millisecond
	}
	if a.WindowPollInterval > 0 {
		cfg.Agent.WindowPollInterval = time.Duration(a.WindowPollInterval) * time.Millisecond
	}
	if a.PipePrefix != "" {
		cfg.Agent.PipePrefix = a.PipePrefix
	}

	// Logging and metrics
	if kdlCfg.Logging.Level != "" {
		cfg.Logging.Level = kdlCfg.Logging.Level
	}
	cfg.Logging.File = kdlCfg.Logging.File
	cfg.Metrics.Addr = kdlCfg.Metrics.Addr

	return cfg
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(configDir, "tabcon", GlobalConfigFile)
}

// WriteDefaultConfig writes a default config file with documentation.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// tabcon Configuration

version "1.0"

agent {
    // Directory holding tabcon-agent32/64.dll and the injection helpers
    // (empty = next to tabcon.exe)
    directory ""
    // Executables the agent accepts as its owner
    owner-names "tabcon.exe"
    // Use the helper executable for targets of the other bitness
    allow-cross-bitness true
    // Title/environment polling interval in milliseconds
    watchdog-interval 2048
    // Console window polling interval in milliseconds
    window-poll-interval 50
    pipe-prefix "tabcon"
}

logging {
    // trace, debug, info, warn, error
    level "info"
    file ""
}

metrics {
    // Serve /metrics here, e.g. "127.0.0.1:9464" (empty = off)
    addr ""
}

// Seconds to wait for consoles to close on exit before killing them
shutdown-timeout 5
`
	// Create directory if needed
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(strings.TrimSpace(defaultKDL)+"\n"), 0644)
}
