package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/nanobot/pkg/agent"
	"github.com/spf13/viper"
)

const (
	dirName  = ".nanobot"
	fileName = "nanobot.json"
)

// keys that may be set from the environment without a config file, e.g.
// NANOBOT_GATEWAY_SHARED_SECRET
var envKeys = []string{
	"gateway.host",
	"gateway.port",
	"gateway.shared_secret",
	"storage.backend",
	"storage.driver",
	"storage.dsn",
	"guard.backend",
	"guard.address",
	"guard.password",
	"llm.default",
	"logging.level",
	"logging.file",
	"tracing.enabled",
	"tracing.otlp_endpoint",
	"data_dir",
	"audit_file",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads the config file, applies NANOBOT_* environment overrides and
// fills derived paths. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, errors.New("failed to get home directory")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("NANOBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	enableUnlessDisabled(cfg.Agents, v.Get("agents"))

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, dirName)
	}

	if cfg.Storage.Backend == StorageSQL && cfg.Storage.DSN == "" && isSQLite(cfg.Storage.Driver) {
		cfg.Storage.DSN = filepath.Join(cfg.DataDir, "nanobot.db")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "nanobot.log")
	}

	if cfg.AuditFile == "" {
		cfg.AuditFile = filepath.Join(cfg.DataDir, "audit.log")
	}

	if cfg.Agent.ProfilesFile != "" {
		path := cfg.Agent.ProfilesFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(configPath), path)
		}
		profiles, err := LoadAgentProfiles(path)
		if err != nil {
			return nil, err
		}
		cfg.Agents = MergeProfiles(profiles, cfg.Agents)
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, dirName, fileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// enableUnlessDisabled turns on inline profiles that leave "enabled" unset
func enableUnlessDisabled(profiles []agent.Profile, raw interface{}) {
	items, ok := raw.([]interface{})
	if !ok {
		return
	}
	for i, item := range items {
		if i >= len(profiles) {
			return
		}
		if m, ok := item.(map[string]interface{}); ok {
			if _, set := m["enabled"]; !set {
				profiles[i].Enabled = true
			}
		}
	}
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return true
	}
	return false
}
