package config

import (
	"testing"

	"github.com/harun/nanobot/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Storage.DSN = "file::memory:"
	cfg.LLM.Profiles = []agent.LLMProfile{
		{ID: "deepseek", Provider: "deepseek", APIKey: "sk-test", Model: "deepseek-chat"},
		{ID: "local", Provider: "ollama", Model: "llama3"},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 18789, cfg.Gateway.Port)
	assert.Equal(t, 60, cfg.Gateway.RateLimit.RequestsPerMinute)
	assert.Equal(t, StorageSQL, cfg.Storage.Backend)
	assert.Equal(t, "sqlite3", cfg.Storage.Driver)
	assert.Equal(t, GuardLocal, cfg.Guard.Backend)
	assert.Equal(t, "30s", cfg.Registry.SweepInterval.String())
	assert.Equal(t, "1m30s", cfg.Registry.HeartbeatTimeout.String())
	assert.False(t, cfg.Tracing.Enabled)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Gateway.Port = 0 },
			wantErr: "gateway port",
		},
		{
			name:    "no llm profiles",
			mutate:  func(c *Config) { c.LLM.Profiles = nil },
			wantErr: "at least one llm profile",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.LLM.Profiles[0].APIKey = "" },
			wantErr: "api_key is required",
		},
		{
			name:    "duplicate llm profile",
			mutate:  func(c *Config) { c.LLM.Profiles[1].ID = "deepseek" },
			wantErr: "duplicate id",
		},
		{
			name:    "unknown default llm",
			mutate:  func(c *Config) { c.LLM.Default = "gpt" },
			wantErr: "default llm profile not found",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "s3" },
			wantErr: "invalid storage backend",
		},
		{
			name:    "unsupported driver",
			mutate:  func(c *Config) { c.Storage.Driver = "postgres" },
			wantErr: "unsupported storage driver",
		},
		{
			name:    "memory backend needs no dsn",
			mutate:  func(c *Config) { c.Storage.Backend = StorageMemory; c.Storage.DSN = "" },
			wantErr: "",
		},
		{
			name:    "redis guard without address",
			mutate:  func(c *Config) { c.Guard.Backend = GuardRedis },
			wantErr: "guard address is required",
		},
		{
			name: "agent with unknown llm profile",
			mutate: func(c *Config) {
				c.Agents = []agent.Profile{{ID: "math", LLMProfile: "gpt"}}
			},
			wantErr: "unknown llm profile",
		},
		{
			name: "duplicate agent",
			mutate: func(c *Config) {
				c.Agents = []agent.Profile{{ID: "math"}, {ID: "math"}}
			},
			wantErr: "duplicate id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.SharedSecret = "gateway-secret"
	cfg.Guard.Password = "redis-pass"

	out := cfg.String()
	assert.NotContains(t, out, "gateway-secret")
	assert.NotContains(t, out, "redis-pass")
	assert.NotContains(t, out, "sk-test")
	assert.Equal(t, "sk-test", cfg.LLM.Profiles[0].APIKey)
}
