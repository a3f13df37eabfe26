package config

import (
	"testing"
	"time"

	"github.com/harun/nanobot/pkg/agent"
	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		key      string
		provider string
		wantErr  bool
	}{
		{"valid anthropic key", "sk-ant-test123", "anthropic", false},
		{"invalid anthropic key", "invalid-key", "anthropic", true},
		{"valid openai key", "sk-test123", "openai", false},
		{"valid deepseek key", "sk-test123", "deepseek", false},
		{"invalid deepseek key", "ds-test", "deepseek", true},
		{"empty key", "", "anthropic", true},
		{"keyless provider", "", "ollama", false},
		{"other gollm provider", "gsk_abc", "groq", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateAPIKey(tt.key, tt.provider)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateRanges(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateTemperature(0.7))
	assert.Error(t, v.ValidateTemperature(2.5))
	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(0))
	assert.Error(t, v.ValidateMaxTokens(300000))
	assert.NoError(t, v.ValidateLogLevel("debug"))
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("valid", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(validConfig()))
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.LLM.Profiles[0].APIKey = "bad"
		cfg.Agents = []agent.Profile{{ID: "math", Temperature: 3, MaxIterations: -1}}
		cfg.Registry.HeartbeatTimeout = 10 * time.Second
		cfg.Logging.Level = "loud"

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 5)
	})
}
