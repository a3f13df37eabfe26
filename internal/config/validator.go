package config

import (
	"fmt"
	"strings"
)

// Validator reports configuration problems that do not stop startup but
// usually mean a typo: key formats, out of range tuning values.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	provider = strings.ToLower(provider)
	if key == "" {
		if keylessProviders[provider] {
			return nil
		}
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai", "deepseek":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid %s API key format (should start with sk-)", provider)
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig collects every problem found in cfg
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	for i, p := range cfg.LLM.Profiles {
		if err := v.ValidateAPIKey(p.APIKey, p.Provider); err != nil {
			errs = append(errs, fmt.Errorf("llm profile %d (%s): %w", i, p.ID, err))
		}
		if p.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(p.MaxTokens); err != nil {
				errs = append(errs, fmt.Errorf("llm profile %d (%s): %w", i, p.ID, err))
			}
		}
	}

	for i, a := range cfg.Agents {
		if a.Temperature != 0 {
			if err := v.ValidateTemperature(a.Temperature); err != nil {
				errs = append(errs, fmt.Errorf("agent %d (%s): %w", i, a.ID, err))
			}
		}
		if a.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(a.MaxTokens); err != nil {
				errs = append(errs, fmt.Errorf("agent %d (%s): %w", i, a.ID, err))
			}
		}
		if a.MaxIterations < 0 {
			errs = append(errs, fmt.Errorf("agent %d (%s): max_iterations must be >= 0", i, a.ID))
		}
		if a.ContextWindow < 0 {
			errs = append(errs, fmt.Errorf("agent %d (%s): context_window must be >= 0", i, a.ID))
		}
	}

	if cfg.Registry.HeartbeatTimeout > 0 && cfg.Registry.HeartbeatTimeout < cfg.Registry.SweepInterval {
		errs = append(errs, fmt.Errorf("registry heartbeat_timeout (%s) is shorter than sweep_interval (%s)",
			cfg.Registry.HeartbeatTimeout, cfg.Registry.SweepInterval))
	}

	if cfg.Gateway.RateLimit.RequestsPerMinute < 0 || cfg.Gateway.RateLimit.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("gateway rate_limit values must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
