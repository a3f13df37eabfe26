package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/harun/nanobot/internal/logger"
	"github.com/harun/nanobot/internal/tracing"
	"github.com/harun/nanobot/pkg/agent"
	"github.com/harun/nanobot/pkg/gateway"
	"github.com/harun/nanobot/pkg/registry"
	"github.com/harun/nanobot/pkg/session"
	"github.com/harun/nanobot/pkg/storage"
)

// Storage backends for conversation history and session records
const (
	StorageMemory = "memory"
	StorageSQL    = "sql"
)

// Session guard backends
const (
	GuardLocal = "local"
	GuardRedis = "redis"
)

// Config represents the main nanobot configuration
type Config struct {
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Provider liveness
	Registry registry.Config `json:"registry" mapstructure:"registry"`

	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`

	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	Guard GuardConfig `json:"guard" mapstructure:"guard"`

	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	Logging logger.Config `json:"logging" mapstructure:"logging"`

	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// JSON-lines audit trail of dispatches, provider transitions and auth
	AuditFile string `json:"audit_file,omitempty" mapstructure:"audit_file"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Agent profiles declared inline; merged with agent.profiles_file
	Agents []agent.Profile `json:"agents" mapstructure:"agents"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host            string            `json:"host" mapstructure:"host"`
	Port            int               `json:"port" mapstructure:"port"`
	SharedSecret    string            `json:"shared_secret" mapstructure:"shared_secret"`
	RateLimit       gateway.RateLimit `json:"rate_limit" mapstructure:"rate_limit"`
	TickInterval    time.Duration     `json:"tick_interval" mapstructure:"tick_interval"`
	ShutdownTimeout time.Duration     `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DispatchConfig tunes local and remote tool execution
type DispatchConfig struct {
	ToolTimeout    time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// AgentConfig holds agent runtime settings
type AgentConfig struct {
	ProfilesFile  string        `json:"profiles_file,omitempty" mapstructure:"profiles_file"`
	StreamTimeout time.Duration `json:"stream_timeout" mapstructure:"stream_timeout"`
	EventBuffer   int           `json:"event_buffer" mapstructure:"event_buffer"`

	// Sessions idle this long are closed; zero keeps them open
	SessionIdleTimeout time.Duration `json:"session_idle_timeout" mapstructure:"session_idle_timeout"`
}

// StorageConfig selects where history and session records live. The SQL
// fields are used only by the sql backend.
type StorageConfig struct {
	Backend        string `json:"backend" mapstructure:"backend"`
	storage.Config `mapstructure:",squash"`
}

// GuardConfig selects the session guard
type GuardConfig struct {
	Backend   string        `json:"backend" mapstructure:"backend"`
	Address   string        `json:"address,omitempty" mapstructure:"address"`
	Password  string        `json:"password,omitempty" mapstructure:"password"`
	DB        int           `json:"db,omitempty" mapstructure:"db"`
	KeyPrefix string        `json:"key_prefix,omitempty" mapstructure:"key_prefix"`
	LeaseTTL  time.Duration `json:"lease_ttl,omitempty" mapstructure:"lease_ttl"`
}

// LLMConfig lists the model endpoints agents may use
type LLMConfig struct {
	Default  string             `json:"default" mapstructure:"default"`
	Profiles []agent.LLMProfile `json:"profiles" mapstructure:"profiles"`
}

// TracingConfig enables OpenTelemetry spans
type TracingConfig struct {
	Enabled        bool `json:"enabled" mapstructure:"enabled"`
	tracing.Config `mapstructure:",squash"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18789,
			RateLimit:       gateway.DefaultRateLimit(),
			TickInterval:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Registry: registry.DefaultConfig(),
		Dispatch: DispatchConfig{
			ToolTimeout:    30 * time.Second,
			ConnectTimeout: 10 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Agent: AgentConfig{
			StreamTimeout:      agent.DefaultStreamTimeout,
			EventBuffer:        64,
			SessionIdleTimeout: session.DefaultIdleTimeout,
		},
		Storage: StorageConfig{
			Backend: StorageSQL,
			Config: storage.Config{
				Driver: string(storage.DialectSQLite),
			},
		},
		Guard: GuardConfig{
			Backend:   GuardLocal,
			KeyPrefix: "nanobot:session:",
			LeaseTTL:  10 * time.Minute,
		},
		Logging: logger.Config{
			Level:     "info",
			Console:   true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Config: tracing.Config{
				ServiceName: "nanobot",
				SampleRatio: 1,
			},
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Gateway.SharedSecret != "" {
		masked.Gateway.SharedSecret = "***"
	}
	if masked.Guard.Password != "" {
		masked.Guard.Password = "***"
	}
	masked.LLM.Profiles = make([]agent.LLMProfile, len(c.LLM.Profiles))
	for i, p := range c.LLM.Profiles {
		if p.APIKey != "" {
			p.APIKey = "***"
		}
		masked.LLM.Profiles[i] = p
	}

	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	if c.Registry.SweepInterval <= 0 || c.Registry.HeartbeatTimeout <= 0 {
		return fmt.Errorf("registry sweep_interval and heartbeat_timeout must be positive")
	}

	if len(c.LLM.Profiles) == 0 {
		return fmt.Errorf("no LLM credentials configured: at least one llm profile is required")
	}
	llmIDs := make(map[string]bool, len(c.LLM.Profiles))
	for i, p := range c.LLM.Profiles {
		if p.ID == "" {
			return fmt.Errorf("llm profile %d: id is required", i)
		}
		if llmIDs[p.ID] {
			return fmt.Errorf("llm profile %s: duplicate id", p.ID)
		}
		llmIDs[p.ID] = true
		if p.Provider == "" {
			return fmt.Errorf("llm profile %s: provider is required", p.ID)
		}
		if p.APIKey == "" && !keylessProviders[strings.ToLower(p.Provider)] {
			return fmt.Errorf("llm profile %s: api_key is required", p.ID)
		}
	}
	if c.LLM.Default != "" && !llmIDs[c.LLM.Default] {
		return fmt.Errorf("default llm profile not found: %s", c.LLM.Default)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageSQL:
		switch storage.Dialect(strings.ToLower(c.Storage.Driver)) {
		case storage.DialectSQLite, storage.DialectMySQL:
		default:
			return fmt.Errorf("unsupported storage driver: %s", c.Storage.Driver)
		}
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage dsn is required for the sql backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be: memory, sql)", c.Storage.Backend)
	}

	switch c.Guard.Backend {
	case GuardLocal:
	case GuardRedis:
		if c.Guard.Address == "" {
			return fmt.Errorf("guard address is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid guard backend: %s (must be: local, redis)", c.Guard.Backend)
	}

	agentIDs := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent %d: id is required", i)
		}
		if agentIDs[a.ID] {
			return fmt.Errorf("agent %s: duplicate id", a.ID)
		}
		agentIDs[a.ID] = true
		if a.LLMProfile != "" && !llmIDs[a.LLMProfile] {
			return fmt.Errorf("agent %s: unknown llm profile %s", a.ID, a.LLMProfile)
		}
	}

	return nil
}

// providers reached without credentials
var keylessProviders = map[string]bool{
	"ollama": true,
}
