package agent

import (
	"errors"

	"github.com/harun/nanobot/pkg/memory"
	"github.com/harun/nanobot/pkg/toolexecutor"
)

const (
	// DefaultAgentID is the profile bound to sessions created implicitly by Chat
	DefaultAgentID = "general-assistant"

	// DefaultMaxIterations bounds one run when the profile sets no limit
	DefaultMaxIterations = 10

	// MaxIterationsMessage is the content of a run that hit its limit
	MaxIterationsMessage = "Reached maximum iterations without completion"
)

// ErrAgentNotFound is returned when no enabled profile matches
var ErrAgentNotFound = errors.New("agent not found")

// State is the terminal state of a run
type State string

const (
	StateCompleted State = "COMPLETED"
	StateError     State = "ERROR"
)

// ExecutionResult is the outcome of one run. It is not modified after Run returns.
type ExecutionResult struct {
	SessionID  string           `json:"sessionId"`
	Content    string           `json:"content"`
	History    []memory.Message `json:"history"`
	State      State            `json:"state"`
	Iterations int              `json:"iterations"`
}

// RunConfig is the model configuration of one request
type RunConfig struct {
	LLMProfile  string  `json:"llmProfile,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}

// Profile describes an agent: its persona, the capabilities it may use and
// the model it talks to.
type Profile struct {
	ID            string   `json:"id" yaml:"id" mapstructure:"id"`
	Name          string   `json:"name" yaml:"name" mapstructure:"name"`
	Description   string   `json:"description,omitempty" yaml:"description" mapstructure:"description"`
	SystemPrompt  string   `json:"systemPrompt,omitempty" yaml:"system_prompt" mapstructure:"system_prompt"`
	Tools         []string `json:"tools,omitempty" yaml:"tools" mapstructure:"tools"`
	DeniedTools   []string `json:"deniedTools,omitempty" yaml:"denied_tools" mapstructure:"denied_tools"`
	LLMProfile    string   `json:"llmProfile,omitempty" yaml:"llm_profile" mapstructure:"llm_profile"`
	Model         string   `json:"model,omitempty" yaml:"model" mapstructure:"model"`
	Temperature   float64  `json:"temperature,omitempty" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens     int      `json:"maxTokens,omitempty" yaml:"max_tokens" mapstructure:"max_tokens"`
	MaxIterations int      `json:"maxIterations,omitempty" yaml:"max_iterations" mapstructure:"max_iterations"`
	ContextWindow int      `json:"contextWindow,omitempty" yaml:"context_window" mapstructure:"context_window"`
	Enabled       bool     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// RunConfig returns the model configuration the profile asks for
func (p Profile) RunConfig() RunConfig {
	return RunConfig{
		LLMProfile:  p.LLMProfile,
		Model:       p.Model,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
	}
}

// ToolPolicy returns the capability filter of the profile. An empty Tools
// list allows everything not denied.
func (p Profile) ToolPolicy() *toolexecutor.ToolPolicy {
	return &toolexecutor.ToolPolicy{Allow: p.Tools, Deny: p.DeniedTools}
}

// DefaultProfile returns the built-in general assistant
func DefaultProfile() Profile {
	return Profile{
		ID:            DefaultAgentID,
		Name:          "General Assistant",
		Description:   "Answers questions and uses any available tool",
		SystemPrompt:  "You are a helpful assistant. Use the available tools when they help answer the user.",
		MaxIterations: DefaultMaxIterations,
		ContextWindow: memory.DefaultContextWindow,
		Enabled:       true,
	}
}
