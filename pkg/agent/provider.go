package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harun/nanobot/pkg/memory"
	"github.com/harun/nanobot/pkg/toolexecutor"
)

// LLMGateway turns a conversation into the model's next reply
type LLMGateway interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// ChatRequest is one model call. Messages is the working context of the
// conversation, system messages included.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []memory.Message
	Capabilities []toolexecutor.Capability
	Temperature  float64
	MaxTokens    int
}

// LLMProfile names a model endpoint and its credentials
type LLMProfile struct {
	ID          string  `json:"id" mapstructure:"id"`
	Provider    string  `json:"provider" mapstructure:"provider"` // openai, deepseek, anthropic, or any gollm provider
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url,omitempty" mapstructure:"base_url"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
}

const deepSeekBaseURL = "https://api.deepseek.com/v1"

// GatewaySource resolves an LLM profile name to a gateway
type GatewaySource interface {
	Gateway(profile string) (LLMGateway, error)
}

// GatewayFactory builds gateways from LLM profiles and caches them. An
// empty profile name resolves to the default profile.
type GatewayFactory struct {
	profiles map[string]LLMProfile
	def      string

	mu       sync.Mutex
	gateways map[string]LLMGateway
}

// NewGatewayFactory creates a factory over profiles. defaultProfile must name
// one of them.
func NewGatewayFactory(profiles []LLMProfile, defaultProfile string) (*GatewayFactory, error) {
	if len(profiles) == 0 {
		return nil, errors.New("at least one llm profile is required")
	}

	byID := make(map[string]LLMProfile, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			return nil, errors.New("llm profile id is required")
		}
		byID[p.ID] = p
	}

	if defaultProfile == "" {
		defaultProfile = profiles[0].ID
	}
	if _, ok := byID[defaultProfile]; !ok {
		return nil, fmt.Errorf("default llm profile not found: %s", defaultProfile)
	}

	return &GatewayFactory{
		profiles: byID,
		def:      defaultProfile,
		gateways: make(map[string]LLMGateway),
	}, nil
}

// Gateway returns the gateway of the named profile
func (f *GatewayFactory) Gateway(profile string) (LLMGateway, error) {
	if profile == "" {
		profile = f.def
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if gw, ok := f.gateways[profile]; ok {
		return gw, nil
	}

	p, ok := f.profiles[profile]
	if !ok {
		return nil, fmt.Errorf("llm profile not found: %s", profile)
	}

	gw, err := NewGateway(p)
	if err != nil {
		return nil, err
	}
	f.gateways[profile] = gw
	return gw, nil
}

// Profiles lists the configured profile ids
func (f *GatewayFactory) Profiles() []string {
	ids := make([]string, 0, len(f.profiles))
	for id := range f.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewGateway creates the gateway for one profile
func NewGateway(p LLMProfile) (LLMGateway, error) {
	switch strings.ToLower(p.Provider) {
	case "openai":
		return NewOpenAIGateway(p), nil
	case "deepseek":
		if p.BaseURL == "" {
			p.BaseURL = deepSeekBaseURL
		}
		return NewOpenAIGateway(p), nil
	case "anthropic":
		return NewAnthropicGateway(p), nil
	case "":
		return nil, fmt.Errorf("llm profile %s has no provider", p.ID)
	default:
		return NewGollmGateway(p)
	}
}

// turn is a message as the chat endpoints see it. Only user and assistant
// roles remain; system text is lifted out.
type turn struct {
	role    memory.Role
	content string
}

// conversation flattens req into a system text and alternating turns. Tool
// observations become user turns since the loop does not use native tool
// calling.
func conversation(req ChatRequest) (string, []turn) {
	var system []string
	var turns []turn

	for _, m := range req.Messages {
		switch m.Role {
		case memory.RoleSystem:
			system = append(system, m.Content)
			continue
		case memory.RoleTool:
			turns = appendTurn(turns, memory.RoleUser, fmt.Sprintf("Observation from %s: %s", m.ToolName, m.Content))
		case memory.RoleAssistant:
			turns = appendTurn(turns, memory.RoleAssistant, m.Content)
		default:
			turns = appendTurn(turns, memory.RoleUser, m.Content)
		}
	}

	if req.SystemPrompt != "" {
		system = append(system, req.SystemPrompt)
	}
	return strings.Join(system, "\n\n"), turns
}

func appendTurn(turns []turn, role memory.Role, content string) []turn {
	if n := len(turns); n > 0 && turns[n-1].role == role {
		turns[n-1].content += "\n\n" + content
		return turns
	}
	return append(turns, turn{role: role, content: content})
}

func pick(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
