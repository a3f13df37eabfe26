package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/nanobot/pkg/memory"
	"github.com/teilomillet/gollm"
)

// GollmGateway reaches the providers gollm supports (ollama, groq, mistral
// and others). gollm instances carry their model settings, so one is built
// per distinct model configuration.
type GollmGateway struct {
	profile LLMProfile

	mu   sync.Mutex
	llms map[gollmKey]gollm.LLM
}

type gollmKey struct {
	model       string
	temperature float64
	maxTokens   int
}

// NewGollmGateway creates a gateway for p and checks that gollm accepts it
func NewGollmGateway(p LLMProfile) (*GollmGateway, error) {
	g := &GollmGateway{
		profile: p,
		llms:    make(map[gollmKey]gollm.LLM),
	}
	if _, err := g.llm(g.key(ChatRequest{})); err != nil {
		return nil, err
	}
	return g, nil
}

// Chat generates the next reply from a single flattened prompt
func (g *GollmGateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	llm, err := g.llm(g.key(req))
	if err != nil {
		return "", err
	}

	system, turns := conversation(req)

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.role == memory.RoleAssistant {
			lines = append(lines, "[Assistant]: "+t.content)
		} else {
			lines = append(lines, t.content)
		}
	}

	var opts []gollm.PromptOption
	if system != "" {
		opts = append(opts, gollm.WithSystemPrompt(system, gollm.CacheTypeEphemeral))
	}

	text, err := llm.Generate(ctx, gollm.NewPrompt(strings.Join(lines, "\n"), opts...))
	if err != nil {
		return "", fmt.Errorf("%s generate failed: %w", g.profile.Provider, err)
	}
	return text, nil
}

func (g *GollmGateway) key(req ChatRequest) gollmKey {
	return gollmKey{
		model:       pick(req.Model, g.profile.Model),
		temperature: firstPositiveFloat(req.Temperature, g.profile.Temperature, 0.7),
		maxTokens:   firstPositive(req.MaxTokens, g.profile.MaxTokens, 4096),
	}
}

func (g *GollmGateway) llm(k gollmKey) (gollm.LLM, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if llm, ok := g.llms[k]; ok {
		return llm, nil
	}

	opts := []gollm.ConfigOption{
		gollm.SetProvider(g.profile.Provider),
		gollm.SetModel(k.model),
		gollm.SetMaxTokens(k.maxTokens),
		gollm.SetTemperature(k.temperature),
		gollm.SetMaxRetries(0),
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if g.profile.APIKey != "" {
		opts = append(opts, gollm.SetAPIKey(g.profile.APIKey))
	}

	llm, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gollm LLM for provider %s: %w", g.profile.Provider, err)
	}
	g.llms[k] = llm
	return llm, nil
}
