package agent

import (
	"context"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/nanobot/pkg/memory"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicGateway talks to Anthropic Claude
type AnthropicGateway struct {
	client  anthropic.Client
	profile LLMProfile
}

// NewAnthropicGateway creates a gateway for p
func NewAnthropicGateway(p LLMProfile) *AnthropicGateway {
	opts := []option.RequestOption{option.WithAPIKey(p.APIKey)}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}

	return &AnthropicGateway{
		client:  anthropic.NewClient(opts...),
		profile: p,
	}
}

// Chat makes an API call to the messages endpoint
func (g *AnthropicGateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	system, turns := conversation(req)

	messages := []anthropic.MessageParam{}
	for _, t := range turns {
		if t.role == memory.RoleAssistant {
			messages = append(messages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(t.content),
				},
			})
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.content)))
	}

	maxTokens := firstPositive(req.MaxTokens, g.profile.MaxTokens, defaultAnthropicMaxTokens)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(pick(req.Model, g.profile.Model)),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}
	if temperature := firstPositiveFloat(req.Temperature, g.profile.Temperature); temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}

	response, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	content := ""
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += b.Text
		}
	}
	return content, nil
}
