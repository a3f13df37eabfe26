package agent

import (
	"context"
	"fmt"

	"github.com/harun/nanobot/pkg/memory"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGateway talks to OpenAI or any endpoint speaking its chat API
type OpenAIGateway struct {
	client  openai.Client
	profile LLMProfile
}

// NewOpenAIGateway creates a gateway for p
func NewOpenAIGateway(p LLMProfile) *OpenAIGateway {
	opts := []option.RequestOption{option.WithAPIKey(p.APIKey)}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}

	return &OpenAIGateway{
		client:  openai.NewClient(opts...),
		profile: p,
	}
}

// Chat makes an API call to the chat completions endpoint
func (g *OpenAIGateway) Chat(ctx context.Context, req ChatRequest) (string, error) {
	system, turns := conversation(req)

	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, t := range turns {
		if t.role == memory.RoleAssistant {
			messages = append(messages, openai.AssistantMessage(t.content))
		} else {
			messages = append(messages, openai.UserMessage(t.content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(pick(req.Model, g.profile.Model)),
		Messages: messages,
	}

	if maxTokens := firstPositive(req.MaxTokens, g.profile.MaxTokens); maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if temperature := firstPositiveFloat(req.Temperature, g.profile.Temperature); temperature > 0 {
		params.Temperature = openai.Float(temperature)
	}

	response, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	return response.Choices[0].Message.Content, nil
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstPositiveFloat(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
