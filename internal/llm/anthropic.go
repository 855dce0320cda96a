package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	model  anthropic.Model
	client anthropic.Client
}

// NewAnthropicClient builds a client against api.anthropic.com.
func NewAnthropicClient(apiKey string, model string, extra ...option.RequestOption) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing ANTHROPIC_API_KEY in environment variables")
	}
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	opts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, extra...)
	return &AnthropicClient{
		model:  anthropic.Model(model),
		client: anthropic.NewClient(opts...),
	}, nil
}

func (c *AnthropicClient) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	opts = opts.withDefaults()
	reqCtx, cancel := context.WithTimeout(ctx, defaultChatTimeout*time.Second)
	defer cancel()

	system, conversation := splitMessages(messages)
	resp, err := c.client.Messages.New(reqCtx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   int64(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
		System:      system,
		Messages:    conversation,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Content) == 0 {
		return "", fmt.Errorf("anthropic: empty response content")
	}
	return resp.Content[0].Text, nil
}

// splitMessages lifts system messages out of the conversation into the
// dedicated system prompt slot the Messages API expects, and maps the
// remaining turns onto user/assistant roles.
func splitMessages(messages []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var conversation []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			conversation = append(conversation, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return system, conversation
}
