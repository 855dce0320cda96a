package llm

import (
	"errors"
	"fmt"
	"sort"

	"github.com/openai/openai-go/v3"
)

// ErrUnknownModel is returned when a model name is not in the registry.
var ErrUnknownModel = errors.New("unknown model")

// ProviderKind identifies the vendor behind a registry entry.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderDeepSeek  ProviderKind = "deepseek"
)

// ModelConfig binds a friendly model name to a provider and vendor model id.
type ModelConfig struct {
	Provider    ProviderKind
	Model       string
	Description string
}

// Models is the registry of selectable models.
var Models = map[string]ModelConfig{
	"gpt-4": {
		Provider:    ProviderOpenAI,
		Model:       "gpt-4",
		Description: "OpenAI GPT-4",
	},
	"gpt-3.5-turbo": {
		Provider:    ProviderOpenAI,
		Model:       "gpt-3.5-turbo",
		Description: "OpenAI GPT-3.5 Turbo",
	},
	"claude-sonnet": {
		Provider:    ProviderAnthropic,
		Model:       "claude-3-5-sonnet-latest",
		Description: "Anthropic Claude 3.5 Sonnet",
	},
	"deepseek-r1": {
		Provider:    ProviderDeepSeek,
		Model:       "deepseek-chat",
		Description: "DeepSeek Chat R1",
	},
}

// Credentials holds the per-provider API keys. Only the key for the
// requested model's provider needs to be set.
type Credentials struct {
	OpenAIKey    string
	AnthropicKey string
	DeepSeekKey  string
}

// New resolves a registry name to a provider client.
func New(name string, creds Credentials) (Client, error) {
	cfg, ok := Models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrUnknownModel, name, Available())
	}
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(creds.OpenAIKey, openai.ChatModel(cfg.Model))
	case ProviderAnthropic:
		return NewAnthropicClient(creds.AnthropicKey, cfg.Model)
	case ProviderDeepSeek:
		return NewDeepSeekClient(creds.DeepSeekKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// Available lists the registry names in stable order.
func Available() []string {
	names := make([]string, 0, len(Models))
	for name := range Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
