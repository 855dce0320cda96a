package llm

import (
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// DeepSeek exposes an OpenAI-compatible chat completions endpoint, so the
// client rides on the OpenAI SDK with a different base URL.
const deepSeekBaseURL = "https://api.deepseek.com/v1"

// NewDeepSeekClient builds a chat client against the DeepSeek API.
func NewDeepSeekClient(apiKey string, model string, extra ...option.RequestOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing DEEPSEEK_API_KEY in environment variables")
	}
	if model == "" {
		model = "deepseek-chat"
	}
	opts := append([]option.RequestOption{option.WithBaseURL(deepSeekBaseURL)}, extra...)
	return NewOpenAIClient(apiKey, openai.ChatModel(model), opts...)
}
