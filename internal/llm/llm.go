package llm

import "context"

// Role tags a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options controls a single generation call. Zero values fall back to the
// provider defaults.
type Options struct {
	MaxTokens   int
	Temperature float64
}

const (
	defaultMaxTokens   = 1000
	defaultTemperature = 0.7
	defaultChatTimeout = 60 // seconds
)

func (o Options) withDefaults() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if o.Temperature <= 0 {
		o.Temperature = defaultTemperature
	}
	return o
}

// Client is a minimal chat interface to allow pluggable providers.
type Client interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)
}
