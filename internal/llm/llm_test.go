package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/v3/option"
)

func TestRegistryUnknownModel(t *testing.T) {
	_, err := New("gpt-99", Credentials{OpenAIKey: "sk-test"})
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	// The error should name the available models so the caller can fix the config.
	if !strings.Contains(err.Error(), "claude-sonnet") {
		t.Errorf("expected available models in error, got %q", err.Error())
	}
}

func TestRegistryRequiresProviderKey(t *testing.T) {
	tests := []struct {
		model  string
		envVar string
	}{
		{"gpt-4", "OPENAI_API_KEY"},
		{"claude-sonnet", "ANTHROPIC_API_KEY"},
		{"deepseek-r1", "DEEPSEEK_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			_, err := New(tt.model, Credentials{})
			if err == nil {
				t.Fatal("expected error for missing key")
			}
			if !strings.Contains(err.Error(), tt.envVar) {
				t.Errorf("expected error to name %s, got %q", tt.envVar, err.Error())
			}
		})
	}
}

func TestRegistryResolvesAllModels(t *testing.T) {
	creds := Credentials{OpenAIKey: "sk-o", AnthropicKey: "sk-a", DeepSeekKey: "sk-d"}
	for name := range Models {
		if _, err := New(name, creds); err != nil {
			t.Errorf("model %s: %v", name, err)
		}
	}
}

func TestAvailableSorted(t *testing.T) {
	names := Available()
	if len(names) != len(Models) {
		t.Fatalf("expected %d names, got %d", len(Models), len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}

func TestSplitMessages(t *testing.T) {
	system, conversation := splitMessages([]Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "question"},
		{Role: RoleAssistant, Content: "answer"},
		{Role: RoleUser, Content: "follow-up"},
	})

	if len(system) != 1 || system[0].Text != "be helpful" {
		t.Errorf("expected system prompt lifted out, got %+v", system)
	}
	if len(conversation) != 3 {
		t.Fatalf("expected 3 conversation turns, got %d", len(conversation))
	}
	if conversation[0].Role != "user" || conversation[1].Role != "assistant" || conversation[2].Role != "user" {
		t.Errorf("unexpected role mapping: %v, %v, %v", conversation[0].Role, conversation[1].Role, conversation[2].Role)
	}
}

func TestDeepSeekClientRequestShape(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cmpl-1",
			"object": "chat.completion",
			"model": "deepseek-chat",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "bonjour"}, "finish_reason": "stop"}]
		}`))
	}))
	defer srv.Close()

	client, err := NewDeepSeekClient("sk-deep", "deepseek-chat", option.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewDeepSeekClient: %v", err)
	}

	out, err := client.Generate(context.Background(), []Message{
		{Role: RoleSystem, Content: "terse"},
		{Role: RoleUser, Content: "hello"},
	}, Options{MaxTokens: 100, Temperature: 0.2})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "bonjour" {
		t.Errorf("expected answer from response, got %q", out)
	}
	if gotAuth != "Bearer sk-deep" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody["model"] != "deepseek-chat" {
		t.Errorf("expected deepseek-chat model in request, got %v", gotBody["model"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages in request, got %d", len(msgs))
	}
}

func TestGenerateNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "cmpl-2", "object": "chat.completion", "choices": []}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient("sk-test", "gpt-4", option.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	_, err = client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Options{})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}
