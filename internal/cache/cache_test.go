package cache

import (
	"context"
	"testing"
	"time"
)

func TestKeyStable(t *testing.T) {
	k1 := Key("coastal forests or marshes?", "claude-sonnet", 5)
	k2 := Key("coastal forests or marshes?", "claude-sonnet", 5)
	if k1 != k2 {
		t.Error("same inputs should produce the same key")
	}
	if len(k1) != 64 {
		t.Errorf("expected hex sha256 key, got length %d", len(k1))
	}
}

func TestKeyDistinguishesInputs(t *testing.T) {
	base := Key("question", "claude-sonnet", 5)

	if Key("other question", "claude-sonnet", 5) == base {
		t.Error("different questions should not collide")
	}
	if Key("question", "gpt-4", 5) == base {
		t.Error("different models should not collide")
	}
	if Key("question", "claude-sonnet", 3) == base {
		t.Error("different top_k should not collide")
	}
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	ctx := context.Background()

	answer, err := c.GetAnswer(ctx, "key")
	if err != nil || answer != nil {
		t.Errorf("expected miss with no error, got %v, %v", answer, err)
	}

	if err := c.SetAnswer(ctx, "key", &Answer{Text: "hi", Model: "claude-sonnet"}, time.Hour); err != nil {
		t.Errorf("SetAnswer: %v", err)
	}

	// Still a miss: the no-op cache stores nothing.
	answer, err = c.GetAnswer(ctx, "key")
	if err != nil || answer != nil {
		t.Errorf("expected miss after set, got %v, %v", answer, err)
	}

	if err := c.InvalidateAll(ctx); err != nil {
		t.Errorf("InvalidateAll: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
