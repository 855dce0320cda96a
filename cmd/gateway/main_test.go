package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"refdesk/internal/app"
	"refdesk/internal/cache"
	"refdesk/internal/config"
	"refdesk/internal/embeddings"
	"refdesk/internal/llm"
	"refdesk/internal/queue"
	"refdesk/internal/store"
)

type testMocks struct {
	store    *store.MockStore
	queue    *queue.MockQueue
	cache    *cache.MockCache
	embedder *embeddings.MockEmbedder
	llm      *llm.MockClient
}

func newTestDeps(m testMocks) app.GatewayDeps {
	return app.GatewayDeps{
		Deps: app.Deps{
			Store: m.store,
			Queue: m.queue,
			Config: config.Config{
				LLMModel: "claude-sonnet",
				CacheTTL: 60,
			},
			Log: slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		Cache:    m.cache,
		Embedder: m.embedder,
		LLM:      m.llm,
	}
}

func newMocks() testMocks {
	return testMocks{
		store:    new(store.MockStore),
		queue:    new(queue.MockQueue),
		cache:    new(cache.MockCache),
		embedder: new(embeddings.MockEmbedder),
		llm:      new(llm.MockClient),
	}
}

func (m testMocks) assertExpectations(t *testing.T) {
	t.Helper()
	m.store.AssertExpectations(t)
	m.queue.AssertExpectations(t)
	m.cache.AssertExpectations(t)
	m.embedder.AssertExpectations(t)
	m.llm.AssertExpectations(t)
}

func TestQueryHandler(t *testing.T) {
	result := store.SearchResult{
		Chunk: store.Chunk{ID: uuid.New(), Text: "attention is all you need"},
		Paper: store.Paper{Title: "Attention Is All You Need", Authors: "Ashish Vaswani", Year: "2017"},
		Score: 0.91,
	}

	tests := []struct {
		name          string
		body          string
		setup         func(testMocks)
		wantStatus    int
		checkResponse func(*testing.T, map[string]any)
	}{
		{
			name: "answers from retrieval on cache miss",
			body: `{"question": "what is attention?"}`,
			setup: func(m testMocks) {
				m.cache.On("GetAnswer", mock.Anything, mock.Anything).Return(nil, nil).Once()
				m.embedder.On("Embed", mock.Anything, "what is attention?").
					Return(embeddings.Vector{0.1, 0.2}, nil).Once()
				m.store.On("TopK", mock.Anything, mock.Anything, 5).
					Return([]store.SearchResult{result}, nil).Once()
				m.llm.On("Generate", mock.Anything, mock.Anything, mock.Anything).
					Return("Attention weighs token relevance [1].", nil).Once()
				m.cache.On("SetAnswer", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
					Return(nil).Once()
			},
			wantStatus: http.StatusOK,
			checkResponse: func(t *testing.T, result map[string]any) {
				if result["cached"] != false {
					t.Errorf("Expected cached=false, got %v", result["cached"])
				}
				if result["model"] != "claude-sonnet" {
					t.Errorf("Expected default model, got %v", result["model"])
				}
			},
		},
		{
			name: "serves cached answer without touching the store",
			body: `{"question": "what is attention?"}`,
			setup: func(m testMocks) {
				m.cache.On("GetAnswer", mock.Anything, mock.Anything).
					Return(&cache.Answer{Text: "cached answer", Model: "claude-sonnet"}, nil).Once()
			},
			wantStatus: http.StatusOK,
			checkResponse: func(t *testing.T, result map[string]any) {
				if result["cached"] != true {
					t.Errorf("Expected cached=true, got %v", result["cached"])
				}
				if result["answer"] != "cached answer" {
					t.Errorf("Expected cached answer, got %v", result["answer"])
				}
			},
		},
		{
			name:       "rejects short question",
			body:       `{"question": "hi"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "rejects unknown model",
			body:       `{"question": "what is attention?", "model": "gpt-99"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "rejects top_k out of range",
			body:       `{"question": "what is attention?", "top_k": 50}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "embedding failure is a 500",
			body: `{"question": "what is attention?"}`,
			setup: func(m testMocks) {
				m.cache.On("GetAnswer", mock.Anything, mock.Anything).Return(nil, nil).Once()
				m.embedder.On("Embed", mock.Anything, mock.Anything).
					Return(nil, errors.New("api error")).Once()
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := newMocks()
			if tt.setup != nil {
				tt.setup(mocks)
			}
			handler := queryHandler(newTestDeps(mocks))

			req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.checkResponse != nil {
				var result map[string]any
				if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&result); err != nil {
					t.Fatalf("Failed to decode response: %v", err)
				}
				tt.checkResponse(t, result)
			}
			mocks.assertExpectations(t)
		})
	}
}

func TestModelsHandler(t *testing.T) {
	mocks := newMocks()
	handler := modelsHandler(newTestDeps(mocks))

	req := httptest.NewRequest(http.MethodGet, "/api/models", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	models, ok := result["models"].([]any)
	if !ok || len(models) != len(llm.Models) {
		t.Errorf("Expected %d models, got %v", len(llm.Models), result["models"])
	}
	if result["default"] != "claude-sonnet" {
		t.Errorf("Expected default claude-sonnet, got %v", result["default"])
	}
}

func TestAnalyzeHandler(t *testing.T) {
	paperID := uuid.New()

	tests := []struct {
		name       string
		body       string
		setup      func(testMocks)
		wantStatus int
	}{
		{
			name: "analyzes a known paper",
			body: `{"title": "Attention Is All You Need"}`,
			setup: func(m testMocks) {
				m.store.On("GetPaperByTitle", mock.Anything, "Attention Is All You Need").
					Return(store.Paper{ID: paperID, Title: "Attention Is All You Need"}, nil).Once()
				m.store.On("ListChunks", mock.Anything, paperID).
					Return([]store.Chunk{{Text: "transformers replaced recurrence"}}, nil).Once()
				m.llm.On("Generate", mock.Anything, mock.Anything, mock.Anything).
					Return("1. Research question: ...", nil).Once()
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "unknown paper is a 404",
			body: `{"title": "No Such Paper"}`,
			setup: func(m testMocks) {
				m.store.On("GetPaperByTitle", mock.Anything, "No Such Paper").
					Return(store.Paper{}, store.ErrPaperNotFound).Once()
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "missing title is a 400",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := newMocks()
			if tt.setup != nil {
				tt.setup(mocks)
			}
			handler := analyzeHandler(newTestDeps(mocks))

			req := httptest.NewRequest(http.MethodPost, "/api/papers/analyze", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			mocks.assertExpectations(t)
		})
	}
}

func TestCompareHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(testMocks)
		wantStatus int
	}{
		{
			name:       "fewer than two titles is a 400",
			body:       `{"titles": ["Only One"]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "no papers found is a 404",
			body: `{"titles": ["Gone A", "Gone B"]}`,
			setup: func(m testMocks) {
				m.store.On("GetPaperByTitle", mock.Anything, mock.Anything).
					Return(store.Paper{}, store.ErrPaperNotFound).Twice()
			},
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := newMocks()
			if tt.setup != nil {
				tt.setup(mocks)
			}
			handler := compareHandler(newTestDeps(mocks))

			req := httptest.NewRequest(http.MethodPost, "/api/papers/compare", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			mocks.assertExpectations(t)
		})
	}
}

func TestSearchHandler(t *testing.T) {
	mocks := newMocks()
	mocks.embedder.On("Embed", mock.Anything, "transformers").
		Return(embeddings.Vector{0.1}, nil).Once()
	mocks.store.On("TopK", mock.Anything, mock.Anything, 3).
		Return([]store.SearchResult{{
			Chunk: store.Chunk{ID: uuid.New(), Text: "self-attention"},
			Paper: store.Paper{Title: "Attention Is All You Need"},
			Score: 0.8,
		}}, nil).Once()

	handler := searchHandler(newTestDeps(mocks))
	req := httptest.NewRequest(http.MethodGet, "/api/papers/search?q=transformers&k=3", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", w.Code, w.Body.String())
	}
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	hits, ok := result["results"].([]any)
	if !ok || len(hits) != 1 {
		t.Errorf("Expected 1 result, got %v", result["results"])
	}
	mocks.assertExpectations(t)

	t.Run("missing q is a 400", func(t *testing.T) {
		handler := searchHandler(newTestDeps(newMocks()))
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest(http.MethodGet, "/api/papers/search", nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", w.Code)
		}
	})
}

func TestSyncHandler(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(testMocks)
		wantStatus int
		wantMode   string
	}{
		{
			name: "defaults to new_only with empty body",
			body: "",
			setup: func(m testMocks) {
				m.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
					var payload indexTaskPayload
					if err := json.Unmarshal(task.Payload, &payload); err != nil {
						return false
					}
					return task.Type == queue.TaskTypeIndex && payload.Mode == "new_only"
				})).Return(nil).Once()
				m.cache.On("InvalidateAll", mock.Anything).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
			wantMode:   "new_only",
		},
		{
			name: "from_scratch mode passes through",
			body: `{"mode": "from_scratch"}`,
			setup: func(m testMocks) {
				m.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
					var payload indexTaskPayload
					return json.Unmarshal(task.Payload, &payload) == nil && payload.Mode == "from_scratch"
				})).Return(nil).Once()
				m.cache.On("InvalidateAll", mock.Anything).Return(nil).Once()
			},
			wantStatus: http.StatusAccepted,
			wantMode:   "from_scratch",
		},
		{
			name:       "unknown mode is a 400",
			body:       `{"mode": "everything"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "enqueue failure after retries is a 500",
			body: `{"mode": "new_only"}`,
			setup: func(m testMocks) {
				m.queue.On("Enqueue", mock.Anything, mock.Anything).
					Return(errors.New("queue down")).Times(3)
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mocks := newMocks()
			if tt.setup != nil {
				tt.setup(mocks)
			}
			handler := syncHandler(newTestDeps(mocks))

			req := httptest.NewRequest(http.MethodPost, "/api/library/sync", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantMode != "" {
				var result map[string]any
				if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
					t.Fatalf("Failed to decode response: %v", err)
				}
				if result["mode"] != tt.wantMode {
					t.Errorf("Expected mode %s, got %v", tt.wantMode, result["mode"])
				}
			}
			mocks.assertExpectations(t)
		})
	}
}

func TestExpandHandler(t *testing.T) {
	mocks := newMocks()
	mocks.queue.On("Enqueue", mock.Anything, mock.MatchedBy(func(task queue.Task) bool {
		var payload expandTaskPayload
		return task.Type == queue.TaskTypeExpand &&
			json.Unmarshal(task.Payload, &payload) == nil &&
			payload.Limit == 10
	})).Return(nil).Once()

	handler := expandHandler(newTestDeps(mocks))
	req := httptest.NewRequest(http.MethodPost, "/api/library/expand", strings.NewReader(`{"limit": 10}`))
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d. Body: %s", w.Code, w.Body.String())
	}
	mocks.assertExpectations(t)
}
