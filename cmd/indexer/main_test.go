package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"refdesk/internal/app"
	"refdesk/internal/config"
	"refdesk/internal/embeddings"
	"refdesk/internal/store"
	"refdesk/internal/zotero"
)

func TestChunkOptions(t *testing.T) {
	t.Run("explicit size wins", func(t *testing.T) {
		opts := chunkOptions(config.Config{ChunkSize: 500, ChunkOverlap: 100})
		if opts.MaxWords != 500 || opts.Overlap != 100 {
			t.Errorf("Expected 500/100, got %d/%d", opts.MaxWords, opts.Overlap)
		}
	})

	t.Run("derived from embedding model limit", func(t *testing.T) {
		opts := chunkOptions(config.Config{
			EmbeddingModel:      "text-embedding-3-small",
			WordsPerToken:       0.75,
			MaxTokenUtilization: 0.9,
			OverlapRatio:        0.2,
		})
		// 8191 tokens * 0.75 words/token * 0.9
		tokens := float64(8191)
		want := int(tokens * 0.75 * 0.9)
		if opts.MaxWords != want {
			t.Errorf("Expected %d max words, got %d", want, opts.MaxWords)
		}
		if opts.Overlap != int(float64(want)*0.2) {
			t.Errorf("Expected overlap %d, got %d", int(float64(want)*0.2), opts.Overlap)
		}
	})
}

// newZoteroTestServer serves a fixed two-page-free library: one bibliographic
// item without a PDF attachment and one standalone attachment item.
func newZoteroTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/users/42/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Total-Results", "2")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[
			{"key": "PAPER1", "data": {"itemType": "journalArticle", "title": "Attention Is All You Need"}},
			{"key": "ATT1", "data": {"itemType": "attachment", "contentType": "application/pdf"}}
		]`)
	})
	mux.HandleFunc("/users/42/items/PAPER1/children", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	})
	return httptest.NewServer(mux)
}

func newIndexerDeps(t *testing.T, baseURL string, st store.Store, emb embeddings.Embedder) app.IndexerDeps {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	zot, err := zotero.NewClient("42", "secret", log)
	if err != nil {
		t.Fatalf("Failed to create zotero client: %v", err)
	}
	zot.BaseURL = baseURL
	return app.IndexerDeps{
		Deps: app.Deps{
			Store: st,
			Config: config.Config{
				ZoteroStorage:  t.TempDir(),
				EmbeddingModel: "text-embedding-3-small",
				ChunkSize:      100,
				ChunkOverlap:   20,
			},
			Log: log,
		},
		Zotero:   zot,
		Embedder: emb,
	}
}

func TestHandleIndexSkipsItemsWithoutPDF(t *testing.T) {
	srv := newZoteroTestServer(t)
	defer srv.Close()

	mockStore := new(store.MockStore)
	mockStore.On("IndexedKeys", mock.Anything).Return(map[string]struct{}{}, nil).Once()

	deps := newIndexerDeps(t, srv.URL, mockStore, new(embeddings.MockEmbedder))
	if err := handleIndex(t.Context(), deps, indexTaskPayload{Mode: modeNewOnly}); err != nil {
		t.Fatalf("handleIndex failed: %v", err)
	}

	// The bibliographic item has no PDF child and gets skipped;
	// the attachment item is never indexed at all.
	mockStore.AssertNotCalled(t, "UpsertPaper", mock.Anything, mock.Anything)
	mockStore.AssertExpectations(t)
}

func TestHandleIndexSkipsAlreadyIndexedKeys(t *testing.T) {
	srv := newZoteroTestServer(t)
	defer srv.Close()

	mockStore := new(store.MockStore)
	mockStore.On("IndexedKeys", mock.Anything).
		Return(map[string]struct{}{"PAPER1": {}}, nil).Once()

	deps := newIndexerDeps(t, srv.URL, mockStore, new(embeddings.MockEmbedder))
	if err := handleIndex(t.Context(), deps, indexTaskPayload{Mode: modeNewOnly}); err != nil {
		t.Fatalf("handleIndex failed: %v", err)
	}

	mockStore.AssertNotCalled(t, "UpsertPaper", mock.Anything, mock.Anything)
	mockStore.AssertExpectations(t)
}

func TestHandleIndexFromScratchClearsCollection(t *testing.T) {
	srv := newZoteroTestServer(t)
	defer srv.Close()

	mockStore := new(store.MockStore)
	mockStore.On("DeleteAll", mock.Anything).Return(nil).Once()

	deps := newIndexerDeps(t, srv.URL, mockStore, new(embeddings.MockEmbedder))
	if err := handleIndex(t.Context(), deps, indexTaskPayload{Mode: modeFromScratch}); err != nil {
		t.Fatalf("handleIndex failed: %v", err)
	}

	// from_scratch never consults the indexed-key set.
	mockStore.AssertNotCalled(t, "IndexedKeys", mock.Anything)
	mockStore.AssertExpectations(t)
}

func TestHandleIndexDefaultsToNewOnly(t *testing.T) {
	srv := newZoteroTestServer(t)
	defer srv.Close()

	mockStore := new(store.MockStore)
	mockStore.On("IndexedKeys", mock.Anything).Return(map[string]struct{}{}, nil).Once()

	deps := newIndexerDeps(t, srv.URL, mockStore, new(embeddings.MockEmbedder))
	if err := handleIndex(t.Context(), deps, indexTaskPayload{}); err != nil {
		t.Fatalf("handleIndex failed: %v", err)
	}
	mockStore.AssertExpectations(t)
}
