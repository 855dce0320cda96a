package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"refdesk/internal/embeddings"
)

type PaperStatus string

const (
	StatusPending PaperStatus = "pending"
	StatusIndexed PaperStatus = "indexed"
	StatusFailed  PaperStatus = "failed"
)

var ErrPaperNotFound = errors.New("paper not found")

// Paper is one bibliographic entry mirrored from the Zotero library.
type Paper struct {
	ID        uuid.UUID
	Key       string // Zotero item key
	Title     string
	Authors   string // "First Last; First Last"
	Year      string
	DOI       string
	Tags      []string
	Status    PaperStatus
	IndexedAt time.Time
}

// Chunk is one window of a paper's extracted text.
type Chunk struct {
	ID        uuid.UUID
	PaperID   uuid.UUID
	Index     int
	Text      string
	WordCount int
}

// Embedding is a stored vector for one chunk.
type Embedding struct {
	ChunkID uuid.UUID
	Vector  embeddings.Vector
	Model   string
}

// SearchResult pairs a matched chunk with its paper and similarity score.
type SearchResult struct {
	Chunk Chunk
	Paper Paper
	Score float32
}

// Stats summarizes the embedded collection.
type Stats struct {
	Papers        int `json:"papers"`
	IndexedPapers int `json:"indexed_papers"`
	Chunks        int `json:"chunks"`
}

// Store defines the persistence contract for papers, chunks, and vectors.
type Store interface {
	UpsertPaper(ctx context.Context, paper Paper) (Paper, error)
	UpdatePaperStatus(ctx context.Context, id uuid.UUID, status PaperStatus) error
	GetPaperByTitle(ctx context.Context, title string) (Paper, error)
	// IndexedKeys returns the Zotero keys of papers already indexed,
	// letting incremental runs skip them.
	IndexedKeys(ctx context.Context) (map[string]struct{}, error)
	ReplaceChunks(ctx context.Context, paperID uuid.UUID, chunks []Chunk) ([]Chunk, error)
	ListChunks(ctx context.Context, paperID uuid.UUID) ([]Chunk, error)
	SaveEmbeddings(ctx context.Context, embs []Embedding) error
	TopK(ctx context.Context, vector embeddings.Vector, k int) ([]SearchResult, error)
	// DeleteAll clears the collection for a from-scratch rebuild.
	DeleteAll(ctx context.Context) error
	Stats(ctx context.Context) (Stats, error)
}
