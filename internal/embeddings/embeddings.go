package embeddings

import (
	"context"
	"math"
	"strings"
)

// Vector is an embedding vector.
type Vector []float32

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	// EmbedBatch embeds many texts, preserving input order. Blank inputs
	// yield zero vectors in their positions rather than an error.
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
}

// CosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched or empty vectors score zero.
func CosineSimilarity(a, b Vector) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// partitionBlank separates embeddable texts from blank ones, keeping the
// original index of each valid text so results can be scattered back.
func partitionBlank(texts []string) (valid []string, indices []int) {
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			valid = append(valid, text)
			indices = append(indices, i)
		}
	}
	return valid, indices
}
