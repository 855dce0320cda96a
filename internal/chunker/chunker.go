package chunker

import (
	"strings"
)

const defaultWindowWords = 400

// Options controls the sliding window.
type Options struct {
	MaxWords int
	Overlap  int
}

// Params tunes chunk-size derivation from an embedding model's token limit.
type Params struct {
	WordsPerToken       float64
	MaxTokenUtilization float64
	OverlapRatio        float64
}

// Chunk is one window over the document text.
type Chunk struct {
	Index     int
	Text      string
	WordCount int
}

// Derive computes window options from a model's maximum token count.
// The window never shrinks below the default, and overlap is a fixed
// fraction of the final window size.
func Derive(modelMaxTokens int, p Params) Options {
	if p.WordsPerToken <= 0 {
		p.WordsPerToken = 0.75
	}
	if p.MaxTokenUtilization <= 0 {
		p.MaxTokenUtilization = 0.9
	}
	if p.OverlapRatio < 0 {
		p.OverlapRatio = 0
	}

	size := int(float64(modelMaxTokens) * p.WordsPerToken * p.MaxTokenUtilization)
	if size < defaultWindowWords {
		size = defaultWindowWords
	}
	return Options{
		MaxWords: size,
		Overlap:  int(float64(size) * p.OverlapRatio),
	}
}

// Split runs a word-based sliding window with overlap over the text.
// Empty and whitespace-only input yields no chunks.
func Split(text string, opts Options) []Chunk {
	if opts.MaxWords <= 0 {
		opts.MaxWords = defaultWindowWords
	}
	if opts.Overlap < 0 {
		opts.Overlap = 0
	}

	words := strings.Fields(text)
	var chunks []Chunk
	if len(words) == 0 {
		return chunks
	}

	step := opts.MaxWords - opts.Overlap
	if step <= 0 {
		step = opts.MaxWords
	}

	for start := 0; start < len(words); start += step {
		end := start + opts.MaxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			Text:      strings.Join(words[start:end], " "),
			WordCount: end - start,
		})
		if end == len(words) {
			break
		}
	}
	return chunks
}
