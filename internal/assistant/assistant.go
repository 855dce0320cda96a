// Package assistant answers research questions over the embedded library,
// grounding every LLM call in retrieved paper text.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"refdesk/internal/embeddings"
	"refdesk/internal/llm"
	"refdesk/internal/store"
)

// ErrNoPapersFound means none of the requested titles exist in the library.
var ErrNoPapersFound = errors.New("none of the specified papers were found")

const (
	defaultTopK = 5

	// Caps keep whole-paper prompts inside typical context windows.
	analyzeContentLimit = 8000
	compareContentLimit = 4000

	systemResearcher = "You are a superstar postdoctoral researcher with expertise in academic literature."
	systemAnalyst    = "You are a helpful research assistant with expertise in analyzing academic papers."
	systemComparer   = "You are a helpful research assistant with expertise in analyzing and comparing academic papers."
)

// Source records where an answer's supporting text came from.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Title   string  `json:"title"`
	Authors string  `json:"authors"`
	Year    string  `json:"year"`
	Score   float32 `json:"score"`
	Preview string  `json:"preview"`
}

// Answer is a grounded response with the chunks that backed it.
type Answer struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

// Assistant wires retrieval to generation.
type Assistant struct {
	store    store.Store
	embedder embeddings.Embedder
	llm      llm.Client
	log      *slog.Logger
}

func New(st store.Store, embedder embeddings.Embedder, client llm.Client, log *slog.Logger) *Assistant {
	return &Assistant{store: st, embedder: embedder, llm: client, log: log}
}

// Query answers a research question using the topK most relevant chunks.
func (a *Assistant) Query(ctx context.Context, question string, topK int) (Answer, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	vec, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return Answer{}, fmt.Errorf("embed question: %w", err)
	}
	results, err := a.store.TopK(ctx, vec, topK)
	if err != nil {
		return Answer{}, fmt.Errorf("search chunks: %w", err)
	}

	var excerpts []string
	for _, r := range results {
		excerpts = append(excerpts, fmt.Sprintf("From '%s' by %s (%s):\n%s\n",
			r.Paper.Title, r.Paper.Authors, r.Paper.Year, r.Chunk.Text))
	}

	divider := strings.Repeat("-", 80)
	prompt := fmt.Sprintf(`Use relevant content from the following excerpts from academic papers to answer the question below.
If you're not sure about something, say so, and specifically say what you would like more information about, citing particular references or sources you would like to see more from. Include citations in your response.

Question: %s

Relevant excerpts:
%s
%s
%s

Please provide a detailed answer based on these sources, including specific citations where appropriate.`,
		question, divider, strings.Join(excerpts, "\n"), divider)

	text, err := a.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemResearcher},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{})
	if err != nil {
		return Answer{}, fmt.Errorf("generate answer: %w", err)
	}

	return Answer{Text: text, Sources: buildSources(results)}, nil
}

// AnalyzePaper produces a structured summary of one paper in the library.
func (a *Assistant) AnalyzePaper(ctx context.Context, title string) (string, error) {
	paper, err := a.store.GetPaperByTitle(ctx, title)
	if err != nil {
		return "", err
	}
	chunks, err := a.store.ListChunks(ctx, paper.ID)
	if err != nil {
		return "", err
	}
	text := capContent(joinChunks(chunks), analyzeContentLimit)

	prompt := fmt.Sprintf(`Analyze the following academic paper and provide a comprehensive summary:

Title: %s
Authors: %s
Year: %s

Content:
%s

Please provide:
1. Main research questions/objectives
2. Key methodology
3. Main findings
4. Significant conclusions
5. Potential implications for the field`,
		paper.Title, paper.Authors, paper.Year, text)

	return a.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemAnalyst},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{})
}

// ComparePapers contrasts several papers in the library. Titles missing from
// the library are skipped; if none resolve, ErrNoPapersFound is returned.
func (a *Assistant) ComparePapers(ctx context.Context, titles []string) (string, error) {
	var sections []string
	for _, title := range titles {
		paper, err := a.store.GetPaperByTitle(ctx, title)
		if errors.Is(err, store.ErrPaperNotFound) {
			a.log.Warn("paper not in library, skipping", "title", title)
			continue
		}
		if err != nil {
			return "", err
		}
		chunks, err := a.store.ListChunks(ctx, paper.ID)
		if err != nil {
			return "", err
		}
		sections = append(sections, fmt.Sprintf(`
Title: %s
Authors: %s
Year: %s

Content:
%s

---
`, paper.Title, paper.Authors, paper.Year, capContent(joinChunks(chunks), compareContentLimit)))
	}
	if len(sections) == 0 {
		return "", ErrNoPapersFound
	}

	prompt := "Compare and contrast the following papers:\n\n" + strings.Join(sections, "") + `
Please provide:
1. Key similarities in methodology and findings
2. Major differences in approach or conclusions
3. How these papers complement or contradict each other
4. Evolution of ideas if papers are from different time periods
5. Synthesis of the combined insights from these papers`

	return a.llm.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: systemComparer},
		{Role: llm.RoleUser, Content: prompt},
	}, llm.Options{})
}

// Search exposes raw semantic retrieval without generation.
func (a *Assistant) Search(ctx context.Context, query string, topK int) ([]store.SearchResult, error) {
	if topK <= 0 {
		topK = defaultTopK
	}
	vec, err := a.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return a.store.TopK(ctx, vec, topK)
}

func joinChunks(chunks []store.Chunk) string {
	var builder strings.Builder
	for _, c := range chunks {
		builder.WriteString(c.Text)
		builder.WriteString("\n")
	}
	return builder.String()
}

func capContent(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}

func buildSources(results []store.SearchResult) []Source {
	sources := make([]Source, len(results))
	for i, r := range results {
		sources[i] = Source{
			ChunkID: r.Chunk.ID.String(),
			Title:   r.Paper.Title,
			Authors: r.Paper.Authors,
			Year:    r.Paper.Year,
			Score:   r.Score,
			Preview: truncate(r.Chunk.Text, 150),
		}
	}
	return sources
}

// truncate limits text to maxLen characters, cutting at a word boundary.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if idx := strings.LastIndex(s[:maxLen], " "); idx > 0 {
		return s[:idx] + "..."
	}
	return s[:maxLen] + "..."
}
