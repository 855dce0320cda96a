package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"refdesk/internal/app"
	"refdesk/internal/chunker"
	"refdesk/internal/config"
	"refdesk/internal/embeddings"
	"refdesk/internal/httputil"
	"refdesk/internal/pdftext"
	"refdesk/internal/queue"
	"refdesk/internal/store"
	"refdesk/internal/zotero"
)

const embedBatchSize = 32

type indexTaskPayload struct {
	Mode string `json:"mode"`
}

const (
	modeNewOnly     = "new_only"
	modeUpdateAll   = "update_all"
	modeFromScratch = "from_scratch"
)

func main() {
	deps, err := app.BuildIndexer()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	deps.Log.Info("indexer worker starting")

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeIndex, func(ctx context.Context, task queue.Task) error {
			var payload indexTaskPayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				return err
			}
			return handleIndex(ctx, deps, payload)
		})
	})

	g.Go(func() error {
		return httputil.ServeHealth(deps.Log, "indexer", deps.Config.Port)
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("indexer service stopped", "err", err)
	}
}

func handleIndex(ctx context.Context, deps app.IndexerDeps, payload indexTaskPayload) error {
	mode := payload.Mode
	if mode == "" {
		mode = modeNewOnly
	}
	libSize, err := deps.Zotero.ItemCount(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	deps.Log.Info("library sync starting", "mode", mode, "library_items", libSize)

	if mode == modeFromScratch {
		if err := deps.Store.DeleteAll(ctx); err != nil {
			return fmt.Errorf("clear collection: %w", err)
		}
		deps.Log.Info("collection cleared")
	}

	// In incremental mode, items already embedded are skipped by Zotero key.
	var indexed map[string]struct{}
	if mode == modeNewOnly {
		keys, err := deps.Store.IndexedKeys(ctx)
		if err != nil {
			return fmt.Errorf("list indexed keys: %w", err)
		}
		indexed = keys
	}

	opts := chunkOptions(deps.Config)
	deps.Log.Info("chunking configuration", "max_words", opts.MaxWords, "overlap", opts.Overlap)

	var processed, skipped, failed, totalChunks int
	start := 0
	for {
		items, total, err := deps.Zotero.Items(ctx, start, zotero.PageLimit)
		if err != nil {
			return fmt.Errorf("fetch items: %w", err)
		}
		for _, item := range items {
			if item.IsAttachment() || item.Data.Title == "" {
				continue
			}
			if _, done := indexed[item.Key]; done {
				skipped++
				continue
			}
			n, err := indexItem(ctx, deps, item, opts)
			if err != nil {
				if errors.Is(err, pdftext.ErrNoPDF) {
					deps.Log.Info("no pdf for item, skipping", "key", item.Key, "title", item.Data.Title)
					skipped++
					continue
				}
				deps.Log.Error("failed to index item", "key", item.Key, "title", item.Data.Title, "err", err)
				failed++
				continue
			}
			processed++
			totalChunks += n
		}
		start += len(items)
		if start >= total || len(items) == 0 {
			break
		}
	}

	avg := 0.0
	if processed > 0 {
		avg = float64(totalChunks) / float64(processed)
	}
	deps.Log.Info("library sync finished",
		"mode", mode,
		"processed", processed,
		"skipped", skipped,
		"failed", failed,
		"chunks", totalChunks,
		"avg_chunks_per_paper", avg,
	)
	return nil
}

// indexItem runs one paper through the full pipeline: locate the local PDF,
// extract and chunk its text, embed the chunks, and persist everything.
// It returns the number of chunks stored.
func indexItem(ctx context.Context, deps app.IndexerDeps, item zotero.Item, opts chunker.Options) (int, error) {
	attachmentKey, err := deps.Zotero.PDFAttachmentKey(ctx, item.Key)
	if err != nil {
		return 0, fmt.Errorf("find attachment: %w", err)
	}
	if attachmentKey == "" {
		return 0, pdftext.ErrNoPDF
	}

	storage := config.ExpandHome(deps.Config.ZoteroStorage)
	text, err := pdftext.ExtractAttachment(storage, attachmentKey)
	if err != nil {
		return 0, err
	}
	deps.Log.Debug("extracted pdf text", "key", item.Key, "words", pdftext.WordCount(text))

	chunks := chunker.Split(text, opts)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("no text extracted from %s", attachmentKey)
	}

	paper, err := deps.Store.UpsertPaper(ctx, store.Paper{
		Key:     item.Key,
		Title:   item.Data.Title,
		Authors: zotero.AuthorString(item.Data.Creators),
		Year:    item.Data.Date,
		DOI:     item.Data.DOI,
		Tags:    zotero.TagList(item.Data.Tags),
		Status:  store.StatusPending,
	})
	if err != nil {
		return 0, fmt.Errorf("upsert paper: %w", err)
	}

	storeChunks := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		storeChunks[i] = store.Chunk{
			Index:     c.Index,
			Text:      c.Text,
			WordCount: c.WordCount,
		}
	}
	saved, err := deps.Store.ReplaceChunks(ctx, paper.ID, storeChunks)
	if err != nil {
		return 0, markFailed(ctx, deps, paper.ID, fmt.Errorf("save chunks: %w", err))
	}

	if err := embedChunks(ctx, deps, saved); err != nil {
		return 0, markFailed(ctx, deps, paper.ID, err)
	}

	if err := deps.Store.UpdatePaperStatus(ctx, paper.ID, store.StatusIndexed); err != nil {
		return 0, fmt.Errorf("mark indexed: %w", err)
	}
	deps.Log.Info("paper indexed", "key", item.Key, "title", item.Data.Title, "chunks", len(saved))
	return len(saved), nil
}

// embedChunks generates embeddings in batches to stay under API payload limits.
func embedChunks(ctx context.Context, deps app.IndexerDeps, chunks []store.Chunk) error {
	for batchStart := 0; batchStart < len(chunks); batchStart += embedBatchSize {
		end := batchStart + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[batchStart:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}

		embs := make([]store.Embedding, len(batch))
		for i, c := range batch {
			embs[i] = store.Embedding{
				ChunkID: c.ID,
				Vector:  vectors[i],
				Model:   deps.Config.EmbeddingModel,
			}
		}
		if err := deps.Store.SaveEmbeddings(ctx, embs); err != nil {
			return fmt.Errorf("save embeddings: %w", err)
		}
	}
	return nil
}

func markFailed(ctx context.Context, deps app.IndexerDeps, paperID uuid.UUID, cause error) error {
	if err := deps.Store.UpdatePaperStatus(ctx, paperID, store.StatusFailed); err != nil {
		deps.Log.Error("failed to mark paper failed", "err", err)
	}
	return cause
}

// chunkOptions honors explicit window settings, deriving them from the
// embedding model's token limit otherwise.
func chunkOptions(cfg config.Config) chunker.Options {
	if cfg.ChunkSize > 0 {
		return chunker.Options{MaxWords: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	}
	return chunker.Derive(embeddings.ModelMaxTokens(cfg.EmbeddingModel), chunker.Params{
		WordsPerToken:       cfg.WordsPerToken,
		MaxTokenUtilization: cfg.MaxTokenUtilization,
		OverlapRatio:        cfg.OverlapRatio,
	})
}
