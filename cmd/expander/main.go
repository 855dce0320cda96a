package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"refdesk/internal/app"
	"refdesk/internal/httputil"
	"refdesk/internal/queue"
	"refdesk/internal/scholar"
	"refdesk/internal/zotero"
)

// createPause spaces out Zotero write requests.
const createPause = 500 * time.Millisecond

type expandTaskPayload struct {
	Limit int `json:"limit"`
}

// candidate is a citing paper queued for addition, tagged with the library
// paper whose citations surfaced it.
type candidate struct {
	paper       scholar.Paper
	sourceTitle string
}

func main() {
	deps, err := app.BuildExpander()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	deps.Log.Info("expander worker starting")

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		return deps.Queue.Worker(ctx, queue.TaskTypeExpand, func(ctx context.Context, task queue.Task) error {
			var payload expandTaskPayload
			if err := json.Unmarshal(task.Payload, &payload); err != nil {
				return err
			}
			return handleExpand(ctx, deps, payload)
		})
	})

	g.Go(func() error {
		return httputil.ServeHealth(deps.Log, "expander", deps.Config.Port)
	})

	if err := g.Wait(); err != nil {
		deps.Log.Error("expander service stopped", "err", err)
	}
}

// handleExpand walks every paper in the library that carries a DOI, asks
// Semantic Scholar who cites it, and adds the citing papers that are not in
// the library yet.
func handleExpand(ctx context.Context, deps app.ExpanderDeps, payload expandTaskPayload) error {
	sources, existing, err := libraryDOIs(ctx, deps)
	if err != nil {
		return fmt.Errorf("scan library: %w", err)
	}
	deps.Log.Info("citation expansion starting", "papers_with_doi", len(sources), "limit", payload.Limit)

	candidates := collectCandidates(ctx, deps, sources, existing)
	if payload.Limit > 0 && len(candidates) > payload.Limit {
		candidates = candidates[:payload.Limit]
	}

	var added, failed int
	for _, cand := range candidates {
		if err := addToLibrary(ctx, deps, cand); err != nil {
			deps.Log.Error("failed to add citing paper", "title", cand.paper.Title, "doi", cand.paper.DOI, "err", err)
			failed++
			continue
		}
		deps.Log.Info("added citing paper", "title", cand.paper.Title, "doi", cand.paper.DOI, "source", cand.sourceTitle)
		added++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(createPause):
		}
	}

	deps.Log.Info("citation expansion finished", "candidates", len(candidates), "added", added, "failed", failed)
	return nil
}

// libraryDOIs pages through the Zotero library and returns the items that
// have a DOI plus the set of DOIs already present.
func libraryDOIs(ctx context.Context, deps app.ExpanderDeps) ([]candidate, map[string]struct{}, error) {
	var sources []candidate
	existing := make(map[string]struct{})

	start := 0
	for {
		items, total, err := deps.Zotero.Items(ctx, start, zotero.PageLimit)
		if err != nil {
			return nil, nil, err
		}
		for _, item := range items {
			if item.IsAttachment() || item.Data.DOI == "" {
				continue
			}
			doi := strings.ToLower(item.Data.DOI)
			existing[doi] = struct{}{}
			sources = append(sources, candidate{
				paper:       scholar.Paper{DOI: doi},
				sourceTitle: item.Data.Title,
			})
		}
		start += len(items)
		if start >= total || len(items) == 0 {
			break
		}
	}
	return sources, existing, nil
}

// collectCandidates resolves each source on Semantic Scholar and gathers its
// citing papers, deduplicated by DOI and filtered against the library.
func collectCandidates(ctx context.Context, deps app.ExpanderDeps, sources []candidate, existing map[string]struct{}) []candidate {
	seen := make(map[string]struct{})
	var out []candidate

	for _, src := range sources {
		paper, err := deps.Scholar.PaperByDOI(ctx, src.paper.DOI)
		if err != nil {
			deps.Log.Warn("semantic scholar lookup failed", "doi", src.paper.DOI, "err", err)
			continue
		}
		if paper.PaperID == "" {
			deps.Log.Info("paper not on semantic scholar", "doi", src.paper.DOI)
			continue
		}

		citations, err := deps.Scholar.Citations(ctx, paper.PaperID)
		if err != nil {
			deps.Log.Warn("citation lookup failed", "doi", src.paper.DOI, "err", err)
			continue
		}
		for _, citing := range citations {
			if citing.DOI == "" {
				continue
			}
			if _, ok := existing[citing.DOI]; ok {
				continue
			}
			if _, ok := seen[citing.DOI]; ok {
				continue
			}
			seen[citing.DOI] = struct{}{}
			out = append(out, candidate{paper: citing, sourceTitle: src.sourceTitle})
		}
	}
	return out
}

// addToLibrary creates a Zotero journal article for the citing paper with a
// note recording where it came from.
func addToLibrary(ctx context.Context, deps app.ExpanderDeps, cand candidate) error {
	creators := make([]zotero.Creator, 0, len(cand.paper.Authors))
	for _, name := range cand.paper.Authors {
		first, last := zotero.SplitName(name)
		creators = append(creators, zotero.Creator{
			CreatorType: "author",
			FirstName:   first,
			LastName:    last,
		})
	}
	date := ""
	if cand.paper.Year > 0 {
		date = strconv.Itoa(cand.paper.Year)
	}
	data := zotero.ItemData{
		ItemType: "journalArticle",
		Title:    cand.paper.Title,
		Creators: creators,
		Date:     date,
		DOI:      cand.paper.DOI,
	}
	note := zotero.Note{Note: "Added via citation expansion from: " + cand.sourceTitle}
	return deps.Zotero.CreateItem(ctx, data, note)
}
