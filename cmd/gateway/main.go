package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"refdesk/internal/app"
	"refdesk/internal/assistant"
	"refdesk/internal/cache"
	"refdesk/internal/httputil"
	"refdesk/internal/llm"
	"refdesk/internal/queue"
	"refdesk/internal/store"
)

type queryRequest struct {
	Question string `json:"question" validate:"required,min=3,max=500"`
	Model    string `json:"model" validate:"omitempty"`
	TopK     int    `json:"top_k" validate:"omitempty,min=1,max=20"`
}

type analyzeRequest struct {
	Title string `json:"title" validate:"required,min=1,max=500"`
}

type compareRequest struct {
	Titles []string `json:"titles" validate:"required,min=2,dive,min=1,max=500"`
}

type syncRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=new_only update_all from_scratch"`
}

type indexTaskPayload struct {
	Mode string `json:"mode"`
}

type expandRequest struct {
	Limit int `json:"limit" validate:"omitempty,min=1,max=1000"`
}

type expandTaskPayload struct {
	Limit int `json:"limit"`
}

func main() {
	deps, err := app.BuildGateway()
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Cache.Close()

	r := httputil.NewRouter(deps.Log)

	r.Post("/api/query", queryHandler(deps))
	r.Get("/api/models", modelsHandler(deps))
	r.Post("/api/papers/analyze", analyzeHandler(deps))
	r.Post("/api/papers/compare", compareHandler(deps))
	r.Get("/api/papers/search", searchHandler(deps))
	r.Get("/api/library/stats", statsHandler(deps))
	r.Post("/api/library/sync", syncHandler(deps))
	r.Post("/api/library/expand", expandHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log))

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	deps.Log.Info("gateway listening", "addr", addr, "model", deps.Config.LLMModel)
	if err := http.ListenAndServe(addr, r); err != nil {
		deps.Log.Error("server failed", "err", err)
	}
}

// resolveAssistant returns the default assistant, or one backed by the
// requested model when the request overrides it.
func resolveAssistant(deps app.GatewayDeps, model string) (*assistant.Assistant, string, error) {
	if model == "" || model == deps.Config.LLMModel {
		return assistant.New(deps.Store, deps.Embedder, deps.LLM, deps.Log), deps.Config.LLMModel, nil
	}
	client, err := llm.New(model, app.Credentials(deps.Config))
	if err != nil {
		return nil, "", err
	}
	return assistant.New(deps.Store, deps.Embedder, client, deps.Log), model, nil
}

func queryHandler(deps app.GatewayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}
		if req.TopK == 0 {
			req.TopK = 5
		}

		ctx := r.Context()

		asst, model, err := resolveAssistant(deps, req.Model)
		if err != nil {
			if errors.Is(err, llm.ErrUnknownModel) {
				httputil.Fail(deps.Log, w, err.Error(), err, http.StatusBadRequest)
				return
			}
			httputil.Fail(deps.Log, w, "failed to initialize model", err, http.StatusInternalServerError)
			return
		}

		cacheKey := cache.Key(req.Question, model, req.TopK)
		if cached, err := deps.Cache.GetAnswer(ctx, cacheKey); err == nil && cached != nil {
			deps.Log.Info("cache hit", "question", req.Question, "model", model)
			httputil.WriteJSON(w, http.StatusOK, map[string]any{
				"answer":  cached.Text,
				"model":   cached.Model,
				"sources": cached.Sources,
				"cached":  true,
			})
			return
		}

		answer, err := asst.Query(ctx, req.Question, req.TopK)
		if err != nil {
			httputil.Fail(deps.Log, w, "query failed", err, http.StatusInternalServerError)
			return
		}

		ttl := time.Duration(deps.Config.CacheTTL) * time.Second
		if err := deps.Cache.SetAnswer(ctx, cacheKey, toCacheAnswer(answer, model), ttl); err != nil {
			// Cache write failures never fail the request.
			deps.Log.Warn("failed to cache answer", "err", err)
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"answer":  answer.Text,
			"model":   model,
			"sources": answer.Sources,
			"cached":  false,
		})
	}
}

func modelsHandler(deps app.GatewayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		models := make([]map[string]string, 0, len(llm.Models))
		for _, name := range llm.Available() {
			cfg := llm.Models[name]
			models = append(models, map[string]string{
				"name":        name,
				"provider":    string(cfg.Provider),
				"model":       cfg.Model,
				"description": cfg.Description,
			})
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"models":  models,
			"default": deps.Config.LLMModel,
		})
	}
}

func analyzeHandler(deps app.GatewayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		asst := assistant.New(deps.Store, deps.Embedder, deps.LLM, deps.Log)
		analysis, err := asst.AnalyzePaper(r.Context(), req.Title)
		if err != nil {
			if errors.Is(err, store.ErrPaperNotFound) {
				httputil.Fail(deps.Log, w, "paper not found: "+req.Title, err, http.StatusNotFound)
				return
			}
			httputil.Fail(deps.Log, w, "analysis failed", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"title":    req.Title,
			"analysis": analysis,
		})
	}
}

func compareHandler(deps app.GatewayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req compareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
			return
		}
		if err := httputil.Validator.Struct(&req); err != nil {
			httputil.ValidationError(deps.Log, w, err)
			return
		}

		asst := assistant.New(deps.Store, deps.Embedder, deps.LLM, deps.Log)
		comparison, err := asst.ComparePapers(r.Context(), req.Titles)
		if err != nil {
			if errors.Is(err, assistant.ErrNoPapersFound) {
				httputil.Fail(deps.Log, w, err.Error(), err, http.StatusNotFound)
				return
			}
			httputil.Fail(deps.Log, w, "comparison failed", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"titles":     req.Titles,
			"comparison": comparison,
		})
	}
}

func searchHandler(deps app.GatewayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if len(query) < 3 {
			httputil.Fail(deps.Log, w, "query parameter q is required (min 3 chars)", nil, http.StatusBadRequest)
			return
		}
		topK := 5
		if k := r.URL.Query().Get("k"); k != "" {
			if _, err := fmt.Sscanf(k, "%d", &topK); err != nil || topK < 1 || topK > 20 {
				httputil.Fail(deps.Log, w, "k must be an integer between 1 and 20", err, http.StatusBadRequest)
				return
			}
		}

		asst := assistant.New(deps.Store, deps.Embedder, deps.LLM, deps.Log)
		results, err := asst.Search(r.Context(), query, topK)
		if err != nil {
			httputil.Fail(deps.Log, w, "search failed", err, http.StatusInternalServerError)
			return
		}

		type hit struct {
			ChunkID string  `json:"chunk_id"`
			Title   string  `json:"title"`
			Authors string  `json:"authors"`
			Year    string  `json:"year"`
			Score   float32 `json:"score"`
			Text    string  `json:"text"`
		}
		hits := make([]hit, len(results))
		for i, res := range results {
			hits[i] = hit{
				ChunkID: res.Chunk.ID.String(),
				Title:   res.Paper.Title,
				Authors: res.Paper.Authors,
				Year:    res.Paper.Year,
				Score:   res.Score,
				Text:    res.Chunk.Text,
			}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"query":   query,
			"results": hits,
		})
	}
}

func statsHandler(deps app.GatewayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Stats(r.Context())
		if err != nil {
			httputil.Fail(deps.Log, w, "failed to read stats", err, http.StatusInternalServerError)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"papers":         stats.Papers,
			"indexed_papers": stats.IndexedPapers,
			"chunks":         stats.Chunks,
		})
	}
}

func syncHandler(deps app.GatewayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req syncRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
				return
			}
			if err := httputil.Validator.Struct(&req); err != nil {
				httputil.ValidationError(deps.Log, w, err)
				return
			}
		}
		if req.Mode == "" {
			req.Mode = "new_only"
		}

		ctx := r.Context()
		body, err := json.Marshal(indexTaskPayload{Mode: req.Mode})
		if err != nil {
			httputil.Fail(deps.Log, w, "marshal payload failed", err, http.StatusInternalServerError)
			return
		}
		task := queue.Task{Type: queue.TaskTypeIndex, Payload: body}
		if err := queue.EnqueueWithRetry(ctx, deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			httputil.Fail(deps.Log, w, "failed to enqueue sync; please retry", err, http.StatusInternalServerError)
			return
		}

		// Indexing changes the ground truth under cached answers.
		if err := deps.Cache.InvalidateAll(ctx); err != nil {
			deps.Log.Warn("failed to invalidate cache", "err", err)
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"status": "queued",
			"mode":   req.Mode,
		})
	}
}

func expandHandler(deps app.GatewayDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req expandRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httputil.Fail(deps.Log, w, "invalid payload", err, http.StatusBadRequest)
				return
			}
			if err := httputil.Validator.Struct(&req); err != nil {
				httputil.ValidationError(deps.Log, w, err)
				return
			}
		}

		body, err := json.Marshal(expandTaskPayload{Limit: req.Limit})
		if err != nil {
			httputil.Fail(deps.Log, w, "marshal payload failed", err, http.StatusInternalServerError)
			return
		}
		task := queue.Task{Type: queue.TaskTypeExpand, Payload: body}
		if err := queue.EnqueueWithRetry(r.Context(), deps.Queue, task, 3, 200*time.Millisecond); err != nil {
			httputil.Fail(deps.Log, w, "failed to enqueue expansion; please retry", err, http.StatusInternalServerError)
			return
		}

		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{
			"status": "queued",
		})
	}
}

func toCacheAnswer(answer assistant.Answer, model string) *cache.Answer {
	sources := make([]cache.Source, len(answer.Sources))
	for i, s := range answer.Sources {
		sources[i] = cache.Source{
			ChunkID: s.ChunkID,
			Title:   s.Title,
			Score:   s.Score,
			Preview: s.Preview,
		}
	}
	return &cache.Answer{Text: answer.Text, Model: model, Sources: sources}
}
