package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"

	"refdesk/internal/cache"
	"refdesk/internal/config"
	"refdesk/internal/embeddings"
	"refdesk/internal/llm"
	"refdesk/internal/logger"
	"refdesk/internal/queue"
	"refdesk/internal/scholar"
	"refdesk/internal/store"
	"refdesk/internal/zotero"
)

// Deps bundles runtime dependencies shared by all services.
type Deps struct {
	Config config.Config
	Log    *slog.Logger
	Store  store.Store
	Queue  queue.Queue
}

// GatewayDeps adds the pieces the HTTP API needs.
type GatewayDeps struct {
	Deps
	Cache    cache.Cache
	Embedder embeddings.Embedder
	LLM      llm.Client
}

// IndexerDeps adds the pieces the library indexer needs.
type IndexerDeps struct {
	Deps
	Zotero   *zotero.Client
	Embedder embeddings.Embedder
}

// ExpanderDeps adds the pieces the citation expander needs.
type ExpanderDeps struct {
	Deps
	Zotero  *zotero.Client
	Scholar *scholar.Client
}

// Build loads env, config, and the components every service shares.
func Build() (Deps, error) {
	// The .env secrets file is optional; in deployment the variables may
	// arrive through the real environment instead.
	if err := godotenv.Load(); err != nil {
		slog.Default().Warn("no .env file loaded", "err", err)
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)

	st, err := buildStore(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize store: %w", err)
	}
	q, err := buildQueue(cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize queue: %w", err)
	}
	return Deps{Config: cfg, Log: log, Store: st, Queue: q}, nil
}

// BuildGateway wires the HTTP API service.
func BuildGateway() (GatewayDeps, error) {
	deps, err := Build()
	if err != nil {
		return GatewayDeps{}, err
	}
	embedder, err := buildEmbedder(deps.Config, deps.Log)
	if err != nil {
		return GatewayDeps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	client, err := llm.New(deps.Config.LLMModel, Credentials(deps.Config))
	if err != nil {
		return GatewayDeps{}, fmt.Errorf("failed to initialize LLM: %w", err)
	}
	deps.Log.Info("using LLM model", "model", deps.Config.LLMModel)

	return GatewayDeps{
		Deps:     deps,
		Cache:    buildCache(deps.Config, deps.Log),
		Embedder: embedder,
		LLM:      client,
	}, nil
}

// BuildIndexer wires the library indexing worker.
func BuildIndexer() (IndexerDeps, error) {
	deps, err := Build()
	if err != nil {
		return IndexerDeps{}, err
	}
	zot, err := zotero.NewClient(deps.Config.ZoteroLibraryID, deps.Config.ZoteroAPIKey, deps.Log)
	if err != nil {
		return IndexerDeps{}, fmt.Errorf("failed to initialize zotero client: %w", err)
	}
	embedder, err := buildEmbedder(deps.Config, deps.Log)
	if err != nil {
		return IndexerDeps{}, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return IndexerDeps{Deps: deps, Zotero: zot, Embedder: embedder}, nil
}

// BuildExpander wires the citation expansion worker.
func BuildExpander() (ExpanderDeps, error) {
	deps, err := Build()
	if err != nil {
		return ExpanderDeps{}, err
	}
	zot, err := zotero.NewClient(deps.Config.ZoteroLibraryID, deps.Config.ZoteroAPIKey, deps.Log)
	if err != nil {
		return ExpanderDeps{}, fmt.Errorf("failed to initialize zotero client: %w", err)
	}
	interval := time.Duration(deps.Config.ScholarRateLimit * float64(time.Second))
	return ExpanderDeps{
		Deps:    deps,
		Zotero:  zot,
		Scholar: scholar.NewClient(deps.Config.SemanticAPIKey, interval),
	}, nil
}

// Credentials maps config onto the LLM registry's per-provider keys.
func Credentials(cfg config.Config) llm.Credentials {
	return llm.Credentials{
		OpenAIKey:    cfg.OpenAIKey,
		AnthropicKey: cfg.AnthropicKey,
		DeepSeekKey:  cfg.DeepSeekKey,
	}
}

func buildStore(cfg config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.DBURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}
	dims := embeddings.ModelDimensions(cfg.EmbeddingModel)
	db, err := store.NewPostgres(cfg.DBURL, dims)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
	}
	log.Info("using Postgres store", "vector_dims", dims)
	return db, nil
}

func buildQueue(cfg config.Config, log *slog.Logger) (queue.Queue, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("QUEUE_URL is required")
	}
	nc, err := nats.Connect(cfg.QueueURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info("using NATS queue")
	return queue.NewNATS(log, nc), nil
}

func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	if cfg.RedisAddr == "" {
		log.Info("no REDIS_ADDR configured; query caching disabled")
		return cache.NewNoOpCache()
	}
	c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Warn("redis unavailable; query caching disabled", "err", err)
		return cache.NewNoOpCache()
	}
	log.Info("using Redis cache", "addr", cfg.RedisAddr)
	return c
}

func buildEmbedder(cfg config.Config, log *slog.Logger) (embeddings.Embedder, error) {
	embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel))
	if err != nil {
		return nil, err
	}
	log.Info("using OpenAI embedder", "model", cfg.EmbeddingModel)
	return embedder, nil
}
