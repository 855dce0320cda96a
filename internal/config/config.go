package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration. Credentials come from a local .env
// file that stays out of version control.
type Config struct {
	// Server
	Port     int    `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Zotero library access
	ZoteroAPIKey    string `env:"API_KEY"`
	ZoteroLibraryID string `env:"LIBRARY_ID"`
	ZoteroStorage   string `env:"ZOTERO_STORAGE_PATH" envDefault:"~/Zotero/storage"`

	// Store
	DBURL string `env:"DB_URL"`

	// Queue
	QueueURL string `env:"QUEUE_URL"`

	// Cache
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"3600"` // seconds

	// LLM providers. Only the key for the selected model's provider is required.
	OpenAIKey    string `env:"OPENAI_API_KEY"`
	AnthropicKey string `env:"ANTHROPIC_API_KEY"`
	DeepSeekKey  string `env:"DEEPSEEK_API_KEY"`
	LLMModel     string `env:"LLM_MODEL" envDefault:"claude-sonnet"`

	// Embeddings
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`

	// Semantic Scholar (citation expansion)
	SemanticAPIKey   string  `env:"SEMANTIC_API_KEY"`
	ScholarRateLimit float64 `env:"SCHOLAR_RATE_LIMIT" envDefault:"1.1"` // seconds between calls

	// Chunking. Zero values derive the window from the embedding model's
	// token limit and the ratios below.
	ChunkSize           int     `env:"CHUNK_SIZE"`
	ChunkOverlap        int     `env:"CHUNK_OVERLAP"`
	WordsPerToken       float64 `env:"WORDS_PER_TOKEN" envDefault:"0.75"`
	MaxTokenUtilization float64 `env:"MAX_TOKEN_UTILIZATION" envDefault:"0.9"`
	OverlapRatio        float64 `env:"OVERLAP_RATIO" envDefault:"0.2"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}

// ExpandHome resolves a leading ~ in a path against the current user's home
// directory. Paths without a ~ prefix are returned unchanged.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
