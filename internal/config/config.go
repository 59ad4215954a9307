package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/seerstack/logseer/internal/domain"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	// Root directory for all per-issue state (raw logs, indexes, cache).
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// Optional: Postgres-backed embedding cache and retrieval log. When unset
	// the cache falls back to the JSONL file store under DataDir.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	// Pool bounds for the database connection pool; zero keeps the driver
	// defaults.
	DBMaxConns int32 `envconfig:"DB_MAX_CONNS" default:"0"`
	DBMinConns int32 `envconfig:"DB_MIN_CONNS" default:"0"`

	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"800"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"100"`
	TopK         int `envconfig:"TOP_K" default:"5"`

	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" default:"gemini:text-embedding-004"`
	LLMModel       string `envconfig:"LLM_MODEL" default:"gemini:gemini-2.0-flash"`

	EmbedBatchSize   int           `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	EmbedMaxAttempts int           `envconfig:"EMBED_MAX_ATTEMPTS" default:"3"`
	EmbedRetryBase   time.Duration `envconfig:"EMBED_RETRY_BASE" default:"1s"`
	EmbedConcurrency int           `envconfig:"EMBED_CONCURRENCY" default:"4"`
	ProviderTimeout  time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"30s"`

	BuildWorkers       int           `envconfig:"BUILD_WORKERS" default:"2"`
	WorkerPollInterval time.Duration `envconfig:"WORKER_POLL_INTERVAL" default:"500ms"`

	CacheMaxEntries int           `envconfig:"CACHE_MAX_ENTRIES" default:"10000"`
	CacheMemSize    int           `envconfig:"CACHE_MEM_SIZE" default:"2048"`
	CacheMemTTL     time.Duration `envconfig:"CACHE_MEM_TTL" default:"1h"`

	// Indexes larger than this open file-backed instead of fully in memory.
	IndexMemoryLimit int64 `envconfig:"INDEX_MEMORY_LIMIT" default:"67108864"`

	MaxUploadBytes int64    `envconfig:"MAX_UPLOAD_BYTES" default:"52428800"`
	MaxBodyBytes   int64    `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	LogExtensions  []string `envconfig:"LOG_EXTENSIONS" default:".log,.txt,.jsonl"`

	ChatHistoryLimit int `envconfig:"CHAT_HISTORY_LIMIT" default:"500"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`

	// Optional: mirror uploaded raw logs to an S3-compatible bucket.
	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"logseer-logs"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LOGSEER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate rejects parameter combinations that would make builds or queries
// fail later. Surfaced before any processing starts.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return domain.ErrInvalidChunkSize
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return domain.ErrInvalidOverlap
	}
	if c.TopK <= 0 {
		return domain.ErrInvalidTopK
	}
	if _, err := domain.ParseModelID(c.EmbeddingModel); err != nil {
		return err
	}
	if _, err := domain.ParseModelID(c.LLMModel); err != nil {
		return err
	}
	if c.EmbedBatchSize <= 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "embed batch size must be greater than zero")
	}
	if c.EmbedMaxAttempts <= 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "embed max attempts must be greater than zero")
	}
	if c.EmbedConcurrency <= 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "embed concurrency must be greater than zero")
	}
	if c.BuildWorkers <= 0 {
		return domain.NewDomainError(domain.ErrCodeConfiguration, "build workers must be greater than zero")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasGemini() bool {
	return c.GeminiAPIKey != ""
}
