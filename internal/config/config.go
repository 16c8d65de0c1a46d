package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"

	"github.com/xxxsen/jarvis/internal/pkg/errs"
)

// Config is the full runtime configuration, read from environment variables
// (optionally seeded from a dotenv file). Every knob has a default matching
// the deployment this service was built for; only DATABASE_URL is mandatory.
type Config struct {
	Port   int
	APIKey string

	LogConfig logger.LogConfig

	// DatabaseURL is the Postgres DSN of the vector store.
	DatabaseURL string

	AI AIConfig

	ChunkSize           int
	ChunkOverlap        int
	SimilarityThreshold float32
	MaxSearchResults    int

	MaxConversationHistory int
	ConversationTTL        time.Duration

	DefaultTemperature float64
	DefaultMaxTokens   int

	ResponseCacheTTL  time.Duration
	ResponseCacheSize int
	EmbedCacheSize    int
	EmbedCacheTTL     time.Duration

	TempStoragePath string
	UploadRetention time.Duration
	CleanupSpec     string

	FileStore FileStoreConfig

	CORSOrigins     []string
	RateLimitWindow time.Duration
}

// AIConfig selects and configures the model providers. The chat provider and
// the embedding provider are chosen independently so a local Ollama can serve
// generation while embeddings come from elsewhere (or vice versa).
type AIConfig struct {
	Provider      string
	EmbedProvider string

	ChatModel      string
	EmbedModel     string
	EmbedDimension int

	OllamaHost    string
	OpenAIKey     string
	OpenAIBaseURL string
	GeminiKey     string

	Timeout time.Duration
}

// ProviderArgs returns the factory arguments for the named provider.
func (c AIConfig) ProviderArgs(name string) map[string]interface{} {
	switch name {
	case "openai":
		return map[string]interface{}{"api_key": c.OpenAIKey, "base_url": c.OpenAIBaseURL}
	case "gemini":
		return map[string]interface{}{"api_key": c.GeminiKey}
	default:
		return map[string]interface{}{"host": c.OllamaHost, "timeout": int(c.Timeout.Seconds())}
	}
}

type FileStoreConfig struct {
	Type string
	Dir  string
	S3   S3Config
}

type S3Config struct {
	Endpoint  string
	SecretID  string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
	UseSSL    bool
}

// Load reads configuration from the environment. envFile, when non-empty,
// is loaded first via godotenv; a missing default file is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: load env file %s: %v", errs.ErrConfig, envFile, err)
		}
	}

	cfg := &Config{
		Port:   getInt("PORT", 8000),
		APIKey: os.Getenv("API_KEY"),
		LogConfig: logger.LogConfig{
			File:    os.Getenv("LOG_FILE"),
			Level:   getString("LOG_LEVEL", "info"),
			Console: getBool("LOG_CONSOLE", true),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AI: AIConfig{
			Provider:       getString("AI_PROVIDER", "ollama"),
			EmbedProvider:  getString("EMBED_PROVIDER", getString("AI_PROVIDER", "ollama")),
			ChatModel:      getString("OLLAMA_MODEL", "llama3.2:3b"),
			EmbedModel:     getString("EMBEDDING_MODEL", "all-minilm"),
			EmbedDimension: getInt("EMBEDDING_DIMENSION", 384),
			OllamaHost:     getString("OLLAMA_HOST", "http://127.0.0.1:11434"),
			OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
			GeminiKey:      os.Getenv("GEMINI_API_KEY"),
			Timeout:        getDuration("AI_TIMEOUT", 120*time.Second),
		},
		ChunkSize:              getInt("DEFAULT_CHUNK_SIZE", 512),
		ChunkOverlap:           getInt("DEFAULT_CHUNK_OVERLAP", 50),
		SimilarityThreshold:    float32(getFloat("SIMILARITY_THRESHOLD", 0.6)),
		MaxSearchResults:       getInt("MAX_SEARCH_RESULTS", 5),
		MaxConversationHistory: getInt("MAX_CONVERSATION_HISTORY", 10),
		ConversationTTL:        getDuration("CONVERSATION_TTL", 2*time.Hour),
		DefaultTemperature:     getFloat("DEFAULT_TEMPERATURE", 0.7),
		DefaultMaxTokens:       getInt("DEFAULT_MAX_TOKENS", 1500),
		ResponseCacheTTL:       getDuration("RESPONSE_CACHE_TTL", 5*time.Minute),
		ResponseCacheSize:      getInt("RESPONSE_CACHE_SIZE", 1000),
		EmbedCacheSize:         getInt("EMBED_CACHE_SIZE", 10000),
		EmbedCacheTTL:          getDuration("EMBED_CACHE_TTL", 2*time.Hour),
		TempStoragePath:        getString("TEMP_STORAGE_PATH", "./temp-storage"),
		UploadRetention:        getDuration("UPLOAD_RETENTION", 24*time.Hour),
		CleanupSpec:            getString("CLEANUP_SPEC", "*/30 * * * *"),
		FileStore: FileStoreConfig{
			Type: getString("FILE_STORE_TYPE", "local"),
			Dir:  getString("FILE_STORE_DIR", "./uploads"),
			S3: S3Config{
				Endpoint:  os.Getenv("S3_ENDPOINT"),
				SecretID:  os.Getenv("S3_SECRET_ID"),
				SecretKey: os.Getenv("S3_SECRET_KEY"),
				Bucket:    os.Getenv("S3_BUCKET"),
				Region:    getString("S3_REGION", "us-east-1"),
				Prefix:    os.Getenv("S3_PREFIX"),
				UseSSL:    getBool("S3_USE_SSL", true),
			},
		},
		CORSOrigins:     splitList(os.Getenv("CORS_ORIGINS")),
		RateLimitWindow: getDuration("RATE_LIMIT_WINDOW", 0),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", errs.ErrConfig)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: DEFAULT_CHUNK_SIZE must be positive, got %d", errs.ErrConfig, c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: DEFAULT_CHUNK_OVERLAP must be in [0, chunk size), got %d", errs.ErrConfig, c.ChunkOverlap)
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: SIMILARITY_THRESHOLD must be between 0 and 1, got %v", errs.ErrConfig, c.SimilarityThreshold)
	}
	if c.MaxSearchResults < 1 {
		return fmt.Errorf("%w: MAX_SEARCH_RESULTS must be at least 1, got %d", errs.ErrConfig, c.MaxSearchResults)
	}
	if c.MaxConversationHistory < 1 {
		return fmt.Errorf("%w: MAX_CONVERSATION_HISTORY must be at least 1, got %d", errs.ErrConfig, c.MaxConversationHistory)
	}
	if c.AI.EmbedDimension <= 0 {
		return fmt.Errorf("%w: EMBEDDING_DIMENSION must be positive, got %d", errs.ErrConfig, c.AI.EmbedDimension)
	}
	switch c.FileStore.Type {
	case "local":
		if c.FileStore.Dir == "" {
			return fmt.Errorf("%w: FILE_STORE_DIR is required for the local store", errs.ErrConfig)
		}
	case "s3":
		s3 := c.FileStore.S3
		if s3.Endpoint == "" || s3.Bucket == "" || s3.SecretID == "" || s3.SecretKey == "" {
			return fmt.Errorf("%w: S3_ENDPOINT/S3_BUCKET/S3_SECRET_ID/S3_SECRET_KEY are required for the s3 store", errs.ErrConfig)
		}
	default:
		return fmt.Errorf("%w: FILE_STORE_TYPE must be local or s3", errs.ErrConfig)
	}
	return nil
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// getDuration accepts either a Go duration string or a bare number of
// seconds, so RESPONSE_CACHE_TTL=5m and RESPONSE_CACHE_TTL=300 both work.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
