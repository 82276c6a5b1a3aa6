package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed prices.yaml
var pricesYAML []byte

// Matcher providers
const (
	MatcherRekognition = "rekognition"
	MatcherVector      = "vector"
)

type Config struct {
	Database    DatabaseConfig
	Auth        AuthConfig
	Web         WebConfig
	AWS         AWSConfig
	Matcher     MatcherConfig
	Embedding   EmbeddingConfig
	Recognition RecognitionConfig
	Lifecycle   LifecycleConfig
	Summary     SummaryConfig
	PhotoStore  PhotoStoreConfig
	Prices      PricesConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// AuthConfig holds the settings for verifying bearer tokens issued by the identity provider.
type AuthConfig struct {
	JWTSecret string
	Audience  string // defaults to "authenticated"
	Issuer    string // optional, checked when set
}

type WebConfig struct {
	AllowedOrigins string // comma-separated CORS whitelist, localhost is always allowed
}

type AWSConfig struct {
	Region          string // defaults to us-east-2
	AccessKeyID     string // optional, default credential chain otherwise
	SecretAccessKey string
	S3Bucket        string // profile photo bucket, local directory store is used when empty
	S3Endpoint      string // optional, for S3-compatible storage
}

// MatcherConfig configures the external face matcher.
type MatcherConfig struct {
	Provider         string        // rekognition (default) or vector
	CollectionPrefix string        // collection name is prefix + event ID
	Threshold        float64       // minimum similarity in [0, 1] (default 0.80)
	SearchLimit      int           // maximum candidates per search (default 10)
	Timeout          time.Duration // per-call timeout (default 5s)
	MaxRetries       int           // retries of a transient indexing failure, 0 or 1 (default 1)
	ANNIndex         bool          // vector provider: search an in-memory HNSW index instead of pgvector
	IndexTTL         time.Duration // vector provider: rebuild a cached index after this long (default 30s)
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
	Dim int    // defaults to 512
}

type RecognitionConfig struct {
	TopN          int   // maximum matches returned (default 5)
	MaxImageBytes int64 // maximum probe image size (default 10 MiB)
}

// LifecycleConfig configures the background indexing and cleanup sweeps.
type LifecycleConfig struct {
	Interval         time.Duration // sweep interval (default 1m)
	Lookahead        time.Duration // index events starting within this window (default 20m)
	CleanupGrace     time.Duration // drop collections this long after an event ends (default 24h)
	Concurrency      int           // parallel enrollments per event (default 4)
	EventConcurrency int           // events indexed in parallel per sweep (default 2)
}

type SummaryConfig struct {
	Provider     string // auto (default), openai, gemini or template
	OpenAIToken  string
	OpenAIModel  string // defaults to gpt-4o-mini
	GeminiAPIKey string
	GeminiModel  string // defaults to gemini-2.5-flash
}

type PhotoStoreConfig struct {
	Dir     string // local directory used when no S3 bucket is configured
	MaxSize int    // longest edge of stored photos in pixels (default 1600)
}

type PricesConfig struct {
	Models map[string]ModelPricing `yaml:"models"`
}

type ModelPricing struct {
	Input  float64 `yaml:"input"`  // USD per 1M input tokens
	Output float64 `yaml:"output"` // USD per 1M output tokens
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envCount is like envInt but accepts zero.
func envCount(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a float in (0, 1]. Values above 1 are read as percentages,
// so MATCHER_THRESHOLD=80 and MATCHER_THRESHOLD=0.8 mean the same.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f > 100 {
		return defaultVal
	}
	if f > 1 {
		f /= 100
	}
	return f
}

// envDuration reads a positive Go duration such as "90s" or "20m".
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var prices PricesConfig
	if err := yaml.Unmarshal(pricesYAML, &prices); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded prices.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			Audience:  envString("JWT_AUDIENCE", "authenticated"),
			Issuer:    os.Getenv("JWT_ISSUER"),
		},
		Web: WebConfig{
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		AWS: AWSConfig{
			Region:          envString("AWS_REGION", "us-east-2"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			S3Bucket:        os.Getenv("S3_BUCKET_NAME"),
			S3Endpoint:      os.Getenv("S3_ENDPOINT"),
		},
		Matcher: MatcherConfig{
			Provider:         strings.ToLower(envString("MATCHER_PROVIDER", MatcherRekognition)),
			CollectionPrefix: envString("MATCHER_COLLECTION_PREFIX", "memento_event_"),
			Threshold:        envFloat("MATCHER_THRESHOLD", 0.80),
			SearchLimit:      envInt("MATCHER_SEARCH_LIMIT", 10),
			Timeout:          envDuration("MATCHER_TIMEOUT", 5*time.Second),
			MaxRetries:       min(envCount("MATCHER_MAX_RETRIES", 1), 1),
			ANNIndex:         envBool("MATCHER_ANN_INDEX", false),
			IndexTTL:         envDuration("MATCHER_INDEX_TTL", 30*time.Second),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
			Dim: envInt("EMBEDDING_DIM", 512),
		},
		Recognition: RecognitionConfig{
			TopN:          envInt("RECOGNITION_TOP_N", 5),
			MaxImageBytes: int64(envInt("RECOGNITION_MAX_IMAGE_BYTES", 10<<20)),
		},
		Lifecycle: LifecycleConfig{
			Interval:         envDuration("SWEEP_INTERVAL", time.Minute),
			Lookahead:        envDuration("SWEEP_LOOKAHEAD", 20*time.Minute),
			CleanupGrace:     envDuration("CLEANUP_GRACE", 24*time.Hour),
			Concurrency:      envInt("SWEEP_CONCURRENCY", 4),
			EventConcurrency: envInt("SWEEP_EVENT_CONCURRENCY", 2),
		},
		Summary: SummaryConfig{
			Provider:     strings.ToLower(envString("SUMMARY_PROVIDER", "auto")),
			OpenAIToken:  os.Getenv("OPENAI_TOKEN"),
			OpenAIModel:  envString("OPENAI_MODEL", "gpt-4o-mini"),
			GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
			GeminiModel:  envString("GEMINI_MODEL", "gemini-2.5-flash"),
		},
		PhotoStore: PhotoStoreConfig{
			Dir:     envString("PHOTO_STORE_DIR", "./data/photos"),
			MaxSize: envInt("PHOTO_MAX_SIZE", 1600),
		},
		Prices: prices,
	}
}

// GetModelPricing returns pricing for a specific model, zero if unknown
func (c *Config) GetModelPricing(modelName string) ModelPricing {
	if pricing, ok := c.Prices.Models[modelName]; ok {
		return pricing
	}
	return ModelPricing{}
}

// Cost returns the USD cost of a request with the given token usage.
func (p ModelPricing) Cost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1_000_000*p.Input + float64(outputTokens)/1_000_000*p.Output
}
