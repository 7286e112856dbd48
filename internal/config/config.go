// Package config loads process configuration from the environment, with an
// optional .env overlay (github.com/joho/godotenv) and an optional static
// YAML file read first and overridden by the environment, following the
// env-var-first pattern the teacher's config loader used.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the fully resolved process configuration. Every field name on
// the operator-facing subsections preserves the literal environment
// variable names operators already know.
type Config struct {
	Host string
	Port int

	Chunking  ChunkingConfig
	Embedding EmbeddingConfig
	Retrieval RetrievalConfig
	Context   ContextConfig
	Chat      ChatConfig
	Citation  CitationConfig

	Postgres           PostgresConfig
	Vertex             VertexConfig
	Qdrant             QdrantConfig
	VectorIndexBackend string // "vertex" | "qdrant" | "fallback"

	Redis      RedisConfig
	Kafka      KafkaConfig
	ClickHouse ClickHouseConfig

	Anthropic         AnthropicConfig
	OpenAI            OpenAIConfig
	GeneratorProvider string // "anthropic" | "openai"

	LogLevel string
	LogPath  string

	Obs ObsConfig
}

// ObsConfig configures the optional OpenTelemetry tracing/metrics exporter.
// Left with OTLP empty, the process runs with zerolog-only observability.
type ObsConfig struct {
	OTLP           string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

type ChunkingConfig struct {
	TargetSize int
	MinSize    int
	MaxSize    int
	Overlap    int
}

type EmbeddingConfig struct {
	Dimensions int
	Host       string
	BaseURL    string
	Path       string
	Model      string
	APIKey     string
	APIHeader  string
	Timeout    int // seconds
	BatchSize  int
}

type RetrievalConfig struct {
	VectorTopK          int
	LexicalTopK         int
	LexicalMaxTerms     int
	RecencyTopK         int
	MMREnabled          bool
	MMRLambda           float64
	MinRelevance        float64
	WeightVector        float64
	WeightLexical       float64
	WeightRecency       float64
	RRFK                int
	RRFFusionEnabled    bool
	EntityExpandedDays  int
	EntityExpandedLimit int
	CrossEncoderEnabled bool
	CrossEncoderHost    string
}

type ContextConfig struct {
	BudgetChars  int
	ReserveChars int
}

type ChatConfig struct {
	Temperature float64
	TimeoutMS   int
}

type CitationConfig struct {
	MinOverlapScore float64
	SnippetMaxLen   int
}

type PostgresConfig struct {
	DSN string
}

type VertexConfig struct {
	IndexEndpointResource string
	DeployedIndexID       string
	DistanceMetric        string // COSINE | DOT_PRODUCT | SQUARED_L2
	Project               string
	Region                string
}

type QdrantConfig struct {
	DSN        string
	Collection string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

type ClickHouseConfig struct {
	DSN string
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

// Load reads a .env overlay (if present), an optional static YAML file
// (NOTESRAG_CONFIG_FILE), then applies environment variables on top of
// both — env always wins.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Defaults()

	if path := os.Getenv("NOTESRAG_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Defaults returns the configuration with every spec-mandated default
// applied, before any file or environment overlay.
func Defaults() Config {
	return Config{
		Host: "0.0.0.0",
		Port: 8080,
		Chunking: ChunkingConfig{
			TargetSize: 450,
			MinSize:    80,
			MaxSize:    700,
			Overlap:    75,
		},
		Embedding: EmbeddingConfig{
			Dimensions: 768,
			Path:       "/v1/embeddings",
			APIHeader:  "Authorization",
			Timeout:    30,
			BatchSize:  10,
		},
		Retrieval: RetrievalConfig{
			VectorTopK:          500,
			LexicalTopK:         200,
			LexicalMaxTerms:     15,
			RecencyTopK:         75,
			MMREnabled:          true,
			MMRLambda:           0.65,
			MinRelevance:        0.25,
			WeightVector:        0.40,
			WeightLexical:       0.40,
			WeightRecency:       0.10,
			RRFK:                60,
			EntityExpandedDays:  365,
			EntityExpandedLimit: 500,
			CrossEncoderEnabled: true,
		},
		Context: ContextConfig{
			BudgetChars:  100000,
			ReserveChars: 4000,
		},
		Chat: ChatConfig{
			Temperature: 0.1,
			TimeoutMS:   30000,
		},
		Citation: CitationConfig{
			MinOverlapScore: 0.15,
			SnippetMaxLen:   250,
		},
		Vertex: VertexConfig{
			DistanceMetric: "COSINE",
		},
		VectorIndexBackend: "fallback",
		GeneratorProvider:  "anthropic",
		LogLevel:           "info",
		Obs: ObsConfig{
			ServiceName:    "notesrag",
			ServiceVersion: "dev",
			Environment:    "development",
		},
	}
}

func applyEnv(cfg *Config) {
	strVar(&cfg.Host, "HOST")
	intVar(&cfg.Port, "PORT")

	intVar(&cfg.Chunking.TargetSize, "CHUNK_TARGET_SIZE")
	intVar(&cfg.Chunking.MinSize, "CHUNK_MIN_SIZE")
	intVar(&cfg.Chunking.MaxSize, "CHUNK_MAX_SIZE")
	intVar(&cfg.Chunking.Overlap, "CHUNK_OVERLAP")

	intVar(&cfg.Embedding.Dimensions, "EMBEDDING_DIMENSIONS")
	strVar(&cfg.Embedding.Host, "EMBEDDING_HOST")
	strVar(&cfg.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	strVar(&cfg.Embedding.Path, "EMBEDDING_PATH")
	strVar(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	strVar(&cfg.Embedding.APIKey, "EMBEDDING_API_KEY")
	strVar(&cfg.Embedding.APIHeader, "EMBEDDING_API_HEADER")
	intVar(&cfg.Embedding.Timeout, "EMBEDDING_TIMEOUT_SECONDS")
	intVar(&cfg.Embedding.BatchSize, "EMBEDDING_BATCH_SIZE")

	intVar(&cfg.Retrieval.VectorTopK, "RETRIEVAL_VECTOR_TOP_K")
	intVar(&cfg.Retrieval.LexicalTopK, "RETRIEVAL_LEXICAL_TOP_K")
	intVar(&cfg.Retrieval.LexicalMaxTerms, "RETRIEVAL_LEXICAL_MAX_TERMS")
	intVar(&cfg.Retrieval.RecencyTopK, "RETRIEVAL_RECENCY_TOP_K")
	boolVar(&cfg.Retrieval.MMREnabled, "RETRIEVAL_MMR_ENABLED")
	floatVar(&cfg.Retrieval.MMRLambda, "RETRIEVAL_MMR_LAMBDA")
	floatVar(&cfg.Retrieval.MinRelevance, "RETRIEVAL_MIN_RELEVANCE")
	floatVar(&cfg.Retrieval.WeightVector, "SCORE_WEIGHT_VECTOR")
	floatVar(&cfg.Retrieval.WeightLexical, "SCORE_WEIGHT_LEXICAL")
	floatVar(&cfg.Retrieval.WeightRecency, "SCORE_WEIGHT_RECENCY")
	intVar(&cfg.Retrieval.RRFK, "RRF_K")
	boolVar(&cfg.Retrieval.RRFFusionEnabled, "RRF_FUSION_ENABLED")
	boolVar(&cfg.Retrieval.CrossEncoderEnabled, "CROSS_ENCODER_ENABLED")
	strVar(&cfg.Retrieval.CrossEncoderHost, "CROSS_ENCODER_HOST")

	intVar(&cfg.Context.BudgetChars, "LLM_CONTEXT_BUDGET_CHARS")
	intVar(&cfg.Context.ReserveChars, "LLM_CONTEXT_RESERVE_CHARS")

	floatVar(&cfg.Chat.Temperature, "CHAT_TEMPERATURE")
	intVar(&cfg.Chat.TimeoutMS, "CHAT_TIMEOUT_MS")

	floatVar(&cfg.Citation.MinOverlapScore, "CITATION_MIN_OVERLAP_SCORE")

	strVar(&cfg.Postgres.DSN, "POSTGRES_DSN")

	strVar(&cfg.Vertex.IndexEndpointResource, "VERTEX_INDEX_ENDPOINT_RESOURCE")
	strVar(&cfg.Vertex.DeployedIndexID, "VERTEX_DEPLOYED_INDEX_ID")
	strVar(&cfg.Vertex.DistanceMetric, "VERTEX_DISTANCE_METRIC")

	strVar(&cfg.Qdrant.DSN, "QDRANT_DSN")
	strVar(&cfg.Qdrant.Collection, "QDRANT_COLLECTION")
	strVar(&cfg.VectorIndexBackend, "VECTOR_INDEX_BACKEND")

	strVar(&cfg.Redis.Addr, "REDIS_ADDR")
	strVar(&cfg.Redis.Password, "REDIS_PASSWORD")
	intVar(&cfg.Redis.DB, "REDIS_DB")

	strVar(&cfg.Kafka.Topic, "KAFKA_VECTOR_SYNC_TOPIC")
	strVar(&cfg.Kafka.GroupID, "KAFKA_GROUP_ID")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	strVar(&cfg.ClickHouse.DSN, "CLICKHOUSE_DSN")

	strVar(&cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	strVar(&cfg.Anthropic.Model, "ANTHROPIC_MODEL")
	strVar(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	strVar(&cfg.OpenAI.Model, "OPENAI_MODEL")
	strVar(&cfg.GeneratorProvider, "GENERATOR_PROVIDER")

	strVar(&cfg.LogLevel, "LOG_LEVEL")
	strVar(&cfg.LogPath, "LOG_PATH")

	strVar(&cfg.Obs.OTLP, "OTEL_EXPORTER_OTLP_ENDPOINT")
	strVar(&cfg.Obs.ServiceName, "OTEL_SERVICE_NAME")
	strVar(&cfg.Obs.ServiceVersion, "OTEL_SERVICE_VERSION")
	strVar(&cfg.Obs.Environment, "OTEL_ENVIRONMENT")

	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.Embedding.Host
	}
}

func strVar(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func intVar(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatVar(dst *float64, name string) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func boolVar(dst *bool, name string) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Timeout returns the configured chat timeout as a duration.
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Configured reports whether the Vertex ANN backend has enough
// configuration to be selected at startup.
func (v VertexConfig) Configured() bool {
	return strings.Contains(v.IndexEndpointResource, "/indexEndpoints/") && v.DeployedIndexID != ""
}
