package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"visionrag/types"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Addr      string `yaml:"addr" validate:"required"`
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`
	BodyLimit int    `yaml:"body_limit_mb" validate:"gte=1"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnString renders a postgres:// URL with escaped credentials.
func (p PostgresConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.DBName,
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}

type IndexConfig struct {
	Backend    string `yaml:"backend" validate:"oneof=pgvector qdrant memory"`
	Name       string `yaml:"name" validate:"required"`
	Namespace  string `yaml:"namespace" validate:"required"`
	Dimension  int    `yaml:"dimension" validate:"gte=1"`
	QdrantAddr string `yaml:"qdrant_addr"`
	BatchSize  int    `yaml:"batch_size" validate:"gte=1"`
	Registry   string `yaml:"registry" validate:"oneof=postgres memory"`
}

type EmbeddingConfig struct {
	Provider   string        `yaml:"provider" validate:"oneof=openai ollama"`
	BaseURL    string        `yaml:"base_url" validate:"required"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model" validate:"required"`
	Dimensions int           `yaml:"dimensions" validate:"gte=0"`
	BatchSize  int           `yaml:"batch_size" validate:"gte=1"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=0"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	Timeout    time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider" validate:"oneof=openai ollama"`
	BaseURL     string        `yaml:"base_url" validate:"required"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model" validate:"required"`
	VisionModel string        `yaml:"vision_model"`
	Timeout     time.Duration `yaml:"timeout"`
}

type BlobConfig struct {
	Backend    string        `yaml:"backend" validate:"oneof=s3 local"`
	Endpoint   string        `yaml:"endpoint"`
	Bucket     string        `yaml:"bucket"`
	AccessKey  string        `yaml:"access_key"`
	SecretKey  string        `yaml:"secret_key"`
	Region     string        `yaml:"region"`
	UseSSL     bool          `yaml:"use_ssl"`
	LocalDir   string        `yaml:"local_dir"`
	PresignTTL time.Duration `yaml:"presign_ttl"`
}

type RetrievalConfig struct {
	FigureTopK       int `yaml:"figure_top_k" validate:"gte=1"`
	GenericTopK      int `yaml:"generic_top_k" validate:"gte=1"`
	StructuralTopK   int `yaml:"structural_top_k" validate:"gte=1"`
	SubQueryTopK     int `yaml:"sub_query_top_k" validate:"gte=1"`
	MaxParaphrases   int `yaml:"max_paraphrases" validate:"gte=0"`
	ContextCharLimit int `yaml:"context_char_limit" validate:"gte=1"`
}

type SegmentConfig struct {
	ChunkSize    int `yaml:"chunk_size" validate:"gte=1"`
	ChunkOverlap int `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

type LoaderConfig struct {
	MonitoringTime time.Duration `yaml:"monitoring_time"`
	SourceDir      string        `yaml:"source_dir"`
	ArchiveDir     string        `yaml:"archive_dir"`
	BadDir         string        `yaml:"bad_dir"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Blob      BlobConfig      `yaml:"blob"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Segment   SegmentConfig   `yaml:"segment"`
	Loader    LoaderConfig    `yaml:"loader"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":3000", LogLevel: "info", LogFormat: "text", BodyLimit: 50},
		Postgres: PostgresConfig{
			Host: "localhost", Port: 5432, User: "postgres", DBName: "rag", SSLMode: "disable",
		},
		Index: IndexConfig{
			Backend:    "pgvector",
			Name:       "visionrag",
			Namespace:  "vision-rag",
			Dimension:  1024,
			QdrantAddr: "localhost:6334",
			BatchSize:  50,
			Registry:   "postgres",
		},
		Embedding: EmbeddingConfig{
			Provider:   "openai",
			BaseURL:    "https://api.jina.ai/v1",
			Model:      "jina-clip-v2",
			BatchSize:  32,
			MaxRetries: 5,
			BaseDelay:  time.Second,
			BatchDelay: 200 * time.Millisecond,
			Timeout:    120 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.1-8b-instant",
			VisionModel: "llama-3.2-11b-vision-preview",
			Timeout:     120 * time.Second,
		},
		Blob: BlobConfig{
			Backend:    "local",
			Bucket:     "visionrag-bucket",
			Region:     "us-east-2",
			UseSSL:     true,
			LocalDir:   "./data/blobs",
			PresignTTL: time.Hour,
		},
		Retrieval: RetrievalConfig{
			FigureTopK:       6,
			GenericTopK:      8,
			StructuralTopK:   40,
			SubQueryTopK:     15,
			MaxParaphrases:   5,
			ContextCharLimit: 16000,
		},
		Segment: SegmentConfig{ChunkSize: 500, ChunkOverlap: 50},
		Loader: LoaderConfig{
			MonitoringTime: 5 * time.Second,
			SourceDir:      "./data/source",
			ArchiveDir:     "./data/archive",
			BadDir:         "./data/bad",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in that order. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := types.ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"SERVER_ADDR":        &cfg.Server.Addr,
		"LOG_LEVEL":          &cfg.Server.LogLevel,
		"LOG_FORMAT":         &cfg.Server.LogFormat,
		"PG_HOST":            &cfg.Postgres.Host,
		"PG_USER":            &cfg.Postgres.User,
		"PG_PASS":            &cfg.Postgres.Password,
		"PG_DB_NAME":         &cfg.Postgres.DBName,
		"PG_SSLMODE":         &cfg.Postgres.SSLMode,
		"INDEX_BACKEND":      &cfg.Index.Backend,
		"INDEX_NAME":         &cfg.Index.Name,
		"INDEX_NAMESPACE":    &cfg.Index.Namespace,
		"QDRANT_ADDR":        &cfg.Index.QdrantAddr,
		"REGISTRY_BACKEND":   &cfg.Index.Registry,
		"EMBEDDING_PROVIDER": &cfg.Embedding.Provider,
		"EMBEDDING_URL":      &cfg.Embedding.BaseURL,
		"EMBEDDING_API_KEY":  &cfg.Embedding.APIKey,
		"EMBEDDING_MODEL":    &cfg.Embedding.Model,
		"LLM_PROVIDER":       &cfg.LLM.Provider,
		"LLM_URL":            &cfg.LLM.BaseURL,
		"LLM_API_KEY":        &cfg.LLM.APIKey,
		"LLM_MODEL":          &cfg.LLM.Model,
		"LLM_VISION_MODEL":   &cfg.LLM.VisionModel,
		"BLOB_BACKEND":       &cfg.Blob.Backend,
		"S3_ENDPOINT":        &cfg.Blob.Endpoint,
		"S3_BUCKET":          &cfg.Blob.Bucket,
		"S3_ACCESS_KEY":      &cfg.Blob.AccessKey,
		"S3_SECRET_KEY":      &cfg.Blob.SecretKey,
		"S3_REGION":          &cfg.Blob.Region,
		"BLOB_LOCAL_DIR":     &cfg.Blob.LocalDir,
		"LOADER_SOURCE_DIR":  &cfg.Loader.SourceDir,
		"LOADER_ARCHIVE_DIR": &cfg.Loader.ArchiveDir,
		"LOADER_BAD_DIR":     &cfg.Loader.BadDir,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"PG_PORT":               &cfg.Postgres.Port,
		"BODY_LIMIT_MB":         &cfg.Server.BodyLimit,
		"INDEX_DIMENSION":       &cfg.Index.Dimension,
		"EMBEDDING_BATCH_SIZE":  &cfg.Embedding.BatchSize,
		"EMBEDDING_MAX_RETRIES": &cfg.Embedding.MaxRetries,
		"EMBEDDING_DIMENSIONS":  &cfg.Embedding.Dimensions,
		"CHUNK_SIZE":            &cfg.Segment.ChunkSize,
		"CHUNK_OVERLAP":         &cfg.Segment.ChunkOverlap,
		"CONTEXT_CHAR_LIMIT":    &cfg.Retrieval.ContextCharLimit,
		"FIGURE_TOP_K":          &cfg.Retrieval.FigureTopK,
		"GENERIC_TOP_K":         &cfg.Retrieval.GenericTopK,
		"STRUCTURAL_TOP_K":      &cfg.Retrieval.StructuralTopK,
		"SUB_QUERY_TOP_K":       &cfg.Retrieval.SubQueryTopK,
	}
	for key, dst := range ints {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
	}

	durations := map[string]*time.Duration{
		"EMBEDDING_BASE_DELAY":   &cfg.Embedding.BaseDelay,
		"EMBEDDING_BATCH_DELAY":  &cfg.Embedding.BatchDelay,
		"PRESIGN_TTL":            &cfg.Blob.PresignTTL,
		"LOADER_MONITORING_TIME": &cfg.Loader.MonitoringTime,
	}
	for key, dst := range durations {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = d
	}

	if v, ok := lookup("S3_USE_SSL"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("env S3_USE_SSL: %w", err)
		}
		cfg.Blob.UseSSL = b
	}
	return nil
}
