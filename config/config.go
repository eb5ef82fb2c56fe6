// Package config loads process configuration from defaults, an optional YAML
// or TOML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"portfolio-rag/types"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	BackendLocal    = "local"
	BackendPostgres = "postgres"
)

type ServerConfig struct {
	Addr           string   `yaml:"addr" toml:"addr" validate:"required"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// EmbeddingConfig selects the embedding provider. Ingestion and queries must use the same one.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider" toml:"provider" validate:"required,oneof=ollama openai"`
	Model     string        `yaml:"model" toml:"model" validate:"required"`
	URL       string        `yaml:"url" toml:"url"`
	APIKey    string        `yaml:"api_key" toml:"api_key"`
	BatchSize int           `yaml:"batch_size" toml:"batch_size" validate:"gt=0"`
	Timeout   time.Duration `yaml:"timeout" toml:"timeout" validate:"gt=0"`
	RateLimit float64       `yaml:"rate_limit" toml:"rate_limit" validate:"gte=0"` // batch requests per second, 0 is unlimited
}

type CompletionConfig struct {
	Provider string `yaml:"provider" toml:"provider" validate:"required,oneof=ollama openai"`
	Model    string `yaml:"model" toml:"model" validate:"required"`
	URL      string `yaml:"url" toml:"url"`
	APIKey   string `yaml:"api_key" toml:"api_key"`
}

// StoreConfig locates the vector store. Path is used by the local backend, DSN by postgres.
type StoreConfig struct {
	Backend   string `yaml:"backend" toml:"backend" validate:"required,oneof=local postgres"`
	Path      string `yaml:"path" toml:"path"`
	DSN       string `yaml:"dsn" toml:"dsn"`
	Dimension int    `yaml:"dimension" toml:"dimension" validate:"gte=0"`
}

type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size" toml:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `yaml:"chunk_overlap" toml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

type RetrievalConfig struct {
	ContextK int     `yaml:"context_k" toml:"context_k" validate:"gt=0"`
	ChatK    int     `yaml:"chat_k" toml:"chat_k" validate:"gt=0"`
	MinScore float64 `yaml:"min_score" toml:"min_score"`
}

type GenerationConfig struct {
	FallbackPhrase   string        `yaml:"fallback_phrase" toml:"fallback_phrase" validate:"required"`
	MaxContextTokens int           `yaml:"max_context_tokens" toml:"max_context_tokens" validate:"gte=0"`
	Timeout          time.Duration `yaml:"timeout" toml:"timeout" validate:"gt=0"`
	StreamTimeout    time.Duration `yaml:"stream_timeout" toml:"stream_timeout" validate:"gt=0"`
}

type LoaderConfig struct {
	SourceDir     string        `yaml:"source_dir" toml:"source_dir" validate:"required"`
	PDFCropTop    float64       `yaml:"pdf_crop_top" toml:"pdf_crop_top" validate:"gte=0"`
	PDFCropBottom float64       `yaml:"pdf_crop_bottom" toml:"pdf_crop_bottom" validate:"gte=0"`
	WatchDebounce time.Duration `yaml:"watch_debounce" toml:"watch_debounce" validate:"gt=0"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Embedding  EmbeddingConfig  `yaml:"embedding" toml:"embedding"`
	Completion CompletionConfig `yaml:"completion" toml:"completion"`
	Store      StoreConfig      `yaml:"store" toml:"store"`
	Chunking   ChunkingConfig   `yaml:"chunking" toml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" toml:"retrieval"`
	Generation GenerationConfig `yaml:"generation" toml:"generation"`
	Loader     LoaderConfig     `yaml:"loader" toml:"loader"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8000",
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderOllama,
			Model:     "nomic-embed-text",
			URL:       "http://localhost:11434",
			BatchSize: 32,
			Timeout:   30 * time.Second,
		},
		Completion: CompletionConfig{
			Provider: ProviderOllama,
			Model:    "llama3.2",
			URL:      "http://localhost:11434",
		},
		Store: StoreConfig{
			Backend: BackendLocal,
			Path:    "db",
		},
		Chunking: ChunkingConfig{
			ChunkSize:    750,
			ChunkOverlap: 50,
		},
		Retrieval: RetrievalConfig{
			ContextK: 10,
			ChatK:    5,
		},
		Generation: GenerationConfig{
			FallbackPhrase: "I don't have information about that.",
			Timeout:        2 * time.Minute,
			StreamTimeout:  30 * time.Second,
		},
		Loader: LoaderConfig{
			SourceDir:     "data",
			WatchDebounce: 2 * time.Second,
		},
	}
}

// Load builds the configuration. An empty path or a missing file means defaults
// plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, types.ConfigurationError("config.read", err)
		default:
			if err := decode(path, data, cfg); err != nil {
				return nil, types.ConfigurationError("config.parse", err)
			}
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, types.ConfigurationError("config.env", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode picks the file format by extension. YAML is the default.
func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks struct constraints and provider credentials.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return types.ConfigurationError("config.validate", err)
	}
	if c.Embedding.Provider == ProviderOpenAI && c.Embedding.APIKey == "" {
		return types.ConfigurationError("config.embedding", fmt.Errorf("%w: openai embeddings need an API key", types.ErrMissingCredentials))
	}
	if c.Completion.Provider == ProviderOpenAI && c.Completion.APIKey == "" {
		return types.ConfigurationError("config.completion", fmt.Errorf("%w: openai completions need an API key", types.ErrMissingCredentials))
	}
	switch c.Store.Backend {
	case BackendLocal:
		if c.Store.Path == "" {
			return types.ConfigurationError("config.store", errors.New("local store needs a path"))
		}
	case BackendPostgres:
		if c.Store.DSN == "" {
			return types.ConfigurationError("config.store", errors.New("postgres store needs a dsn"))
		}
		if c.Store.Dimension <= 0 {
			return types.ConfigurationError("config.store", errors.New("postgres store needs a dimension"))
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
			}
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", key, err)
			}
			return
		}
		*dst = d
	}

	str("SERVER_ADDR", &cfg.Server.Addr)
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	str("EMBEDDING_PROVIDER", &cfg.Embedding.Provider)
	str("OLLAMA_EMBEDDING_MODEL", &cfg.Embedding.Model)
	str("OLLAMA_EMBEDDING_URL", &cfg.Embedding.URL)
	str("EMBEDDING_MODEL", &cfg.Embedding.Model)
	num("EMBEDDING_BATCH_SIZE", &cfg.Embedding.BatchSize)
	if v, ok := lookup("EMBEDDING_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("EMBEDDING_RATE_LIMIT: %w", err)
			}
		} else {
			cfg.Embedding.RateLimit = f
		}
	}

	str("COMPLETION_PROVIDER", &cfg.Completion.Provider)
	str("LLM_URL", &cfg.Completion.URL)
	str("LLM_MODEL", &cfg.Completion.Model)

	if key, ok := lookup("OPENAI_API_KEY"); ok && key != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
		if cfg.Completion.APIKey == "" {
			cfg.Completion.APIKey = key
		}
	}

	str("STORE_BACKEND", &cfg.Store.Backend)
	str("STORE_PATH", &cfg.Store.Path)
	num("STORE_DIMENSION", &cfg.Store.Dimension)
	str("PG_DSN", &cfg.Store.DSN)
	if dsn := postgresDSN(lookup); dsn != "" && cfg.Store.DSN == "" {
		cfg.Store.DSN = dsn
	}

	num("CHUNK_SIZE", &cfg.Chunking.ChunkSize)
	num("CHUNK_OVERLAP", &cfg.Chunking.ChunkOverlap)

	num("CONTEXT_K", &cfg.Retrieval.ContextK)
	num("CHAT_K", &cfg.Retrieval.ChatK)

	str("FALLBACK_PHRASE", &cfg.Generation.FallbackPhrase)
	num("MAX_CONTEXT_TOKENS", &cfg.Generation.MaxContextTokens)
	dur("LLM_TIMEOUT", &cfg.Generation.Timeout)
	dur("STREAM_TIMEOUT", &cfg.Generation.StreamTimeout)

	str("LOADER_SOURCE_DIR", &cfg.Loader.SourceDir)

	return firstErr
}

// postgresDSN assembles a connection string from the PG_* variables.
func postgresDSN(lookup lookupFunc) string {
	host, ok := lookup("PG_HOST")
	if !ok || host == "" {
		return ""
	}
	port, _ := lookup("PG_PORT")
	if port == "" {
		port = "5432"
	}
	user, _ := lookup("PG_USER")
	pass, _ := lookup("PG_PASS")
	db, _ := lookup("PG_DB_NAME")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func applyDefaults(cfg *Config) {
	if cfg.Embedding.Provider == ProviderOpenAI {
		if cfg.Embedding.URL == "http://localhost:11434" {
			cfg.Embedding.URL = ""
		}
		if cfg.Embedding.Model == "nomic-embed-text" {
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}
	if cfg.Completion.Provider == ProviderOpenAI {
		if cfg.Completion.URL == "http://localhost:11434" {
			cfg.Completion.URL = ""
		}
		if cfg.Completion.Model == "llama3.2" {
			cfg.Completion.Model = "gpt-4o-mini"
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
