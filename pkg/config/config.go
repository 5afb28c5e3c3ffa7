// Package config loads the docent configuration: a YAML file layered with
// environment overrides, validated into fatal configuration errors before
// anything starts. A missing file is not an error; defaults apply and the
// environment still wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/retrieve"
	"github.com/docent-ai/docent/engine/segment"
	"github.com/docent-ai/docent/engine/store"
)

// Store backends and model providers accepted by Validate.
const (
	BackendMemory = "memory"
	BackendQdrant = "qdrant"
	BackendNeo4j  = "neo4j"

	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = "docent.yaml"

// ServerConfig is the HTTP API listener. RPS > 0 sheds excess requests
// with 429 instead of queueing them.
type ServerConfig struct {
	Addr       string  `yaml:"addr"`
	CORSOrigin string  `yaml:"cors_origin"`
	RPS        float64 `yaml:"rps,omitempty"`
	Burst      int     `yaml:"burst,omitempty"`
}

// StoreConfig selects and configures the vector store backend. Only the
// section matching Backend is read.
type StoreConfig struct {
	Backend string       `yaml:"backend"`
	Index   string       `yaml:"index"`
	Metric  string       `yaml:"metric"`
	Memory  MemoryConfig `yaml:"memory,omitempty"`
	Qdrant  QdrantConfig `yaml:"qdrant,omitempty"`
	Neo4j   Neo4jConfig  `yaml:"neo4j,omitempty"`
}

// MemoryConfig tunes the in-process backend. An empty SnapshotPath keeps
// everything volatile.
type MemoryConfig struct {
	SnapshotPath string `yaml:"snapshot_path,omitempty"`
}

// QdrantConfig holds the gRPC address of a Qdrant server.
type QdrantConfig struct {
	Addr string `yaml:"addr"`
}

// Neo4jConfig holds Neo4j connection details. The password comes from the
// NEO4J_PASS environment variable, never from the file.
type Neo4jConfig struct {
	URI  string `yaml:"uri"`
	User string `yaml:"user"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string  `yaml:"provider"`
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	BatchSize int     `yaml:"batch_size"`
	Workers   int     `yaml:"workers"`
	RPS       float64 `yaml:"rps,omitempty"`
	Burst     int     `yaml:"burst,omitempty"`
	APIKeyEnv string  `yaml:"api_key_env,omitempty"`
}

// APIKey resolves the provider key from the configured environment variable.
func (e EmbeddingConfig) APIKey() string {
	name := e.APIKeyEnv
	if name == "" {
		name = "OPENAI_API_KEY"
	}
	return os.Getenv(name)
}

// GenerationConfig selects the answer model.
type GenerationConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	APIKeyEnv   string        `yaml:"api_key_env,omitempty"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// APIKey resolves the provider key from the configured environment variable.
func (g GenerationConfig) APIKey() string {
	name := g.APIKeyEnv
	if name == "" {
		name = "OPENAI_API_KEY"
	}
	return os.Getenv(name)
}

// BreakerConfig tunes the circuit breaker around generation calls.
type BreakerConfig struct {
	Threshold    int `yaml:"threshold"`
	CooldownSecs int `yaml:"cooldown_secs"`
}

// Cooldown returns the configured cooldown as a duration.
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSecs) * time.Second
}

// SegmenterConfig mirrors segment.Policy in YAML form. Omitted counts mean
// zero; Kind alone picks the policy family.
type SegmenterConfig struct {
	Kind             string `yaml:"kind"`
	Window           int    `yaml:"window,omitempty"`
	Overlap          int    `yaml:"overlap,omitempty"`
	MaxTokens        int    `yaml:"max_tokens,omitempty"`
	OverlapSentences int    `yaml:"overlap_sentences,omitempty"`
}

// Policy materializes the segmentation policy. Validate it via
// Config.Validate or segment.Policy.Validate before use.
func (s SegmenterConfig) Policy() segment.Policy {
	return segment.Policy{
		Kind:             segment.Kind(s.Kind),
		Window:           s.Window,
		Overlap:          s.Overlap,
		MaxTokens:        s.MaxTokens,
		OverlapSentences: s.OverlapSentences,
	}
}

// QueryConfig tunes the ask path.
type QueryConfig struct {
	TopK              int    `yaml:"top_k"`
	SearchTimeoutSecs int    `yaml:"search_timeout_secs"`
	ContextBudget     int    `yaml:"context_budget"`
	SystemPrompt      string `yaml:"system_prompt,omitempty"`
}

// SearchTimeout returns the configured search timeout as a duration.
func (q QueryConfig) SearchTimeout() time.Duration {
	return time.Duration(q.SearchTimeoutSecs) * time.Second
}

// NATSConfig holds the job queue connection.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// WorkerConfig tunes the queue worker binary.
type WorkerConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
}

// Config is the root configuration shared by every docent binary.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Segmenter  SegmenterConfig  `yaml:"segmenter"`
	Query      QueryConfig      `yaml:"query"`
	NATS       NATSConfig       `yaml:"nats"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// Default returns the configuration a fresh install runs with: in-memory
// store, local Ollama models.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080", CORSOrigin: "*"},
		Store: StoreConfig{
			Backend: BackendMemory,
			Index:   "docent",
			Metric:  string(store.Cosine),
			Qdrant:  QdrantConfig{Addr: "localhost:6334"},
			Neo4j:   Neo4jConfig{URI: "neo4j://localhost:7687", User: "neo4j"},
		},
		Embedding: EmbeddingConfig{
			Provider:  ProviderOllama,
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			BatchSize: 100,
			Workers:   1,
		},
		Generation: GenerationConfig{
			Provider:  ProviderOllama,
			BaseURL:   "http://localhost:11434",
			Model:     "llama3.2",
			MaxTokens: 1024,
			Breaker:   BreakerConfig{Threshold: 5, CooldownSecs: 30},
		},
		Segmenter: SegmenterConfig{
			Kind:             string(segment.SentenceToken),
			MaxTokens:        segment.DefaultMaxTokens,
			OverlapSentences: segment.DefaultOverlapSentences,
		},
		Query:  QueryConfig{TopK: retrieve.DefaultTopK, SearchTimeoutSecs: 5, ContextBudget: 8000},
		NATS:   NATSConfig{URL: "nats://localhost:4222"},
		Worker: WorkerConfig{MetricsAddr: ":9091"},
	}
}

// Load reads the config at path. A missing file yields defaults. The
// environment is applied on top either way.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err == nil {
		// Unmarshal over a zero value so absent sections are detectable,
		// then fill the gaps from defaults.
		var fromFile Config
		if uerr := yaml.Unmarshal(data, &fromFile); uerr != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, uerr)
		}
		cfg = &fromFile
		applyDefaults(cfg)
	}
	applyEnv(cfg)
	return cfg, nil
}

// LoadDefault looks for docent.yaml in the working directory, then in the
// user config directory. If neither exists it writes defaults to the user
// path so the next run has a file to edit.
func LoadDefault() (*Config, string, error) {
	if _, err := os.Stat(DefaultPath); err == nil {
		cfg, err := Load(DefaultPath)
		return cfg, DefaultPath, err
	}
	userPath, err := userConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnv(cfg)
	return cfg, userPath, nil
}

// Save writes cfg to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create dir for %s: %w", path, err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func userConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home: %w", err)
	}
	return filepath.Join(home, ".config", "docent", "config.yaml"), nil
}

// applyDefaults fills fields the file left at zero. Counts that are
// legitimately zero (segmenter overlaps, temperature) stay untouched.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if cfg.Server.CORSOrigin == "" {
		cfg.Server.CORSOrigin = def.Server.CORSOrigin
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.Index == "" {
		cfg.Store.Index = def.Store.Index
	}
	if cfg.Store.Metric == "" {
		cfg.Store.Metric = def.Store.Metric
	}
	if cfg.Store.Qdrant.Addr == "" {
		cfg.Store.Qdrant.Addr = def.Store.Qdrant.Addr
	}
	if cfg.Store.Neo4j.URI == "" {
		cfg.Store.Neo4j.URI = def.Store.Neo4j.URI
	}
	if cfg.Store.Neo4j.User == "" {
		cfg.Store.Neo4j.User = def.Store.Neo4j.User
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = def.Embedding.Provider
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaultModel(cfg.Embedding.Provider, def.Embedding.Model, "text-embedding-3-small")
	}
	if cfg.Embedding.BaseURL == "" && cfg.Embedding.Provider == ProviderOllama {
		cfg.Embedding.BaseURL = def.Embedding.BaseURL
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = def.Embedding.BatchSize
	}
	if cfg.Embedding.Workers == 0 {
		cfg.Embedding.Workers = def.Embedding.Workers
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = def.Generation.Provider
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = defaultModel(cfg.Generation.Provider, def.Generation.Model, "gpt-4o-mini")
	}
	if cfg.Generation.BaseURL == "" && cfg.Generation.Provider == ProviderOllama {
		cfg.Generation.BaseURL = def.Generation.BaseURL
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = def.Generation.MaxTokens
	}
	if cfg.Generation.Breaker.Threshold == 0 {
		cfg.Generation.Breaker.Threshold = def.Generation.Breaker.Threshold
	}
	if cfg.Generation.Breaker.CooldownSecs == 0 {
		cfg.Generation.Breaker.CooldownSecs = def.Generation.Breaker.CooldownSecs
	}
	if cfg.Segmenter.Kind == "" {
		cfg.Segmenter = def.Segmenter
	}
	if cfg.Segmenter.Kind == string(segment.SentenceToken) && cfg.Segmenter.MaxTokens == 0 {
		cfg.Segmenter.MaxTokens = segment.DefaultMaxTokens
	}
	if fixedKind(cfg.Segmenter.Kind) && cfg.Segmenter.Window == 0 {
		cfg.Segmenter.Window = segment.DefaultWindow
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = def.Query.TopK
	}
	if cfg.Query.SearchTimeoutSecs == 0 {
		cfg.Query.SearchTimeoutSecs = def.Query.SearchTimeoutSecs
	}
	if cfg.Query.ContextBudget == 0 {
		cfg.Query.ContextBudget = def.Query.ContextBudget
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = def.NATS.URL
	}
	if cfg.Worker.MetricsAddr == "" {
		cfg.Worker.MetricsAddr = def.Worker.MetricsAddr
	}
}

func defaultModel(provider, ollamaModel, openaiModel string) string {
	if provider == ProviderOpenAI {
		return openaiModel
	}
	return ollamaModel
}

func fixedKind(kind string) bool {
	return kind == string(segment.FixedWord) || kind == string(segment.FixedChar)
}

// applyEnv layers environment overrides on top of the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DOCENT_HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DOCENT_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("DOCENT_INDEX"); v != "" {
		cfg.Store.Index = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("QDRANT_ADDR"); v != "" {
		cfg.Store.Qdrant.Addr = v
	}
	if v := os.Getenv("NEO4J_URL"); v != "" {
		cfg.Store.Neo4j.URI = v
	}
	if v := os.Getenv("NEO4J_USER"); v != "" {
		cfg.Store.Neo4j.User = v
	}
	if v := os.Getenv("OLLAMA_URL"); v != "" {
		if cfg.Embedding.Provider == ProviderOllama {
			cfg.Embedding.BaseURL = v
		}
		if cfg.Generation.Provider == ProviderOllama {
			cfg.Generation.BaseURL = v
		}
	}
}

// Validate rejects configurations the binaries must not start with. All
// violations are fatal ConfigErrors, never retried.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendQdrant, BackendNeo4j:
	default:
		return domain.NewConfigError("store.backend", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}
	if c.Store.Index == "" {
		return domain.NewConfigError("store.index", "must not be empty")
	}
	if _, err := store.ParseMetric(c.Store.Metric); err != nil {
		return err
	}
	switch c.Embedding.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return domain.NewConfigError("embedding.provider", fmt.Sprintf("unknown provider %q", c.Embedding.Provider))
	}
	switch c.Generation.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return domain.NewConfigError("generation.provider", fmt.Sprintf("unknown provider %q", c.Generation.Provider))
	}
	if err := c.Segmenter.Policy().Validate(); err != nil {
		return err
	}
	if c.Query.TopK < 1 {
		return domain.NewConfigError("query.top_k", fmt.Sprintf("must be at least 1, got %d", c.Query.TopK))
	}
	return nil
}
