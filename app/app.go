// Package app wires configuration into a running docent pipeline: the store
// backend, model clients, resilience guards, and the orchestrator itself.
// Binaries build a Dependencies once and share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/docent-ai/docent/engine/answer"
	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/embed"
	"github.com/docent-ai/docent/engine/index"
	"github.com/docent-ai/docent/engine/rag"
	"github.com/docent-ai/docent/engine/retrieve"
	"github.com/docent-ai/docent/engine/segment"
	"github.com/docent-ai/docent/engine/store"
	"github.com/docent-ai/docent/engine/store/memory"
	neostore "github.com/docent-ai/docent/engine/store/neo4j"
	qdrantstore "github.com/docent-ai/docent/engine/store/qdrant"
	"github.com/docent-ai/docent/pkg/config"
	"github.com/docent-ai/docent/pkg/ollama"
	"github.com/docent-ai/docent/pkg/openai"
	"github.com/docent-ai/docent/pkg/resilience"
)

// Options carries per-binary hooks into the wiring.
type Options struct {
	// Events receives pipeline progress, when the binary wants it.
	Events func(rag.Event)
}

// Dependencies is the wired object graph shared by the docent binaries.
type Dependencies struct {
	Config   *config.Config
	Log      *slog.Logger
	Store    store.Store
	Pipeline *rag.Pipeline
	Policy   segment.Policy
	// Embedder is the wrapped embedding capability, exposed for
	// provider checks outside the pipeline.
	Embedder *embed.Adapter
	// Breaker guards the generation client; health checks read its state.
	Breaker *resilience.Breaker

	closers []func(context.Context) error
}

// New validates cfg and wires the full pipeline. Callers own Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (*Dependencies, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dependencies{Config: cfg, Log: log, Policy: cfg.Segmenter.Policy()}

	if err := d.initStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err := d.initPipeline(cfg, opts); err != nil {
		d.Close(ctx)
		return nil, err
	}

	log.Info("dependencies ready",
		"store", cfg.Store.Backend,
		"index", cfg.Store.Index,
		"embedding", cfg.Embedding.Provider,
		"generation", cfg.Generation.Provider,
	)
	return d, nil
}

func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		st := memory.New()
		if path := cfg.Store.Memory.SnapshotPath; path != "" {
			if err := st.Load(path); err != nil {
				return err
			}
			d.closers = append(d.closers, func(context.Context) error {
				return st.Save(path)
			})
		}
		d.Store = st

	case config.BackendQdrant:
		st, err := qdrantstore.New(cfg.Store.Qdrant.Addr)
		if err != nil {
			return err
		}
		d.closers = append(d.closers, func(context.Context) error { return st.Close() })
		d.Store = st

	case config.BackendNeo4j:
		st, err := neostore.New(cfg.Store.Neo4j.URI, cfg.Store.Neo4j.User, neo4jPassword())
		if err != nil {
			return err
		}
		d.closers = append(d.closers, st.Close)
		d.Store = st

	default:
		return domain.NewConfigError("store.backend", fmt.Sprintf("unknown backend %q", cfg.Store.Backend))
	}
	return nil
}

func (d *Dependencies) initPipeline(cfg *config.Config, opts Options) error {
	embedClient, err := buildEmbedClient(cfg.Embedding)
	if err != nil {
		return err
	}

	var limiter *resilience.Limiter
	if cfg.Embedding.RPS > 0 {
		limiter = resilience.NewLimiter(cfg.Embedding.RPS, cfg.Embedding.Burst)
	}
	adapter := embed.New(embedClient, embed.Options{
		BatchSize: cfg.Embedding.BatchSize,
		Workers:   cfg.Embedding.Workers,
		Limiter:   limiter,
	})
	d.Embedder = adapter

	gen, err := buildGenerator(cfg.Generation)
	if err != nil {
		return err
	}
	breaker := resilience.NewBreaker(resilience.BreakerOpts{
		Threshold: cfg.Generation.Breaker.Threshold,
		Cooldown:  cfg.Generation.Breaker.Cooldown(),
	})
	d.Breaker = breaker
	guarded := guardedGenerator{br: breaker, gen: gen}

	metric, err := store.ParseMetric(cfg.Store.Metric)
	if err != nil {
		return err
	}

	d.Pipeline = rag.New(rag.Deps{
		Embedder:    adapter,
		Writer:      index.New(d.Store, cfg.Store.Index, metric),
		Retriever:   retrieve.New(adapter, d.Store, cfg.Store.Index, retrieve.Options{SearchTimeout: cfg.Query.SearchTimeout()}),
		Synthesizer: answer.New(guarded, answer.Options{ContextBudget: cfg.Query.ContextBudget, SystemPrompt: cfg.Query.SystemPrompt}),
		Events:      opts.Events,
		Logger:      d.Log,
	})
	return nil
}

// Close releases owned connections in reverse wiring order and, for the
// memory backend, persists the snapshot.
func (d *Dependencies) Close(ctx context.Context) error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildEmbedClient(cfg config.EmbeddingConfig) (embed.Client, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.NewEmbedClient(cfg.BaseURL, cfg.Model), nil
	case config.ProviderOpenAI:
		key := cfg.APIKey()
		if key == "" {
			return nil, domain.NewConfigError("embedding.api_key", "no API key in the configured environment variable")
		}
		if cfg.BaseURL != "" {
			return openai.NewEmbedClientWithBase(key, cfg.BaseURL, cfg.Model), nil
		}
		return openai.NewEmbedClient(key, cfg.Model), nil
	}
	return nil, domain.NewConfigError("embedding.provider", fmt.Sprintf("unknown provider %q", cfg.Provider))
}

func buildGenerator(cfg config.GenerationConfig) (answer.Generator, error) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.NewGenerateClient(cfg.BaseURL, cfg.Model, float64(cfg.Temperature), cfg.MaxTokens), nil
	case config.ProviderOpenAI:
		key := cfg.APIKey()
		if key == "" {
			return nil, domain.NewConfigError("generation.api_key", "no API key in the configured environment variable")
		}
		if cfg.BaseURL != "" {
			return openai.NewGenerateClientWithBase(key, cfg.BaseURL, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil
		}
		return openai.NewGenerateClient(key, cfg.Model, cfg.Temperature, cfg.MaxTokens), nil
	}
	return nil, domain.NewConfigError("generation.provider", fmt.Sprintf("unknown provider %q", cfg.Provider))
}

// guardedGenerator runs completions through a circuit breaker so a dead
// model endpoint fails fast instead of stacking timeouts.
type guardedGenerator struct {
	br  *resilience.Breaker
	gen answer.Generator
}

func (g guardedGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	var reply string
	err := g.br.Call(ctx, func(ctx context.Context) error {
		var cerr error
		reply, cerr = g.gen.Complete(ctx, prompt)
		return cerr
	})
	return reply, err
}

// neo4jPassword reads the connection secret from the environment; it never
// lives in the config file.
func neo4jPassword() string {
	return os.Getenv("NEO4J_PASS")
}
