// Package retrieve turns a question into ranked matches from one index.
package retrieve

import (
	"context"
	"fmt"
	"time"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/store"
)

const (
	// DefaultTopK is how many matches a question pulls when the caller
	// does not say otherwise.
	DefaultTopK = 5
	// DefaultSearchTimeout bounds a single store query.
	DefaultSearchTimeout = 5 * time.Second
)

// Embedder is the query embedding capability the retriever needs.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Options configure a Retriever.
type Options struct {
	SearchTimeout time.Duration
}

// Retriever embeds a question and searches one index. Matches come back in
// the store's order with the store's scores; nothing is re-ranked here.
type Retriever struct {
	embedder Embedder
	store    store.Store
	index    string
	opts     Options
}

// New returns a Retriever bound to an index name.
func New(embedder Embedder, st store.Store, index string, opts Options) *Retriever {
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultSearchTimeout
	}
	return &Retriever{embedder: embedder, store: st, index: index, opts: opts}
}

// Retrieve returns up to topK matches for the question. Zero matches is a
// valid outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, topK int) ([]domain.Match, error) {
	if topK < 1 {
		return nil, domain.NewConfigError("top_k", fmt.Sprintf("must be at least 1, got %d", topK))
	}

	vec, err := r.embedder.EmbedOne(ctx, question)
	if err != nil {
		// Already stage-attributed by the adapter.
		return nil, err
	}

	searchCtx, cancel := context.WithTimeout(ctx, r.opts.SearchTimeout)
	defer cancel()

	matches, err := r.store.Query(searchCtx, r.index, vec, topK)
	if err != nil {
		if _, ok := domain.AsConfig(err); ok {
			return nil, err
		}
		return nil, domain.NewUpstreamError(domain.StageSearch, fmt.Errorf("retrieve: search %s: %w", r.index, err))
	}
	return matches, nil
}
