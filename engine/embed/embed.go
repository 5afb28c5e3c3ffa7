// Package embed adapts a raw embedding provider to the pipeline's contract:
// order-preserving, all-or-nothing batches of L2-normalized vectors with a
// fixed dimension probed once per process.
package embed

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/pkg/flow"
	"github.com/docent-ai/docent/pkg/resilience"
)

// DefaultBatchSize is the provider sub-batch size.
const DefaultBatchSize = 100

// dimensionProbe is the throwaway text embedded once to learn the
// provider's vector dimension.
const dimensionProbe = "dimension probe"

// Client is the raw provider capability. Implementations return one vector
// per input text, in input order.
type Client interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tune the adapter. The zero value gets sensible defaults.
type Options struct {
	// BatchSize caps texts per provider call. Defaults to DefaultBatchSize.
	BatchSize int
	// Workers embeds sub-batches concurrently when > 1. Assembled output
	// stays in input order either way.
	Workers int
	// Limiter throttles provider calls when set.
	Limiter *resilience.Limiter
}

// Adapter wraps a Client with batching, normalization, and dimension
// consistency checks. All failures surface as UpstreamError for the embed
// stage; the adapter never retries.
type Adapter struct {
	client Client
	opts   Options

	mu  sync.Mutex
	dim int
}

// New creates an Adapter around client.
func New(client Client, opts Options) *Adapter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Adapter{client: client, opts: opts}
}

// EmbedBatch embeds texts in input order. Any sub-batch failure fails the
// whole call; no partial output is ever returned.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batches := flow.Batches(texts, a.opts.BatchSize)

	if a.opts.Workers <= 1 {
		out := make([][]float32, 0, len(texts))
		for _, batch := range batches {
			vecs, err := a.embedBatch(ctx, batch)
			if err != nil {
				return nil, err
			}
			out = append(out, vecs...)
		}
		return out, nil
	}

	results := flow.ParMapResult(batches, a.opts.Workers, func(batch []string) flow.Result[[][]float32] {
		return flow.FromPair(a.embedBatch(ctx, batch))
	})
	groups, err := flow.Collect(results).Unwrap()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, 0, len(texts))
	for _, g := range groups {
		out = append(out, g...)
	}
	return out, nil
}

// EmbedOne embeds a single text with the same normalization as EmbedBatch.
// This is the query path.
func (a *Adapter) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimension reports the provider's vector dimension, probing with one call
// on first use. Success is cached for the process lifetime.
func (a *Adapter) Dimension(ctx context.Context) (int, error) {
	a.mu.Lock()
	if a.dim > 0 {
		dim := a.dim
		a.mu.Unlock()
		return dim, nil
	}
	a.mu.Unlock()

	vecs, err := a.embedBatch(ctx, []string{dimensionProbe})
	if err != nil {
		return 0, err
	}
	return len(vecs[0]), nil
}

// embedBatch is one provider call plus the adapter's guarantees: count check,
// dimension consistency, normalization.
func (a *Adapter) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if a.opts.Limiter != nil {
		if err := a.opts.Limiter.Wait(ctx); err != nil {
			return nil, domain.NewUpstreamError(domain.StageEmbed, err)
		}
	}

	vecs, err := a.client.EmbedBatch(ctx, batch)
	if err != nil {
		return nil, domain.NewUpstreamError(domain.StageEmbed, err)
	}
	if len(vecs) != len(batch) {
		return nil, domain.NewUpstreamError(domain.StageEmbed,
			fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrVectorCount, len(vecs), len(batch)))
	}

	want := a.recordDimension(vecs)
	for i, v := range vecs {
		if len(v) == 0 || len(v) != want {
			return nil, domain.NewUpstreamError(domain.StageEmbed,
				fmt.Errorf("%w: vector %d has %d dims, want %d", domain.ErrDimensionDrift, i, len(v), want))
		}
		Normalize(v)
	}
	return vecs, nil
}

// recordDimension caches the dimension seen on the first successful call and
// returns the expected dimension for this batch.
func (a *Adapter) recordDimension(vecs [][]float32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dim == 0 && len(vecs) > 0 {
		a.dim = len(vecs[0])
	}
	return a.dim
}

// Normalize scales v to unit length in place. Zero vectors are left alone.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
