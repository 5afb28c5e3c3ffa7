// Package store defines the vector index contract shared by all backends.
// The pipeline talks to this interface only; qdrant, neo4j, and the in-memory
// backend live in subpackages.
package store

import (
	"context"
	"fmt"

	"github.com/docent-ai/docent/engine/domain"
)

// Metric selects the similarity function an index is built with.
type Metric string

const (
	Cosine Metric = "cosine"
	Dot    Metric = "dot"
	Euclid Metric = "euclid"
)

// ParseMetric maps a config string to a Metric. Unknown names are a
// configuration error.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case Cosine, Dot, Euclid:
		return Metric(s), nil
	case "":
		return Cosine, nil
	}
	return "", domain.NewConfigError("metric", fmt.Sprintf("unknown metric %q", s))
}

// Store is the vector index capability consumed by the pipeline. Query
// results always include the metadata snapshot; scores are returned exactly
// as the backend computed them, highest first.
type Store interface {
	// ListIndexes names the indexes that exist.
	ListIndexes(ctx context.Context) ([]string, error)
	// CreateIndex provisions an index with a fixed dimension and metric.
	CreateIndex(ctx context.Context, name string, dim int, metric Metric) error
	// DeleteIndex drops an index and everything in it.
	DeleteIndex(ctx context.Context, name string) error
	// Upsert writes records by ID; re-upserting an ID replaces it.
	Upsert(ctx context.Context, index string, records []domain.Record) error
	// Query returns up to topK nearest matches for vector.
	Query(ctx context.Context, index string, vector []float32, topK int) ([]domain.Match, error)
}
