// Package memory is a brute-force in-memory vector store. It backs tests and
// the embedded CLI mode, with optional snapshot persistence to disk.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/store"
)

// Store holds every index in process memory. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	indexes map[string]*index
}

type index struct {
	Dim     int             `json:"dim"`
	Metric  store.Metric    `json:"metric"`
	Records []domain.Record `json:"records"`
}

// New creates an empty Store.
func New() *Store {
	return &Store{indexes: make(map[string]*index)}
}

// ListIndexes returns index names in lexical order.
func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.indexes))
	for name := range s.indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateIndex provisions an index. Creating an existing name is an error,
// matching the behavior of the server-backed stores.
func (s *Store) CreateIndex(ctx context.Context, name string, dim int, metric store.Metric) error {
	if dim <= 0 {
		return domain.NewConfigError("dimension", fmt.Sprintf("must be positive, got %d", dim))
	}
	if _, err := store.ParseMetric(string(metric)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; ok {
		return fmt.Errorf("memory: index %q already exists", name)
	}
	if metric == "" {
		metric = store.Cosine
	}
	s.indexes[name] = &index{Dim: dim, Metric: metric}
	return nil
}

// DeleteIndex drops an index. A missing index reports ErrIndexNotFound.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		return fmt.Errorf("memory: delete %q: %w", name, domain.ErrIndexNotFound)
	}
	delete(s.indexes, name)
	return nil
}

// Upsert writes records by ID, replacing any record already stored under the
// same ID.
func (s *Store) Upsert(ctx context.Context, name string, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[name]
	if !ok {
		return fmt.Errorf("memory: upsert %q: %w", name, domain.ErrIndexNotFound)
	}
	for _, r := range records {
		if len(r.Vector) != idx.Dim {
			return domain.NewConfigError("dimension",
				fmt.Sprintf("record %s has %d dims, index %q has %d", r.ID, len(r.Vector), name, idx.Dim))
		}
	}
	for _, r := range records {
		if pos := idx.find(r.ID); pos >= 0 {
			idx.Records[pos] = r
		} else {
			idx.Records = append(idx.Records, r)
		}
	}
	return nil
}

// Query scores every record against vector and returns the topK best,
// highest score first. Ties keep insertion order.
func (s *Store) Query(ctx context.Context, name string, vector []float32, topK int) ([]domain.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("memory: query %q: %w", name, domain.ErrIndexNotFound)
	}
	if len(vector) != idx.Dim {
		return nil, domain.NewConfigError("dimension",
			fmt.Sprintf("query vector has %d dims, index %q has %d", len(vector), name, idx.Dim))
	}
	if topK <= 0 || len(idx.Records) == 0 {
		return nil, nil
	}

	matches := make([]domain.Match, len(idx.Records))
	for i, r := range idx.Records {
		matches[i] = domain.Match{ID: r.ID, Score: score(idx.Metric, r.Vector, vector), Meta: r.Meta}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	if topK > len(matches) {
		topK = len(matches)
	}
	return matches[:topK], nil
}

// Len reports the number of records in an index. Zero for missing indexes.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx, ok := s.indexes[name]; ok {
		return len(idx.Records)
	}
	return 0
}

func (ix *index) find(id string) int {
	for i, r := range ix.Records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// score computes similarity under the index metric. Cosine assumes
// L2-normalized vectors, as the embedding adapter guarantees; euclid is
// negated distance so that descending order still means nearest first.
func score(metric store.Metric, a, b []float32) float32 {
	switch metric {
	case store.Euclid:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return float32(-math.Sqrt(sum))
	default: // Cosine and Dot
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return float32(sum)
	}
}
