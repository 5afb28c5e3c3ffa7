// Package index writes embedded chunks into a named vector index, creating
// the index on first use and batching upserts so a failure reports exactly
// how much of a document made it in.
package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/store"
	"github.com/docent-ai/docent/pkg/flow"
)

// UpsertBatchSize is the max records per store upsert.
const UpsertBatchSize = 100

// BatchError reports a failed upsert batch. Batches before the failed one
// are durably written; Written counts their records.
type BatchError struct {
	Batch   int // 1-based
	Total   int
	Written int
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("index: batch %d/%d failed after %d records written: %v",
		e.Batch, e.Total, e.Written, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// RecordID derives the deterministic record ID for a chunk, so re-ingesting
// a document overwrites its previous records instead of duplicating them.
func RecordID(docID string, chunkID int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s-%d", docID, chunkID))).String()
}

// Writer stores chunk embeddings under one index name.
type Writer struct {
	store  store.Store
	name   string
	metric store.Metric

	mu      sync.Mutex
	ensured bool
}

// New returns a Writer bound to an index name. The index is created lazily
// by Ensure with whatever dimension the first document embeds to.
func New(st store.Store, name string, metric store.Metric) *Writer {
	return &Writer{store: st, name: name, metric: metric}
}

// Ensure creates the index if it does not exist. A success is remembered for
// the process lifetime, so steady-state ingests skip the existence check.
func (w *Writer) Ensure(ctx context.Context, dim int) error {
	if dim <= 0 {
		return domain.NewConfigError("dimension", fmt.Sprintf("must be positive, got %d", dim))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ensured {
		return nil
	}

	names, err := w.store.ListIndexes(ctx)
	if err != nil {
		return domain.NewUpstreamError(domain.StageIndex, fmt.Errorf("index: list: %w", err))
	}
	for _, n := range names {
		if n == w.name {
			w.ensured = true
			return nil
		}
	}
	if err := w.store.CreateIndex(ctx, w.name, dim, w.metric); err != nil {
		if _, ok := domain.AsConfig(err); ok {
			return err
		}
		return domain.NewUpstreamError(domain.StageIndex, fmt.Errorf("index: create %s: %w", w.name, err))
	}
	w.ensured = true
	return nil
}

// Upsert writes one record per chunk, matched to vectors by position. The
// records carry the full chunk snapshot so search results render without a
// second lookup. Batches are written in order and the first failure stops
// the rest.
func (w *Writer) Upsert(ctx context.Context, doc domain.Document, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return domain.NewConfigError("vectors",
			fmt.Sprintf("%d chunks but %d vectors", len(chunks), len(vectors)))
	}
	if len(chunks) == 0 {
		return nil
	}

	records := make([]domain.Record, len(chunks))
	for i, c := range chunks {
		records[i] = domain.Record{
			ID:     RecordID(doc.ID, c.ID),
			Vector: vectors[i],
			Meta: domain.Meta{
				DocID:       doc.ID,
				Source:      doc.Source,
				ChunkID:     c.ID,
				Text:        c.Text,
				StartOffset: c.StartOffset,
				WordCount:   c.WordCount,
				CharCount:   c.CharCount,
			},
		}
	}

	batches := flow.Batches(records, UpsertBatchSize)
	written := 0
	for i, batch := range batches {
		if err := w.store.Upsert(ctx, w.name, batch); err != nil {
			batchErr := &BatchError{Batch: i + 1, Total: len(batches), Written: written, Err: err}
			if _, ok := domain.AsConfig(err); ok {
				return batchErr
			}
			return domain.NewUpstreamError(domain.StageIndex, batchErr)
		}
		written += len(batch)
	}
	return nil
}
