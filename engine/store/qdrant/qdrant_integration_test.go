//go:build integration

package qdrant

import (
	"context"
	"os"
	"testing"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/store"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testStore(t *testing.T, index string) *Store {
	t.Helper()
	s, err := New(qdrantAddr())
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		s.DeleteIndex(context.Background(), index)
		s.Close()
	})
	return s
}

func TestQdrant_CreateListDelete(t *testing.T) {
	s := testStore(t, "docent_test_lifecycle")
	ctx := context.Background()

	if err := s.CreateIndex(ctx, "docent_test_lifecycle", 4, store.Cosine); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	names, err := s.ListIndexes(ctx)
	if err != nil {
		t.Fatalf("ListIndexes: %v", err)
	}
	found := false
	for _, n := range names {
		if n == "docent_test_lifecycle" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected created index in list, got %v", names)
	}

	if err := s.DeleteIndex(ctx, "docent_test_lifecycle"); err != nil {
		t.Fatalf("DeleteIndex: %v", err)
	}
}

func TestQdrant_UpsertAndQuery(t *testing.T) {
	s := testStore(t, "docent_test_query")
	ctx := context.Background()

	if err := s.CreateIndex(ctx, "docent_test_query", 4, store.Cosine); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	records := []domain.Record{
		{ID: "a1111111-1111-1111-1111-111111111111", Vector: []float32{1, 0, 0, 0},
			Meta: domain.Meta{DocID: "d1", Text: "cats are mammals", ChunkID: 0, WordCount: 3}},
		{ID: "b2222222-2222-2222-2222-222222222222", Vector: []float32{0, 1, 0, 0},
			Meta: domain.Meta{DocID: "d1", Text: "dogs are mammals too", ChunkID: 1, WordCount: 4}},
	}
	if err := s.Upsert(ctx, "docent_test_query", records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	matches, err := s.Query(ctx, "docent_test_query", []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Meta.Text != "cats are mammals" {
		t.Fatalf("expected cats chunk first, got %q", matches[0].Meta.Text)
	}
	if matches[0].Meta.ChunkID != 0 || matches[0].Meta.WordCount != 3 {
		t.Errorf("expected integer metadata round-trip, got %+v", matches[0].Meta)
	}
}

func TestQdrant_ReUpsertReplaces(t *testing.T) {
	s := testStore(t, "docent_test_reupsert")
	ctx := context.Background()

	if err := s.CreateIndex(ctx, "docent_test_reupsert", 4, store.Cosine); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}

	id := "c3333333-3333-3333-3333-333333333333"
	first := []domain.Record{{ID: id, Vector: []float32{1, 0, 0, 0}, Meta: domain.Meta{Text: "old"}}}
	if err := s.Upsert(ctx, "docent_test_reupsert", first); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second := []domain.Record{{ID: id, Vector: []float32{1, 0, 0, 0}, Meta: domain.Meta{Text: "new"}}}
	if err := s.Upsert(ctx, "docent_test_reupsert", second); err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}

	matches, err := s.Query(ctx, "docent_test_reupsert", []float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 || matches[0].Meta.Text != "new" {
		t.Fatalf("expected single replaced record, got %+v", matches)
	}
}
