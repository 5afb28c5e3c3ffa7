// Package neo4j implements store.Store on Neo4j native vector indexes.
//
// Each index maps to a vector index and a node label of the same name, so
// indexes with different dimensions can coexist in one database. Chunk
// metadata lives as node properties next to the embedding and comes back
// with every match.
package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/store"
)

// embeddingProp is the node property the vector index is built on.
const embeddingProp = "embedding"

// awaitSeconds bounds how long CreateIndex waits for the index to come
// online. Vector indexes populate asynchronously and reject queries until
// they do.
const awaitSeconds = 60

// Store is a store.Store backed by Neo4j vector indexes.
type Store struct {
	driver neo4j.DriverWithContext
}

// New connects to a Neo4j server. An empty user means no auth.
func New(uri, user, pass string) (*Store, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, pass, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("neo4j: driver: %w", err)
	}
	return &Store{driver: driver}, nil
}

// NewWithDriver wraps an existing driver. The caller keeps ownership of the
// driver lifecycle.
func NewWithDriver(driver neo4j.DriverWithContext) *Store {
	return &Store{driver: driver}
}

// Close releases the underlying driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// ListIndexes returns the names of all vector indexes, sorted.
func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`SHOW INDEXES YIELD name, type WHERE type = 'VECTOR' RETURN name ORDER BY name`, nil)
	if err != nil {
		return nil, fmt.Errorf("neo4j: list indexes: %w", err)
	}
	var names []string
	for result.Next(ctx) {
		name, _, err := neo4j.GetRecordValue[string](result.Record(), "name")
		if err != nil {
			return nil, fmt.Errorf("neo4j: list indexes: %w", err)
		}
		names = append(names, name)
	}
	return names, nil
}

// CreateIndex provisions a vector index and waits for it to come online.
// Neo4j only implements cosine and euclidean similarity, so Dot is rejected.
func (s *Store) CreateIndex(ctx context.Context, name string, dim int, metric store.Metric) error {
	if err := validName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return domain.NewConfigError("dimension", fmt.Sprintf("must be positive, got %d", dim))
	}
	sim, err := similarityOf(metric)
	if err != nil {
		return err
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	// Index names and labels are not parameterizable in Cypher; validName
	// guarantees the backquoted splice is safe.
	cypher := fmt.Sprintf(
		"CREATE VECTOR INDEX `%s` FOR (n:`%s`) ON (n.%s) "+
			"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: '%s'}}",
		name, name, embeddingProp, dim, sim)
	if _, err := sess.Run(ctx, cypher, nil); err != nil {
		return fmt.Errorf("neo4j: create index %s: %w", name, err)
	}
	if _, err := sess.Run(ctx, "CALL db.awaitIndex($name, $seconds)",
		map[string]any{"name": name, "seconds": awaitSeconds}); err != nil {
		return fmt.Errorf("neo4j: await index %s: %w", name, err)
	}
	return nil
}

// DeleteIndex drops the index and the chunk nodes under its label. A
// missing index reports domain.ErrIndexNotFound.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, err := s.indexDimension(ctx, name); err != nil {
		return err
	}
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	if _, err := sess.Run(ctx, fmt.Sprintf("DROP INDEX `%s` IF EXISTS", name), nil); err != nil {
		return fmt.Errorf("neo4j: drop index %s: %w", name, err)
	}
	if _, err := sess.Run(ctx, fmt.Sprintf("MATCH (n:`%s`) DETACH DELETE n", name), nil); err != nil {
		return fmt.Errorf("neo4j: delete nodes of %s: %w", name, err)
	}
	return nil
}

// Upsert merges records by id in a single write transaction. Every record
// is checked against the index dimension before anything is written.
func (s *Store) Upsert(ctx context.Context, index string, records []domain.Record) error {
	if err := validName(index); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	dim, err := s.indexDimension(ctx, index)
	if err != nil {
		return err
	}
	for _, r := range records {
		if len(r.Vector) != dim {
			return domain.NewConfigError("vector",
				fmt.Sprintf("record %s has dimension %d, index %s expects %d", r.ID, len(r.Vector), index, dim))
		}
	}

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	// setNodeVectorProperty stores the embedding as float32, which is what
	// the index reads.
	cypher := fmt.Sprintf(
		"MERGE (n:`%s` {id: $id}) SET n += $props "+
			"WITH n CALL db.create.setNodeVectorProperty(n, '%s', $vector)",
		index, embeddingProp)
	_, err = sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, r := range records {
			params := map[string]any{
				"id":     r.ID,
				"props":  propsFromMeta(r.Meta),
				"vector": vec64(r.Vector),
			}
			if _, err := tx.Run(ctx, cypher, params); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j: upsert %d records into %s: %w", len(records), index, err)
	}
	return nil
}

// Query runs nearest-neighbour search through db.index.vector.queryNodes.
// Scores are Neo4j's own normalized similarities, already best first.
func (s *Store) Query(ctx context.Context, index string, vector []float32, topK int) ([]domain.Match, error) {
	if err := validName(index); err != nil {
		return nil, err
	}
	dim, err := s.indexDimension(ctx, index)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, domain.NewConfigError("vector",
			fmt.Sprintf("query has dimension %d, index %s expects %d", len(vector), index, dim))
	}
	if topK <= 0 {
		return nil, nil
	}

	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`CALL db.index.vector.queryNodes($index, $k, $vector) YIELD node, score RETURN node, score`,
		map[string]any{"index": index, "k": topK, "vector": vec64(vector)})
	if err != nil {
		return nil, fmt.Errorf("neo4j: query %s: %w", index, err)
	}
	var matches []domain.Match
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "node")
		if err != nil {
			return nil, fmt.Errorf("neo4j: query %s: %w", index, err)
		}
		scoreVal, _ := result.Record().Get("score")
		score, _ := scoreVal.(float64)
		matches = append(matches, domain.Match{
			ID:    strProp(node.Props, "id"),
			Score: float32(score),
			Meta:  metaFromProps(node.Props),
		})
	}
	return matches, nil
}

// indexDimension reads the configured dimension of a vector index. A missing
// index reports domain.ErrIndexNotFound.
func (s *Store) indexDimension(ctx context.Context, name string) (int, error) {
	sess := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer sess.Close(ctx)

	result, err := sess.Run(ctx,
		`SHOW INDEXES YIELD name, type, options WHERE type = 'VECTOR' AND name = $name RETURN options`,
		map[string]any{"name": name})
	if err != nil {
		return 0, fmt.Errorf("neo4j: show index %s: %w", name, err)
	}
	if !result.Next(ctx) {
		return 0, fmt.Errorf("neo4j: index %s: %w", name, domain.ErrIndexNotFound)
	}
	opts, _, err := neo4j.GetRecordValue[map[string]any](result.Record(), "options")
	if err != nil {
		return 0, fmt.Errorf("neo4j: show index %s: %w", name, err)
	}
	cfg, ok := opts["indexConfig"].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("neo4j: index %s: no indexConfig in options", name)
	}
	dim, ok := cfg["vector.dimensions"].(int64)
	if !ok {
		return 0, fmt.Errorf("neo4j: index %s: no vector.dimensions in indexConfig", name)
	}
	return int(dim), nil
}

func similarityOf(metric store.Metric) (string, error) {
	switch metric {
	case store.Cosine, "":
		return "cosine", nil
	case store.Euclid:
		return "euclidean", nil
	case store.Dot:
		return "", domain.NewConfigError("metric", fmt.Sprintf("%q not supported by neo4j vector indexes", metric))
	}
	return "", domain.NewConfigError("metric", fmt.Sprintf("unknown metric %q", metric))
}

// validName rejects index names that cannot be spliced into Cypher as a
// backquoted identifier.
func validName(name string) error {
	if name == "" {
		return domain.NewConfigError("index", "name must not be empty")
	}
	if strings.ContainsRune(name, '`') {
		return domain.NewConfigError("index", fmt.Sprintf("name %q must not contain backquotes", name))
	}
	return nil
}

func propsFromMeta(m domain.Meta) map[string]any {
	return map[string]any{
		"doc_id":       m.DocID,
		"source":       m.Source,
		"chunk_id":     m.ChunkID,
		"text":         m.Text,
		"start_offset": m.StartOffset,
		"word_count":   m.WordCount,
		"char_count":   m.CharCount,
	}
}

func metaFromProps(props map[string]any) domain.Meta {
	return domain.Meta{
		DocID:       strProp(props, "doc_id"),
		Source:      strProp(props, "source"),
		ChunkID:     intProp(props, "chunk_id"),
		Text:        strProp(props, "text"),
		StartOffset: intProp(props, "start_offset"),
		WordCount:   intProp(props, "word_count"),
		CharCount:   intProp(props, "char_count"),
	}
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

func intProp(props map[string]any, key string) int {
	if n, ok := props[key].(int64); ok {
		return int(n)
	}
	return 0
}

func vec64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
