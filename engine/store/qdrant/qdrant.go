// Package qdrant backs the store contract with a Qdrant server over gRPC.
// This is the production backend.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/docent-ai/docent/engine/domain"
	"github.com/docent-ai/docent/engine/store"
)

// Store owns all Qdrant operations. One Store serves any number of indexes
// (Qdrant collections).
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// New connects to Qdrant at the given gRPC address.
func New(addr string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// ListIndexes returns the names of all collections.
func (s *Store) ListIndexes(ctx context.Context) ([]string, error) {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("qdrant: list collections: %w", err)
	}
	names := make([]string, 0, len(list.GetCollections()))
	for _, c := range list.GetCollections() {
		names = append(names, c.GetName())
	}
	return names, nil
}

// CreateIndex provisions a collection with the given dimension and metric.
func (s *Store) CreateIndex(ctx context.Context, name string, dim int, metric store.Metric) error {
	if dim <= 0 {
		return domain.NewConfigError("dimension", fmt.Sprintf("must be positive, got %d", dim))
	}
	distance, err := distanceOf(metric)
	if err != nil {
		return err
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dim),
					Distance: distance,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", name, err)
	}
	return nil
}

// DeleteIndex drops a collection. A missing collection reports
// domain.ErrIndexNotFound.
func (s *Store) DeleteIndex(ctx context.Context, name string) error {
	resp, err := s.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: name,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("qdrant: delete collection %s: %w", name, domain.ErrIndexNotFound)
		}
		return fmt.Errorf("qdrant: delete collection %s: %w", name, err)
	}
	if !resp.GetResult() {
		return fmt.Errorf("qdrant: delete collection %s: %w", name, domain.ErrIndexNotFound)
	}
	return nil
}

// Upsert stores records as points, waiting for the write to be applied so a
// batch reported as written is durable before the next one starts.
func (s *Store) Upsert(ctx context.Context, name string, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Vector},
				},
			},
			Payload: payloadFromMeta(r.Meta),
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("qdrant: upsert into %s: %w", name, domain.ErrIndexNotFound)
		}
		return fmt.Errorf("qdrant: upsert %d points into %s: %w", len(records), name, err)
	}
	return nil
}

// Query performs k-NN search with payloads included.
func (s *Store) Query(ctx context.Context, name string, vector []float32, topK int) ([]domain.Match, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: name,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("qdrant: query %s: %w", name, domain.ErrIndexNotFound)
		}
		return nil, fmt.Errorf("qdrant: query %s: %w", name, err)
	}

	matches := make([]domain.Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		matches[i] = domain.Match{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
			Meta:  metaFromPayload(r.GetPayload()),
		}
	}
	return matches, nil
}

func distanceOf(metric store.Metric) (pb.Distance, error) {
	switch metric {
	case store.Cosine, "":
		return pb.Distance_Cosine, nil
	case store.Dot:
		return pb.Distance_Dot, nil
	case store.Euclid:
		return pb.Distance_Euclid, nil
	}
	return pb.Distance_UnknownDistance, domain.NewConfigError("metric", fmt.Sprintf("unknown metric %q", metric))
}

func payloadFromMeta(m domain.Meta) map[string]*pb.Value {
	return map[string]*pb.Value{
		"doc_id":       {Kind: &pb.Value_StringValue{StringValue: m.DocID}},
		"source":       {Kind: &pb.Value_StringValue{StringValue: m.Source}},
		"chunk_id":     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.ChunkID)}},
		"text":         {Kind: &pb.Value_StringValue{StringValue: m.Text}},
		"start_offset": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.StartOffset)}},
		"word_count":   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.WordCount)}},
		"char_count":   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(m.CharCount)}},
	}
}

func metaFromPayload(p map[string]*pb.Value) domain.Meta {
	return domain.Meta{
		DocID:       p["doc_id"].GetStringValue(),
		Source:      p["source"].GetStringValue(),
		ChunkID:     int(p["chunk_id"].GetIntegerValue()),
		Text:        p["text"].GetStringValue(),
		StartOffset: int(p["start_offset"].GetIntegerValue()),
		WordCount:   int(p["word_count"].GetIntegerValue()),
		CharCount:   int(p["char_count"].GetIntegerValue()),
	}
}
