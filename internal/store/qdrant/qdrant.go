// Package qdrant implements the vector store engine on a Qdrant collection.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/store"
)

// PayloadDocument holds the chunk text in each point's payload.
const PayloadDocument = "document"

// Client is the subset of *qdrant.Client the engine uses.
type Client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

var _ Client = (*qdrant.Client)(nil)

// Config configures a Store.
type Config struct {
	Collection            string
	Dimensions            int
	Strategy              store.DistanceStrategy
	DefaultSourceLocation string
	// CatchSearchErrors logs query failures and returns no results.
	CatchSearchErrors bool
}

// ConnConfig locates the Qdrant gRPC endpoint.
type ConnConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Store is a store.VectorStore backed by one Qdrant collection.
type Store struct {
	client Client
	cfg    Config
}

var _ store.VectorStore = (*Store)(nil)

// Dial connects to Qdrant and returns a Store.
func Dial(conn ConnConfig, cfg Config) (*Store, error) {
	if conn.Host == "" {
		conn.Host = "localhost"
	}
	if conn.Port == 0 {
		conn.Port = 6334
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   conn.Host,
		Port:   conn.Port,
		APIKey: conn.APIKey,
		UseTLS: conn.UseTLS,
	})
	if err != nil {
		return nil, cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to connect to qdrant", err)
	}
	return New(client, cfg)
}

// New creates a Store over client.
func New(client Client, cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		return nil, cerrors.ValidationError("qdrant collection name is required", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, cerrors.ValidationError(fmt.Sprintf("invalid vector dimensions %d", cfg.Dimensions), nil)
	}
	if cfg.Strategy == "" {
		cfg.Strategy = store.DistanceL2
	}
	if cfg.DefaultSourceLocation == "" {
		cfg.DefaultSourceLocation = store.DefaultSourceLocation
	}
	return &Store{client: client, cfg: cfg}, nil
}

func distance(strategy store.DistanceStrategy) qdrant.Distance {
	switch strategy {
	case store.DistanceCosine:
		return qdrant.Distance_Cosine
	case store.DistanceInner:
		return qdrant.Distance_Dot
	default:
		return qdrant.Distance_Euclid
	}
}

// EnsureSchema creates the collection and a keyword index on source_location.
func (s *Store) EnsureSchema(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to check collection", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.cfg.Dimensions),
			Distance: distance(s.cfg.Strategy),
		}),
	})
	if err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to create collection "+s.cfg.Collection, err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.cfg.Collection,
		FieldName:      store.MetadataSourceLocation,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorBackend, "failed to index source_location", err)
	}
	slog.Info("qdrant_collection_created",
		slog.String("collection", s.cfg.Collection),
		slog.Int("dimensions", s.cfg.Dimensions),
		slog.String("strategy", string(s.cfg.Strategy)))
	return nil
}

// DeleteBySourceLocation removes the points of every given location except
// the default one.
func (s *Store) DeleteBySourceLocation(ctx context.Context, locations ...string) error {
	locs := store.FilterLocations(locations, s.cfg.DefaultSourceLocation)
	if len(locs) == 0 {
		return nil
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatchKeywords(store.MetadataSourceLocation, locs...)},
		}),
	})
	if err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorWrite, "failed to delete by source location", err)
	}
	return nil
}

// AddVectors deletes the batch's source locations, then upserts docs. Qdrant
// has no multi-statement transaction, so a failed upsert leaves the
// locations empty until the next run.
func (s *Store) AddVectors(ctx context.Context, vectors [][]float32, docs []store.Document) error {
	records, err := store.NewRecords(vectors, docs, s.cfg.Dimensions, s.cfg.DefaultSourceLocation)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.DeleteBySourceLocation(ctx, store.DistinctSourceLocations(docs, s.cfg.DefaultSourceLocation)...); err != nil {
		return err
	}
	return s.upsert(ctx, records)
}

// InsertVectors upserts docs without deleting.
func (s *Store) InsertVectors(ctx context.Context, vectors [][]float32, docs []store.Document) error {
	records, err := store.NewRecords(vectors, docs, s.cfg.Dimensions, s.cfg.DefaultSourceLocation)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	return s.upsert(ctx, records)
}

func (s *Store) upsert(ctx context.Context, records []store.VectorRecord) error {
	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		payload, err := decodePayload(rec.Metadata)
		if err != nil {
			return err
		}
		payload[PayloadDocument] = rec.Document
		payload[store.MetadataSourceLocation] = rec.SourceLocation

		values, err := qdrant.TryValueMap(payload)
		if err != nil {
			return cerrors.ValidationError("unsupported metadata value", err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.ID.String()),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: values,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return cerrors.BackendError(cerrors.ErrCodeVectorWrite,
			fmt.Sprintf("failed to upsert %d points", len(points)), err)
	}
	return nil
}

// SimilaritySearchVectorWithScore returns up to k points nearest to query whose
// payload matches every filter entry. Qdrant reports Euclid distance,
// cosine similarity and dot product, which are the l2, cosine and inner scores.
func (s *Store) SimilaritySearchVectorWithScore(ctx context.Context, query []float32, k int, filter map[string]string) ([]store.ScoredDocument, error) {
	if len(query) != s.cfg.Dimensions {
		return nil, store.ErrDimensionMismatch{Expected: s.cfg.Dimensions, Got: len(query)}
	}
	if k <= 0 {
		return []store.ScoredDocument{}, nil
	}

	var f *qdrant.Filter
	if len(filter) > 0 {
		f = &qdrant.Filter{}
		for key, value := range filter {
			f.Must = append(f.Must, qdrant.NewMatch(key, value))
		}
	}
	limit := uint64(k)
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(query...),
		Filter:         f,
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		slog.Error("similarity_search_failed",
			slog.String("collection", s.cfg.Collection),
			slog.String("error", err.Error()))
		if s.cfg.CatchSearchErrors {
			return []store.ScoredDocument{}, nil
		}
		return nil, cerrors.BackendError(cerrors.ErrCodeVectorSearch, "qdrant query failed", err)
	}

	out := make([]store.ScoredDocument, 0, len(points))
	for _, p := range points {
		meta := make(map[string]any, len(p.Payload))
		for key, v := range p.Payload {
			meta[key] = convertValue(v)
		}
		content, _ := meta[PayloadDocument].(string)
		delete(meta, PayloadDocument)
		location, _ := meta[store.MetadataSourceLocation].(string)

		out = append(out, store.ScoredDocument{
			Document: store.Document{PageContent: content, Metadata: meta, SourceLocation: location},
			Score:    float64(p.Score),
		})
	}
	return out, nil
}

// Close closes the client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// decodePayload decodes metadata keeping integers as int64 so that they are
// stored as Qdrant integer values.
func decodePayload(raw json.RawMessage) (map[string]any, error) {
	payload := map[string]any{}
	if len(raw) == 0 {
		return payload, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	for k, v := range payload {
		payload[k] = fromJSONNumbers(v)
	}
	return payload, nil
}

func fromJSONNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	case []any:
		for i := range val {
			val[i] = fromJSONNumbers(val[i])
		}
		return val
	case map[string]any:
		for k := range val {
			val[k] = fromJSONNumbers(val[k])
		}
		return val
	}
	return v
}

func convertValue(v *qdrant.Value) any {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		out := make([]any, len(val.ListValue.GetValues()))
		for i, lv := range val.ListValue.GetValues() {
			out[i] = convertValue(lv)
		}
		return out
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(val.StructValue.GetFields()))
		for k, nv := range val.StructValue.GetFields() {
			out[k] = convertValue(nv)
		}
		return out
	}
	return nil
}
