// Package store defines the vector store engine contract and an in-memory
// HNSW implementation. Relational and Qdrant engines live in subpackages.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DefaultSourceLocation tags documents with no known origin. It is never
// bulk-deleted, so unrelated untagged documents survive a re-index.
const DefaultSourceLocation = "unknown"

// Metadata keys added to every chunk.
const (
	MetadataSourceLocation = "source_location"
	MetadataSectionIndex   = "section_index"
)

// DistanceStrategy selects the similarity measure.
type DistanceStrategy string

const (
	DistanceL2     DistanceStrategy = "l2"
	DistanceCosine DistanceStrategy = "cosine"
	DistanceInner  DistanceStrategy = "inner"
)

// AllStrategies lists every supported strategy.
var AllStrategies = []DistanceStrategy{DistanceL2, DistanceCosine, DistanceInner}

// ParseDistanceStrategy parses l2, cosine or inner. Empty means l2.
func ParseDistanceStrategy(s string) (DistanceStrategy, error) {
	switch DistanceStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DistanceL2:
		return DistanceL2, nil
	case DistanceCosine:
		return DistanceCosine, nil
	case DistanceInner:
		return DistanceInner, nil
	default:
		return "", fmt.Errorf("unknown distance strategy %q", s)
	}
}

// IndexName is the name of the index serving this strategy.
func (d DistanceStrategy) IndexName() string {
	return "content_" + string(d) + "_idx"
}

// Document is a chunk of text with its metadata.
type Document struct {
	PageContent    string
	Metadata       map[string]any
	SourceLocation string
}

// ScoredDocument is a search hit. Score follows the strategy: raw L2
// distance, cosine similarity, or inner product.
type ScoredDocument struct {
	Document Document
	Score    float64
}

// VectorRecord is one stored row.
type VectorRecord struct {
	ID             uuid.UUID
	SourceLocation string
	Document       string
	Metadata       json.RawMessage
	Embedding      []float32
}

// VectorStore is the vector store engine.
type VectorStore interface {
	// EnsureSchema makes the store ready for writes. It is idempotent.
	EnsureSchema(ctx context.Context) error
	// AddVectors replaces all rows of the batch's source locations with docs.
	AddVectors(ctx context.Context, vectors [][]float32, docs []Document) error
	// InsertVectors appends rows without deleting.
	InsertVectors(ctx context.Context, vectors [][]float32, docs []Document) error
	// DeleteBySourceLocation removes rows for the given locations. The
	// default location is ignored.
	DeleteBySourceLocation(ctx context.Context, locations ...string) error
	SimilaritySearchVectorWithScore(ctx context.Context, query []float32, k int, filter map[string]string) ([]ScoredDocument, error)
	Close() error
}

// IndexManager exposes schema and index administration.
type IndexManager interface {
	CreateVectorExtension(ctx context.Context) error
	CreateTableIfNotExists(ctx context.Context) error
	TableExists(ctx context.Context) (bool, error)
	IndexExists(ctx context.Context, strategy DistanceStrategy) (bool, error)
	CreateIndexIfNotExisting(ctx context.Context, lists int, strategies []DistanceStrategy, dropOthers, concurrently bool) error
	Truncate(ctx context.Context) error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// NormalizeTableName takes the last path segment of name, lower-cases it and
// replaces runs of characters outside [a-z0-9_] with an underscore.
func NormalizeTableName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return nonIdent.ReplaceAllString(strings.ToLower(name), "_")
}

// TableNameFor returns the table name for a model and dimensionality.
func TableNameFor(model string, dimensions int) string {
	return NormalizeTableName(fmt.Sprintf("%s_%d", model, dimensions))
}

// NewRecords validates vectors against dimensions and builds rows with fresh
// ids. Documents without a source location get defaultLocation.
func NewRecords(vectors [][]float32, docs []Document, dimensions int, defaultLocation string) ([]VectorRecord, error) {
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("vectors and documents length mismatch: %d vs %d", len(vectors), len(docs))
	}

	records := make([]VectorRecord, len(docs))
	for i, doc := range docs {
		if len(vectors[i]) != dimensions {
			return nil, ErrDimensionMismatch{Expected: dimensions, Got: len(vectors[i])}
		}
		meta := doc.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		records[i] = VectorRecord{
			ID:             uuid.New(),
			SourceLocation: ResolveSourceLocation(doc, defaultLocation),
			Document:       doc.PageContent,
			Metadata:       raw,
			Embedding:      vectors[i],
		}
	}
	return records, nil
}

// ResolveSourceLocation returns the document's location, falling back to its
// source_location metadata and then defaultLocation.
func ResolveSourceLocation(doc Document, defaultLocation string) string {
	if doc.SourceLocation != "" {
		return doc.SourceLocation
	}
	if s, ok := doc.Metadata[MetadataSourceLocation].(string); ok && s != "" {
		return s
	}
	return defaultLocation
}

// DistinctSourceLocations returns the locations in docs in first-seen order,
// excluding defaultLocation.
func DistinctSourceLocations(docs []Document, defaultLocation string) []string {
	seen := make(map[string]struct{}, len(docs))
	var out []string
	for _, doc := range docs {
		loc := ResolveSourceLocation(doc, defaultLocation)
		if loc == defaultLocation {
			continue
		}
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		out = append(out, loc)
	}
	return out
}

// FilterLocations drops defaultLocation and duplicates from locations.
func FilterLocations(locations []string, defaultLocation string) []string {
	seen := make(map[string]struct{}, len(locations))
	out := make([]string, 0, len(locations))
	for _, loc := range locations {
		if loc == "" || loc == defaultLocation {
			continue
		}
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		out = append(out, loc)
	}
	return out
}
