// Package embed provides embedding providers: a remote sentence-transformer
// server, Ollama, and a deterministic hash-based embedder.
package embed

import (
	"context"
	"fmt"
	"math"
	"time"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
)

const (
	// DefaultBatchSize is the number of texts sent per request.
	DefaultBatchSize = 100

	// DefaultMaxConcurrency caps in-flight requests per embedder.
	DefaultMaxConcurrency = 10

	// DefaultTimeout bounds a single embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultDimensions matches all-mpnet-base-v2.
	DefaultDimensions = 768

	// DefaultModel is the default sentence-transformer model.
	DefaultModel = "all-mpnet-base-v2"
)

// Result holds document embeddings in input order and the model that made them.
type Result struct {
	Vectors [][]float32
	Model   string
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	// EmbedDocuments embeds texts, preserving order.
	EmbedDocuments(ctx context.Context, texts []string) (Result, error)

	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// checkDimensions reports vectors whose length differs from want.
func checkDimensions(vectors [][]float32, want int) error {
	for i, v := range vectors {
		if len(v) != want {
			return cerrors.New(cerrors.ErrCodeDimensionMismatch,
				fmt.Sprintf("embedding %d has %d dimensions, expected %d", i, len(v), want), nil).
				WithSuggestion("Set embeddings.dimensions (VECTOR_SIZE) to the model's output size")
		}
	}
	return nil
}

// batches splits texts into slices of at most size.
func batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		out = append(out, texts[start:min(start+size, len(texts))])
	}
	return out
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
