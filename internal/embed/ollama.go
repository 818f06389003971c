package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
)

// DefaultOllamaHost is the default Ollama API endpoint.
const DefaultOllamaHost = "http://localhost:11434"

// OllamaConfig configures an OllamaEmbedder.
type OllamaConfig struct {
	Host              string
	Model             string
	Dimensions        int
	BatchSize         int
	MaxConcurrency    int
	RequestsPerSecond float64
	Timeout           time.Duration

	// Retry overrides the request retry policy; zero uses the default.
	Retry cerrors.RetryConfig
}

// ollamaEmbedRequest is the request body for /api/embed.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the response body from /api/embed.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	cfg    OllamaConfig
	client *jsonClient
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &OllamaEmbedder{
		cfg:    cfg,
		client: newJSONClient("ollama", cfg.Timeout, cfg.MaxConcurrency, cfg.RequestsPerSecond, cfg.Retry),
	}
}

// EmbedDocuments embeds texts sequentially in batches.
func (e *OllamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) (Result, error) {
	out := Result{Vectors: make([][]float32, 0, len(texts)), Model: e.cfg.Model}
	for _, part := range batches(texts, e.cfg.BatchSize) {
		var resp ollamaEmbedResponse
		req := ollamaEmbedRequest{Model: e.cfg.Model, Input: part}
		if err := e.client.post(ctx, e.cfg.Host+"/api/embed", req, &resp); err != nil {
			return Result{}, err
		}
		if len(resp.Embeddings) != len(part) {
			return Result{}, cerrors.BackendError(cerrors.ErrCodeEmbeddingBackend,
				fmt.Sprintf("ollama returned %d embeddings for %d texts", len(resp.Embeddings), len(part)), nil)
		}

		vectors := make([][]float32, len(resp.Embeddings))
		for i, emb := range resp.Embeddings {
			v := make([]float32, len(emb))
			for j, x := range emb {
				v[j] = float32(x)
			}
			vectors[i] = normalizeVector(v)
		}
		if err := checkDimensions(vectors, e.cfg.Dimensions); err != nil {
			return Result{}, err
		}
		out.Vectors = append(out.Vectors, vectors...)
	}
	return out, nil
}

// EmbedQuery embeds a single query.
func (e *OllamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res.Vectors[0], nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the model name.
func (e *OllamaEmbedder) ModelName() string { return e.cfg.Model }

// Close releases resources.
func (e *OllamaEmbedder) Close() error {
	e.client.close()
	return nil
}
