package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
)

// DefaultEndpoint is the sentence-transformer server started alongside the indexer.
const DefaultEndpoint = "http://localhost:1337"

// RemoteConfig configures a RemoteEmbedder.
type RemoteConfig struct {
	Endpoint          string
	Model             string
	Dimensions        int
	BatchSize         int
	MaxConcurrency    int
	RequestsPerSecond float64
	Timeout           time.Duration

	// Retry overrides the request retry policy; zero uses the default.
	Retry cerrors.RetryConfig
}

type embedDocumentsRequest struct {
	Texts []string `json:"texts"`
}

type embedDocumentsResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
}

// RemoteEmbedder calls a sentence-transformer HTTP server.
type RemoteEmbedder struct {
	cfg    RemoteConfig
	client *jsonClient
}

var _ Embedder = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder creates an embedder for the server at cfg.Endpoint.
func NewRemoteEmbedder(cfg RemoteConfig) *RemoteEmbedder {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &RemoteEmbedder{
		cfg:    cfg,
		client: newJSONClient("remote", cfg.Timeout, cfg.MaxConcurrency, cfg.RequestsPerSecond, cfg.Retry),
	}
}

// EmbedDocuments sends texts in batches and reassembles the vectors in order.
func (e *RemoteEmbedder) EmbedDocuments(ctx context.Context, texts []string) (Result, error) {
	if len(texts) == 0 {
		return Result{Model: e.cfg.Model}, nil
	}

	parts := batches(texts, e.cfg.BatchSize)
	vectors := make([][][]float32, len(parts))
	models := make([]string, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		g.Go(func() error {
			var resp embedDocumentsResponse
			if err := e.client.post(gctx, e.cfg.Endpoint+"/embed-documents", embedDocumentsRequest{Texts: part}, &resp); err != nil {
				return err
			}
			if len(resp.Embeddings) != len(part) {
				return cerrors.BackendError(cerrors.ErrCodeEmbeddingBackend,
					fmt.Sprintf("server returned %d embeddings for %d texts", len(resp.Embeddings), len(part)), nil)
			}
			if err := checkDimensions(resp.Embeddings, e.cfg.Dimensions); err != nil {
				return err
			}
			vectors[i] = resp.Embeddings
			models[i] = resp.Model
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	out := Result{Vectors: make([][]float32, 0, len(texts)), Model: e.cfg.Model}
	for i, v := range vectors {
		out.Vectors = append(out.Vectors, v...)
		if models[i] != "" {
			out.Model = models[i]
		}
	}
	return out, nil
}

// EmbedQuery embeds a single query through the documents endpoint.
func (e *RemoteEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return res.Vectors[0], nil
}

// Dimensions returns the configured embedding dimension.
func (e *RemoteEmbedder) Dimensions() int { return e.cfg.Dimensions }

// ModelName returns the configured model.
func (e *RemoteEmbedder) ModelName() string { return e.cfg.Model }

// Close releases idle connections.
func (e *RemoteEmbedder) Close() error {
	e.client.close()
	return nil
}
