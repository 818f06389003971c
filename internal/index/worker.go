package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Aman-CERP/corpusindex/internal/cache"
	"github.com/Aman-CERP/corpusindex/internal/chunk"
	"github.com/Aman-CERP/corpusindex/internal/embed"
	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/logging"
	"github.com/Aman-CERP/corpusindex/internal/store"
	"github.com/Aman-CERP/corpusindex/internal/telemetry"
)

const (
	// DefaultWorkerCount is the number of concurrent shards.
	DefaultWorkerCount = 2

	// DefaultBatchSize is the number of entities per worker sub-batch.
	DefaultBatchSize = 500

	// DefaultInsertMax is the number of rows per InsertVectors call.
	DefaultInsertMax = 1000
)

// FileReader reads an entity's local file.
type FileReader func(path string) ([]byte, error)

// Reporter receives progress as sub-batches commit.
type Reporter interface {
	OnEntitiesIndexed(n int)
}

// LastIndexedUpdater records when source locations were indexed.
type LastIndexedUpdater interface {
	UpdateLastIndexed(ctx context.Context, sourceLocations []string) error
}

// WorkerConfig sizes a worker's sub-batches.
type WorkerConfig struct {
	BatchSize int
	InsertMax int
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.InsertMax <= 0 {
		c.InsertMax = DefaultInsertMax
	}
	return c
}

// WorkerDeps are the services shared by every worker.
type WorkerDeps struct {
	Splitter *chunk.Splitter
	Embedder embed.Embedder
	Vectors  store.VectorStore
	Cache    LastIndexedUpdater
	ReadFile FileReader
	Metrics  *telemetry.Metrics
}

// Worker indexes one shard of entities in sequential sub-batches.
type Worker struct {
	id   int
	cfg  WorkerConfig
	deps WorkerDeps
}

// NewWorker creates a worker. A nil ReadFile uses os.ReadFile.
func NewWorker(id int, cfg WorkerConfig, deps WorkerDeps) *Worker {
	if deps.ReadFile == nil {
		deps.ReadFile = os.ReadFile
	}
	if deps.Splitter == nil {
		deps.Splitter = chunk.NewSplitter(chunk.WithMetrics(deps.Metrics))
	}
	return &Worker{id: id, cfg: cfg.withDefaults(), deps: deps}
}

// IndexEntities processes entities and returns the number of chunks written.
// Each sub-batch is committed before the next starts; a cancelled context
// stops the worker at the next sub-batch boundary.
func (w *Worker) IndexEntities(ctx context.Context, entities []cache.SourceEntity, reporter Reporter) (int, error) {
	chunks := 0
	for i, batch := range ChunkArray(entities, w.cfg.BatchSize) {
		if err := ctx.Err(); err != nil {
			return chunks, err
		}
		n, err := w.indexBatch(ctx, batch)
		if err != nil {
			return chunks, fmt.Errorf("worker %d batch %d: %w", w.id, i, err)
		}
		chunks += n
		if reporter != nil {
			reporter.OnEntitiesIndexed(len(batch))
		}
	}
	return chunks, nil
}

func (w *Worker) indexBatch(ctx context.Context, batch []cache.SourceEntity) (int, error) {
	docs := make([]store.Document, 0, len(batch))
	locations := make([]string, 0, len(batch))
	for _, e := range batch {
		data, err := w.deps.ReadFile(e.LocalPath)
		if err != nil {
			return 0, cerrors.New(cerrors.ErrCodeFileRead, "failed to read "+e.LocalPath, err).
				WithDetail("source_location", e.SourceLocation)
		}
		docs = append(docs, w.deps.Splitter.EntityDocuments(chunk.Source{
			Text:           string(data),
			SourceLocation: e.SourceLocation,
			Metadata:       e.Metadata,
		})...)
		locations = append(locations, e.SourceLocation)
	}

	var vectors [][]float32
	if len(docs) > 0 {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.PageContent
		}
		start := time.Now()
		res, err := logging.Timed(ctx, "embed_documents", func(ctx context.Context) (embed.Result, error) {
			return w.deps.Embedder.EmbedDocuments(ctx, texts)
		})
		if err != nil {
			return 0, err
		}
		if len(res.Vectors) != len(docs) {
			return 0, cerrors.BackendError(cerrors.ErrCodeEmbeddingBackend,
				fmt.Sprintf("embedder returned %d vectors for %d chunks", len(res.Vectors), len(docs)), nil)
		}
		elapsed := time.Since(start)
		w.deps.Metrics.ObserveLatency("embed_documents", elapsed)
		w.deps.Metrics.Set(telemetry.EmbeddingMsPerItem, float64(elapsed.Milliseconds())/float64(len(docs)))
		vectors = res.Vectors
	}

	// Rows of every entity in the batch go, including entities that now have no chunks.
	err := logging.TimedErr(ctx, "delete_by_source_location", func(ctx context.Context) error {
		return w.deps.Vectors.DeleteBySourceLocation(ctx, locations...)
	})
	if err != nil {
		return 0, err
	}

	for start := 0; start < len(docs); start += w.cfg.InsertMax {
		end := min(start+w.cfg.InsertMax, len(docs))
		err := logging.TimedErr(ctx, "insert_vectors", func(ctx context.Context) error {
			return w.deps.Vectors.InsertVectors(ctx, vectors[start:end], docs[start:end])
		})
		if err != nil {
			return 0, err
		}
	}
	w.deps.Metrics.Add(telemetry.VectorRowsInserted, int64(len(docs)))

	if err := w.deps.Cache.UpdateLastIndexed(ctx, locations); err != nil {
		return 0, err
	}
	w.deps.Metrics.Add(telemetry.EntitiesIndexed, int64(len(batch)))

	slog.Info("worker_batch_committed",
		slog.Int("worker", w.id),
		slog.Int("entities", len(batch)),
		slog.Int("chunks", len(docs)))
	return len(docs), nil
}
