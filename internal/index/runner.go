// Package index runs incremental indexing: it lists documents, resolves
// which changed since the last run, and fans them out to a sharded worker
// pool that chunks, embeds and writes them to the vector store.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/corpusindex/internal/cache"
	"github.com/Aman-CERP/corpusindex/internal/chunk"
	"github.com/Aman-CERP/corpusindex/internal/embed"
	cerrors "github.com/Aman-CERP/corpusindex/internal/errors"
	"github.com/Aman-CERP/corpusindex/internal/logging"
	"github.com/Aman-CERP/corpusindex/internal/objectstore"
	"github.com/Aman-CERP/corpusindex/internal/store"
	"github.com/Aman-CERP/corpusindex/internal/telemetry"
	"github.com/Aman-CERP/corpusindex/internal/ui"
)

// State is the runner's position in a run.
type State int

const (
	Idle State = iota
	ResolvingDeltas
	NothingToDo
	Processing
	Committed
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ResolvingDeltas:
		return "resolving_deltas"
	case NothingToDo:
		return "nothing_to_do"
	case Processing:
		return "processing"
	case Committed:
		return "committed"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Cache is the indexing cache as seen by the runner.
type Cache interface {
	LastIndexedUpdater
	ResolveEntitiesToIndex(ctx context.Context, objectKeys []string, skipDeltaCheck bool) ([]cache.SourceEntity, error)
	UpdateModelLastExecuted(ctx context.Context) error
	SkippedUnsupported() int
}

var _ Cache = (*cache.IndexingCache)(nil)

// RunnerConfig configures a run.
type RunnerConfig struct {
	// Root limits listing to a prefix or directory; empty lists everything.
	Root string
	// Patterns are doublestar globs relative to Root.
	Patterns       []string
	SkipDeltaCheck bool
	Pool           PoolConfig
}

// RunnerDependencies are the services a Runner uses. They are constructed
// once by the caller and shared for the lifetime of the Runner.
type RunnerDependencies struct {
	Objects  objectstore.ObjectStore
	Cache    Cache
	Vectors  store.VectorStore
	Embedder embed.Embedder

	// Optional.
	Splitter *chunk.Splitter
	Renderer ui.Renderer
	Metrics  *telemetry.Metrics
	ReadFile FileReader
}

// RunResult summarizes a run.
type RunResult struct {
	Listed    int
	Processed int
	Chunks    int
	Skipped   int
	Duration  time.Duration
	State     State
}

// Runner orchestrates one indexing run at a time.
type Runner struct {
	deps RunnerDependencies

	mu    sync.Mutex
	state State
}

// NewRunner validates deps and creates a Runner.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("indexing cache is required")
	}
	if deps.Vectors == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Renderer == nil {
		deps.Renderer = ui.NopRenderer{}
	}
	if deps.Splitter == nil {
		deps.Splitter = chunk.NewSplitter(chunk.WithMetrics(deps.Metrics))
	}
	return &Runner{deps: deps}, nil
}

// State returns the current run state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	prev := r.state
	r.state = s
	r.mu.Unlock()
	slog.Info("index_state", slog.String("from", prev.String()), slog.String("to", s.String()))
}

// Run lists documents, resolves deltas, indexes what changed and records the
// model execution. It returns the number of entities processed.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{}
	r.setState(ResolvingDeltas)

	r.deps.Renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageListing, Message: "Listing documents..."})
	listStart := time.Now()
	keys, err := logging.Timed(ctx, "list_objects", func(ctx context.Context) ([]string, error) {
		return r.deps.Objects.ListObjects(ctx, cfg.Root, cfg.Patterns)
	})
	if err != nil {
		return r.fail(result, start, err)
	}
	listTime := time.Since(listStart)
	result.Listed = len(keys)
	r.deps.Metrics.Set(telemetry.InputDocumentCount, float64(len(keys)))

	r.deps.Renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageResolving,
		Message: fmt.Sprintf("Resolving %d documents...", len(keys)),
	})
	resolveStart := time.Now()
	entities, err := logging.Timed(ctx, "resolve_entities", func(ctx context.Context) ([]cache.SourceEntity, error) {
		return r.deps.Cache.ResolveEntitiesToIndex(ctx, keys, cfg.SkipDeltaCheck)
	})
	if err != nil {
		return r.fail(result, start, err)
	}
	resolveTime := time.Since(resolveStart)
	result.Skipped = r.deps.Cache.SkippedUnsupported()
	r.deps.Metrics.Add(telemetry.SkippedUnsupported, int64(result.Skipped))

	slog.Info("entities_resolved",
		slog.Int("listed", len(keys)),
		slog.Int("to_index", len(entities)),
		slog.Int("skipped_unsupported", result.Skipped),
		slog.Bool("skip_delta_check", cfg.SkipDeltaCheck))

	stats := ui.CompletionStats{
		Listed:  len(keys),
		Skipped: result.Skipped,
		Stages:  ui.StageTimings{List: listTime, Resolve: resolveTime},
		Embedder: ui.EmbedderInfo{
			Model:      r.deps.Embedder.ModelName(),
			Dimensions: r.deps.Embedder.Dimensions(),
		},
	}

	if len(entities) == 0 {
		r.setState(NothingToDo)
		result.State = NothingToDo
		result.Duration = time.Since(start)
		stats.Duration = result.Duration
		r.deps.Renderer.Complete(stats)
		return result, nil
	}

	r.setState(Processing)
	if err := logging.TimedErr(ctx, "ensure_schema", r.deps.Vectors.EnsureSchema); err != nil {
		return r.fail(result, start, err)
	}

	pool := NewPool(cfg.Pool, WorkerDeps{
		Splitter: r.deps.Splitter,
		Embedder: r.deps.Embedder,
		Vectors:  r.deps.Vectors,
		Cache:    r.deps.Cache,
		ReadFile: r.deps.ReadFile,
		Metrics:  r.deps.Metrics,
	}, r.deps.Renderer)

	indexStart := time.Now()
	pr, err := pool.Process(ctx, entities)
	result.Processed = pr.Entities
	result.Chunks = pr.Chunks
	if err != nil {
		return r.fail(result, start, err)
	}
	r.setState(Committed)

	if err := r.deps.Cache.UpdateModelLastExecuted(ctx); err != nil {
		return r.fail(result, start, err)
	}

	r.setState(Done)
	result.State = Done
	result.Duration = time.Since(start)

	stats.Entities = pr.Entities
	stats.Chunks = pr.Chunks
	stats.Duration = result.Duration
	stats.Stages.Index = time.Since(indexStart)
	r.deps.Renderer.Complete(stats)
	if r.deps.Metrics != nil {
		r.deps.Metrics.LogSnapshot(slog.Default())
	}

	slog.Info("index_complete",
		slog.Int("processed", result.Processed),
		slog.Int("chunks", result.Chunks),
		slog.Int("shards", pr.Shards),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))
	return result, nil
}

func (r *Runner) fail(result *RunResult, start time.Time, err error) (*RunResult, error) {
	r.setState(Failed)
	result.State = Failed
	result.Duration = time.Since(start)

	wrapped := cerrors.PipelineError("indexing run failed", err)
	if errors.Is(err, context.Canceled) {
		wrapped = wrapped.WithSuggestion("The run was interrupted; committed batches are kept and will be skipped next time")
	}
	r.deps.Renderer.AddError(ui.ErrorEvent{Err: err})
	slog.Error("index_failed", cerrors.FormatForLog(err)...)
	return result, wrapped
}
