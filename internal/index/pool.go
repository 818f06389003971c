package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/corpusindex/internal/cache"
	"github.com/Aman-CERP/corpusindex/internal/telemetry"
	"github.com/Aman-CERP/corpusindex/internal/ui"
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers int
	Worker  WorkerConfig
}

// Pool shards entities across concurrent workers.
type Pool struct {
	cfg      PoolConfig
	deps     WorkerDeps
	renderer ui.Renderer
}

// NewPool creates a pool. A nil renderer discards progress events.
func NewPool(cfg PoolConfig, deps WorkerDeps, renderer ui.Renderer) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkerCount
	}
	if renderer == nil {
		renderer = ui.NopRenderer{}
	}
	return &Pool{cfg: cfg, deps: deps, renderer: renderer}
}

// PoolResult summarizes a Process call.
type PoolResult struct {
	Entities int
	Chunks   int
	Shards   int
}

// Process indexes entities across shards. The first failing shard cancels
// the others; sub-batches already committed stay committed.
func (p *Pool) Process(ctx context.Context, entities []cache.SourceEntity) (PoolResult, error) {
	shards := ShardArray(entities, p.cfg.Workers)
	p.deps.Metrics.Set(telemetry.NumWorkers, float64(len(shards)))
	slog.Info("pool_started",
		slog.Int("entities", len(entities)),
		slog.Int("shards", len(shards)),
		slog.Int("batch_size", p.cfg.Worker.withDefaults().BatchSize))

	progress := &progressTracker{total: len(entities), renderer: p.renderer}
	var chunks atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		w := NewWorker(i, p.cfg.Worker, p.deps)
		g.Go(func() error {
			n, err := w.IndexEntities(gctx, shard, progress)
			chunks.Add(int64(n))
			return err
		})
	}
	err := g.Wait()

	return PoolResult{
		Entities: progress.done(),
		Chunks:   int(chunks.Load()),
		Shards:   len(shards),
	}, err
}

// progressTracker aggregates progress from every shard.
type progressTracker struct {
	total    int
	renderer ui.Renderer

	mu        sync.Mutex
	completed int
}

func (t *progressTracker) OnEntitiesIndexed(n int) {
	t.mu.Lock()
	t.completed += n
	completed := t.completed
	t.mu.Unlock()

	pct := 100
	if t.total > 0 {
		pct = completed * 100 / t.total
	}
	slog.Info(fmt.Sprintf("[Progress] %d%% (%d / %d)", pct, completed, t.total))
	t.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageIndexing,
		Current: completed,
		Total:   t.total,
	})
}

func (t *progressTracker) done() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}
