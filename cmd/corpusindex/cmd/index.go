package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/corpusindex/internal/chunk"
	"github.com/Aman-CERP/corpusindex/internal/index"
	"github.com/Aman-CERP/corpusindex/internal/logging"
	"github.com/Aman-CERP/corpusindex/internal/output"
	"github.com/Aman-CERP/corpusindex/internal/profiling"
	"github.com/Aman-CERP/corpusindex/internal/telemetry"
	"github.com/Aman-CERP/corpusindex/internal/ui"
)

type indexOptions struct {
	skipDeltaCheck bool
	workers        int
	batchSize      int
	noTUI          bool
	profile        profiling.Options
}

func newIndexCmd(st *rootState) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index new and changed documents",
		Long: `Index lists documents under the input path, resolves which changed since
they were last indexed for the configured model, and chunks, embeds and
writes those to the vector store. Each committed batch is recorded in the
indexing cache, so an interrupted run resumes where it stopped.`,
		Example: `  # Index changes since the last run
  corpusindex index

  # Re-index everything with four workers
  corpusindex index --skip-delta-check --workers 4`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("skip-delta-check") {
				st.cfg.Indexing.SkipDeltaCheck = opts.skipDeltaCheck
			}
			if opts.workers > 0 {
				st.cfg.Indexing.WorkerCount = opts.workers
			}
			if opts.batchSize > 0 {
				st.cfg.Indexing.WorkerBatchSize = opts.batchSize
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if opts.profile.Enabled() {
				session, err := profiling.Start(opts.profile)
				if err != nil {
					return err
				}
				defer func() {
					if err := session.Stop(); err != nil {
						slog.Warn("profiling_stop_failed", slog.String("error", err.Error()))
					}
				}()
			}

			res, err := runIndex(ctx, cmd, st, opts.noTUI)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout(), false).Successf("Processed %d documents (%d chunks)", res.Processed, res.Chunks)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.skipDeltaCheck, "skip-delta-check", false, "Index every document regardless of cache state")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Number of concurrent shards (default from config)")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Documents per worker sub-batch (default from config)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Print plain progress lines instead of the interactive display")
	cmd.Flags().StringVar(&opts.profile.CPUPath, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&opts.profile.HeapPath, "memprofile", "", "Write a heap profile to this file when the run ends")
	cmd.Flags().StringVar(&opts.profile.TracePath, "trace", "", "Write an execution trace to this file")

	return cmd
}

// runIndex performs one indexing run with freshly opened backends.
func runIndex(ctx context.Context, cmd *cobra.Command, st *rootState, noTUI bool) (*index.RunResult, error) {
	b, err := openBackends(ctx, st.cfg, need{cache: true, vectors: true, embedder: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	renderer := ui.NewRenderer(ui.Config{
		Output:     cmd.ErrOrStderr(),
		ForcePlain: noTUI,
		NoColor:    ui.DetectNoColor(),
		Title:      st.cfg.Indexing.InputPath,
	})
	if _, isTUI := renderer.(*ui.TUIRenderer); isTUI && st.cfg.Logging.FilePath == "" {
		// Keep log lines from tearing the interactive display.
		logCfg := st.cfg.Logging
		logCfg.FilePath = logging.DefaultLogPath()
		logCfg.WriteToStderr = false
		if err := st.setupLogging(logCfg); err != nil {
			return nil, err
		}
	}
	if err := renderer.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start progress display: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	return indexOnce(ctx, st, b, renderer)
}

// indexOnce runs the orchestrator over already opened backends.
func indexOnce(ctx context.Context, st *rootState, b *backends, renderer ui.Renderer) (*index.RunResult, error) {
	cfg := st.cfg
	metrics := telemetry.New()
	runner, err := index.NewRunner(index.RunnerDependencies{
		Objects:  b.objects,
		Cache:    b.cache,
		Vectors:  b.vectors,
		Embedder: b.embedder,
		Splitter: chunk.NewSplitter(
			chunk.WithChunkSize(cfg.Chunking.Size),
			chunk.WithChunkOverlap(cfg.Chunking.Overlap),
			chunk.WithMetrics(metrics),
		),
		Renderer: renderer,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	return runner.Run(ctx, index.RunnerConfig{
		Patterns:       cfg.Indexing.Glob,
		SkipDeltaCheck: cfg.Indexing.SkipDeltaCheck,
		Pool: index.PoolConfig{
			Workers: cfg.Indexing.WorkerCount,
			Worker: index.WorkerConfig{
				BatchSize: cfg.Indexing.WorkerBatchSize,
				InsertMax: cfg.Indexing.InsertMax,
			},
		},
	})
}
