package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/corpusindex/internal/output"
	"github.com/Aman-CERP/corpusindex/internal/store"
	"github.com/Aman-CERP/corpusindex/internal/ui"
	"github.com/Aman-CERP/corpusindex/internal/watcher"
)

func newWatchCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-index whenever documents under the input path change",
		Long: `Watch runs an index pass, then watches the input path and runs another
pass after each burst of changes settles. Only changed documents are
re-indexed. Requires the local object store.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if st.cfg.ObjectStore.Backend != "local" {
				return errors.New("watch requires object_store.backend=local")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, st)
		},
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, st *rootState) error {
	b, err := openBackends(ctx, st.cfg, need{cache: true, vectors: true, embedder: true})
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	out := output.New(cmd.OutOrStdout(), !noColor(cmd))
	renderer := ui.NewPlainRenderer(ui.Config{Output: cmd.ErrOrStderr()})
	pass := func(ctx context.Context) error {
		res, err := indexOnce(ctx, st, b, renderer)
		if err != nil {
			return err
		}
		if ms, ok := b.vectors.(*store.MemoryStore); ok {
			if err := ms.Save(st.cfg.MemoryStorePath()); err != nil {
				return err
			}
		}
		out.Successf("Processed %d documents (%d chunks)", res.Processed, res.Chunks)
		return nil
	}

	if err := pass(ctx); err != nil {
		return err
	}

	w, err := watcher.New(watcher.Options{
		DebounceWindow: st.cfg.Watch.Debounce,
		Patterns:       st.cfg.Indexing.Glob,
	})
	if err != nil {
		return err
	}

	out.Status("👀", "Watching "+st.cfg.Indexing.InputPath+" (Ctrl+C to stop)")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Start(gctx, st.cfg.Indexing.InputPath)
	})
	g.Go(func() error {
		return watcher.Loop(gctx, w, func(ctx context.Context, _ []watcher.FileEvent) error {
			return pass(ctx)
		})
	})

	err = g.Wait()
	_ = w.Stop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
