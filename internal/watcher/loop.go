package watcher

import (
	"context"
	"log/slog"
)

// Source yields debounced change batches.
type Source interface {
	Events() <-chan []FileEvent
	Errors() <-chan error
}

// Trigger re-runs indexing for a batch of changes.
type Trigger func(ctx context.Context, changes []FileEvent) error

// Loop calls trigger for each batch that contains at least one created,
// modified or renamed document. Trigger errors are logged and the loop keeps
// going; it returns when ctx is done or the source closes.
func Loop(ctx context.Context, src Source, trigger Trigger) error {
	events := src.Events()
	errs := src.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			if !needsIndexing(batch) {
				slog.Debug("watch_batch_ignored", slog.Int("events", len(batch)))
				continue
			}
			slog.Info("watch_changes_detected", slog.Int("events", len(batch)))
			if err := trigger(ctx, batch); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Error("watch_reindex_failed", slog.String("error", err.Error()))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

// needsIndexing is false for batches of deletions only; removed documents
// have nothing to embed.
func needsIndexing(batch []FileEvent) bool {
	for _, e := range batch {
		if e.Operation != OpDelete {
			return true
		}
	}
	return false
}
