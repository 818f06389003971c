package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per event, for pipes and CI.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(context.Context) error { return nil }

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case event.Total > 0:
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s\n", event.Stage.Icon(), event.Current, event.Total, event.Message)
	case event.Message != "":
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), event.Message)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "WARN"
	if !event.IsWarn {
		prefix = "ERROR"
		r.errors++
	}
	if event.File != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.File, event.Err)
		return
	}
	_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stats.Entities == 0 {
		_, _ = fmt.Fprintf(r.out, "Nothing to index: %d documents listed, all up to date", stats.Listed)
	} else {
		_, _ = fmt.Fprintf(r.out, "Complete: %d documents, %d chunks indexed in %s",
			stats.Entities, stats.Chunks, stats.Duration.Round(100*time.Millisecond))
	}
	if stats.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d unsupported skipped)", stats.Skipped)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Stages.Index > 0 {
		_, _ = fmt.Fprintf(r.out, "  List:    %s\n", stats.Stages.List.Round(time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  Resolve: %s\n", stats.Stages.Resolve.Round(time.Millisecond))
		_, _ = fmt.Fprintf(r.out, "  Index:   %s (%.1f docs/sec)\n",
			stats.Stages.Index.Round(time.Millisecond), rate(stats.Entities, stats.Stages.Index))
	}
	if stats.Embedder.Model != "" {
		_, _ = fmt.Fprintf(r.out, "Model: %s (%d dims)\n", stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error { return nil }

func rate(n int, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / d.Seconds()
}

var _ Renderer = (*PlainRenderer)(nil)
