package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(99).String())
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{DebounceWindow: time.Second}.WithDefaults()
	assert.Equal(t, time.Second, o.DebounceWindow)
	assert.Equal(t, []string{"**/*"}, o.Patterns)
	assert.Equal(t, 16, o.EventBufferSize)
}

func TestDocumentPath(t *testing.T) {
	patterns := []string{"**/*.txt"}
	tests := []struct {
		rel  string
		want string
		ok   bool
	}{
		{"a.txt", "a.txt", true},
		{"docs/nested/b.txt", "docs/nested/b.txt", true},
		{"docs/b.txt.metadata.json", "docs/b.txt", true},
		{"image.png", "", false},
		{".git/HEAD", "", false},
		{"docs/.hidden.txt", "", false},
		{".", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			got, ok := documentPath(tt.rel, patterns)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWatcher_ReportsWrites(t *testing.T) {
	// Given: a watcher over a directory with a subdirectory
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	w, err := New(Options{DebounceWindow: 50 * time.Millisecond, Patterns: []string{"**/*.txt"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, dir) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)

	// When: a matching and a non-matching file are written
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "a.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "skip.png"), []byte("x"), 0o644))

	// Then: one batch names only the matching document
	select {
	case batch := <-w.Events():
		require.Len(t, batch, 1)
		assert.Equal(t, "docs/a.txt", batch[0].Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no events received")
	}
}

type fakeSource struct {
	events chan []FileEvent
	errs   chan error
}

func (s *fakeSource) Events() <-chan []FileEvent { return s.events }
func (s *fakeSource) Errors() <-chan error       { return s.errs }

func TestLoop_TriggersOnChangesAndSkipsDeleteOnly(t *testing.T) {
	// Given: a source with a delete-only batch, a change batch, and an error
	src := &fakeSource{events: make(chan []FileEvent, 3), errs: make(chan error, 1)}
	src.events <- []FileEvent{{Path: "gone.txt", Operation: OpDelete}}
	src.events <- []FileEvent{{Path: "a.txt", Operation: OpModify}}
	src.events <- []FileEvent{{Path: "b.txt", Operation: OpCreate}}
	src.errs <- errors.New("overflow")
	close(src.events)

	// When: looping with a trigger that fails once
	var calls [][]FileEvent
	err := Loop(context.Background(), src, func(_ context.Context, batch []FileEvent) error {
		calls = append(calls, batch)
		if len(calls) == 1 {
			return errors.New("index failed")
		}
		return nil
	})

	// Then: both change batches trigger and the failure does not stop the loop
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "a.txt", calls[0][0].Path)
	assert.Equal(t, "b.txt", calls[1][0].Path)
}

func TestLoop_StopsOnCancel(t *testing.T) {
	src := &fakeSource{events: make(chan []FileEvent), errs: make(chan error)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Loop(ctx, src, func(context.Context, []FileEvent) error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}
