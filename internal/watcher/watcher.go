// Package watcher watches an input directory and reports debounced batches
// of changed documents, so the index command can re-run incrementally.
package watcher

import (
	"path"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/Aman-CERP/corpusindex/internal/objectstore"
)

// Operation is a file system operation.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one document. Path is slash-separated and
// relative to the watched root.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is how long the watcher waits for quiet before emitting.
	// Default: 2s
	DebounceWindow time.Duration

	// Patterns are doublestar globs; only matching documents are reported.
	// Default: **/*
	Patterns []string

	// EventBufferSize is the number of batches buffered for the consumer.
	// Default: 16
	EventBufferSize int
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  2 * time.Second,
		Patterns:        []string{"**/*"},
		EventBufferSize: 16,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = d.DebounceWindow
	}
	if len(o.Patterns) == 0 {
		o.Patterns = d.Patterns
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}

// documentPath maps a changed file to the document it affects. A metadata
// sidecar maps to its sibling. ok is false for hidden paths and files that
// match no pattern.
func documentPath(rel string, patterns []string) (string, bool) {
	rel = path.Clean(rel)
	if rel == "." || rel == "" {
		return "", false
	}
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return "", false
		}
	}
	rel = strings.TrimSuffix(rel, objectstore.SidecarSuffix)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return rel, true
		}
	}
	return "", false
}
