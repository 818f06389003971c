// Package chunk splits document text into fixed-size overlapping windows.
package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/corpusindex/internal/store"
	"github.com/Aman-CERP/corpusindex/internal/telemetry"
)

// Default window size and overlap, in characters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Source is the text of one entity plus the metadata its chunks inherit.
type Source struct {
	Text           string
	SourceLocation string
	Metadata       map[string]string
}

// Splitter cuts text into windows of size runes stepping by size-overlap.
type Splitter struct {
	size    int
	overlap int
	metrics *telemetry.Metrics
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the window size in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.size = size
		}
	}
}

// WithChunkOverlap sets the overlap between windows in characters.
func WithChunkOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// WithMetrics records chunk counts into m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Splitter) { s.metrics = m }
}

// NewSplitter returns a Splitter. An overlap at or above the size is
// clamped to size/4.
func NewSplitter(opts ...Option) *Splitter {
	s := &Splitter{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.size {
		s.overlap = s.size / 4
	}
	return s
}

// Size returns the window size.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the effective overlap.
func (s *Splitter) Overlap() int { return s.overlap }

// SplitText returns the trimmed, non-empty windows of text.
func (s *Splitter) SplitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	if !utf8.ValidString(text) {
		runes = []rune(strings.ToValidUTF8(text, "�"))
	}
	n := len(runes)
	step := s.size - s.overlap

	chunks := make([]string, 0, n/step+1)
	for start := 0; start < n; start += step {
		end := min(start+s.size, n)
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == n {
			break
		}
	}
	return chunks
}

// EntityDocuments splits src and tags each chunk with the entity metadata,
// its section_index and source_location.
func (s *Splitter) EntityDocuments(src Source) []store.Document {
	texts := s.SplitText(src.Text)
	s.metrics.Add(telemetry.DocumentChunkCount, int64(len(texts)))

	docs := make([]store.Document, len(texts))
	for i, text := range texts {
		meta := make(map[string]any, len(src.Metadata)+2)
		for k, v := range src.Metadata {
			meta[k] = v
		}
		meta[store.MetadataSourceLocation] = src.SourceLocation
		meta[store.MetadataSectionIndex] = i

		docs[i] = store.Document{
			PageContent:    text,
			Metadata:       meta,
			SourceLocation: src.SourceLocation,
		}
	}
	return docs
}
