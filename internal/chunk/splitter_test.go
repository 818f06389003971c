package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/corpusindex/internal/store"
	"github.com/Aman-CERP/corpusindex/internal/telemetry"
)

func TestNewSplitter_Defaults(t *testing.T) {
	s := NewSplitter()

	assert.Equal(t, 1000, s.Size())
	assert.Equal(t, 200, s.Overlap())
}

func TestNewSplitter_ClampsOverlap(t *testing.T) {
	s := NewSplitter(WithChunkSize(100), WithChunkOverlap(100))

	assert.Equal(t, 25, s.Overlap())
}

func TestNewSplitter_IgnoresInvalidOptions(t *testing.T) {
	s := NewSplitter(WithChunkSize(0), WithChunkOverlap(-1))

	assert.Equal(t, DefaultChunkSize, s.Size())
	assert.Equal(t, DefaultChunkOverlap, s.Overlap())
}

func TestSplitText_Windows(t *testing.T) {
	// Given: 25 characters, window 10, overlap 2 (step 8)
	s := NewSplitter(WithChunkSize(10), WithChunkOverlap(2))
	text := "abcdefghijklmnopqrstuvwxy"

	// When: splitting
	chunks := s.SplitText(text)

	// Then: windows start every 8 characters and the last is shorter
	assert.Equal(t, []string{"abcdefghij", "ijklmnopqr", "qrstuvwxy"}, chunks)
}

func TestSplitText_ShortText(t *testing.T) {
	s := NewSplitter(WithChunkSize(100), WithChunkOverlap(10))

	assert.Equal(t, []string{"hello"}, s.SplitText("  hello \n"))
}

func TestSplitText_EmptyAndWhitespace(t *testing.T) {
	s := NewSplitter()

	assert.Empty(t, s.SplitText(""))
	assert.Empty(t, s.SplitText(" \n\t "))
}

func TestSplitText_CountsRunesNotBytes(t *testing.T) {
	// Given: multi-byte text
	s := NewSplitter(WithChunkSize(4), WithChunkOverlap(0))

	chunks := s.SplitText("chìa khóa")

	// Then: no window splits a rune and each holds at most 4 characters
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 4)
	}
	assert.Equal(t, "chìa", chunks[0])
}

func TestSplitText_CoversWholeText(t *testing.T) {
	s := NewSplitter(WithChunkSize(1000), WithChunkOverlap(200))
	text := strings.Repeat("x", 2500)

	chunks := s.SplitText(text)

	// Windows at 0, 800 and 1600; the last reaches the end.
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 900)
}

func TestEntityDocuments(t *testing.T) {
	// Given: an entity with metadata
	m := telemetry.New()
	s := NewSplitter(WithChunkSize(5), WithChunkOverlap(0), WithMetrics(m))
	src := Source{
		Text:           "aaaaabbbbbccc",
		SourceLocation: "s3://bucket/a.txt",
		Metadata:       map[string]string{"author": "ana"},
	}

	// When: converting to documents
	docs := s.EntityDocuments(src)

	// Then: each chunk carries metadata, section index and location
	require.Len(t, docs, 3)
	for i, d := range docs {
		assert.Equal(t, "s3://bucket/a.txt", d.SourceLocation)
		assert.Equal(t, "ana", d.Metadata["author"])
		assert.Equal(t, i, d.Metadata[store.MetadataSectionIndex])
		assert.Equal(t, "s3://bucket/a.txt", d.Metadata[store.MetadataSourceLocation])
	}
	assert.Equal(t, "ccc", docs[2].PageContent)
	assert.Equal(t, int64(3), m.Counter(telemetry.DocumentChunkCount))

	// And: the source metadata map is not mutated
	assert.Len(t, src.Metadata, 1)
}

func TestEntityDocuments_EmptyText(t *testing.T) {
	s := NewSplitter()

	assert.Empty(t, s.EntityDocuments(Source{Text: "", SourceLocation: "s3://b/x"}))
}
