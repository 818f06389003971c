package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	// Given a static embedder
	e := NewStaticEmbedder(64)

	// When embedding the same text twice
	a, err := e.EmbedQuery(context.Background(), "Quarterly revenue grew")
	require.NoError(t, err)
	b, err := e.EmbedQuery(context.Background(), "Quarterly revenue grew")
	require.NoError(t, err)

	// Then the vectors match and have unit length
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestStaticEmbedder_EmptyTextIsZero(t *testing.T) {
	// Given whitespace input
	e := NewStaticEmbedder(8)

	// When embedding
	res, err := e.EmbedDocuments(context.Background(), []string{"   "})

	// Then a zero vector is returned
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), res.Vectors[0])
	assert.Equal(t, StaticModel, res.Model)
}

func TestStaticEmbedder_Closed(t *testing.T) {
	// Given a closed embedder
	e := NewStaticEmbedder(8)
	require.NoError(t, e.Close())

	// When embedding
	_, err := e.EmbedQuery(context.Background(), "x")

	// Then it fails
	assert.Error(t, err)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, tokenize("Hello, World! 42"))
	assert.Equal(t, []string{"xin", "chào"}, tokenize("Xin chào"))
}

func TestExtractNgrams(t *testing.T) {
	assert.Equal(t, []string{"ab"}, extractNgrams("ab", 3))
	assert.Equal(t, []string{"a b", " b ", "b c"}, extractNgrams("a  b c", 3))
	assert.Nil(t, extractNgrams("", 3))
}
