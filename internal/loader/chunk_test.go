package loader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_InvalidParams(t *testing.T) {
	t.Parallel()

	doc := Document{ID: "d", Text: "text"}
	for _, p := range [][2]int{{0, 0}, {-1, 0}, {10, -1}, {10, 10}, {10, 11}} {
		_, err := Split(doc, p[0], p[1])
		assert.ErrorIs(t, err, ErrInvalidChunkParams, "size=%d overlap=%d", p[0], p[1])
	}
}

func TestSplit_ShortDocumentIsOneChunk(t *testing.T) {
	t.Parallel()

	doc := Document{ID: "d", Text: "short text", Framework: "cis"}
	chunks, err := Split(doc, 100, 10)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, Chunk{DocumentID: "d", Index: 0, Text: "short text", Start: 0, End: 10, Framework: "cis"}, chunks[0])
}

func TestSplit_EmptyDocument(t *testing.T) {
	t.Parallel()

	chunks, err := Split(Document{ID: "d"}, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_Invariants(t *testing.T) {
	t.Parallel()

	words := strings.Fields(strings.Repeat("least privilege access review baseline configuration audit ", 80))
	text := strings.Join(words, " ")
	doc := Document{ID: "nist.txt", Text: text}

	for _, tc := range []struct{ size, overlap int }{{100, 10}, {1000, 100}, {57, 0}, {64, 63}} {
		chunks, err := Split(doc, tc.size, tc.overlap)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		runes := []rune(text)
		for i, c := range chunks {
			assert.Equal(t, i, c.Index)
			assert.NotEmpty(t, c.Text)
			assert.LessOrEqual(t, c.End-c.Start, tc.size)
			assert.Equal(t, string(runes[c.Start:c.End]), c.Text)
			if i > 0 {
				prev := chunks[i-1]
				assert.GreaterOrEqual(t, c.Start, prev.Start, "chunks must advance")
				assert.Greater(t, c.End, prev.End, "chunks must advance")
				assert.LessOrEqual(t, prev.End-c.Start, tc.overlap, "overlap bounded")
			}
		}
		assert.Equal(t, len(runes), chunks[len(chunks)-1].End, "last chunk reaches the end")
	}
}

func TestSplit_Deterministic(t *testing.T) {
	t.Parallel()

	doc := Document{ID: "d", Text: strings.Repeat("CIS Linux hardening: disable root SSH. ", 50)}
	a, err := Split(doc, 120, 20)
	require.NoError(t, err)
	b, err := Split(doc, 120, 20)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplit_PrefersWordBoundaries(t *testing.T) {
	t.Parallel()

	doc := Document{ID: "d", Text: "alpha beta gamma delta omega zeta eta theta iota kappa"}
	chunks, err := Split(doc, 12, 2)
	require.NoError(t, err)
	for _, c := range chunks[:len(chunks)-1] {
		runes := []rune(doc.Text)
		if c.End < len(runes) {
			assert.Equal(t, ' ', runes[c.End], "chunk %q should end on a word boundary", c.Text)
		}
	}
}

func TestSplit_MultibyteOffsets(t *testing.T) {
	t.Parallel()

	doc := Document{ID: "d", Text: strings.Repeat("é", 25)}
	chunks, err := Split(doc, 10, 2)
	require.NoError(t, err)
	for _, c := range chunks {
		assert.Equal(t, c.End-c.Start, len([]rune(c.Text)))
	}
	assert.Equal(t, 25, chunks[len(chunks)-1].End)
}
