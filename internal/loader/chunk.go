package loader

import (
	"errors"
	"fmt"
	"unicode"
)

const (
	// DefaultChunkSize is the maximum chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the number of characters adjacent chunks share.
	DefaultChunkOverlap = 100
)

// ErrInvalidChunkParams is returned when chunk size or overlap are out of range.
var ErrInvalidChunkParams = errors.New("loader: invalid chunk parameters")

// Chunk is a contiguous span of a document's normalized text.
type Chunk struct {
	// DocumentID is the ID of the document the chunk came from.
	DocumentID string
	// Index is the 0-based position of the chunk within its document.
	Index int
	// Text is the chunk body.
	Text string
	// Start and End are rune offsets into the document text, End exclusive.
	Start int
	End   int
	// Framework is copied from the parent document.
	Framework string
}

// Split cuts doc.Text into chunks of at most chunkSize runes, each sharing
// up to overlap runes with its predecessor. Output depends only on the
// inputs.
//
// A window that stops short of the end of the text is pulled back to the
// last whitespace inside it, provided the shortened window stays longer than
// both overlap and half of chunkSize. This keeps words intact without
// producing runs of tiny chunks.
func Split(doc Document, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidChunkParams, chunkSize, overlap)
	}

	runes := []rune(doc.Text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}

	minCut := max(overlap, chunkSize/2)

	var chunks []Chunk
	for start := 0; start < n; {
		end := min(start+chunkSize, n)
		if end < n {
			for cut := end; cut-start > minCut; cut-- {
				if unicode.IsSpace(runes[cut-1]) {
					end = cut
					break
				}
			}
		}

		// Surrounding whitespace is trimmed from the body, offsets are kept
		// pointing at the trimmed span.
		s, e := start, end
		for s < e && unicode.IsSpace(runes[s]) {
			s++
		}
		for e > s && unicode.IsSpace(runes[e-1]) {
			e--
		}
		if e > s {
			chunks = append(chunks, Chunk{
				DocumentID: doc.ID,
				Index:      len(chunks),
				Text:       string(runes[s:e]),
				Start:      s,
				End:        e,
				Framework:  doc.Framework,
			})
		}

		if end == n {
			break
		}
		start = max(end-overlap, start+1)
	}

	return chunks, nil
}
