// Package chunker splits document text into bounded, overlapping segments
// used as the unit of embedding and retrieval.
package chunker

import (
	"fmt"
	"unicode"

	"github.com/xxxsen/jarvis/internal/pkg/errs"
)

// Chunk is one segment of a split document.
type Chunk struct {
	Index int
	Text  string
}

// Chunker produces fixed-size chunks measured in runes, each sharing a
// configured number of trailing runes with its predecessor. Splitting is
// deterministic: the same input and parameters always yield the same chunks.
type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", errs.ErrConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", errs.ErrConfig, size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split cuts text into chunks of at most the configured size. Every rune of
// the input appears in at least one chunk; each chunk after the first starts
// with the runes its predecessor ended with. Cut points prefer whitespace so
// words stay intact where the window allows it. Empty input yields no chunks.
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []Chunk{{Index: 0, Text: text}}
	}

	step := c.size - c.overlap
	var chunks []Chunk
	start := 0
	for start < len(runes) {
		end := start + step
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakAt(runes, start, end)
		}
		lo := start - c.overlap
		if lo < 0 {
			lo = 0
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Text: string(runes[lo:end])})
		start = end
	}
	return chunks
}

// breakAt moves a tentative cut point backwards to the nearest whitespace
// boundary, never giving up more than half the window so progress stays
// linear even in whitespace-free input.
func breakAt(runes []rune, start, end int) int {
	if unicode.IsSpace(runes[end]) || unicode.IsSpace(runes[end-1]) {
		return end
	}
	limit := start + (end-start)/2
	for i := end - 1; i > limit; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}
