package ingest

import (
	"strings"

	"github.com/murtaza-nasir/maestro-sub003/pkg/utils"
)

// Chunker splits extracted text into token-bounded, overlapping windows.
type Chunker struct {
	counter *utils.TokenCounter
	size    int
	overlap int
}

// NewChunker creates a chunker. size is the window in tokens, overlap the
// number of tokens shared between adjacent chunks.
func NewChunker(counter *utils.TokenCounter, size, overlap int) *Chunker {
	if size < 1 {
		size = 512
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 8
	}
	return &Chunker{counter: counter, size: size, overlap: overlap}
}

// Split returns the text's chunks in document order. Empty input yields no
// chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	tokens := c.counter.Encode(text)
	if len(tokens) <= c.size {
		return []string{text}
	}

	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := strings.TrimSpace(c.counter.Decode(tokens[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks
}
