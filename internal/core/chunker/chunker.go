// Package chunker splits extracted document text into overlapping chunks.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/markdave123-py/contexta/internal/models"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of characters copied from the previous chunk.
const DefaultChunkOverlap = 200

// Chunker turns one document's text into an ordered chunk sequence.
// It holds no mutable state and is safe for concurrent use.
type Chunker struct {
	chunkSize int
	overlap   int
	detector  OverlapDetector
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithOverlapDetector replaces the duplicate-overlap check.
func WithOverlapDetector(d OverlapDetector) Option {
	return func(c *Chunker) {
		if d != nil {
			c.detector = d
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
		detector:  PrefixHeuristic{Window: DefaultDetectWindow},
	}
	for _, opt := range opts {
		opt(c)
	}

	// Ensure overlap doesn't exceed chunk size
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// ChunkSize returns the configured target size.
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap returns the configured overlap size.
func (c *Chunker) Overlap() int { return c.overlap }

// Split chunks text. Empty or whitespace-only text yields no chunks.
func (c *Chunker) Split(text string) []models.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	pieces := c.splitRecursive(text, 0)

	// Whitespace-only pieces carry nothing worth embedding.
	kept := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}

	chunks := make([]models.Chunk, len(kept))
	for i, piece := range kept {
		body, overlap := piece, 0
		if i > 0 && c.overlap > 0 {
			tail := lastRunes(chunks[i-1].Text, c.overlap)
			if !c.detector.AlreadyOverlaps(tail, piece) {
				body = tail + piece
				overlap = utf8.RuneCountInString(tail)
			}
		}
		chunks[i] = models.Chunk{
			Text:          body,
			Overlap:       overlap,
			SequenceIndex: i,
		}
	}

	// totalChunks is only known once every piece exists.
	for i := range chunks {
		chunks[i].Length = utf8.RuneCountInString(chunks[i].Text)
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// splitRecursive splits on the separator at level and merges neighbouring
// parts back together while they fit; oversized parts descend a level.
func (c *Chunker) splitRecursive(text string, level int) []string {
	if utf8.RuneCountInString(text) <= c.chunkSize {
		return []string{text}
	}
	if level >= len(separators) {
		return hardSplit(text, c.chunkSize)
	}

	parts := separators[level].split(text)
	if len(parts) <= 1 {
		return c.splitRecursive(text, level+1)
	}

	var (
		out    []string
		buf    strings.Builder
		bufLen int
	)
	flush := func() {
		if bufLen == 0 {
			return
		}
		out = append(out, buf.String())
		buf.Reset()
		bufLen = 0
	}

	for _, part := range parts {
		n := utf8.RuneCountInString(part)
		if n > c.chunkSize {
			flush()
			out = append(out, c.splitRecursive(part, level+1)...)
			continue
		}
		if bufLen+n > c.chunkSize {
			flush()
		}
		buf.WriteString(part)
		bufLen += n
	}
	flush()
	return out
}

// hardSplit cuts text every size runes.
func hardSplit(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
