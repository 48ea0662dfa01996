// Package testutil holds deterministic fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode"

	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/models"
)

// VocabEmbedder maps each known word to one dimension and counts it.
// Texts sharing words get a positive dot product; unrelated texts score 0.
type VocabEmbedder struct {
	vocab map[string]int
	dims  int

	mu    sync.Mutex
	calls int
	fail  error
}

func NewVocabEmbedder(words ...string) *VocabEmbedder {
	v := &VocabEmbedder{vocab: make(map[string]int, len(words)), dims: len(words) + 1}
	for i, w := range words {
		v.vocab[strings.ToLower(w)] = i
	}
	return v
}

// FailNext makes the next EmbedTexts call return err.
func (v *VocabEmbedder) FailNext(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fail = err
}

// Calls reports how many EmbedTexts calls were made.
func (v *VocabEmbedder) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func (v *VocabEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	v.mu.Lock()
	v.calls++
	if err := v.fail; err != nil {
		v.fail = nil
		v.mu.Unlock()
		return nil, err
	}
	v.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, v.dims)
		// The last dimension keeps every vector non-zero.
		vec[v.dims-1] = 0.01
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if d, ok := v.vocab[w]; ok {
				vec[d]++
			}
		}
		out[i] = vec
	}
	return out, nil
}

var _ core.EmbeddingProvider = (*VocabEmbedder)(nil)

// StaticExtractor returns canned text, or Err when set.
type StaticExtractor struct {
	Text  string
	Pages int
	Err   error
}

func (s StaticExtractor) Extract(ctx context.Context, _ []byte, _ string) (*models.ExtractedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	pages := s.Pages
	if pages == 0 {
		pages = 1
	}
	return &models.ExtractedText{Text: s.Text, PageCount: pages}, nil
}

var _ core.TextExtractor = StaticExtractor{}

// ExtractorFunc adapts a function to core.TextExtractor.
type ExtractorFunc func(ctx context.Context, data []byte, contentType string) (*models.ExtractedText, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte, contentType string) (*models.ExtractedText, error) {
	return f(ctx, data, contentType)
}

// ErrFake is a generic transient failure.
var ErrFake = errors.New("fake failure")

// EchoLLM answers with the prompt it received and records it. Err, when
// set, is returned instead; Blank makes it answer with an empty string.
type EchoLLM struct {
	mu      sync.Mutex
	Prompts []string
	Err     error
	Blank   bool
}

func (e *EchoLLM) Generate(_ context.Context, _ string, userPrompt string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Prompts = append(e.Prompts, userPrompt)
	switch {
	case e.Err != nil:
		return "", e.Err
	case e.Blank:
		return "", nil
	}
	return "answer: " + userPrompt, nil
}

// Calls reports how many prompts were answered.
func (e *EchoLLM) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Prompts)
}

var _ core.LLMProvider = (*EchoLLM)(nil)
