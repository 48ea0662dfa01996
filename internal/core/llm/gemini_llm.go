package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/contexta/internal/core"
)

// DefaultGenModel answers chat questions when no model is configured.
const DefaultGenModel = "gemini-1.5-flash"

// ErrMissingAPIKey is returned by the constructors when no key is configured.
var ErrMissingAPIKey = errors.New("gemini api key not configured")

type generateFunc func(ctx context.Context, systemPrompt, userPrompt string) (*genai.GenerateContentResponse, error)

// GeminiLLM answers prompts with one GenerateContent call each.
type GeminiLLM struct {
	client    *genai.Client
	modelName string
	generate  generateFunc
}

func NewGeminiLLM(ctx context.Context, apiKey, modelName string) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	g := newLLM(modelName, nil)
	g.client = cl
	g.generate = g.generateContent
	return g, nil
}

func newLLM(modelName string, fn generateFunc) *GeminiLLM {
	if modelName == "" {
		modelName = DefaultGenModel
	}
	return &GeminiLLM{modelName: modelName, generate: fn}
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// Generate returns the first candidate's text. A blocked prompt, a safety
// stop or an empty candidate list is reported as core.ErrNoCompletion.
func (g *GeminiLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := g.generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return "", fmt.Errorf("%w: %v", core.ErrNoCompletion, blocked)
		}
		return "", classify(fmt.Errorf("gemini generate: %w", err))
	}
	return answerText(resp)
}

func (g *GeminiLLM) generateContent(ctx context.Context, systemPrompt, userPrompt string) (*genai.GenerateContentResponse, error) {
	m := g.client.GenerativeModel(g.modelName)
	if systemPrompt != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(systemPrompt)},
		}
	}
	return m.GenerateContent(ctx, genai.Text(userPrompt))
}

func answerText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", core.ErrNoCompletion)
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
		return "", fmt.Errorf("%w: prompt blocked (%v)", core.ErrNoCompletion, fb.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", core.ErrNoCompletion)
	}

	c := resp.Candidates[0]
	if c.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: stopped for safety", core.ErrNoCompletion)
	}
	if c.Content == nil {
		return "", fmt.Errorf("%w: empty candidate (%v)", core.ErrNoCompletion, c.FinishReason)
	}

	var b strings.Builder
	for _, p := range c.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("%w: candidate has no text (%v)", core.ErrNoCompletion, c.FinishReason)
	}
	return b.String(), nil
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
