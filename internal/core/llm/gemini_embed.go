package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/markdave123-py/contexta/internal/core"
)

// MaxBatchSize is the most texts one BatchEmbedContents request accepts.
const MaxBatchSize = 100

// EmbedderConfig tunes the embedding client.
//
// BatchSize:         texts per request, capped at MaxBatchSize.
// RequestsPerSecond: proactive throttle; 0 disables it.
type EmbedderConfig struct {
	APIKey            string
	Model             string
	BatchSize         int
	RequestsPerSecond float64
}

type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
	batchSize int
	limiter   *rate.Limiter
	embed     batchFunc
}

func NewGeminiEmbedder(ctx context.Context, cfg EmbedderConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	g := newEmbedder(cfg, nil)
	g.client = cl
	g.embed = g.batchEmbed
	return g, nil
}

func newEmbedder(cfg EmbedderConfig, fn batchFunc) *GeminiEmbedder {
	size := cfg.BatchSize
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &GeminiEmbedder{modelName: cfg.Model, batchSize: size, limiter: limiter, embed: fn}
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// EmbedTexts splits texts into request-sized batches and returns vectors in
// input order, L2-normalised.
func (g *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += g.batchSize {
		end := start + g.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		vecs, err := g.embed(ctx, texts[start:end])
		if err != nil {
			return nil, classify(err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("gemini batch embed: got %d embeddings for %d texts", len(vecs), end-start)
		}
		for _, v := range vecs {
			out = append(out, normalize(v))
		}
	}
	return out, nil
}

// batchEmbed sends one BatchEmbedContents request.
func (g *GeminiEmbedder) batchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.modelName)

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		out = append(out, e.Values)
	}
	return out, nil
}

// classify marks throttling errors as ErrRateLimited so the queue retries them.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", core.ErrRateLimited, err)
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("%w: %v", core.ErrRateLimited, err)
	}
	return err
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

var _ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
