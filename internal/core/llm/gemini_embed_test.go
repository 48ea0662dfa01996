package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/markdave123-py/contexta/internal/core"
)

type recordingBatch struct {
	calls [][]string
}

func (r *recordingBatch) embed(_ context.Context, texts []string) ([][]float32, error) {
	r.calls = append(r.calls, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(r.calls)), float32(i + 1)}
	}
	return out, nil
}

func TestEmbedTexts_BatchesInOrder(t *testing.T) {
	rec := &recordingBatch{}
	g := newEmbedder(EmbedderConfig{BatchSize: 2}, rec.embed)

	texts := []string{"a", "b", "c", "d", "e"}
	vecs, err := g.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, rec.calls, 3)
	assert.Equal(t, []string{"a", "b"}, rec.calls[0])
	assert.Equal(t, []string{"e"}, rec.calls[2])
	require.Len(t, vecs, 5)

	for _, v := range vecs {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
	}
}

func TestEmbedTexts_Empty(t *testing.T) {
	g := newEmbedder(EmbedderConfig{}, func(context.Context, []string) ([][]float32, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	vecs, err := g.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedTexts_BatchSizeCapped(t *testing.T) {
	g := newEmbedder(EmbedderConfig{BatchSize: 500}, nil)
	assert.Equal(t, MaxBatchSize, g.batchSize)
}

func TestEmbedTexts_CountMismatch(t *testing.T) {
	g := newEmbedder(EmbedderConfig{}, func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1}}, nil
	})
	_, err := g.EmbedTexts(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestEmbedTexts_RateLimitIsRetryable(t *testing.T) {
	g := newEmbedder(EmbedderConfig{}, func(context.Context, []string) ([][]float32, error) {
		return nil, fmt.Errorf("gemini batch embed: %w", &googleapi.Error{Code: http.StatusTooManyRequests})
	})
	_, err := g.EmbedTexts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, core.ErrRateLimited)
	assert.False(t, core.IsTerminal(err))
}

func TestClassify(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
	assert.ErrorIs(t, classify(errors.New("rpc error: code = RESOURCE_EXHAUSTED")), core.ErrRateLimited)
}

func TestEmbedTexts_LimiterHonoursContext(t *testing.T) {
	g := newEmbedder(EmbedderConfig{RequestsPerSecond: 0.001}, (&recordingBatch{}).embed)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := g.EmbedTexts(ctx, []string{"a"})
	require.NoError(t, err)

	cancel()
	_, err = g.EmbedTexts(ctx, []string{"b"})
	assert.Error(t, err)
}
