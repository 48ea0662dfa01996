package ingestion_engine

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta/internal/core"
	db "github.com/markdave123-py/contexta/internal/core/database"
	objectclient "github.com/markdave123-py/contexta/internal/core/object-client"
	"github.com/markdave123-py/contexta/internal/core/queue"
	"github.com/markdave123-py/contexta/internal/core/vectorindex"
	"github.com/markdave123-py/contexta/internal/logger"
	"github.com/markdave123-py/contexta/internal/models"
	"github.com/markdave123-py/contexta/internal/testutil"
)

type harness struct {
	store    *db.MemoryStore
	blobs    *objectclient.MemoryBlobStore
	index    *vectorindex.MemoryIndex
	queue    *queue.MemoryQueue
	embedder *testutil.VocabEmbedder
	ing      *DocumentIngestor
}

func newHarness(t *testing.T, extractor core.TextExtractor, cfg *IngestConfig) *harness {
	t.Helper()
	h := &harness{
		store:    db.NewMemoryStore(),
		blobs:    objectclient.NewMemoryBlobStore(),
		index:    vectorindex.NewMemoryIndex(),
		queue:    queue.NewMemoryQueue(16, queue.Options{MaxAttempts: 3, Backoff: time.Millisecond}),
		embedder: testutil.NewVocabEmbedder("invoice", "number", "payment"),
	}
	t.Cleanup(h.queue.Close)

	if cfg == nil {
		cfg = &IngestConfig{ChunkSize: 80, ChunkOverlap: 10, BatchSize: 2, PurgeOnRetry: true}
	}
	ing, err := NewDocumentIngestor(Dependencies{
		Store:     h.store,
		Blobs:     h.blobs,
		Embedder:  h.embedder,
		Extractor: extractor,
		Index:     h.index,
		Queue:     h.queue,
		Logger:    logger.Nop(),
	}, cfg)
	require.NoError(t, err)
	h.ing = ing
	return h
}

// upload stores a pending document and returns its job.
func (h *harness) upload(t *testing.T, owner string) models.IngestJob {
	t.Helper()
	ctx := context.Background()
	docID := uuid.NewString()
	handle, err := h.blobs.Upload(ctx, owner, docID, "doc.pdf", []byte("%PDF-1.4 fake"), "application/pdf")
	require.NoError(t, err)
	require.NoError(t, h.store.CreateDocument(ctx, &models.Document{
		ID: docID, UserID: owner, FileName: "doc.pdf", BlobHandle: handle,
		ContentType: "application/pdf", Status: models.StatusPending,
	}))
	return models.NewIngestJob(owner, docID, handle, "doc.pdf")
}

func (h *harness) status(t *testing.T, job models.IngestJob) *models.Document {
	t.Helper()
	d, err := h.store.GetDocumentByID(context.Background(), job.DocumentID, job.OwnerID)
	require.NoError(t, err)
	return d
}

func longText() string {
	return strings.Join([]string{
		"The invoice number is INV-2024-001 and it was issued in March.",
		"Payment is due within thirty days of the invoice date.",
		"Late payment adds a two percent fee for every month outstanding.",
		"Questions about this invoice go to the billing team.",
	}, "\n\n")
}

func TestProcessJob_HappyPath(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText(), Pages: 2}, nil)
	job := h.upload(t, "alice")

	require.NoError(t, h.ing.ProcessJob(context.Background(), job, 1))

	doc := h.status(t, job)
	assert.Equal(t, models.StatusCompleted, doc.Status)
	require.NotNil(t, doc.PageCount)
	require.NotNil(t, doc.ChunkCount)
	assert.Equal(t, 2, *doc.PageCount)
	assert.Nil(t, doc.ErrorDetail)

	records := h.index.Records()
	require.Len(t, records, *doc.ChunkCount)
	assert.Greater(t, len(records), 1)
	for i, r := range records {
		assert.Equal(t, "alice", r.Payload.OwnerID)
		assert.Equal(t, job.DocumentID, r.Payload.SourceDocumentID)
		assert.Equal(t, i, r.Payload.SequenceIndex)
		assert.Equal(t, len(records), r.Payload.TotalChunks)
	}
	// BatchSize 2 means one embed call per pair of chunks.
	assert.Equal(t, (len(records)+1)/2, h.embedder.Calls())
}

func TestProcessJob_TerminalExtractionFailure(t *testing.T) {
	extractErr := fmt.Errorf("%w: no extractable text", core.ErrUnprocessableContent)
	h := newHarness(t, testutil.StaticExtractor{Err: extractErr}, nil)
	job := h.upload(t, "alice")

	err := h.ing.ProcessJob(context.Background(), job, 1)
	require.Error(t, err)
	assert.True(t, core.IsTerminal(err))

	doc := h.status(t, job)
	assert.Equal(t, models.StatusFailed, doc.Status)
	require.NotNil(t, doc.ErrorDetail)
	assert.Contains(t, *doc.ErrorDetail, "no extractable text")
	assert.Zero(t, h.index.Len())
}

func TestProcessJob_EmptyTextIsTerminal(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: "  \n\n "}, nil)
	job := h.upload(t, "alice")

	err := h.ing.ProcessJob(context.Background(), job, 1)
	assert.ErrorIs(t, err, core.ErrUnprocessableContent)
	assert.Equal(t, models.StatusFailed, h.status(t, job).Status)
}

func TestProcessJob_TransientEmbedFailure(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText()}, nil)
	job := h.upload(t, "alice")
	h.embedder.FailNext(testutil.ErrFake)

	err := h.ing.ProcessJob(context.Background(), job, 1)
	require.ErrorIs(t, err, testutil.ErrFake)
	assert.False(t, core.IsTerminal(err))
	assert.Equal(t, models.StatusFailed, h.status(t, job).Status)
	assert.Zero(t, h.index.Len())
}

func TestProcessJob_SkipsCompletedDocument(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText()}, nil)
	job := h.upload(t, "alice")
	require.NoError(t, h.ing.ProcessJob(context.Background(), job, 1))
	n := h.index.Len()

	require.NoError(t, h.ing.ProcessJob(context.Background(), job, 2))
	assert.Equal(t, n, h.index.Len())
}

func TestProcessJob_MissingDocumentIsSkipped(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText()}, nil)
	job := models.NewIngestJob("alice", uuid.NewString(), "users/alice/documents/x/doc.pdf", "doc.pdf")

	assert.NoError(t, h.ing.ProcessJob(context.Background(), job, 1))
	assert.Zero(t, h.index.Len())
}

func TestProcessJob_RetryPurgesEarlierRecords(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText()}, nil)
	job := h.upload(t, "alice")

	// Records left behind by an attempt that died before marking completed.
	h.index.Seed(models.VectorRecord{
		ID:        "stale",
		Embedding: []float32{1, 0, 0, 0},
		Payload:   models.VectorPayload{Text: "stale", OwnerID: "alice", SourceDocumentID: job.DocumentID},
	})
	other := h.upload(t, "bob")
	h.index.Seed(models.VectorRecord{
		ID:        "bob",
		Embedding: []float32{1, 0, 0, 0},
		Payload:   models.VectorPayload{Text: "bob", OwnerID: "bob", SourceDocumentID: other.DocumentID},
	})

	require.NoError(t, h.ing.ProcessJob(context.Background(), job, 2))

	doc := h.status(t, job)
	var alice int
	for _, r := range h.index.Records() {
		assert.NotEqual(t, "stale", r.ID)
		if r.Payload.OwnerID == "alice" {
			alice++
		}
	}
	assert.Equal(t, *doc.ChunkCount, alice)
	assert.Equal(t, *doc.ChunkCount+1, h.index.Len())
}

func TestProcessJob_MissingBlobIsTerminal(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText()}, nil)
	job := h.upload(t, "alice")
	require.NoError(t, h.blobs.Delete(context.Background(), job.BlobHandle, "alice"))

	err := h.ing.ProcessJob(context.Background(), job, 1)
	assert.True(t, core.IsTerminal(err))
}

func TestStart_WorkersDrainQueue(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText()}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ing.Start(ctx, 2) }()

	jobs := []models.IngestJob{h.upload(t, "alice"), h.upload(t, "bob"), h.upload(t, "alice")}
	for _, j := range jobs {
		require.NoError(t, h.ing.Enqueue(ctx, j))
	}

	require.Eventually(t, func() bool {
		for _, j := range jobs {
			if h.status(t, j).Status != models.StatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestStart_TransientFailureIsRetried(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText()}, nil)
	h.embedder.FailNext(testutil.ErrFake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.ing.Start(ctx, 1) }()

	job := h.upload(t, "alice")
	require.NoError(t, h.ing.Enqueue(ctx, job))

	require.Eventually(t, func() bool {
		return h.status(t, job).Status == models.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.queue.Dead())
}

func TestStart_PoisonAndTerminalJobsAreDeadLettered(t *testing.T) {
	extractErr := fmt.Errorf("%w: corrupt", core.ErrUnprocessableContent)
	h := newHarness(t, testutil.StaticExtractor{Err: extractErr}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.ing.Start(ctx, 1) }()

	require.NoError(t, h.queue.EnqueueRaw(ctx, []byte(`{"type":"ingest.pdf","version":1}`)))
	job := h.upload(t, "alice")
	require.NoError(t, h.ing.Enqueue(ctx, job))

	require.Eventually(t, func() bool { return len(h.queue.Dead()) == 2 }, 5*time.Second, 10*time.Millisecond)
	for _, dl := range h.queue.Dead() {
		assert.Equal(t, 1, dl.Attempt)
	}
	assert.Equal(t, models.StatusFailed, h.status(t, job).Status)
}

func TestNewDocumentIngestor_RequiresDependencies(t *testing.T) {
	_, err := NewDocumentIngestor(Dependencies{}, nil)
	assert.Error(t, err)
}

func TestProcessJob_DocumentDeletedMidFlight(t *testing.T) {
	var h *harness
	var job models.IngestJob
	extract := testutil.ExtractorFunc(func(ctx context.Context, _ []byte, _ string) (*models.ExtractedText, error) {
		require.NoError(t, h.store.DeleteDocument(ctx, job.DocumentID, job.OwnerID))
		return &models.ExtractedText{Text: longText(), PageCount: 1}, nil
	})
	h = newHarness(t, extract, nil)
	job = h.upload(t, "alice")

	require.NoError(t, h.ing.ProcessJob(context.Background(), job, 1))
	assert.Zero(t, h.index.Len())
}

func TestProcessJob_ForeignBlobHandleIsPoison(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText()}, nil)
	job := h.upload(t, "alice")
	bobs := h.upload(t, "bob")
	job.BlobHandle = bobs.BlobHandle

	err := h.ing.ProcessJob(context.Background(), job, 1)
	require.ErrorIs(t, err, core.ErrPoisonMessage)
	assert.True(t, core.IsTerminal(err))

	assert.Zero(t, h.embedder.Calls())
	assert.Zero(t, h.index.Len())
	assert.Equal(t, models.StatusPending, h.status(t, job).Status)
	assert.Equal(t, models.StatusPending, h.status(t, bobs).Status)
}

func TestStart_ForeignBlobHandleIsDeadLettered(t *testing.T) {
	h := newHarness(t, testutil.StaticExtractor{Text: longText()}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.ing.Start(ctx, 1) }()

	job := h.upload(t, "alice")
	job.BlobHandle = h.upload(t, "bob").BlobHandle
	require.NoError(t, h.ing.Enqueue(ctx, job))

	require.Eventually(t, func() bool { return len(h.queue.Dead()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, h.queue.Dead()[0].Attempt)
	assert.Zero(t, h.index.Len())
}

func TestStart_ShutdownLetsInFlightJobFinish(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	extract := testutil.ExtractorFunc(func(ctx context.Context, _ []byte, _ string) (*models.ExtractedText, error) {
		close(entered)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &models.ExtractedText{Text: longText(), PageCount: 1}, nil
	})
	h := newHarness(t, extract, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ing.Start(ctx, 1) }()

	job := h.upload(t, "alice")
	require.NoError(t, h.ing.Enqueue(context.Background(), job))

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached extraction")
	}
	cancel()
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not stop")
	}
	assert.Equal(t, models.StatusCompleted, h.status(t, job).Status)
	assert.Greater(t, h.index.Len(), 0)
	assert.Empty(t, h.queue.Dead())
}
