package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/core/chunker"
	objectclient "github.com/markdave123-py/contexta/internal/core/object-client"
	"github.com/markdave123-py/contexta/internal/core/vectorindex"
	"github.com/markdave123-py/contexta/internal/logger"
	"github.com/markdave123-py/contexta/internal/metrics"
	"github.com/markdave123-py/contexta/internal/models"
)

// reserveErrorDelay is the pause after a failed Reserve before trying again.
const reserveErrorDelay = time.Second

// NewDocumentIngestor wires the pipeline. A nil cfg uses DefaultIngestConfig.
func NewDocumentIngestor(deps Dependencies, cfg *IngestConfig) (*DocumentIngestor, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("ingestor: nil metadata store")
	case deps.Blobs == nil:
		return nil, errors.New("ingestor: nil blob store")
	case deps.Embedder == nil:
		return nil, errors.New("ingestor: nil embedder")
	case deps.Extractor == nil:
		return nil, errors.New("ingestor: nil extractor")
	case deps.Index == nil:
		return nil, errors.New("ingestor: nil vector index")
	case deps.Queue == nil:
		return nil, errors.New("ingestor: nil job queue")
	}
	if cfg == nil {
		cfg = DefaultIngestConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Discard()
	}

	return &DocumentIngestor{
		db:        deps.Store,
		blobs:     deps.Blobs,
		embedder:  deps.Embedder,
		extractor: deps.Extractor,
		index:     deps.Index,
		queue:     deps.Queue,
		chunker:   chunker.New(chunker.WithChunkSize(cfg.ChunkSize), chunker.WithOverlap(cfg.ChunkOverlap)),
		cfg:       cfg,
		log:       logger.Component(deps.Logger, "ingestor"),
		metrics:   m,
	}, nil
}

// Start runs numWorkers goroutines reading from the job queue and blocks
// until ctx is cancelled and every worker has returned.
func (i *DocumentIngestor) Start(ctx context.Context, numWorkers int) error {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for w := 1; w <= numWorkers; w++ {
		g.Go(func() error {
			i.metrics.WorkersRunning.Inc()
			defer i.metrics.WorkersRunning.Dec()
			i.work(gctx, w)
			return nil
		})
	}
	i.log.Info().Int("workers", numWorkers).Msg("ingestion workers started")
	err := g.Wait()
	i.log.Info().Msg("ingestion workers stopped")
	return err
}

func (i *DocumentIngestor) work(ctx context.Context, worker int) {
	log := i.log.With().Int("worker", worker).Logger()
	for {
		d, err := i.queue.Reserve(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, core.ErrQueueClosed) {
				log.Debug().Msg("worker shutting down")
				return
			}
			log.Error().Err(err).Msg("reserve failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(reserveErrorDelay):
			}
			continue
		}
		i.handleDelivery(ctx, d)
	}
}

// handleDelivery settles one delivery: ack on success or skip, dead-letter
// on terminal errors, retry with backoff otherwise.
func (i *DocumentIngestor) handleDelivery(ctx context.Context, d *models.Delivery) {
	started := time.Now()
	// Settling must survive shutdown so the queue state stays accurate.
	settleCtx := context.WithoutCancel(ctx)
	log := i.log.With().Str("delivery_id", d.ID).Int("attempt", d.Attempt).Logger()

	job, err := models.DecodeIngestJob(d.Payload)
	if err != nil {
		log.Error().Err(err).Msg("dropping poison message")
		if kerr := i.queue.Kill(settleCtx, d, err); kerr != nil {
			log.Error().Err(kerr).Msg("dead-letter failed")
		}
		i.metrics.ObserveJob(metrics.JobPoison, started)
		return
	}
	log = log.With().Str("document_id", job.DocumentID).Str("owner_id", job.OwnerID).Logger()

	// Shutdown lets the in-flight job finish; only JobTimeout bounds it.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.cfg.JobTimeout)
	skipped, err := i.process(jobCtx, job, d.Attempt)
	cancel()

	switch {
	case err == nil:
		if aerr := i.queue.Ack(settleCtx, d); aerr != nil {
			log.Error().Err(aerr).Msg("ack failed")
		}
		if skipped {
			i.metrics.ObserveJob(metrics.JobSkipped, started)
			return
		}
		i.metrics.ObserveJob(metrics.JobCompleted, started)
		log.Info().Dur("took", time.Since(started)).Msg("document ingested")

	case core.IsTerminal(err):
		if kerr := i.queue.Kill(settleCtx, d, err); kerr != nil {
			log.Error().Err(kerr).Msg("dead-letter failed")
		}
		i.metrics.ObserveJob(metrics.JobFailed, started)
		log.Warn().Err(err).Msg("document cannot be processed, not retrying")

	default:
		requeued, rerr := i.queue.Retry(settleCtx, d, err)
		if rerr != nil {
			log.Error().Err(rerr).Msg("retry failed")
			return
		}
		if requeued {
			i.metrics.ObserveJob(metrics.JobRetried, started)
			log.Warn().Err(err).Msg("ingestion failed, retry scheduled")
			return
		}
		i.metrics.ObserveJob(metrics.JobDead, started)
		log.Error().Err(err).Msg("ingestion failed, attempts exhausted")
	}
}

// Enqueue schedules a document for ingestion.
func (i *DocumentIngestor) Enqueue(ctx context.Context, job models.IngestJob) error {
	return i.queue.Enqueue(ctx, job)
}

// ProcessJob runs the pipeline for one document. attempt starts at 1.
func (i *DocumentIngestor) ProcessJob(ctx context.Context, job models.IngestJob, attempt int) error {
	_, err := i.process(ctx, job, attempt)
	return err
}

// process downloads, extracts, chunks, embeds and stores one document.
// skipped is true when there was nothing to do.
func (i *DocumentIngestor) process(ctx context.Context, job models.IngestJob, attempt int) (skipped bool, err error) {
	if err := job.Validate(); err != nil {
		return false, err
	}
	log := i.log.With().Str("document_id", job.DocumentID).Str("owner_id", job.OwnerID).Logger()

	doc, err := i.db.GetDocumentByID(ctx, job.DocumentID, job.OwnerID)
	if errors.Is(err, core.ErrNotFound) {
		log.Warn().Msg("document no longer exists, skipping job")
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load document: %w", err)
	}
	if doc.Status == models.StatusCompleted {
		log.Info().Msg("document already completed, skipping duplicate delivery")
		return true, nil
	}

	// The job payload is untrusted: only the stored document decides which
	// blob is read, and it must sit under the job owner's prefix.
	if job.BlobHandle != doc.BlobHandle || !objectclient.OwnsHandle(doc.BlobHandle, job.OwnerID) {
		logger.Audit(log).
			Str("job_blob_handle", job.BlobHandle).
			Str("document_blob_handle", doc.BlobHandle).
			Msg("ingest job blob handle does not match the document")
		return false, fmt.Errorf("%w: blob handle does not match document", core.ErrPoisonMessage)
	}

	if _, err := i.db.UpdateDocumentStatus(ctx, job.DocumentID, job.OwnerID, models.Processing()); err != nil {
		return false, i.handleError(ctx, job, "mark processing", err)
	}

	data, err := i.blobs.Download(ctx, doc.BlobHandle)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			err = fmt.Errorf("%w: %v", core.ErrUnprocessableContent, err)
		}
		return false, i.handleError(ctx, job, "download", err)
	}

	extracted, err := i.extractor.Extract(ctx, data, doc.ContentType)
	if err != nil {
		return false, i.handleError(ctx, job, "extract", err)
	}

	chunks := i.chunker.Split(extracted.Text)
	if len(chunks) == 0 {
		return false, i.handleError(ctx, job, "chunk",
			fmt.Errorf("%w: no text to index", core.ErrUnprocessableContent))
	}

	records, err := i.embedChunks(ctx, job, chunks)
	if err != nil {
		return false, i.handleError(ctx, job, "embed", err)
	}

	if attempt > 1 && i.cfg.PurgeOnRetry {
		filter := vectorindex.ForOwner(job.OwnerID).And(vectorindex.DocumentIn(job.DocumentID))
		n, err := i.index.DeleteWhere(ctx, filter)
		if err != nil {
			return false, i.handleError(ctx, job, "purge", err)
		}
		if n > 0 {
			log.Info().Int64("records", n).Msg("purged records from an earlier attempt")
		}
	}

	if err := i.index.AddRecords(ctx, records); err != nil {
		return false, i.handleError(ctx, job, "store", err)
	}
	i.metrics.ChunksWritten.Add(float64(len(records)))

	if _, err := i.db.UpdateDocumentStatus(ctx, job.DocumentID, job.OwnerID,
		models.Completed(extracted.PageCount, len(chunks))); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			// Deleted mid-flight: drop the records we just wrote.
			filter := vectorindex.ForOwner(job.OwnerID).And(vectorindex.DocumentIn(job.DocumentID))
			if _, derr := i.index.DeleteWhere(ctx, filter); derr != nil {
				return false, fmt.Errorf("purge deleted document: %w", derr)
			}
			log.Warn().Msg("document deleted during ingestion, records removed")
			return true, nil
		}
		return false, i.handleError(ctx, job, "mark completed", err)
	}

	log.Debug().Int("pages", extracted.PageCount).Int("chunks", len(chunks)).Msg("document completed")
	return false, nil
}

// embedChunks embeds in BatchSize groups and builds records in sequence order.
func (i *DocumentIngestor) embedChunks(ctx context.Context, job models.IngestJob, chunks []models.Chunk) ([]models.VectorRecord, error) {
	records := make([]models.VectorRecord, 0, len(chunks))
	for start := 0; start < len(chunks); start += i.cfg.BatchSize {
		end := start + i.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vecs, err := i.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			i.metrics.EmbedCalls.WithLabelValues("error").Inc()
			return nil, err
		}
		i.metrics.EmbedCalls.WithLabelValues("ok").Inc()
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
		}

		for k, c := range chunks[start:end] {
			records = append(records, models.VectorRecord{
				ID:        uuid.NewString(),
				Embedding: vecs[k],
				Payload: models.VectorPayload{
					Text:             c.Text,
					OwnerID:          job.OwnerID,
					SourceDocumentID: job.DocumentID,
					SequenceIndex:    c.SequenceIndex,
					TotalChunks:      c.TotalChunks,
				},
			})
		}
	}
	return records, nil
}

// handleError logs the failure, records it on the document and returns the
// wrapped error. A failed status write is logged and does not replace err.
func (i *DocumentIngestor) handleError(ctx context.Context, job models.IngestJob, stage string, err error) error {
	wrapped := fmt.Errorf("%s: %w", stage, err)
	i.log.Error().Err(err).
		Str("document_id", job.DocumentID).
		Str("owner_id", job.OwnerID).
		Str("stage", stage).
		Msg("ingestion step failed")

	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, uerr := i.db.UpdateDocumentStatus(statusCtx, job.DocumentID, job.OwnerID, models.Failed(wrapped.Error())); uerr != nil {
		i.log.Error().Err(uerr).
			Str("document_id", job.DocumentID).
			Msg("CRITICAL: could not record failed status")
	}
	return wrapped
}
