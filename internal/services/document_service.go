package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta/internal/core/vectorindex"
	"github.com/markdave123-py/contexta/internal/logger"
	"github.com/markdave123-py/contexta/internal/models"
)

// Enqueuer hands an ingestion job to the background workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, job models.IngestJob) error
}

type DocumentService struct {
	db      core.MetadataStore
	storage core.BlobStore
	vectors vectorindex.Index
	jobs    Enqueuer
	log     zerolog.Logger
}

func NewDocumentService(db core.MetadataStore, storage core.BlobStore, vectors vectorindex.Index, jobs Enqueuer, log zerolog.Logger) *DocumentService {
	return &DocumentService{
		db:      db,
		storage: storage,
		vectors: vectors,
		jobs:    jobs,
		log:     logger.Component(log, "documents"),
	}
}

// Upload stores the file, records it as pending and queues its ingestion.
// Only PDFs are accepted (ErrUnsupportedMediaType otherwise). If the job
// cannot be queued the document is marked failed and the error returned.
func (s *DocumentService) Upload(ctx context.Context, ownerID, filename, contentType string, data []byte) (*models.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, core.ErrMissingOwner
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", core.ErrInvalidInput)
	}
	if !ingestion_engine.IsPDF(data) {
		return nil, fmt.Errorf("%w: only PDF files are accepted", core.ErrUnsupportedMediaType)
	}
	// The bytes decide; browsers send all sorts of content types for PDFs.
	contentType = ingestion_engine.PDFContentType

	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "." || filename == string(filepath.Separator) || filename == "" {
		filename = "document.pdf"
	}

	docID := uuid.NewString()
	handle, err := s.storage.Upload(ctx, ownerID, docID, filename, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("upload blob: %w", err)
	}

	doc := &models.Document{
		ID:          docID,
		UserID:      ownerID,
		FileName:    filename,
		BlobHandle:  handle,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		Status:      models.StatusPending,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		if derr := s.storage.Delete(context.WithoutCancel(ctx), handle, ownerID); derr != nil {
			s.log.Error().Err(derr).Str("blob_handle", handle).Msg("orphaned blob after failed insert")
		}
		return nil, fmt.Errorf("create document: %w", err)
	}

	if err := s.jobs.Enqueue(ctx, models.NewIngestJob(ownerID, docID, handle, filename)); err != nil {
		s.log.Error().Err(err).Str("document_id", docID).Msg("enqueue ingestion failed")
		statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, uerr := s.db.UpdateDocumentStatus(statusCtx, docID, ownerID, models.Failed("could not queue ingestion")); uerr != nil {
			s.log.Error().Err(uerr).Str("document_id", docID).Msg("CRITICAL: could not record failed status")
		}
		return nil, fmt.Errorf("enqueue ingestion: %w", err)
	}

	s.log.Info().Str("document_id", docID).Str("owner_id", ownerID).Int64("bytes", doc.SizeBytes).Msg("document queued")
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, ownerID, documentID string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, documentID, ownerID)
}

func (s *DocumentService) List(ctx context.Context, ownerID string) ([]models.Document, error) {
	docs, err := s.db.ListDocumentsByUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// Delete removes the vector records, the blob and the metadata row, in that
// order, so a partial failure never leaves searchable records behind a
// deleted document.
func (s *DocumentService) Delete(ctx context.Context, ownerID, documentID string) error {
	doc, err := s.db.GetDocumentByID(ctx, documentID, ownerID)
	if errors.Is(err, core.ErrNotFound) {
		// Missing and foreign documents look the same to the caller.
		logger.Audit(s.log).
			Str("owner_id", ownerID).
			Str("document_id", documentID).
			Msg("delete refused: document not found for owner")
		return err
	}
	if err != nil {
		return err
	}

	filter := vectorindex.ForOwner(ownerID).And(vectorindex.DocumentIn(doc.ID))
	n, err := s.vectors.DeleteWhere(ctx, filter)
	if err != nil {
		return fmt.Errorf("delete vector records: %w", err)
	}

	if doc.BlobHandle != "" {
		err := s.storage.Delete(ctx, doc.BlobHandle, ownerID)
		switch {
		case errors.Is(err, core.ErrForbidden):
			logger.Audit(s.log).Str("owner_id", ownerID).Str("document_id", doc.ID).
				Msg("blob handle does not belong to document owner")
			return err
		case err != nil && !errors.Is(err, core.ErrNotFound):
			return fmt.Errorf("delete blob: %w", err)
		}
	}

	if err := s.db.DeleteDocument(ctx, doc.ID, ownerID); err != nil {
		return err
	}
	s.log.Info().Str("document_id", doc.ID).Str("owner_id", ownerID).Int64("records", n).Msg("document deleted")
	return nil
}
