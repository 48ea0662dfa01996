package core

import (
	"context"

	"github.com/markdave123-py/contexta/internal/models"
)

// MetadataStore defines all persistence operations for users and documents.
// Every document operation is scoped by owner; a document owned by someone
// else behaves exactly like a missing one (ErrNotFound).
type MetadataStore interface {
	CreateUser(ctx context.Context, user *models.User) (err error)
	GetUserByEmail(ctx context.Context, email string) (user *models.User, err error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id, ownerID string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, ownerID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, ownerID string, upd models.StatusUpdate) (*models.Document, error)
	DeleteDocument(ctx context.Context, id, ownerID string) error

	// ValidateOwnership returns the subset of ids owned by ownerID, in input order.
	ValidateOwnership(ctx context.Context, ownerID string, ids []string) ([]string, error)

	Close() error
}

// BlobStore stores raw uploads. Handles are opaque to callers.
// It's abstract so you can replace AWS with MinIO, GCP, etc. easily.
type BlobStore interface {
	Upload(ctx context.Context, ownerID, documentID, filename string, data []byte, contentType string) (handle string, err error)
	Download(ctx context.Context, handle string) ([]byte, error)
	// Delete rejects a handle that does not belong to ownerID with ErrForbidden.
	Delete(ctx context.Context, handle, ownerID string) error
}

// JobQueue is an at-least-once work queue.
type JobQueue interface {
	Enqueue(ctx context.Context, job models.IngestJob) error
	// Reserve blocks until a delivery is available or ctx is done.
	Reserve(ctx context.Context) (*models.Delivery, error)
	Ack(ctx context.Context, d *models.Delivery) error
	// Retry schedules a redelivery with backoff, or dead-letters the
	// delivery when its attempts are exhausted (requeued == false).
	Retry(ctx context.Context, d *models.Delivery, cause error) (requeued bool, err error)
	// Kill dead-letters the delivery without further attempts.
	Kill(ctx context.Context, d *models.Delivery, cause error) error
}
