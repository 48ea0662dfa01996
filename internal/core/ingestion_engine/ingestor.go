package ingestion_engine

import (
	"context"

	"github.com/markdave123-py/contexta/internal/models"
)

// Ingestor runs the background pipeline that turns uploads into vector records.
type Ingestor interface {
	Start(ctx context.Context, numWorkers int) error
	Enqueue(ctx context.Context, job models.IngestJob) error
	ProcessJob(ctx context.Context, job models.IngestJob, attempt int) error
}

var _ Ingestor = (*DocumentIngestor)(nil)
