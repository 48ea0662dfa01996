package ingestion_engine

import (
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/core/chunker"
	"github.com/markdave123-py/contexta/internal/core/vectorindex"
	"github.com/markdave123-py/contexta/internal/metrics"
)

// DefaultJobTimeout stays below the queue's default visibility timeout so a
// slow job is abandoned before another worker can reserve it.
const DefaultJobTimeout = 5 * time.Minute

// IngestConfig tunes the pipeline.
//
// ChunkSize:    target characters per chunk (e.g., 1000).
// ChunkOverlap: characters copied from the previous chunk (e.g., 200).
// BatchSize:    chunks per embedding request (e.g., 32).
// PurgeOnRetry: delete a document's vector records before rewriting them on attempt > 1.
// JobTimeout:   upper bound for one document.
type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	PurgeOnRetry bool
	JobTimeout   time.Duration
}

// DefaultIngestConfig returns the settings used when none are configured.
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		ChunkSize:    chunker.DefaultChunkSize,
		ChunkOverlap: chunker.DefaultChunkOverlap,
		BatchSize:    32,
		PurgeOnRetry: true,
		JobTimeout:   DefaultJobTimeout,
	}
}

// Dependencies are the adapters the pipeline talks to.
type Dependencies struct {
	Store     core.MetadataStore
	Blobs     core.BlobStore
	Embedder  core.EmbeddingProvider
	Extractor core.TextExtractor
	Index     vectorindex.Index
	Queue     core.JobQueue
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

// DocumentIngestor orchestrates the background ingestion pipeline:
//
// db:        document metadata and status.
// blobs:     raw uploads.
// embedder:  embedding provider (Gemini/OpenAI/etc).
// extractor: PDF to text.
// index:     vector records.
// queue:     durable job queue shared with the API.
// chunker:   text splitter built from cfg.
// cfg:       runtime tuning knobs for the pipeline.
type DocumentIngestor struct {
	db        core.MetadataStore
	blobs     core.BlobStore
	embedder  core.EmbeddingProvider
	extractor core.TextExtractor
	index     vectorindex.Index
	queue     core.JobQueue
	chunker   *chunker.Chunker
	cfg       *IngestConfig
	log       zerolog.Logger
	metrics   *metrics.Metrics
}

// DocconvExtractor implements core.TextExtractor using pdfcpu and sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
	pdfConf        *model.Configuration
}
