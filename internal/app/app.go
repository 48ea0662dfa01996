package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/contexta/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/contexta/internal/api/middlewares"
	"github.com/markdave123-py/contexta/internal/config"
	"github.com/markdave123-py/contexta/internal/core"
	db "github.com/markdave123-py/contexta/internal/core/database"
	"github.com/markdave123-py/contexta/internal/core/ingestion_engine"
	"github.com/markdave123-py/contexta/internal/core/llm"
	objectclient "github.com/markdave123-py/contexta/internal/core/object-client"
	"github.com/markdave123-py/contexta/internal/core/queue"
	"github.com/markdave123-py/contexta/internal/core/retrieval"
	"github.com/markdave123-py/contexta/internal/core/vectorindex"
	"github.com/markdave123-py/contexta/internal/metrics"
	"github.com/markdave123-py/contexta/internal/services"
)

// shutdownTimeout bounds how long in-flight HTTP requests get on exit.
const shutdownTimeout = 30 * time.Second

type App struct {
	DBClient     *db.DatabaseClient
	ObjectClient core.BlobStore
	DocProcessor *ingestion_engine.DocumentIngestor
	Server       *Server

	workers int
	closers []io.Closer
	log     zerolog.Logger
}

// NewApp constructs every client once and wires them together.
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{workers: cfg.IngestWorkers, log: log}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient)
	log.Info().Msg("database initialized and ready")

	index, err := vectorindex.NewPgVectorIndex(dbClient.DB())
	if err != nil {
		return nil, a.fail(err)
	}
	jobs, err := queue.NewPostgresQueue(dbClient.DB(), queue.PostgresOptions{
		Options:           queue.Options{MaxAttempts: cfg.JobMaxAttempts, Backoff: cfg.JobBackoff},
		VisibilityTimeout: cfg.JobVisibilityTimeout,
		PollInterval:      cfg.JobPollInterval,
	})
	if err != nil {
		return nil, a.fail(err)
	}

	blobs, err := newBlobStore(appCtx, cfg, log)
	if err != nil {
		return nil, a.fail(err)
	}
	a.ObjectClient = blobs
	if c, ok := blobs.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	log.Info().Str("backend", cfg.BlobBackend).Msg("object client initialized and ready")

	geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, llm.EmbedderConfig{
		APIKey:            cfg.AIAPIKey,
		Model:             cfg.EmbedModel,
		BatchSize:         cfg.EmbedBatchSize,
		RequestsPerSecond: cfg.EmbedRPS,
	})
	if err != nil {
		return nil, a.fail(fmt.Errorf("couldn't initialize the embedder, %w", err))
	}
	a.closers = append(a.closers, geminiEmbedder)

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, a.fail(fmt.Errorf("couldn't initialize the llm, %w", err))
	}
	a.closers = append(a.closers, llmProvider)

	useReadability := false
	documentExtractor := ingestion_engine.NewDocconvExtractor(useReadability)

	ingCfg := ingestion_engine.DefaultIngestConfig()
	ingCfg.ChunkSize = cfg.ChunkSize
	ingCfg.ChunkOverlap = cfg.ChunkOverlap
	ingCfg.JobTimeout = cfg.JobTimeout

	docIngestor, err := ingestion_engine.NewDocumentIngestor(ingestion_engine.Dependencies{
		Store:     dbClient,
		Blobs:     blobs,
		Embedder:  geminiEmbedder,
		Extractor: documentExtractor,
		Index:     index,
		Queue:     jobs,
		Logger:    log,
		Metrics:   m,
	}, ingCfg)
	if err != nil {
		return nil, a.fail(err)
	}
	a.DocProcessor = docIngestor

	engine := retrieval.NewEngine(dbClient, index, geminiEmbedder, retrieval.Config{
		TopK:     cfg.RetrievalTopK,
		MinScore: cfg.RetrievalMinScore,
	}, log, m)

	jwtAuth, err := appMiddleware.NewJWTAuth(cfg.JWTSecret, appMiddleware.DefaultTokenTTL)
	if err != nil {
		return nil, a.fail(err)
	}

	userSvc := services.NewUserService(dbClient)
	docSvc := services.NewDocumentService(dbClient, blobs, index, docIngestor, log)
	chatSvc := services.NewChatService(engine, llmProvider, log)

	router := NewRouter(cfg, Routes{
		Auth:      handlers.NewAuthHandler(userSvc, jwtAuth, log),
		Documents: handlers.NewDocumentHandler(docSvc, cfg.MaxUploadBytes(), log),
		Chat:      handlers.NewChatHandler(chatSvc, log),
		JWT:       jwtAuth,
		Health:    dbClient.DB().PingContext,
		Gatherer:  reg,
		Metrics:   m,
	}, log)
	a.Server = NewServer(cfg, router, log)

	return a, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (core.BlobStore, error) {
	switch cfg.BlobBackend {
	case "gcs":
		return objectclient.NewGCSClient(ctx, cfg.GCSBucket, log)
	case "s3", "":
		return objectclient.NewS3Client(ctx, cfg, log)
	}
	return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
}

// Run starts the ingestion workers and the HTTP server and blocks until ctx
// is cancelled or either of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.DocProcessor.Start(gctx, a.workers)
	})
	g.Go(a.Server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// fail releases whatever was built before err and returns it.
func (a *App) fail(err error) error {
	a.Close()
	return err
}

// Close releases clients in reverse construction order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
