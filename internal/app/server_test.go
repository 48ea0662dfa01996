package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/contexta/internal/api/middlewares"
	"github.com/markdave123-py/contexta/internal/config"
	db "github.com/markdave123-py/contexta/internal/core/database"
	"github.com/markdave123-py/contexta/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/contexta/internal/core/object-client"
	"github.com/markdave123-py/contexta/internal/core/queue"
	"github.com/markdave123-py/contexta/internal/core/retrieval"
	"github.com/markdave123-py/contexta/internal/core/vectorindex"
	"github.com/markdave123-py/contexta/internal/logger"
	"github.com/markdave123-py/contexta/internal/metrics"
	"github.com/markdave123-py/contexta/internal/models"
	"github.com/markdave123-py/contexta/internal/services"
	"github.com/markdave123-py/contexta/internal/testutil"
)

type testServer struct {
	handler http.Handler
	queue   *queue.MemoryQueue
	ing     *ingestion_engine.DocumentIngestor
	llm     *testutil.EchoLLM
	healthy error
}

func newTestServer(t *testing.T, text string) *testServer {
	t.Helper()
	cfg := config.Default()
	cfg.MaxUploadMB = 1

	store := db.NewMemoryStore()
	blobs := objectclient.NewMemoryBlobStore()
	index := vectorindex.NewMemoryIndex()
	q := queue.NewMemoryQueue(16, queue.Options{MaxAttempts: 2, Backoff: time.Millisecond})
	t.Cleanup(q.Close)
	embedder := testutil.NewVocabEmbedder("invoice", "number", "payment")
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ing, err := ingestion_engine.NewDocumentIngestor(ingestion_engine.Dependencies{
		Store: store, Blobs: blobs, Embedder: embedder,
		Extractor: testutil.StaticExtractor{Text: text},
		Index:     index, Queue: q, Logger: logger.Nop(), Metrics: m,
	}, nil)
	require.NoError(t, err)

	jwtAuth, err := appMiddleware.NewJWTAuth("test-secret", time.Hour)
	require.NoError(t, err)
	engine := retrieval.NewEngine(store, index, embedder, retrieval.Config{}, logger.Nop(), m)

	ts := &testServer{queue: q, ing: ing, llm: &testutil.EchoLLM{}}
	ts.handler = NewRouter(cfg, Routes{
		Auth:      handlers.NewAuthHandler(services.NewUserService(store), jwtAuth, logger.Nop()),
		Documents: handlers.NewDocumentHandler(services.NewDocumentService(store, blobs, index, ing, logger.Nop()), cfg.MaxUploadBytes(), logger.Nop()),
		Chat:      handlers.NewChatHandler(services.NewChatService(engine, ts.llm, logger.Nop()), logger.Nop()),
		JWT:       jwtAuth,
		Health:    func(context.Context) error { return ts.healthy },
		Gatherer:  reg,
		Metrics:   m,
	}, logger.Nop())
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) signup(t *testing.T, email string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/signup", "", map[string]string{
		"first_name": "Test", "email": email, "password": "long-enough-pw",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct{ Token string }
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out.Token
}

func (ts *testServer) upload(t *testing.T, token, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

// drain processes every queued job synchronously.
func (ts *testServer) drain(t *testing.T) {
	t.Helper()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		d, err := ts.queue.Reserve(ctx)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return
		}
		require.NoError(t, err)
		job, err := models.DecodeIngestJob(d.Payload)
		require.NoError(t, err)
		require.NoError(t, ts.ing.ProcessJob(context.Background(), job, d.Attempt))
		require.NoError(t, ts.queue.Ack(context.Background(), d))
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, "")
	ts.signup(t, "ada@example.com")

	rec := ts.do(t, http.MethodPost, "/api/signup", "", map[string]string{"email": "ada@example.com", "password": "long-enough-pw"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "ada@example.com", "password": "long-enough-pw"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "ada@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/documents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDocumentLifecycle(t *testing.T) {
	ts := newTestServer(t, "The invoice number is INV-42.")
	alice := ts.signup(t, "alice@example.com")
	bob := ts.signup(t, "bob@example.com")

	rec := ts.upload(t, alice, "invoice.pdf", []byte("%PDF-1.4 invoice"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var doc models.Document
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&doc))
	assert.Equal(t, models.StatusPending, doc.Status)

	ts.drain(t)

	rec = ts.do(t, http.MethodGet, "/api/documents/"+doc.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Document
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, models.StatusCompleted, got.Status)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/documents/"+doc.ID, bob, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodDelete, "/api/documents/"+doc.ID, bob, nil).Code)

	rec = ts.do(t, http.MethodGet, "/api/documents", bob, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/chat/query", alice, map[string]any{"query": "invoice number", "document_id": doc.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var ans services.Answer
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ans))
	assert.Equal(t, retrieval.Found, ans.Outcome)
	assert.Contains(t, ans.Answer, "INV-42")

	rec = ts.do(t, http.MethodPost, "/api/chat/query", bob, map[string]any{"query": "invoice number", "document_ids": []string{doc.ID}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, "/api/documents/"+doc.ID, alice, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/documents/"+doc.ID, alice, nil).Code)
}

func TestUploadRejections(t *testing.T) {
	ts := newTestServer(t, "")
	token := ts.signup(t, "ada@example.com")

	assert.Equal(t, http.StatusUnsupportedMediaType, ts.upload(t, token, "notes.txt", []byte("just text")).Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		ts.upload(t, token, "big.pdf", append([]byte("%PDF-1.4 "), bytes.Repeat([]byte("x"), 3<<19)...)).Code)
}

func TestChatQueryValidation(t *testing.T) {
	ts := newTestServer(t, "")
	token := ts.signup(t, "ada@example.com")

	rec := ts.do(t, http.MethodPost, "/api/chat/query", token, map[string]string{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/chat/query", token, map[string]string{"query": "anything"})
	require.Equal(t, http.StatusOK, rec.Code)
	var ans services.Answer
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ans))
	assert.Equal(t, retrieval.NoDocuments, ans.Outcome)
}

func TestChatQuery_BlankDocumentIDsAreRejected(t *testing.T) {
	ts := newTestServer(t, "INVOICE #4471 total due 300")
	token := ts.signup(t, "ada@example.com")
	require.Equal(t, http.StatusAccepted, ts.upload(t, token, "invoice.pdf", []byte("%PDF-1.4 invoice")).Code)
	ts.drain(t)

	bodies := []map[string]any{
		{"query": "invoice", "document_ids": []string{"   ", ""}},
		{"query": "invoice", "document_id": "  "},
		{"query": "invoice", "document_ids": []string{}, "document_id": ""},
	}
	for _, body := range bodies {
		rec := ts.do(t, http.MethodPost, "/api/chat/query", token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %v", body)
		assert.Contains(t, rec.Body.String(), "no valid ids")
	}

	rec := ts.do(t, http.MethodPost, "/api/chat/query", token, map[string]any{"query": "invoice"})
	require.Equal(t, http.StatusOK, rec.Code)
	var ans services.Answer
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ans))
	assert.NotEmpty(t, ans.Sources)
}

func TestChatQuery_ModelWithoutAnswerIsBadGateway(t *testing.T) {
	ts := newTestServer(t, "The invoice number is INV-42.")
	token := ts.signup(t, "ada@example.com")
	require.Equal(t, http.StatusAccepted, ts.upload(t, token, "invoice.pdf", []byte("%PDF-1.4 invoice")).Code)
	ts.drain(t)

	ts.llm.Blank = true
	rec := ts.do(t, http.MethodPost, "/api/chat/query", token, map[string]any{"query": "invoice number"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "model returned no answer")
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, "")

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/healthz", "", nil).Code)
	ts.healthy = errors.New("db down")
	assert.Equal(t, http.StatusServiceUnavailable, ts.do(t, http.MethodGet, "/healthz", "", nil).Code)

	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "contexta_http_requests_total"))
}
