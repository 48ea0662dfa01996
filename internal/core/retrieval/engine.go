// Package retrieval answers similarity queries restricted to one owner's documents.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/core/vectorindex"
	"github.com/markdave123-py/contexta/internal/logger"
	"github.com/markdave123-py/contexta/internal/metrics"
	"github.com/markdave123-py/contexta/internal/models"
)

// DefaultTopK is the number of chunks returned per query.
const DefaultTopK = 5

// Outcome says why a result is what it is.
type Outcome string

const (
	Found        Outcome = "found"
	NoDocuments  Outcome = "no_documents"
	NotProcessed Outcome = "not_processed"
	NoMatch      Outcome = "no_match"
)

// Config tunes the engine.
//
// TopK:     chunks per search.
// MinScore: hits scoring below it are discarded; 0 keeps everything.
type Config struct {
	TopK     int
	MinScore float64
}

// Result is the ranked chunks plus the outcome. Chunks is empty unless
// Outcome is Found.
type Result struct {
	Chunks   []models.ScoredChunk
	Outcome  Outcome
	Fallback bool
	Dropped  []string
}

// Empty reports whether nothing relevant was found.
func (r *Result) Empty() bool { return r == nil || len(r.Chunks) == 0 }

// Context renders the chunk texts as a numbered context block for a prompt.
func (r *Result) Context() string {
	if r.Empty() {
		return ""
	}
	var b strings.Builder
	for i, c := range r.Chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, strings.TrimSpace(c.Payload.Text))
	}
	return b.String()
}

// Engine builds owner-scoped filters and runs the search with its fallback.
type Engine struct {
	store    core.MetadataStore
	index    vectorindex.Index
	embedder core.EmbeddingProvider
	cfg      Config
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewEngine(store core.MetadataStore, index vectorindex.Index, embedder core.EmbeddingProvider, cfg Config, log zerolog.Logger, m *metrics.Metrics) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Engine{
		store:    store,
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		log:      logger.Component(log, "retrieval"),
		metrics:  m,
	}
}

// Retrieve returns the chunks most similar to query among ownerID's
// documents, restricted to candidates when any are given. Candidate ids the
// owner does not own are dropped; if none remain the call fails with
// ErrNoDocumentsToSearch.
func (e *Engine) Retrieve(ctx context.Context, ownerID, query string, candidates []string) (*Result, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, core.ErrMissingOwner
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", core.ErrInvalidInput)
	}

	res := &Result{}
	filter := vectorindex.ForOwner(ownerID)

	var scope []string
	if len(candidates) > 0 {
		owned, err := e.store.ValidateOwnership(ctx, ownerID, candidates)
		if err != nil {
			return nil, fmt.Errorf("validate ownership: %w", err)
		}
		res.Dropped = difference(candidates, owned)
		if len(res.Dropped) > 0 {
			e.metrics.DroppedCandidates.Add(float64(len(res.Dropped)))
			logger.Audit(e.log).
				Str("owner_id", ownerID).
				Strs("dropped_document_ids", res.Dropped).
				Msg("query referenced documents the caller does not own")
		}
		if len(owned) == 0 {
			return nil, core.ErrNoDocumentsToSearch
		}
		scope = owned
		filter = filter.And(vectorindex.DocumentIn(owned...))
	}

	vecs, err := e.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	hits, err := e.search(ctx, vecs[0], filter)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 && filter.HasDocumentClause() {
		// Records written before per-document tagging only match on owner.
		e.metrics.RetrievalFallbacks.Inc()
		e.log.Debug().Str("owner_id", ownerID).Msg("no hits with document filter, retrying on owner only")
		res.Fallback = true
		if hits, err = e.search(ctx, vecs[0], filter.WithoutDocumentClause()); err != nil {
			return nil, err
		}
	}

	if len(hits) > 0 {
		res.Chunks = hits
		res.Outcome = Found
	} else if res.Outcome, err = e.emptyOutcome(ctx, ownerID, scope); err != nil {
		return nil, err
	}
	e.metrics.RetrievalsTotal.WithLabelValues(string(res.Outcome)).Inc()
	return res, nil
}

func (e *Engine) search(ctx context.Context, vec []float32, filter vectorindex.Filter) ([]models.ScoredChunk, error) {
	hits, err := e.index.Search(ctx, vec, e.cfg.TopK, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if e.cfg.MinScore <= 0 {
		return hits, nil
	}
	kept := hits[:0]
	for _, h := range hits {
		if h.Score >= e.cfg.MinScore {
			kept = append(kept, h)
		}
	}
	return kept, nil
}

// emptyOutcome tells apart an owner with no documents, documents that are
// not completed yet and a query that matched nothing.
func (e *Engine) emptyOutcome(ctx context.Context, ownerID string, scope []string) (Outcome, error) {
	docs, err := e.store.ListDocumentsByUser(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("list documents: %w", err)
	}
	if len(docs) == 0 {
		return NoDocuments, nil
	}

	inScope := func(string) bool { return true }
	if len(scope) > 0 {
		set := make(map[string]struct{}, len(scope))
		for _, id := range scope {
			set[id] = struct{}{}
		}
		inScope = func(id string) bool {
			_, ok := set[id]
			return ok
		}
	}
	for _, d := range docs {
		if inScope(d.ID) && d.Status == models.StatusCompleted {
			return NoMatch, nil
		}
	}
	return NotProcessed, nil
}

// difference returns ids not in keep, each once, in input order.
func difference(ids, keep []string) []string {
	set := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}
	var out []string
	for _, id := range ids {
		if _, ok := set[id]; ok {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// IsClientError reports whether err comes from the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, core.ErrNoDocumentsToSearch) ||
		errors.Is(err, core.ErrInvalidInput) ||
		errors.Is(err, core.ErrMissingOwner)
}
