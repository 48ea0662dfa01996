package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/markdave123-py/contexta/internal/models"
)

var _ Index = (*MemoryIndex)(nil)

// MemoryIndex is an in-process index using brute-force dot product.
// Vectors are assumed L2-normalised, so the score is cosine similarity.
type MemoryIndex struct {
	mu      sync.RWMutex
	records []models.VectorRecord
}

func NewMemoryIndex() *MemoryIndex { return &MemoryIndex{} }

// AddRecords appends records after validating their payloads.
func (m *MemoryIndex) AddRecords(_ context.Context, records []models.VectorRecord) error {
	for i, r := range records {
		if err := ValidateRecord(r); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		r.Embedding = append([]float32(nil), r.Embedding...)
		m.records = append(m.records, r)
	}
	return nil
}

// Seed stores records without payload validation. It exists to model
// rows written by older pipeline versions.
func (m *MemoryIndex) Seed(records ...models.VectorRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
}

// DeleteWhere removes every record matching filter.
func (m *MemoryIndex) DeleteWhere(_ context.Context, filter Filter) (int64, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	var removed int64
	for _, r := range m.records {
		if filter.Matches(r.Payload) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed, nil
}

// Search returns the k best matches for query among records matching filter.
func (m *MemoryIndex) Search(_ context.Context, query []float32, k int, filter Filter) ([]models.ScoredChunk, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if len(query) == 0 {
		return nil, errors.New("empty query vector")
	}
	if k <= 0 {
		k = 5
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []models.ScoredChunk
	for _, r := range m.records {
		if !filter.Matches(r.Payload) {
			continue
		}
		hits = append(hits, models.ScoredChunk{Payload: r.Payload, Score: dot(r.Embedding, query)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len reports how many records are stored.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Records returns a copy of every stored record.
func (m *MemoryIndex) Records() []models.VectorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.VectorRecord(nil), m.records...)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
