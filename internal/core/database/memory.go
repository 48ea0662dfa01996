package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/models"
)

var _ core.MetadataStore = (*MemoryStore)(nil)

// MemoryStore is a MetadataStore kept in process memory with the same
// ownership rules as DatabaseClient.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]models.User
	docs  map[string]models.Document
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]models.User),
		docs:  make(map[string]models.Document),
		now:   time.Now,
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return fmt.Errorf("email %s: %w", user.Email, core.ErrConflict)
		}
	}
	now := m.now()
	user.CreatedAt, user.UpdatedAt = now, now
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) CreateDocument(_ context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if !doc.Status.Valid() {
		return fmt.Errorf("%w: status %q", core.ErrInvalidInput, doc.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("%w: document %s exists", core.ErrInvalidInput, doc.ID)
	}
	now := m.now()
	doc.CreatedAt, doc.UpdatedAt = now, now
	m.docs[doc.ID] = *doc
	return nil
}

func (m *MemoryStore) GetDocumentByID(_ context.Context, id, ownerID string) (*models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok || d.UserID != ownerID {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return &d, nil
}

func (m *MemoryStore) ListDocumentsByUser(_ context.Context, ownerID string) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Document
	for _, d := range m.docs {
		if d.UserID == ownerID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) UpdateDocumentStatus(_ context.Context, id, ownerID string, upd models.StatusUpdate) (*models.Document, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", core.ErrInvalidInput, upd.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.UserID != ownerID {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	d.Status = upd.Status
	if upd.PageCount != nil {
		v := *upd.PageCount
		d.PageCount = &v
	}
	if upd.ChunkCount != nil {
		v := *upd.ChunkCount
		d.ChunkCount = &v
	}
	if upd.Status == models.StatusFailed {
		if upd.ErrorDetail != nil {
			v := *upd.ErrorDetail
			d.ErrorDetail = &v
		}
	} else {
		d.ErrorDetail = nil
	}
	d.UpdatedAt = m.now()
	m.docs[id] = d
	return &d, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok || d.UserID != ownerID {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	delete(m.docs, id)
	return nil
}

func (m *MemoryStore) ValidateOwnership(_ context.Context, ownerID string, ids []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owned := make(map[string]struct{})
	for _, id := range ids {
		if d, ok := m.docs[id]; ok && d.UserID == ownerID {
			owned[id] = struct{}{}
		}
	}
	return orderedSubset(ids, owned), nil
}

func (m *MemoryStore) Close() error { return nil }
