// Package vectorindex stores chunk embeddings and answers filtered
// nearest-neighbour queries. Every read and delete is scoped to one owner:
// a Filter can only be built from an owner id.
package vectorindex

import (
	"context"
	"errors"
	"strings"

	"github.com/markdave123-py/contexta/internal/models"
)

// ErrMissingOwner indicates a filter or record without an owner id.
var ErrMissingOwner = errors.New("owner id is required")

// Index is the vector database adapter.
type Index interface {
	AddRecords(ctx context.Context, records []models.VectorRecord) error
	DeleteWhere(ctx context.Context, filter Filter) (int64, error)
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]models.ScoredChunk, error)
}

// Filter is a conjunction that always includes an exact owner match.
type Filter struct {
	ownerID     string
	documentIDs []string
	hasDocs     bool
}

// Clause narrows a Filter further.
type Clause interface {
	apply(*Filter)
}

type documentInClause []string

func (c documentInClause) apply(f *Filter) {
	if f.hasDocs {
		// Intersect with any earlier document clause.
		keep := make(map[string]struct{}, len(c))
		for _, id := range c {
			keep[id] = struct{}{}
		}
		var ids []string
		for _, id := range f.documentIDs {
			if _, ok := keep[id]; ok {
				ids = append(ids, id)
			}
		}
		f.documentIDs = ids
		return
	}
	f.documentIDs = append([]string(nil), c...)
	f.hasDocs = true
}

// ForOwner starts a filter scoped to ownerID.
func ForOwner(ownerID string) Filter {
	return Filter{ownerID: strings.TrimSpace(ownerID)}
}

// DocumentIn restricts matches to records whose sourceDocumentId is one of ids.
// An empty list matches nothing.
func DocumentIn(ids ...string) Clause {
	return documentInClause(ids)
}

// And returns a copy of f with every clause applied.
func (f Filter) And(clauses ...Clause) Filter {
	out := f
	out.documentIDs = append([]string(nil), f.documentIDs...)
	for _, c := range clauses {
		if c != nil {
			c.apply(&out)
		}
	}
	return out
}

// WithoutDocumentClause drops the document restriction and keeps the owner.
func (f Filter) WithoutDocumentClause() Filter {
	return Filter{ownerID: f.ownerID}
}

// OwnerID returns the owner every match must belong to.
func (f Filter) OwnerID() string { return f.ownerID }

// DocumentIDs returns the document restriction, if any.
func (f Filter) DocumentIDs() ([]string, bool) {
	return append([]string(nil), f.documentIDs...), f.hasDocs
}

// HasDocumentClause reports whether a document restriction is present.
func (f Filter) HasDocumentClause() bool { return f.hasDocs }

// Validate rejects a filter that was not built with ForOwner.
func (f Filter) Validate() error {
	if f.ownerID == "" {
		return ErrMissingOwner
	}
	return nil
}

// Matches evaluates the filter against a payload. Records without a
// sourceDocumentId never match a document clause.
func (f Filter) Matches(p models.VectorPayload) bool {
	if f.ownerID == "" || p.OwnerID != f.ownerID {
		return false
	}
	if !f.hasDocs {
		return true
	}
	for _, id := range f.documentIDs {
		if id == p.SourceDocumentID {
			return p.SourceDocumentID != ""
		}
	}
	return false
}

// ValidateRecord checks the payload fields the retrieval path relies on.
func ValidateRecord(r models.VectorRecord) error {
	if strings.TrimSpace(r.Payload.OwnerID) == "" {
		return ErrMissingOwner
	}
	if strings.TrimSpace(r.Payload.SourceDocumentID) == "" {
		return errors.New("record has no sourceDocumentId")
	}
	if len(r.Embedding) == 0 {
		return errors.New("record has an empty embedding")
	}
	return nil
}
