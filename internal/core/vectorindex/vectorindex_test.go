package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/contexta/internal/models"
)

func record(owner, doc, text string, emb ...float32) models.VectorRecord {
	return models.VectorRecord{
		Embedding: emb,
		Payload:   models.VectorPayload{Text: text, OwnerID: owner, SourceDocumentID: doc},
	}
}

func TestFilter(t *testing.T) {
	t.Run("owner only", func(t *testing.T) {
		f := ForOwner("u1")
		require.NoError(t, f.Validate())
		assert.False(t, f.HasDocumentClause())
		assert.True(t, f.Matches(models.VectorPayload{OwnerID: "u1", SourceDocumentID: "d1"}))
		assert.True(t, f.Matches(models.VectorPayload{OwnerID: "u1"}))
		assert.False(t, f.Matches(models.VectorPayload{OwnerID: "u2", SourceDocumentID: "d1"}))
	})

	t.Run("zero value is rejected", func(t *testing.T) {
		var f Filter
		assert.ErrorIs(t, f.Validate(), ErrMissingOwner)
		assert.ErrorIs(t, ForOwner("  ").Validate(), ErrMissingOwner)
		assert.False(t, f.Matches(models.VectorPayload{}))
	})

	t.Run("document clause", func(t *testing.T) {
		f := ForOwner("u1").And(DocumentIn("d1", "d2"))
		assert.True(t, f.Matches(models.VectorPayload{OwnerID: "u1", SourceDocumentID: "d2"}))
		assert.False(t, f.Matches(models.VectorPayload{OwnerID: "u1", SourceDocumentID: "d3"}))
		assert.False(t, f.Matches(models.VectorPayload{OwnerID: "u1"}))
		assert.False(t, f.Matches(models.VectorPayload{OwnerID: "u2", SourceDocumentID: "d1"}))
	})

	t.Run("empty document clause matches nothing", func(t *testing.T) {
		f := ForOwner("u1").And(DocumentIn())
		assert.True(t, f.HasDocumentClause())
		assert.False(t, f.Matches(models.VectorPayload{OwnerID: "u1", SourceDocumentID: "d1"}))
	})

	t.Run("document clauses intersect", func(t *testing.T) {
		f := ForOwner("u1").And(DocumentIn("d1", "d2"), DocumentIn("d2", "d3"))
		ids, ok := f.DocumentIDs()
		require.True(t, ok)
		assert.Equal(t, []string{"d2"}, ids)
	})

	t.Run("fallback keeps owner", func(t *testing.T) {
		f := ForOwner("u1").And(DocumentIn("d1")).WithoutDocumentClause()
		assert.Equal(t, "u1", f.OwnerID())
		assert.False(t, f.HasDocumentClause())
		assert.False(t, f.Matches(models.VectorPayload{OwnerID: "u2", SourceDocumentID: "d1"}))
	})

	t.Run("And does not mutate the receiver", func(t *testing.T) {
		base := ForOwner("u1")
		_ = base.And(DocumentIn("d1"))
		assert.False(t, base.HasDocumentClause())
	})
}

func TestWhereClause(t *testing.T) {
	where, args, err := whereClause(ForOwner("u1"), 2)
	require.NoError(t, err)
	assert.Equal(t, "payload->>'ownerId' = $2", where)
	assert.Equal(t, []any{"u1"}, args)

	where, args, err = whereClause(ForOwner("u1").And(DocumentIn("d1", "d2")), 1)
	require.NoError(t, err)
	assert.Equal(t, "payload->>'ownerId' = $1 AND payload->>'sourceDocumentId' = ANY($2)", where)
	assert.Equal(t, []any{"u1", []string{"d1", "d2"}}, args)

	_, args, err = whereClause(ForOwner("u1").And(DocumentIn()), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{}, args[1])

	_, _, err = whereClause(Filter{}, 1)
	assert.ErrorIs(t, err, ErrMissingOwner)
}

func TestMemoryIndex_AddRecordsValidation(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	err := idx.AddRecords(ctx, []models.VectorRecord{record("", "d1", "x", 1)})
	assert.ErrorIs(t, err, ErrMissingOwner)

	err = idx.AddRecords(ctx, []models.VectorRecord{record("u1", "", "x", 1)})
	assert.Error(t, err)

	err = idx.AddRecords(ctx, []models.VectorRecord{record("u1", "d1", "x")})
	assert.Error(t, err)

	assert.Equal(t, 0, idx.Len())
}

func TestMemoryIndex_SearchIsOwnerScoped(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.AddRecords(ctx, []models.VectorRecord{
		record("u1", "d1", "mine", 1, 0),
		record("u2", "d9", "theirs", 1, 0),
		record("u1", "d2", "mine too", 0.5, 0.5),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0}, 10, ForOwner("u1"))
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "mine", hits[0].Payload.Text)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	for _, h := range hits {
		assert.Equal(t, "u1", h.Payload.OwnerID)
	}

	hits, err = idx.Search(ctx, []float32{1, 0}, 10, ForOwner("u1").And(DocumentIn("d2")))
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "d2", hits[0].Payload.SourceDocumentID)

	_, err = idx.Search(ctx, []float32{1, 0}, 10, Filter{})
	assert.ErrorIs(t, err, ErrMissingOwner)
}

func TestMemoryIndex_SearchTopK(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		require.NoError(t, idx.AddRecords(ctx, []models.VectorRecord{record("u1", "d1", "t", float32(i), 1)}))
	}

	hits, err := idx.Search(ctx, []float32{1, 0}, 3, ForOwner("u1"))
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.GreaterOrEqual(t, hits[1].Score, hits[2].Score)
}

func TestMemoryIndex_DeleteWhere(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.AddRecords(ctx, []models.VectorRecord{
		record("u1", "d1", "a", 1),
		record("u1", "d2", "b", 1),
		record("u2", "d1", "c", 1),
	}))

	n, err := idx.DeleteWhere(ctx, ForOwner("u1").And(DocumentIn("d1")))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, idx.Len())

	_, err = idx.DeleteWhere(ctx, Filter{})
	assert.ErrorIs(t, err, ErrMissingOwner)
	assert.Equal(t, 2, idx.Len())
}

func TestNewPgVectorIndex_NilDB(t *testing.T) {
	_, err := NewPgVectorIndex(nil)
	assert.Error(t, err)
}
