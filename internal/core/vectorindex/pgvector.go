package vectorindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/contexta/internal/models"
)

var _ Index = (*PgVectorIndex)(nil)

// PgVectorIndex keeps records in the vector_records table.
// db: shared pool opened by the metadata client (pgx stdlib driver).
type PgVectorIndex struct {
	db *sql.DB
}

func NewPgVectorIndex(db *sql.DB) (*PgVectorIndex, error) {
	if db == nil {
		return nil, errors.New("vector index: nil db")
	}
	return &PgVectorIndex{db: db}, nil
}

// AddRecords inserts records in a single transaction.
func (p *PgVectorIndex) AddRecords(ctx context.Context, records []models.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	for i, r := range records {
		if err := ValidateRecord(r); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	const q = `
		INSERT INTO vector_records (id, embedding, payload)
		VALUES ($1, $2, $3::jsonb)
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		payload, err := json.Marshal(r.Payload)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal payload: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(r.Embedding), string(payload)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// DeleteWhere removes every record matching filter and reports how many went.
func (p *PgVectorIndex) DeleteWhere(ctx context.Context, filter Filter) (int64, error) {
	where, args, err := whereClause(filter, 1)
	if err != nil {
		return 0, err
	}
	res, err := p.db.ExecContext(ctx, "DELETE FROM vector_records WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Search orders by cosine distance; score is 1 - distance.
func (p *PgVectorIndex) Search(ctx context.Context, query []float32, k int, filter Filter) ([]models.ScoredChunk, error) {
	if len(query) == 0 {
		return nil, errors.New("empty query vector")
	}
	if k <= 0 {
		k = 5
	}
	where, args, err := whereClause(filter, 2)
	if err != nil {
		return nil, err
	}

	q := `
		SELECT payload, 1 - (embedding <=> $1) AS score
		FROM vector_records
		WHERE ` + where + `
		ORDER BY embedding <=> $1
		LIMIT ` + strconv.Itoa(k)

	args = append([]any{pgvector.NewVector(query)}, args...)
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	var out []models.ScoredChunk
	for rows.Next() {
		var (
			raw   []byte
			score float64
		)
		if err := rows.Scan(&raw, &score); err != nil {
			return nil, err
		}
		var payload models.VectorPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		out = append(out, models.ScoredChunk{Payload: payload, Score: score})
	}
	return out, rows.Err()
}

// whereClause renders filter as parameterised JSONB predicates starting at
// placeholder $start.
func whereClause(filter Filter, start int) (string, []any, error) {
	if err := filter.Validate(); err != nil {
		return "", nil, err
	}

	preds := []string{"payload->>'ownerId' = $" + strconv.Itoa(start)}
	args := []any{filter.OwnerID()}

	if ids, ok := filter.DocumentIDs(); ok {
		if ids == nil {
			ids = []string{}
		}
		preds = append(preds, "payload->>'sourceDocumentId' = ANY($"+strconv.Itoa(start+1)+")")
		args = append(args, ids)
	}
	return strings.Join(preds, " AND "), args, nil
}
