package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/markdave123-py/contexta/internal/config"
	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/models"
)

var _ core.MetadataStore = (*DatabaseClient)(nil)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	dsn, err := buildDSN(cfg.DatabaseURL, cfg.SslCertPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Pool is shared with the vector index and the job queue.
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// buildDSN appends verify-ca SSL params when a root cert is configured.
func buildDSN(databaseURL, sslCertPath string) (string, error) {
	if databaseURL == "" {
		return "", fmt.Errorf("DATABASE_URL is empty")
	}
	if sslCertPath == "" {
		return databaseURL, nil
	}
	if _, err := os.Stat(sslCertPath); err != nil {
		return "", fmt.Errorf("ssl cert not accessible at %q: %w", sslCertPath, err)
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	q := u.Query()
	q.Set("sslmode", "verify-ca")
	q.Set("sslrootcert", sslCertPath)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// DB exposes the pool for the other Postgres-backed adapters.
func (c *DatabaseClient) DB() *sql.DB { return c.db }

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Implementing the db interface for user

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	const q = `
		INSERT INTO users (id, first_name, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`
	_, err := c.db.ExecContext(ctx, q, user.ID, user.FirstName, user.Email, user.PasswordHash)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("email %s: %w", user.Email, core.ErrConflict)
	}
	return err
}

func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, first_name, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, q, email).Scan(
		&u.ID, &u.FirstName, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Implementing the db interface for Document

const documentColumns = `
	id, user_id, file_name, blob_handle, content_type, size_bytes, status,
	page_count, chunk_count, error_detail, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.UserID, &d.FileName, &d.BlobHandle, &d.ContentType, &d.SizeBytes, &d.Status,
		&d.PageCount, &d.ChunkCount, &d.ErrorDetail, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if !doc.Status.Valid() {
		return fmt.Errorf("%w: status %q", core.ErrInvalidInput, doc.Status)
	}
	const q = `
		INSERT INTO documents
			(id, user_id, file_name, blob_handle, content_type, size_bytes, status, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at
	`
	return c.db.QueryRowContext(ctx, q,
		doc.ID, doc.UserID, doc.FileName, doc.BlobHandle, doc.ContentType, doc.SizeBytes, string(doc.Status),
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
}

// GetDocumentByID returns ErrNotFound for a missing id and for an id owned
// by someone else.
func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id, ownerID string) (*models.Document, error) {
	if !isUUID(id) || !isUUID(ownerID) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 AND user_id = $2`
	d, err := scanDocument(c.db.QueryRowContext(ctx, q, id, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return d, err
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, ownerID string) ([]models.Document, error) {
	if !isUUID(ownerID) {
		return nil, nil
	}
	q := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpdateDocumentStatus writes the status together with its counts or error
// detail. The error detail is cleared on any status other than failed.
func (c *DatabaseClient) UpdateDocumentStatus(ctx context.Context, id, ownerID string, upd models.StatusUpdate) (*models.Document, error) {
	if !upd.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", core.ErrInvalidInput, upd.Status)
	}
	if !isUUID(id) || !isUUID(ownerID) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	q := `
		UPDATE documents
		SET status = $3,
		    page_count = COALESCE($4, page_count),
		    chunk_count = COALESCE($5, chunk_count),
		    error_detail = CASE WHEN $3 = 'failed' THEN COALESCE($6, error_detail) ELSE NULL END,
		    updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING ` + documentColumns
	d, err := scanDocument(c.db.QueryRowContext(ctx, q,
		id, ownerID, string(upd.Status), upd.PageCount, upd.ChunkCount, upd.ErrorDetail,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return d, err
}

func (c *DatabaseClient) DeleteDocument(ctx context.Context, id, ownerID string) error {
	if !isUUID(id) || !isUUID(ownerID) {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	res, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("document %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// ValidateOwnership keeps the ids owned by ownerID, in input order, without duplicates.
func (c *DatabaseClient) ValidateOwnership(ctx context.Context, ownerID string, ids []string) ([]string, error) {
	candidates := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 || !isUUID(ownerID) {
		return []string{}, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id FROM documents WHERE user_id = $1 AND id = ANY($2::uuid[])`, ownerID, candidates)
	if err != nil {
		return nil, fmt.Errorf("validate ownership: %w", err)
	}
	defer rows.Close()

	owned := make(map[string]struct{}, len(candidates))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owned[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orderedSubset(ids, owned), nil
}

// orderedSubset returns ids present in keep, in input order, each once.
func orderedSubset(ids []string, keep map[string]struct{}) []string {
	out := make([]string, 0, len(keep))
	seen := make(map[string]struct{}, len(keep))
	for _, id := range ids {
		if _, ok := keep[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
