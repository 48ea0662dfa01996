package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/contexta/internal/models"
)

const (
	DefaultVisibilityTimeout = 10 * time.Minute
	DefaultPollInterval      = time.Second
)

// PostgresOptions extends Options with the polling knobs.
//
// VisibilityTimeout: a running job not acked within this window is redelivered.
// PollInterval:      sleep between empty reservation attempts.
type PostgresOptions struct {
	Options
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
}

// PostgresQueue stores jobs in the ingest_jobs table and hands them out with
// FOR UPDATE SKIP LOCKED, so any number of workers can share it.
type PostgresQueue struct {
	db   *sql.DB
	opts PostgresOptions
}

func NewPostgresQueue(db *sql.DB, opts PostgresOptions) (*PostgresQueue, error) {
	if db == nil {
		return nil, errors.New("queue: nil db")
	}
	opts.Options = opts.Options.withDefaults()
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &PostgresQueue{db: db, opts: opts}, nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, job models.IngestJob) error {
	raw, err := job.Encode()
	if err != nil {
		return err
	}
	const stmt = `
		INSERT INTO ingest_jobs (id, payload, status, attempts, max_attempts, available_at)
		VALUES ($1, $2::jsonb, 'queued', 0, $3, now())
	`
	if _, err := q.db.ExecContext(ctx, stmt, uuid.NewString(), string(raw), q.opts.MaxAttempts); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Reserve polls until a job is available or ctx is done.
func (q *PostgresQueue) Reserve(ctx context.Context) (*models.Delivery, error) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	for {
		d, err := q.tryReserve(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *PostgresQueue) tryReserve(ctx context.Context) (*models.Delivery, error) {
	const stmt = `
		UPDATE ingest_jobs
		SET status = 'running', attempts = attempts + 1, locked_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM ingest_jobs
			WHERE (status = 'queued' AND available_at <= now())
			   OR (status = 'running' AND locked_at < now() - make_interval(secs => $1))
			ORDER BY available_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, payload, attempts, max_attempts
	`
	var d models.Delivery
	err := q.db.QueryRowContext(ctx, stmt, q.opts.VisibilityTimeout.Seconds()).
		Scan(&d.ID, &d.Payload, &d.Attempt, &d.MaxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reserve job: %w", err)
	}
	return &d, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, d *models.Delivery) error {
	const stmt = `
		UPDATE ingest_jobs SET status = 'done', locked_at = NULL, updated_at = now()
		WHERE id = $1
	`
	return q.exec(ctx, "ack", stmt, d.ID)
}

func (q *PostgresQueue) Retry(ctx context.Context, d *models.Delivery, cause error) (bool, error) {
	if d.LastAttempt() {
		return false, q.Kill(ctx, d, cause)
	}
	const stmt = `
		UPDATE ingest_jobs
		SET status = 'queued', locked_at = NULL, last_error = $2,
		    available_at = now() + make_interval(secs => $3), updated_at = now()
		WHERE id = $1
	`
	delay := Backoff(q.opts.Backoff, d.Attempt)
	if err := q.exec(ctx, "retry", stmt, d.ID, errText(cause), delay.Seconds()); err != nil {
		return false, err
	}
	return true, nil
}

func (q *PostgresQueue) Kill(ctx context.Context, d *models.Delivery, cause error) error {
	const stmt = `
		UPDATE ingest_jobs
		SET status = 'dead', locked_at = NULL, last_error = $2, updated_at = now()
		WHERE id = $1
	`
	return q.exec(ctx, "kill", stmt, d.ID, errText(cause))
}

func (q *PostgresQueue) exec(ctx context.Context, op, stmt string, args ...any) error {
	res, err := q.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("%s job: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s job %v: not found", op, args[0])
	}
	return nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
