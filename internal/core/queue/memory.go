package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/contexta/internal/core"
	"github.com/markdave123-py/contexta/internal/models"
)

// DeadLetter is a job that will not be delivered again.
type DeadLetter struct {
	ID      string
	Payload []byte
	Attempt int
	Cause   string
}

type memEntry struct {
	id      string
	payload []byte
	attempt int
}

// MemoryQueue keeps jobs in a bounded channel (64 by default).
// Jobs are lost when the process exits; use PostgresQueue for durability.
type MemoryQueue struct {
	opts  Options
	ready chan *memEntry

	mu       sync.Mutex
	inflight map[string]*memEntry
	dead     []DeadLetter
	closed   bool
	done     chan struct{}
}

func NewMemoryQueue(capacity int, opts Options) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		opts:     opts.withDefaults(),
		ready:    make(chan *memEntry, capacity),
		inflight: make(map[string]*memEntry),
		done:     make(chan struct{}),
	}
}

// Enqueue blocks while the queue is full.
func (q *MemoryQueue) Enqueue(ctx context.Context, job models.IngestJob) error {
	raw, err := job.Encode()
	if err != nil {
		return err
	}
	return q.EnqueueRaw(ctx, raw)
}

// EnqueueRaw pushes an undecoded payload. Used to exercise poison handling.
func (q *MemoryQueue) EnqueueRaw(ctx context.Context, raw []byte) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return core.ErrQueueClosed
	}
	return q.push(ctx, &memEntry{id: uuid.NewString(), payload: raw})
}

func (q *MemoryQueue) push(ctx context.Context, e *memEntry) error {
	select {
	case q.ready <- e:
		return nil
	case <-q.done:
		return core.ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Reserve(ctx context.Context) (*models.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, core.ErrQueueClosed
	case e := <-q.ready:
		q.mu.Lock()
		e.attempt++
		q.inflight[e.id] = e
		q.mu.Unlock()
		return &models.Delivery{
			ID:          e.id,
			Payload:     e.payload,
			Attempt:     e.attempt,
			MaxAttempts: q.opts.MaxAttempts,
		}, nil
	}
}

func (q *MemoryQueue) Ack(_ context.Context, d *models.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.inflight[d.ID]; !ok {
		return fmt.Errorf("ack %s: %w", d.ID, core.ErrNotFound)
	}
	delete(q.inflight, d.ID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, d *models.Delivery, cause error) (bool, error) {
	q.mu.Lock()
	e, ok := q.inflight[d.ID]
	if !ok {
		q.mu.Unlock()
		return false, fmt.Errorf("retry %s: %w", d.ID, core.ErrNotFound)
	}
	delete(q.inflight, d.ID)
	if d.LastAttempt() {
		q.dead = append(q.dead, deadLetter(e, cause))
		q.mu.Unlock()
		return false, nil
	}
	q.mu.Unlock()

	time.AfterFunc(Backoff(q.opts.Backoff, e.attempt), func() {
		if err := q.push(context.Background(), e); err != nil {
			q.mu.Lock()
			q.dead = append(q.dead, deadLetter(e, err))
			q.mu.Unlock()
		}
	})
	return true, nil
}

func (q *MemoryQueue) Kill(_ context.Context, d *models.Delivery, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.inflight[d.ID]
	if !ok {
		return fmt.Errorf("kill %s: %w", d.ID, core.ErrNotFound)
	}
	delete(q.inflight, d.ID)
	q.dead = append(q.dead, deadLetter(e, cause))
	return nil
}

// Dead returns a copy of the dead-lettered jobs.
func (q *MemoryQueue) Dead() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Close stops deliveries. Pending jobs are dropped.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func deadLetter(e *memEntry, cause error) DeadLetter {
	dl := DeadLetter{ID: e.id, Payload: e.payload, Attempt: e.attempt}
	if cause != nil {
		dl.Cause = cause.Error()
	}
	return dl
}
