// Package queue provides at-least-once delivery of ingestion jobs.
package queue

import (
	"time"

	"github.com/markdave123-py/contexta/internal/core"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 2 * time.Second
	maxBackoff         = 10 * time.Minute
)

// Options tunes retry behaviour shared by every queue implementation.
//
// MaxAttempts: deliveries before a job is dead-lettered.
// Backoff:     delay before the second attempt; doubles on each retry.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	return o
}

// Backoff returns the delay after a failed attempt: base * 2^(attempt-1), capped.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

var (
	_ core.JobQueue = (*MemoryQueue)(nil)
	_ core.JobQueue = (*PostgresQueue)(nil)
)
