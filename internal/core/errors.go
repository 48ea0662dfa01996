package core

import (
	"errors"

	"github.com/markdave123-py/contexta/internal/core/vectorindex"
	"github.com/markdave123-py/contexta/internal/models"
)

var (
	// ErrNotFound indicates a requested entity does not exist for the caller.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates an owner tried to touch another owner's data.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a unique value is already taken.
	ErrConflict = errors.New("already exists")

	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnsupportedMediaType indicates an upload that is not a PDF.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrNoDocumentsToSearch indicates none of the requested documents belong to the caller.
	ErrNoDocumentsToSearch = errors.New("no documents to search")

	// ErrUnprocessableContent indicates a file that no retry can fix (corrupt PDF, no text).
	ErrUnprocessableContent = errors.New("unprocessable content")

	// ErrMissingOwner indicates a vector filter or record without an owner id.
	ErrMissingOwner = vectorindex.ErrMissingOwner

	// ErrRateLimited indicates an upstream API throttled us. It is retryable.
	ErrRateLimited = errors.New("rate limited")

	// ErrNoCompletion indicates the model produced no usable answer: no
	// candidates, a blocked prompt, or a safety stop.
	ErrNoCompletion = errors.New("model returned no answer")

	// ErrQueueClosed indicates the job queue no longer accepts work.
	ErrQueueClosed = errors.New("queue closed")

	// ErrPoisonMessage indicates a queue payload that can never be processed.
	ErrPoisonMessage = models.ErrPoisonMessage
)

// IsTerminal reports whether err should not be retried by the job queue.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrUnprocessableContent) || errors.Is(err, ErrPoisonMessage)
}
