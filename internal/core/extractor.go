package core

import (
	"context"

	"github.com/markdave123-py/contexta/internal/models"
)

// TextExtractor defines the interface for pulling plain text out of an uploaded file.
type TextExtractor interface {
	// Extract returns the full text of every page plus the page count.
	// Unreadable input or input without text yields ErrUnprocessableContent.
	Extract(ctx context.Context, data []byte, contentType string) (*models.ExtractedText, error)
}
