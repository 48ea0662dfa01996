package models

import (
	"time"
)

// DocumentStatus is the processing state of an uploaded document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether no further pipeline transition is expected.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// User represents an authenticated user of the system.
type User struct {
	ID           string    `db:"id" json:"id"`
	FirstName    string    `db:"first_name" json:"first_name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Document represents a user-uploaded PDF and its processing state.
type Document struct {
	ID          string         `db:"id" json:"id"`
	UserID      string         `db:"user_id" json:"user_id"`
	FileName    string         `db:"file_name" json:"file_name"`
	BlobHandle  string         `db:"blob_handle" json:"-"`
	ContentType string         `db:"content_type" json:"content_type"`
	SizeBytes   int64          `db:"size_bytes" json:"size_bytes"`
	Status      DocumentStatus `db:"status" json:"status"`
	PageCount   *int           `db:"page_count" json:"page_count"`
	ChunkCount  *int           `db:"chunk_count" json:"chunk_count"`
	ErrorDetail *string        `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// StatusUpdate carries the fields written together with a status flip.
// Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	Status      DocumentStatus
	PageCount   *int
	ChunkCount  *int
	ErrorDetail *string
}

// Processing builds the update issued when a job picks a document up.
func Processing() StatusUpdate {
	return StatusUpdate{Status: StatusProcessing}
}

// Completed builds the success update; counts are written with the status.
func Completed(pageCount, chunkCount int) StatusUpdate {
	return StatusUpdate{Status: StatusCompleted, PageCount: &pageCount, ChunkCount: &chunkCount}
}

// Failed builds the failure update carrying the error message.
func Failed(detail string) StatusUpdate {
	return StatusUpdate{Status: StatusFailed, ErrorDetail: &detail}
}

// Chunk is one piece of a document produced by the chunker.
//
// Text:          chunk content including any prepended overlap.
// Length:        character (rune) length of Text.
// Overlap:       rune length of the prefix copied from the previous chunk.
// SequenceIndex: zero-based position inside the document.
// TotalChunks:   number of chunks the document produced.
type Chunk struct {
	Text          string
	Length        int
	Overlap       int
	SequenceIndex int
	TotalChunks   int
}

// VectorPayload is the metadata stored next to every embedding.
// The JSON shape is a storage contract shared by every writer of a collection.
type VectorPayload struct {
	Text             string `json:"text"`
	OwnerID          string `json:"ownerId"`
	SourceDocumentID string `json:"sourceDocumentId,omitempty"`
	SequenceIndex    int    `json:"sequenceIndex"`
	TotalChunks      int    `json:"totalChunks"`
}

// VectorRecord is one embedding plus its payload.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   VectorPayload
}

// ScoredChunk is a search hit; higher Score is more relevant.
type ScoredChunk struct {
	Payload VectorPayload `json:"payload"`
	Score   float64       `json:"score"`
}

// ExtractedText is the plain text of a whole document.
type ExtractedText struct {
	Text      string
	PageCount int
}
