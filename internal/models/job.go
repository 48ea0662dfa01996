package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrPoisonMessage marks a queue message that can never be processed.
var ErrPoisonMessage = errors.New("poison message")

const (
	IngestJobType    = "ingest.pdf"
	IngestJobVersion = 1
)

// IngestJob is the queue payload for one document ingestion.
type IngestJob struct {
	Type             string `json:"type"`
	Version          int    `json:"version"`
	OwnerID          string `json:"ownerId"`
	DocumentID       string `json:"documentId"`
	BlobHandle       string `json:"blobHandle"`
	OriginalFilename string `json:"originalFilename"`
}

// NewIngestJob returns a tagged payload for the given document.
func NewIngestJob(ownerID, documentID, blobHandle, filename string) IngestJob {
	return IngestJob{
		Type:             IngestJobType,
		Version:          IngestJobVersion,
		OwnerID:          ownerID,
		DocumentID:       documentID,
		BlobHandle:       blobHandle,
		OriginalFilename: filename,
	}
}

// Validate checks the tag and required fields.
func (j IngestJob) Validate() error {
	if j.Type != IngestJobType {
		return fmt.Errorf("%w: unexpected job type %q", ErrPoisonMessage, j.Type)
	}
	if j.Version != IngestJobVersion {
		return fmt.Errorf("%w: unsupported job version %d", ErrPoisonMessage, j.Version)
	}
	var missing []string
	if strings.TrimSpace(j.OwnerID) == "" {
		missing = append(missing, "ownerId")
	}
	if strings.TrimSpace(j.DocumentID) == "" {
		missing = append(missing, "documentId")
	}
	if strings.TrimSpace(j.BlobHandle) == "" {
		missing = append(missing, "blobHandle")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrPoisonMessage, strings.Join(missing, ", "))
	}
	return nil
}

// Encode marshals a validated job.
func (j IngestJob) Encode() ([]byte, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// DecodeIngestJob parses and validates a raw queue payload. Every failure
// wraps ErrPoisonMessage so callers can dead-letter it without retrying.
func DecodeIngestJob(raw []byte) (IngestJob, error) {
	var j IngestJob
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&j); err != nil {
		return IngestJob{}, fmt.Errorf("%w: %v", ErrPoisonMessage, err)
	}
	if err := j.Validate(); err != nil {
		return IngestJob{}, err
	}
	return j, nil
}

// Delivery is a reserved queue message.
//
// Attempt starts at 1 for the first delivery.
type Delivery struct {
	ID          string
	Payload     []byte
	Attempt     int
	MaxAttempts int
}

// LastAttempt reports whether a failure of this delivery exhausts its retries.
func (d *Delivery) LastAttempt() bool {
	return d.MaxAttempts > 0 && d.Attempt >= d.MaxAttempts
}
