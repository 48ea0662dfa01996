package objectclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"

	"github.com/markdave123-py/contexta/internal/core"
)

var _ core.BlobStore = (*GCSClient)(nil)

// GCSClient stores uploads in a Google Cloud Storage bucket.
type GCSClient struct {
	client *storage.Client
	bucket *storage.BucketHandle
	log    zerolog.Logger
}

func NewGCSClient(ctx context.Context, bucket string, log zerolog.Logger) (*GCSClient, error) {
	if bucket == "" {
		return nil, fmt.Errorf("GCS bucket name not set")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	log.Info().Str("bucket", bucket).Msg("gcs blob store ready")
	return &GCSClient{client: client, bucket: client.Bucket(bucket), log: log}, nil
}

// Upload writes only if the object does not exist yet; a retried upload of
// the same document is not a failure.
func (c *GCSClient) Upload(ctx context.Context, ownerID, documentID, filename string, data []byte, contentType string) (string, error) {
	key := ObjectKey(ownerID, documentID, filename)

	ctxUpload, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := c.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctxUpload)
	w.ContentType = contentType
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs upload failed: %w", err)
	}
	if err := w.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
			c.log.Debug().Str("key", key).Msg("object already exists, skipping upload")
			return key, nil
		}
		return "", fmt.Errorf("gcs finalize failed: %w", err)
	}
	return key, nil
}

func (c *GCSClient) Download(ctx context.Context, handle string) ([]byte, error) {
	ctxGet, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	r, err := c.bucket.Object(handle).NewReader(ctxGet)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("blob %q: %w", handle, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("gcs get failed: %w", err)
	}
	defer r.Close()

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Delete is idempotent: a missing object is not an error.
func (c *GCSClient) Delete(ctx context.Context, handle, ownerID string) error {
	if err := checkOwner(handle, ownerID); err != nil {
		return err
	}

	ctxDel, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	err := c.bucket.Object(handle).Delete(ctxDel)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed: %w", err)
	}
	return nil
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}
