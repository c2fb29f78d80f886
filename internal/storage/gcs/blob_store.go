// Package gcs provides an object store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/trailcam-archiver/internal/archive"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string
	// PublicBaseURL is prepended to object paths when set (CDN or custom domain).
	PublicBaseURL string
	// PredefinedACL is applied to each object, e.g. "publicRead". Empty leaves the bucket default.
	PredefinedACL string
}

// BlobStore writes objects to a configured GCS bucket.
type BlobStore struct {
	client  *storage.Client
	bucket  string
	baseURL string
	acl     string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &BlobStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: base,
		acl:     cfg.PredefinedACL,
	}, nil
}

// PutObject uploads r to the bucket and returns the public URL of the object.
func (s *BlobStore) PutObject(ctx context.Context, path string, meta archive.ObjectMeta, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if meta.ContentType != "" {
		writer.ContentType = meta.ContentType
	}
	if meta.CacheControl != "" {
		writer.CacheControl = meta.CacheControl
	}
	if s.acl != "" {
		writer.PredefinedACL = s.acl
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", classify(fmt.Errorf("copy object: %w (close writer: %w)", err, closeErr))
		}
		return "", classify(fmt.Errorf("copy object: %w", err))
	}
	if err := writer.Close(); err != nil {
		return "", classify(fmt.Errorf("close writer: %w", err))
	}
	return s.baseURL + "/" + path, nil
}

// classify marks failures that no retry can fix as fatal: an unreachable
// endpoint, bad credentials, or a missing bucket.
func classify(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %w", archive.ErrFatalConnectivity, err)
	}
	if errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("%w: %w", archive.ErrFatalConnectivity, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return fmt.Errorf("%w: %w", archive.ErrFatalConnectivity, err)
		}
	}
	return err
}
