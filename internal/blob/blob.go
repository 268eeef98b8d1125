// Package blob fetches and stores raw input blobs (receipt images, CSV
// exports) by URI. Supported schemes: gs:// for Google Cloud Storage and
// plain paths for the local filesystem.
package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Store reads and writes blobs. The zero value is not usable; use NewStore.
type Store struct {
	client *storage.Client
	bucket string
}

// NewStore builds a Store against GCS using Application Default Credentials.
// bucket is the default bucket for Put; Fetch works across buckets via full
// gs:// URIs.
func NewStore(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		return nil, fmt.Errorf("blob: create storage client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Fetch downloads the bytes behind a URI. gs:// URIs hit GCS; anything else
// is treated as a local file path.
func (s *Store) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "gs://") {
		data, err := os.ReadFile(uri)
		if err != nil {
			return nil, fmt.Errorf("blob: read local file %q: %w", uri, err)
		}
		return data, nil
	}

	bucket, object, err := splitURI(uri)
	if err != nil {
		return nil, err
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: open object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("blob: read object %s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// Put uploads data under objectName in the default bucket and returns the
// gs:// URI.
func (s *Store) Put(ctx context.Context, objectName string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("blob: write object %q: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("blob: finalize object %q: %w", objectName, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectName), nil
}

// Filename extracts the bare filename from a gs:// URI or local path.
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if parts := strings.SplitN(trimmed, "/", 2); len(parts) == 2 {
		return path.Base(parts[1])
	}
	return path.Base(trimmed)
}

func splitURI(uri string) (bucket, object string, err error) {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("blob: invalid gcs uri %q", uri)
	}
	return parts[0], parts[1], nil
}
