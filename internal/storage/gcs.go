package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/iliyamo/filevault/internal/config"
)

// GCSAdapter stores objects in Google Cloud Storage.
type GCSAdapter struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSAdapter creates the client from a service account file, or from
// application default credentials when no file is configured.
func NewGCSAdapter(ctx context.Context, cfg config.StorageConfig) (*GCSAdapter, error) {
	var opts []option.ClientOption
	if cfg.GCSCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSAdapter{client: client, bucket: client.Bucket(cfg.Bucket)}, nil
}

func (a *GCSAdapter) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	if path == "" || r == nil {
		return "", fmt.Errorf("%w: empty path or reader", ErrInvalidArgument)
	}
	w := a.bucket.Object(path).NewWriter(ctx)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}
	return path, nil
}

func (a *GCSAdapter) Delete(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	if err := a.bucket.Object(path).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

func (a *GCSAdapter) Presign(_ context.Context, path string, ttl time.Duration, method, filename string) (string, error) {
	if err := checkArgs(path, method); err != nil {
		return "", err
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(ttl),
	}
	if method == http.MethodGet && filename != "" {
		opts.QueryParameters = url.Values{"response-content-disposition": {ContentDisposition(filename)}}
	}
	u, err := a.bucket.SignedURL(path, opts)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return u, nil
}

// Close releases the underlying client.
func (a *GCSAdapter) Close() error { return a.client.Close() }
