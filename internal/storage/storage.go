// Package storage abstracts the object store holding uploaded files. One
// Adapter is built at startup from configuration and injected wherever
// files are read or written.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/iliyamo/filevault/internal/config"
)

// ErrInvalidArgument is returned for empty paths or unsupported methods.
var ErrInvalidArgument = errors.New("storage: invalid argument")

// Adapter is the contract every backend implements.
type Adapter interface {
	// Put stores size bytes from r at path and returns the stored path.
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)
	// Delete removes the object at path.
	Delete(ctx context.Context, path string) error
	// Presign returns a URL granting method on path for ttl. For GET, a
	// non-empty filename becomes the download name.
	Presign(ctx context.Context, path string, ttl time.Duration, method, filename string) (string, error)
}

// New builds the backend selected by cfg.Provider.
func New(ctx context.Context, cfg config.StorageConfig) (Adapter, error) {
	switch cfg.Provider {
	case "s3":
		a, err := NewS3Adapter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "gcs":
		a, err := NewGCSAdapter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidArgument, cfg.Provider)
	}
}

// ContentDisposition renders an attachment header for filename. Non-ASCII
// names use the RFC 2231 extended form so browsers keep the original name.
func ContentDisposition(filename string) string {
	if filename == "" {
		return "attachment"
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}

func checkArgs(path, method string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidArgument)
	}
	switch method {
	case http.MethodGet, http.MethodPut:
		return nil
	}
	return fmt.Errorf("%w: unsupported method %q", ErrInvalidArgument, method)
}
