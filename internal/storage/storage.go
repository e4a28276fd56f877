// Package storage holds the blob store used for downloadable assets and
// generated license documents.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

type BlobStore interface {
	Upload(ctx context.Context, bucket, path string, data []byte) error
	Download(ctx context.Context, bucket, path string) ([]byte, error)
	// CreateSignedURL returns a URL that grants read access to one object
	// until ttl elapses.
	CreateSignedURL(ctx context.Context, bucket, path string, ttl time.Duration) (string, error)
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}
