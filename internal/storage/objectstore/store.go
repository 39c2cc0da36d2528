package objectstore

import (
	"context"
	"errors"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Store abstracts the S3-compatible operations evidence handling needs.
// Object bytes never pass through this service; clients upload and download
// with presigned URLs.
type Store interface {
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration, opts PutOptions) (PresignedRequest, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration, opts GetOptions) (string, error)
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
}

// PutOptions are signed into an upload URL. The uploader must send the same
// values or the store rejects the request.
type PutOptions struct {
	ContentType string
}

// GetOptions override response headers of a download URL.
type GetOptions struct {
	// Filename sets Content-Disposition so browsers show the original name.
	Filename string
	Inline   bool
}

// PresignedRequest is a URL plus the headers the caller has to send with it.
type PresignedRequest struct {
	URL     string
	Headers map[string]string
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}
