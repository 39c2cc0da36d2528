package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
)

const defaultPresignTTL = 10 * time.Minute

type MinioStore struct {
	client *minio.Client
}

func NewMinioStore(client *minio.Client) (*MinioStore, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	return &MinioStore{client: client}, nil
}

func (s *MinioStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	if s == nil || s.client == nil {
		return ObjectInfo{}, errors.New("minio store not initialized")
	}
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, fmt.Errorf("%s/%s: %w", bucket, key, ErrObjectNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	return ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

// PresignPut signs a PUT. A content type in opts is part of the signature.
func (s *MinioStore) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration, opts PutOptions) (PresignedRequest, error) {
	if s == nil || s.client == nil {
		return PresignedRequest{}, errors.New("minio store not initialized")
	}
	headers := http.Header{}
	if opts.ContentType != "" {
		headers.Set("Content-Type", opts.ContentType)
	}
	u, err := s.client.PresignHeader(ctx, http.MethodPut, bucket, key, presignTTL(ttl), nil, headers)
	if err != nil {
		return PresignedRequest{}, fmt.Errorf("presign put %s/%s: %w", bucket, key, err)
	}
	out := PresignedRequest{URL: u.String()}
	if len(headers) > 0 {
		out.Headers = make(map[string]string, len(headers))
		for name := range headers {
			out.Headers[name] = headers.Get(name)
		}
	}
	return out, nil
}

func (s *MinioStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration, opts GetOptions) (string, error) {
	if s == nil || s.client == nil {
		return "", errors.New("minio store not initialized")
	}
	u, err := s.client.PresignedGetObject(ctx, bucket, key, presignTTL(ttl), responseParams(opts))
	if err != nil {
		return "", fmt.Errorf("presign get %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

func responseParams(opts GetOptions) url.Values {
	if opts.Filename == "" {
		return nil
	}
	disposition := "attachment"
	if opts.Inline {
		disposition = "inline"
	}
	return url.Values{
		"response-content-disposition": {mime.FormatMediaType(disposition, map[string]string{"filename": opts.Filename})},
	}
}

func presignTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultPresignTTL
	}
	// S3 rejects presigned URLs valid for more than seven days.
	if ttl > 7*24*time.Hour {
		return 7 * 24 * time.Hour
	}
	return ttl
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return false
}
