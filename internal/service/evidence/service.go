// Package evidence hands out presigned URLs for evidence files. The files
// live in an external object store; the rest of the system only keeps the
// opaque reference.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/storage/objectstore"
	"github.com/google/uuid"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnsupportedContent = errors.New("unsupported evidence content type")
)

const refScheme = "s3://"

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

type Service struct {
	store  objectstore.Store
	bucket string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func New(store objectstore.Store, bucket string, ttl time.Duration, logger *slog.Logger) *Service {
	if store == nil || strings.TrimSpace(bucket) == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, bucket: strings.TrimSpace(bucket), ttl: ttl, logger: logger, now: time.Now}
}

type Upload struct {
	Ref       string `json:"ref"`
	UploadURL string `json:"upload_url"`
	// Headers must accompany the PUT; they are part of the signature.
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type Download struct {
	Ref         string    `json:"ref"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	ContentType string    `json:"content_type,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
}

// allowedContent accepts images and PDFs only.
func allowedContent(contentType string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(contentType))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedContent, contentType)
	}
	if strings.HasPrefix(mediaType, "image/") || mediaType == "application/pdf" {
		return mediaType, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedContent, mediaType)
}

func (s *Service) objectKey(projectID, filename string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "._")
	if base == "" {
		base = "evidence"
	}
	if len(base) > 96 {
		base = base[len(base)-96:]
	}
	return path.Join(projectID, s.now().UTC().Format("2006/01"), uuid.NewString()+"-"+base)
}

// displayName strips the date prefix and the uuid objectKey puts in front of
// the uploaded file name.
func displayName(key string) string {
	base := path.Base(key)
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}

// PresignUpload reserves a key under the project and returns a URL the client
// PUTs the file to.
func (s *Service) PresignUpload(ctx context.Context, projectID, filename, contentType string) (Upload, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return Upload{}, fmt.Errorf("%w: project id is required", ErrInvalidInput)
	}
	mediaType, err := allowedContent(contentType)
	if err != nil {
		return Upload{}, err
	}
	key := s.objectKey(projectID, filename)
	req, err := s.store.PresignPut(ctx, s.bucket, key, s.ttl, objectstore.PutOptions{ContentType: mediaType})
	if err != nil {
		s.logger.Error("presign upload failed", "project_id", projectID, "key", key, "error", err)
		return Upload{}, fmt.Errorf("presign upload: %w", err)
	}
	return Upload{
		Ref:       refScheme + s.bucket + "/" + key,
		UploadURL: req.URL,
		Headers:   req.Headers,
		ExpiresAt: s.now().UTC().Add(s.ttl),
	}, nil
}

// ParseRef splits an evidence reference into bucket and key.
func ParseRef(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(ref), refScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: evidence ref must start with %s", ErrInvalidInput, refScheme)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: evidence ref %q has no key", ErrInvalidInput, ref)
	}
	return bucket, key, nil
}

// PresignDownload turns a reference owned by the project back into a
// time-limited URL.
func (s *Service) PresignDownload(ctx context.Context, projectID, ref string) (Download, error) {
	bucket, key, err := ParseRef(ref)
	if err != nil {
		return Download{}, err
	}
	if bucket != s.bucket || !strings.HasPrefix(key, strings.TrimSpace(projectID)+"/") {
		return Download{}, repo.ErrNotFound
	}
	info, err := s.store.Stat(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return Download{}, fmt.Errorf("%s: %w", ref, repo.ErrNotFound)
		}
		return Download{}, fmt.Errorf("stat evidence: %w", err)
	}
	url, err := s.store.PresignGet(ctx, bucket, key, s.ttl, objectstore.GetOptions{
		Filename: displayName(key),
		Inline:   strings.HasPrefix(info.ContentType, "image/") || info.ContentType == "application/pdf",
	})
	if err != nil {
		return Download{}, fmt.Errorf("presign download: %w", err)
	}
	return Download{
		Ref:         ref,
		DownloadURL: url,
		ExpiresAt:   s.now().UTC().Add(s.ttl),
		ContentType: info.ContentType,
		SizeBytes:   info.Size,
	}, nil
}
