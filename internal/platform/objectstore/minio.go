package objectstore

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/cors"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
)

const evidenceRetentionRuleID = "qadash-evidence-retention"

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// EnsureBuckets creates the evidence bucket when it does not exist yet and
// applies the configured CORS and retention rules.
func EnsureBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	exists, err := client.BucketExists(ctx, cfg.BucketEvidence)
	if err != nil {
		return fmt.Errorf("evidence bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketEvidence, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return fmt.Errorf("ensure evidence bucket: %w", err)
		}
	}
	if rules := corsConfig(cfg); rules != nil {
		if err := client.SetBucketCors(ctx, cfg.BucketEvidence, rules); err != nil {
			return fmt.Errorf("evidence bucket cors: %w", err)
		}
	}
	if rules := retentionConfig(cfg); rules != nil {
		if err := client.SetBucketLifecycle(ctx, cfg.BucketEvidence, rules); err != nil {
			return fmt.Errorf("evidence bucket lifecycle: %w", err)
		}
	}
	return nil
}

func CheckBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	exists, err := client.BucketExists(ctx, cfg.BucketEvidence)
	if err != nil {
		return fmt.Errorf("evidence bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("evidence bucket missing: %s", cfg.BucketEvidence)
	}
	return nil
}

// corsConfig lets the listed origins PUT evidence with a presigned URL and
// fetch it back. Nil means leave the bucket's CORS alone.
func corsConfig(cfg Config) *cors.Config {
	if len(cfg.CORSOrigins) == 0 {
		return nil
	}
	return cors.NewConfig([]cors.Rule{{
		ID:            "qadash-evidence",
		AllowedOrigin: cfg.CORSOrigins,
		AllowedMethod: []string{http.MethodGet, http.MethodPut, http.MethodHead},
		AllowedHeader: []string{"Content-Type", "Content-Length"},
		ExposeHeader:  []string{"ETag"},
		MaxAgeSeconds: 3600,
	}})
}

// retentionConfig expires evidence after RetentionDays and clears abandoned
// multipart uploads after a day. Nil keeps objects forever.
func retentionConfig(cfg Config) *lifecycle.Configuration {
	if cfg.RetentionDays <= 0 {
		return nil
	}
	config := lifecycle.NewConfiguration()
	config.Rules = []lifecycle.Rule{{
		ID:     evidenceRetentionRuleID,
		Status: "Enabled",
		Expiration: lifecycle.Expiration{
			Days: lifecycle.ExpirationDays(cfg.RetentionDays),
		},
		AbortIncompleteMultipartUpload: lifecycle.AbortIncompleteMultipartUpload{
			DaysAfterInitiation: lifecycle.ExpirationDays(1),
		},
	}}
	return config
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
