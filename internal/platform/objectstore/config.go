package objectstore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/qadash/internal/platform/env"
)

type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketEvidence string
	PresignTTL     time.Duration
	// CORSOrigins may upload and download evidence straight from a browser.
	CORSOrigins []string
	// RetentionDays expires evidence objects after that many days. Zero keeps
	// them forever.
	RetentionDays int
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("QA_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	presignTTL, err := env.Duration("QA_EVIDENCE_PRESIGN_TTL", 15*time.Minute)
	if err != nil {
		return Config{}, err
	}
	retentionDays, err := env.Int("QA_EVIDENCE_RETENTION_DAYS", 0)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       env.String("QA_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("QA_MINIO_ACCESS_KEY", "qadash"),
		SecretKey:      env.String("QA_MINIO_SECRET_KEY", "qadashminio"),
		Region:         env.String("QA_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketEvidence: env.String("QA_MINIO_BUCKET_EVIDENCE", "evidence"),
		PresignTTL:     presignTTL,
		CORSOrigins:    env.CSV("QA_EVIDENCE_CORS_ORIGINS", nil),
		RetentionDays:  retentionDays,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.BucketEvidence) == "" {
		return errors.New("evidence bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	if c.PresignTTL <= 0 || c.PresignTTL > 7*24*time.Hour {
		return errors.New("presign ttl must be within (0, 168h]")
	}
	if c.RetentionDays < 0 {
		return errors.New("evidence retention days must be >= 0")
	}
	for _, origin := range c.CORSOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("cors origin must be * or an http(s) origin: %q", origin)
		}
	}
	return nil
}
