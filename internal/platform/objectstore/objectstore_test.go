package objectstore

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:       "localhost:9000",
		AccessKey:      "a",
		SecretKey:      "b",
		Region:         "us-east-1",
		BucketEvidence: "evidence",
		PresignTTL:     10 * time.Minute,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	invalid = valid
	invalid.PresignTTL = 0
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for zero ttl")
	}
}

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.BucketEvidence != "evidence" {
		t.Fatalf("BucketEvidence=%q, want evidence", cfg.BucketEvidence)
	}
}

func TestConfigFromEnv_EvidenceBucketRules(t *testing.T) {
	t.Setenv("QA_EVIDENCE_CORS_ORIGINS", "https://qa.example.com, http://localhost:5173")
	t.Setenv("QA_EVIDENCE_RETENTION_DAYS", "90")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://localhost:5173" || cfg.RetentionDays != 90 {
		t.Fatalf("cfg=%+v", cfg)
	}

	c := corsConfig(cfg)
	if c == nil || len(c.CORSRules) != 1 {
		t.Fatalf("cors=%+v", c)
	}
	rule := c.CORSRules[0]
	if len(rule.AllowedOrigin) != 2 || rule.AllowedMethod[1] != "PUT" || rule.AllowedHeader[0] != "Content-Type" {
		t.Fatalf("rule=%+v", rule)
	}

	lc := retentionConfig(cfg)
	if lc == nil || len(lc.Rules) != 1 || int(lc.Rules[0].Expiration.Days) != 90 || lc.Rules[0].ID != evidenceRetentionRuleID {
		t.Fatalf("lifecycle=%+v", lc)
	}
}

func TestBucketRules_DisabledByDefault(t *testing.T) {
	cfg := Config{}
	if corsConfig(cfg) != nil || retentionConfig(cfg) != nil {
		t.Fatalf("expected no bucket rules")
	}
}

func TestConfigValidate_Origins(t *testing.T) {
	cfg := Config{
		Endpoint:       "localhost:9000",
		AccessKey:      "a",
		SecretKey:      "b",
		Region:         "us-east-1",
		BucketEvidence: "evidence",
		PresignTTL:     time.Minute,
		CORSOrigins:    []string{"qa.example.com"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for origin without scheme")
	}
	cfg.CORSOrigins = []string{"*"}
	cfg.RetentionDays = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative retention")
	}
}
