package domain

import (
	"errors"
	"strings"
	"time"
)

// ReportShare grants read access to one run report through an opaque token.
type ReportShare struct {
	ID        string
	ProjectID string
	RunID     string
	Token     string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt *time.Time
}

func (s ReportShare) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("share id is required")
	}
	if strings.TrimSpace(s.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(s.RunID) == "" {
		return errors.New("run id is required")
	}
	if len(strings.TrimSpace(s.Token)) < 16 {
		return errors.New("share token is too short")
	}
	return nil
}

func (s ReportShare) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}
