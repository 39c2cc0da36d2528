package domain

import (
	"errors"
	"strings"
	"time"
)

// Suite groups test cases. Suites form a tree through ParentSuiteID.
type Suite struct {
	ID            string
	ProjectID     string
	ParentSuiteID string
	Name          string
	Description   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CreatedBy     string
}

func (s Suite) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("suite id is required")
	}
	if strings.TrimSpace(s.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("suite name is required")
	}
	if strings.TrimSpace(s.ParentSuiteID) == strings.TrimSpace(s.ID) {
		return errors.New("suite cannot be its own parent")
	}
	return nil
}

func (s Suite) IsRoot() bool {
	return strings.TrimSpace(s.ParentSuiteID) == ""
}
