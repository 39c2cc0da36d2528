package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
)

func ParsePriority(value string) (Priority, error) {
	switch foldKey(value) {
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("unknown priority %q", value)
	}
}

type CaseStatus string

const (
	CaseStatusDraft      CaseStatus = "Draft"
	CaseStatusActive     CaseStatus = "Active"
	CaseStatusDeprecated CaseStatus = "Deprecated"
)

func ParseCaseStatus(value string) (CaseStatus, error) {
	switch foldKey(value) {
	case "draft", "":
		return CaseStatusDraft, nil
	case "active":
		return CaseStatusActive, nil
	case "deprecated":
		return CaseStatusDeprecated, nil
	default:
		return "", fmt.Errorf("unknown case status %q", value)
	}
}

type CaseType string

const (
	CaseTypeFunctional  CaseType = "Functional"
	CaseTypeRegression  CaseType = "Regression"
	CaseTypeIntegration CaseType = "Integration"
	CaseTypePerformance CaseType = "Performance"
	CaseTypeSecurity    CaseType = "Security"
)

func ParseCaseType(value string) (CaseType, error) {
	switch foldKey(value) {
	case "functional", "":
		return CaseTypeFunctional, nil
	case "regression":
		return CaseTypeRegression, nil
	case "integration":
		return CaseTypeIntegration, nil
	case "performance":
		return CaseTypePerformance, nil
	case "security":
		return CaseTypeSecurity, nil
	default:
		return "", fmt.Errorf("unknown case type %q", value)
	}
}

// TestCase is a live, editable test definition. Runs never hold a TestCase
// directly; they freeze a CaseSnapshot instead.
type TestCase struct {
	ID             string
	ProjectID      string
	SuiteID        string
	Title          string
	Description    string
	Steps          []string
	ExpectedResult string
	Priority       Priority
	Status         CaseStatus
	Type           CaseType
	Module         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CreatedBy      string
}

func (c TestCase) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("case id is required")
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(c.SuiteID) == "" {
		return errors.New("suite id is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("case title is required")
	}
	if _, err := ParsePriority(string(c.Priority)); err != nil || c.Priority == "" {
		return fmt.Errorf("invalid priority %q", c.Priority)
	}
	if _, err := ParseCaseStatus(string(c.Status)); err != nil || c.Status == "" {
		return fmt.Errorf("invalid case status %q", c.Status)
	}
	if _, err := ParseCaseType(string(c.Type)); err != nil || c.Type == "" {
		return fmt.Errorf("invalid case type %q", c.Type)
	}
	for i, step := range c.Steps {
		if strings.TrimSpace(step) == "" {
			return fmt.Errorf("step %d is empty", i+1)
		}
	}
	return nil
}

// Executable reports whether the case may be selected for a run.
func (c TestCase) Executable() bool {
	return c.Status == CaseStatusActive
}

// CaseSnapshot is the frozen content of a test case at execution time.
type CaseSnapshot struct {
	CaseID         string    `json:"case_id"`
	SuiteID        string    `json:"suite_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Steps          []string  `json:"steps"`
	ExpectedResult string    `json:"expected_result,omitempty"`
	Priority       Priority  `json:"priority"`
	Type           CaseType  `json:"type,omitempty"`
	Module         string    `json:"module,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Snapshot deep-copies the case so later edits never reach a run.
func (c TestCase) Snapshot(at time.Time) CaseSnapshot {
	steps := make([]string, len(c.Steps))
	copy(steps, c.Steps)
	return CaseSnapshot{
		CaseID:         c.ID,
		SuiteID:        c.SuiteID,
		Title:          c.Title,
		Description:    c.Description,
		Steps:          steps,
		ExpectedResult: c.ExpectedResult,
		Priority:       c.Priority,
		Type:           c.Type,
		Module:         c.Module,
		CapturedAt:     utcOrNow(at),
	}
}

func (s CaseSnapshot) Clone() CaseSnapshot {
	out := s
	out.Steps = make([]string, len(s.Steps))
	copy(out.Steps, s.Steps)
	return out
}
