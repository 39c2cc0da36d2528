package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

func ParseSeverity(value string) (Severity, error) {
	switch foldKey(value) {
	case "low":
		return SeverityLow, nil
	case "medium", "":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return "", fmt.Errorf("unknown severity %q", value)
	}
}

// SeverityForPriority seeds a defect severity from the failing case's priority.
func SeverityForPriority(p Priority) Severity {
	switch p {
	case PriorityHigh:
		return SeverityHigh
	case PriorityLow:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

type DefectStatus string

const (
	DefectStatusOpen       DefectStatus = "Open"
	DefectStatusInProgress DefectStatus = "In Progress"
	DefectStatusResolved   DefectStatus = "Resolved"
	DefectStatusClosed     DefectStatus = "Closed"
)

func ParseDefectStatus(value string) (DefectStatus, error) {
	switch foldKey(value) {
	case "open", "":
		return DefectStatusOpen, nil
	case "inprogress":
		return DefectStatusInProgress, nil
	case "resolved", "fixed":
		return DefectStatusResolved, nil
	case "closed":
		return DefectStatusClosed, nil
	default:
		return "", fmt.Errorf("unknown defect status %q", value)
	}
}

// CanTransitionDefect enforces Open -> In Progress -> Resolved -> Closed with
// reopen from Resolved or Closed.
func CanTransitionDefect(current, next DefectStatus) bool {
	if current == next {
		return true
	}
	switch current {
	case DefectStatusOpen:
		return next == DefectStatusInProgress || next == DefectStatusResolved
	case DefectStatusInProgress:
		return next == DefectStatusResolved || next == DefectStatusOpen
	case DefectStatusResolved:
		return next == DefectStatusClosed || next == DefectStatusOpen
	case DefectStatusClosed:
		return next == DefectStatusOpen
	default:
		return false
	}
}

type Defect struct {
	ID          string
	ProjectID   string
	CaseID      string
	RunID       string
	Title       string
	Description string
	Severity    Severity
	Status      DefectStatus
	AssignedTo  string
	EvidenceRef string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CreatedBy   string
}

func (d Defect) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("defect id is required")
	}
	if strings.TrimSpace(d.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(d.Title) == "" {
		return errors.New("defect title is required")
	}
	if strings.TrimSpace(d.Description) == "" {
		return errors.New("defect description is required")
	}
	if _, err := ParseSeverity(string(d.Severity)); err != nil || d.Severity == "" {
		return fmt.Errorf("invalid severity %q", d.Severity)
	}
	if _, err := ParseDefectStatus(string(d.Status)); err != nil || d.Status == "" {
		return fmt.Errorf("invalid defect status %q", d.Status)
	}
	if strings.TrimSpace(d.RunID) != "" && strings.TrimSpace(d.CaseID) == "" {
		return errors.New("run-linked defect requires a case id")
	}
	return nil
}

func (d Defect) IsOpen() bool {
	return d.Status == DefectStatusOpen || d.Status == DefectStatusInProgress
}
