package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome is the single vocabulary for per-case results, in memory and in storage.
type Outcome string

const (
	OutcomePass    Outcome = "Pass"
	OutcomeFailed  Outcome = "Failed"
	OutcomeBlocked Outcome = "Blocked"
)

// ParseOutcome maps UI synonyms ("Issue", "Fail", "Not Run", ...) onto the
// canonical outcomes.
func ParseOutcome(value string) (Outcome, error) {
	switch foldKey(value) {
	case "pass", "passed", "ok":
		return OutcomePass, nil
	case "failed", "fail", "issue", "defect":
		return OutcomeFailed, nil
	case "blocked", "notrun", "skipped", "skip":
		return OutcomeBlocked, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", value)
	}
}

func (o Outcome) Valid() bool {
	switch o {
	case OutcomePass, OutcomeFailed, OutcomeBlocked:
		return true
	default:
		return false
	}
}

// RunResult is the persisted outcome of one case within one run.
type RunResult struct {
	ID           string
	RunID        string
	ProjectID    string
	CaseID       string
	Position     int
	Status       Outcome
	Remarks      string
	ActualResult string
	EvidenceRef  string
	DefectID     string
	Snapshot     CaseSnapshot
	ExecutedBy   string
	ExecutedAt   time.Time
}

func (r RunResult) Validate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(r.CaseID) == "" {
		return errors.New("case id is required")
	}
	if r.Position < 0 {
		return errors.New("position must be >= 0")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("invalid outcome %q", r.Status)
	}
	if r.Status == OutcomeFailed && strings.TrimSpace(r.DefectID) == "" {
		return errors.New("failed result requires a defect id")
	}
	if r.Status != OutcomeFailed && strings.TrimSpace(r.DefectID) != "" {
		return errors.New("only failed results may reference a defect")
	}
	if strings.TrimSpace(r.Snapshot.CaseID) != strings.TrimSpace(r.CaseID) {
		return errors.New("snapshot does not match case id")
	}
	return nil
}
