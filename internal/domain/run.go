package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type RunStatus string

const (
	RunStatusInProgress RunStatus = "In Progress"
	RunStatusCompleted  RunStatus = "Completed"
)

// NormalizeRunStatus maps free-form status values to canonical run statuses.
func NormalizeRunStatus(value string) RunStatus {
	switch foldKey(value) {
	case "inprogress", "running", "started":
		return RunStatusInProgress
	case "completed", "complete", "finished":
		return RunStatusCompleted
	default:
		return ""
	}
}

// TestRun is one execution pass over a frozen, ordered selection of cases.
type TestRun struct {
	ID           string
	ProjectID    string
	SuiteID      string
	Title        string
	Status       RunStatus
	ExecutedBy   string
	RunnerName   string
	TotalCases   int
	PassedCount  int
	FailedCount  int
	BlockedCount int
	StartedAt    time.Time
	CompletedAt  *time.Time
}

func (r TestRun) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(r.SuiteID) == "" {
		return errors.New("suite id is required")
	}
	if NormalizeRunStatus(string(r.Status)) == "" {
		return fmt.Errorf("invalid run status %q", r.Status)
	}
	if strings.TrimSpace(r.ExecutedBy) == "" {
		return errors.New("executed by is required")
	}
	if r.TotalCases < 1 {
		return errors.New("total cases must be >= 1")
	}
	if r.PassedCount < 0 || r.FailedCount < 0 || r.BlockedCount < 0 {
		return errors.New("counters must be >= 0")
	}
	if r.Counters().Total() > r.TotalCases {
		return fmt.Errorf("counters %d exceed total cases %d", r.Counters().Total(), r.TotalCases)
	}
	return nil
}

func (r TestRun) Counters() Counters {
	return Counters{Passed: r.PassedCount, Failed: r.FailedCount, Blocked: r.BlockedCount}
}

func (r TestRun) PassRate() float64 {
	return PassRate(r.PassedCount, r.TotalCases)
}

// Counters are the per-run outcome tallies.
type Counters struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
}

func (c Counters) Total() int {
	return c.Passed + c.Failed + c.Blocked
}

// Add returns c with the counter for outcome incremented.
func (c Counters) Add(outcome Outcome) Counters {
	switch outcome {
	case OutcomePass:
		c.Passed++
	case OutcomeFailed:
		c.Failed++
	case OutcomeBlocked:
		c.Blocked++
	}
	return c
}

// PassRate returns passed/total as a percentage rounded to one decimal and
// clamped to [0,100]. A run without cases has a pass rate of 0.
func PassRate(passed, total int) float64 {
	if total <= 0 || passed <= 0 {
		return 0
	}
	rate := float64(passed) / float64(total) * 100
	if rate > 100 {
		rate = 100
	}
	return math.Round(rate*10) / 10
}
