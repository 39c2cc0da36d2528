// Package rollup derives run level aggregates from persisted results.
package rollup

import (
	"sort"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
)

// CaseOutcome is one line of a run summary.
type CaseOutcome struct {
	CaseID      string          `json:"case_id"`
	Position    int             `json:"position"`
	Title       string          `json:"title"`
	Priority    domain.Priority `json:"priority,omitempty"`
	Status      domain.Outcome  `json:"status"`
	Remarks     string          `json:"remarks,omitempty"`
	DefectID    string          `json:"defect_id,omitempty"`
	EvidenceRef string          `json:"evidence_ref,omitempty"`
	ExecutedAt  time.Time       `json:"executed_at"`
	// CaseMissing is set by ResolveLive when the case no longer exists.
	CaseMissing bool `json:"case_missing,omitempty"`
}

type Summary struct {
	RunID     string        `json:"run_id"`
	Total     int           `json:"total"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Blocked   int           `json:"blocked"`
	Executed  int           `json:"executed"`
	Remaining int           `json:"remaining"`
	PassRate  float64       `json:"pass_rate"`
	Outcomes  []CaseOutcome `json:"outcomes"`
}

// Summarize counts only results that belong to run. Titles come from the
// frozen snapshots.
func Summarize(run domain.TestRun, results []domain.RunResult) Summary {
	own := make([]domain.RunResult, 0, len(results))
	for _, r := range results {
		if r.RunID == run.ID {
			own = append(own, r)
		}
	}
	sort.SliceStable(own, func(i, j int) bool { return own[i].Position < own[j].Position })

	counters := CountersFromResults(own)
	s := Summary{
		RunID:    run.ID,
		Total:    run.TotalCases,
		Passed:   counters.Passed,
		Failed:   counters.Failed,
		Blocked:  counters.Blocked,
		Executed: counters.Total(),
		PassRate: domain.PassRate(counters.Passed, run.TotalCases),
		Outcomes: make([]CaseOutcome, 0, len(own)),
	}
	if s.Total > s.Executed {
		s.Remaining = s.Total - s.Executed
	}
	for _, r := range own {
		s.Outcomes = append(s.Outcomes, OutcomeOf(r))
	}
	return s
}

// OutcomeOf renders one stored result with its snapshot title.
func OutcomeOf(r domain.RunResult) CaseOutcome {
	return CaseOutcome{
		CaseID:      r.CaseID,
		Position:    r.Position,
		Title:       r.Snapshot.Title,
		Priority:    r.Snapshot.Priority,
		Status:      r.Status,
		Remarks:     r.Remarks,
		DefectID:    r.DefectID,
		EvidenceRef: r.EvidenceRef,
		ExecutedAt:  r.ExecutedAt,
	}
}

// ResolveLive prefers the current title of cases that still exist and flags
// those that were deleted. The snapshot title is kept for missing cases.
func (s *Summary) ResolveLive(live map[string]domain.TestCase) {
	for i := range s.Outcomes {
		tc, ok := live[s.Outcomes[i].CaseID]
		if !ok {
			s.Outcomes[i].CaseMissing = true
			continue
		}
		if tc.Title != "" {
			s.Outcomes[i].Title = tc.Title
		}
	}
}

// Complete reports whether every selected case has an outcome.
func (s Summary) Complete() bool {
	return s.Total > 0 && s.Executed == s.Total
}

func CountersFromResults(results []domain.RunResult) domain.Counters {
	var c domain.Counters
	for _, r := range results {
		c = c.Add(r.Status)
	}
	return c
}

// Reconcile recomputes the counters of run from its results and reports
// whether the persisted counters diverge.
func Reconcile(run domain.TestRun, results []domain.RunResult) (domain.Counters, bool) {
	own := make([]domain.RunResult, 0, len(results))
	for _, r := range results {
		if r.RunID == run.ID {
			own = append(own, r)
		}
	}
	computed := CountersFromResults(own)
	return computed, computed != run.Counters()
}
