package main

import (
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/execution/rollup"
	"github.com/animus-labs/qadash/internal/service/reports"
	"github.com/animus-labs/qadash/internal/suitetree"
)

type project struct {
	ProjectID   string    `json:"project_id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

func projectFromDomain(p domain.Project) project {
	return project{
		ProjectID:   p.ID,
		Name:        p.Name,
		Code:        p.Code,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		CreatedBy:   p.CreatedBy,
	}
}

type suite struct {
	SuiteID       string    `json:"suite_id"`
	ProjectID     string    `json:"project_id"`
	ParentSuiteID string    `json:"parent_suite_id,omitempty"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func suiteFromDomain(s domain.Suite) suite {
	return suite{
		SuiteID:       s.ID,
		ProjectID:     s.ProjectID,
		ParentSuiteID: s.ParentSuiteID,
		Name:          s.Name,
		Description:   s.Description,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}

type suiteNode struct {
	suite
	Depth    int         `json:"depth"`
	Children []suiteNode `json:"children"`
}

func suiteNodes(nodes []*suitetree.Node) []suiteNode {
	out := make([]suiteNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, suiteNode{suite: suiteFromDomain(n.Suite), Depth: n.Depth, Children: suiteNodes(n.Children)})
	}
	return out
}

type testCase struct {
	CaseID         string    `json:"case_id"`
	ProjectID      string    `json:"project_id"`
	SuiteID        string    `json:"suite_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Steps          []string  `json:"steps"`
	ExpectedResult string    `json:"expected_result,omitempty"`
	Priority       string    `json:"priority"`
	Status         string    `json:"status"`
	Type           string    `json:"type"`
	Module         string    `json:"module,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedBy      string    `json:"created_by,omitempty"`
}

func caseFromDomain(tc domain.TestCase) testCase {
	steps := tc.Steps
	if steps == nil {
		steps = []string{}
	}
	return testCase{
		CaseID:         tc.ID,
		ProjectID:      tc.ProjectID,
		SuiteID:        tc.SuiteID,
		Title:          tc.Title,
		Description:    tc.Description,
		Steps:          steps,
		ExpectedResult: tc.ExpectedResult,
		Priority:       string(tc.Priority),
		Status:         string(tc.Status),
		Type:           string(tc.Type),
		Module:         tc.Module,
		CreatedAt:      tc.CreatedAt,
		UpdatedAt:      tc.UpdatedAt,
		CreatedBy:      tc.CreatedBy,
	}
}

type testRun struct {
	RunID       string     `json:"run_id"`
	ProjectID   string     `json:"project_id"`
	SuiteID     string     `json:"suite_id"`
	Title       string     `json:"title,omitempty"`
	Status      string     `json:"status"`
	ExecutedBy  string     `json:"executed_by"`
	RunnerName  string     `json:"runner_name,omitempty"`
	TotalCases  int        `json:"total_cases"`
	Passed      int        `json:"passed"`
	Failed      int        `json:"failed"`
	Blocked     int        `json:"blocked"`
	PassRate    float64    `json:"pass_rate"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func runFromDomain(r domain.TestRun) testRun {
	return testRun{
		RunID:       r.ID,
		ProjectID:   r.ProjectID,
		SuiteID:     r.SuiteID,
		Title:       r.Title,
		Status:      string(r.Status),
		ExecutedBy:  r.ExecutedBy,
		RunnerName:  r.RunnerName,
		TotalCases:  r.TotalCases,
		Passed:      r.PassedCount,
		Failed:      r.FailedCount,
		Blocked:     r.BlockedCount,
		PassRate:    r.PassRate(),
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

type defect struct {
	DefectID    string    `json:"defect_id"`
	ProjectID   string    `json:"project_id"`
	CaseID      string    `json:"case_id,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	Status      string    `json:"status"`
	AssignedTo  string    `json:"assigned_to,omitempty"`
	EvidenceRef string    `json:"evidence_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
}

func defectFromDomain(d domain.Defect) defect {
	return defect{
		DefectID:    d.ID,
		ProjectID:   d.ProjectID,
		CaseID:      d.CaseID,
		RunID:       d.RunID,
		Title:       d.Title,
		Description: d.Description,
		Severity:    string(d.Severity),
		Status:      string(d.Status),
		AssignedTo:  d.AssignedTo,
		EvidenceRef: d.EvidenceRef,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		CreatedBy:   d.CreatedBy,
	}
}

type runReport struct {
	Run      testRun         `json:"run"`
	Summary  rollup.Summary  `json:"summary"`
	Defects  []defect        `json:"defects"`
	Computed domain.Counters `json:"computed_counters"`
	Drift    bool            `json:"counter_drift"`
	Pending  bool            `json:"completion_pending"`
}

func reportFromService(r reports.RunReport) runReport {
	out := runReport{
		Run:      runFromDomain(r.Run),
		Summary:  r.Summary,
		Defects:  make([]defect, 0, len(r.Defects)),
		Computed: r.Computed,
		Drift:    r.Drift,
		Pending:  r.CompletionPending,
	}
	for _, d := range r.Defects {
		out.Defects = append(out.Defects, defectFromDomain(d))
	}
	return out
}

type reportShare struct {
	ShareID   string     `json:"share_id"`
	RunID     string     `json:"run_id"`
	Token     string     `json:"token"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
