package repo

import (
	"context"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
)

type ProjectFilter struct {
	Name  string
	Limit int
}

type CaseFilter struct {
	ProjectID string
	SuiteID   string
	Status    domain.CaseStatus
	Priority  domain.Priority
	Module    string
	Limit     int
}

type RunFilter struct {
	ProjectID string
	SuiteID   string
	Status    domain.RunStatus
	Since     time.Time
	Limit     int
}

type ResultFilter struct {
	ProjectID string
	Since     time.Time
	Limit     int
}

type DefectFilter struct {
	ProjectID string
	RunID     string
	CaseID    string
	Status    domain.DefectStatus
	Severity  domain.Severity
	Limit     int
}

// ProjectRepository manages projects.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]domain.Project, error)
	UpdateProject(ctx context.Context, project domain.Project) error
	DeleteProject(ctx context.Context, id string) error
}

// SuiteRepository stores suites flat; hierarchy is computed by suitetree.
type SuiteRepository interface {
	CreateSuite(ctx context.Context, suite domain.Suite) error
	GetSuite(ctx context.Context, projectID, id string) (domain.Suite, error)
	ListSuites(ctx context.Context, projectID string) ([]domain.Suite, error)
	UpdateSuite(ctx context.Context, suite domain.Suite) error
	DeleteSuite(ctx context.Context, projectID, id string) error
}

// CaseRepository is the authoritative list of test cases.
type CaseRepository interface {
	CreateCase(ctx context.Context, tc domain.TestCase) error
	GetCase(ctx context.Context, projectID, id string) (domain.TestCase, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]domain.TestCase, error)
	UpdateCase(ctx context.Context, tc domain.TestCase) error
	DeleteCase(ctx context.Context, projectID, id string) error
	// ListActiveCasesBySuite returns Active cases of one suite ordered by
	// creation time then id.
	ListActiveCasesBySuite(ctx context.Context, projectID, suiteID string) ([]domain.TestCase, error)
}

// RunRepository manages test runs and their rollup counters.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.TestRun) (domain.TestRun, error)
	GetRun(ctx context.Context, projectID, id string) (domain.TestRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.TestRun, error)
	CompleteRun(ctx context.Context, projectID, id string, counters domain.Counters, completedAt time.Time) error
}

// ResultRepository is append-only. RecordResult inserts the result and bumps
// the owning run's matching counter in one atomic write. A repeated insert for
// the same (run, case) returns the stored result with inserted=false and
// leaves counters untouched.
type ResultRepository interface {
	RecordResult(ctx context.Context, result domain.RunResult) (stored domain.RunResult, inserted bool, err error)
	ListResultsByRun(ctx context.Context, projectID, runID string) ([]domain.RunResult, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]domain.RunResult, error)
}

// DefectRepository returns created identities directly.
type DefectRepository interface {
	CreateDefect(ctx context.Context, defect domain.Defect) (domain.Defect, error)
	GetDefect(ctx context.Context, projectID, id string) (domain.Defect, error)
	ListDefects(ctx context.Context, filter DefectFilter) ([]domain.Defect, error)
	UpdateDefect(ctx context.Context, defect domain.Defect) error
	DeleteDefect(ctx context.Context, projectID, id string) error
}

// ShareRepository manages report share tokens.
type ShareRepository interface {
	CreateShare(ctx context.Context, share domain.ReportShare) error
	GetShareByToken(ctx context.Context, token string) (domain.ReportShare, error)
}

// AuditEventAppender ensures append-only audit writes.
type AuditEventAppender interface {
	Append(ctx context.Context, event domain.AuditEvent) (int64, error)
}

// AuditEventLister reads the audit trail of one resource, oldest first.
type AuditEventLister interface {
	ListByResource(ctx context.Context, resourceType, resourceID string, limit int) ([]domain.AuditEvent, error)
}

// Store bundles every repository a deployment provides.
type Store struct {
	Projects ProjectRepository
	Suites   SuiteRepository
	Cases    CaseRepository
	Runs     RunRepository
	Results  ResultRepository
	Defects  DefectRepository
	Shares   ShareRepository
	Audit    AuditEventAppender
	AuditLog AuditEventLister
}
