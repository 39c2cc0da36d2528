// Package memory implements every repository in process. It backs
// QA_STORE=memory deployments and service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/platform/auditlog"
	"github.com/animus-labs/qadash/internal/repo"
)

type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	projects map[string]domain.Project
	suites   map[string]domain.Suite
	cases    map[string]domain.TestCase
	runs     map[string]domain.TestRun
	results  map[string][]domain.RunResult
	defects  map[string]domain.Defect
	shares   map[string]domain.ReportShare
	audit    []domain.AuditEvent
}

func New() *Store {
	return &Store{
		now:      time.Now,
		projects: make(map[string]domain.Project),
		suites:   make(map[string]domain.Suite),
		cases:    make(map[string]domain.TestCase),
		runs:     make(map[string]domain.TestRun),
		results:  make(map[string][]domain.RunResult),
		defects:  make(map[string]domain.Defect),
		shares:   make(map[string]domain.ReportShare),
	}
}

// Repositories exposes the store through the repo.Store bundle.
func (s *Store) Repositories() repo.Store {
	return repo.Store{
		Projects: s,
		Suites:   s,
		Cases:    s,
		Runs:     s,
		Results:  s,
		Defects:  s,
		Shares:   s,
		Audit:    s,
		AuditLog: s,
	}
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func cloneCase(tc domain.TestCase) domain.TestCase {
	steps := make([]string, len(tc.Steps))
	copy(steps, tc.Steps)
	tc.Steps = steps
	return tc
}

func cloneResult(r domain.RunResult) domain.RunResult {
	r.Snapshot = r.Snapshot.Clone()
	return r
}

func (s *Store) CreateProject(ctx context.Context, project domain.Project) error {
	if err := project.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; ok {
		return fmt.Errorf("project %s: %w", project.ID, repo.ErrConflict)
	}
	for _, existing := range s.projects {
		if existing.Code == project.Code {
			return fmt.Errorf("project code %s: %w", project.Code, repo.ErrConflict)
		}
	}
	s.projects[project.ID] = project
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[strings.TrimSpace(id)]
	if !ok {
		return domain.Project{}, repo.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if filter.Name != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Name)) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, filter.Limit), nil
}

func (s *Store) UpdateProject(ctx context.Context, project domain.Project) error {
	if err := project.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[project.ID]; !ok {
		return repo.ErrNotFound
	}
	for id, existing := range s.projects {
		if id != project.ID && existing.Code == project.Code {
			return fmt.Errorf("project code %s: %w", project.Code, repo.ErrConflict)
		}
	}
	s.projects[project.ID] = project
	return nil
}

// DeleteProject cascades to everything the project owns.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id = strings.TrimSpace(id)
	if _, ok := s.projects[id]; !ok {
		return repo.ErrNotFound
	}
	delete(s.projects, id)
	for k, v := range s.suites {
		if v.ProjectID == id {
			delete(s.suites, k)
		}
	}
	for k, v := range s.cases {
		if v.ProjectID == id {
			delete(s.cases, k)
		}
	}
	for k, v := range s.runs {
		if v.ProjectID == id {
			delete(s.runs, k)
			delete(s.results, k)
		}
	}
	for k, v := range s.defects {
		if v.ProjectID == id {
			delete(s.defects, k)
		}
	}
	for k, v := range s.shares {
		if v.ProjectID == id {
			delete(s.shares, k)
		}
	}
	return nil
}

func (s *Store) CreateSuite(ctx context.Context, suite domain.Suite) error {
	if err := suite.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[suite.ProjectID]; !ok {
		return fmt.Errorf("project %s: %w", suite.ProjectID, repo.ErrNotFound)
	}
	if _, ok := s.suites[suite.ID]; ok {
		return fmt.Errorf("suite %s: %w", suite.ID, repo.ErrConflict)
	}
	s.suites[suite.ID] = suite
	return nil
}

func (s *Store) GetSuite(ctx context.Context, projectID, id string) (domain.Suite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	suite, ok := s.suites[strings.TrimSpace(id)]
	if !ok || suite.ProjectID != strings.TrimSpace(projectID) {
		return domain.Suite{}, repo.ErrNotFound
	}
	return suite, nil
}

func (s *Store) ListSuites(ctx context.Context, projectID string) ([]domain.Suite, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Suite, 0)
	for _, suite := range s.suites {
		if suite.ProjectID == strings.TrimSpace(projectID) {
			out = append(out, suite)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateSuite(ctx context.Context, suite domain.Suite) error {
	if err := suite.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.suites[suite.ID]
	if !ok || existing.ProjectID != suite.ProjectID {
		return repo.ErrNotFound
	}
	s.suites[suite.ID] = suite
	return nil
}

// DeleteSuite refuses to orphan child suites or cases.
func (s *Store) DeleteSuite(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.suites[id]
	if !ok || existing.ProjectID != projectID {
		return repo.ErrNotFound
	}
	for _, other := range s.suites {
		if other.ParentSuiteID == id {
			return fmt.Errorf("suite %s has child suites: %w", id, repo.ErrConflict)
		}
	}
	for _, tc := range s.cases {
		if tc.SuiteID == id {
			return fmt.Errorf("suite %s has test cases: %w", id, repo.ErrConflict)
		}
	}
	delete(s.suites, id)
	return nil
}

func (s *Store) CreateCase(ctx context.Context, tc domain.TestCase) error {
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	suite, ok := s.suites[tc.SuiteID]
	if !ok || suite.ProjectID != tc.ProjectID {
		return fmt.Errorf("suite %s: %w", tc.SuiteID, repo.ErrNotFound)
	}
	if _, ok := s.cases[tc.ID]; ok {
		return fmt.Errorf("case %s: %w", tc.ID, repo.ErrConflict)
	}
	s.cases[tc.ID] = cloneCase(tc)
	return nil
}

func (s *Store) GetCase(ctx context.Context, projectID, id string) (domain.TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tc, ok := s.cases[strings.TrimSpace(id)]
	if !ok || tc.ProjectID != strings.TrimSpace(projectID) {
		return domain.TestCase{}, repo.ErrNotFound
	}
	return cloneCase(tc), nil
}

func (s *Store) ListCases(ctx context.Context, filter repo.CaseFilter) ([]domain.TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TestCase, 0)
	for _, tc := range s.cases {
		if filter.ProjectID != "" && tc.ProjectID != filter.ProjectID {
			continue
		}
		if filter.SuiteID != "" && tc.SuiteID != filter.SuiteID {
			continue
		}
		if filter.Status != "" && tc.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && tc.Priority != filter.Priority {
			continue
		}
		if filter.Module != "" && tc.Module != filter.Module {
			continue
		}
		out = append(out, cloneCase(tc))
	}
	sortCases(out)
	return limit(out, filter.Limit), nil
}

func (s *Store) ListActiveCasesBySuite(ctx context.Context, projectID, suiteID string) ([]domain.TestCase, error) {
	return s.ListCases(ctx, repo.CaseFilter{ProjectID: projectID, SuiteID: suiteID, Status: domain.CaseStatusActive})
}

func sortCases(cases []domain.TestCase) {
	sort.Slice(cases, func(i, j int) bool {
		if !cases[i].CreatedAt.Equal(cases[j].CreatedAt) {
			return cases[i].CreatedAt.Before(cases[j].CreatedAt)
		}
		return cases[i].ID < cases[j].ID
	})
}

func (s *Store) UpdateCase(ctx context.Context, tc domain.TestCase) error {
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.cases[tc.ID]
	if !ok || existing.ProjectID != tc.ProjectID {
		return repo.ErrNotFound
	}
	if suite, ok := s.suites[tc.SuiteID]; !ok || suite.ProjectID != tc.ProjectID {
		return fmt.Errorf("suite %s: %w", tc.SuiteID, repo.ErrNotFound)
	}
	s.cases[tc.ID] = cloneCase(tc)
	return nil
}

func (s *Store) DeleteCase(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.cases[id]
	if !ok || existing.ProjectID != projectID {
		return repo.ErrNotFound
	}
	delete(s.cases, id)
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.TestRun) (domain.TestRun, error) {
	if strings.TrimSpace(run.ID) == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusInProgress
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now().UTC()
	}
	if err := run.Validate(); err != nil {
		return domain.TestRun{}, fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return domain.TestRun{}, fmt.Errorf("run %s: %w", run.ID, repo.ErrConflict)
	}
	s.runs[run.ID] = run
	return run, nil
}

func (s *Store) GetRun(ctx context.Context, projectID, id string) (domain.TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[strings.TrimSpace(id)]
	if !ok || run.ProjectID != strings.TrimSpace(projectID) {
		return domain.TestRun{}, repo.ErrNotFound
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.TestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TestRun, 0)
	for _, run := range s.runs {
		if filter.ProjectID != "" && run.ProjectID != filter.ProjectID {
			continue
		}
		if filter.SuiteID != "" && run.SuiteID != filter.SuiteID {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && run.StartedAt.Before(filter.Since) {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, filter.Limit), nil
}

func (s *Store) CompleteRun(ctx context.Context, projectID, id string, counters domain.Counters, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok || run.ProjectID != projectID {
		return repo.ErrNotFound
	}
	if counters.Total() > run.TotalCases {
		return fmt.Errorf("counters %d exceed total cases %d", counters.Total(), run.TotalCases)
	}
	completed := completedAt.UTC()
	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &completed
	run.PassedCount = counters.Passed
	run.FailedCount = counters.Failed
	run.BlockedCount = counters.Blocked
	s.runs[id] = run
	return nil
}

func (s *Store) RecordResult(ctx context.Context, result domain.RunResult) (domain.RunResult, bool, error) {
	if err := result.Validate(); err != nil {
		return domain.RunResult{}, false, fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[result.RunID]
	if !ok || run.ProjectID != result.ProjectID {
		return domain.RunResult{}, false, fmt.Errorf("run %s: %w", result.RunID, repo.ErrNotFound)
	}
	for _, existing := range s.results[result.RunID] {
		if existing.CaseID == result.CaseID {
			return cloneResult(existing), false, nil
		}
	}
	if strings.TrimSpace(result.ID) == "" {
		result.ID = uuid.NewString()
	}
	if result.ExecutedAt.IsZero() {
		result.ExecutedAt = s.now().UTC()
	}
	counters := run.Counters().Add(result.Status)
	if counters.Total() > run.TotalCases {
		return domain.RunResult{}, false, fmt.Errorf("run %s already has %d results: %w", run.ID, run.TotalCases, repo.ErrConflict)
	}
	run.PassedCount, run.FailedCount, run.BlockedCount = counters.Passed, counters.Failed, counters.Blocked
	s.runs[run.ID] = run
	stored := cloneResult(result)
	s.results[result.RunID] = append(s.results[result.RunID], stored)
	return cloneResult(stored), true, nil
}

func (s *Store) ListResultsByRun(ctx context.Context, projectID, runID string) ([]domain.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok || run.ProjectID != projectID {
		return nil, repo.ErrNotFound
	}
	out := make([]domain.RunResult, 0, len(s.results[runID]))
	for _, r := range s.results[runID] {
		out = append(out, cloneResult(r))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) ListResults(ctx context.Context, filter repo.ResultFilter) ([]domain.RunResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.RunResult, 0)
	for _, results := range s.results {
		for _, r := range results {
			if filter.ProjectID != "" && r.ProjectID != filter.ProjectID {
				continue
			}
			if !filter.Since.IsZero() && r.ExecutedAt.Before(filter.Since) {
				continue
			}
			out = append(out, cloneResult(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExecutedAt.After(out[j].ExecutedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, filter.Limit), nil
}

func (s *Store) CreateDefect(ctx context.Context, defect domain.Defect) (domain.Defect, error) {
	if strings.TrimSpace(defect.ID) == "" {
		defect.ID = uuid.NewString()
	}
	now := s.now().UTC()
	if defect.CreatedAt.IsZero() {
		defect.CreatedAt = now
	}
	if defect.UpdatedAt.IsZero() {
		defect.UpdatedAt = defect.CreatedAt
	}
	if defect.Status == "" {
		defect.Status = domain.DefectStatusOpen
	}
	if err := defect.Validate(); err != nil {
		return domain.Defect{}, fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[defect.ProjectID]; !ok {
		return domain.Defect{}, fmt.Errorf("project %s: %w", defect.ProjectID, repo.ErrNotFound)
	}
	if _, ok := s.defects[defect.ID]; ok {
		return domain.Defect{}, fmt.Errorf("defect %s: %w", defect.ID, repo.ErrConflict)
	}
	s.defects[defect.ID] = defect
	return defect, nil
}

func (s *Store) GetDefect(ctx context.Context, projectID, id string) (domain.Defect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defects[strings.TrimSpace(id)]
	if !ok || d.ProjectID != strings.TrimSpace(projectID) {
		return domain.Defect{}, repo.ErrNotFound
	}
	return d, nil
}

func (s *Store) ListDefects(ctx context.Context, filter repo.DefectFilter) ([]domain.Defect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Defect, 0)
	for _, d := range s.defects {
		if filter.ProjectID != "" && d.ProjectID != filter.ProjectID {
			continue
		}
		if filter.RunID != "" && d.RunID != filter.RunID {
			continue
		}
		if filter.CaseID != "" && d.CaseID != filter.CaseID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && d.Severity != filter.Severity {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return limit(out, filter.Limit), nil
}

func (s *Store) UpdateDefect(ctx context.Context, defect domain.Defect) error {
	if err := defect.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.defects[defect.ID]
	if !ok || existing.ProjectID != defect.ProjectID {
		return repo.ErrNotFound
	}
	defect.CreatedAt = existing.CreatedAt
	defect.CreatedBy = existing.CreatedBy
	s.defects[defect.ID] = defect
	return nil
}

// DeleteDefect refuses to drop a defect that a run result still references.
func (s *Store) DeleteDefect(ctx context.Context, projectID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.defects[id]
	if !ok || existing.ProjectID != projectID {
		return repo.ErrNotFound
	}
	for _, results := range s.results {
		for _, r := range results {
			if r.DefectID == id {
				return fmt.Errorf("defect %s is referenced by run %s: %w", id, r.RunID, repo.ErrConflict)
			}
		}
	}
	delete(s.defects, id)
	return nil
}

func (s *Store) CreateShare(ctx context.Context, share domain.ReportShare) error {
	if err := share.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shares[share.Token]; ok {
		return fmt.Errorf("share token: %w", repo.ErrConflict)
	}
	s.shares[share.Token] = share
	return nil
}

func (s *Store) GetShareByToken(ctx context.Context, token string) (domain.ReportShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	share, ok := s.shares[strings.TrimSpace(token)]
	if !ok {
		return domain.ReportShare{}, repo.ErrNotFound
	}
	return share, nil
}

func (s *Store) Append(ctx context.Context, event domain.AuditEvent) (int64, error) {
	event.Payload = event.Payload.Clone()
	event, _, err := auditlog.Seal(event, s.now().UTC())
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	event.EventID = int64(len(s.audit) + 1)
	s.audit = append(s.audit, event)
	return event.EventID, nil
}

func (s *Store) ListByResource(ctx context.Context, resourceType, resourceID string, n int) ([]domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEvent, 0)
	for _, e := range s.audit {
		if e.ResourceType == resourceType && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return limit(out, n), nil
}

// AuditEvents returns every appended event, oldest first.
func (s *Store) AuditEvents() []domain.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.AuditEvent, len(s.audit))
	copy(out, s.audit)
	return out
}
