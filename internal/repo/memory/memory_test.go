package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func seed(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := New()
	if err := s.CreateProject(ctx, domain.Project{ID: "p1", Name: "Shop", Code: "SHOP", CreatedAt: base}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if err := s.CreateSuite(ctx, domain.Suite{ID: "s1", ProjectID: "p1", Name: "Checkout", CreatedAt: base}); err != nil {
		t.Fatalf("CreateSuite: %v", err)
	}
	for i, id := range []string{"c3", "c1", "c2"} {
		tc := domain.TestCase{
			ID: id, ProjectID: "p1", SuiteID: "s1", Title: "case " + id,
			Steps: []string{"open"}, Priority: domain.PriorityMedium, Status: domain.CaseStatusActive,
			Type: domain.CaseTypeFunctional, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateCase(ctx, tc); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
	}
	return s
}

func TestListActiveCasesBySuiteOrdersByCreation(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	draft := domain.TestCase{ID: "c0", ProjectID: "p1", SuiteID: "s1", Title: "draft", Priority: domain.PriorityLow, Status: domain.CaseStatusDraft, Type: domain.CaseTypeFunctional, CreatedAt: base.Add(-time.Hour)}
	if err := s.CreateCase(ctx, draft); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	cases, err := s.ListActiveCasesBySuite(ctx, "p1", "s1")
	if err != nil {
		t.Fatalf("ListActiveCasesBySuite: %v", err)
	}
	got := make([]string, 0, len(cases))
	for _, c := range cases {
		got = append(got, c.ID)
	}
	if len(got) != 3 || got[0] != "c3" || got[1] != "c1" || got[2] != "c2" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestCasesAreCopiedOnReadAndWrite(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	tc, err := s.GetCase(ctx, "p1", "c1")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	tc.Steps[0] = "mutated"
	again, _ := s.GetCase(ctx, "p1", "c1")
	if again.Steps[0] != "open" {
		t.Fatalf("stored case was mutated through a read")
	}
	if _, err := s.GetCase(ctx, "other", "c1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found across projects, got %v", err)
	}
}

func TestRecordResultIsIdempotentAndBumpsCounters(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	run, err := s.CreateRun(ctx, domain.TestRun{ProjectID: "p1", SuiteID: "s1", ExecutedBy: "alice", TotalCases: 2})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" || run.Status != domain.RunStatusInProgress {
		t.Fatalf("unexpected run: %+v", run)
	}
	tc, _ := s.GetCase(ctx, "p1", "c1")
	result := domain.RunResult{RunID: run.ID, ProjectID: "p1", CaseID: "c1", Status: domain.OutcomePass, Snapshot: tc.Snapshot(base), ExecutedBy: "alice"}

	first, inserted, err := s.RecordResult(ctx, result)
	if err != nil || !inserted {
		t.Fatalf("first RecordResult: inserted=%v err=%v", inserted, err)
	}
	second, inserted, err := s.RecordResult(ctx, result)
	if err != nil || inserted {
		t.Fatalf("second RecordResult: inserted=%v err=%v", inserted, err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected stored result on retry")
	}
	stored, _ := s.GetRun(ctx, "p1", run.ID)
	if stored.PassedCount != 1 || stored.Counters().Total() != 1 {
		t.Fatalf("expected single increment, got %+v", stored.Counters())
	}
}

func TestRecordResultRejectsOverflowAndUnknownRun(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	run, _ := s.CreateRun(ctx, domain.TestRun{ProjectID: "p1", SuiteID: "s1", ExecutedBy: "alice", TotalCases: 1})
	for i, id := range []string{"c1", "c2"} {
		tc, _ := s.GetCase(ctx, "p1", id)
		_, _, err := s.RecordResult(ctx, domain.RunResult{RunID: run.ID, ProjectID: "p1", CaseID: id, Position: i, Status: domain.OutcomeBlocked, Snapshot: tc.Snapshot(base), ExecutedBy: "alice"})
		if i == 1 && !errors.Is(err, repo.ErrConflict) {
			t.Fatalf("expected conflict on overflow, got %v", err)
		}
	}
	tc, _ := s.GetCase(ctx, "p1", "c1")
	_, _, err := s.RecordResult(ctx, domain.RunResult{RunID: "missing", ProjectID: "p1", CaseID: "c1", Status: domain.OutcomePass, Snapshot: tc.Snapshot(base), ExecutedBy: "alice"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCompleteRun(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	run, _ := s.CreateRun(ctx, domain.TestRun{ProjectID: "p1", SuiteID: "s1", ExecutedBy: "alice", TotalCases: 3})
	if err := s.CompleteRun(ctx, "p1", run.ID, domain.Counters{Passed: 2, Failed: 1}, base); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	stored, _ := s.GetRun(ctx, "p1", run.ID)
	if stored.Status != domain.RunStatusCompleted || stored.CompletedAt == nil || stored.FailedCount != 1 {
		t.Fatalf("unexpected run: %+v", stored)
	}
	if err := s.CompleteRun(ctx, "p1", "missing", domain.Counters{}, base); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteSuiteWithCasesConflicts(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	if err := s.DeleteSuite(ctx, "p1", "s1"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := s.CreateSuite(ctx, domain.Suite{ID: "s2", ProjectID: "p1", Name: "Empty"}); err != nil {
		t.Fatalf("CreateSuite: %v", err)
	}
	if err := s.DeleteSuite(ctx, "p1", "s2"); err != nil {
		t.Fatalf("DeleteSuite: %v", err)
	}
}

func TestDeleteDefectReferencedByResultConflicts(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	run, _ := s.CreateRun(ctx, domain.TestRun{ProjectID: "p1", SuiteID: "s1", ExecutedBy: "alice", TotalCases: 1})
	d, err := s.CreateDefect(ctx, domain.Defect{ProjectID: "p1", RunID: run.ID, CaseID: "c1", Title: "t", Description: "d", Severity: domain.SeverityHigh})
	if err != nil {
		t.Fatalf("CreateDefect: %v", err)
	}
	if d.ID == "" || d.Status != domain.DefectStatusOpen {
		t.Fatalf("unexpected defect: %+v", d)
	}
	tc, _ := s.GetCase(ctx, "p1", "c1")
	if _, _, err := s.RecordResult(ctx, domain.RunResult{RunID: run.ID, ProjectID: "p1", CaseID: "c1", Status: domain.OutcomeFailed, DefectID: d.ID, Snapshot: tc.Snapshot(base), ExecutedBy: "alice"}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if err := s.DeleteDefect(ctx, "p1", d.ID); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	if err := s.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	cases, _ := s.ListCases(ctx, repo.CaseFilter{ProjectID: "p1"})
	if len(cases) != 0 {
		t.Fatalf("expected cascade, got %d cases", len(cases))
	}
	if err := s.DeleteProject(ctx, "p1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProjectCodeUnique(t *testing.T) {
	s := seed(t)
	err := s.CreateProject(context.Background(), domain.Project{ID: "p2", Name: "Other", Code: "SHOP"})
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, action := range []string{"run.started", "run.completed"} {
		if _, err := s.Append(ctx, domain.AuditEvent{Actor: "alice", Action: action, ResourceType: domain.AuditResourceRun, ResourceID: "r1"}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	events, err := s.ListByResource(ctx, domain.AuditResourceRun, "r1", 0)
	if err != nil || len(events) != 2 || events[0].EventID != 1 || events[1].Action != "run.completed" {
		t.Fatalf("unexpected events: %+v err=%v", events, err)
	}
	if len(s.AuditEvents()) != 2 {
		t.Fatalf("expected 2 events")
	}
}
