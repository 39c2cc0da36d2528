package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/repo/memory"
	"github.com/animus-labs/qadash/internal/service/audit"
)

var now = time.Date(2026, 4, 15, 18, 0, 0, 0, time.UTC)

func TestWindowSince(t *testing.T) {
	cases := []struct {
		in   string
		want time.Time
	}{
		{"Today", time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)},
		{"This Week", time.Date(2026, 4, 8, 0, 0, 0, 0, time.UTC)},
		{"this_month", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"All Time", time.Time{}},
		{"", time.Time{}},
	}
	for _, tc := range cases {
		w, err := ParseWindow(tc.in)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.in, err)
		}
		if got := w.Since(now); !got.Equal(tc.want) {
			t.Fatalf("%q: expected %s, got %s", tc.in, tc.want, got)
		}
	}
	if _, err := ParseWindow("fortnight"); err == nil {
		t.Fatalf("expected unknown window to fail")
	}
}

type seeded struct {
	svc   *Service
	store *memory.Store
	runID string
}

func seed(t *testing.T) seeded {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(store.CreateProject(ctx, domain.Project{ID: "p1", Name: "Shop", Code: "SHOP"}))
	must(store.CreateSuite(ctx, domain.Suite{ID: "s1", ProjectID: "p1", Name: "All"}))
	mk := func(id, module string) domain.TestCase {
		tc := domain.TestCase{ID: id, ProjectID: "p1", SuiteID: "s1", Title: "case " + id, Module: module,
			Priority: domain.PriorityMedium, Status: domain.CaseStatusActive, Type: domain.CaseTypeFunctional, CreatedAt: now}
		must(store.CreateCase(ctx, tc))
		return tc
	}
	login := mk("c1", "Auth")
	cart := mk("c2", "Cart")
	misc := mk("c3", "")

	run, err := store.CreateRun(ctx, domain.TestRun{ID: "r1", ProjectID: "p1", SuiteID: "s1", ExecutedBy: "tess",
		TotalCases: 3, StartedAt: now.AddDate(0, 0, -3)})
	must(err)
	defect, err := store.CreateDefect(ctx, domain.Defect{ProjectID: "p1", RunID: run.ID, CaseID: cart.ID,
		Title: "cart empty", Description: "items vanish", Severity: domain.SeverityHigh})
	must(err)
	record := func(tc domain.TestCase, pos int, o domain.Outcome, at time.Time, defectID string) {
		_, _, err := store.RecordResult(ctx, domain.RunResult{RunID: run.ID, ProjectID: "p1", CaseID: tc.ID, Position: pos,
			Status: o, DefectID: defectID, Snapshot: tc.Snapshot(at), ExecutedBy: "tess", ExecutedAt: at})
		must(err)
	}
	record(login, 0, domain.OutcomePass, now.AddDate(0, 0, -3), "")
	record(cart, 1, domain.OutcomeFailed, now.AddDate(0, 0, -3), defect.ID)
	record(misc, 2, domain.OutcomeBlocked, now.Add(-time.Hour), "")

	repos := store.Repositories()
	svc := New(repos, audit.NewRecorder(repos.Audit, nil), 24*time.Hour, nil)
	svc.now = func() time.Time { return now }
	return seeded{svc: svc, store: store, runID: run.ID}
}

func TestDashboardWindows(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	all, err := s.svc.Dashboard(ctx, "p1", WindowAllTime)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if all.Results.Total != 3 || all.Results.Passed != 1 || all.Results.PassRate != 33.3 {
		t.Fatalf("unexpected results: %+v", all.Results)
	}
	if all.Totals.Cases != 3 || all.Totals.Modules != 3 || all.Totals.Runs != 1 || all.Totals.OpenDefects != 1 {
		t.Fatalf("unexpected totals: %+v", all.Totals)
	}
	if len(all.Modules) != 3 || all.Modules[2].Module != "Other" || all.Modules[2].Blocked != 1 {
		t.Fatalf("unexpected modules: %+v", all.Modules)
	}
	if len(all.Trend) != 2 || all.Trend[0].Day != "2026-04-12" || all.Trend[1].Total != 1 {
		t.Fatalf("unexpected trend: %+v", all.Trend)
	}
	if all.BySeverity["High"] != 1 || all.ByStatus["Open"] != 1 {
		t.Fatalf("unexpected defect breakdown: %v %v", all.BySeverity, all.ByStatus)
	}

	today, err := s.svc.Dashboard(ctx, "p1", WindowToday)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if today.Results.Total != 1 || today.Results.Blocked != 1 || today.Since == nil {
		t.Fatalf("unexpected today: %+v", today.Results)
	}

	global, err := s.svc.Dashboard(ctx, "", WindowAllTime)
	if err != nil || global.Totals.Projects != 1 {
		t.Fatalf("global dashboard: %+v %v", global.Totals, err)
	}
	if _, err := s.svc.Dashboard(ctx, "nope", WindowAllTime); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown project, got %v", err)
	}
}

func TestRunReportResolvesLiveTitlesAndDrift(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	tc, err := s.store.GetCase(ctx, "p1", "c1")
	if err != nil {
		t.Fatal(err)
	}
	tc.Title = "login renamed"
	if err := s.store.UpdateCase(ctx, tc); err != nil {
		t.Fatal(err)
	}
	report, err := s.svc.RunReport(ctx, "p1", s.runID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Summary.Outcomes[0].Title != "login renamed" {
		t.Fatalf("expected live title, got %q", report.Summary.Outcomes[0].Title)
	}
	if len(report.Defects) != 1 || report.Drift {
		t.Fatalf("unexpected defects/drift: %d %v", len(report.Defects), report.Drift)
	}
	if !report.Summary.Complete() || !report.CompletionPending {
		t.Fatalf("in-progress run with every outcome should be pending completion: %+v", report.Summary)
	}

	run, _ := s.store.GetRun(ctx, "p1", s.runID)
	if err := s.store.CompleteRun(ctx, "p1", s.runID, run.Counters(), now); err != nil {
		t.Fatalf("complete: %v", err)
	}
	report, err = s.svc.RunReport(ctx, "p1", s.runID)
	if err != nil || report.CompletionPending {
		t.Fatalf("completed run is not pending: %v %v", report.CompletionPending, err)
	}
}

func TestShareLifecycle(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	share, err := s.svc.CreateShare(ctx, audit.Info{Actor: "tess"}, "p1", s.runID, 0)
	if err != nil {
		t.Fatalf("share: %v", err)
	}
	if len(share.Token) != 48 || share.ExpiresAt == nil || !share.ExpiresAt.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("unexpected share: %+v", share)
	}
	report, err := s.svc.ResolveShare(ctx, share.Token)
	if err != nil || report.Run.ID != s.runID {
		t.Fatalf("resolve: %v", err)
	}
	s.svc.now = func() time.Time { return now.Add(25 * time.Hour) }
	if _, err := s.svc.ResolveShare(ctx, share.Token); !errors.Is(err, ErrShareExpired) {
		t.Fatalf("expected expired share, got %v", err)
	}
	if _, err := s.svc.ResolveShare(ctx, "unknown-token-value"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected unknown token, got %v", err)
	}
	if _, err := s.svc.CreateShare(ctx, audit.Info{}, "p1", "missing", 0); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected missing run, got %v", err)
	}
}
