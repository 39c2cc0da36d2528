package runs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/execution/engine"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/repo/memory"
	"github.com/animus-labs/qadash/internal/service/audit"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

var tester = audit.Info{Actor: "tess", Service: "test"}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

// flakyRuns fails CompleteRun a fixed number of times. loseCreate commits
// the run and still reports an error, like a connection reset after commit.
type flakyRuns struct {
	repo.RunRepository
	failComplete int
	loseCreate   int
}

func (f *flakyRuns) CreateRun(ctx context.Context, run domain.TestRun) (domain.TestRun, error) {
	created, err := f.RunRepository.CreateRun(ctx, run)
	if err == nil && f.loseCreate > 0 {
		f.loseCreate--
		return domain.TestRun{}, errors.New("connection reset by peer")
	}
	return created, err
}

// gatedResults holds RecordResult until gate is closed when gate is set.
type gatedResults struct {
	repo.ResultRepository
	gate  chan struct{}
	enter chan struct{}
}

func (g *gatedResults) RecordResult(ctx context.Context, result domain.RunResult) (domain.RunResult, bool, error) {
	if g.gate != nil {
		g.enter <- struct{}{}
		<-g.gate
	}
	return g.ResultRepository.RecordResult(ctx, result)
}

func (f *flakyRuns) CompleteRun(ctx context.Context, projectID, id string, counters domain.Counters, at time.Time) error {
	if f.failComplete > 0 {
		f.failComplete--
		return errors.New("database unavailable")
	}
	return f.RunRepository.CompleteRun(ctx, projectID, id, counters, at)
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	clock   *clock
	runs    *flakyRuns
	results *gatedResults
	cases   []domain.TestCase
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	if err := store.CreateProject(ctx, domain.Project{ID: "p1", Name: "Shop", Code: "SHOP", CreatedAt: t0}); err != nil {
		t.Fatalf("project: %v", err)
	}
	if err := store.CreateSuite(ctx, domain.Suite{ID: "s1", ProjectID: "p1", Name: "Checkout", CreatedAt: t0}); err != nil {
		t.Fatalf("suite: %v", err)
	}
	titles := []string{"add to cart", "pay by card", "apply coupon"}
	var cases []domain.TestCase
	for i, title := range titles {
		tc := domain.TestCase{
			ID:             string(rune('a'+i)) + "-case",
			ProjectID:      "p1",
			SuiteID:        "s1",
			Title:          title,
			Steps:          []string{"open shop", title},
			ExpectedResult: "works",
			Priority:       domain.PriorityHigh,
			Status:         domain.CaseStatusActive,
			Type:           domain.CaseTypeFunctional,
			CreatedAt:      t0.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateCase(ctx, tc); err != nil {
			t.Fatalf("case: %v", err)
		}
		cases = append(cases, tc)
	}
	c := &clock{now: t0.Add(time.Hour)}
	repos := store.Repositories()
	runs := &flakyRuns{RunRepository: repos.Runs}
	results := &gatedResults{ResultRepository: repos.Results}
	svc := New(Deps{
		Suites:   repos.Suites,
		Cases:    repos.Cases,
		Runs:     runs,
		Results:  results,
		Defects:  repos.Defects,
		AuditLog: repos.AuditLog,
		Audit:    audit.NewRecorder(repos.Audit, nil),
		Now:      c.Now,
	})
	return fixture{svc: svc, store: store, clock: c, runs: runs, results: results, cases: cases}
}

func actions(events []domain.AuditEvent) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

func TestFullRunThroughService(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	view, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "s1", Title: "nightly"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	runID := view.RunID
	if view.State != engine.StateRunning || view.Total != 3 || view.Current.CaseID != f.cases[0].ID {
		t.Fatalf("unexpected start view: %+v", view)
	}

	if _, err := f.svc.Record(ctx, tester, "p1", runID, OutcomeRequest{Outcome: "pass"}); err != nil {
		t.Fatalf("record pass: %v", err)
	}
	view, err = f.svc.Record(ctx, tester, "p1", runID, OutcomeRequest{Outcome: "Failed", ActualResult: "declined"})
	if err != nil {
		t.Fatalf("record fail: %v", err)
	}
	if view.State != engine.StateAwaitingDefectDetails || view.Draft == nil || view.Draft.Title != "Test failed: pay by card" {
		t.Fatalf("expected draft, got %+v", view)
	}
	draft, err := f.svc.DefectDraft(ctx, "p1", runID)
	if err != nil || draft.Severity != domain.SeverityHigh {
		t.Fatalf("draft: %+v %v", draft, err)
	}
	view, err = f.svc.SubmitDefect(ctx, tester, "p1", runID, engine.DefectDetails{Title: draft.Title, Description: draft.Description})
	if err != nil {
		t.Fatalf("submit defect: %v", err)
	}
	if view.Last == nil || view.Last.DefectID == "" {
		t.Fatalf("expected defect on last outcome: %+v", view.Last)
	}
	view, err = f.svc.Record(ctx, tester, "p1", runID, OutcomeRequest{Outcome: "Blocked", Remarks: "coupon service down"})
	if err != nil {
		t.Fatalf("record blocked: %v", err)
	}
	if view.State != engine.StateCompleted || view.Summary == nil || view.Summary.PassRate != 33.3 {
		t.Fatalf("expected completed run, got %+v", view)
	}

	if len(f.svc.Live()) != 0 {
		t.Fatalf("completed session should be released")
	}
	if _, err := f.svc.Record(ctx, tester, "p1", runID, OutcomeRequest{Outcome: "Passed"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	rv, err := f.svc.View(ctx, "p1", runID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if rv.Session != nil || rv.Summary == nil || rv.Summary.Executed != 3 || rv.Run.Status != domain.RunStatusCompleted {
		t.Fatalf("unexpected fallback view: %+v", rv)
	}

	var runActions []string
	var defects int
	for _, e := range f.store.AuditEvents() {
		switch e.ResourceType {
		case domain.AuditResourceRun:
			runActions = append(runActions, e.Action)
		case domain.AuditResourceDefect:
			defects++
		}
	}
	want := []string{"test_run.started", "test_run.outcome_recorded", "test_run.outcome_recorded", "test_run.outcome_recorded", "test_run.completed"}
	if len(runActions) != len(want) {
		t.Fatalf("unexpected run audit %v", runActions)
	}
	for i := range want {
		if runActions[i] != want[i] {
			t.Fatalf("unexpected run audit %v", runActions)
		}
	}
	if defects != 1 {
		t.Fatalf("expected one defect.created, got %d in %v", defects, actions(f.store.AuditEvents()))
	}

	var buf bytes.Buffer
	if err := f.svc.ExportAudit(ctx, "p1", runID, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := 0
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad ndjson line %q: %v", sc.Text(), err)
		}
		lines++
	}
	if lines != len(want) {
		t.Fatalf("expected %d exported events, got %d", len(want), lines)
	}
}

func TestStartRunErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	if _, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "missing"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.svc.StartRun(ctx, tester, "p1", StartInput{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "s1", CaseIDs: []string{"nope"}}); !errors.Is(err, engine.ErrCaseNotSelectable) {
		t.Fatalf("expected not selectable, got %v", err)
	}
	if err := f.store.CreateSuite(ctx, domain.Suite{ID: "s2", ProjectID: "p1", Name: "Empty", CreatedAt: t0}); err != nil {
		t.Fatalf("suite: %v", err)
	}
	if _, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "s2"}); !errors.Is(err, engine.ErrEmptySelection) {
		t.Fatalf("expected empty selection, got %v", err)
	}
	runs, _ := f.svc.ListRuns(ctx, repo.RunFilter{ProjectID: "p1"})
	if len(runs) != 0 {
		t.Fatalf("failed starts must not create runs, got %d", len(runs))
	}
}

func TestRecordRejectsUnknownOutcomeAndForeignProject(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	view, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "s1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Record(ctx, tester, "p1", view.RunID, OutcomeRequest{Outcome: "Maybe"}); !errors.Is(err, engine.ErrInvalidOutcome) {
		t.Fatalf("expected invalid outcome, got %v", err)
	}
	if _, err := f.svc.Record(ctx, tester, "p2", view.RunID, OutcomeRequest{Outcome: "Passed"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected session to be project scoped, got %v", err)
	}
}

func TestFinishRetriesFailedCompletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	view, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "s1", CaseIDs: []string{f.cases[2].ID}})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.runs.failComplete = 1
	got, err := f.svc.Record(ctx, tester, "p1", view.RunID, OutcomeRequest{Outcome: "Passed"})
	if !errors.Is(err, engine.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if got.State != engine.StateRunning || got.Index != 1 {
		t.Fatalf("result should be recorded while completion is pending: %+v", got)
	}
	got, err = f.svc.Finish(ctx, tester, "p1", view.RunID)
	if err != nil || got.State != engine.StateCompleted {
		t.Fatalf("finish: %+v %v", got, err)
	}
	run, err := f.store.GetRun(ctx, "p1", view.RunID)
	if err != nil || run.Status != domain.RunStatusCompleted || run.PassedCount != 1 {
		t.Fatalf("unexpected run: %+v %v", run, err)
	}
}

func TestAbandonAndPruneIdle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "s1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Record(ctx, tester, "p1", first.RunID, OutcomeRequest{Outcome: "Passed"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := f.svc.Abandon(ctx, tester, "p1", first.RunID); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	rv, err := f.svc.View(ctx, "p1", first.RunID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if rv.Run.Status != domain.RunStatusInProgress || rv.Summary.Executed != 1 || rv.Summary.Remaining != 2 {
		t.Fatalf("abandoned run should stay partial: %+v %+v", rv.Run, rv.Summary)
	}

	second, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "s1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.now = f.clock.now.Add(2 * time.Hour)
	if n := f.svc.PruneIdle(ctx, time.Hour); n != 1 {
		t.Fatalf("expected one pruned session, got %d", n)
	}
	if _, err := f.svc.DefectDraft(ctx, "p1", second.RunID); !errors.Is(err, ErrNoSession) {
		t.Fatalf("pruned session should be gone, got %v", err)
	}
}

func TestRetryStartReusesRunAfterLostCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.runs.loseCreate = 1

	view, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "s1"})
	var startErr *StartError
	if !errors.As(err, &startErr) || !errors.Is(err, engine.ErrPersistence) {
		t.Fatalf("expected retryable StartError, got %v", err)
	}
	if startErr.RunID == "" || view.RunID != startErr.RunID || view.State != engine.StateConfiguring {
		t.Fatalf("failed start should keep the minted run id: %+v %+v", view, startErr)
	}

	view, err = f.svc.RetryStart(ctx, tester, "p1", startErr.RunID)
	if err != nil {
		t.Fatalf("retry start: %v", err)
	}
	if view.State != engine.StateRunning || view.RunID != startErr.RunID || view.Total != 3 {
		t.Fatalf("unexpected view after retry: %+v", view)
	}
	again, err := f.svc.RetryStart(ctx, tester, "p1", startErr.RunID)
	if err != nil || again.State != engine.StateRunning {
		t.Fatalf("second retry should answer the running view: %+v %v", again, err)
	}

	runs, _ := f.svc.ListRuns(ctx, repo.RunFilter{ProjectID: "p1"})
	if len(runs) != 1 || runs[0].ID != startErr.RunID {
		t.Fatalf("expected the single adopted run, got %+v", runs)
	}
	if live := f.svc.Live(); len(live) != 1 {
		t.Fatalf("expected one live session, got %v", live)
	}
	started := 0
	for _, e := range f.store.AuditEvents() {
		if e.Action == "test_run.started" && e.ResourceID == startErr.RunID {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("expected one test_run.started, got %d", started)
	}
	if _, err := f.svc.Record(ctx, tester, "p1", startErr.RunID, OutcomeRequest{Outcome: "Passed"}); err != nil {
		t.Fatalf("record after retried start: %v", err)
	}
}

func TestRetryStartWithoutSession(t *testing.T) {
	f := setup(t)
	if _, err := f.svc.RetryStart(context.Background(), tester, "p1", "missing"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestPruneIdleSkipsBusySession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	view, err := f.svc.StartRun(ctx, tester, "p1", StartInput{SuiteID: "s1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.results.gate = make(chan struct{})
	f.results.enter = make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Record(ctx, tester, "p1", view.RunID, OutcomeRequest{Outcome: "Passed"})
		done <- err
	}()
	<-f.results.enter

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	if n := f.svc.PruneIdle(ctx, time.Hour); n != 0 {
		t.Fatalf("busy session must not be pruned, got %d", n)
	}
	if live := f.svc.Live(); len(live) != 1 {
		t.Fatalf("busy session should stay registered, got %v", live)
	}
	close(f.results.gate)
	if err := <-done; err != nil {
		t.Fatalf("record: %v", err)
	}
	f.results.gate = nil

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	if n := f.svc.PruneIdle(ctx, time.Hour); n != 1 {
		t.Fatalf("expected the session pruned on the next pass, got %d", n)
	}
	abandoned := 0
	for _, e := range f.store.AuditEvents() {
		if e.Action == "test_run.abandoned" {
			abandoned++
		}
	}
	if abandoned != 1 {
		t.Fatalf("expected one abandoned event, got %d", abandoned)
	}
}
