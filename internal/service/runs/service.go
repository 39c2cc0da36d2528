// Package runs hosts live execution sessions and exposes them by run id.
package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/qadash/internal/auditexport"
	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/execution/engine"
	"github.com/animus-labs/qadash/internal/execution/rollup"
	"github.com/animus-labs/qadash/internal/platform/auditlog"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/service/audit"
)

// ErrNoSession means the run exists (or existed) but is not being executed
// by this process.
var ErrNoSession = errors.New("no live session for run")

var ErrInvalidInput = errors.New("invalid input")

// StartError reports a start that failed with a retryable store error after
// the run id was minted. The session stays registered under RunID and
// RetryStart finishes it without creating a second run.
type StartError struct {
	RunID string
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start run %s: %v", e.RunID, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

type Deps struct {
	Suites   repo.SuiteRepository
	Cases    repo.CaseRepository
	Runs     repo.RunRepository
	Results  repo.ResultRepository
	Defects  repo.DefectRepository
	AuditLog repo.AuditEventLister
	Audit    *audit.Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	suites   repo.SuiteRepository
	cases    repo.CaseRepository
	runs     repo.RunRepository
	results  repo.ResultRepository
	defects  repo.DefectRepository
	auditLog repo.AuditEventLister
	audit    *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*live
}

type live struct {
	session   *engine.Session
	projectID string
	touched   time.Time
}

func New(deps Deps) *Service {
	if deps.Cases == nil || deps.Runs == nil || deps.Results == nil || deps.Defects == nil {
		return nil
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		suites:   deps.Suites,
		cases:    deps.Cases,
		runs:     deps.Runs,
		results:  deps.Results,
		defects:  deps.Defects,
		auditLog: deps.AuditLog,
		audit:    deps.Audit,
		logger:   logger,
		now:      now,
		sessions: make(map[string]*live),
	}
}

// runStore joins the run and result repositories into what the engine needs.
type runStore struct {
	repo.RunRepository
	repo.ResultRepository
}

type StartInput struct {
	SuiteID    string
	Title      string
	RunnerName string
	// CaseIDs fixes the selection and its order. Empty selects every active
	// case of the suite.
	CaseIDs []string
}

// StartRun selects cases, creates the run and registers the live session.
func (s *Service) StartRun(ctx context.Context, info audit.Info, projectID string, in StartInput) (engine.View, error) {
	executedBy := strings.TrimSpace(info.Actor)
	if executedBy == "" {
		executedBy = "anonymous"
	}
	session, err := engine.New(engine.Deps{
		Cases:   s.cases,
		Runs:    runStore{s.runs, s.results},
		Defects: s.defects,
		Now:     s.now,
		Logger:  s.logger,
	}, engine.Params{
		ProjectID:  projectID,
		SuiteID:    in.SuiteID,
		Title:      in.Title,
		ExecutedBy: executedBy,
		RunnerName: in.RunnerName,
	})
	if err != nil {
		return engine.View{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if s.suites != nil {
		if _, err := s.suites.GetSuite(ctx, projectID, in.SuiteID); err != nil {
			return engine.View{}, fmt.Errorf("suite %s: %w", in.SuiteID, err)
		}
	}
	if err := session.Select(ctx, in.CaseIDs); err != nil {
		return engine.View{}, err
	}
	if err := session.Start(ctx); err != nil {
		runID := session.RunID()
		if runID == "" || !errors.Is(err, engine.ErrPersistence) {
			return engine.View{}, err
		}
		s.register(runID, projectID, session)
		return session.View(), &StartError{RunID: runID, Err: err}
	}
	view := session.View()
	s.register(view.RunID, projectID, session)
	s.auditStarted(ctx, info, view)
	return view, nil
}

// RetryStart repeats a start that failed with a StartError. A session that
// already started answers its current view.
func (s *Service) RetryStart(ctx context.Context, info audit.Info, projectID, runID string) (engine.View, error) {
	session, err := s.lookup(projectID, runID)
	if err != nil {
		return engine.View{}, err
	}
	if session.State() != engine.StateConfiguring {
		return session.View(), nil
	}
	if err := session.Start(ctx); err != nil {
		return session.View(), err
	}
	view := session.View()
	s.auditStarted(ctx, info, view)
	return view, nil
}

func (s *Service) register(runID, projectID string, session *engine.Session) {
	s.mu.Lock()
	s.sessions[runID] = &live{session: session, projectID: projectID, touched: s.now()}
	s.mu.Unlock()
}

func (s *Service) auditStarted(ctx context.Context, info audit.Info, view engine.View) {
	s.audit.Record(ctx, info, "test_run.started", domain.AuditResourceRun, view.RunID, view.ProjectID, domain.Metadata{
		"suite_id":    view.SuiteID,
		"total_cases": view.Total,
	})
}

func (s *Service) lookup(projectID, runID string) (*engine.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.sessions[strings.TrimSpace(runID)]
	if !ok || l.projectID != projectID {
		return nil, ErrNoSession
	}
	l.touched = s.now()
	return l.session, nil
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	delete(s.sessions, runID)
	s.mu.Unlock()
}

// after audits whatever the transition persisted, even when it then failed,
// and drops sessions that reached Completed.
func (s *Service) after(ctx context.Context, info audit.Info, before, now engine.View) {
	if now.Index > before.Index && now.Last != nil {
		payload := domain.Metadata{
			"case_id":  now.Last.CaseID,
			"outcome":  string(now.Last.Status),
			"position": now.Last.Position,
		}
		if now.Last.DefectID != "" {
			payload["defect_id"] = now.Last.DefectID
		}
		s.audit.Record(ctx, info, "test_run.outcome_recorded", domain.AuditResourceRun, now.RunID, now.ProjectID, payload)
	}
	if now.State == engine.StateCompleted && before.State != engine.StateCompleted {
		meta := domain.Metadata{}
		if now.Summary != nil {
			meta["passed"] = now.Summary.Passed
			meta["failed"] = now.Summary.Failed
			meta["blocked"] = now.Summary.Blocked
			meta["pass_rate"] = now.Summary.PassRate
		}
		s.audit.Record(ctx, info, "test_run.completed", domain.AuditResourceRun, now.RunID, now.ProjectID, meta)
		s.release(now.RunID)
	}
}

type OutcomeRequest struct {
	Outcome      string
	Remarks      string
	ActualResult string
	EvidenceRef  string
}

// Record submits the outcome of the case in focus. A Failed outcome returns
// a view carrying the seeded defect draft.
func (s *Service) Record(ctx context.Context, info audit.Info, projectID, runID string, in OutcomeRequest) (engine.View, error) {
	outcome, err := domain.ParseOutcome(in.Outcome)
	if err != nil {
		return engine.View{}, fmt.Errorf("%w: %v", engine.ErrInvalidOutcome, err)
	}
	session, err := s.lookup(projectID, runID)
	if err != nil {
		return engine.View{}, err
	}
	before := session.View()
	err = session.Record(ctx, engine.OutcomeInput{
		Outcome:      outcome,
		Remarks:      in.Remarks,
		ActualResult: in.ActualResult,
		EvidenceRef:  in.EvidenceRef,
	})
	view := session.View()
	s.after(ctx, info, before, view)
	return view, err
}

func (s *Service) DefectDraft(ctx context.Context, projectID, runID string) (engine.DefectDraft, error) {
	session, err := s.lookup(projectID, runID)
	if err != nil {
		return engine.DefectDraft{}, err
	}
	return session.DefectDraft()
}

func (s *Service) SubmitDefect(ctx context.Context, info audit.Info, projectID, runID string, details engine.DefectDetails) (engine.View, error) {
	session, err := s.lookup(projectID, runID)
	if err != nil {
		return engine.View{}, err
	}
	before := session.View()
	err = session.SubmitDefect(ctx, details)
	view := session.View()
	if id := createdDefect(before, view); id != "" {
		meta := domain.Metadata{"run_id": view.RunID}
		if before.Current != nil {
			meta["case_id"] = before.Current.CaseID
		}
		s.audit.Record(ctx, info, "defect.created", domain.AuditResourceDefect, id, projectID, meta)
	}
	s.after(ctx, info, before, view)
	return view, err
}

// createdDefect returns the id of a defect the transition between the two
// views created, if any.
func createdDefect(before, now engine.View) string {
	if before.Draft != nil && before.Draft.Recorded {
		return ""
	}
	if now.Draft != nil && now.Draft.Recorded {
		return now.Draft.DefectID
	}
	if now.Index > before.Index && now.Last != nil {
		return now.Last.DefectID
	}
	return ""
}

func (s *Service) CancelDefect(ctx context.Context, projectID, runID string) (engine.View, error) {
	session, err := s.lookup(projectID, runID)
	if err != nil {
		return engine.View{}, err
	}
	err = session.CancelDefect()
	return session.View(), err
}

// Finish retries completion once every case is recorded.
func (s *Service) Finish(ctx context.Context, info audit.Info, projectID, runID string) (engine.View, error) {
	session, err := s.lookup(projectID, runID)
	if err != nil {
		return engine.View{}, err
	}
	before := session.View()
	err = session.Finish(ctx)
	view := session.View()
	s.after(ctx, info, before, view)
	return view, err
}

// Abandon stops executing the run. Recorded results stay and the run keeps
// its partial counters in InProgress.
func (s *Service) Abandon(ctx context.Context, info audit.Info, projectID, runID string) error {
	session, err := s.lookup(projectID, runID)
	if err != nil {
		return err
	}
	if err := session.Abandon(); err != nil {
		return err
	}
	view := session.View()
	s.release(view.RunID)
	s.audit.Record(ctx, info, "test_run.abandoned", domain.AuditResourceRun, view.RunID, projectID, domain.Metadata{
		"recorded": view.Index,
		"total":    view.Total,
	})
	return nil
}

// RunView is the live session when one exists, otherwise the persisted run
// with its summary.
type RunView struct {
	Run     domain.TestRun  `json:"-"`
	Session *engine.View    `json:"session,omitempty"`
	Summary *rollup.Summary `json:"summary,omitempty"`
}

func (s *Service) View(ctx context.Context, projectID, runID string) (RunView, error) {
	run, err := s.runs.GetRun(ctx, projectID, runID)
	if err != nil {
		return RunView{}, err
	}
	if session, err := s.lookup(projectID, runID); err == nil {
		view := session.View()
		return RunView{Run: run, Session: &view}, nil
	}
	results, err := s.results.ListResultsByRun(ctx, projectID, runID)
	if err != nil {
		return RunView{}, err
	}
	summary := rollup.Summarize(run, results)
	return RunView{Run: run, Summary: &summary}, nil
}

func (s *Service) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.TestRun, error) {
	return s.runs.ListRuns(ctx, filter)
}

// Live reports the run ids with a session in this process.
func (s *Service) Live() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		out = append(out, id)
	}
	return out
}

// PruneIdle abandons sessions untouched for longer than idle and returns how
// many were dropped. A session in the middle of a transition is kept for the
// next pass.
func (s *Service) PruneIdle(ctx context.Context, idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	s.mu.Lock()
	stale := make(map[string]*live)
	for id, l := range s.sessions {
		if l.touched.Before(cutoff) {
			stale[id] = l
		}
	}
	s.mu.Unlock()

	pruned := 0
	for id, l := range stale {
		s.mu.Lock()
		if cur, ok := s.sessions[id]; !ok || cur != l || !l.touched.Before(cutoff) {
			s.mu.Unlock()
			continue
		}
		err := l.session.Abandon()
		if errors.Is(err, engine.ErrBusy) {
			s.mu.Unlock()
			s.logger.Debug("idle session busy, pruning later", "run_id", id)
			continue
		}
		delete(s.sessions, id)
		s.mu.Unlock()
		if err != nil {
			if !errors.Is(err, engine.ErrInvalidState) {
				s.logger.Warn("abandon idle session", "run_id", id, "error", err)
			}
			continue
		}
		pruned++
		s.audit.Record(ctx, audit.Info{Actor: "system"}, "test_run.abandoned", domain.AuditResourceRun, id, l.projectID, domain.Metadata{"reason": "idle"})
	}
	if pruned > 0 {
		s.logger.Info("idle sessions pruned", "count", pruned)
	}
	return pruned
}

// ExportAudit writes the run's audit trail as NDJSON.
func (s *Service) ExportAudit(ctx context.Context, projectID, runID string, w io.Writer) error {
	if s.auditLog == nil {
		return errors.New("audit log not configured")
	}
	if _, err := s.runs.GetRun(ctx, projectID, runID); err != nil {
		return err
	}
	events, err := s.auditLog.ListByResource(ctx, domain.AuditResourceRun, runID, 0)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := auditlog.Verify(e); err != nil {
			s.logger.Warn("audit event failed integrity check", "run_id", runID, "event_id", e.EventID, "action", e.Action, "error", err)
		}
	}
	return auditexport.ExportAll(ctx, auditexport.NewNDJSONExporter(w), events)
}
