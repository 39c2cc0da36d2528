package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/execution/rollup"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/google/uuid"
)

type State string

const (
	StateConfiguring           State = "Configuring"
	StateRunning               State = "Running"
	StateAwaitingDefectDetails State = "AwaitingDefectDetails"
	StateCompleted             State = "Completed"
)

// CaseSource supplies the executable cases of a suite in selection order.
type CaseSource interface {
	ListActiveCasesBySuite(ctx context.Context, projectID, suiteID string) ([]domain.TestCase, error)
}

// RunStore persists the run and its results.
type RunStore interface {
	CreateRun(ctx context.Context, run domain.TestRun) (domain.TestRun, error)
	GetRun(ctx context.Context, projectID, id string) (domain.TestRun, error)
	RecordResult(ctx context.Context, result domain.RunResult) (domain.RunResult, bool, error)
	CompleteRun(ctx context.Context, projectID, id string, counters domain.Counters, completedAt time.Time) error
}

type DefectRecorder interface {
	CreateDefect(ctx context.Context, defect domain.Defect) (domain.Defect, error)
}

type Deps struct {
	Cases   CaseSource
	Runs    RunStore
	Defects DefectRecorder
	Now     func() time.Time
	Logger  *slog.Logger
}

// Params identify who runs what. They replace any ambient "current user" or
// "current project" lookups.
type Params struct {
	ProjectID  string
	SuiteID    string
	Title      string
	ExecutedBy string
	RunnerName string
}

type OutcomeInput struct {
	Outcome      domain.Outcome
	Remarks      string
	ActualResult string
	EvidenceRef  string
}

type DefectDetails struct {
	Title       string
	Description string
	Severity    domain.Severity
	AssignedTo  string
	EvidenceRef string
}

// DefectDraft is the seeded defect form shown after a failing outcome.
type DefectDraft struct {
	CaseID      string          `json:"case_id"`
	RunID       string          `json:"run_id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Severity    domain.Severity `json:"severity"`
	EvidenceRef string          `json:"evidence_ref,omitempty"`
	// Recorded is true when the defect already exists and only the result
	// write is outstanding.
	Recorded bool   `json:"recorded"`
	DefectID string `json:"defect_id,omitempty"`
}

// View is a read-only picture of a session for rendering.
type View struct {
	State     State                `json:"state"`
	RunID     string               `json:"run_id,omitempty"`
	ProjectID string               `json:"project_id"`
	SuiteID   string               `json:"suite_id"`
	Index     int                  `json:"index"`
	Total     int                  `json:"total"`
	Selected  int                  `json:"selected"`
	Current   *domain.CaseSnapshot `json:"current,omitempty"`
	Counters  domain.Counters      `json:"counters"`
	Abandoned bool                 `json:"abandoned,omitempty"`
	Draft     *DefectDraft         `json:"defect_draft,omitempty"`
	Last      *rollup.CaseOutcome  `json:"last,omitempty"`
	Summary   *rollup.Summary      `json:"summary,omitempty"`
}

type Session struct {
	cases   CaseSource
	runs    RunStore
	defects DefectRecorder
	now     func() time.Time
	logger  *slog.Logger
	params  Params

	mu        sync.Mutex
	busy      bool
	abandoned bool
	state     State
	selected  []domain.TestCase
	sequence  []domain.CaseSnapshot
	index     int
	runID     string
	run       domain.TestRun
	counters  domain.Counters
	results   []domain.RunResult
	failing   *OutcomeInput
	defectID  string
	defect    *domain.Defect
	summary   *rollup.Summary
}

func New(deps Deps, params Params) (*Session, error) {
	if deps.Cases == nil || deps.Runs == nil || deps.Defects == nil {
		return nil, errors.New("case source, run store and defect recorder are required")
	}
	params.ProjectID = strings.TrimSpace(params.ProjectID)
	params.SuiteID = strings.TrimSpace(params.SuiteID)
	params.ExecutedBy = strings.TrimSpace(params.ExecutedBy)
	params.RunnerName = strings.TrimSpace(params.RunnerName)
	params.Title = strings.TrimSpace(params.Title)
	if params.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	if params.SuiteID == "" {
		return nil, errors.New("suite id is required")
	}
	if params.ExecutedBy == "" {
		return nil, errors.New("executed by is required")
	}
	if params.RunnerName == "" {
		params.RunnerName = params.ExecutedBy
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cases:   deps.Cases,
		runs:    deps.Runs,
		defects: deps.Defects,
		now:     func() time.Time { return now().UTC() },
		logger:  logger.With("project_id", params.ProjectID, "suite_id", params.SuiteID),
		params:  params,
		state:   StateConfiguring,
	}, nil
}

// begin claims the session for one transition.
func (s *Session) begin(allowed ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	if s.abandoned {
		return ErrAbandoned
	}
	ok := false
	for _, st := range allowed {
		if s.state == st {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, s.state)
	}
	s.busy = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// persistenceError marks a store failure as retryable. Missing rows, rejected
// records and conflicts will fail the same way again and pass through as is.
func persistenceError(op string, err error) error {
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrInvalid) || errors.Is(err, repo.ErrConflict) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// Select loads the active cases of the suite and keeps caseIDs in the order
// given. An empty caseIDs selects every active case. It may be called again
// while configuring to replace the selection.
func (s *Session) Select(ctx context.Context, caseIDs []string) error {
	if err := s.begin(StateConfiguring); err != nil {
		return err
	}
	defer s.end()

	active, err := s.cases.ListActiveCasesBySuite(ctx, s.params.ProjectID, s.params.SuiteID)
	if err != nil {
		s.logger.Error("list active cases failed", "error", err)
		return persistenceError("list active cases", err)
	}

	selected := make([]domain.TestCase, 0, len(active))
	if len(caseIDs) == 0 {
		for _, tc := range active {
			if tc.Executable() {
				selected = append(selected, tc)
			}
		}
	} else {
		byID := make(map[string]domain.TestCase, len(active))
		for _, tc := range active {
			if tc.Executable() {
				byID[tc.ID] = tc
			}
		}
		seen := make(map[string]struct{}, len(caseIDs))
		for _, raw := range caseIDs {
			id := strings.TrimSpace(raw)
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: case %s selected twice", ErrCaseNotSelectable, id)
			}
			seen[id] = struct{}{}
			tc, ok := byID[id]
			if !ok {
				return fmt.Errorf("%w: case %q is not an active case of suite %s", ErrCaseNotSelectable, id, s.params.SuiteID)
			}
			selected = append(selected, tc)
		}
	}

	s.mu.Lock()
	s.selected = selected
	s.mu.Unlock()
	s.logger.Info("cases selected", "count", len(selected))
	return nil
}

// Start freezes the selection and creates the run. With an empty selection
// it fails with ErrEmptySelection and nothing changes.
func (s *Session) Start(ctx context.Context) error {
	if err := s.begin(StateConfiguring); err != nil {
		return err
	}
	defer s.end()

	s.mu.Lock()
	selected := s.selected
	runID := s.runID
	s.mu.Unlock()
	if len(selected) == 0 {
		return ErrEmptySelection
	}

	startedAt := s.now()
	sequence := make([]domain.CaseSnapshot, 0, len(selected))
	for _, tc := range selected {
		sequence = append(sequence, tc.Snapshot(startedAt))
	}

	retry := runID != ""
	if !retry {
		runID = uuid.NewString()
		s.mu.Lock()
		s.runID = runID
		s.mu.Unlock()
	}
	run, err := s.runs.CreateRun(ctx, domain.TestRun{
		ID:         runID,
		ProjectID:  s.params.ProjectID,
		SuiteID:    s.params.SuiteID,
		Title:      s.params.Title,
		Status:     domain.RunStatusInProgress,
		ExecutedBy: s.params.ExecutedBy,
		RunnerName: s.params.RunnerName,
		TotalCases: len(sequence),
		StartedAt:  startedAt,
	})
	if err != nil && retry && errors.Is(err, repo.ErrConflict) {
		// An earlier attempt reached the store before failing.
		run, err = s.adoptRun(ctx, runID, len(sequence))
	}
	if err != nil {
		s.logger.Error("create run failed", "run_id", runID, "error", err)
		return persistenceError("create run", err)
	}

	s.mu.Lock()
	s.run = run
	s.sequence = sequence
	s.index = 0
	s.state = StateRunning
	s.mu.Unlock()
	s.logger.Info("run started", "run_id", run.ID, "total_cases", run.TotalCases)
	return nil
}

func (s *Session) adoptRun(ctx context.Context, runID string, total int) (domain.TestRun, error) {
	run, err := s.runs.GetRun(ctx, s.params.ProjectID, runID)
	if err != nil {
		return domain.TestRun{}, err
	}
	if run.SuiteID != s.params.SuiteID || run.TotalCases != total || run.Counters().Total() != 0 {
		return domain.TestRun{}, fmt.Errorf("run %s exists with different contents: %w", runID, repo.ErrConflict)
	}
	return run, nil
}

// Record submits the outcome of the current case. Pass and Blocked are
// persisted immediately; Failed suspends the session until SubmitDefect.
func (s *Session) Record(ctx context.Context, in OutcomeInput) error {
	if err := s.begin(StateRunning); err != nil {
		return err
	}
	defer s.end()

	if !in.Outcome.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, in.Outcome)
	}
	s.mu.Lock()
	pending := len(s.sequence) - s.index
	s.mu.Unlock()
	if pending == 0 {
		return fmt.Errorf("%w: every case is recorded, finish the run", ErrInvalidState)
	}

	if in.Outcome == domain.OutcomeFailed {
		input := in
		s.mu.Lock()
		s.failing = &input
		s.state = StateAwaitingDefectDetails
		s.mu.Unlock()
		return nil
	}
	return s.recordCurrent(ctx, in, "")
}

// DefectDraft returns the seeded defect form for the failing case.
func (s *Session) DefectDraft() (DefectDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAwaitingDefectDetails || s.failing == nil {
		return DefectDraft{}, fmt.Errorf("%w: no defect is being captured", ErrInvalidState)
	}
	return s.draftLocked(), nil
}

func (s *Session) draftLocked() DefectDraft {
	snap := s.sequence[s.index]
	draft := DefectDraft{
		CaseID:      snap.CaseID,
		RunID:       s.run.ID,
		Title:       "Test failed: " + snap.Title,
		Description: seedDescription(snap, *s.failing),
		Severity:    domain.SeverityForPriority(snap.Priority),
		EvidenceRef: s.failing.EvidenceRef,
	}
	if s.defect != nil {
		draft.Title = s.defect.Title
		draft.Description = s.defect.Description
		draft.Severity = s.defect.Severity
		draft.EvidenceRef = s.defect.EvidenceRef
		draft.Recorded = true
		draft.DefectID = s.defect.ID
	}
	return draft
}

func seedDescription(snap domain.CaseSnapshot, in OutcomeInput) string {
	var b strings.Builder
	if len(snap.Steps) > 0 {
		b.WriteString("Steps:\n")
		for i, step := range snap.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}
	if snap.ExpectedResult != "" {
		fmt.Fprintf(&b, "Expected: %s\n", snap.ExpectedResult)
	}
	if actual := strings.TrimSpace(in.ActualResult); actual != "" {
		fmt.Fprintf(&b, "Actual: %s\n", actual)
	}
	if remarks := strings.TrimSpace(in.Remarks); remarks != "" {
		fmt.Fprintf(&b, "Remarks: %s\n", remarks)
	}
	return strings.TrimSpace(b.String())
}

// SubmitDefect creates the defect for the failing case, then records the
// Failed result that references it. A defect created by an earlier attempt
// whose result write failed is reused.
func (s *Session) SubmitDefect(ctx context.Context, details DefectDetails) error {
	if err := s.begin(StateAwaitingDefectDetails); err != nil {
		return err
	}
	defer s.end()

	s.mu.Lock()
	existing := s.defect
	failing := *s.failing
	snap := s.sequence[s.index]
	runID := s.run.ID
	defectID := s.defectID
	s.mu.Unlock()

	defect := existing
	if defect == nil {
		d, err := s.buildDefect(details, failing, snap, runID)
		if err != nil {
			return err
		}
		retry := defectID != ""
		if !retry {
			defectID = uuid.NewString()
			s.mu.Lock()
			s.defectID = defectID
			s.mu.Unlock()
		}
		d.ID = defectID
		created, err := s.defects.CreateDefect(ctx, d)
		if err != nil && retry && errors.Is(err, repo.ErrConflict) {
			created, err = d, nil
		}
		if err != nil {
			s.logger.Error("create defect failed", "run_id", runID, "case_id", snap.CaseID, "error", err)
			return persistenceError("create defect", err)
		}
		defect = &created
		s.mu.Lock()
		s.defect = defect
		s.mu.Unlock()
		s.logger.Info("defect created", "run_id", runID, "case_id", snap.CaseID, "defect_id", created.ID)
	}

	evidence := defect.EvidenceRef
	if evidence == "" {
		evidence = failing.EvidenceRef
	}
	return s.recordCurrent(ctx, OutcomeInput{
		Outcome:      domain.OutcomeFailed,
		Remarks:      defect.Description,
		ActualResult: failing.ActualResult,
		EvidenceRef:  evidence,
	}, defect.ID)
}

func (s *Session) buildDefect(details DefectDetails, failing OutcomeInput, snap domain.CaseSnapshot, runID string) (domain.Defect, error) {
	title := strings.TrimSpace(details.Title)
	description := strings.TrimSpace(details.Description)
	if title == "" {
		return domain.Defect{}, fmt.Errorf("%w: title is required", ErrInvalidDefect)
	}
	if description == "" {
		return domain.Defect{}, fmt.Errorf("%w: description is required", ErrInvalidDefect)
	}
	severity := domain.SeverityForPriority(snap.Priority)
	if strings.TrimSpace(string(details.Severity)) != "" {
		parsed, err := domain.ParseSeverity(string(details.Severity))
		if err != nil {
			return domain.Defect{}, fmt.Errorf("%w: %v", ErrInvalidDefect, err)
		}
		severity = parsed
	}
	evidence := strings.TrimSpace(details.EvidenceRef)
	if evidence == "" {
		evidence = strings.TrimSpace(failing.EvidenceRef)
	}
	now := s.now()
	return domain.Defect{
		ProjectID:   s.params.ProjectID,
		CaseID:      snap.CaseID,
		RunID:       runID,
		Title:       title,
		Description: description,
		Severity:    severity,
		Status:      domain.DefectStatusOpen,
		AssignedTo:  strings.TrimSpace(details.AssignedTo),
		EvidenceRef: evidence,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   s.params.ExecutedBy,
	}, nil
}

// CancelDefect abandons the defect form and returns to the same case. It is
// refused once the defect exists, because the failing outcome must then be
// recorded against it.
func (s *Session) CancelDefect() error {
	if err := s.begin(StateAwaitingDefectDetails); err != nil {
		return err
	}
	defer s.end()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defect != nil {
		return fmt.Errorf("%w: defect %s already recorded, resubmit to finish the outcome", ErrInvalidState, s.defect.ID)
	}
	s.failing = nil
	s.defectID = ""
	s.state = StateRunning
	return nil
}

// recordCurrent persists the result of the case in focus, advances, and
// completes the run after the last case. The caller holds the session.
func (s *Session) recordCurrent(ctx context.Context, in OutcomeInput, defectID string) error {
	s.mu.Lock()
	snap := s.sequence[s.index].Clone()
	position := s.index
	run := s.run
	s.mu.Unlock()

	stored, inserted, err := s.runs.RecordResult(ctx, domain.RunResult{
		RunID:        run.ID,
		ProjectID:    s.params.ProjectID,
		CaseID:       snap.CaseID,
		Position:     position,
		Status:       in.Outcome,
		Remarks:      strings.TrimSpace(in.Remarks),
		ActualResult: strings.TrimSpace(in.ActualResult),
		EvidenceRef:  strings.TrimSpace(in.EvidenceRef),
		DefectID:     defectID,
		Snapshot:     snap,
		ExecutedBy:   s.params.ExecutedBy,
		ExecutedAt:   s.now(),
	})
	if err != nil {
		s.logger.Error("record result failed", "run_id", run.ID, "case_id", snap.CaseID, "outcome", string(in.Outcome), "error", err)
		return persistenceError("record result", err)
	}
	if !inserted && stored.Status != in.Outcome {
		s.logger.Warn("result already recorded with a different outcome",
			"run_id", run.ID, "case_id", snap.CaseID, "stored", string(stored.Status), "submitted", string(in.Outcome))
	}

	s.mu.Lock()
	s.counters = s.counters.Add(stored.Status)
	s.results = append(s.results, stored)
	s.index++
	s.failing = nil
	s.defect = nil
	s.defectID = ""
	s.state = StateRunning
	last := s.index == len(s.sequence)
	s.mu.Unlock()
	s.logger.Info("outcome recorded", "run_id", run.ID, "case_id", snap.CaseID, "outcome", string(stored.Status), "position", position)

	if last {
		return s.complete(ctx)
	}
	return nil
}

// Finish retries completion after every outcome is recorded. It is a no-op
// on a completed session.
func (s *Session) Finish(ctx context.Context) error {
	if err := s.begin(StateRunning, StateCompleted); err != nil {
		return err
	}
	defer s.end()
	s.mu.Lock()
	state := s.state
	pending := len(s.sequence) - s.index
	s.mu.Unlock()
	if state == StateCompleted {
		return nil
	}
	if pending > 0 {
		return fmt.Errorf("%w: %d cases still pending", ErrInvalidState, pending)
	}
	return s.complete(ctx)
}

func (s *Session) complete(ctx context.Context) error {
	s.mu.Lock()
	run := s.run
	counters := s.counters
	results := append([]domain.RunResult(nil), s.results...)
	s.mu.Unlock()

	completedAt := s.now()
	if err := s.runs.CompleteRun(ctx, s.params.ProjectID, run.ID, counters, completedAt); err != nil {
		s.logger.Error("complete run failed", "run_id", run.ID, "error", err)
		return persistenceError("complete run", err)
	}
	run.Status = domain.RunStatusCompleted
	run.CompletedAt = &completedAt
	run.PassedCount, run.FailedCount, run.BlockedCount = counters.Passed, counters.Failed, counters.Blocked
	summary := rollup.Summarize(run, results)

	s.mu.Lock()
	s.run = run
	s.summary = &summary
	s.state = StateCompleted
	s.mu.Unlock()
	s.logger.Info("run completed", "run_id", run.ID,
		"passed", counters.Passed, "failed", counters.Failed, "blocked", counters.Blocked, "pass_rate", summary.PassRate)
	return nil
}

// Abandon stops the session locally. Persisted results stay and the run
// remains in progress with partial counters.
func (s *Session) Abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	if s.state == StateCompleted {
		return fmt.Errorf("%w: run already completed", ErrInvalidState)
	}
	if !s.abandoned {
		s.abandoned = true
		s.logger.Info("session abandoned", "run_id", s.runID, "recorded", s.index, "total", len(s.sequence))
	}
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunID is empty until Start is first called. A failed Start keeps the id it
// minted so the retry writes the same run.
func (s *Session) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Pending is the number of selected cases without a recorded outcome.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sequence) - s.index
}

func (s *Session) Summary() (rollup.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return rollup.Summary{}, false
	}
	return *s.summary, true
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		State:     s.state,
		RunID:     s.runID,
		ProjectID: s.params.ProjectID,
		SuiteID:   s.params.SuiteID,
		Index:     s.index,
		Total:     len(s.sequence),
		Selected:  len(s.selected),
		Counters:  s.counters,
		Abandoned: s.abandoned,
	}
	if s.state != StateConfiguring && s.index < len(s.sequence) {
		current := s.sequence[s.index].Clone()
		v.Current = &current
	}
	if s.state == StateAwaitingDefectDetails && s.failing != nil {
		draft := s.draftLocked()
		v.Draft = &draft
	}
	if n := len(s.results); n > 0 {
		last := rollup.OutcomeOf(s.results[n-1])
		v.Last = &last
	}
	if s.summary != nil {
		summary := *s.summary
		v.Summary = &summary
	}
	return v
}
