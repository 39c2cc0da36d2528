// Package reports aggregates run results into dashboards and run reports.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/execution/rollup"
	"github.com/animus-labs/qadash/internal/platform/requestid"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/service/audit"
	"github.com/google/uuid"
)

var (
	ErrShareExpired = errors.New("report share expired")
	ErrInvalidInput = errors.New("invalid input")
)

// trendDays caps the daily trend to the most recent days with activity.
const trendDays = 7

const otherModule = "Other"

type Service struct {
	store      repo.Store
	audit      *audit.Recorder
	logger     *slog.Logger
	now        func() time.Time
	defaultTTL time.Duration
}

// New needs projects, cases, runs, results and defects from store. Shares
// are only required for share links.
func New(store repo.Store, recorder *audit.Recorder, shareTTL time.Duration, logger *slog.Logger) *Service {
	if store.Projects == nil || store.Cases == nil || store.Runs == nil || store.Results == nil || store.Defects == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: recorder, logger: logger, now: time.Now, defaultTTL: shareTTL}
}

type Totals struct {
	Projects    int `json:"projects"`
	Cases       int `json:"cases"`
	Modules     int `json:"modules"`
	Runs        int `json:"runs"`
	OpenDefects int `json:"open_defects"`
}

type OutcomeCounts struct {
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Blocked  int     `json:"blocked"`
	Total    int     `json:"total"`
	PassRate float64 `json:"pass_rate"`
}

func (c *OutcomeCounts) add(o domain.Outcome) {
	switch o {
	case domain.OutcomePass:
		c.Passed++
	case domain.OutcomeFailed:
		c.Failed++
	case domain.OutcomeBlocked:
		c.Blocked++
	}
	c.Total++
	c.PassRate = domain.PassRate(c.Passed, c.Total)
}

type ModuleBreakdown struct {
	Module string `json:"module"`
	OutcomeCounts
}

type TrendPoint struct {
	Day string `json:"day"`
	OutcomeCounts
}

type Dashboard struct {
	Window     Window            `json:"window"`
	Since      *time.Time        `json:"since,omitempty"`
	Totals     Totals            `json:"totals"`
	Results    OutcomeCounts     `json:"results"`
	Modules    []ModuleBreakdown `json:"modules"`
	Trend      []TrendPoint      `json:"trend"`
	BySeverity map[string]int    `json:"defects_by_severity"`
	ByStatus   map[string]int    `json:"defects_by_status"`
}

// Dashboard aggregates one project, or every project when projectID is empty.
func (s *Service) Dashboard(ctx context.Context, projectID string, window Window) (Dashboard, error) {
	projectID = strings.TrimSpace(projectID)
	now := s.now().UTC()
	since := window.Since(now)
	out := Dashboard{
		Window:     window,
		BySeverity: make(map[string]int),
		ByStatus:   make(map[string]int),
		Modules:    []ModuleBreakdown{},
		Trend:      []TrendPoint{},
	}
	if !since.IsZero() {
		out.Since = &since
	}

	if projectID != "" {
		if _, err := s.store.Projects.GetProject(ctx, projectID); err != nil {
			return Dashboard{}, err
		}
		out.Totals.Projects = 1
	} else {
		projects, err := s.store.Projects.ListProjects(ctx, repo.ProjectFilter{})
		if err != nil {
			return Dashboard{}, err
		}
		out.Totals.Projects = len(projects)
	}

	cases, err := s.store.Cases.ListCases(ctx, repo.CaseFilter{ProjectID: projectID})
	if err != nil {
		return Dashboard{}, err
	}
	out.Totals.Cases = len(cases)
	modules := make(map[string]struct{})
	for _, tc := range cases {
		modules[moduleName(tc.Module)] = struct{}{}
	}
	out.Totals.Modules = len(modules)

	runs, err := s.store.Runs.ListRuns(ctx, repo.RunFilter{ProjectID: projectID, Since: since})
	if err != nil {
		return Dashboard{}, err
	}
	out.Totals.Runs = len(runs)

	defects, err := s.store.Defects.ListDefects(ctx, repo.DefectFilter{ProjectID: projectID})
	if err != nil {
		return Dashboard{}, err
	}
	for _, d := range defects {
		if d.IsOpen() {
			out.Totals.OpenDefects++
		}
		out.BySeverity[string(d.Severity)]++
		out.ByStatus[string(d.Status)]++
	}

	results, err := s.store.Results.ListResults(ctx, repo.ResultFilter{ProjectID: projectID, Since: since})
	if err != nil {
		return Dashboard{}, err
	}
	byModule := make(map[string]*OutcomeCounts)
	byDay := make(map[string]*OutcomeCounts)
	for _, r := range results {
		out.Results.add(r.Status)
		mod := moduleName(r.Snapshot.Module)
		if byModule[mod] == nil {
			byModule[mod] = &OutcomeCounts{}
		}
		byModule[mod].add(r.Status)
		day := r.ExecutedAt.UTC().Format(time.DateOnly)
		if byDay[day] == nil {
			byDay[day] = &OutcomeCounts{}
		}
		byDay[day].add(r.Status)
	}
	for mod, counts := range byModule {
		out.Modules = append(out.Modules, ModuleBreakdown{Module: mod, OutcomeCounts: *counts})
	}
	sort.Slice(out.Modules, func(i, j int) bool { return out.Modules[i].Module < out.Modules[j].Module })
	for day, counts := range byDay {
		out.Trend = append(out.Trend, TrendPoint{Day: day, OutcomeCounts: *counts})
	}
	sort.Slice(out.Trend, func(i, j int) bool { return out.Trend[i].Day < out.Trend[j].Day })
	if len(out.Trend) > trendDays {
		out.Trend = out.Trend[len(out.Trend)-trendDays:]
	}
	return out, nil
}

func moduleName(m string) string {
	if m = strings.TrimSpace(m); m == "" {
		return otherModule
	}
	return m
}

type RunReport struct {
	Run     domain.TestRun
	Summary rollup.Summary
	Defects []domain.Defect
	// Computed holds counters recomputed from results; Drift is true when
	// they differ from the run's stored counters.
	Computed domain.Counters
	Drift    bool
	// CompletionPending is true when every case has an outcome but the run
	// was never marked completed, e.g. its session died before Finish.
	CompletionPending bool
}

func (s *Service) RunReport(ctx context.Context, projectID, runID string) (RunReport, error) {
	run, err := s.store.Runs.GetRun(ctx, projectID, runID)
	if err != nil {
		return RunReport{}, err
	}
	results, err := s.store.Results.ListResultsByRun(ctx, projectID, runID)
	if err != nil {
		return RunReport{}, err
	}
	cases, err := s.store.Cases.ListCases(ctx, repo.CaseFilter{ProjectID: projectID, SuiteID: run.SuiteID})
	if err != nil {
		return RunReport{}, err
	}
	live := make(map[string]domain.TestCase, len(cases))
	for _, tc := range cases {
		live[tc.ID] = tc
	}
	summary := rollup.Summarize(run, results)
	summary.ResolveLive(live)

	defects, err := s.store.Defects.ListDefects(ctx, repo.DefectFilter{ProjectID: projectID, RunID: runID})
	if err != nil {
		return RunReport{}, err
	}
	computed, drift := rollup.Reconcile(run, results)
	if drift {
		s.logger.Warn("run counters diverge from results", "run_id", runID,
			"stored_passed", run.PassedCount, "stored_failed", run.FailedCount, "stored_blocked", run.BlockedCount,
			"passed", computed.Passed, "failed", computed.Failed, "blocked", computed.Blocked)
	}
	pending := run.Status == domain.RunStatusInProgress && summary.Complete()
	if pending {
		s.logger.Warn("run has every outcome but is not completed", "run_id", runID)
	}
	return RunReport{Run: run, Summary: summary, Defects: defects, Computed: computed, Drift: drift, CompletionPending: pending}, nil
}

// CreateShare issues a token granting read access to one run report. A zero
// ttl uses the configured default; a negative one never expires.
func (s *Service) CreateShare(ctx context.Context, info audit.Info, projectID, runID string, ttl time.Duration) (domain.ReportShare, error) {
	if s.store.Shares == nil {
		return domain.ReportShare{}, errors.New("share store not configured")
	}
	if _, err := s.store.Runs.GetRun(ctx, projectID, runID); err != nil {
		return domain.ReportShare{}, err
	}
	token, err := requestid.Token(24)
	if err != nil {
		return domain.ReportShare{}, fmt.Errorf("share token: %w", err)
	}
	now := s.now().UTC()
	share := domain.ReportShare{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		RunID:     runID,
		Token:     token,
		CreatedBy: info.Actor,
		CreatedAt: now,
	}
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		share.ExpiresAt = &expires
	}
	if err := share.Validate(); err != nil {
		return domain.ReportShare{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.store.Shares.CreateShare(ctx, share); err != nil {
		return domain.ReportShare{}, err
	}
	meta := domain.Metadata{"run_id": runID}
	if share.ExpiresAt != nil {
		meta["expires_at"] = share.ExpiresAt.Format(time.RFC3339)
	}
	s.audit.Record(ctx, info, "report_share.created", domain.AuditResourceShare, share.ID, projectID, meta)
	return share, nil
}

// ResolveShare returns the shared run report.
func (s *Service) ResolveShare(ctx context.Context, token string) (RunReport, error) {
	if s.store.Shares == nil {
		return RunReport{}, errors.New("share store not configured")
	}
	share, err := s.store.Shares.GetShareByToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return RunReport{}, err
	}
	if share.Expired(s.now().UTC()) {
		return RunReport{}, ErrShareExpired
	}
	return s.RunReport(ctx, share.ProjectID, share.RunID)
}
