package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/google/uuid"
)

type RunStore struct {
	db DB
}

const (
	runColumns = `run_id, project_id, suite_id, title, status, executed_by, runner_name, total_cases,
		passed_count, failed_count, blocked_count, started_at, completed_at`

	insertRunQuery = `INSERT INTO test_runs (
		run_id,
		project_id,
		suite_id,
		title,
		status,
		executed_by,
		runner_name,
		total_cases,
		passed_count,
		failed_count,
		blocked_count,
		started_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,0,0,$9)`

	selectRunQuery = `SELECT ` + runColumns + `
	 FROM test_runs
	 WHERE project_id = $1 AND run_id = $2`

	// Final counters and completion are written in one statement.
	completeRunQuery = `UPDATE test_runs
	 SET status = 'Completed', completed_at = $3, passed_count = $4, failed_count = $5, blocked_count = $6
	 WHERE project_id = $1 AND run_id = $2`
)

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

// CreateRun inserts a run in progress with zero counters and returns it with
// its generated id.
func (s *RunStore) CreateRun(ctx context.Context, run domain.TestRun) (domain.TestRun, error) {
	if s == nil || s.db == nil {
		return domain.TestRun{}, fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(run.ID) == "" {
		run.ID = uuid.NewString()
	}
	run.Status = domain.RunStatusInProgress
	run.PassedCount, run.FailedCount, run.BlockedCount = 0, 0, 0
	run.StartedAt = normalizeTime(run.StartedAt)
	run.CompletedAt = nil
	if err := run.Validate(); err != nil {
		return domain.TestRun{}, fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	_, err := s.db.ExecContext(
		ctx,
		insertRunQuery,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.ProjectID),
		strings.TrimSpace(run.SuiteID),
		nullIfEmpty(run.Title),
		string(run.Status),
		strings.TrimSpace(run.ExecutedBy),
		nullIfEmpty(run.RunnerName),
		run.TotalCases,
		run.StartedAt,
	)
	if err != nil {
		return domain.TestRun{}, mapWriteError("insert run", err)
	}
	return run, nil
}

func (s *RunStore) GetRun(ctx context.Context, projectID, id string) (domain.TestRun, error) {
	if s == nil || s.db == nil {
		return domain.TestRun{}, fmt.Errorf("run store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.TestRun{}, fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.TestRun{}, fmt.Errorf("run id is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunQuery, projectID, id))
	if err != nil {
		return domain.TestRun{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.TestRun, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 5)
	if v := strings.TrimSpace(filter.ProjectID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if v := strings.TrimSpace(filter.SuiteID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("suite_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		clauses = append(clauses, fmt.Sprintf("started_at >= $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM test_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY started_at DESC, run_id ASC"
	query, args = appendLimit(query, args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.TestRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) CompleteRun(ctx context.Context, projectID, id string, counters domain.Counters, completedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	res, err := s.db.ExecContext(
		ctx,
		completeRunQuery,
		strings.TrimSpace(projectID),
		strings.TrimSpace(id),
		normalizeTime(completedAt),
		counters.Passed,
		counters.Failed,
		counters.Blocked,
	)
	if err != nil {
		return mapWriteError("complete run", err)
	}
	return requireAffected(res, "complete run")
}

func scanRun(row scanner) (domain.TestRun, error) {
	var run domain.TestRun
	var title, runner sql.NullString
	var status string
	var completedAt sql.NullTime
	if err := row.Scan(
		&run.ID,
		&run.ProjectID,
		&run.SuiteID,
		&title,
		&status,
		&run.ExecutedBy,
		&runner,
		&run.TotalCases,
		&run.PassedCount,
		&run.FailedCount,
		&run.BlockedCount,
		&run.StartedAt,
		&completedAt,
	); err != nil {
		return domain.TestRun{}, err
	}
	run.Title = title.String
	run.RunnerName = runner.String
	run.Status = domain.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	run.CompletedAt = timePtr(completedAt)
	return run, nil
}
