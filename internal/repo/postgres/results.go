package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/google/uuid"
)

type ResultStore struct {
	db DB
}

const (
	resultColumns = `result_id, run_id, project_id, case_id, position, status, remarks, actual_result,
		evidence_ref, defect_id, snapshot, executed_by, executed_at`

	// recordResultQuery inserts the result and bumps the matching counter of
	// its run in one statement. A conflicting (run_id, case_id) inserts
	// nothing, so the counter update joins no rows and the query returns none.
	recordResultQuery = `WITH inserted AS (
		INSERT INTO test_run_results (
			result_id,
			run_id,
			project_id,
			case_id,
			position,
			status,
			remarks,
			actual_result,
			evidence_ref,
			defect_id,
			snapshot,
			executed_by,
			executed_at
		)
		SELECT $1, $2, $3, $4, $5::integer, $6, $7, $8, $9, $10, $11::jsonb, $12, $13::timestamptz
		WHERE EXISTS (SELECT 1 FROM test_runs WHERE project_id = $3 AND run_id = $2)
		ON CONFLICT (run_id, case_id) DO NOTHING
		RETURNING result_id, run_id, status
	), bumped AS (
		UPDATE test_runs r
		SET passed_count = r.passed_count + CASE WHEN i.status = 'Pass' THEN 1 ELSE 0 END,
			failed_count = r.failed_count + CASE WHEN i.status = 'Failed' THEN 1 ELSE 0 END,
			blocked_count = r.blocked_count + CASE WHEN i.status = 'Blocked' THEN 1 ELSE 0 END
		FROM inserted i
		WHERE r.run_id = i.run_id
		RETURNING r.run_id
	)
	SELECT inserted.result_id FROM inserted JOIN bumped ON bumped.run_id = inserted.run_id`

	selectResultByCaseQuery = `SELECT ` + resultColumns + `
	 FROM test_run_results
	 WHERE project_id = $1 AND run_id = $2 AND case_id = $3`

	listResultsByRunQuery = `SELECT ` + resultColumns + `
	 FROM test_run_results
	 WHERE project_id = $1 AND run_id = $2
	 ORDER BY position ASC, executed_at ASC`

	runExistsQuery = `SELECT 1 FROM test_runs WHERE project_id = $1 AND run_id = $2`
)

func NewResultStore(db DB) *ResultStore {
	if db == nil {
		return nil
	}
	return &ResultStore{db: db}
}

func (s *ResultStore) RecordResult(ctx context.Context, result domain.RunResult) (domain.RunResult, bool, error) {
	if s == nil || s.db == nil {
		return domain.RunResult{}, false, fmt.Errorf("result store not initialized")
	}
	if err := result.Validate(); err != nil {
		return domain.RunResult{}, false, fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	if strings.TrimSpace(result.ID) == "" {
		result.ID = uuid.NewString()
	}
	result.ExecutedAt = normalizeTime(result.ExecutedAt)
	snapshot, err := json.Marshal(result.Snapshot)
	if err != nil {
		return domain.RunResult{}, false, fmt.Errorf("encode snapshot: %w", err)
	}

	var id string
	err = s.db.QueryRowContext(
		ctx,
		recordResultQuery,
		strings.TrimSpace(result.ID),
		strings.TrimSpace(result.RunID),
		strings.TrimSpace(result.ProjectID),
		strings.TrimSpace(result.CaseID),
		result.Position,
		string(result.Status),
		nullIfEmpty(result.Remarks),
		nullIfEmpty(result.ActualResult),
		nullIfEmpty(result.EvidenceRef),
		nullIfEmpty(result.DefectID),
		snapshot,
		strings.TrimSpace(result.ExecutedBy),
		result.ExecutedAt,
	).Scan(&id)
	if err == nil {
		result.ID = id
		result.Snapshot = result.Snapshot.Clone()
		return result, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.RunResult{}, false, mapWriteError("record result", err)
	}

	existing, err := scanResult(s.db.QueryRowContext(ctx, selectResultByCaseQuery, result.ProjectID, result.RunID, result.CaseID))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.RunResult{}, false, fmt.Errorf("select result: %w", err)
	}
	return domain.RunResult{}, false, fmt.Errorf("run %s: %w", result.RunID, repo.ErrNotFound)
}

func (s *ResultStore) ListResultsByRun(ctx context.Context, projectID, runID string) ([]domain.RunResult, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	runID = strings.TrimSpace(runID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	var one int
	if err := s.db.QueryRowContext(ctx, runExistsQuery, projectID, runID).Scan(&one); err != nil {
		return nil, handleNotFound(err)
	}
	return s.queryResults(ctx, listResultsByRunQuery, projectID, runID)
}

func (s *ResultStore) ListResults(ctx context.Context, filter repo.ResultFilter) ([]domain.RunResult, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if v := strings.TrimSpace(filter.ProjectID); v != "" {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		clauses = append(clauses, fmt.Sprintf("executed_at >= $%d", len(args)))
	}
	query := `SELECT ` + resultColumns + ` FROM test_run_results`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY executed_at DESC, result_id ASC"
	query, args = appendLimit(query, args, filter.Limit)
	return s.queryResults(ctx, query, args...)
}

func (s *ResultStore) queryResults(ctx context.Context, query string, args ...any) ([]domain.RunResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RunResult, 0)
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

func scanResult(row scanner) (domain.RunResult, error) {
	var r domain.RunResult
	var status string
	var remarks, actual, evidence, defectID sql.NullString
	var snapshot []byte
	if err := row.Scan(
		&r.ID,
		&r.RunID,
		&r.ProjectID,
		&r.CaseID,
		&r.Position,
		&status,
		&remarks,
		&actual,
		&evidence,
		&defectID,
		&snapshot,
		&r.ExecutedBy,
		&r.ExecutedAt,
	); err != nil {
		return domain.RunResult{}, err
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &r.Snapshot); err != nil {
			return domain.RunResult{}, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	r.Status = domain.Outcome(status)
	r.Remarks = remarks.String
	r.ActualResult = actual.String
	r.EvidenceRef = evidence.String
	r.DefectID = defectID.String
	r.ExecutedAt = r.ExecutedAt.UTC()
	return r, nil
}
