package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
)

type CaseStore struct {
	db DB
}

const (
	caseColumns = `case_id, project_id, suite_id, title, description, steps, expected_result,
		priority, status, case_type, module, created_at, updated_at, created_by`

	insertCaseQuery = `INSERT INTO test_cases (
		case_id,
		project_id,
		suite_id,
		title,
		description,
		steps,
		expected_result,
		priority,
		status,
		case_type,
		module,
		created_at,
		updated_at,
		created_by
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

	selectCaseQuery = `SELECT ` + caseColumns + `
	 FROM test_cases
	 WHERE project_id = $1 AND case_id = $2`

	listActiveCasesBySuiteQuery = `SELECT ` + caseColumns + `
	 FROM test_cases
	 WHERE project_id = $1 AND suite_id = $2 AND status = 'Active'
	 ORDER BY created_at ASC, case_id ASC`

	updateCaseQuery = `UPDATE test_cases
	 SET suite_id = $3, title = $4, description = $5, steps = $6, expected_result = $7,
		priority = $8, status = $9, case_type = $10, module = $11, updated_at = $12
	 WHERE project_id = $1 AND case_id = $2`

	deleteCaseQuery = `DELETE FROM test_cases WHERE project_id = $1 AND case_id = $2`
)

func NewCaseStore(db DB) *CaseStore {
	if db == nil {
		return nil
	}
	return &CaseStore{db: db}
}

func (s *CaseStore) CreateCase(ctx context.Context, tc domain.TestCase) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("case store not initialized")
	}
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	steps, err := encodeSteps(tc.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	createdAt := normalizeTime(tc.CreatedAt)
	updatedAt := createdAt
	if !tc.UpdatedAt.IsZero() {
		updatedAt = tc.UpdatedAt.UTC()
	}
	_, err = s.db.ExecContext(
		ctx,
		insertCaseQuery,
		strings.TrimSpace(tc.ID),
		strings.TrimSpace(tc.ProjectID),
		strings.TrimSpace(tc.SuiteID),
		strings.TrimSpace(tc.Title),
		nullIfEmpty(tc.Description),
		steps,
		nullIfEmpty(tc.ExpectedResult),
		string(tc.Priority),
		string(tc.Status),
		string(tc.Type),
		nullIfEmpty(tc.Module),
		createdAt,
		updatedAt,
		strings.TrimSpace(tc.CreatedBy),
	)
	return mapWriteError("insert test case", err)
}

func (s *CaseStore) GetCase(ctx context.Context, projectID, id string) (domain.TestCase, error) {
	if s == nil || s.db == nil {
		return domain.TestCase{}, fmt.Errorf("case store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.TestCase{}, fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.TestCase{}, fmt.Errorf("case id is required")
	}
	tc, err := scanCase(s.db.QueryRowContext(ctx, selectCaseQuery, projectID, id))
	if err != nil {
		return domain.TestCase{}, handleNotFound(err)
	}
	return tc, nil
}

func (s *CaseStore) ListCases(ctx context.Context, filter repo.CaseFilter) ([]domain.TestCase, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store not initialized")
	}
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(column, value string) {
		if value = strings.TrimSpace(value); value != "" {
			args = append(args, value)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
		}
	}
	add("project_id", filter.ProjectID)
	add("suite_id", filter.SuiteID)
	add("status", string(filter.Status))
	add("priority", string(filter.Priority))
	add("module", filter.Module)

	query := `SELECT ` + caseColumns + ` FROM test_cases`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at ASC, case_id ASC"
	query, args = appendLimit(query, args, filter.Limit)
	return s.queryCases(ctx, query, args...)
}

func (s *CaseStore) ListActiveCasesBySuite(ctx context.Context, projectID, suiteID string) ([]domain.TestCase, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	suiteID = strings.TrimSpace(suiteID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	if suiteID == "" {
		return nil, fmt.Errorf("suite id is required")
	}
	return s.queryCases(ctx, listActiveCasesBySuiteQuery, projectID, suiteID)
}

func (s *CaseStore) queryCases(ctx context.Context, query string, args ...any) ([]domain.TestCase, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	defer rows.Close()

	out := make([]domain.TestCase, 0)
	for rows.Next() {
		tc, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan test case: %w", err)
		}
		out = append(out, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list test cases: %w", err)
	}
	return out, nil
}

func (s *CaseStore) UpdateCase(ctx context.Context, tc domain.TestCase) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("case store not initialized")
	}
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	steps, err := encodeSteps(tc.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		updateCaseQuery,
		strings.TrimSpace(tc.ProjectID),
		strings.TrimSpace(tc.ID),
		strings.TrimSpace(tc.SuiteID),
		strings.TrimSpace(tc.Title),
		nullIfEmpty(tc.Description),
		steps,
		nullIfEmpty(tc.ExpectedResult),
		string(tc.Priority),
		string(tc.Status),
		string(tc.Type),
		nullIfEmpty(tc.Module),
		normalizeTime(tc.UpdatedAt),
	)
	if err != nil {
		return mapWriteError("update test case", err)
	}
	return requireAffected(res, "update test case")
}

func (s *CaseStore) DeleteCase(ctx context.Context, projectID, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("case store not initialized")
	}
	res, err := s.db.ExecContext(ctx, deleteCaseQuery, strings.TrimSpace(projectID), strings.TrimSpace(id))
	if err != nil {
		return mapWriteError("delete test case", err)
	}
	return requireAffected(res, "delete test case")
}

func scanCase(row scanner) (domain.TestCase, error) {
	var tc domain.TestCase
	var description, expected, module sql.NullString
	var stepsJSON []byte
	var priority, status, caseType string
	if err := row.Scan(
		&tc.ID,
		&tc.ProjectID,
		&tc.SuiteID,
		&tc.Title,
		&description,
		&stepsJSON,
		&expected,
		&priority,
		&status,
		&caseType,
		&module,
		&tc.CreatedAt,
		&tc.UpdatedAt,
		&tc.CreatedBy,
	); err != nil {
		return domain.TestCase{}, err
	}
	steps, err := decodeSteps(stepsJSON)
	if err != nil {
		return domain.TestCase{}, fmt.Errorf("decode steps: %w", err)
	}
	tc.Steps = steps
	tc.Description = description.String
	tc.ExpectedResult = expected.String
	tc.Module = module.String
	tc.Priority = domain.Priority(priority)
	tc.Status = domain.CaseStatus(status)
	tc.Type = domain.CaseType(caseType)
	tc.CreatedAt = tc.CreatedAt.UTC()
	tc.UpdatedAt = tc.UpdatedAt.UTC()
	return tc, nil
}
