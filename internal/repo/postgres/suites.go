package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
)

type SuiteStore struct {
	db DB
}

const (
	insertSuiteQuery = `INSERT INTO suites (
		suite_id,
		project_id,
		parent_suite_id,
		name,
		description,
		created_at,
		updated_at,
		created_by
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	selectSuiteQuery = `SELECT suite_id, project_id, parent_suite_id, name, description, created_at, updated_at, created_by
	 FROM suites
	 WHERE project_id = $1 AND suite_id = $2`

	listSuitesQuery = `SELECT suite_id, project_id, parent_suite_id, name, description, created_at, updated_at, created_by
	 FROM suites
	 WHERE project_id = $1
	 ORDER BY created_at ASC, suite_id ASC`

	updateSuiteQuery = `UPDATE suites
	 SET parent_suite_id = $3, name = $4, description = $5, updated_at = $6
	 WHERE project_id = $1 AND suite_id = $2`

	// Children and cases block deletion so subtrees are never orphaned.
	deleteSuiteQuery = `DELETE FROM suites s
	 WHERE s.project_id = $1 AND s.suite_id = $2
	   AND NOT EXISTS (SELECT 1 FROM suites c WHERE c.parent_suite_id = s.suite_id)
	   AND NOT EXISTS (SELECT 1 FROM test_cases tc WHERE tc.suite_id = s.suite_id)`
)

func NewSuiteStore(db DB) *SuiteStore {
	if db == nil {
		return nil
	}
	return &SuiteStore{db: db}
}

func (s *SuiteStore) CreateSuite(ctx context.Context, suite domain.Suite) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("suite store not initialized")
	}
	if err := suite.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	createdAt := normalizeTime(suite.CreatedAt)
	updatedAt := createdAt
	if !suite.UpdatedAt.IsZero() {
		updatedAt = suite.UpdatedAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		insertSuiteQuery,
		strings.TrimSpace(suite.ID),
		strings.TrimSpace(suite.ProjectID),
		nullIfEmpty(suite.ParentSuiteID),
		strings.TrimSpace(suite.Name),
		nullIfEmpty(suite.Description),
		createdAt,
		updatedAt,
		strings.TrimSpace(suite.CreatedBy),
	)
	return mapWriteError("insert suite", err)
}

func (s *SuiteStore) GetSuite(ctx context.Context, projectID, id string) (domain.Suite, error) {
	if s == nil || s.db == nil {
		return domain.Suite{}, fmt.Errorf("suite store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Suite{}, fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Suite{}, fmt.Errorf("suite id is required")
	}
	suite, err := scanSuite(s.db.QueryRowContext(ctx, selectSuiteQuery, projectID, id))
	if err != nil {
		return domain.Suite{}, handleNotFound(err)
	}
	return suite, nil
}

func (s *SuiteStore) ListSuites(ctx context.Context, projectID string) ([]domain.Suite, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("suite store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}
	rows, err := s.db.QueryContext(ctx, listSuitesQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("list suites: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Suite, 0)
	for rows.Next() {
		suite, err := scanSuite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan suite: %w", err)
		}
		out = append(out, suite)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list suites: %w", err)
	}
	return out, nil
}

func (s *SuiteStore) UpdateSuite(ctx context.Context, suite domain.Suite) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("suite store not initialized")
	}
	if err := suite.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	res, err := s.db.ExecContext(
		ctx,
		updateSuiteQuery,
		strings.TrimSpace(suite.ProjectID),
		strings.TrimSpace(suite.ID),
		nullIfEmpty(suite.ParentSuiteID),
		strings.TrimSpace(suite.Name),
		nullIfEmpty(suite.Description),
		normalizeTime(suite.UpdatedAt),
	)
	if err != nil {
		return mapWriteError("update suite", err)
	}
	return requireAffected(res, "update suite")
}

func (s *SuiteStore) DeleteSuite(ctx context.Context, projectID, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("suite store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	id = strings.TrimSpace(id)
	res, err := s.db.ExecContext(ctx, deleteSuiteQuery, projectID, id)
	if err != nil {
		return mapWriteError("delete suite", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete suite: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetSuite(ctx, projectID, id); err != nil {
		return err
	}
	return fmt.Errorf("suite %s has child suites or test cases: %w", id, repo.ErrConflict)
}

func scanSuite(row scanner) (domain.Suite, error) {
	var suite domain.Suite
	var parentID, description sql.NullString
	if err := row.Scan(&suite.ID, &suite.ProjectID, &parentID, &suite.Name, &description, &suite.CreatedAt, &suite.UpdatedAt, &suite.CreatedBy); err != nil {
		return domain.Suite{}, err
	}
	suite.ParentSuiteID = parentID.String
	suite.Description = description.String
	suite.CreatedAt = suite.CreatedAt.UTC()
	suite.UpdatedAt = suite.UpdatedAt.UTC()
	return suite, nil
}
