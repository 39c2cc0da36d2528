package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
)

type ProjectStore struct {
	db DB
}

const (
	insertProjectQuery = `INSERT INTO projects (
		project_id,
		name,
		code,
		description,
		created_at,
		updated_at,
		created_by
	) VALUES ($1,$2,$3,$4,$5,$6,$7)`

	selectProjectQuery = `SELECT project_id, name, code, description, created_at, updated_at, created_by
	 FROM projects
	 WHERE project_id = $1`

	listProjectsQuery = `SELECT project_id, name, code, description, created_at, updated_at, created_by
	 FROM projects`

	updateProjectQuery = `UPDATE projects
	 SET name = $2, code = $3, description = $4, updated_at = $5
	 WHERE project_id = $1`

	deleteProjectQuery = `DELETE FROM projects WHERE project_id = $1`
)

func NewProjectStore(db DB) *ProjectStore {
	if db == nil {
		return nil
	}
	return &ProjectStore{db: db}
}

func (s *ProjectStore) CreateProject(ctx context.Context, project domain.Project) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("project store not initialized")
	}
	if err := project.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	createdAt := normalizeTime(project.CreatedAt)
	updatedAt := createdAt
	if !project.UpdatedAt.IsZero() {
		updatedAt = project.UpdatedAt.UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		insertProjectQuery,
		strings.TrimSpace(project.ID),
		strings.TrimSpace(project.Name),
		project.Code,
		nullIfEmpty(project.Description),
		createdAt,
		updatedAt,
		strings.TrimSpace(project.CreatedBy),
	)
	return mapWriteError("insert project", err)
}

func (s *ProjectStore) GetProject(ctx context.Context, id string) (domain.Project, error) {
	if s == nil || s.db == nil {
		return domain.Project{}, fmt.Errorf("project store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Project{}, fmt.Errorf("project id is required")
	}
	project, err := scanProject(s.db.QueryRowContext(ctx, selectProjectQuery, id))
	if err != nil {
		return domain.Project{}, handleNotFound(err)
	}
	return project, nil
}

func (s *ProjectStore) ListProjects(ctx context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("project store not initialized")
	}
	query := listProjectsQuery
	args := make([]any, 0, 2)
	if name := strings.TrimSpace(filter.Name); name != "" {
		args = append(args, "%"+name+"%")
		query += fmt.Sprintf(" WHERE name ILIKE $%d", len(args))
	}
	query += " ORDER BY created_at DESC, project_id ASC"
	query, args = appendLimit(query, args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

func (s *ProjectStore) UpdateProject(ctx context.Context, project domain.Project) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("project store not initialized")
	}
	if err := project.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	res, err := s.db.ExecContext(
		ctx,
		updateProjectQuery,
		strings.TrimSpace(project.ID),
		strings.TrimSpace(project.Name),
		project.Code,
		nullIfEmpty(project.Description),
		normalizeTime(project.UpdatedAt),
	)
	if err != nil {
		return mapWriteError("update project", err)
	}
	return requireAffected(res, "update project")
}

func (s *ProjectStore) DeleteProject(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("project store not initialized")
	}
	res, err := s.db.ExecContext(ctx, deleteProjectQuery, strings.TrimSpace(id))
	if err != nil {
		return mapWriteError("delete project", err)
	}
	return requireAffected(res, "delete project")
}

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var description sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Code, &description, &p.CreatedAt, &p.UpdatedAt, &p.CreatedBy); err != nil {
		return domain.Project{}, err
	}
	p.Description = description.String
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}
