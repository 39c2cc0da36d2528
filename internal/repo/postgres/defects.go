package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/google/uuid"
)

type DefectStore struct {
	db DB
}

const (
	defectColumns = `defect_id, project_id, case_id, run_id, title, description, severity, status,
		assigned_to, evidence_ref, created_at, updated_at, created_by`

	insertDefectQuery = `INSERT INTO defects (
		defect_id,
		project_id,
		case_id,
		run_id,
		title,
		description,
		severity,
		status,
		assigned_to,
		evidence_ref,
		created_at,
		updated_at,
		created_by
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	RETURNING ` + defectColumns

	selectDefectQuery = `SELECT ` + defectColumns + `
	 FROM defects
	 WHERE project_id = $1 AND defect_id = $2`

	updateDefectQuery = `UPDATE defects
	 SET case_id = $3, run_id = $4, title = $5, description = $6, severity = $7, status = $8,
		assigned_to = $9, evidence_ref = $10, updated_at = $11
	 WHERE project_id = $1 AND defect_id = $2`

	deleteDefectQuery = `DELETE FROM defects WHERE project_id = $1 AND defect_id = $2`
)

func NewDefectStore(db DB) *DefectStore {
	if db == nil {
		return nil
	}
	return &DefectStore{db: db}
}

// CreateDefect inserts the defect and returns the stored row, id included.
func (s *DefectStore) CreateDefect(ctx context.Context, defect domain.Defect) (domain.Defect, error) {
	if s == nil || s.db == nil {
		return domain.Defect{}, fmt.Errorf("defect store not initialized")
	}
	if strings.TrimSpace(defect.ID) == "" {
		defect.ID = uuid.NewString()
	}
	if defect.Status == "" {
		defect.Status = domain.DefectStatusOpen
	}
	createdAt := normalizeTime(defect.CreatedAt)
	updatedAt := createdAt
	if !defect.UpdatedAt.IsZero() {
		updatedAt = defect.UpdatedAt.UTC()
	}
	if err := defect.Validate(); err != nil {
		return domain.Defect{}, fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	stored, err := scanDefect(s.db.QueryRowContext(
		ctx,
		insertDefectQuery,
		strings.TrimSpace(defect.ID),
		strings.TrimSpace(defect.ProjectID),
		nullIfEmpty(defect.CaseID),
		nullIfEmpty(defect.RunID),
		strings.TrimSpace(defect.Title),
		strings.TrimSpace(defect.Description),
		string(defect.Severity),
		string(defect.Status),
		nullIfEmpty(defect.AssignedTo),
		nullIfEmpty(defect.EvidenceRef),
		createdAt,
		updatedAt,
		strings.TrimSpace(defect.CreatedBy),
	))
	if err != nil {
		return domain.Defect{}, mapWriteError("insert defect", err)
	}
	return stored, nil
}

func (s *DefectStore) GetDefect(ctx context.Context, projectID, id string) (domain.Defect, error) {
	if s == nil || s.db == nil {
		return domain.Defect{}, fmt.Errorf("defect store not initialized")
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return domain.Defect{}, fmt.Errorf("project id is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Defect{}, fmt.Errorf("defect id is required")
	}
	d, err := scanDefect(s.db.QueryRowContext(ctx, selectDefectQuery, projectID, id))
	if err != nil {
		return domain.Defect{}, handleNotFound(err)
	}
	return d, nil
}

func (s *DefectStore) ListDefects(ctx context.Context, filter repo.DefectFilter) ([]domain.Defect, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("defect store not initialized")
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
	add("run_id", filter.RunID)
	add("case_id", filter.CaseID)
	add("status", string(filter.Status))
	add("severity", string(filter.Severity))

	query := `SELECT ` + defectColumns + ` FROM defects`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, defect_id ASC"
	query, args = appendLimit(query, args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list defects: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Defect, 0)
	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan defect: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list defects: %w", err)
	}
	return out, nil
}

func (s *DefectStore) UpdateDefect(ctx context.Context, defect domain.Defect) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("defect store not initialized")
	}
	if err := defect.Validate(); err != nil {
		return fmt.Errorf("%w: %v", repo.ErrInvalid, err)
	}
	res, err := s.db.ExecContext(
		ctx,
		updateDefectQuery,
		strings.TrimSpace(defect.ProjectID),
		strings.TrimSpace(defect.ID),
		nullIfEmpty(defect.CaseID),
		nullIfEmpty(defect.RunID),
		strings.TrimSpace(defect.Title),
		strings.TrimSpace(defect.Description),
		string(defect.Severity),
		string(defect.Status),
		nullIfEmpty(defect.AssignedTo),
		nullIfEmpty(defect.EvidenceRef),
		normalizeTime(defect.UpdatedAt),
	)
	if err != nil {
		return mapWriteError("update defect", err)
	}
	return requireAffected(res, "update defect")
}

// DeleteDefect fails with repo.ErrConflict while a run result references the
// defect.
func (s *DefectStore) DeleteDefect(ctx context.Context, projectID, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("defect store not initialized")
	}
	res, err := s.db.ExecContext(ctx, deleteDefectQuery, strings.TrimSpace(projectID), strings.TrimSpace(id))
	if err != nil {
		return mapWriteError("delete defect", err)
	}
	return requireAffected(res, "delete defect")
}

func scanDefect(row scanner) (domain.Defect, error) {
	var d domain.Defect
	var caseID, runID, assignedTo, evidence sql.NullString
	var severity, status string
	if err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&caseID,
		&runID,
		&d.Title,
		&d.Description,
		&severity,
		&status,
		&assignedTo,
		&evidence,
		&d.CreatedAt,
		&d.UpdatedAt,
		&d.CreatedBy,
	); err != nil {
		return domain.Defect{}, err
	}
	d.CaseID = caseID.String
	d.RunID = runID.String
	d.AssignedTo = assignedTo.String
	d.EvidenceRef = evidence.String
	d.Severity = domain.Severity(severity)
	d.Status = domain.DefectStatus(status)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}
