// Package catalog manages projects, suites and test cases.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/service/audit"
	"github.com/google/uuid"
)

// ErrInvalidInput marks caller mistakes; the wrapped message says which.
var ErrInvalidInput = errors.New("invalid input")

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

type Service struct {
	projects repo.ProjectRepository
	suites   repo.SuiteRepository
	cases    repo.CaseRepository
	audit    *audit.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

func New(projects repo.ProjectRepository, suites repo.SuiteRepository, cases repo.CaseRepository, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if projects == nil || suites == nil || cases == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		projects: projects,
		suites:   suites,
		cases:    cases,
		audit:    recorder,
		logger:   logger,
		now:      time.Now,
	}
}

type ProjectInput struct {
	Name        string
	Code        string
	Description string
}

// ProjectPatch updates only the non-nil fields.
type ProjectPatch struct {
	Name        *string
	Code        *string
	Description *string
}

func (s *Service) CreateProject(ctx context.Context, info audit.Info, in ProjectInput) (domain.Project, error) {
	now := s.now().UTC()
	p := domain.Project{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(in.Name),
		Code:        domain.NormalizeProjectCode(in.Code),
		Description: strings.TrimSpace(in.Description),
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   info.Actor,
	}
	if err := p.Validate(); err != nil {
		return domain.Project{}, invalid(err)
	}
	if err := s.projects.CreateProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	s.audit.Record(ctx, info, "project.created", domain.AuditResourceProject, p.ID, p.ID, domain.Metadata{
		"name": p.Name,
		"code": p.Code,
	})
	return p, nil
}

func (s *Service) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return s.projects.GetProject(ctx, id)
}

func (s *Service) ListProjects(ctx context.Context, filter repo.ProjectFilter) ([]domain.Project, error) {
	return s.projects.ListProjects(ctx, filter)
}

func (s *Service) UpdateProject(ctx context.Context, info audit.Info, id string, patch ProjectPatch) (domain.Project, error) {
	p, err := s.projects.GetProject(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Code != nil {
		p.Code = domain.NormalizeProjectCode(*patch.Code)
	}
	if patch.Description != nil {
		p.Description = strings.TrimSpace(*patch.Description)
	}
	p.UpdatedAt = s.now().UTC()
	if err := p.Validate(); err != nil {
		return domain.Project{}, invalid(err)
	}
	if err := s.projects.UpdateProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	s.audit.Record(ctx, info, "project.updated", domain.AuditResourceProject, p.ID, p.ID, domain.Metadata{
		"name": p.Name,
		"code": p.Code,
	})
	return p, nil
}

// DeleteProject removes the project with everything it owns.
func (s *Service) DeleteProject(ctx context.Context, info audit.Info, id string) error {
	if err := s.projects.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.audit.Record(ctx, info, "project.deleted", domain.AuditResourceProject, id, id, nil)
	return nil
}

func (s *Service) requireProject(ctx context.Context, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return invalid(errors.New("project id is required"))
	}
	_, err := s.projects.GetProject(ctx, projectID)
	return err
}
