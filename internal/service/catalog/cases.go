package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/service/audit"
	"github.com/google/uuid"
)

type CaseInput struct {
	SuiteID        string
	Title          string
	Description    string
	Steps          []string
	ExpectedResult string
	Priority       string
	Status         string
	Type           string
	Module         string
}

type CasePatch struct {
	SuiteID        *string
	Title          *string
	Description    *string
	Steps          *[]string
	ExpectedResult *string
	Priority       *string
	Status         *string
	Type           *string
	Module         *string
}

func cleanSteps(steps []string) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		if step = strings.TrimSpace(step); step != "" {
			out = append(out, step)
		}
	}
	return out
}

func (s *Service) buildCase(projectID string, in CaseInput) (domain.TestCase, error) {
	priority, err := domain.ParsePriority(in.Priority)
	if err != nil {
		return domain.TestCase{}, invalid(err)
	}
	status, err := domain.ParseCaseStatus(in.Status)
	if err != nil {
		return domain.TestCase{}, invalid(err)
	}
	caseType, err := domain.ParseCaseType(in.Type)
	if err != nil {
		return domain.TestCase{}, invalid(err)
	}
	now := s.now().UTC()
	tc := domain.TestCase{
		ID:             uuid.NewString(),
		ProjectID:      projectID,
		SuiteID:        strings.TrimSpace(in.SuiteID),
		Title:          strings.TrimSpace(in.Title),
		Description:    strings.TrimSpace(in.Description),
		Steps:          cleanSteps(in.Steps),
		ExpectedResult: strings.TrimSpace(in.ExpectedResult),
		Priority:       priority,
		Status:         status,
		Type:           caseType,
		Module:         strings.TrimSpace(in.Module),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tc.Validate(); err != nil {
		return domain.TestCase{}, invalid(err)
	}
	return tc, nil
}

func (s *Service) CreateCase(ctx context.Context, info audit.Info, projectID string, in CaseInput) (domain.TestCase, error) {
	tc, err := s.buildCase(projectID, in)
	if err != nil {
		return domain.TestCase{}, err
	}
	tc.CreatedBy = info.Actor
	if _, err := s.suites.GetSuite(ctx, projectID, tc.SuiteID); err != nil {
		return domain.TestCase{}, fmt.Errorf("suite %s: %w", tc.SuiteID, err)
	}
	if err := s.cases.CreateCase(ctx, tc); err != nil {
		return domain.TestCase{}, err
	}
	s.audit.Record(ctx, info, "test_case.created", domain.AuditResourceCase, tc.ID, projectID, domain.Metadata{
		"suite_id": tc.SuiteID,
		"title":    tc.Title,
		"status":   string(tc.Status),
	})
	return tc, nil
}

func (s *Service) GetCase(ctx context.Context, projectID, id string) (domain.TestCase, error) {
	return s.cases.GetCase(ctx, projectID, id)
}

func (s *Service) ListCases(ctx context.Context, filter repo.CaseFilter) ([]domain.TestCase, error) {
	if err := s.requireProject(ctx, filter.ProjectID); err != nil {
		return nil, err
	}
	return s.cases.ListCases(ctx, filter)
}

// UpdateCase edits the live case. Runs already started keep their snapshots.
func (s *Service) UpdateCase(ctx context.Context, info audit.Info, projectID, id string, patch CasePatch) (domain.TestCase, error) {
	tc, err := s.cases.GetCase(ctx, projectID, id)
	if err != nil {
		return domain.TestCase{}, err
	}
	changed := make([]string, 0, 9)
	setString := func(field string, dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
			changed = append(changed, field)
		}
	}
	setString("suite_id", &tc.SuiteID, patch.SuiteID)
	setString("title", &tc.Title, patch.Title)
	setString("description", &tc.Description, patch.Description)
	setString("expected_result", &tc.ExpectedResult, patch.ExpectedResult)
	setString("module", &tc.Module, patch.Module)
	if patch.Steps != nil {
		tc.Steps = cleanSteps(*patch.Steps)
		changed = append(changed, "steps")
	}
	if patch.Priority != nil {
		if tc.Priority, err = domain.ParsePriority(*patch.Priority); err != nil {
			return domain.TestCase{}, invalid(err)
		}
		changed = append(changed, "priority")
	}
	if patch.Status != nil {
		if tc.Status, err = domain.ParseCaseStatus(*patch.Status); err != nil {
			return domain.TestCase{}, invalid(err)
		}
		changed = append(changed, "status")
	}
	if patch.Type != nil {
		if tc.Type, err = domain.ParseCaseType(*patch.Type); err != nil {
			return domain.TestCase{}, invalid(err)
		}
		changed = append(changed, "type")
	}
	tc.UpdatedAt = s.now().UTC()
	if err := tc.Validate(); err != nil {
		return domain.TestCase{}, invalid(err)
	}
	if patch.SuiteID != nil {
		if _, err := s.suites.GetSuite(ctx, projectID, tc.SuiteID); err != nil {
			return domain.TestCase{}, fmt.Errorf("suite %s: %w", tc.SuiteID, err)
		}
	}
	if err := s.cases.UpdateCase(ctx, tc); err != nil {
		return domain.TestCase{}, err
	}
	s.audit.Record(ctx, info, "test_case.updated", domain.AuditResourceCase, tc.ID, projectID, domain.Metadata{"fields": changed})
	return tc, nil
}

// DeleteCase removes the live case. Historical results keep their snapshots.
func (s *Service) DeleteCase(ctx context.Context, info audit.Info, projectID, id string) error {
	if err := s.cases.DeleteCase(ctx, projectID, id); err != nil {
		return err
	}
	s.audit.Record(ctx, info, "test_case.deleted", domain.AuditResourceCase, id, projectID, nil)
	return nil
}
