package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/service/audit"
	"github.com/animus-labs/qadash/internal/suitetree"
	"github.com/google/uuid"
)

type SuiteInput struct {
	ParentSuiteID string
	Name          string
	Description   string
}

type SuitePatch struct {
	Name        *string
	Description *string
}

func (s *Service) index(ctx context.Context, projectID string) (*suitetree.Index, error) {
	suites, err := s.suites.ListSuites(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return suitetree.New(suites), nil
}

// CreateSuite validates the parent against the project's current tree.
func (s *Service) CreateSuite(ctx context.Context, info audit.Info, projectID string, in SuiteInput) (domain.Suite, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return domain.Suite{}, err
	}
	now := s.now().UTC()
	suite := domain.Suite{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		ParentSuiteID: strings.TrimSpace(in.ParentSuiteID),
		Name:          strings.TrimSpace(in.Name),
		Description:   strings.TrimSpace(in.Description),
		CreatedAt:     now,
		UpdatedAt:     now,
		CreatedBy:     info.Actor,
	}
	if err := suite.Validate(); err != nil {
		return domain.Suite{}, invalid(err)
	}
	idx, err := s.index(ctx, projectID)
	if err != nil {
		return domain.Suite{}, err
	}
	if err := idx.ValidateParent(suite.ID, projectID, suite.ParentSuiteID); err != nil {
		return domain.Suite{}, err
	}
	if err := s.suites.CreateSuite(ctx, suite); err != nil {
		return domain.Suite{}, err
	}
	s.audit.Record(ctx, info, "suite.created", domain.AuditResourceSuite, suite.ID, projectID, domain.Metadata{
		"name":            suite.Name,
		"parent_suite_id": suite.ParentSuiteID,
	})
	return suite, nil
}

func (s *Service) GetSuite(ctx context.Context, projectID, id string) (domain.Suite, error) {
	return s.suites.GetSuite(ctx, projectID, id)
}

func (s *Service) ListSuites(ctx context.Context, projectID string) ([]domain.Suite, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.suites.ListSuites(ctx, projectID)
}

// SuiteTree returns the project's suites as a forest.
func (s *Service) SuiteTree(ctx context.Context, projectID string) ([]*suitetree.Node, error) {
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	idx, err := s.index(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return idx.Tree(), nil
}

// SuitePath returns suite names from the root down to id.
func (s *Service) SuitePath(ctx context.Context, projectID, id string) ([]string, error) {
	idx, err := s.index(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return idx.Path(id)
}

func (s *Service) UpdateSuite(ctx context.Context, info audit.Info, projectID, id string, patch SuitePatch) (domain.Suite, error) {
	suite, err := s.suites.GetSuite(ctx, projectID, id)
	if err != nil {
		return domain.Suite{}, err
	}
	if patch.Name != nil {
		suite.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		suite.Description = strings.TrimSpace(*patch.Description)
	}
	suite.UpdatedAt = s.now().UTC()
	if err := suite.Validate(); err != nil {
		return domain.Suite{}, invalid(err)
	}
	if err := s.suites.UpdateSuite(ctx, suite); err != nil {
		return domain.Suite{}, err
	}
	s.audit.Record(ctx, info, "suite.updated", domain.AuditResourceSuite, suite.ID, projectID, domain.Metadata{"name": suite.Name})
	return suite, nil
}

// MoveSuite reparents a suite. An empty parentID makes it a root. Moves that
// would put a suite below itself fail with suitetree.ErrCycle.
func (s *Service) MoveSuite(ctx context.Context, info audit.Info, projectID, id, parentID string) (domain.Suite, error) {
	idx, err := s.index(ctx, projectID)
	if err != nil {
		return domain.Suite{}, err
	}
	suite, ok := idx.Get(id)
	if !ok {
		return domain.Suite{}, s.notFoundSuite(ctx, projectID, id)
	}
	parentID = strings.TrimSpace(parentID)
	if err := idx.ValidateParent(suite.ID, projectID, parentID); err != nil {
		return domain.Suite{}, err
	}
	from := suite.ParentSuiteID
	if from == parentID {
		return suite, nil
	}
	suite.ParentSuiteID = parentID
	suite.UpdatedAt = s.now().UTC()
	if err := s.suites.UpdateSuite(ctx, suite); err != nil {
		return domain.Suite{}, err
	}
	s.audit.Record(ctx, info, "suite.moved", domain.AuditResourceSuite, suite.ID, projectID, domain.Metadata{
		"from_parent_suite_id": from,
		"to_parent_suite_id":   parentID,
	})
	return suite, nil
}

func (s *Service) notFoundSuite(ctx context.Context, projectID, id string) error {
	_, err := s.suites.GetSuite(ctx, projectID, id)
	if err == nil {
		return errors.New("suite index is stale")
	}
	return err
}

// DeleteSuite fails with repo.ErrConflict while the suite has children or cases.
func (s *Service) DeleteSuite(ctx context.Context, info audit.Info, projectID, id string) error {
	if err := s.suites.DeleteSuite(ctx, projectID, id); err != nil {
		return err
	}
	s.audit.Record(ctx, info, "suite.deleted", domain.AuditResourceSuite, id, projectID, nil)
	return nil
}
