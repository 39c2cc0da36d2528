// Package defects manages defects outside of run execution.
package defects

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

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("defect status transition not allowed")
)

type Service struct {
	defects repo.DefectRepository
	cases   repo.CaseRepository
	runs    repo.RunRepository
	audit   *audit.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

// New returns nil without a defect repository. Cases and runs are optional
// and only used to check links on create.
func New(defects repo.DefectRepository, cases repo.CaseRepository, runs repo.RunRepository, recorder *audit.Recorder, logger *slog.Logger) *Service {
	if defects == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{defects: defects, cases: cases, runs: runs, audit: recorder, logger: logger, now: time.Now}
}

type Input struct {
	CaseID      string
	RunID       string
	Title       string
	Description string
	Severity    string
	AssignedTo  string
	EvidenceRef string
}

type Patch struct {
	Title       *string
	Description *string
	Severity    *string
	AssignedTo  *string
	EvidenceRef *string
}

func (s *Service) Create(ctx context.Context, info audit.Info, projectID string, in Input) (domain.Defect, error) {
	severity, err := domain.ParseSeverity(in.Severity)
	if err != nil {
		return domain.Defect{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	now := s.now().UTC()
	d := domain.Defect{
		ID:          uuid.NewString(),
		ProjectID:   strings.TrimSpace(projectID),
		CaseID:      strings.TrimSpace(in.CaseID),
		RunID:       strings.TrimSpace(in.RunID),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		Severity:    severity,
		Status:      domain.DefectStatusOpen,
		AssignedTo:  strings.TrimSpace(in.AssignedTo),
		EvidenceRef: strings.TrimSpace(in.EvidenceRef),
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   info.Actor,
	}
	if err := d.Validate(); err != nil {
		return domain.Defect{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if d.CaseID != "" && s.cases != nil {
		if _, err := s.cases.GetCase(ctx, d.ProjectID, d.CaseID); err != nil {
			return domain.Defect{}, fmt.Errorf("case %s: %w", d.CaseID, err)
		}
	}
	if d.RunID != "" && s.runs != nil {
		if _, err := s.runs.GetRun(ctx, d.ProjectID, d.RunID); err != nil {
			return domain.Defect{}, fmt.Errorf("run %s: %w", d.RunID, err)
		}
	}
	created, err := s.defects.CreateDefect(ctx, d)
	if err != nil {
		return domain.Defect{}, err
	}
	s.audit.Record(ctx, info, "defect.created", domain.AuditResourceDefect, created.ID, created.ProjectID, domain.Metadata{
		"title":    created.Title,
		"severity": string(created.Severity),
		"case_id":  created.CaseID,
		"run_id":   created.RunID,
	})
	return created, nil
}

func (s *Service) Get(ctx context.Context, projectID, id string) (domain.Defect, error) {
	return s.defects.GetDefect(ctx, projectID, id)
}

func (s *Service) List(ctx context.Context, filter repo.DefectFilter) ([]domain.Defect, error) {
	return s.defects.ListDefects(ctx, filter)
}

func (s *Service) Update(ctx context.Context, info audit.Info, projectID, id string, patch Patch) (domain.Defect, error) {
	d, err := s.defects.GetDefect(ctx, projectID, id)
	if err != nil {
		return domain.Defect{}, err
	}
	var fields []string
	set := func(name string, dst, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
			fields = append(fields, name)
		}
	}
	set("title", &d.Title, patch.Title)
	set("description", &d.Description, patch.Description)
	set("assigned_to", &d.AssignedTo, patch.AssignedTo)
	set("evidence_ref", &d.EvidenceRef, patch.EvidenceRef)
	if patch.Severity != nil {
		if d.Severity, err = domain.ParseSeverity(*patch.Severity); err != nil {
			return domain.Defect{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		fields = append(fields, "severity")
	}
	d.UpdatedAt = s.now().UTC()
	if err := d.Validate(); err != nil {
		return domain.Defect{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.defects.UpdateDefect(ctx, d); err != nil {
		return domain.Defect{}, err
	}
	s.audit.Record(ctx, info, "defect.updated", domain.AuditResourceDefect, d.ID, projectID, domain.Metadata{"fields": fields})
	return d, nil
}

// Transition moves a defect along its workflow.
func (s *Service) Transition(ctx context.Context, info audit.Info, projectID, id, status string) (domain.Defect, error) {
	next, err := domain.ParseDefectStatus(status)
	if err != nil || strings.TrimSpace(status) == "" {
		return domain.Defect{}, fmt.Errorf("%w: status %q", ErrInvalidInput, status)
	}
	d, err := s.defects.GetDefect(ctx, projectID, id)
	if err != nil {
		return domain.Defect{}, err
	}
	from := d.Status
	if from == next {
		return d, nil
	}
	if !domain.CanTransitionDefect(from, next) {
		return domain.Defect{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	d.Status = next
	d.UpdatedAt = s.now().UTC()
	if err := s.defects.UpdateDefect(ctx, d); err != nil {
		return domain.Defect{}, err
	}
	s.logger.Info("defect status changed", "defect_id", d.ID, "from", string(from), "to", string(next))
	s.audit.Record(ctx, info, "defect.status_changed", domain.AuditResourceDefect, d.ID, projectID, domain.Metadata{
		"from": string(from),
		"to":   string(next),
	})
	return d, nil
}

// Delete fails with repo.ErrConflict while a run result references the defect.
func (s *Service) Delete(ctx context.Context, info audit.Info, projectID, id string) error {
	if err := s.defects.DeleteDefect(ctx, projectID, id); err != nil {
		return err
	}
	s.audit.Record(ctx, info, "defect.deleted", domain.AuditResourceDefect, id, projectID, nil)
	return nil
}
