package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/repo/memory"
	"github.com/animus-labs/qadash/internal/service/audit"
	"github.com/animus-labs/qadash/internal/suitetree"
)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	repos := store.Repositories()
	svc := New(repos.Projects, repos.Suites, repos.Cases, audit.NewRecorder(repos.Audit, nil), nil)
	if svc == nil {
		t.Fatalf("expected service")
	}
	return svc, store
}

var alice = audit.Info{Actor: "alice", Service: "test"}

func mustProject(t *testing.T, svc *Service) domain.Project {
	t.Helper()
	p, err := svc.CreateProject(context.Background(), alice, ProjectInput{Name: "Checkout", Code: " chk "})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func mustSuite(t *testing.T, svc *Service, projectID, parentID, name string) domain.Suite {
	t.Helper()
	s, err := svc.CreateSuite(context.Background(), alice, projectID, SuiteInput{ParentSuiteID: parentID, Name: name})
	if err != nil {
		t.Fatalf("create suite %s: %v", name, err)
	}
	return s
}

func TestNewRequiresRepositories(t *testing.T) {
	if New(nil, nil, nil, nil, nil) != nil {
		t.Fatalf("expected nil service")
	}
}

func TestCreateProjectNormalizesAndAudits(t *testing.T) {
	svc, store := newService(t)
	p := mustProject(t, svc)
	if p.Code != "CHK" || p.CreatedBy != "alice" {
		t.Fatalf("unexpected project: %+v", p)
	}
	if _, err := svc.CreateProject(context.Background(), alice, ProjectInput{Name: "Other", Code: "chk"}); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict on duplicate code, got %v", err)
	}
	if _, err := svc.CreateProject(context.Background(), alice, ProjectInput{Code: "X"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	events := store.AuditEvents()
	if len(events) != 1 || events[0].Action != "project.created" || events[0].Actor != "alice" {
		t.Fatalf("unexpected audit trail: %+v", events)
	}
}

func TestUpdateProjectPatchesOnlyGivenFields(t *testing.T) {
	svc, _ := newService(t)
	p := mustProject(t, svc)
	desc := "payments flow"
	updated, err := svc.UpdateProject(context.Background(), alice, p.ID, ProjectPatch{Description: &desc})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Checkout" || updated.Description != desc {
		t.Fatalf("unexpected update: %+v", updated)
	}
}

func TestSuiteTreeAndMove(t *testing.T) {
	svc, store := newService(t)
	ctx := context.Background()
	p := mustProject(t, svc)
	root := mustSuite(t, svc, p.ID, "", "Web")
	child := mustSuite(t, svc, p.ID, root.ID, "Cart")
	grand := mustSuite(t, svc, p.ID, child.ID, "Coupons")

	tree, err := svc.SuiteTree(ctx, p.ID)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if len(tree) != 1 || len(tree[0].Children) != 1 || tree[0].Children[0].Children[0].Suite.ID != grand.ID {
		t.Fatalf("unexpected tree shape")
	}
	path, err := svc.SuitePath(ctx, p.ID, grand.ID)
	if err != nil || strings.Join(path, "/") != "Web/Cart/Coupons" {
		t.Fatalf("unexpected path %v: %v", path, err)
	}

	if _, err := svc.MoveSuite(ctx, alice, p.ID, root.ID, grand.ID); !errors.Is(err, suitetree.ErrCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if _, err := svc.MoveSuite(ctx, alice, p.ID, root.ID, root.ID); !errors.Is(err, suitetree.ErrCycle) {
		t.Fatalf("expected self-parent cycle, got %v", err)
	}
	moved, err := svc.MoveSuite(ctx, alice, p.ID, grand.ID, "")
	if err != nil || !moved.IsRoot() {
		t.Fatalf("move to root: %+v %v", moved, err)
	}

	var movedEvents int
	for _, e := range store.AuditEvents() {
		if e.Action == "suite.moved" {
			movedEvents++
		}
	}
	if movedEvents != 1 {
		t.Fatalf("expected one suite.moved event, got %d", movedEvents)
	}
}

func TestCreateSuiteRejectsForeignParent(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustProject(t, svc)
	other, err := svc.CreateProject(ctx, alice, ProjectInput{Name: "Other", Code: "OTH"})
	if err != nil {
		t.Fatalf("create other: %v", err)
	}
	foreign := mustSuite(t, svc, other.ID, "", "Elsewhere")
	if _, err := svc.CreateSuite(ctx, alice, p.ID, SuiteInput{ParentSuiteID: foreign.ID, Name: "x"}); err == nil {
		t.Fatalf("expected foreign parent to be rejected")
	}
	if _, err := svc.CreateSuite(ctx, alice, p.ID, SuiteInput{ParentSuiteID: "missing", Name: "x"}); !errors.Is(err, suitetree.ErrUnknownParent) {
		t.Fatalf("expected unknown parent, got %v", err)
	}
}

func TestCaseLifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustProject(t, svc)
	suite := mustSuite(t, svc, p.ID, "", "Login")

	tc, err := svc.CreateCase(ctx, alice, p.ID, CaseInput{
		SuiteID:  suite.ID,
		Title:    "valid password",
		Steps:    []string{"open login", " ", "submit"},
		Priority: "high",
		Status:   "active",
	})
	if err != nil {
		t.Fatalf("create case: %v", err)
	}
	if tc.Priority != domain.PriorityHigh || tc.Status != domain.CaseStatusActive || tc.Type != domain.CaseTypeFunctional {
		t.Fatalf("unexpected enums: %+v", tc)
	}
	if len(tc.Steps) != 2 {
		t.Fatalf("expected blank steps dropped, got %v", tc.Steps)
	}

	if _, err := svc.CreateCase(ctx, alice, p.ID, CaseInput{SuiteID: suite.ID, Title: "x", Priority: "urgent"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid priority, got %v", err)
	}
	if _, err := svc.CreateCase(ctx, alice, p.ID, CaseInput{SuiteID: "missing", Title: "x"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected missing suite, got %v", err)
	}

	deprecated := "Deprecated"
	updated, err := svc.UpdateCase(ctx, alice, p.ID, tc.ID, CasePatch{Status: &deprecated})
	if err != nil || updated.Status != domain.CaseStatusDeprecated {
		t.Fatalf("update: %+v %v", updated, err)
	}
	if err := svc.DeleteSuite(ctx, alice, p.ID, suite.ID); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict deleting suite with cases, got %v", err)
	}
	if err := svc.DeleteCase(ctx, alice, p.ID, tc.ID); err != nil {
		t.Fatalf("delete case: %v", err)
	}
	if err := svc.DeleteSuite(ctx, alice, p.ID, suite.ID); err != nil {
		t.Fatalf("delete suite: %v", err)
	}
}

const sampleImport = `
suites:
  - name: Checkout
    cases:
      - title: pay by card
        priority: High
        status: Active
        steps: [add item, pay]
        expected_result: order placed
    suites:
      - name: Coupons
        cases:
          - title: expired coupon
            status: Active
  - name: Search
`

func TestParseImportValidatesSchema(t *testing.T) {
	doc, err := ParseImport([]byte(sampleImport))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Count() != 5 {
		t.Fatalf("expected 5 entities, got %d", doc.Count())
	}
	cases := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"missing suites", "cases: []"},
		{"unknown field", "suites:\n  - name: A\n    owner: bob\n"},
		{"bad priority", "suites:\n  - name: A\n    cases:\n      - title: t\n        priority: Urgent\n"},
		{"untitled case", "suites:\n  - name: A\n    cases:\n      - steps: [x]\n"},
		{"not yaml", "suites: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseImport([]byte(tc.body)); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestImportCreatesParentsFirst(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	p := mustProject(t, svc)
	doc, err := ParseImport([]byte(sampleImport))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var calls []int
	report, err := svc.Import(ctx, alice, p.ID, "", doc, func(done, total int) {
		if total != 5 {
			t.Fatalf("unexpected total %d", total)
		}
		calls = append(calls, done)
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(report.Suites) != 3 || len(report.Cases) != 2 || len(calls) != 5 || calls[4] != 5 {
		t.Fatalf("unexpected report: suites=%d cases=%d calls=%v", len(report.Suites), len(report.Cases), calls)
	}
	path, err := svc.SuitePath(ctx, p.ID, report.Suites[1].ID)
	if err != nil || strings.Join(path, "/") != "Checkout/Coupons" {
		t.Fatalf("unexpected nesting %v: %v", path, err)
	}
	active, err := svc.ListCases(ctx, repo.CaseFilter{ProjectID: p.ID, Status: domain.CaseStatusActive})
	if err != nil || len(active) != 2 {
		t.Fatalf("expected 2 active cases, got %d: %v", len(active), err)
	}
}
