package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/animus-labs/qadash/internal/repo"
	"github.com/animus-labs/qadash/internal/repo/memory"
	"github.com/animus-labs/qadash/internal/service/audit"
	"github.com/animus-labs/qadash/internal/service/catalog"
	"github.com/animus-labs/qadash/internal/service/runs"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

type cliFixture struct {
	t      *testing.T
	store  repo.Store
	opened int
}

func newCLIFixture(t *testing.T) *cliFixture {
	return &cliFixture{t: t, store: memory.New().Repositories()}
}

func (f *cliFixture) run(args ...string) (string, error) {
	f.t.Helper()
	var out bytes.Buffer
	c := &commands{
		open: func(context.Context) (backend, error) {
			f.opened++
			return backend{Store: f.store, Close: func() error { return nil }}, nil
		},
		out:    &out,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	root := &cobra.Command{Use: "qactl", SilenceUsage: true, SilenceErrors: true}
	c.register(root)
	root.SetArgs(args)
	root.SetOut(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func (f *cliFixture) project() string {
	f.t.Helper()
	svc := catalog.New(f.store.Projects, f.store.Suites, f.store.Cases, nil, nil)
	p, err := svc.CreateProject(context.Background(), audit.Info{Actor: "tess"}, catalog.ProjectInput{Name: "Shop", Code: "SHOP"})
	if err != nil {
		f.t.Fatalf("project: %v", err)
	}
	return p.ID
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

const catalogDoc = `
suites:
  - name: Checkout
    cases:
      - {title: pay by card, status: active}
      - {title: pay by voucher, status: active}
    suites:
      - name: Refunds
        cases:
          - {title: full refund}
`

func TestImportDryRunTouchesNoStore(t *testing.T) {
	f := newCLIFixture(t)
	out, err := f.run("import", "--dry-run", writeFile(t, catalogDoc))
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if f.opened != 0 {
		t.Fatalf("dry run opened the store")
	}
	if !strings.Contains(out, "would create 2 suites and 3 cases") || !strings.Contains(out, "  Refunds (1 cases)") {
		t.Fatalf("unexpected plan:\n%s", out)
	}
}

func TestImportCreatesCatalog(t *testing.T) {
	f := newCLIFixture(t)
	projectID := f.project()
	out, err := f.run("import", "--no-progress", "-p", projectID, writeFile(t, catalogDoc))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "created 2 suites and 3 cases") {
		t.Fatalf("unexpected output: %s", out)
	}
	suites, err := f.store.Suites.ListSuites(context.Background(), projectID)
	if err != nil || len(suites) != 2 {
		t.Fatalf("expected 2 suites, got %d (%v)", len(suites), err)
	}
}

func TestImportErrors(t *testing.T) {
	f := newCLIFixture(t)
	if _, err := f.run("import", writeFile(t, catalogDoc)); err == nil || !strings.Contains(err.Error(), "--project") {
		t.Fatalf("expected missing project error, got %v", err)
	}
	if _, err := f.run("import", "--dry-run", writeFile(t, "suites:\n  - cases: []\n")); err == nil {
		t.Fatalf("expected schema error")
	}
	if _, err := f.run("import", "--no-progress", "-p", "ghost", writeFile(t, catalogDoc)); err == nil {
		t.Fatalf("expected unknown project error")
	}
}

func TestMigrateNeedsPostgres(t *testing.T) {
	f := newCLIFixture(t)
	if _, err := f.run("migrate"); err == nil || !strings.Contains(err.Error(), "postgres") {
		t.Fatalf("expected postgres error, got %v", err)
	}
}

func TestRunsListAndReport(t *testing.T) {
	f := newCLIFixture(t)
	projectID := f.project()
	ctx := context.Background()
	info := audit.Info{Actor: "tess"}

	cat := catalog.New(f.store.Projects, f.store.Suites, f.store.Cases, nil, nil)
	suite, err := cat.CreateSuite(ctx, info, projectID, catalog.SuiteInput{Name: "Checkout"})
	if err != nil {
		t.Fatalf("suite: %v", err)
	}
	for _, title := range []string{"pay by card", "pay by voucher"} {
		if _, err := cat.CreateCase(ctx, info, projectID, catalog.CaseInput{SuiteID: suite.ID, Title: title, Status: "Active"}); err != nil {
			t.Fatalf("case: %v", err)
		}
	}
	svc := runs.New(runs.Deps{
		Suites:  f.store.Suites,
		Cases:   f.store.Cases,
		Runs:    f.store.Runs,
		Results: f.store.Results,
		Defects: f.store.Defects,
	})
	view, err := svc.StartRun(ctx, info, projectID, runs.StartInput{SuiteID: suite.ID, Title: "nightly"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, outcome := range []string{"Pass", "Blocked"} {
		if _, err := svc.Record(ctx, info, projectID, view.RunID, runs.OutcomeRequest{Outcome: outcome, Remarks: "env down"}); err != nil {
			t.Fatalf("record %s: %v", outcome, err)
		}
	}

	out, err := f.run("runs", "list", "-p", projectID, "--status", "completed")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, view.RunID) || !strings.Contains(out, "50.0%") {
		t.Fatalf("unexpected list:\n%s", out)
	}
	if _, err := f.run("runs", "list", "-p", projectID, "--status", "paused"); err == nil {
		t.Fatalf("expected status error")
	}

	out, err = f.run("runs", "report", "-p", projectID, view.RunID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	for _, want := range []string{"nightly", "1 passed", "1 blocked", "  1  Pass", "  2  Blocked", "env down"} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}
