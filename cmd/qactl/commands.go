package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/repo"
	repopg "github.com/animus-labs/qadash/internal/repo/postgres"
	"github.com/animus-labs/qadash/internal/service/audit"
	"github.com/animus-labs/qadash/internal/service/catalog"
	"github.com/animus-labs/qadash/internal/service/reports"
)

type commands struct {
	open   openFunc
	out    io.Writer
	logger *slog.Logger
}

func newCommands(open openFunc) *commands {
	return &commands{
		open:   open,
		out:    os.Stdout,
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	}
}

type importFlags struct {
	project     string
	parentSuite string
	dryRun      bool
	noProgress  bool
}

type runFlags struct {
	project string
	suite   string
	status  string
	limit   int
}

func (c *commands) register(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE:  c.migrate,
	})

	var imp importFlags
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import suites and test cases from a YAML or JSON document",
		Long:  "Validate a catalog document and create its suites and cases under a project, parents first. The import stops at the first failure.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.importCatalog(cmd, args[0], imp)
		},
	}
	importCmd.Flags().StringVarP(&imp.project, "project", "p", "", "Project id to import into")
	importCmd.Flags().StringVar(&imp.parentSuite, "parent-suite", "", "Suite id the imported root suites are placed under")
	importCmd.Flags().BoolVar(&imp.dryRun, "dry-run", false, "Validate the document and print what would be created")
	importCmd.Flags().BoolVar(&imp.noProgress, "no-progress", false, "Disable the progress bar")
	root.AddCommand(importCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect test runs",
	}
	var rf runFlags
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs of a project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.listRuns(cmd, rf)
		},
	}
	listCmd.Flags().StringVarP(&rf.project, "project", "p", "", "Project id")
	listCmd.Flags().StringVar(&rf.suite, "suite", "", "Only runs of this suite")
	listCmd.Flags().StringVar(&rf.status, "status", "", "Only runs with this status (in_progress, completed)")
	listCmd.Flags().IntVarP(&rf.limit, "limit", "n", 20, "Maximum number of runs")
	runsCmd.AddCommand(listCmd)

	var reportProject string
	reportCmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Print the per-case report of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runReport(cmd, reportProject, args[0])
		},
	}
	reportCmd.Flags().StringVarP(&reportProject, "project", "p", "", "Project id")
	runsCmd.AddCommand(reportCmd)
	root.AddCommand(runsCmd)
}

func (c *commands) migrate(cmd *cobra.Command, _ []string) error {
	b, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	if b.DB == nil {
		return errors.New("migrations need a postgres store")
	}
	applied, err := repopg.Migrate(cmd.Context(), b.DB)
	printMigrations(c.out, applied)
	return err
}

func (c *commands) importCatalog(cmd *cobra.Command, path string, flags importFlags) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := catalog.ParseImport(data)
	if err != nil {
		return err
	}
	if flags.dryRun {
		printImportPlan(c.out, doc)
		return nil
	}
	if strings.TrimSpace(flags.project) == "" {
		return errors.New("--project is required")
	}

	b, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	svc := c.catalog(b.Store)

	var progress func(done, total int)
	if !flags.noProgress {
		bar := newImportBar(doc.Count())
		defer bar.Finish()
		progress = bar.Update
	}
	report, err := svc.Import(cmd.Context(), c.info(), flags.project, flags.parentSuite, doc, progress)
	printImportReport(c.out, report)
	return err
}

func (c *commands) listRuns(cmd *cobra.Command, flags runFlags) error {
	if strings.TrimSpace(flags.project) == "" {
		return errors.New("--project is required")
	}
	filter := repo.RunFilter{ProjectID: flags.project, SuiteID: flags.suite, Limit: flags.limit}
	if flags.status != "" {
		filter.Status = domain.NormalizeRunStatus(flags.status)
		if filter.Status == "" {
			return fmt.Errorf("unknown run status %q", flags.status)
		}
	}
	b, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	list, err := b.Store.Runs.ListRuns(cmd.Context(), filter)
	if err != nil {
		return err
	}
	printRunList(c.out, list)
	return nil
}

func (c *commands) runReport(cmd *cobra.Command, projectID, runID string) error {
	if strings.TrimSpace(projectID) == "" {
		return errors.New("--project is required")
	}
	b, err := c.open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	svc := reports.New(b.Store, audit.NewRecorder(b.Store.Audit, c.logger), 0, c.logger)
	report, err := svc.RunReport(cmd.Context(), projectID, runID)
	if err != nil {
		return err
	}
	printRunReport(c.out, report)
	return nil
}

func (c *commands) catalog(store repo.Store) *catalog.Service {
	return catalog.New(store.Projects, store.Suites, store.Cases, audit.NewRecorder(store.Audit, c.logger), c.logger)
}

func (c *commands) info() audit.Info {
	return audit.Info{Actor: cliActor(), Service: "qactl"}
}
