package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/animus-labs/qadash/internal/domain"
	"github.com/animus-labs/qadash/internal/service/catalog"
	"github.com/animus-labs/qadash/internal/service/reports"
)

var (
	passColor    = color.New(color.FgGreen)
	failColor    = color.New(color.FgRed)
	blockedColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgCyan, color.Bold)
	dimColor     = color.New(color.Faint)
)

// importBar renders catalog import progress on stderr.
type importBar struct {
	bar *progressbar.ProgressBar
}

func newImportBar(total int) *importBar {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.CyanString("Importing catalog")),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        color.CyanString("█"),
			SaucerHead:    color.CyanString("█"),
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &importBar{bar: bar}
}

func (b *importBar) Update(done, _ int) {
	_ = b.bar.Set(done)
}

func (b *importBar) Finish() {
	_ = b.bar.Finish()
}

func printMigrations(w io.Writer, applied []string) {
	if len(applied) == 0 {
		dimColor.Fprintln(w, "schema is up to date")
		return
	}
	for _, v := range applied {
		fmt.Fprintf(w, "%s %s\n", passColor.Sprint("applied"), v)
	}
}

func printImportPlan(w io.Writer, doc catalog.ImportDocument) {
	suites, cases := 0, 0
	var walk func(level int, list []catalog.ImportSuite)
	walk = func(level int, list []catalog.ImportSuite) {
		for _, s := range list {
			suites++
			cases += len(s.Cases)
			fmt.Fprintf(w, "%s%s %s\n", strings.Repeat("  ", level), headerColor.Sprint(s.Name), dimColor.Sprintf("(%d cases)", len(s.Cases)))
			walk(level+1, s.Suites)
		}
	}
	walk(0, doc.Suites)
	fmt.Fprintf(w, "would create %d suites and %d cases\n", suites, cases)
}

func printImportReport(w io.Writer, report catalog.ImportReport) {
	fmt.Fprintf(w, "created %s suites and %s cases\n",
		passColor.Sprint(len(report.Suites)), passColor.Sprint(len(report.CaseIDs)))
}

func printRunList(w io.Writer, list []domain.TestRun) {
	if len(list) == 0 {
		dimColor.Fprintln(w, "no runs")
		return
	}
	headerColor.Fprintf(w, "%-36s  %-11s  %-20s  %5s  %5s  %5s  %5s  %6s\n", "RUN", "STATUS", "STARTED", "TOTAL", "PASS", "FAIL", "BLOCK", "RATE")
	for _, r := range list {
		status := blockedColor.Sprintf("%-11s", r.Status)
		if r.Status == domain.RunStatusCompleted {
			status = passColor.Sprintf("%-11s", r.Status)
		}
		fmt.Fprintf(w, "%-36s  %s  %-20s  %5d  %5d  %5d  %5d  %s\n",
			r.ID, status, r.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			r.TotalCases, r.PassedCount, r.FailedCount, r.BlockedCount, rateString(r.PassRate()))
	}
}

func printRunReport(w io.Writer, report reports.RunReport) {
	run := report.Run
	title := run.Title
	if title == "" {
		title = run.ID
	}
	headerColor.Fprintln(w, title)
	fmt.Fprintf(w, "status %s  executed by %s  started %s\n", run.Status, run.ExecutedBy, run.StartedAt.UTC().Format("2006-01-02 15:04"))

	sum := report.Summary
	fmt.Fprintf(w, "%s  %s  %s  of %d  pass rate %s\n",
		passColor.Sprintf("%d passed", sum.Passed),
		failColor.Sprintf("%d failed", sum.Failed),
		blockedColor.Sprintf("%d blocked", sum.Blocked),
		sum.Total, rateString(sum.PassRate))
	if sum.Remaining > 0 {
		blockedColor.Fprintf(w, "%d cases not executed\n", sum.Remaining)
	}
	if report.CompletionPending {
		blockedColor.Fprintln(w, "every case has an outcome but the run was never finished")
	}
	if report.Drift {
		failColor.Fprintf(w, "stored counters %d/%d/%d differ from results %d/%d/%d\n",
			run.PassedCount, run.FailedCount, run.BlockedCount,
			report.Computed.Passed, report.Computed.Failed, report.Computed.Blocked)
	}

	fmt.Fprintln(w)
	for _, o := range sum.Outcomes {
		line := fmt.Sprintf("%3d  %s %s", o.Position+1, outcomeLabel(o.Status), o.Title)
		if o.CaseMissing {
			line += dimColor.Sprint(" (case deleted)")
		}
		if o.DefectID != "" {
			line += dimColor.Sprintf(" defect %s", o.DefectID)
		}
		fmt.Fprintln(w, line)
		if o.Remarks != "" {
			dimColor.Fprintf(w, "     %s\n", o.Remarks)
		}
	}

	if len(report.Defects) > 0 {
		fmt.Fprintln(w)
		headerColor.Fprintln(w, "Defects")
		for _, d := range report.Defects {
			fmt.Fprintf(w, "  %-8s %-11s %s\n", d.Severity, d.Status, d.Title)
		}
	}
}

func outcomeLabel(o domain.Outcome) string {
	label := fmt.Sprintf("%-8s", o)
	switch o {
	case domain.OutcomePass:
		return passColor.Sprint(label)
	case domain.OutcomeFailed:
		return failColor.Sprint(label)
	default:
		return blockedColor.Sprint(label)
	}
}

func rateString(rate float64) string {
	s := fmt.Sprintf("%5.1f%%", rate)
	switch {
	case rate >= 90:
		return passColor.Sprint(s)
	case rate >= 50:
		return blockedColor.Sprint(s)
	default:
		return failColor.Sprint(s)
	}
}
