// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hotpatch/hotpatch/internal/issue"
	"github.com/hotpatch/hotpatch/internal/patch"
	"github.com/hotpatch/hotpatch/internal/strategy"
)

// renderError prints a command error with its troubleshooting guide. Errors
// that were already reported only carry an exit code and print nothing.
func (a *App) renderError(w io.Writer, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return
	}

	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		_, _ = fmt.Fprintln(w, ErrorStyle.Render("✗ ")+ae.Format(a.verbose))
	} else {
		_, _ = fmt.Fprintln(w, ErrorStyle.Render("✗ ")+err.Error())
	}

	guide, ok := issue.GuideFor(err)
	if !ok {
		return
	}
	rendered, rerr := guide.Render(a.guideStyle)
	if rerr != nil {
		_, _ = fmt.Fprintln(w, string(guide.MarkdownMsg()))
		return
	}
	_, _ = fmt.Fprint(w, rendered)
}

// renderSummary prints the framed result of a build. Compiler diagnostics of
// a failed build follow the frame verbatim.
func renderSummary(w io.Writer, s patch.Summary) {
	var sb strings.Builder
	header, frame := summaryHeader(s)
	sb.WriteString(header)
	sb.WriteString("\n\n")

	row := func(label, value string) {
		fmt.Fprintf(&sb, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-9s", label)), value)
	}
	if s.Branch != "" {
		row("branch", CmdStyle.Render(s.Branch))
	}
	row("changed", fmt.Sprintf("%d supported, %d ignored", len(s.Supported), len(s.Ignored)))
	row("compile", fmt.Sprintf("%d", len(s.Compile)))
	if len(s.Remove) > 0 {
		row("removed", fmt.Sprintf("%d (%d stale classes)", len(s.Remove), len(s.StaleClasses)))
	}
	for _, r := range s.Report.Rounds {
		row(fmt.Sprintf("round %d", r.Index), roundLine(r))
	}
	if s.PatchSize > 0 {
		row("patch", formatSize(s.PatchSize))
	}
	row("elapsed", s.Elapsed.Round(time.Millisecond).String())

	_, _ = fmt.Fprintln(w, frame.Render(strings.TrimRight(sb.String(), "\n")))

	if s.Action == patch.ActionCompileFailed {
		for _, line := range s.Report.Outcome.Diagnostics() {
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

func summaryHeader(s patch.Summary) (string, lipgloss.Style) {
	switch s.Action {
	case patch.ActionCompileFailed:
		return ErrorStyle.Render("✗ Compilation failed"), failedFrameStyle
	case patch.ActionReset:
		return SuccessStyle.Render("✓ No changes, patch removed"), summaryFrameStyle
	case patch.ActionRedeploy:
		return SuccessStyle.Render("✓ Up to date, patch redeployed"), summaryFrameStyle
	case patch.ActionRemoveOnly:
		return SuccessStyle.Render("✓ Removed sources dropped from the patch"), summaryFrameStyle
	default:
		return SuccessStyle.Render("✓ Patch deployed"), summaryFrameStyle
	}
}

func roundLine(r strategy.RoundReport) string {
	line := fmt.Sprintf("%s, %d source(s), %s", r.Kind, r.Sources, r.Elapsed.Round(time.Millisecond))
	if r.GenerationSkipped {
		line += VerboseStyle.Render(" (generation skipped)")
	}
	if r.Failed {
		line = ErrorStyle.Render(line)
	}
	return line
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// renderPlan prints the rounds a build would compile.
func renderPlan(w io.Writer, plan patch.Plan) {
	_, _ = fmt.Fprintln(w, TitleStyle.Render("Compilation rounds"))
	if plan.Branch != "" {
		_, _ = fmt.Fprintf(w, "%s %s\n", SubtitleStyle.Render("branch"), CmdStyle.Render(plan.Branch))
	}
	if len(plan.Rounds) == 0 {
		_, _ = fmt.Fprintln(w, hintStyle.Render("No changed Kotlin sources."))
		return
	}
	for _, r := range plan.Rounds {
		_, _ = fmt.Fprintf(w, "\n%s\n", labelStyle.Render(fmt.Sprintf("Round %d", r.Index)))
		for _, m := range r.Modules() {
			_, _ = fmt.Fprintf(w, "  %s\n", CmdStyle.Render(m.String()))
			for _, src := range r.Sources(m) {
				_, _ = fmt.Fprintf(w, "    %s\n", src)
			}
		}
	}
	if len(plan.Ignored) > 0 {
		_, _ = fmt.Fprintf(w, "\n%s\n", SubtitleStyle.Render(fmt.Sprintf("%d changed file(s) ignored", len(plan.Ignored))))
	}
}

// renderGraph prints every module with its resolved dependencies.
func renderGraph(w io.Writer, pctx *patch.Context) {
	_, _ = fmt.Fprintln(w, TitleStyle.Render("Module graph"))
	for _, m := range pctx.Graph.Modules() {
		deps, _ := pctx.Graph.ChildModules(m)
		names := make([]string, len(deps))
		for i, d := range deps {
			names[i] = d.String()
		}
		if len(names) == 0 {
			_, _ = fmt.Fprintf(w, "%s\n", CmdStyle.Render(m.String()))
			continue
		}
		_, _ = fmt.Fprintf(w, "%s %s %s\n", CmdStyle.Render(m.String()), VerboseStyle.Render("→"), strings.Join(names, ", "))
	}
}
