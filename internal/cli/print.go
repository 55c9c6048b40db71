package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/specflow/specflow/internal/questions"
	"github.com/specflow/specflow/internal/store"
	"github.com/specflow/specflow/internal/tui"
)

// printExecution writes the human-readable summary of one execution.
func printExecution(w io.Writer, e *store.Execution) {
	fmt.Fprintf(w, "%s %s  %s\n", tui.StatusIcon(e.Status), e.ID, tui.StatusText(e.Status))
	fmt.Fprintf(w, "  Skill:   %s (%s)\n", e.Skill, e.Mode)
	fmt.Fprintf(w, "  Project: %s\n", e.ProjectPath)
	if e.CurrentPhase != "" {
		fmt.Fprintf(w, "  Phase:   %s\n", e.CurrentPhase)
	}
	if e.SessionID != "" {
		fmt.Fprintf(w, "  Session: %s\n", e.SessionID)
	}
	if e.CostUSD > 0 {
		fmt.Fprintf(w, "  Cost:    $%.4f\n", e.CostUSD)
	}
	if len(e.Answers) > 0 {
		fmt.Fprintf(w, "  Answers: %d\n", len(e.Answers))
	}
	if len(e.Artifacts) > 0 {
		fmt.Fprintf(w, "  Artifacts:\n")
		for _, a := range e.Artifacts {
			fmt.Fprintf(w, "    - %s\n", a)
		}
	}
	if e.Error != "" {
		fmt.Fprintf(w, "  Error:   %s\n", e.Error)
	}
	fmt.Fprintf(w, "  Updated: %s\n", e.UpdatedAt.Local().Format(time.DateTime))
}

// printExecutionRow writes one line of the list view.
func printExecutionRow(w io.Writer, e store.Execution) {
	fmt.Fprintf(w, "  %s %-36s  %-18s  %-14s  %s\n",
		tui.StatusIcon(e.Status), e.ID, e.Status, e.Skill, e.UpdatedAt.Local().Format(time.DateTime))
}

// printQuestions writes pending questions in the answer --list layout.
func printQuestions(w io.Writer, qs []questions.Question) {
	if len(qs) == 0 {
		fmt.Fprintln(w, "No pending questions")
		return
	}
	fmt.Fprintf(w, "Pending Questions: %d\n\n", len(qs))
	for _, q := range qs {
		fmt.Fprintf(w, "[%s]\n", q.ID)
		fmt.Fprintf(w, "  %s\n", q.Content)
		if len(q.Options) > 0 {
			fmt.Fprintln(w, "  Options:")
			for _, o := range q.Options {
				fmt.Fprintf(w, "    - %s: %s\n", o.Label, o.Description)
			}
		}
		fmt.Fprintln(w)
	}
}
