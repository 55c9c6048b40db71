// inspect.go implements the read-only workflow commands: status, list and health.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [execution-id]",
	Short: "Show an execution",
	Long: `Show one execution, or the most recent execution of the current project
when no id is given. Detached executions are reconciled first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions, newest first",
	RunE:  runList,
}

var healthCmd = &cobra.Command{
	Use:   "health <execution-id>",
	Short: "Check the processes behind an execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runHealth,
}

var (
	allFlag   bool
	limitFlag int
)

func init() {
	listCmd.Flags().BoolVar(&allFlag, "all", false, "List executions of every project")
	listCmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum number of executions")
}

// currentProjectID returns the registry id of the project containing the
// working directory, or "" when it was never registered.
func (e *env) currentProjectID() (string, error) {
	root, err := projectRoot()
	if err != nil {
		return "", err
	}
	id, ok, err := e.registry.FindByPath(root)
	if err != nil || !ok {
		return "", err
	}
	return id, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	var id string
	if len(args) > 0 {
		id = args[0]
	} else {
		pid, err := e.currentProjectID()
		if err != nil {
			return err
		}
		if pid == "" {
			return errs.NotFound("workflow for this project").
				WithHint("start one with: specflow workflow start")
		}
		latest, err := e.svc.List(pid, 1)
		if err != nil {
			return err
		}
		if len(latest) == 0 {
			return errs.NotFound("workflow for this project").
				WithHint("start one with: specflow workflow start")
		}
		id = latest[0].ID
	}

	exec, err := e.svc.Reconcile(cmd.Context(), id)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(exec)
	}
	printExecution(os.Stdout, exec)
	if exec.Status == store.StatusWaiting {
		pending, err := e.svc.PendingQuestions(exec.ID, "")
		if err == nil && len(pending) > 0 {
			fmt.Println()
			printQuestions(os.Stdout, pending)
		}
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	var pid string
	if !allFlag {
		if pid, err = e.currentProjectID(); err != nil {
			return err
		}
		if pid == "" {
			return printList(nil)
		}
	}
	list, err := e.svc.List(pid, limitFlag)
	if err != nil {
		return err
	}
	return printList(list)
}

func printList(list []store.Execution) error {
	if jsonFlag {
		if list == nil {
			list = []store.Execution{}
		}
		return printJSON(map[string]any{"executions": list})
	}
	if len(list) == 0 {
		fmt.Println("No workflows found.")
		return nil
	}
	for _, ex := range list {
		printExecutionRow(os.Stdout, ex)
	}
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.svc.Health(args[0], "")
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(report)
	}

	h := report.Health
	fmt.Printf("%s  %s\n", report.WorkflowID, report.WorkflowStatus)
	fmt.Printf("  Health:  %s\n", h.Status)
	fmt.Printf("  %s\n", report.Message)
	if h.BashPID > 0 {
		fmt.Printf("  Shell:   %d (alive: %v)\n", h.BashPID, h.BashAlive)
	}
	if h.ClaudePID > 0 {
		fmt.Printf("  Agent:   %d (alive: %v)\n", h.ClaudePID, h.ClaudeAlive)
	}
	if age, ok := h.SessionFileAge(); ok {
		fmt.Printf("  Session log updated %s ago (stale after %s)\n",
			age.Round(time.Second), (time.Duration(report.ThresholdMs) * time.Millisecond).Round(time.Second))
	}
	return nil
}
