// workflow.go implements "specflow workflow start" and "specflow workflow resume".
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/store"
	"github.com/specflow/specflow/internal/tui"
	"github.com/specflow/specflow/internal/ui"
	"github.com/specflow/specflow/internal/workflow"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Run and manage skill executions",
}

var startCmd = &cobra.Command{
	Use:   "start [skill]",
	Short: "Start a skill execution",
	Long: `Start a skill (default /flow.design) against the project. The agent runs
until it completes, fails or asks questions. Queued questions can be
answered with "specflow workflow resume" or interactively with -i.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

var resumeCmd = &cobra.Command{
	Use:   "resume <execution-id> [question=answer...]",
	Short: "Resume a waiting execution with answers",
	Long: `Resume an execution that is waiting for input. Answers given as
question=answer pairs are merged with those already recorded through
"specflow workflow answer". Without any answers on a terminal the
pending questions are asked interactively.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResume,
}

var (
	projectFlag     string
	projectIDFlag   string
	phaseFlag       string
	modeFlag        string
	argFlags        []string
	interactiveFlag bool
	quietFlag       bool
)

func init() {
	startCmd.Flags().StringVar(&projectFlag, "project", "", "Project path (default: nearest directory with .specify)")
	startCmd.Flags().StringVar(&projectIDFlag, "project-id", "", "Registry id of the project")
	startCmd.Flags().StringVar(&phaseFlag, "phase", "", "Skill phase to run")
	startCmd.Flags().StringVar(&modeFlag, "mode", store.ModeOneShot, "Launch mode: oneshot, streaming or detached")
	startCmd.Flags().StringArrayVar(&argFlags, "arg", nil, "Extra argument passed to the agent (repeatable)")
	startCmd.Flags().BoolVarP(&interactiveFlag, "interactive", "i", false, "Answer questions as they are asked and resume")
	startCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Do not print progress")

	resumeCmd.Flags().BoolVarP(&interactiveFlag, "interactive", "i", false, "Keep answering until the execution stops asking")
	resumeCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Do not print progress")

	workflowCmd.AddCommand(startCmd, resumeCmd, statusCmd, listCmd, answerCmd,
		cancelCmd, killCmd, healthCmd, waitCmd, watchCmd, cleanCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM, which stops the agent.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// withProgress runs fn with a phase display on stderr unless output is
// quiet or JSON.
func withProgress(title string, fn func(event.Handler) (*store.Execution, error)) (*store.Execution, error) {
	if quietFlag || jsonFlag {
		return fn(nil)
	}
	display := ui.NewProgressDisplay(title, os.Stderr)
	defer display.Finish()
	return fn(display.Handle)
}

func runStart(cmd *cobra.Command, args []string) error {
	path := projectFlag
	if path == "" && projectIDFlag == "" {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		path = root
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if path == "" {
		if path, err = e.svc.ResolveProject(projectIDFlag); err != nil {
			return err
		}
	}

	skill := workflow.DefaultSkill
	if len(args) > 0 {
		skill = args[0]
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	exec, err := withProgress(skill, func(h event.Handler) (*store.Execution, error) {
		return e.svc.Start(ctx, path, skill, workflow.StartOptions{
			ProjectID: projectIDFlag,
			Phase:     phaseFlag,
			Args:      argFlags,
			Mode:      modeFlag,
			OnEvent:   h,
		})
	})
	if err != nil {
		return err
	}
	if interactiveFlag {
		if exec, err = answerLoop(ctx, e.svc, exec); err != nil {
			return err
		}
	}
	return reportExecution(exec)
}

func runResume(cmd *cobra.Command, args []string) error {
	id := args[0]
	answers := map[string]string{}
	for _, kv := range args[1:] {
		q, a, ok := cutAnswer(kv)
		if !ok {
			return fmt.Errorf("invalid answer %q, expected question=answer", kv)
		}
		answers[q] = a
	}

	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if len(answers) == 0 && !jsonFlag && tui.IsTTY() {
		exec, err := e.svc.Get(id, "")
		if err != nil {
			return err
		}
		exec, err = answerLoop(ctx, e.svc, exec)
		if err != nil {
			return err
		}
		return reportExecution(exec)
	}

	exec, err := resume(ctx, e.svc, id, answers)
	if err != nil {
		return err
	}
	if interactiveFlag {
		if exec, err = answerLoop(ctx, e.svc, exec); err != nil {
			return err
		}
	}
	return reportExecution(exec)
}

// answerLoop asks the pending questions of a waiting execution and resumes
// it until it stops asking or the user quits.
func answerLoop(ctx context.Context, svc *workflow.Service, exec *store.Execution) (*store.Execution, error) {
	for exec.Status == store.StatusWaiting {
		pending, err := svc.PendingQuestions(exec.ID, "")
		if err != nil {
			return nil, err
		}
		answers, ok, err := tui.Ask(pending, os.Stdin, os.Stderr)
		if err != nil {
			return nil, err
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "Stopped; resume later with: specflow workflow resume", exec.ID)
			return exec, nil
		}
		if len(answers) == 0 && len(pending) > 0 {
			return exec, nil
		}
		exec, err = resume(ctx, svc, exec.ID, answers)
		if err != nil {
			return nil, err
		}
	}
	return exec, nil
}

func resume(ctx context.Context, svc *workflow.Service, id string, answers map[string]string) (*store.Execution, error) {
	return withProgress("resume "+id, func(h event.Handler) (*store.Execution, error) {
		return svc.Resume(ctx, id, answers, workflow.ResumeOptions{OnEvent: h})
	})
}

func reportExecution(exec *store.Execution) error {
	if jsonFlag {
		return printJSON(exec)
	}
	printExecution(os.Stdout, exec)
	if exec.Status == store.StatusWaiting {
		fmt.Printf("\nQuestions are waiting: specflow workflow answer --list\n")
	}
	if exec.Status == store.StatusFailed {
		return fmt.Errorf("execution %s failed", exec.ID)
	}
	return nil
}

func cutAnswer(kv string) (string, string, bool) {
	q, a, ok := strings.Cut(kv, "=")
	return q, a, ok && q != ""
}
