// control.go implements the workflow commands that act on a running
// execution: cancel, kill, wait and watch.
package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/poller"
	"github.com/specflow/specflow/internal/sessionlog"
	"github.com/specflow/specflow/internal/store"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel [execution-id]",
	Short: "Cancel an execution",
	Long: `Mark an execution cancelled. With --session the execution is looked up by
agent session id instead, and --status may record it as failed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCancel,
}

var killCmd = &cobra.Command{
	Use:   "kill <execution-id>",
	Short: "Terminate the processes of an execution",
	Long: `Send SIGTERM to the agent and its shell, escalating to SIGKILL after the
configured grace period, then cancel the execution.`,
	Args: cobra.ExactArgs(1),
	RunE: runKill,
}

var waitCmd = &cobra.Command{
	Use:   "wait <execution-id>",
	Short: "Block until a detached execution finishes",
	Args:  cobra.ExactArgs(1),
	RunE:  runWait,
}

var watchCmd = &cobra.Command{
	Use:   "watch <execution-id>",
	Short: "Follow the session log of an execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var (
	sessionFlag     string
	finalStatusFlag string
	forceFlag       bool
	timeoutFlag     time.Duration
)

func init() {
	cancelCmd.Flags().StringVar(&sessionFlag, "session", "", "Agent session id of the execution")
	cancelCmd.Flags().StringVar(&projectIDFlag, "project-id", "", "Registry id of the project (with --session)")
	cancelCmd.Flags().StringVar(&finalStatusFlag, "status", string(store.StatusCancelled), "Final status with --session: cancelled or failed")
	killCmd.Flags().BoolVar(&forceFlag, "force", false, "Send SIGKILL at once")
	waitCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Give up after this long (default: configured detached timeout)")
}

func runCancel(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && sessionFlag == "" {
		return errs.Validation("an execution id or --session is required")
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	if len(args) > 0 {
		exec, err := e.svc.Cancel(args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(exec)
		}
		fmt.Printf("Cancelled %s\n", exec.ID)
		return nil
	}

	final := store.Status(finalStatusFlag)
	if final != store.StatusCancelled && final != store.StatusFailed {
		return errs.Validation("status must be cancelled or failed, got %q", finalStatusFlag)
	}
	found, err := e.svc.CancelBySession(sessionFlag, projectIDFlag, final)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(map[string]any{"success": true, "found": found, "status": final})
	}
	if !found {
		fmt.Printf("No active execution for session %s\n", sessionFlag)
		return nil
	}
	fmt.Printf("Marked session %s %s\n", sessionFlag, final)
	return nil
}

func runKill(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.svc.Kill(cmd.Context(), args[0], "", forceFlag)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(res)
	}
	fmt.Println(res.Message)
	for _, f := range res.Failed {
		fmt.Fprintf(os.Stderr, "  pid %d: %s\n", f.PID, f.Error)
	}
	return nil
}

func runWait(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	exec, timedOut, err := e.svc.Wait(ctx, args[0], timeoutFlag)
	if err != nil {
		return err
	}
	if timedOut {
		return errs.InvalidState("execution %s is still running", exec.ID).
			WithHint("check it with: specflow workflow health " + exec.ID)
	}
	return reportExecution(exec)
}

func runWatch(cmd *cobra.Command, args []string) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	exec, err := e.svc.Get(args[0], "")
	if err != nil {
		return err
	}
	if exec.SessionID == "" {
		return errs.InvalidState("execution %s has no agent session yet", exec.ID)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	pm := poller.New(e.cfg.ClaudeProjectsDir(), e.cfg.SessionPollInterval(), nil)
	defer pm.Close()

	updates := make(chan poller.Update, 8)
	remove := pm.AddListener(func(u poller.Update) {
		if u.SessionID != exec.SessionID {
			return
		}
		select {
		case updates <- u:
		default:
		}
	})
	defer remove()
	pm.Subscribe(exec.SessionID, exec.ProjectPath)

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case u := <-updates:
			if jsonFlag {
				if err := printJSON(u); err != nil {
					return err
				}
			} else {
				seen = printSessionUpdate(u, seen)
			}
			if u.Content.HasEnded {
				return nil
			}
		}
	}
}

// printSessionUpdate prints the messages not shown yet and returns the new
// count. The poller reads a bounded tail, so the count is capped by it.
func printSessionUpdate(u poller.Update, seen int) int {
	if u.Error != "" {
		fmt.Fprintf(os.Stderr, "! %s\n", u.Error)
		return seen
	}
	msgs := u.Content.Messages
	if seen > len(msgs) {
		seen = 0
	}
	for _, m := range msgs[seen:] {
		printMessage(m)
	}
	if len(u.Content.Todos) > 0 {
		done := 0
		for _, t := range u.Content.Todos {
			if t.Status == "completed" {
				done++
			}
		}
		fmt.Printf("  todos %d/%d, files modified %d\n", done, len(u.Content.Todos), u.Content.FilesModified)
	}
	if u.Content.HasEnded {
		fmt.Println("Session ended.")
	}
	return len(msgs)
}

func printMessage(m sessionlog.Message) {
	text := strings.TrimSpace(m.Content)
	if len(text) > 200 {
		text = text[:200] + "..."
	}
	switch {
	case m.IsSessionEnd:
		return
	case m.IsCommandInjection:
		fmt.Printf("[%s] /%s\n", m.Role, m.CommandName)
	case text != "":
		fmt.Printf("[%s] %s\n", m.Role, text)
	}
	for _, tc := range m.ToolCalls {
		fmt.Printf("  · %s %s\n", tc.Name, strings.Join(tc.Files, " "))
	}
}
