// clean.go implements "specflow workflow clean" for pruning run directories.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/cleanup"
	"github.com/specflow/specflow/internal/log"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old run directories",
	Long: `Remove old run directories from .specflow/workflows/.

By default, removes runs older than the configured max_age_days (default 30).
Use --keep to keep only the N most recent runs instead.
Use --dry-run to preview what would be removed.
Runs of active executions and runs whose processes are alive are kept.`,
	RunE: runClean,
}

var (
	keepFlag   int
	dryRunFlag bool
)

func init() {
	cleanCmd.Flags().IntVar(&keepFlag, "keep", 0, "Keep only the last N runs (0 = use age-based cleanup)")
	cleanCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Preview what would be removed without deleting")
}

func runClean(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	active, err := e.store.ListActive()
	if err != nil {
		return err
	}
	protected := make(map[string]bool, len(active))
	for _, ex := range active {
		protected[ex.ID] = true
	}
	opts := cleanup.Options{
		DryRun:  dryRunFlag,
		Protect: func(id string) bool { return protected[id] },
	}

	dir := cleanup.WorkflowsDir(root)
	var pruned []string
	if keepFlag > 0 {
		pruned, err = cleanup.PruneKeepRecent(dir, keepFlag, opts)
	} else {
		maxAge := e.cfg.Cleanup.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 30
		}
		pruned, err = cleanup.PruneByAge(dir, days(maxAge), opts)
	}
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if !dryRunFlag && len(pruned) > 0 {
		if logger, lerr := log.NewLogger(root); lerr == nil {
			_ = logger.Append(log.LogEvent{Event: log.EventRunsCleaned, Removed: len(pruned)})
		}
	}

	if jsonFlag {
		if pruned == nil {
			pruned = []string{}
		}
		return printJSON(map[string]any{"removed": pruned, "dryRun": dryRunFlag})
	}
	if len(pruned) == 0 {
		fmt.Println("No runs to clean up.")
		return nil
	}

	verb := "Removed"
	if dryRunFlag {
		verb = "Would remove"
	}
	for _, name := range pruned {
		fmt.Printf("  %s %s\n", verb, name)
	}
	fmt.Printf("%s %d run(s).\n", verb, len(pruned))
	return nil
}
