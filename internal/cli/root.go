// Package cli defines the Cobra commands of the specflow CLI.
// This file contains the root command, global flags and error output.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/errs"
)

var (
	homeFlag string
	jsonFlag bool
	version  = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "specflow",
	Short: "Spec-driven workflow orchestrator",
	Long: `Specflow runs agent skills against a project, queues the questions the
agent asks, resumes it with your answers and keeps the orchestration
checkpoint of each project.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command. Called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errAlreadyOutput) {
			printError(err)
		}
		os.Exit(1)
	}
}

func printError(err error) {
	if jsonFlag {
		out := map[string]any{"success": false, "error": err.Error()}
		if hint := errs.HintOf(err); hint != "" {
			out["hint"] = hint
		}
		_ = json.NewEncoder(os.Stderr).Encode(out)
		return
	}
	fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
	if hint := errs.HintOf(err); hint != "" {
		fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "Specflow home directory (default $SPECFLOW_HOME or ~/.specflow)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Output as JSON")

	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(serveCmd)
}
