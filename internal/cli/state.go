// state.go implements "specflow state get|set|init" over the project checkpoint.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/registry"
	"github.com/specflow/specflow/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Read and update the orchestration checkpoint",
}

var stateGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print the checkpoint or one dotted key of it",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStateGet,
}

var stateSetCmd = &cobra.Command{
	Use:   "set <key=value>...",
	Short: "Set values in the checkpoint",
	Long: `Set one or more dotted keys. Values are parsed as JSON when possible
(numbers, booleans, objects) and stored as strings otherwise.

  specflow state set orchestration.step.current=implement
  specflow state set orchestration.step.index=2`,
	Args: cobra.MinimumNArgs(1),
	RunE: runStateSet,
}

var stateInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the checkpoint for the current project",
	RunE:  runStateInit,
}

var (
	nameFlag      string
	overwriteFlag bool
)

func init() {
	stateSetCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress output")
	stateInitCmd.Flags().StringVar(&nameFlag, "name", "", "Project name (default: directory name)")
	stateInitCmd.Flags().BoolVar(&overwriteFlag, "force", false, "Overwrite an existing checkpoint")

	stateCmd.AddCommand(stateGetCmd, stateSetCmd, stateInitCmd)
}

func runStateGet(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	st, err := state.NewStore(root).Read()
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return printJSON(st)
	}

	key := args[0]
	if err := state.ValidateKey(key); err != nil {
		return err
	}
	v, ok := state.GetValue(st, key)
	if !ok {
		return errs.NotFound(fmt.Sprintf("key %s", key))
	}
	if s, isString := v.(string); isString && !jsonFlag {
		fmt.Println(s)
		return nil
	}
	return printJSON(v)
}

func runStateSet(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	store := state.NewStore(root)
	st, err := store.Read()
	if err != nil {
		return err
	}

	type assignment struct {
		key   string
		value any
	}
	var set []assignment
	for _, kv := range args {
		key, value, err := state.ParseAssignment(kv)
		if err != nil {
			return err
		}
		if st, err = state.SetValue(st, key, value); err != nil {
			return err
		}
		set = append(set, assignment{key, value})
	}
	if err := store.Write(st); err != nil {
		return err
	}

	if quietFlag {
		return nil
	}
	for _, a := range set {
		encoded, _ := json.Marshal(a.value)
		fmt.Printf("Set %s = %s\n", a.key, encoded)
	}
	return nil
}

func runStateInit(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	store := state.NewStore(root)
	if _, err := os.Stat(store.Path()); err == nil && !overwriteFlag {
		return errs.InvalidState("state file already exists at %s", store.Path()).
			WithHint("use --force to overwrite it")
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking state file: %w", err)
	}

	name := nameFlag
	if name == "" {
		name = filepath.Base(root)
	}
	st := state.NewState(name, root)
	if err := store.Write(st); err != nil {
		return err
	}

	projectID, _ := state.GetValue(st, "project.id")
	if cfg, err := loadConfig(); err == nil {
		id, _ := projectID.(string)
		if _, err := registry.New(cfg.RegistryPath()).Register(id, name, root); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not register project: %v\n", err)
		}
	}

	if jsonFlag {
		return printJSON(map[string]any{"success": true, "path": store.Path(), "projectId": projectID})
	}
	fmt.Printf("Initialized %s\n", store.Path())
	return nil
}
