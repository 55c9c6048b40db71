package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/specflow/specflow/internal/process"
)

// Preflight checks that the agent binary resolves and the skill loads,
// without spawning anything.
func (r *Runner) Preflight(skill string) error {
	if _, err := r.Resolve(); err != nil {
		return err
	}
	_, err := r.Loader.Load(skill)
	return err
}

// StartDetached launches a one-shot run through a wrapper shell that
// outlives this process. The prompt is written to the run directory and the
// result lands in its output file; see process.CheckCompletion.
func (r *Runner) StartDetached(ctx context.Context, opts Options, runDir string) (*process.DetachedProcess, error) {
	path, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	prompt, err := r.Prompt(opts, true)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, process.PromptFileName), []byte(prompt), 0644); err != nil {
		return nil, fmt.Errorf("writing prompt: %w", err)
	}
	// Output from an earlier cycle would read as an immediate completion.
	for _, name := range []string{process.OutputFileName, process.StderrFileName} {
		if err := os.Remove(filepath.Join(runDir, name)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("clearing %s: %w", name, err)
		}
	}

	args := append(r.Args(), r.ExtraArgs...)
	args = append(args, opts.Args...)

	proc, err := process.SpawnDetached(process.DetachedOptions{
		Dir:    opts.Dir,
		RunDir: runDir,
		Script: process.WrapperScript(opts.Dir, runDir, path, args),
		Env:    Env,
	})
	if err != nil {
		return nil, err
	}
	return proc, nil
}
