package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// childProbeDelay is how long SpawnDetached waits before looking for the
// agent beneath the wrapper shell.
var childProbeDelay = time.Second

// DetachedOptions configures SpawnDetached.
type DetachedOptions struct {
	Dir    string   // working directory of the agent
	RunDir string   // where the script, output and pid file live
	Script string   // bash script content
	Env    []string // extra KEY=VALUE entries
}

// DetachedProcess is the handle returned by SpawnDetached.
type DetachedProcess struct {
	BashPID    int
	OutputFile string
	PIDFile    string
}

// SpawnDetached writes the script into RunDir and starts it with /bin/bash in
// a new session, so the run outlives the host. The pid file is written with
// the shell pid immediately; the agent pid is added once it can be found.
func SpawnDetached(opts DetachedOptions) (*DetachedProcess, error) {
	if err := os.MkdirAll(opts.RunDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	scriptPath := filepath.Join(opts.RunDir, ScriptFileName)
	if err := os.WriteFile(scriptPath, []byte(opts.Script), 0755); err != nil {
		return nil, fmt.Errorf("writing run script: %w", err)
	}

	cmd := exec.Command("/bin/bash", scriptPath)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.SysProcAttr = detachAttr()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting detached run: %w", err)
	}
	bashPID := cmd.Process.Pid

	// Reap the shell if it exits while we are still around.
	go func() { _ = cmd.Wait() }()

	if err := WritePIDFile(opts.RunDir, PIDFile{BashPID: bashPID}); err != nil {
		return nil, fmt.Errorf("writing pid file: %w", err)
	}

	go func() {
		time.Sleep(childProbeDelay)
		if child := FindChildPID(context.Background(), bashPID); child > 0 {
			_ = WritePIDFile(opts.RunDir, PIDFile{BashPID: bashPID, ClaudePID: child})
		}
	}()

	return &DetachedProcess{
		BashPID:    bashPID,
		OutputFile: filepath.Join(opts.RunDir, OutputFileName),
		PIDFile:    filepath.Join(opts.RunDir, PIDFileName),
	}, nil
}

// FindChildPID returns the first child of parent as reported by pgrep, or 0.
func FindChildPID(ctx context.Context, parent int) int {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "pgrep", "-P", strconv.Itoa(parent)).Output()
	if err != nil {
		// pgrep exits non-zero when nothing matches.
		return 0
	}
	return firstPID(string(out))
}

func firstPID(out string) int {
	for _, line := range strings.Split(out, "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && pid > 0 {
			return pid
		}
	}
	return 0
}

// ShellQuote single-quotes s for bash.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WrapperScript builds the bash driver for a detached run. The agent's
// stdout goes to a temp file that is renamed to the output file only when
// the agent exits, so a non-empty output file always means completion.
// The prompt is read from PromptFileName in the run directory.
func WrapperScript(dir, runDir, binary string, args []string) string {
	output := filepath.Join(runDir, OutputFileName)
	prompt := filepath.Join(runDir, PromptFileName)

	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, ShellQuote(binary))
	for _, a := range args {
		quoted = append(quoted, ShellQuote(a))
	}

	var b strings.Builder
	b.WriteString("#!/bin/bash\n")
	fmt.Fprintf(&b, "cd %s || exit 1\n", ShellQuote(dir))
	fmt.Fprintf(&b, "%s \"$(cat %s)\" > %s 2> %s\n",
		strings.Join(quoted, " "),
		ShellQuote(prompt),
		ShellQuote(output+".tmp"),
		ShellQuote(filepath.Join(runDir, StderrFileName)),
	)
	fmt.Fprintf(&b, "mv %s %s\n", ShellQuote(output+".tmp"), ShellQuote(output))
	return b.String()
}
