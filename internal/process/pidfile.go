// Package process tracks and controls the OS processes behind a workflow run:
// pid files, liveness probes, signal escalation and the detached spawn mode.
package process

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/specflow/specflow/internal/fsutil"
)

// File names inside a run directory.
const (
	PIDFileName       = "process.pid"
	LegacyPIDFileName = "execution.pid"
	ScriptFileName    = "run-workflow.sh"
	OutputFileName    = "workflow-output.json"
	PromptFileName    = "prompt.txt"
	StderrFileName    = "stderr.log"
)

// RunDir is the per-execution directory under the project.
func RunDir(projectPath, executionID string) string {
	return filepath.Join(projectPath, ".specflow", "workflows", executionID)
}

// PIDFile records the shell driver and, once discovered, the agent running
// beneath it.
type PIDFile struct {
	BashPID   int `json:"bashPid"`
	ClaudePID int `json:"claudePid,omitempty"`
}

// PIDs returns the tracked pids, agent first.
func (p *PIDFile) PIDs() []int {
	if p == nil {
		return nil
	}
	var pids []int
	if p.ClaudePID > 0 {
		pids = append(pids, p.ClaudePID)
	}
	if p.BashPID > 0 {
		pids = append(pids, p.BashPID)
	}
	return pids
}

// ReadPIDFile reads <runDir>/process.pid. Returns nil if the file does not
// exist or cannot be parsed.
func ReadPIDFile(runDir string) *PIDFile {
	data, err := os.ReadFile(filepath.Join(runDir, PIDFileName))
	if err != nil {
		return nil
	}
	var p PIDFile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	if p.BashPID <= 0 && p.ClaudePID <= 0 {
		return nil
	}
	return &p
}

// WritePIDFile atomically replaces <runDir>/process.pid.
func WritePIDFile(runDir string, p PIDFile) error {
	return fsutil.WriteJSONAtomic(filepath.Join(runDir, PIDFileName), p)
}

// RemovePIDFile deletes the pid file. A missing file is not an error.
func RemovePIDFile(runDir string) error {
	err := os.Remove(filepath.Join(runDir, PIDFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadLegacyPID reads the single-pid file written by older runs.
// Returns -1 if it does not exist or cannot be parsed.
func ReadLegacyPID(runDir string) int {
	data, err := os.ReadFile(filepath.Join(runDir, LegacyPIDFileName))
	if err != nil {
		return -1
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return -1
	}
	return pid
}

// RemoveLegacyPID deletes the legacy pid file, ignoring a missing file.
func RemoveLegacyPID(runDir string) error {
	err := os.Remove(filepath.Join(runDir, LegacyPIDFileName))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
