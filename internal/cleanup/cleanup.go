// Package cleanup implements pruning of old workflow run directories.
package cleanup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/specflow/specflow/internal/process"
)

// alive is swapped out in tests.
var alive = process.Alive

// Options tunes a prune.
type Options struct {
	// DryRun reports what would be removed without removing it.
	DryRun bool
	// Protect names runs that must survive, e.g. those of active executions.
	Protect func(id string) bool
}

// WorkflowsDir is the directory holding a project's run directories.
func WorkflowsDir(projectPath string) string {
	return filepath.Dir(process.RunDir(projectPath, "x"))
}

type run struct {
	id      string
	modTime time.Time
}

// listRuns returns the prunable runs in dir, oldest first. A run whose pid
// file names a live process is never prunable.
func listRuns(dir string, opts Options) ([]run, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading workflows directory: %w", err)
	}

	var runs []run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if opts.Protect != nil && opts.Protect(id) {
			continue
		}
		path := filepath.Join(dir, id)
		if live(path) {
			continue
		}
		mt, err := lastModified(path)
		if err != nil {
			continue
		}
		runs = append(runs, run{id: id, modTime: mt})
	}

	sort.Slice(runs, func(i, j int) bool {
		if runs[i].modTime.Equal(runs[j].modTime) {
			return runs[i].id < runs[j].id
		}
		return runs[i].modTime.Before(runs[j].modTime)
	})
	return runs, nil
}

func live(runDir string) bool {
	pf := process.ReadPIDFile(runDir)
	if pf == nil {
		return false
	}
	for _, pid := range pf.PIDs() {
		if alive(pid) {
			return true
		}
	}
	return false
}

// lastModified is the newest mtime of the directory and its direct files.
func lastModified(dir string) (time.Time, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return time.Time{}, err
	}
	latest := info.ModTime()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return latest, nil
	}
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest, nil
}

func remove(dir string, runs []run, dryRun bool) ([]string, error) {
	var pruned []string
	for _, r := range runs {
		if !dryRun {
			if err := os.RemoveAll(filepath.Join(dir, r.id)); err != nil {
				return pruned, fmt.Errorf("removing %s: %w", r.id, err)
			}
		}
		pruned = append(pruned, r.id)
	}
	return pruned, nil
}

// PruneByAge removes run directories untouched for longer than maxAge and
// returns their names, oldest first.
func PruneByAge(dir string, maxAge time.Duration, opts Options) ([]string, error) {
	runs, err := listRuns(dir, opts)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-maxAge)
	var old []run
	for _, r := range runs {
		if r.modTime.Before(cutoff) {
			old = append(old, r)
		}
	}
	return remove(dir, old, opts.DryRun)
}

// PruneKeepRecent removes all prunable run directories except the keep most
// recently modified and returns the removed names, oldest first.
func PruneKeepRecent(dir string, keep int, opts Options) ([]string, error) {
	runs, err := listRuns(dir, opts)
	if err != nil {
		return nil, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(runs) <= keep {
		return nil, nil
	}
	return remove(dir, runs[:len(runs)-keep], opts.DryRun)
}
