// Package testutil provides test helper utilities for specflow tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
)

// TempProject creates a temporary directory with the given files and returns its path.
// Files is a map of relative path -> content. Directories are created as needed.
// The directory is automatically cleaned up when the test finishes.
func TempProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	for relPath, content := range files {
		absPath := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			t.Fatalf("creating directory for %s: %v", relPath, err)
		}
		if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", relPath, err)
		}
	}

	return dir
}

// SpecflowProject returns file contents for a project with a .specify
// directory and a README.
func SpecflowProject() map[string]string {
	return map[string]string{
		".specify/.keep": "",
		"README.md":      "# demo\n",
	}
}

// SkillDir creates a directory holding the given skills (name -> content)
// as <name>.md files and returns its path.
func SkillDir(t *testing.T, skills map[string]string) string {
	t.Helper()
	files := make(map[string]string, len(skills))
	for name, content := range skills {
		files[strings.TrimPrefix(name, "/")+".md"] = content
	}
	return TempProject(t, files)
}

// ClaudeResult renders a --output-format json result envelope carrying the
// given structured output.
func ClaudeResult(sessionID string, structured map[string]any) string {
	env := map[string]any{
		"type":              "result",
		"subtype":           "success",
		"is_error":          false,
		"session_id":        sessionID,
		"structured_output": structured,
		"total_cost_usd":    0.01,
	}
	data, _ := json.Marshal(env)
	return string(data)
}

// FakeClaude is a stand-in agent binary. Each invocation prints the next
// queued response (the last one repeats) and records its arguments.
type FakeClaude struct {
	Dir  string
	Path string
}

// NewFakeClaude writes an executable "claude" script into a temp dir that
// replays responses in order. Skips the test on Windows.
func NewFakeClaude(t *testing.T, responses ...string) *FakeClaude {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake claude script requires a POSIX shell")
	}
	dir := t.TempDir()
	for i, r := range responses {
		name := filepath.Join(dir, "response."+strconv.Itoa(i+1))
		if err := os.WriteFile(name, []byte(r), 0644); err != nil {
			t.Fatalf("writing response: %v", err)
		}
	}
	last := strconv.Itoa(len(responses))

	script := fmt.Sprintf(`#!/bin/sh
dir="$(dirname "$0")"
n=$(cat "$dir/count" 2>/dev/null || echo 0)
n=$((n+1))
echo "$n" > "$dir/count"
printf '%%s\n' "$@" > "$dir/args.$n"
if [ -f "$dir/response.$n" ]; then
  cat "$dir/response.$n"
else
  cat "$dir/response.%s"
fi
`, last)

	path := filepath.Join(dir, "claude")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake claude: %v", err)
	}
	return &FakeClaude{Dir: dir, Path: path}
}

// NewFakeClaudeScript writes an arbitrary script body as the "claude" binary.
func NewFakeClaudeScript(t *testing.T, body string) *FakeClaude {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake claude script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "claude")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("writing fake claude: %v", err)
	}
	return &FakeClaude{Dir: dir, Path: path}
}

// Calls returns how many times the fake was invoked.
func (f *FakeClaude) Calls() int {
	data, err := os.ReadFile(filepath.Join(f.Dir, "count"))
	if err != nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(string(data)))
	return n
}

// Args returns the arguments of the nth invocation (1-based), joined by newlines.
func (f *FakeClaude) Args(n int) string {
	data, _ := os.ReadFile(filepath.Join(f.Dir, "args."+strconv.Itoa(n)))
	return string(data)
}
