// Package sessionlog reads the agent's own per-session JSONL logs. It never
// writes them; it only locates, stats, tails and summarizes.
package sessionlog

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// ProjectHash is the directory name the agent uses for a project path:
// every non-alphanumeric character becomes '-'.
func ProjectHash(projectPath string) string {
	return nonAlnum.ReplaceAllString(projectPath, "-")
}

// Dir returns the agent's session directory for a project.
func Dir(claudeProjects, projectPath string) string {
	return filepath.Join(claudeProjects, ProjectHash(projectPath))
}

// Path returns the session log file for sessionID.
func Path(claudeProjects, projectPath, sessionID string) string {
	return filepath.Join(Dir(claudeProjects, projectPath), sessionID+".jsonl")
}

// ModTime returns the log's modification time. ok is false when the file
// cannot be stat'ed.
func ModTime(path string) (time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// maxLineSize bounds a single session log record.
const maxLineSize = 10 * 1024 * 1024

// Tail returns the last limit non-empty lines of the file at path.
func Tail(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if limit > 0 && len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading session log: %w", err)
	}
	return lines, nil
}

// TailLines returns the last limit non-empty lines of content.
func TailLines(content []byte, limit int) []string {
	var lines []string
	for _, l := range bytes.Split(content, []byte("\n")) {
		if len(bytes.TrimSpace(l)) > 0 {
			lines = append(lines, string(l))
		}
	}
	if limit > 0 && len(lines) > limit {
		return lines[len(lines)-limit:]
	}
	return lines
}
