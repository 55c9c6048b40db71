// Package log provides structured event logging.
// This file appends JSON lifecycle events to .specflow/log.jsonl.
package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event type constants.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowWaiting   = "workflow_waiting"
	EventWorkflowResumed   = "workflow_resumed"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowFailed    = "workflow_failed"
	EventWorkflowCancelled = "workflow_cancelled"
	EventWorkflowKilled    = "workflow_killed"
	EventWorkflowDetached  = "workflow_detached"
	EventQuestionAnswered  = "question_answered"
	EventRunsCleaned       = "runs_cleaned"
)

// DirName is the per-project specflow directory.
const DirName = ".specflow"

// LogEvent represents a single structured event written to the log.
type LogEvent struct {
	Time        time.Time      `json:"time"`
	Event       string         `json:"event"`
	ExecutionID string         `json:"execution,omitempty"`
	Skill       string         `json:"skill,omitempty"`
	Status      string         `json:"status,omitempty"`
	SessionID   string         `json:"session,omitempty"`
	Phase       string         `json:"phase,omitempty"`
	QuestionID  string         `json:"question,omitempty"`
	Questions   int            `json:"questions,omitempty"`
	PIDs        []int          `json:"pids,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	Error       string         `json:"error,omitempty"`
	Removed     int            `json:"removed,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	CostUSD     float64        `json:"cost_usd,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Logger writes append-only JSONL events to a log file.
type Logger struct {
	path string
	mu   sync.Mutex
}

// NewLogger creates a Logger that writes to .specflow/log.jsonl inside dir.
// Creates the .specflow/ directory if it does not already exist.
// Does not truncate an existing log file.
func NewLogger(dir string) (*Logger, error) {
	specflowDir := filepath.Join(dir, DirName)
	if err := os.MkdirAll(specflowDir, 0755); err != nil {
		return nil, fmt.Errorf("create .specflow directory: %w", err)
	}

	return &Logger{
		path: filepath.Join(specflowDir, "log.jsonl"),
	}, nil
}

// Path returns the log file path.
func (l *Logger) Path() string {
	return l.path
}

// Append writes a single LogEvent as one JSON line to the log file.
// If event.Time is the zero value, it is automatically set to time.Now().UTC().
// Thread-safe via mutex.
func (l *Logger) Append(event LogEvent) error {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return appendLine(l.path, event)
}

// ReadAll reads and parses all events from the log file.
// Returns an empty slice (not an error) if the file does not exist.
func (l *Logger) ReadAll() ([]LogEvent, error) {
	var events []LogEvent
	err := readLines(l.path, func(lineNum int, line []byte) error {
		var event LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("parse log line %d: %w", lineNum, err)
		}
		events = append(events, event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []LogEvent{}
	}
	return events, nil
}

func appendLine(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write log event: %w", err)
	}
	return nil
}

func readLines(path string, fn func(lineNum int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(lineNum, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}
	return nil
}
