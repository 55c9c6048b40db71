package log

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/specflow/specflow/internal/event"
)

// EventsFileName is the per-run event log inside a run directory.
const EventsFileName = "events.jsonl"

// EventLog appends the workflow events of one run to
// <runDir>/events.jsonl.
type EventLog struct {
	path string
	mu   sync.Mutex
}

// NewEventLog creates runDir if needed and returns its event log.
func NewEventLog(runDir string) (*EventLog, error) {
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	return &EventLog{path: filepath.Join(runDir, EventsFileName)}, nil
}

// Path returns the event log path.
func (l *EventLog) Path() string {
	return l.path
}

// Append writes e as one JSON line.
func (l *EventLog) Append(e event.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return appendLine(l.path, e)
}

// Handler returns an event.Handler that appends every event, reporting
// write failures to onErr when it is non-nil.
func (l *EventLog) Handler(onErr func(error)) event.Handler {
	return func(e event.Event) {
		if err := l.Append(e); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// ReadAll returns the events recorded so far. Lines that do not decode are
// skipped, since a run killed mid-write may leave a torn last line.
func (l *EventLog) ReadAll() ([]event.Event, error) {
	events := []event.Event{}
	err := readLines(l.path, func(_ int, line []byte) error {
		var e event.Event
		if json.Unmarshal(line, &e) == nil {
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
