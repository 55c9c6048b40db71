// Package state implements the checkpoint store: one orchestration-state JSON
// document per project, read and written atomically and addressed by dotted keys.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/fsutil"
)

// StatePath is the checkpoint location relative to the project root.
const StatePath = ".specify/orchestration-state.json"

// MaxValueLength bounds the input accepted by ParseValue.
const MaxValueLength = 1024 * 1024

const maxKeyLength = 256

// State is the open orchestration document.
type State map[string]any

// Store reads and writes the checkpoint of one project.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a Store for the project rooted at projectPath.
func NewStore(projectPath string) *Store {
	return &Store{
		path: filepath.Join(projectPath, StatePath),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string {
	return s.path
}

// Read loads and validates the checkpoint.
func (s *Store) Read() (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.NotFound("State file").
			WithHint(`run "specflow state init" to create a new project`)
	}
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, &errs.Error{Kind: errs.ErrValidation, Msg: "state file contains invalid JSON", Err: err}
	}
	if err := Validate(st); err != nil {
		return nil, err
	}
	return st, nil
}

// Write stamps last_updated and atomically replaces the checkpoint.
// st itself is not modified.
func (s *Store) Write(st State) error {
	out := make(State, len(st)+1)
	for k, v := range st {
		out[k] = v
	}
	out["last_updated"] = s.now().Format(time.RFC3339Nano)

	if err := fsutil.WriteJSONAtomic(s.path, out); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return nil
}

// Validate checks the minimal document shape.
func Validate(st State) error {
	if st == nil {
		return errs.Validation("invalid state: document is not an object")
	}
	var issues []string
	if _, ok := st["schema_version"].(string); !ok {
		issues = append(issues, "schema_version: expected string")
	}
	if _, ok := st["project"].(map[string]any); !ok {
		issues = append(issues, "project: expected object")
	}
	if _, ok := st["orchestration"].(map[string]any); !ok {
		issues = append(issues, "orchestration: expected object")
	}
	if len(issues) > 0 {
		return errs.Validation("invalid state: %s", strings.Join(issues, ", "))
	}
	return nil
}

// GetValue walks st along the dot-separated key.
func GetValue(st State, key string) (any, bool) {
	var current any = map[string]any(st)
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetValue returns a copy of st with value stored at key. Maps along the
// path are copied; every other branch is shared with st. Missing or non-map
// intermediate segments are replaced with new maps.
func SetValue(st State, key string, value any) (State, error) {
	if key == "" {
		return nil, errs.Validation("key cannot be empty")
	}
	parts := strings.Split(key, ".")
	root := setIn(map[string]any(st), parts, value)
	return State(root), nil
}

func setIn(m map[string]any, parts []string, value any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if len(parts) == 1 {
		out[parts[0]] = value
		return out
	}
	child, _ := m[parts[0]].(map[string]any)
	out[parts[0]] = setIn(child, parts[1:], value)
	return out
}

var keyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)*$`)

// ValidateKey checks the syntax of a dotted state key.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return errs.Validation("key cannot be empty")
	case len(key) > maxKeyLength:
		return errs.Validation("key too long (max %d characters)", maxKeyLength)
	case !keyPattern.MatchString(key):
		return errs.Validation("key must be dot-separated identifiers (e.g., orchestration.step.current)")
	}
	return nil
}

// ParseValue interprets raw as JSON when possible and as a plain string
// otherwise. Inputs over MaxValueLength are rejected.
func ParseValue(raw string) (any, error) {
	if len(raw) > MaxValueLength {
		return nil, errs.Validation("value too long: %d chars exceeds max %d", len(raw), MaxValueLength)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw, nil
	}
	return v, nil
}

// ParseAssignment splits "key=value", validates the key and parses the value.
func ParseAssignment(kv string) (string, any, error) {
	idx := strings.Index(kv, "=")
	if idx == -1 {
		return "", nil, errs.Validation("invalid format, expected key=value").
			WithHint("use format: specflow state set orchestration.step.current=implement")
	}
	key := kv[:idx]
	if err := ValidateKey(key); err != nil {
		return "", nil, err
	}
	value, err := ParseValue(kv[idx+1:])
	if err != nil {
		return "", nil, err
	}
	return key, value, nil
}

// NewState builds the initial document for a project.
func NewState(name, projectPath string) State {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return State{
		"schema_version": "3.0",
		"project": map[string]any{
			"id":   uuid.NewString(),
			"name": name,
			"path": projectPath,
		},
		"last_updated": now,
		"orchestration": map[string]any{
			"phase": map[string]any{
				"id":     nil,
				"number": nil,
				"name":   nil,
				"branch": nil,
				"status": "not_started",
			},
			"next_phase": nil,
			"step": map[string]any{
				"current": "design",
				"index":   float64(0),
				"status":  "not_started",
			},
			"implement": nil,
		},
		"health": map[string]any{
			"status":     "initializing",
			"last_check": now,
			"issues":     []any{},
		},
	}
}
