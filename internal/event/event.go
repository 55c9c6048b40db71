// Package event defines the WorkflowEvent model: a closed set of event types,
// each carrying its own concretely typed payload.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type is the tag of a workflow event.
type Type string

// Event types.
const (
	PhaseStarted    Type = "phase_started"
	PhaseComplete   Type = "phase_complete"
	ArtifactCreated Type = "artifact_created"
	ToolInvoked     Type = "tool_invoked"
	ProgressUpdate  Type = "progress_update"
	QuestionQueued  Type = "question_queued"
	Error           Type = "error"
	Complete        Type = "complete"
)

// Types lists every event type in declaration order.
var Types = []Type{
	PhaseStarted, PhaseComplete, ArtifactCreated, ToolInvoked,
	ProgressUpdate, QuestionQueued, Error, Complete,
}

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	for _, k := range Types {
		if t == k {
			return true
		}
	}
	return false
}

// Payload is implemented only by the payload structs in this package.
type Payload interface {
	EventType() Type
}

// Option is one selectable answer to a question.
type Option struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// PhaseStartedData marks entry into a workflow phase.
type PhaseStartedData struct {
	Phase string `json:"phase"`
	Skill string `json:"skill,omitempty"`
}

// PhaseCompleteData marks exit from a workflow phase.
type PhaseCompleteData struct {
	Phase string `json:"phase"`
}

// ArtifactCreatedData reports a file the agent created or modified.
type ArtifactCreatedData struct {
	Path     string `json:"path"`
	Artifact string `json:"artifact"`
	Action   string `json:"action,omitempty"`
}

// ToolInvokedData reports a tool call seen in the agent's stream.
type ToolInvokedData struct {
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ProgressUpdateData is the catch-all for records that map to nothing more
// specific. Raw is set when the line could not be parsed at all.
type ProgressUpdateData struct {
	Raw             string `json:"raw,omitempty"`
	ClaudeEventType string `json:"claudeEventType,omitempty"`
	Subtype         string `json:"subtype,omitempty"`
}

// QuestionQueuedData is a question the agent needs a human to answer.
type QuestionQueuedData struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Header      string   `json:"header,omitempty"`
	Options     []Option `json:"options"`
	MultiSelect bool     `json:"multiSelect"`
}

// ErrorData reports a failure outside the agent's own result.
type ErrorData struct {
	Message string `json:"message"`
	Source  string `json:"source,omitempty"`
}

// CompleteData is always the last event of a run.
type CompleteData struct {
	ExitCode      *int   `json:"exitCode"`
	Success       bool   `json:"success"`
	Status        string `json:"status,omitempty"`
	EventsEmitted int    `json:"eventsEmitted"`
}

func (PhaseStartedData) EventType() Type    { return PhaseStarted }
func (PhaseCompleteData) EventType() Type   { return PhaseComplete }
func (ArtifactCreatedData) EventType() Type { return ArtifactCreated }
func (ToolInvokedData) EventType() Type     { return ToolInvoked }
func (ProgressUpdateData) EventType() Type  { return ProgressUpdate }
func (QuestionQueuedData) EventType() Type  { return QuestionQueued }
func (ErrorData) EventType() Type           { return Error }
func (CompleteData) EventType() Type        { return Complete }

// Event is one immutable workflow log record.
type Event struct {
	Type      Type
	Timestamp time.Time
	Data      Payload
}

// Handler receives events as they are emitted.
type Handler func(Event)

// Now is the clock used by New. Tests may replace it.
var Now = func() time.Time { return time.Now().UTC() }

// New wraps a payload in an Event stamped with the current time.
func New(p Payload) Event {
	return Event{Type: p.EventType(), Timestamp: Now(), Data: p}
}

type wireEvent struct {
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON encodes the event as {type, timestamp, data}.
func (e Event) MarshalJSON() ([]byte, error) {
	var data []byte
	if e.Data == nil {
		data = []byte("{}")
	} else {
		var err error
		data, err = json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(wireEvent{Type: e.Type, Timestamp: e.Timestamp, Data: data})
}

// UnmarshalJSON decodes data into the payload variant named by type.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	p, err := decodePayload(w.Type, w.Data)
	if err != nil {
		return err
	}
	e.Type = w.Type
	e.Timestamp = w.Timestamp
	e.Data = p
	return nil
}

func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	switch t {
	case PhaseStarted:
		return decodeInto[PhaseStartedData](raw)
	case PhaseComplete:
		return decodeInto[PhaseCompleteData](raw)
	case ArtifactCreated:
		return decodeInto[ArtifactCreatedData](raw)
	case ToolInvoked:
		return decodeInto[ToolInvokedData](raw)
	case ProgressUpdate:
		return decodeInto[ProgressUpdateData](raw)
	case QuestionQueued:
		return decodeInto[QuestionQueuedData](raw)
	case Error:
		return decodeInto[ErrorData](raw)
	case Complete:
		return decodeInto[CompleteData](raw)
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

func decodeInto[T Payload](raw json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Question returns the payload of a question_queued event.
func (e Event) Question() (QuestionQueuedData, bool) {
	q, ok := e.Data.(QuestionQueuedData)
	return q, ok
}

// IsQuestion reports whether e is a question_queued event.
func IsQuestion(e Event) bool {
	return e.Type == QuestionQueued
}
