package runner

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/specflow/specflow/internal/event"
)

// Structured output statuses.
const (
	OutputCompleted  = "completed"
	OutputNeedsInput = "needs_input"
	OutputError      = "error"
)

// Question is a question in the agent's structured output. It mirrors the
// AskUserQuestion tool input.
type Question struct {
	Question    string         `json:"question"`
	Header      string         `json:"header,omitempty"`
	Options     []event.Option `json:"options,omitempty"`
	MultiSelect bool           `json:"multiSelect,omitempty"`
}

// Artifact is a file the agent reports having touched.
type Artifact struct {
	Path   string `json:"path"`
	Action string `json:"action"`
}

// Output is the agent's structured result.
type Output struct {
	Status    string     `json:"status"`
	Phase     string     `json:"phase,omitempty"`
	Message   string     `json:"message,omitempty"`
	Questions []Question `json:"questions,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Envelope is the agent's --output-format json result record.
type Envelope struct {
	Type             string  `json:"type"`
	Subtype          string  `json:"subtype"`
	IsError          bool    `json:"is_error"`
	SessionID        string  `json:"session_id"`
	StructuredOutput *Output `json:"structured_output"`
	Result           string  `json:"result"`
	CostUSD          float64 `json:"cost_usd"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	DurationMS       int64   `json:"duration_ms"`
	NumTurns         int     `json:"num_turns"`
}

// Cost returns whichever cost field the agent populated.
func (e *Envelope) Cost() float64 {
	if e.TotalCostUSD > 0 {
		return e.TotalCostUSD
	}
	return e.CostUSD
}

// ParseEnvelope decodes the agent's JSON result. When structured_output is
// missing, a JSON object embedded in the result text is used instead.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fmt.Errorf("empty claude output")
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parsing claude output: %w", err)
	}
	if env.Type != "" && env.Type != "result" {
		return nil, fmt.Errorf("unexpected claude output type: %q (expected \"result\")", env.Type)
	}

	if env.StructuredOutput == nil && env.Result != "" {
		var out Output
		if err := json.Unmarshal([]byte(cleanJSONOutput(env.Result)), &out); err == nil && out.Status != "" {
			env.StructuredOutput = &out
		}
	}
	return &env, nil
}

// cleanJSONOutput extracts a JSON object from text that may wrap it in a
// markdown fence or surrounding prose.
func cleanJSONOutput(s string) string {
	s = strings.TrimSpace(s)

	if idx := strings.Index(s, "```json"); idx != -1 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		// Skip a language tag on the fence line.
		if nl := strings.Index(s, "\n"); nl != -1 && nl < 20 {
			s = s[nl+1:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
		return strings.TrimSpace(s)
	}

	// Prefer '{"' so prose like "{see below}" is not mistaken for JSON.
	start := strings.Index(s, `{"`)
	if start == -1 {
		start = strings.Index(s, "{")
	}
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		return s[start : end+1]
	}
	return s
}

// truncate returns at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
