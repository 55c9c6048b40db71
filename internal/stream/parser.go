// Package stream turns the agent's line-delimited stream-json output into
// workflow events as it arrives.
package stream

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/questions"
)

// QuestionTool is the agent's interactive question tool.
const QuestionTool = "AskUserQuestion"

// UnknownPhase is the tracked phase before any transition is seen.
const UnknownPhase = "unknown"

var phasePattern = regexp.MustCompile(
	`(?i)(?:starting|proceeding to|beginning)\s+(discover|specify|plan|tasks|checklists|implement|verify)`)

// artifactTools write files; their target path becomes an artifact_created event.
var artifactTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

type record struct {
	Type              string          `json:"type"`
	Subtype           string          `json:"subtype"`
	Content           json.RawMessage `json:"content"`
	ToolName          string          `json:"tool_name"`
	ToolInput         json.RawMessage `json:"tool_input"`
	Message           *message        `json:"message"`
	PermissionDenials []denial        `json:"permission_denials"`
	SessionID         string          `json:"session_id"`
}

type message struct {
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type denial struct {
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id"`
	ToolInput json.RawMessage `json:"tool_input"`
}

type askInput struct {
	Questions []struct {
		Question    string         `json:"question"`
		Header      string         `json:"header"`
		Options     []event.Option `json:"options"`
		MultiSelect bool           `json:"multiSelect"`
	} `json:"questions"`
}

// Parser buffers partial lines between chunks. Its methods are safe for
// concurrent use; the handler runs with the parser locked and must not call
// back into it.
type Parser struct {
	mu        sync.Mutex
	handler   event.Handler
	buffer    strings.Builder
	phase     string
	emitted   int
	asked     map[string]bool // tool_use ids whose questions were emitted
	sessionID string
}

// NewParser returns a Parser delivering events to handler.
func NewParser(handler event.Handler) *Parser {
	return &Parser{handler: handler, phase: UnknownPhase, asked: map[string]bool{}}
}

// Write implements io.Writer so the parser can sit on a process's stdout.
func (p *Parser) Write(b []byte) (int, error) {
	p.ProcessChunk(string(b))
	return len(b), nil
}

// ProcessChunk appends chunk and parses every complete line. The trailing
// fragment is kept for the next call.
func (p *Parser) ProcessChunk(chunk string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffer.WriteString(chunk)
	data := p.buffer.String()
	idx := strings.LastIndexByte(data, '\n')
	if idx == -1 {
		return
	}
	complete, rest := data[:idx], data[idx+1:]
	p.buffer.Reset()
	p.buffer.WriteString(rest)

	for _, line := range strings.Split(complete, "\n") {
		if strings.TrimSpace(line) != "" {
			p.parseLine(line)
		}
	}
}

// Flush parses whatever remains in the buffer. Call it once the stream ends.
func (p *Parser) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()

	rest := p.buffer.String()
	p.buffer.Reset()
	if strings.TrimSpace(rest) != "" {
		p.parseLine(rest)
	}
}

// EventsEmitted returns the number of events delivered so far.
func (p *Parser) EventsEmitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emitted
}

// Phase returns the currently tracked phase.
func (p *Parser) Phase() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// SessionID returns the agent session id, once a record has carried it.
func (p *Parser) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

func (p *Parser) parseLine(line string) {
	var r record
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		p.emit(event.ProgressUpdateData{Raw: line})
		return
	}
	if r.SessionID != "" {
		p.sessionID = r.SessionID
	}
	for _, payload := range p.mapRecord(r) {
		p.emit(payload)
	}
}

func (p *Parser) mapRecord(r record) []event.Payload {
	var out []event.Payload

	if r.Type == "assistant" && r.Message != nil {
		var blocks []contentBlock
		if err := json.Unmarshal(r.Message.Content, &blocks); err == nil {
			for _, b := range blocks {
				switch b.Type {
				case "tool_use":
					out = append(out, p.toolCall(b.ID, b.Name, b.Input)...)
				case "text":
					out = append(out, p.textContent(b.Text)...)
				}
			}
		}
	}

	// In -p mode the question tool is denied rather than run; the intent
	// to ask still counts. The denial repeats the tool_use block seen
	// earlier, so only denials of calls not seen yet are reported.
	if r.Type == "result" {
		for _, d := range r.PermissionDenials {
			if d.ToolName == QuestionTool {
				out = append(out, p.denied(d)...)
			}
		}
	}

	if r.ToolName != "" {
		out = append(out, p.toolCall("", r.ToolName, r.ToolInput)...)
	}

	var text string
	if len(r.Content) > 0 && json.Unmarshal(r.Content, &text) == nil && text != "" {
		out = append(out, p.textContent(text)...)
	}

	if len(out) == 0 && r.Type != "" {
		out = append(out, event.ProgressUpdateData{ClaudeEventType: r.Type, Subtype: r.Subtype})
	}
	return out
}

func (p *Parser) denied(d denial) []event.Payload {
	if d.ToolUseID != "" && p.asked[d.ToolUseID] {
		return nil
	}
	return p.toolCall(d.ToolUseID, d.ToolName, d.ToolInput)
}

// toolCall maps one tool invocation. toolUseID may be empty for records
// that carry none.
func (p *Parser) toolCall(toolUseID, name string, input json.RawMessage) []event.Payload {
	out := []event.Payload{event.ToolInvokedData{Tool: name, Input: input}}

	if name == QuestionTool && len(input) > 0 && !p.asked[toolUseID] {
		var ask askInput
		if err := json.Unmarshal(input, &ask); err == nil {
			if toolUseID != "" {
				p.asked[toolUseID] = true
			}
			headers := make([]string, len(ask.Questions))
			for i, q := range ask.Questions {
				headers[i] = q.Header
			}
			ids := questions.AssignIDs(headers)
			for i, q := range ask.Questions {
				options := q.Options
				if options == nil {
					options = []event.Option{}
				}
				out = append(out, event.QuestionQueuedData{
					ID:          ids[i],
					Content:     q.Question,
					Header:      q.Header,
					Options:     options,
					MultiSelect: q.MultiSelect,
				})
			}
		}
	}

	if artifactTools[name] && len(input) > 0 {
		var target struct {
			FilePath     string `json:"file_path"`
			Path         string `json:"path"`
			NotebookPath string `json:"notebook_path"`
		}
		if err := json.Unmarshal(input, &target); err == nil {
			path := firstNonEmpty(target.FilePath, target.NotebookPath, target.Path)
			if path != "" {
				action := "modified"
				if name == "Write" {
					action = "created"
				}
				out = append(out, event.ArtifactCreatedData{
					Path:     path,
					Artifact: filepath.Base(path),
					Action:   action,
				})
			}
		}
	}
	return out
}

func (p *Parser) textContent(text string) []event.Payload {
	m := phasePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	phase := strings.ToLower(m[1])
	if phase == p.phase {
		return nil
	}

	var out []event.Payload
	if p.phase != UnknownPhase {
		out = append(out, event.PhaseCompleteData{Phase: p.phase})
	}
	p.phase = phase
	return append(out, event.PhaseStartedData{Phase: phase})
}

func (p *Parser) emit(payload event.Payload) {
	p.emitted++
	if p.handler != nil {
		p.handler(event.New(payload))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
