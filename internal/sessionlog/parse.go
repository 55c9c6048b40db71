package sessionlog

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
)

// Role of a displayed message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Operation classifies a tool call.
type Operation string

const (
	OpRead    Operation = "read"
	OpWrite   Operation = "write"
	OpEdit    Operation = "edit"
	OpSearch  Operation = "search"
	OpTodo    Operation = "todo"
	OpExecute Operation = "execute"
)

// ToolCall is a tool invocation seen in the log.
type ToolCall struct {
	Name      string         `json:"name"`
	Operation Operation      `json:"operation"`
	Files     []string       `json:"files"`
	Input     map[string]any `json:"input,omitempty"`
}

// Todo is one item of the agent's TodoWrite list.
type Todo struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm"`
}

// Message is a user, assistant or synthesized system message.
type Message struct {
	Role               Role       `json:"role"`
	Content            string     `json:"content"`
	Timestamp          string     `json:"timestamp,omitempty"`
	ToolCalls          []ToolCall `json:"toolCalls,omitempty"`
	IsCommandInjection bool       `json:"isCommandInjection,omitempty"`
	CommandName        string     `json:"commandName,omitempty"`
	IsSessionEnd       bool       `json:"isSessionEnd,omitempty"`
}

// Summary aggregates a run of log lines.
type Summary struct {
	Messages      []Message  `json:"messages"`
	FilesModified []string   `json:"filesModified"`
	StartTime     string     `json:"startTime,omitempty"`
	ToolCalls     []ToolCall `json:"toolCalls"`
	Todos         []Todo     `json:"currentTodos"`
	HasEnded      bool       `json:"hasEnded"`
}

type record struct {
	Type      string `json:"type"`
	IsMeta    bool   `json:"isMeta"`
	Timestamp string `json:"timestamp"`
	Message   *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type block struct {
	Type  string         `json:"type"`
	Text  string         `json:"text"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

const sessionEndPrefix = "Stop hook feedback:"

// lineResult is what one log line contributes.
type lineResult struct {
	message   *Message
	toolCalls []ToolCall
	todos     []Todo
}

// ParseLine interprets one JSONL record. Malformed and irrelevant lines
// yield nil.
func ParseLine(line string) *Message {
	return parseLine(line).message
}

func parseLine(line string) lineResult {
	if strings.TrimSpace(line) == "" {
		return lineResult{}
	}
	var r record
	if err := json.Unmarshal([]byte(line), &r); err != nil {
		return lineResult{}
	}
	if r.Type != "user" && r.Type != "assistant" {
		return lineResult{}
	}

	var raw json.RawMessage
	if r.Message != nil {
		raw = r.Message.Content
	}
	text, blocks := decodeContent(raw)

	if r.IsMeta && r.Type == "user" && strings.HasPrefix(text, sessionEndPrefix) {
		return lineResult{message: &Message{
			Role:         RoleSystem,
			Content:      "Session Ended",
			Timestamp:    r.Timestamp,
			IsSessionEnd: true,
		}}
	}

	calls, todos := extractToolCalls(blocks)
	res := lineResult{toolCalls: calls, todos: todos}
	if text == "" {
		return res
	}

	msg := &Message{
		Role:      Role(r.Type),
		Content:   text,
		Timestamp: r.Timestamp,
		ToolCalls: calls,
	}
	if r.Type == "user" {
		msg.IsCommandInjection, msg.CommandName = CommandInjection(text)
	}
	res.message = msg
	return res
}

func decodeContent(raw json.RawMessage) (string, []block) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var blocks []block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n"), blocks
}

func operationFor(name string) Operation {
	switch name {
	case "Read":
		return OpRead
	case "Write":
		return OpWrite
	case "Edit":
		return OpEdit
	case "Glob", "Grep":
		return OpSearch
	case "TodoWrite":
		return OpTodo
	default:
		return OpExecute
	}
}

func extractToolCalls(blocks []block) ([]ToolCall, []Todo) {
	var calls []ToolCall
	var todos []Todo
	for _, b := range blocks {
		if b.Type != "tool_use" || b.Name == "" {
			continue
		}
		files := []string{}
		switch b.Name {
		case "Read", "Write", "Edit":
			if p := stringField(b.Input, "file_path", "path"); p != "" {
				files = append(files, p)
			}
		case "Glob":
			if pattern := stringField(b.Input, "pattern"); pattern != "" {
				if dir := stringField(b.Input, "path"); dir != "" {
					pattern = dir + "/" + pattern
				}
				files = append(files, pattern)
			}
		case "Grep":
			if p := stringField(b.Input, "path"); p != "" {
				files = append(files, p)
			}
		case "TodoWrite":
			todos = decodeTodos(b.Input["todos"])
		}
		calls = append(calls, ToolCall{
			Name:      b.Name,
			Operation: operationFor(b.Name),
			Files:     files,
			Input:     b.Input,
		})
	}
	return calls, todos
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func decodeTodos(v any) []Todo {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var todos []Todo
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		content, ok1 := m["content"].(string)
		status, ok2 := m["status"].(string)
		active, ok3 := m["activeForm"].(string)
		if ok1 && ok2 && ok3 {
			todos = append(todos, Todo{Content: content, Status: status, ActiveForm: active})
		}
	}
	return todos
}

// ParseLines aggregates log lines. Tool calls on a line without text are
// attached to the most recent assistant message. The last TodoWrite wins.
func ParseLines(lines []string) Summary {
	s := Summary{Messages: []Message{}, FilesModified: []string{}, ToolCalls: []ToolCall{}, Todos: []Todo{}}
	files := map[string]bool{}

	for _, line := range lines {
		res := parseLine(line)

		if m := res.message; m != nil {
			s.Messages = append(s.Messages, *m)
			if m.Timestamp != "" && (s.StartTime == "" || m.Timestamp < s.StartTime) {
				s.StartTime = m.Timestamp
			}
			if m.IsSessionEnd {
				s.HasEnded = true
			}
		}

		if len(res.toolCalls) > 0 {
			s.ToolCalls = append(s.ToolCalls, res.toolCalls...)
			if res.message == nil {
				for i := len(s.Messages) - 1; i >= 0; i-- {
					if s.Messages[i].Role == RoleAssistant {
						s.Messages[i].ToolCalls = append(s.Messages[i].ToolCalls, res.toolCalls...)
						break
					}
				}
			}
			for _, tc := range res.toolCalls {
				if tc.Operation == OpWrite || tc.Operation == OpEdit {
					for _, f := range tc.Files {
						files[f] = true
					}
				}
			}
		}

		if len(res.todos) > 0 {
			s.Todos = res.todos
		}
	}

	for f := range files {
		s.FilesModified = append(s.FilesModified, f)
	}
	sort.Strings(s.FilesModified)
	return s
}

var commandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^## Critical Rules`),
	regexp.MustCompile(`^\*\*NEVER edit tasks\.md directly\*\*`),
	regexp.MustCompile(`\$ARGUMENTS`),
	regexp.MustCompile(`## Execution`),
	regexp.MustCompile(`\[IMPL\] INITIALIZE`),
	regexp.MustCompile(`## Memory Protocol`),
	regexp.MustCompile(`## Phase Lifecycle`),
	regexp.MustCompile(`# @\w+ Agent`),
	regexp.MustCompile(`## Design Phase`),
	regexp.MustCompile(`## Implement Phase`),
	regexp.MustCompile(`## Verify Phase`),
	regexp.MustCompile(`^# flow\.`),
	regexp.MustCompile(`## Orchestration State`),
}

// Most specific first.
var commandNames = []struct {
	re     *regexp.Regexp
	prefix string
	name   string
}{
	{re: regexp.MustCompile(`(?m)^# /flow\.(\w+)`), prefix: "flow."},
	{re: regexp.MustCompile(`(?im)^description:\s*.*flow\.(\w+)`), prefix: "flow."},
	{re: regexp.MustCompile(`(?i)\[IMPL\]`), name: "flow.implement"},
	{re: regexp.MustCompile(`(?i)\[MERGE\]`), name: "flow.merge"},
	{re: regexp.MustCompile(`(?i)\[VERIFY\]`), name: "flow.verify"},
	{re: regexp.MustCompile(`(?i)\[DESIGN\]`), name: "flow.design"},
	{re: regexp.MustCompile(`(?i)## Design Phase`), name: "flow.design"},
	{re: regexp.MustCompile(`(?i)## Verify Phase`), name: "flow.verify"},
	{re: regexp.MustCompile(`(?i)## Memory Protocol`), name: "flow.memory"},
	{re: regexp.MustCompile(`(?i)# @(\w+) Agent`)},
	{re: regexp.MustCompile(`(?i)## (\w+) Phase`)},
	{re: regexp.MustCompile(`(?im)^flow\.(\w+)`), prefix: "flow."},
}

// CommandInjection reports whether a user message is an injected skill
// prompt rather than something a person typed, and names the command.
func CommandInjection(content string) (bool, string) {
	matched := false
	for _, re := range commandPatterns {
		if re.MatchString(content) {
			matched = true
			break
		}
	}
	if !matched {
		return false, ""
	}
	for _, cn := range commandNames {
		m := cn.re.FindStringSubmatch(content)
		if m == nil {
			continue
		}
		if cn.name != "" {
			return true, cn.name
		}
		return true, cn.prefix + m[1]
	}
	return true, "Command"
}
