package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/testutil"
	"github.com/specflow/specflow/prompts"
)

type recorder struct {
	events []event.Event
}

func (r *recorder) handle(e event.Event) { r.events = append(r.events, e) }

func (r *recorder) types() []event.Type {
	out := make([]event.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) last() event.Event { return r.events[len(r.events)-1] }

func newTestRunner(binary string) *Runner {
	return &Runner{
		Binary: binary,
		Loader: MapLoader{"flow.design": "Design the feature."},
	}
}

func sameTypes(got, want []event.Type) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestRunMissingBinary(t *testing.T) {
	r := newTestRunner("/nonexistent/bin/claude")
	rec := &recorder{}

	_, err := r.Run(context.Background(), Options{Dir: t.TempDir(), Skill: "flow.design"}, rec.handle)
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	if errs.HintOf(err) == "" {
		t.Error("expected a remediation hint")
	}
	if len(rec.events) != 0 {
		t.Errorf("expected no events, got %v", rec.types())
	}
}

func TestRunMissingSkill(t *testing.T) {
	fake := testutil.NewFakeClaude(t, "{}")
	r := newTestRunner(fake.Path)
	rec := &recorder{}

	_, err := r.Run(context.Background(), Options{Dir: t.TempDir(), Skill: "flow.nope"}, rec.handle)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if fake.Calls() != 0 {
		t.Errorf("agent should not be spawned, got %d calls", fake.Calls())
	}
	if len(rec.events) != 0 {
		t.Errorf("expected no events, got %v", rec.types())
	}
}

func TestRunNeedsInput(t *testing.T) {
	fake := testutil.NewFakeClaude(t, testutil.ClaudeResult("s1", map[string]any{
		"status": "needs_input",
		"questions": []map[string]any{{
			"question": "Framework?",
			"header":   "FW",
			"options":  []map[string]any{{"label": "React", "description": "UI library"}},
		}},
	}))
	r := newTestRunner(fake.Path)
	rec := &recorder{}

	res, err := r.Run(context.Background(), Options{Dir: t.TempDir(), Skill: "/flow.design"}, rec.handle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success || res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("expected success with exit 0, got %+v", res)
	}
	if res.SessionID != "s1" {
		t.Errorf("SessionID = %q, want s1", res.SessionID)
	}
	if res.Output == nil || res.Output.Status != OutputNeedsInput {
		t.Fatalf("expected needs_input output, got %+v", res.Output)
	}
	if res.CostUSD != 0.01 {
		t.Errorf("CostUSD = %v, want 0.01", res.CostUSD)
	}

	want := []event.Type{event.PhaseStarted, event.QuestionQueued, event.Complete}
	if !sameTypes(rec.types(), want) {
		t.Fatalf("events = %v, want %v", rec.types(), want)
	}
	q, ok := rec.events[1].Question()
	if !ok {
		t.Fatal("second event should be a question")
	}
	if q.ID != "fw" || q.Content != "Framework?" || len(q.Options) != 1 || q.Options[0].Label != "React" {
		t.Errorf("unexpected question %+v", q)
	}

	complete := rec.last().Data.(event.CompleteData)
	if complete.EventsEmitted != 2 {
		t.Errorf("complete.EventsEmitted = %d, want 2", complete.EventsEmitted)
	}
	if complete.Status != OutputNeedsInput || !complete.Success {
		t.Errorf("unexpected complete %+v", complete)
	}
	if res.EventsEmitted != 3 {
		t.Errorf("Result.EventsEmitted = %d, want 3", res.EventsEmitted)
	}

	args := fake.Args(1)
	for _, want := range []string{"-p", "--disallowedTools\nAskUserQuestion", "--json-schema", "Design the feature."} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q:\n%s", want, args)
		}
	}
}

func TestRunArtifactsAndPhase(t *testing.T) {
	fake := testutil.NewFakeClaude(t, testutil.ClaudeResult("s1", map[string]any{
		"status":    "completed",
		"phase":     "design",
		"artifacts": []map[string]any{{"path": "specs/001/spec.md", "action": "created"}},
	}))
	r := newTestRunner(fake.Path)
	rec := &recorder{}

	res, err := r.Run(context.Background(), Options{Dir: t.TempDir(), Skill: "flow.design"}, rec.handle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}

	want := []event.Type{event.PhaseStarted, event.PhaseStarted, event.ArtifactCreated, event.Complete}
	if !sameTypes(rec.types(), want) {
		t.Fatalf("events = %v, want %v", rec.types(), want)
	}
	if p := rec.events[1].Data.(event.PhaseStartedData); p.Phase != "design" {
		t.Errorf("phase = %q, want design", p.Phase)
	}
	a := rec.events[2].Data.(event.ArtifactCreatedData)
	if a.Artifact != "spec.md" || a.Action != "created" {
		t.Errorf("unexpected artifact %+v", a)
	}
}

func TestRunIsError(t *testing.T) {
	fake := testutil.NewFakeClaude(t, `{"type":"result","is_error":true,"result":"rate limited","session_id":"s2"}`)
	r := newTestRunner(fake.Path)

	res, err := r.Run(context.Background(), Options{Dir: t.TempDir(), Skill: "flow.design"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "rate limited" {
		t.Errorf("Error = %q, want %q", res.Error, "rate limited")
	}
	if res.SessionID != "s2" {
		t.Errorf("SessionID = %q, want s2", res.SessionID)
	}
}

func TestRunUnparseableOutput(t *testing.T) {
	fake := testutil.NewFakeClaudeScript(t, "echo 'not json at all'\necho boom >&2\nexit 1\n")
	r := newTestRunner(fake.Path)
	rec := &recorder{}

	res, err := r.Run(context.Background(), Options{Dir: t.TempDir(), Skill: "flow.design"}, rec.handle)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ExitCode == nil || *res.ExitCode != 1 {
		t.Errorf("ExitCode = %v, want 1", res.ExitCode)
	}
	if !strings.HasPrefix(res.Error, "Failed to parse Claude output: not json at all") {
		t.Errorf("unexpected error %q", res.Error)
	}
	if !strings.Contains(res.Error, "\nStderr: boom") {
		t.Errorf("error should carry stderr, got %q", res.Error)
	}
	if rec.last().Type != event.Complete {
		t.Errorf("last event = %s, want complete", rec.last().Type)
	}
}

func TestRunTruncatesDiagnostics(t *testing.T) {
	fake := testutil.NewFakeClaudeScript(t, "head -c 500 /dev/zero | tr '\\0' x\n")
	r := newTestRunner(fake.Path)

	res, err := r.Run(context.Background(), Options{Dir: t.TempDir(), Skill: "flow.design"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "Failed to parse Claude output: " + strings.Repeat("x", 200)
	if res.Error != want {
		t.Errorf("Error has length %d, want %d", len(res.Error), len(want))
	}
}

func TestRunPassesAnswers(t *testing.T) {
	fake := testutil.NewFakeClaude(t, testutil.ClaudeResult("s1", map[string]any{"status": "completed"}))
	r := newTestRunner(fake.Path)
	r.Model = "opus"

	opts := Options{
		Dir:     t.TempDir(),
		Skill:   "flow.design",
		Args:    []string{"--extra"},
		Answers: map[string]string{"fw": "React"},
	}
	if _, err := r.Run(context.Background(), opts, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}

	args := fake.Args(1)
	for _, want := range []string{"--model\nopus", "# Previous User Answers", `"fw": "React"`} {
		if !strings.Contains(args, want) {
			t.Errorf("args missing %q:\n%s", want, args)
		}
	}
	if !strings.HasSuffix(strings.TrimRight(args, "\n"), "--extra") {
		t.Errorf("extra args should come last:\n%s", args)
	}
}

func TestRunStreaming(t *testing.T) {
	fake := testutil.NewFakeClaudeScript(t, `cat <<'EOF'
{"type":"system","subtype":"init","session_id":"s9"}
{"type":"assistant","message":{"content":[{"type":"text","text":"Starting plan phase"},{"type":"tool_use","id":"tu0","name":"Write","input":{"file_path":"specs/plan.md","content":"x"}},{"type":"tool_use","id":"tu1","name":"AskUserQuestion","input":{"questions":[{"question":"DB?","header":"DB"}]}}]}}
{"type":"result","subtype":"success","permission_denials":[{"tool_name":"AskUserQuestion","tool_use_id":"tu1","tool_input":{"questions":[{"question":"DB?","header":"DB"}]}}]}
EOF
`)
	r := newTestRunner(fake.Path)
	rec := &recorder{}

	res, err := r.RunStreaming(context.Background(), Options{Dir: t.TempDir(), Skill: "flow.design"}, rec.handle)
	if err != nil {
		t.Fatalf("RunStreaming: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.SessionID != "s9" {
		t.Errorf("SessionID = %q, want s9", res.SessionID)
	}
	if res.Output.Status != OutputNeedsInput || res.Output.Phase != "plan" {
		t.Errorf("unexpected output %+v", res.Output)
	}
	if len(res.Output.Questions) != 1 || res.Output.Questions[0].Header != "DB" {
		t.Errorf("unexpected questions %+v", res.Output.Questions)
	}
	if len(res.Output.Artifacts) != 1 || res.Output.Artifacts[0].Path != "specs/plan.md" {
		t.Errorf("unexpected artifacts %+v", res.Output.Artifacts)
	}

	want := []event.Type{
		event.PhaseStarted,   // workflow
		event.ProgressUpdate, // system init
		event.PhaseStarted,   // plan
		event.ToolInvoked,
		event.ArtifactCreated,
		event.ToolInvoked,
		event.QuestionQueued,
		event.ProgressUpdate, // result, its denial already reported
		event.Complete,
	}
	if !sameTypes(rec.types(), want) {
		t.Fatalf("events = %v, want %v", rec.types(), want)
	}
	if q, _ := rec.events[6].Question(); q.ID != "db" {
		t.Errorf("question id = %q, want db", q.ID)
	}
	args := fake.Args(1)
	if !strings.Contains(args, "stream-json") {
		t.Error("streaming run should request stream-json output")
	}
	if strings.Contains(args, "--disallowedTools") {
		t.Error("streaming run should leave the question tool enabled")
	}
}

func TestInterpretDetached(t *testing.T) {
	output := []byte(testutil.ClaudeResult("s3", map[string]any{"status": "completed", "message": "done"}))
	rec := &recorder{}

	res := InterpretDetached(output, nil, rec.handle)
	if !res.Success || res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Output.Message != "done" {
		t.Errorf("Message = %q, want done", res.Output.Message)
	}

	res = InterpretDetached(nil, []byte("crashed"), nil)
	if res.Success || res.ExitCode != nil {
		t.Errorf("empty output should fail without exit code, got %+v", res)
	}
	if !strings.Contains(res.Error, "Stderr: crashed") {
		t.Errorf("unexpected error %q", res.Error)
	}
}

func TestBuildPrompt(t *testing.T) {
	got, err := BuildPrompt("SKILL", Options{Phase: "plan"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Arguments: --plan\n\nSKILL" {
		t.Errorf("got %q", got)
	}

	got, err = BuildPrompt("SKILL", Options{}, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != prompts.CLIMode+"SKILL" {
		t.Errorf("CLI mode prompt should be the preamble followed by the skill, got %q", got)
	}

	got, err = BuildPrompt("SKILL", Options{Answers: map[string]string{"b": "2", "a": "1"}}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "SKILL\n\n# Previous User Answers\n") {
		t.Errorf("answers block missing: %q", got)
	}
	if strings.Index(got, `"a": "1"`) > strings.Index(got, `"b": "2"`) {
		t.Error("answers should be sorted by key")
	}
	if !strings.HasSuffix(got, "Continue from where you left off using these answers.") {
		t.Errorf("unexpected ending: %q", got)
	}
}

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantErr    bool
		wantStatus string
	}{
		{name: "empty", raw: "  ", wantErr: true},
		{name: "not json", raw: "hello", wantErr: true},
		{name: "wrong type", raw: `{"type":"assistant"}`, wantErr: true},
		{name: "structured", raw: `{"type":"result","structured_output":{"status":"completed"}}`, wantStatus: "completed"},
		{
			name:       "fenced result text",
			raw:        `{"type":"result","result":"Done.\n` + "```json" + `\n{\"status\":\"needs_input\"}\n` + "```" + `"}`,
			wantStatus: "needs_input",
		},
		{
			name:       "prose around object",
			raw:        `{"type":"result","result":"Here: {\"status\":\"error\",\"message\":\"x\"} ok"}`,
			wantStatus: "error",
		},
		{name: "plain result text", raw: `{"type":"result","result":"all good"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := ParseEnvelope([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			status := ""
			if env.StructuredOutput != nil {
				status = env.StructuredOutput.Status
			}
			if status != tt.wantStatus {
				t.Errorf("status = %q, want %q", status, tt.wantStatus)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abc", 10); got != "abc" {
		t.Errorf("got %q", got)
	}
	if got := truncate("abcdef", 3); got != "abc" {
		t.Errorf("got %q", got)
	}
	// "é" is two bytes; cutting inside it drops the partial rune.
	if got := truncate("aé", 2); got != "a" {
		t.Errorf("got %q", got)
	}
}

func TestDirLoader(t *testing.T) {
	first := testutil.SkillDir(t, map[string]string{"flow.design": "from first"})
	second := testutil.SkillDir(t, map[string]string{"flow.design": "from second", "flow.plan": "plan"})
	l := DirLoader{Dirs: []string{first, second}}

	if got, err := l.Load("/flow.design"); err != nil || got != "from first" {
		t.Errorf("Load(flow.design) = %q, %v", got, err)
	}
	if got, err := l.Load("flow.plan"); err != nil || got != "plan" {
		t.Errorf("Load(flow.plan) = %q, %v", got, err)
	}
	if _, err := l.Load("flow.missing"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunRecordsPIDWhileRunning(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "run")
	seen := filepath.Join(t.TempDir(), "seen.json")
	fake := testutil.NewFakeClaudeScript(t, `cp "`+filepath.Join(runDir, process.PIDFileName)+`" "`+seen+`"
echo "$$" > "`+seen+`.self"
echo '`+testutil.ClaudeResult("s1", map[string]any{"status": "completed"})+`'
`)
	r := newTestRunner(fake.Path)

	for _, run := range []struct {
		name string
		fn   func(context.Context, Options, event.Handler) (*Result, error)
	}{
		{"oneshot", r.Run},
		{"streaming", r.RunStreaming},
	} {
		t.Run(run.name, func(t *testing.T) {
			_ = os.Remove(seen)
			if _, err := run.fn(context.Background(), Options{Dir: t.TempDir(), Skill: "flow.design", RunDir: runDir}, nil); err != nil {
				t.Fatal(err)
			}

			data, err := os.ReadFile(seen)
			if err != nil {
				t.Fatalf("agent saw no pid file: %v", err)
			}
			var pf process.PIDFile
			if err := json.Unmarshal(data, &pf); err != nil {
				t.Fatal(err)
			}
			self, _ := os.ReadFile(seen + ".self")
			if pf.ClaudePID <= 0 || strings.TrimSpace(string(self)) != strconv.Itoa(pf.ClaudePID) {
				t.Errorf("pid file = %+v, agent pid %s", pf, self)
			}
			if process.ReadPIDFile(runDir) != nil {
				t.Error("pid file should be removed once the agent exits")
			}
		})
	}
}
