package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/health"
	"github.com/specflow/specflow/internal/log"
	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/questions"
	"github.com/specflow/specflow/internal/registry"
	"github.com/specflow/specflow/internal/runner"
	"github.com/specflow/specflow/internal/store"
	"github.com/specflow/specflow/internal/testutil"
)

type fakeRun struct {
	events []event.Payload
	result *runner.Result
	err    error
}

// fakeAgent replays canned runs in order; the last one repeats.
type fakeAgent struct {
	preflightErr error
	runs         []fakeRun
	calls        []runner.Options
	streamed     int
	onRun        func()
	detached     func(runDir string) (*process.DetachedProcess, error)
}

func (f *fakeAgent) Preflight(string) error { return f.preflightErr }

func (f *fakeAgent) Run(_ context.Context, opts runner.Options, h event.Handler) (*runner.Result, error) {
	f.calls = append(f.calls, opts)
	if f.onRun != nil {
		f.onRun()
	}
	r := f.runs[min(len(f.calls)-1, len(f.runs)-1)]
	for _, p := range r.events {
		h(event.New(p))
	}
	return r.result, r.err
}

func (f *fakeAgent) RunStreaming(ctx context.Context, opts runner.Options, h event.Handler) (*runner.Result, error) {
	f.streamed++
	return f.Run(ctx, opts, h)
}

func (f *fakeAgent) StartDetached(_ context.Context, opts runner.Options, runDir string) (*process.DetachedProcess, error) {
	f.calls = append(f.calls, opts)
	return f.detached(runDir)
}

func needsInput(ids ...string) fakeRun {
	run := fakeRun{result: &runner.Result{
		Success:   true,
		SessionID: "sess-1",
		Output:    &runner.Output{Status: runner.OutputNeedsInput},
	}}
	for _, id := range ids {
		run.events = append(run.events, event.QuestionQueuedData{ID: id, Content: id + "?", Options: []event.Option{}})
	}
	run.result.EventsEmitted = len(ids) + 1
	return run
}

func completed() fakeRun {
	return fakeRun{
		events: []event.Payload{
			event.PhaseStartedData{Phase: "implement"},
			event.ArtifactCreatedData{Path: "specs/spec.md", Artifact: "spec.md", Action: "created"},
		},
		result: &runner.Result{Success: true, Output: &runner.Output{Status: runner.OutputCompleted}, EventsEmitted: 3},
	}
}

func newTestService(t *testing.T, agent Agent) *Service {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "specflow.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	return New(Options{
		Store:        st,
		Agent:        agent,
		Registry:     registry.New(filepath.Join(t.TempDir(), registry.FileName)),
		Metrics:      metrics.New(prometheus.NewRegistry()),
		Killer:       process.NewKiller(2 * time.Second),
		PollInterval: 20 * time.Millisecond,
	})
}

func newProject(t *testing.T) string {
	t.Helper()
	return testutil.TempProject(t, testutil.SpecflowProject())
}

func TestStartResumeEndToEnd(t *testing.T) {
	fake := testutil.NewFakeClaude(t,
		testutil.ClaudeResult("s1", map[string]any{
			"status": "needs_input",
			"questions": []map[string]any{{
				"question": "Framework?",
				"header":   "FW",
				"options":  []map[string]any{{"label": "React", "description": "UI library"}},
			}},
		}),
		testutil.ClaudeResult("s1", map[string]any{"status": "completed"}),
	)
	agent := &runner.Runner{Binary: fake.Path, Loader: runner.MapLoader{"flow.design": "Design it."}}
	svc := newTestService(t, agent)
	project := newProject(t)
	ctx := context.Background()

	e, err := svc.Start(ctx, project, "design", StartOptions{})
	if err == nil {
		t.Fatal("expected unknown skill to fail")
	}
	if !errors.Is(err, errs.ErrNotFound) || e != nil {
		t.Fatalf("expected ErrNotFound before any execution, got %v, %v", e, err)
	}

	e, err = svc.Start(ctx, project, "/flow.design", StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.Status != store.StatusWaiting {
		t.Fatalf("Status = %s, want %s (error %q)", e.Status, store.StatusWaiting, e.Error)
	}
	if e.SessionID != "s1" || e.ProjectID == "" {
		t.Errorf("unexpected execution %+v", e)
	}

	queue := questions.NewStore(project)
	pending := queue.Pending()
	if len(pending) != 1 || pending[0].ID != "fw" || pending[0].Content != "Framework?" {
		t.Fatalf("unexpected pending questions %+v", pending)
	}

	e, err = svc.Resume(ctx, e.ID, map[string]string{"fw": "React"}, ResumeOptions{})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if e.Status != store.StatusCompleted || e.CompletedAt == nil {
		t.Fatalf("Status = %s, want completed (error %q)", e.Status, e.Error)
	}
	if e.Answers["fw"] != "React" {
		t.Errorf("Answers = %v", e.Answers)
	}

	q, _ := queue.Get("fw")
	if q == nil || q.Status != questions.StatusAnswered || q.Answer != "React" {
		t.Errorf("question not answered: %+v", q)
	}
	if fake.Calls() != 2 {
		t.Fatalf("agent calls = %d, want 2", fake.Calls())
	}
	if args := fake.Args(2); !strings.Contains(args, `"fw": "React"`) {
		t.Errorf("second run should embed answers:\n%s", args)
	}

	stored, err := svc.Get(e.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != store.StatusCompleted {
		t.Errorf("stored status = %s", stored.Status)
	}

	events, err := svc.Events(e.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) == 0 || events[len(events)-1].Type != event.Complete {
		t.Errorf("event log should end with complete, got %d events", len(events))
	}

	l, _ := log.NewLogger(project)
	entries, _ := l.ReadAll()
	var kinds []string
	for _, en := range entries {
		kinds = append(kinds, en.Event)
	}
	want := []string{
		log.EventWorkflowStarted, log.EventWorkflowWaiting, log.EventQuestionAnswered,
		log.EventWorkflowResumed, log.EventWorkflowCompleted,
	}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("lifecycle log = %v, want %v", kinds, want)
	}
}

func TestStartPreflightFailure(t *testing.T) {
	agent := &fakeAgent{preflightErr: errs.Config("agent binary \"claude\" not found in PATH", nil)}
	svc := newTestService(t, agent)

	_, err := svc.Start(context.Background(), newProject(t), "", StartOptions{})
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	list, _ := svc.List("", 0)
	if len(list) != 0 {
		t.Errorf("no execution should be created, got %d", len(list))
	}
}

func TestStartRejectsUnknownMode(t *testing.T) {
	svc := newTestService(t, &fakeAgent{runs: []fakeRun{completed()}})
	_, err := svc.Start(context.Background(), newProject(t), "", StartOptions{Mode: "turbo"})
	if !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestStartFailsWhenQueueUnwritable(t *testing.T) {
	agent := &fakeAgent{runs: []fakeRun{completed()}}
	svc := newTestService(t, agent)
	project := newProject(t)
	blocker := filepath.Join(project, questions.QueuePath)
	if err := os.MkdirAll(filepath.Join(blocker, "occupied"), 0755); err != nil {
		t.Fatal(err)
	}

	e, err := svc.Start(context.Background(), project, "", StartOptions{})
	if err == nil {
		t.Fatal("expected the queue reset to fail")
	}
	if e == nil || e.Status != store.StatusFailed || e.CompletedAt == nil {
		t.Fatalf("execution = %+v, want failed", e)
	}
	stored, _ := svc.Get(e.ID, "")
	if stored.Status != store.StatusFailed || stored.Error == "" {
		t.Errorf("stored = %s %q, want failed with an error", stored.Status, stored.Error)
	}
	if len(agent.calls) != 0 {
		t.Errorf("agent should not run, got %d calls", len(agent.calls))
	}
}

func TestStartCompletes(t *testing.T) {
	agent := &fakeAgent{runs: []fakeRun{completed()}}
	svc := newTestService(t, agent)

	var seen []event.Type
	e, err := svc.Start(context.Background(), newProject(t), "", StartOptions{
		OnEvent: func(ev event.Event) { seen = append(seen, ev.Type) },
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.Skill != DefaultSkill {
		t.Errorf("Skill = %q, want %q", e.Skill, DefaultSkill)
	}
	if e.Status != store.StatusCompleted {
		t.Fatalf("Status = %s, want completed", e.Status)
	}
	if e.CurrentPhase != "implement" || len(e.Artifacts) != 1 || e.EventsEmitted != 3 {
		t.Errorf("unexpected execution %+v", e)
	}
	if len(seen) != 2 {
		t.Errorf("OnEvent saw %d events, want 2", len(seen))
	}
}

func TestStartRecordsFailures(t *testing.T) {
	tests := []struct {
		name    string
		run     fakeRun
		wantErr bool
		want    string
	}{
		{
			name: "failed result",
			run:  fakeRun{result: &runner.Result{Success: false, Error: "Failed to parse Claude output: junk"}},
			want: "Failed to parse Claude output: junk",
		},
		{
			name: "agent reported error",
			run:  fakeRun{result: &runner.Result{Success: true, Output: &runner.Output{Status: runner.OutputError, Message: "cannot proceed"}}},
			want: "cannot proceed",
		},
		{
			name: "needs input without questions",
			run:  fakeRun{result: &runner.Result{Success: true, Output: &runner.Output{Status: runner.OutputNeedsInput}}},
			want: "agent requested input but asked no new questions",
		},
		{
			name:    "runner error",
			run:     fakeRun{err: errs.Process("spawn failed", nil)},
			wantErr: true,
			want:    "spawn failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, &fakeAgent{runs: []fakeRun{tt.run}})
			e, err := svc.Start(context.Background(), newProject(t), "", StartOptions{})
			if tt.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if e == nil {
				t.Fatal("expected execution")
			}
			if e.Status != store.StatusFailed || e.Error != tt.want {
				t.Errorf("got %s %q, want failed %q", e.Status, e.Error, tt.want)
			}
			stored, _ := svc.Get(e.ID, "")
			if stored.Status != store.StatusFailed {
				t.Errorf("stored status = %s", stored.Status)
			}
		})
	}
}

func TestStreamingMode(t *testing.T) {
	agent := &fakeAgent{runs: []fakeRun{needsInput("db"), completed()}}
	svc := newTestService(t, agent)
	ctx := context.Background()

	e, err := svc.Start(ctx, newProject(t), "", StartOptions{Mode: store.ModeStreaming})
	if err != nil {
		t.Fatal(err)
	}
	if e.Mode != store.ModeStreaming || e.Status != store.StatusWaiting {
		t.Fatalf("unexpected execution %+v", e)
	}
	if _, err := svc.Resume(ctx, e.ID, map[string]string{"db": "postgres"}, ResumeOptions{}); err != nil {
		t.Fatal(err)
	}
	if agent.streamed != 2 {
		t.Errorf("streamed runs = %d, want 2", agent.streamed)
	}
}

func TestResumeValidation(t *testing.T) {
	agent := &fakeAgent{runs: []fakeRun{needsInput("a", "b"), completed()}}
	svc := newTestService(t, agent)
	project := newProject(t)
	ctx := context.Background()

	e, err := svc.Start(ctx, project, "", StartOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// Unknown ids are rejected before anything is written.
	_, err = svc.Resume(ctx, e.ID, map[string]string{"a": "1", "zzz": "x"}, ResumeOptions{})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if got := len(questions.NewStore(project).Pending()); got != 2 {
		t.Fatalf("pending = %d, want 2 (no partial write)", got)
	}

	_, err = svc.Resume(ctx, e.ID, nil, ResumeOptions{})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty answers with pending questions: expected ErrValidation, got %v", err)
	}

	// A partial answer keeps the execution waiting.
	e, err = svc.Resume(ctx, e.ID, map[string]string{"a": "1"}, ResumeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != store.StatusWaiting || len(agent.calls) != 1 {
		t.Fatalf("partial answer: status %s, calls %d", e.Status, len(agent.calls))
	}

	_, err = svc.Resume(ctx, e.ID, map[string]string{"a": "again"}, ResumeOptions{})
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("re-answer: expected ErrInvalidState, got %v", err)
	}

	// The last answer arrives through the queue; resume picks it up.
	if _, err := svc.Answer(e.ID, "", "b", "2"); err != nil {
		t.Fatal(err)
	}
	e, err = svc.Resume(ctx, e.ID, nil, ResumeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != store.StatusCompleted {
		t.Fatalf("Status = %s, want completed", e.Status)
	}
	last := agent.calls[len(agent.calls)-1]
	if last.Answers["a"] != "1" || last.Answers["b"] != "2" {
		t.Errorf("resume should pass cumulative answers, got %v", last.Answers)
	}

	_, err = svc.Resume(ctx, e.ID, map[string]string{"a": "1"}, ResumeOptions{})
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("resume of completed: expected ErrInvalidState, got %v", err)
	}
}

func TestResumeSkipsReaskedQuestions(t *testing.T) {
	agent := &fakeAgent{runs: []fakeRun{needsInput("fw"), needsInput("fw", "db"), completed()}}
	svc := newTestService(t, agent)
	ctx := context.Background()

	e, _ := svc.Start(ctx, newProject(t), "", StartOptions{})
	e, err := svc.Resume(ctx, e.ID, map[string]string{"fw": "React"}, ResumeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	pending, _ := svc.PendingQuestions(e.ID, "")
	if len(pending) != 1 || pending[0].ID != "db" {
		t.Fatalf("only the new question should be pending, got %+v", pending)
	}
}

func TestResumeGuard(t *testing.T) {
	svc := newTestService(t, &fakeAgent{runs: []fakeRun{needsInput("a")}})
	e, _ := svc.Start(context.Background(), newProject(t), "", StartOptions{})

	if err := svc.acquire(e.ID); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Resume(context.Background(), e.ID, map[string]string{"a": "1"}, ResumeOptions{})
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState while another resume runs, got %v", err)
	}
	svc.release(e.ID)
}

func TestCancel(t *testing.T) {
	svc := newTestService(t, &fakeAgent{runs: []fakeRun{needsInput("a")}})
	e, _ := svc.Start(context.Background(), newProject(t), "", StartOptions{})

	_, err := svc.Cancel("nope")
	if !errors.Is(err, errs.ErrNotFound) || !strings.Contains(err.Error(), "not found") {
		t.Errorf("unknown id: got %v", err)
	}

	got, err := svc.Cancel(e.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != store.StatusCancelled || got.CompletedAt == nil {
		t.Errorf("unexpected execution %+v", got)
	}

	_, err = svc.Cancel(e.ID)
	if !errors.Is(err, errs.ErrInvalidState) || !strings.Contains(err.Error(), "Cannot cancel") {
		t.Errorf("terminal: got %v", err)
	}
}

func TestCancelCompletedFails(t *testing.T) {
	svc := newTestService(t, &fakeAgent{runs: []fakeRun{completed()}})
	e, _ := svc.Start(context.Background(), newProject(t), "", StartOptions{})
	if _, err := svc.Cancel(e.ID); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestCancelDuringRun(t *testing.T) {
	agent := &fakeAgent{runs: []fakeRun{completed()}}
	svc := newTestService(t, agent)
	agent.onRun = func() {
		list, _ := svc.List("", 1)
		if _, err := svc.Cancel(list[0].ID); err != nil {
			t.Errorf("Cancel: %v", err)
		}
	}

	e, err := svc.Start(context.Background(), newProject(t), "", StartOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != store.StatusCancelled {
		t.Errorf("Status = %s, want cancelled", e.Status)
	}
}

func TestCancelBySession(t *testing.T) {
	svc := newTestService(t, &fakeAgent{runs: []fakeRun{needsInput("a")}})
	e, _ := svc.Start(context.Background(), newProject(t), "", StartOptions{})

	if _, err := svc.CancelBySession("sess-1", e.ProjectID, store.StatusFailed); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("bad final status: expected ErrValidation, got %v", err)
	}
	ok, err := svc.CancelBySession("other", e.ProjectID, store.StatusCancelled)
	if err != nil || ok {
		t.Errorf("unknown session: got %v, %v", ok, err)
	}

	ok, err = svc.CancelBySession("sess-1", e.ProjectID, store.StatusCompleted)
	if err != nil || !ok {
		t.Fatalf("CancelBySession = %v, %v", ok, err)
	}
	got, _ := svc.Get(e.ID, "")
	if got.Status != store.StatusCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}

	ok, _ = svc.CancelBySession("sess-1", e.ProjectID, store.StatusCancelled)
	if ok {
		t.Error("terminal execution should not be updatable")
	}
}

func TestGetProjectScope(t *testing.T) {
	svc := newTestService(t, &fakeAgent{runs: []fakeRun{completed()}})
	e, _ := svc.Start(context.Background(), newProject(t), "", StartOptions{ProjectID: "p1"})

	if _, err := svc.Get(e.ID, "p1"); err != nil {
		t.Errorf("matching project: %v", err)
	}
	if _, err := svc.Get(e.ID, "p2"); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("other project: expected ErrNotFound, got %v", err)
	}
}

func TestDetachedReconcile(t *testing.T) {
	output := testutil.ClaudeResult("s9", map[string]any{
		"status":    "needs_input",
		"questions": []map[string]any{{"question": "DB?", "header": "DB"}},
	})
	agent := &fakeAgent{
		runs: []fakeRun{completed()},
		detached: func(runDir string) (*process.DetachedProcess, error) {
			if err := os.MkdirAll(runDir, 0755); err != nil {
				return nil, err
			}
			out := filepath.Join(runDir, process.OutputFileName)
			return &process.DetachedProcess{OutputFile: out}, os.WriteFile(out, []byte(output), 0644)
		},
	}
	svc := newTestService(t, agent)
	ctx := context.Background()

	e, err := svc.Start(ctx, newProject(t), "", StartOptions{Mode: store.ModeDetached})
	if err != nil {
		t.Fatal(err)
	}
	if e.Status != store.StatusDetached {
		t.Fatalf("Status = %s, want detached", e.Status)
	}

	changed, err := svc.ReconcileActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(changed) != 1 || changed[0].Status != store.StatusWaiting || changed[0].SessionID != "s9" {
		t.Fatalf("unexpected reconcile result %+v", changed)
	}
	pending, _ := svc.PendingQuestions(e.ID, "")
	if len(pending) != 1 || pending[0].ID != "db" {
		t.Errorf("unexpected pending %+v", pending)
	}
}

func TestDetachedSpawnFailure(t *testing.T) {
	agent := &fakeAgent{detached: func(string) (*process.DetachedProcess, error) {
		return nil, errors.New("no /bin/bash")
	}}
	svc := newTestService(t, agent)

	e, err := svc.Start(context.Background(), newProject(t), "", StartOptions{Mode: store.ModeDetached})
	if err != nil {
		t.Fatalf("spawn failure should be recorded, got %v", err)
	}
	if e.Status != store.StatusFailed || e.Error != "no /bin/bash" {
		t.Errorf("unexpected execution %+v", e)
	}
}

func TestWaitTimesOut(t *testing.T) {
	agent := &fakeAgent{detached: func(runDir string) (*process.DetachedProcess, error) {
		return &process.DetachedProcess{}, os.MkdirAll(runDir, 0755)
	}}
	svc := newTestService(t, agent)

	e, _ := svc.Start(context.Background(), newProject(t), "", StartOptions{Mode: store.ModeDetached})
	got, timedOut, err := svc.Wait(context.Background(), e.ID, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if !timedOut || got.Status != store.StatusDetached {
		t.Errorf("timedOut = %v, status %s", timedOut, got.Status)
	}
}

func TestHealth(t *testing.T) {
	agent := &fakeAgent{detached: func(runDir string) (*process.DetachedProcess, error) {
		return &process.DetachedProcess{BashPID: 4242}, process.WritePIDFile(runDir, process.PIDFile{BashPID: 4242, ClaudePID: 4243})
	}}
	svc := newTestService(t, agent)
	alive := map[int]bool{4242: true}
	svc.monitor = &health.Monitor{
		Threshold: health.DefaultStalenessThreshold,
		Alive:     func(pid int) bool { return alive[pid] },
		Now:       time.Now,
	}

	e, _ := svc.Start(context.Background(), newProject(t), "", StartOptions{Mode: store.ModeDetached})

	report, err := svc.Health(e.ID, "")
	if err != nil {
		t.Fatal(err)
	}
	if report.Health.Status != health.StatusRunning || report.Message != "Process is running normally" {
		t.Errorf("unexpected report %+v", report)
	}
	if report.PIDFile == nil || report.PIDFile.ClaudePID != 4243 {
		t.Errorf("PIDFile = %+v", report.PIDFile)
	}

	alive[4242] = false
	report, _ = svc.Health(e.ID, "")
	if report.Health.Status != health.StatusDead || !health.ShouldMarkAsFailed(report.Health) {
		t.Errorf("expected dead, got %s", report.Health.Status)
	}
	stored, _ := svc.Get(e.ID, "")
	if stored.Status != store.StatusDetached {
		t.Errorf("Health must not change the execution, got %s", stored.Status)
	}
}

func TestKillRejectsInactive(t *testing.T) {
	svc := newTestService(t, &fakeAgent{runs: []fakeRun{completed()}})
	e, _ := svc.Start(context.Background(), newProject(t), "", StartOptions{})

	_, err := svc.Kill(context.Background(), e.ID, "", false)
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestKillWithoutProcesses(t *testing.T) {
	svc := newTestService(t, &fakeAgent{runs: []fakeRun{needsInput("a")}})
	e, _ := svc.Start(context.Background(), newProject(t), "", StartOptions{})

	res, err := svc.Kill(context.Background(), e.ID, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Killed) != 0 || res.Message != "No processes to kill (may have already terminated)" {
		t.Errorf("unexpected result %+v", res)
	}
	if !res.Cancelled {
		t.Error("kill should cancel the execution")
	}
}
