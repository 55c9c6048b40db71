package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/internal/poller"
	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/registry"
	"github.com/specflow/specflow/internal/runner"
	"github.com/specflow/specflow/internal/sessionlog"
	"github.com/specflow/specflow/internal/store"
	"github.com/specflow/specflow/internal/testutil"
	"github.com/specflow/specflow/internal/workflow"
)

// stubAgent asks one question on its first run and completes afterwards.
type stubAgent struct {
	mu    sync.Mutex
	calls int
}

func (a *stubAgent) Preflight(string) error { return nil }

func (a *stubAgent) Run(_ context.Context, _ runner.Options, h event.Handler) (*runner.Result, error) {
	a.mu.Lock()
	a.calls++
	first := a.calls == 1
	a.mu.Unlock()

	if first {
		h(event.New(event.QuestionQueuedData{ID: "fw", Content: "Framework?", Header: "FW", Options: []event.Option{{Label: "React"}}}))
		return &runner.Result{Success: true, SessionID: "sess-1", Output: &runner.Output{Status: runner.OutputNeedsInput}}, nil
	}
	return &runner.Result{Success: true, SessionID: "sess-1", Output: &runner.Output{Status: runner.OutputCompleted}}, nil
}

func (a *stubAgent) RunStreaming(ctx context.Context, opts runner.Options, h event.Handler) (*runner.Result, error) {
	return a.Run(ctx, opts, h)
}

func (a *stubAgent) StartDetached(context.Context, runner.Options, string) (*process.DetachedProcess, error) {
	return &process.DetachedProcess{}, nil
}

type env struct {
	srv      *Server
	reg      *prometheus.Registry
	registry *registry.Registry
	project  string
	claude   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "specflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	reg := registry.New(filepath.Join(t.TempDir(), registry.FileName))
	svc := workflow.New(workflow.Options{Store: st, Agent: &stubAgent{}, Registry: reg, Metrics: m})

	claude := t.TempDir()
	p := poller.New(claude, 10*time.Millisecond, m)
	t.Cleanup(p.Close)

	return &env{
		srv:      New(Options{Service: svc, Poller: p, ClaudeProjects: claude, Gatherer: promReg, Home: "/home/tester"}),
		reg:      promReg,
		registry: reg,
		project:  testutil.TempProject(t, testutil.SpecflowProject()),
		claude:   claude,
	}
}

func (e *env) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *env) start(t *testing.T) store.Execution {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/workflow/start", obj{"projectPath": e.project})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ex store.Execution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ex))
	return ex
}

type obj = map[string]any

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	e.start(t)
	rec = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "specflow_workflow_transitions_total")
}

func TestStartAnswerFlow(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/workflow/start", obj{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "projectPath is required", decode(t, rec)["error"])

	ex := e.start(t)
	assert.Equal(t, store.StatusWaiting, ex.Status)
	assert.Equal(t, workflow.DefaultSkill, ex.Skill)

	rec = e.do(t, http.MethodGet, "/api/workflow/questions?id="+ex.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	qs := decode(t, rec)["questions"].([]any)
	require.Len(t, qs, 1)
	assert.Equal(t, "fw", qs[0].(map[string]any)["id"])

	rec = e.do(t, http.MethodPost, "/api/workflow/answer", obj{"id": ex.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "answers object is required", decode(t, rec)["error"])

	rec = e.do(t, http.MethodPost, "/api/workflow/answer", obj{"id": ex.ID, "answers": obj{"nope": "x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/workflow/answer", obj{"id": ex.ID, "answers": obj{"fw": "React"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(store.StatusCompleted), decode(t, rec)["status"])

	rec = e.do(t, http.MethodGet, "/api/workflow/status?id="+ex.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "React", decode(t, rec)["answers"].(map[string]any)["fw"])

	rec = e.do(t, http.MethodGet, "/api/workflow/list?projectId="+ex.ProjectID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["executions"], 1)

	rec = e.do(t, http.MethodGet, "/api/workflow/events?id="+ex.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["events"])
}

func TestAnswerQuestion(t *testing.T) {
	e := newEnv(t)
	ex := e.start(t)

	rec := e.do(t, http.MethodPost, "/api/workflow/questions", obj{"id": ex.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/workflow/questions", obj{"id": ex.ID, "questionId": "zz", "answer": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/workflow/questions", obj{"id": ex.ID, "questionId": "fw", "answer": "Vue"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Vue", body["answer"])
	assert.Equal(t, float64(0), body["pendingCount"])
}

func TestCancel(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/workflow/cancel", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing required parameters: id, or sessionId and projectId", decode(t, rec)["error"])

	rec = e.do(t, http.MethodPost, "/api/workflow/cancel?id=unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/workflow/cancel?sessionId=nope&projectId=p", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Session not found or not in updatable state: nope", decode(t, rec)["error"])

	ex := e.start(t)
	rec = e.do(t, http.MethodPost, "/api/workflow/cancel?id="+ex.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(store.StatusCancelled), decode(t, rec)["execution"].(map[string]any)["status"])

	rec = e.do(t, http.MethodPost, "/api/workflow/cancel?id="+ex.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "Cannot cancel")
}

func TestCancelFallsBackToSession(t *testing.T) {
	e := newEnv(t)
	ex := e.start(t)

	rec := e.do(t, http.MethodPost,
		"/api/workflow/cancel?id=stale-id&sessionId=sess-1&projectId="+ex.ProjectID+"&status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["cancelled"])
	assert.Equal(t, string(store.StatusCompleted), body["status"])
}

func TestKill(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/workflow/kill", obj{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/workflow/kill", obj{"id": "x", "projectId": "unregistered"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Project not found in registry", decode(t, rec)["error"])

	ex := e.start(t)
	rec = e.do(t, http.MethodPost, "/api/workflow/kill", obj{"id": ex.ID, "projectId": ex.ProjectID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "No processes to kill (may have already terminated)", body["message"])
	assert.Equal(t, true, body["cancelled"])

	rec = e.do(t, http.MethodPost, "/api/workflow/kill", obj{"id": ex.ID, "projectId": ex.ProjectID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "Cannot kill workflow in cancelled state")
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/workflow/health?id=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ex := e.start(t)
	rec = e.do(t, http.MethodGet, "/api/workflow/health?id="+ex.ID+"&projectId="+ex.ProjectID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, ex.ID, body["workflowId"])
	assert.Equal(t, string(store.StatusWaiting), body["workflowStatus"])
	assert.Equal(t, "sess-1", body["sessionId"])

	h := body["health"].(map[string]any)
	assert.Equal(t, "unknown", h["status"])
	assert.Equal(t, "Unable to determine process status", h["message"])
	assert.Equal(t, false, h["pidFile"].(map[string]any)["exists"])
	assert.Equal(t, float64(300000), h["staleness"].(map[string]any)["thresholdMs"])
}

func TestStatusNotFound(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/api/workflow/status?id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "execution missing not found", decode(t, rec)["error"])
}

func writeSession(t *testing.T, e *env, sessionID string, lines ...string) {
	t.Helper()
	path := sessionlog.Path(e.claude, e.project, sessionID)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	var data []byte
	for _, l := range lines {
		data = append(data, l+"\n"...)
	}
	require.NoError(t, os.WriteFile(path, data, 0644))
}

const (
	lineUser = `{"type":"user","timestamp":"2026-01-18T10:00:00Z","message":{"content":"go"}}`
	lineStop = `{"type":"user","isMeta":true,"timestamp":"2026-01-18T10:02:00Z","message":{"content":[{"type":"text","text":"Stop hook feedback: done"}]}}`
)

func TestSessionContent(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/session/content?sessionId=s1&projectPath="+e.project, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	writeSession(t, e, "s1", lineUser)
	rec = e.do(t, http.MethodGet, "/api/session/content?sessionId=s1&projectPath="+e.project, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["messages"], 1)

	rec = e.do(t, http.MethodGet, "/api/session/content?sessionId=s1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionStream(t *testing.T) {
	e := newEnv(t)
	writeSession(t, e, "s2", lineUser, lineStop)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/session/stream?sessionId=s2&projectPath="+e.project, nil)

	done := make(chan struct{})
	go func() {
		e.srv.Handler().ServeHTTP(rec, req)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not end with the session")
	}

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "event:update")
	assert.Contains(t, rec.Body.String(), `"hasEnded":true`)
}

func TestExpandHome(t *testing.T) {
	s := &Server{home: "/home/tester"}
	tests := map[string]string{
		"~":         "/home/tester",
		"~/dev/app": "/home/tester/dev/app",
		"/srv/app":  "/srv/app",
		"~other":    "~other",
	}
	for in, want := range tests {
		assert.Equal(t, want, s.expandHome(in), in)
	}
}
