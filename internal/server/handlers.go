package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/poller"
	"github.com/specflow/specflow/internal/store"
	"github.com/specflow/specflow/internal/workflow"
)

type startRequest struct {
	ProjectPath string   `json:"projectPath"`
	ProjectID   string   `json:"projectId"`
	Skill       string   `json:"skill"`
	Phase       string   `json:"phase"`
	Args        []string `json:"args"`
	Mode        string   `json:"mode"`
}

func (s *Server) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ProjectPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "projectPath is required"})
		return
	}

	e, err := s.svc.Start(c.Request.Context(), s.expandHome(req.ProjectPath), req.Skill, workflow.StartOptions{
		ProjectID: req.ProjectID,
		Phase:     req.Phase,
		Args:      req.Args,
		Mode:      req.Mode,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

type resumeRequest struct {
	ID      string            `json:"id"`
	Answers map[string]string `json:"answers"`
}

func (s *Server) resume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	if req.Answers == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "answers object is required"})
		return
	}

	e, err := s.svc.Resume(c.Request.Context(), req.ID, req.Answers, workflow.ResumeOptions{})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// cancel finalizes by execution id, or by session when the id is unknown
// or absent. status=completed finalizes a session as completed.
func (s *Server) cancel(c *gin.Context) {
	id := c.Query("id")
	sessionID := c.Query("sessionId")
	projectID := c.Query("projectId")
	final := store.StatusCancelled
	if c.Query("status") == string(store.StatusCompleted) {
		final = store.StatusCompleted
	}
	bySession := sessionID != "" && projectID != ""

	if id != "" {
		e, err := s.svc.Cancel(id)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"execution": e})
			return
		}
		if !errors.Is(err, errs.ErrNotFound) || !bySession {
			fail(c, err)
			return
		}
		ok, serr := s.svc.CancelBySession(sessionID, projectID, final)
		if serr != nil {
			fail(c, serr)
			return
		}
		if !ok {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true, "sessionId": sessionID, "status": final})
		return
	}

	if !bySession {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters: id, or sessionId and projectId"})
		return
	}
	ok, err := s.svc.CancelBySession(sessionID, projectID, final)
	if err != nil {
		fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found or not in updatable state: " + sessionID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true, "sessionId": sessionID, "status": final})
}

type killRequest struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Force     bool   `json:"force"`
}

func (s *Server) kill(c *gin.Context) {
	var req killRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" || req.ProjectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: id and projectId are required"})
		return
	}
	if _, err := s.svc.ResolveProject(req.ProjectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found in registry"})
		return
	}

	res, err := s.svc.Kill(c.Request.Context(), req.ID, req.ProjectID, req.Force)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"killed":    res.Killed,
		"escalated": res.Escalated,
		"failed":    res.Failed,
		"cancelled": res.Cancelled,
		"message":   res.Message,
	})
}

func (s *Server) health(c *gin.Context) {
	id, projectID := c.Query("id"), c.Query("projectId")
	if id == "" || projectID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters: id, projectId"})
		return
	}
	if _, err := s.svc.ResolveProject(projectID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Project not found in registry"})
		return
	}

	r, err := s.svc.Health(id, projectID)
	if err != nil {
		fail(c, err)
		return
	}

	var lastUpdate any
	if r.Health.SessionFileMtime != nil {
		lastUpdate = r.Health.SessionFileMtime.UTC()
	}
	pidFile := gin.H{"exists": false}
	if r.PIDFile != nil {
		pidFile = gin.H{"exists": true, "bashPid": r.PIDFile.BashPID, "claudePid": r.PIDFile.ClaudePID}
	}
	var sessionID any
	if r.SessionID != "" {
		sessionID = r.SessionID
	}
	var legacyPID any
	if r.LegacyPID > 0 {
		legacyPID = r.LegacyPID
	}

	c.JSON(http.StatusOK, gin.H{
		"workflowId":     r.WorkflowID,
		"workflowStatus": r.WorkflowStatus,
		"health": gin.H{
			"status":  r.Health.Status,
			"message": r.Message,
			"staleness": gin.H{
				"thresholdMs":      r.ThresholdMs,
				"sessionFileAgeMs": r.Health.SessionFileAgeMs,
				"isStale":          r.Health.IsStale,
				"lastUpdateAt":     lastUpdate,
			},
			"processes": gin.H{
				"bashPid":        r.Health.BashPID,
				"bashAlive":      r.Health.BashAlive,
				"claudePid":      r.Health.ClaudePID,
				"claudeAlive":    r.Health.ClaudeAlive,
				"legacyPid":      legacyPID,
				"legacyPidAlive": r.LegacyPIDAlive,
			},
			"pidFile": pidFile,
		},
		"sessionId": sessionID,
		"startedAt": r.StartedAt,
		"updatedAt": r.UpdatedAt,
	})
}

func (s *Server) status(c *gin.Context) {
	id := c.Query("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}
	e, err := s.svc.Get(id, c.Query("projectId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) list(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	list, err := s.svc.List(c.Query("projectId"), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []store.Execution{}
	}
	c.JSON(http.StatusOK, gin.H{"executions": list})
}

func (s *Server) events(c *gin.Context) {
	evs, err := s.svc.Events(c.Query("id"), c.Query("projectId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

func (s *Server) reconcile(c *gin.Context) {
	changed, err := s.svc.ReconcileActive(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if changed == nil {
		changed = []store.Execution{}
	}
	c.JSON(http.StatusOK, gin.H{"changed": changed})
}

func (s *Server) questions(c *gin.Context) {
	pending, err := s.svc.PendingQuestions(c.Query("id"), c.Query("projectId"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questions": pending})
}

type answerRequest struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	QuestionID string `json:"questionId"`
	Answer     string `json:"answer"`
}

func (s *Server) answerQuestion(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ID == "" || req.QuestionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id and questionId are required"})
		return
	}
	q, err := s.svc.Answer(req.ID, req.ProjectID, req.QuestionID, req.Answer)
	if err != nil {
		fail(c, err)
		return
	}
	pending, _ := s.svc.PendingQuestions(req.ID, req.ProjectID)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"questionId":   q.ID,
		"answer":       q.Answer,
		"pendingCount": len(pending),
	})
}

// sessionProject resolves projectPath or, failing that, projectId.
func (s *Server) sessionProject(c *gin.Context) (string, error) {
	if p := c.Query("projectPath"); p != "" {
		return filepath.Abs(s.expandHome(p))
	}
	if id := c.Query("projectId"); id != "" {
		return s.svc.ResolveProject(id)
	}
	return "", errs.Validation("projectPath or projectId is required")
}

func (s *Server) sessionContent(c *gin.Context) {
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	project, err := s.sessionProject(c)
	if err != nil {
		fail(c, err)
		return
	}
	tail := poller.DefaultTail
	if raw := c.Query("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			tail = n
		}
	}

	content, err := poller.Load(s.claudeProjects, project, sessionID, tail)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found: " + sessionID})
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, content)
}

// sessionStream pushes poller updates for one session as server-sent
// events until the session ends or the client goes away.
func (s *Server) sessionStream(c *gin.Context) {
	if s.poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session polling is disabled"})
		return
	}
	sessionID := c.Query("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	project, err := s.sessionProject(c)
	if err != nil {
		fail(c, err)
		return
	}

	updates := make(chan poller.Update, 16)
	remove := s.poller.AddListener(func(u poller.Update) {
		if u.SessionID != sessionID {
			return
		}
		select {
		case updates <- u:
		default:
		}
	})
	defer remove()
	s.subscribe(sessionID, project)
	defer s.unsubscribe(sessionID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	if cached, ok := s.poller.Cached(sessionID); ok {
		c.SSEvent("update", poller.Update{SessionID: sessionID, ProjectPath: project, Content: cached})
		c.Writer.Flush()
		if cached.HasEnded {
			return
		}
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-updates:
			c.SSEvent("update", u)
			c.Writer.Flush()
			if u.Content.HasEnded {
				return
			}
		}
	}
}

func (s *Server) subscribe(sessionID, project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[sessionID]++
	s.poller.Subscribe(sessionID, project)
}

func (s *Server) unsubscribe(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[sessionID]--
	if s.streams[sessionID] <= 0 {
		delete(s.streams, sessionID)
		s.poller.Unsubscribe(sessionID)
	}
}

func (s *Server) expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		return s.home + path[1:]
	}
	return path
}
