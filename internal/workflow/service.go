// Package workflow is the lifecycle state machine of skill executions: it
// starts the agent, turns its questions into queue entries, resumes with
// answers and lets callers cancel, kill and inspect runs.
package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/health"
	"github.com/specflow/specflow/internal/log"
	"github.com/specflow/specflow/internal/metrics"
	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/registry"
	"github.com/specflow/specflow/internal/runner"
	"github.com/specflow/specflow/internal/store"
)

// DefaultSkill is started when no skill is named.
const DefaultSkill = "/flow.design"

// Agent runs skills. *runner.Runner implements it.
type Agent interface {
	Preflight(skill string) error
	Run(ctx context.Context, opts runner.Options, h event.Handler) (*runner.Result, error)
	RunStreaming(ctx context.Context, opts runner.Options, h event.Handler) (*runner.Result, error)
	StartDetached(ctx context.Context, opts runner.Options, runDir string) (*process.DetachedProcess, error)
}

// Options wires a Service. Store and Agent are required.
type Options struct {
	Store    *store.Store
	Agent    Agent
	Registry *registry.Registry
	Monitor  *health.Monitor
	Killer   *process.Killer
	Metrics  *metrics.Metrics

	PollTimeout  time.Duration
	PollInterval time.Duration
}

// Service owns execution state transitions.
type Service struct {
	store    *store.Store
	agent    Agent
	registry *registry.Registry
	monitor  *health.Monitor
	killer   *process.Killer
	metrics  *metrics.Metrics

	pollTimeout  time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	inFlight map[string]bool
}

// New returns a Service.
func New(opts Options) *Service {
	s := &Service{
		store:        opts.Store,
		agent:        opts.Agent,
		registry:     opts.Registry,
		monitor:      opts.Monitor,
		killer:       opts.Killer,
		metrics:      opts.Metrics,
		pollTimeout:  opts.PollTimeout,
		pollInterval: opts.PollInterval,
		now:          time.Now,
		inFlight:     map[string]bool{},
	}
	if s.monitor == nil {
		s.monitor = health.NewMonitor("", health.DefaultStalenessThreshold)
	}
	if s.killer == nil {
		s.killer = process.NewKiller(process.DefaultGrace)
	}
	return s
}

// acquire marks id as being driven by this process. It fails if another
// call already holds it.
func (s *Service) acquire(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[id] {
		return errs.InvalidState("execution %s is already being resumed", id)
	}
	s.inFlight[id] = true
	return nil
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}

// Get returns an execution. A non-empty projectID must match the
// execution's project.
func (s *Service) Get(id, projectID string) (*store.Execution, error) {
	e, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if projectID != "" && e.ProjectID != "" && e.ProjectID != projectID {
		return nil, errs.NotFound(fmt.Sprintf("execution %s in project %s", id, projectID))
	}
	return e, nil
}

// List returns executions newest first. An empty projectID lists all.
func (s *Service) List(projectID string, limit int) ([]store.Execution, error) {
	return s.store.List(projectID, limit)
}

// projectID returns the registry id for path, registering it on first use.
// Without a registry the id stays empty.
func (s *Service) projectID(path string) string {
	if s.registry == nil {
		return ""
	}
	id, err := s.registry.Register("", "", path)
	if err != nil {
		return ""
	}
	return id
}

// ResolveProject maps a project id to its path through the registry.
func (s *Service) ResolveProject(projectID string) (string, error) {
	if s.registry == nil {
		return "", errs.NotFound("project " + projectID)
	}
	p, err := s.registry.Lookup(projectID)
	if err != nil {
		return "", err
	}
	return p.Path, nil
}

// transition sets the status, stamping CompletedAt for terminal states, and
// records the change in metrics and the project log.
func (s *Service) transition(e *store.Execution, to store.Status, reason string) {
	e.Status = to
	if to.Terminal() {
		now := s.now().UTC()
		e.CompletedAt = &now
	} else {
		e.CompletedAt = nil
	}
	s.metrics.Transition(string(to))

	entry := log.LogEvent{
		ExecutionID: e.ID,
		Skill:       e.Skill,
		Status:      string(to),
		SessionID:   e.SessionID,
		Phase:       e.CurrentPhase,
		Reason:      reason,
		Error:       e.Error,
	}
	switch to {
	case store.StatusRunning:
		entry.Event = log.EventWorkflowStarted
		if reason == "resume" {
			entry.Event = log.EventWorkflowResumed
		}
	case store.StatusDetached:
		entry.Event = log.EventWorkflowDetached
	case store.StatusWaiting:
		entry.Event = log.EventWorkflowWaiting
	case store.StatusCompleted:
		entry.Event = log.EventWorkflowCompleted
		entry.CostUSD = e.CostUSD
		entry.DurationMs = e.CompletedAt.Sub(e.StartedAt).Milliseconds()
	case store.StatusFailed:
		entry.Event = log.EventWorkflowFailed
	case store.StatusCancelled:
		entry.Event = log.EventWorkflowCancelled
	default:
		return
	}
	s.logEvent(e.ProjectPath, entry)
}

// logEvent appends to the project's lifecycle log. Failures are ignored.
func (s *Service) logEvent(projectPath string, entry log.LogEvent) {
	l, err := log.NewLogger(projectPath)
	if err != nil {
		return
	}
	_ = l.Append(entry)
}

// Events returns the recorded events of an execution's runs.
func (s *Service) Events(id, projectID string) ([]event.Event, error) {
	e, err := s.Get(id, projectID)
	if err != nil {
		return nil, err
	}
	el, err := log.NewEventLog(process.RunDir(e.ProjectPath, e.ID))
	if err != nil {
		return nil, err
	}
	return el.ReadAll()
}

func absPath(path string) (string, error) {
	if path == "" {
		return "", errs.Validation("project path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	return abs, nil
}
