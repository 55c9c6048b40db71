package workflow

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/health"
	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/runner"
	"github.com/specflow/specflow/internal/store"
)

// launchDetached spawns the agent behind a wrapper shell and returns with
// the execution in detached state. A spawn failure fails the execution.
func (s *Service) launchDetached(ctx context.Context, e *store.Execution, ropts runner.Options) (*store.Execution, error) {
	proc, err := s.agent.StartDetached(ctx, ropts, process.RunDir(e.ProjectPath, e.ID))
	if err != nil {
		e.Error = err.Error()
		s.transition(e, store.StatusFailed, "spawn")
		if uerr := s.store.Update(e); uerr != nil {
			return nil, uerr
		}
		return e, nil
	}
	e.PID = proc.BashPID
	if err := s.store.Update(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Reconcile checks a detached or stale execution once. A finished run is
// interpreted like a one-shot result; a run still going is marked stale or
// back to detached according to its health. Other statuses are returned
// unchanged.
func (s *Service) Reconcile(ctx context.Context, id string) (*store.Execution, error) {
	e, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if e.Status != store.StatusDetached && e.Status != store.StatusStale {
		return e, nil
	}

	runDir := process.RunDir(e.ProjectPath, e.ID)
	res, done := process.CheckCompletion(ctx, runDir)
	if !done {
		return s.refreshLiveness(e)
	}
	return s.finishDetached(e, res.Output)
}

func (s *Service) refreshLiveness(e *store.Execution) (*store.Execution, error) {
	h := s.check(e)
	next := e.Status
	switch h.Status {
	case health.StatusStale:
		next = store.StatusStale
	case health.StatusRunning:
		next = store.StatusDetached
	}
	if next == e.Status {
		return e, nil
	}
	s.transition(e, next, health.Message(h))
	if err := s.store.Update(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) finishDetached(e *store.Execution, output string) (*store.Execution, error) {
	runDir := process.RunDir(e.ProjectPath, e.ID)
	stderr, _ := os.ReadFile(filepath.Join(runDir, process.StderrFileName))

	c := s.newCollector(e, nil)
	res := runner.InterpretDetached([]byte(output), stderr, c.handle)
	s.metrics.Run(store.ModeDetached, res.Success, s.now().Sub(e.UpdatedAt))

	s.settle(e, res, c)
	if err := s.store.Update(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Wait blocks until a detached execution finishes or timeout elapses, then
// reconciles it. timedOut is true when the run was still going; nothing is
// killed in that case.
func (s *Service) Wait(ctx context.Context, id string, timeout time.Duration) (e *store.Execution, timedOut bool, err error) {
	e, err = s.store.Get(id)
	if err != nil {
		return nil, false, err
	}
	if e.Status != store.StatusDetached && e.Status != store.StatusStale {
		return e, false, nil
	}
	if timeout <= 0 {
		timeout = s.pollTimeout
	}

	res, err := process.PollForCompletion(ctx, process.RunDir(e.ProjectPath, e.ID), timeout, s.pollInterval)
	if err != nil {
		return nil, false, err
	}
	if res.TimedOut {
		return e, true, nil
	}
	e, err = s.finishDetached(e, res.Output)
	return e, false, err
}

// ReconcileActive reconciles every detached or stale execution and returns
// those whose status changed.
func (s *Service) ReconcileActive(ctx context.Context) ([]store.Execution, error) {
	list, err := s.store.ListByStatus(store.StatusDetached, store.StatusStale)
	if err != nil {
		return nil, err
	}
	var changed []store.Execution
	for _, before := range list {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		after, err := s.Reconcile(ctx, before.ID)
		if err != nil {
			continue
		}
		if after.Status != before.Status {
			changed = append(changed, *after)
		}
	}
	return changed, nil
}

// HealthReport is the health view of one execution.
type HealthReport struct {
	WorkflowID     string           `json:"workflowId"`
	WorkflowStatus store.Status     `json:"workflowStatus"`
	Health         health.Result    `json:"health"`
	Message        string           `json:"message"`
	ThresholdMs    int64            `json:"thresholdMs"`
	PIDFile        *process.PIDFile `json:"pidFile,omitempty"`
	LegacyPID      int              `json:"legacyPid,omitempty"`
	LegacyPIDAlive bool             `json:"legacyPidAlive"`
	SessionID      string           `json:"sessionId,omitempty"`
	StartedAt      time.Time        `json:"startedAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Health assesses the processes behind an execution. It never changes the
// execution; see Reconcile.
func (s *Service) Health(id, projectID string) (*HealthReport, error) {
	e, err := s.Get(id, projectID)
	if err != nil {
		return nil, err
	}
	if e.ProjectPath == "" {
		return nil, errs.NotFound("project path of execution " + id)
	}
	h := s.check(e)
	runDir := process.RunDir(e.ProjectPath, e.ID)
	return &HealthReport{
		WorkflowID:     e.ID,
		WorkflowStatus: e.Status,
		Health:         h,
		Message:        health.Message(h),
		ThresholdMs:    s.monitor.Threshold.Milliseconds(),
		PIDFile:        process.ReadPIDFile(runDir),
		LegacyPID:      e.PID,
		LegacyPIDAlive: e.PID > 0 && s.monitor.Alive(e.PID),
		SessionID:      e.SessionID,
		StartedAt:      e.StartedAt,
		UpdatedAt:      e.UpdatedAt,
	}, nil
}

func (s *Service) check(e *store.Execution) health.Result {
	h := s.monitor.Check(health.Target{
		ExecutionID: e.ID,
		ProjectPath: e.ProjectPath,
		SessionID:   e.SessionID,
		PID:         e.PID,
	})
	s.metrics.HealthCheck(string(h.Status))
	return h
}
