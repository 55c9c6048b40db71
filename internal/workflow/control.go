package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/log"
	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/store"
)

// Cancel marks an execution cancelled. It does not signal any process; use
// Kill for that.
func (s *Service) Cancel(id string) (*store.Execution, error) {
	e, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if e.Status.Terminal() {
		return nil, errs.InvalidState("Cannot cancel workflow in %s state", e.Status)
	}
	s.transition(e, store.StatusCancelled, "cancel")
	if err := s.store.Update(e); err != nil {
		return nil, err
	}
	return e, nil
}

// CancelBySession finalizes the newest execution of a session when its id
// is not known. final must be cancelled or completed. It reports false when
// no updatable execution matches.
func (s *Service) CancelBySession(sessionID, projectID string, final store.Status) (bool, error) {
	if final != store.StatusCancelled && final != store.StatusCompleted {
		return false, errs.Validation("final status must be %s or %s, got %s",
			store.StatusCancelled, store.StatusCompleted, final)
	}
	if sessionID == "" {
		return false, errs.Validation("session id is required")
	}
	e, err := s.store.FindBySession(sessionID, projectID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if e.Status.Terminal() {
		return false, nil
	}
	s.transition(e, final, "session")
	if err := s.store.Update(e); err != nil {
		return false, err
	}
	return true, nil
}

// KillFailure is a pid that could not be terminated.
type KillFailure struct {
	PID   int    `json:"pid"`
	Error string `json:"error"`
}

// KillResult reports what Kill did.
type KillResult struct {
	Killed    []int         `json:"killed"`
	Escalated []int         `json:"escalated,omitempty"`
	Failed    []KillFailure `json:"failed,omitempty"`
	Cancelled bool          `json:"cancelled"`
	Message   string        `json:"message"`
}

// Kill terminates the processes of an active execution, agent first then
// its shell, removes the pid file and cancels the execution. With force the
// processes get SIGKILL at once; otherwise SIGTERM, escalating after the
// killer's grace period.
func (s *Service) Kill(ctx context.Context, id, projectID string, force bool) (*KillResult, error) {
	e, err := s.Get(id, projectID)
	if err != nil {
		return nil, err
	}
	if !e.Status.Active() {
		return nil, errs.InvalidState("Cannot kill workflow in %s state", e.Status)
	}

	runDir := process.RunDir(e.ProjectPath, e.ID)
	var pids []int
	if pf := process.ReadPIDFile(runDir); pf != nil {
		pids = pf.PIDs()
	} else if e.PID > 0 {
		pids = []int{e.PID}
	} else if legacy := process.ReadLegacyPID(runDir); legacy > 0 {
		pids = []int{legacy}
	}

	res := &KillResult{Killed: []int{}}
	alive := s.killer.Alive
	if alive == nil {
		alive = process.Alive
	}
	for _, pid := range pids {
		if !alive(pid) {
			continue
		}
		outcome, err := s.killer.Kill(ctx, pid, force)
		if err != nil {
			res.Failed = append(res.Failed, KillFailure{PID: pid, Error: err.Error()})
			continue
		}
		res.Killed = append(res.Killed, pid)
		switch {
		case force:
			s.metrics.Kill("forced")
		case outcome.Escalated:
			res.Escalated = append(res.Escalated, pid)
			s.metrics.Kill("escalated")
		default:
			s.metrics.Kill("graceful")
		}
	}

	_ = process.RemovePIDFile(runDir)
	_ = process.RemoveLegacyPID(runDir)

	if _, err := s.Cancel(e.ID); err == nil {
		res.Cancelled = true
	}

	if len(res.Killed) > 0 {
		res.Message = fmt.Sprintf("Killed %d process(es)", len(res.Killed))
	} else {
		res.Message = "No processes to kill (may have already terminated)"
	}

	s.logEvent(e.ProjectPath, log.LogEvent{
		Event:       log.EventWorkflowKilled,
		ExecutionID: e.ID,
		PIDs:        res.Killed,
		Reason:      res.Message,
	})
	return res, nil
}
