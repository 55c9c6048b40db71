package process

import (
	"context"
	"syscall"
	"time"
)

// DefaultGrace is the wait between SIGTERM and SIGKILL.
const DefaultGrace = 5 * time.Second

const aliveCheckInterval = 100 * time.Millisecond

// Killer terminates processes, escalating from SIGTERM to SIGKILL.
type Killer struct {
	Grace  time.Duration
	Signal func(pid int, sig syscall.Signal) error
	Alive  func(pid int) bool
}

// NewKiller returns a Killer using the OS signal and liveness probes.
func NewKiller(grace time.Duration) *Killer {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Killer{Grace: grace, Signal: sendSignal, Alive: Alive}
}

// KillOutcome describes what Kill did to one pid.
type KillOutcome struct {
	PID       int  `json:"pid"`
	Escalated bool `json:"escalated"`
}

// Kill sends SIGKILL immediately when force is set. Otherwise it sends
// SIGTERM and escalates to SIGKILL if the pid is still alive after the grace
// window. An error means the first signal could not be delivered.
func (k *Killer) Kill(ctx context.Context, pid int, force bool) (KillOutcome, error) {
	out := KillOutcome{PID: pid}
	if force {
		out.Escalated = true
		return out, k.Signal(pid, syscall.SIGKILL)
	}

	if err := k.Signal(pid, syscall.SIGTERM); err != nil {
		return out, err
	}

	deadline := time.NewTimer(k.Grace)
	defer deadline.Stop()
	ticker := time.NewTicker(aliveCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-ticker.C:
			if !k.Alive(pid) {
				return out, nil
			}
		case <-deadline.C:
			if !k.Alive(pid) {
				return out, nil
			}
			out.Escalated = true
			// The pid may have exited since the probe.
			_ = k.Signal(pid, syscall.SIGKILL)
			return out, nil
		}
	}
}
