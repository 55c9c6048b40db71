// Package health classifies whether the process behind a workflow run is
// running, stale, dead or unknown. It only observes; callers decide what to do.
package health

import (
	"fmt"
	"time"

	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/sessionlog"
)

// DefaultStalenessThreshold is the session-log age past which a live run is stale.
const DefaultStalenessThreshold = 5 * time.Minute

// Status is the health classification.
type Status string

const (
	StatusRunning Status = "running"
	StatusStale   Status = "stale"
	StatusDead    Status = "dead"
	StatusUnknown Status = "unknown"
)

// Input is everything Assess looks at. Zero pids mean "not tracked".
type Input struct {
	BashPID     int
	ClaudePID   int
	BashAlive   bool
	ClaudeAlive bool
	LogModTime  *time.Time
	Now         time.Time
	Threshold   time.Duration
}

// Result is a point-in-time health snapshot.
type Result struct {
	Status           Status     `json:"healthStatus"`
	BashPID          int        `json:"bashPid,omitempty"`
	ClaudePID        int        `json:"claudePid,omitempty"`
	BashAlive        bool       `json:"bashAlive"`
	ClaudeAlive      bool       `json:"claudeAlive"`
	SessionFileMtime *time.Time `json:"sessionFileMtime,omitempty"`
	SessionFileAgeMs *int64     `json:"sessionFileAge,omitempty"`
	IsStale          bool       `json:"isStale"`
}

// SessionFileAge returns the log age, if known.
func (r Result) SessionFileAge() (time.Duration, bool) {
	if r.SessionFileAgeMs == nil {
		return 0, false
	}
	return time.Duration(*r.SessionFileAgeMs) * time.Millisecond, true
}

// Assess applies, in order: no pid → unknown; no live pid → dead; live pid
// and a log older than the threshold → stale; otherwise running.
func Assess(in Input) Result {
	threshold := in.Threshold
	if threshold <= 0 {
		threshold = DefaultStalenessThreshold
	}

	r := Result{
		BashPID:     in.BashPID,
		ClaudePID:   in.ClaudePID,
		BashAlive:   in.BashPID > 0 && in.BashAlive,
		ClaudeAlive: in.ClaudePID > 0 && in.ClaudeAlive,
	}

	if in.LogModTime != nil {
		mt := *in.LogModTime
		age := in.Now.Sub(mt)
		ms := age.Milliseconds()
		r.SessionFileMtime = &mt
		r.SessionFileAgeMs = &ms
		r.IsStale = age > threshold
	}

	switch {
	case in.BashPID <= 0 && in.ClaudePID <= 0:
		r.Status = StatusUnknown
	case !r.BashAlive && !r.ClaudeAlive:
		r.Status = StatusDead
	case r.IsStale:
		r.Status = StatusStale
	default:
		r.Status = StatusRunning
	}
	return r
}

// Message renders a one-line description of r.
func Message(r Result) string {
	switch r.Status {
	case StatusRunning:
		return "Process is running normally"
	case StatusStale:
		minutes := int64(DefaultStalenessThreshold / time.Minute)
		if age, ok := r.SessionFileAge(); ok && age > 0 {
			minutes = int64(age / time.Minute)
		}
		return fmt.Sprintf("Session inactive (no updates in %d+ minutes)", minutes)
	case StatusDead:
		return "Process terminated unexpectedly"
	case StatusUnknown:
		return "Unable to determine process status"
	default:
		return "Unknown status"
	}
}

// ShouldMarkAsFailed reports whether the run's processes are gone.
func ShouldMarkAsFailed(r Result) bool { return r.Status == StatusDead }

// ShouldMarkAsStale reports whether the run looks hung.
func ShouldMarkAsStale(r Result) bool { return r.Status == StatusStale }

// Target identifies the run to check.
type Target struct {
	ExecutionID string
	ProjectPath string
	SessionID   string
	// PID is the single pid recorded by older runs, used when no pid file exists.
	PID int
}

// Monitor gathers the inputs for Assess from the filesystem and the OS.
type Monitor struct {
	ClaudeProjects string
	Threshold      time.Duration
	Alive          func(pid int) bool
	Now            func() time.Time
}

// NewMonitor returns a Monitor probing real processes.
func NewMonitor(claudeProjects string, threshold time.Duration) *Monitor {
	return &Monitor{
		ClaudeProjects: claudeProjects,
		Threshold:      threshold,
		Alive:          process.Alive,
		Now:            time.Now,
	}
}

// Check reads the run's pid file (falling back to the legacy single pid),
// probes each pid and stats the session log.
func (m *Monitor) Check(t Target) Result {
	in := Input{Now: m.Now(), Threshold: m.Threshold}

	runDir := process.RunDir(t.ProjectPath, t.ExecutionID)
	if pids := process.ReadPIDFile(runDir); pids != nil {
		in.BashPID = pids.BashPID
		in.ClaudePID = pids.ClaudePID
	} else if t.PID > 0 {
		in.BashPID = t.PID
	} else if legacy := process.ReadLegacyPID(runDir); legacy > 0 {
		in.BashPID = legacy
	}

	if in.BashPID > 0 {
		in.BashAlive = m.Alive(in.BashPID)
	}
	if in.ClaudePID > 0 {
		in.ClaudeAlive = m.Alive(in.ClaudePID)
	}

	if t.SessionID != "" {
		path := sessionlog.Path(m.ClaudeProjects, t.ProjectPath, t.SessionID)
		if mt, ok := sessionlog.ModTime(path); ok {
			in.LogModTime = &mt
		}
	}

	return Assess(in)
}
