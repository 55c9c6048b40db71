package process

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Detached polling defaults.
const (
	DefaultPollTimeout  = 4 * time.Hour
	DefaultPollInterval = 2 * time.Second
)

// settleDelay gives a just-exited shell time to finish writing its output.
var settleDelay = 500 * time.Millisecond

// PollResult is the outcome of PollForCompletion. Completed with an empty
// Output means the processes died without producing a result.
type PollResult struct {
	Completed bool
	Output    string
	TimedOut  bool
}

// PollForCompletion waits for a detached run to finish. It resolves when the
// output file has content, when every tracked pid is dead, or when timeout
// elapses. A timeout never kills anything. The pid file is removed once the
// run is known to be complete.
func PollForCompletion(ctx context.Context, runDir string, timeout, interval time.Duration) (PollResult, error) {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-deadline.C:
			return PollResult{TimedOut: true}, nil
		case <-ticker.C:
		}

		if res, done := CheckCompletion(ctx, runDir); done {
			return res, nil
		}
	}
}

// CheckCompletion performs one poll step. done is false while the run is
// still in progress or its state cannot be determined yet.
func CheckCompletion(ctx context.Context, runDir string) (PollResult, bool) {
	if out, ok := readOutput(runDir); ok && strings.TrimSpace(out) != "" {
		_ = RemovePIDFile(runDir)
		return PollResult{Completed: true, Output: out}, true
	}

	pids := ReadPIDFile(runDir)
	if pids == nil {
		return PollResult{}, false
	}
	for _, pid := range pids.PIDs() {
		if Alive(pid) {
			return PollResult{}, false
		}
	}

	select {
	case <-ctx.Done():
		return PollResult{}, false
	case <-time.After(settleDelay):
	}

	out, _ := readOutput(runDir)
	_ = RemovePIDFile(runDir)
	return PollResult{Completed: true, Output: out}, true
}

func readOutput(runDir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(runDir, OutputFileName))
	if err != nil {
		return "", false
	}
	return string(data), true
}
