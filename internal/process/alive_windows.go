//go:build windows

package process

import (
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Alive checks whether a process with the given PID is still running.
// On Windows, os.FindProcess always succeeds, so we check via tasklist.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	out, err := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid), "/NH").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), strconv.Itoa(pid))
}

// Windows has no graceful signal for arbitrary processes; every signal kills.
func sendSignal(pid int, _ syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: 0x00000200} // CREATE_NEW_PROCESS_GROUP
}
