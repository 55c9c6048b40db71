// Package ui provides terminal output components for specflow.
// This file implements the phase progress display shown while a skill runs.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/specflow/specflow/internal/event"
)

// PhaseStatus represents the state of one workflow phase.
type PhaseStatus int

const (
	StatusExecuting PhaseStatus = iota // Currently running
	StatusCompleted                    // Finished
	StatusFailed                       // An error was reported while running
)

// PhaseState holds the display state of a single phase.
type PhaseState struct {
	Name    string
	Status  PhaseStatus
	Elapsed time.Duration
	started time.Time
}

// ProgressDisplay renders the phases of a run from its events. On a
// terminal it redraws in place; otherwise it prints one line per change.
type ProgressDisplay struct {
	mu          sync.Mutex
	out         io.Writer
	title       string
	isTTY       bool
	phases      []*PhaseState
	index       map[string]int
	tool        string
	artifacts   int
	questions   int
	linesDrawn  int
	lastPrinted map[string]PhaseStatus
	now         func() time.Time
}

// NewProgressDisplay creates a display for the run titled title, drawing
// on out. Redrawing in place is used only when out is a terminal.
func NewProgressDisplay(title string, out io.Writer) *ProgressDisplay {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &ProgressDisplay{
		out:         out,
		title:       title,
		isTTY:       isTTY,
		index:       make(map[string]int),
		lastPrinted: make(map[string]PhaseStatus),
		now:         time.Now,
	}
}

// Handle is an event.Handler that updates and redraws the display.
func (p *ProgressDisplay) Handle(e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch d := e.Data.(type) {
	case event.PhaseStartedData:
		p.startPhase(d.Phase)
	case event.PhaseCompleteData:
		p.endPhase(d.Phase, StatusCompleted)
	case event.ErrorData:
		if cur := p.current(); cur != nil {
			p.endPhase(cur.Name, StatusFailed)
		}
	case event.ToolInvokedData:
		p.tool = d.Tool
	case event.ArtifactCreatedData:
		p.artifacts++
	case event.QuestionQueuedData:
		p.questions++
	default:
		return
	}
	p.render()
}

// Phases returns a snapshot of the phase states in start order.
func (p *ProgressDisplay) Phases() []PhaseState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PhaseState, len(p.phases))
	for i, ph := range p.phases {
		out[i] = *ph
	}
	return out
}

// startPhase closes the running phase and opens name.
func (p *ProgressDisplay) startPhase(name string) {
	if cur := p.current(); cur != nil && cur.Name != name {
		p.endPhase(cur.Name, StatusCompleted)
	}
	if idx, ok := p.index[name]; ok {
		ph := p.phases[idx]
		ph.Status = StatusExecuting
		ph.started = p.now()
		return
	}
	p.index[name] = len(p.phases)
	p.phases = append(p.phases, &PhaseState{Name: name, Status: StatusExecuting, started: p.now()})
}

func (p *ProgressDisplay) endPhase(name string, status PhaseStatus) {
	idx, ok := p.index[name]
	if !ok {
		p.index[name] = len(p.phases)
		p.phases = append(p.phases, &PhaseState{Name: name, Status: status})
		return
	}
	ph := p.phases[idx]
	if ph.Status == StatusExecuting {
		ph.Elapsed = p.now().Sub(ph.started)
	}
	ph.Status = status
	p.tool = ""
}

func (p *ProgressDisplay) current() *PhaseState {
	for i := len(p.phases) - 1; i >= 0; i-- {
		if p.phases[i].Status == StatusExecuting {
			return p.phases[i]
		}
	}
	return nil
}

// Finish moves the cursor below the display and prints a summary line.
// Nothing is printed if no event was shown.
func (p *ProgressDisplay) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.phases) == 0 && p.artifacts == 0 && p.questions == 0 {
		return
	}
	if p.isTTY && p.linesDrawn > 0 {
		fmt.Fprint(p.out, "\n")
	}

	completed, failed := 0, 0
	for _, ph := range p.phases {
		switch ph.Status {
		case StatusCompleted:
			completed++
		case StatusFailed:
			failed++
		}
	}

	fmt.Fprintf(p.out, "Phases: %d/%d completed", completed, len(p.phases))
	if failed > 0 {
		fmt.Fprintf(p.out, ", %d failed", failed)
	}
	if p.artifacts > 0 {
		fmt.Fprintf(p.out, ", %d artifact(s)", p.artifacts)
	}
	if p.questions > 0 {
		fmt.Fprintf(p.out, ", %d question(s) queued", p.questions)
	}
	fmt.Fprintln(p.out)
}

func (p *ProgressDisplay) render() {
	if !p.isTTY {
		p.renderPlain()
		return
	}
	p.renderTTY()
}

// renderTTY redraws in place using ANSI escape codes.
func (p *ProgressDisplay) renderTTY() {
	if p.linesDrawn > 0 {
		fmt.Fprintf(p.out, "\033[%dA", p.linesDrawn)
	}

	var buf strings.Builder
	buf.WriteString(fmt.Sprintf("\033[2K\033[1m%s\033[0m\n", p.title))
	buf.WriteString("\033[2K\n")
	for _, ph := range p.phases {
		buf.WriteString("\033[2K")
		buf.WriteString(p.formatLine(ph))
		buf.WriteString("\n")
	}

	fmt.Fprint(p.out, buf.String())
	p.linesDrawn = len(p.phases) + 2
}

// renderPlain prints only status transitions.
func (p *ProgressDisplay) renderPlain() {
	for _, ph := range p.phases {
		if prev, seen := p.lastPrinted[ph.Name]; seen && prev == ph.Status {
			continue
		}
		fmt.Fprintln(p.out, formatLinePlain(ph))
		p.lastPrinted[ph.Name] = ph.Status
	}
}

func (p *ProgressDisplay) formatLine(ph *PhaseState) string {
	return fmt.Sprintf("  %s %s  %s", statusIcon(ph.Status), ph.Name, p.statusDetail(ph))
}

func formatLinePlain(ph *PhaseState) string {
	switch ph.Status {
	case StatusCompleted:
		return fmt.Sprintf("[DONE] %s [%s]", ph.Name, formatDuration(ph.Elapsed))
	case StatusFailed:
		return fmt.Sprintf("[FAILED] %s", ph.Name)
	default:
		return fmt.Sprintf("[RUNNING] %s", ph.Name)
	}
}

func statusIcon(status PhaseStatus) string {
	switch status {
	case StatusCompleted:
		return "\033[32m✅\033[0m" // green checkmark
	case StatusFailed:
		return "\033[31m❌\033[0m" // red X
	default:
		return "\033[33m⏳\033[0m" // yellow hourglass
	}
}

func (p *ProgressDisplay) statusDetail(ph *PhaseState) string {
	switch ph.Status {
	case StatusCompleted:
		return fmt.Sprintf("\033[90m[%s]\033[0m", formatDuration(ph.Elapsed))
	case StatusFailed:
		return "\033[31m[failed]\033[0m"
	default:
		detail := formatDuration(p.now().Sub(ph.started))
		if p.tool != "" {
			detail += ", " + p.tool
		}
		return fmt.Sprintf("\033[33m[%s]\033[0m", detail)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh%dm%ds", h, m, s)
}
