// Package tui implements the terminal answering interface using Bubble Tea.
package tui

import (
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// Common key binding constants.
const (
	KeyCtrlC = "ctrl+c"
	KeyEnter = "enter"
	KeyEsc   = "esc"
	KeyUp    = "up"
	KeyDown  = "down"
	KeySpace = " "
)

// IsTTY returns true if stdin and stdout are both terminals.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

// Run starts a program with m and returns the final model.
func Run(m tea.Model) (tea.Model, error) {
	return tea.NewProgram(m).Run()
}
