package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/specflow/specflow/internal/store"
)

// Color constants.
const (
	primaryColor   = "#7C3AED" // Purple
	secondaryColor = "#10B981" // Green
	warningColor   = "#F59E0B" // Amber
	errorColor     = "#EF4444" // Red
	dimColor       = "#6B7280" // Gray
	textColor      = "#E5E7EB"
	mutedColor     = "#9CA3AF"
)

// Style variables for consistent rendering.
var (
	// BoxStyle provides a rounded border box with primary color.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(primaryColor)).
			Padding(1, 2)

	// TitleStyle renders titles in primary color with bold.
	TitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(primaryColor)).
			Bold(true)

	// QuestionStyle renders question text.
	QuestionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(textColor)).
			Bold(true)

	// SelectedStyle highlights selected items in primary color.
	SelectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(primaryColor)).
			Bold(true)

	// NormalStyle renders unselected items.
	NormalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(mutedColor))

	// DimStyle renders dim/muted text.
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(dimColor))

	// SuccessStyle renders success messages in green.
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(secondaryColor))

	// ErrorStyle renders error messages in red.
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(errorColor))

	// WarningStyle renders warning messages in amber.
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(warningColor))
)

// StatusIcon returns a colored marker for an execution status.
func StatusIcon(s store.Status) string {
	switch s {
	case store.StatusCompleted:
		return SuccessStyle.Render("✓")
	case store.StatusRunning, store.StatusDetached:
		return WarningStyle.Render("▸")
	case store.StatusWaiting:
		return SelectedStyle.Render("?")
	case store.StatusFailed:
		return ErrorStyle.Render("✗")
	case store.StatusStale:
		return WarningStyle.Render("!")
	case store.StatusCancelled:
		return DimStyle.Render("⊘")
	default:
		return DimStyle.Render("○")
	}
}

// StatusText renders a status name in its color.
func StatusText(s store.Status) string {
	switch s {
	case store.StatusCompleted:
		return SuccessStyle.Render(string(s))
	case store.StatusFailed:
		return ErrorStyle.Render(string(s))
	case store.StatusRunning, store.StatusDetached, store.StatusStale:
		return WarningStyle.Render(string(s))
	case store.StatusWaiting:
		return SelectedStyle.Render(string(s))
	default:
		return DimStyle.Render(string(s))
	}
}
