// ABOUTME: Lipgloss style constants for the run viewer: scene status colors and the log pane.
package tui

import "github.com/charmbracelet/lipgloss"

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	PendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	RunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	CompletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	LogEventStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	LogErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)

// styleForStatus maps a scene status string to its display style.
func styleForStatus(status string) lipgloss.Style {
	switch status {
	case "running":
		return RunningStyle
	case "completed", "replayed":
		return CompletedStyle
	case "failed":
		return FailedStyle
	default:
		return PendingStyle
	}
}
