package dashboard

import "github.com/charmbracelet/lipgloss"

const (
	colorPrimary   = lipgloss.Color("#7C3AED")
	colorSecondary = lipgloss.Color("#06B6D4")
	colorSuccess   = lipgloss.Color("#22C55E")
	colorWarning   = lipgloss.Color("#EAB308")
	colorDanger    = lipgloss.Color("#EF4444")
	colorMuted     = lipgloss.Color("#6B7280")
)

var (
	styleHeader  lipgloss.Style
	styleTitle   lipgloss.Style
	styleSection lipgloss.Style
	styleLabel   lipgloss.Style
	styleMuted   lipgloss.Style
	styleFooter  lipgloss.Style
	styleTableHd lipgloss.Style
)

func init() {
	styleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(colorPrimary).
		Padding(0, 2)

	styleTitle = lipgloss.NewStyle().
		Bold(true).
		Foreground(colorSecondary)

	styleSection = lipgloss.NewStyle().
		MarginTop(1)

	styleLabel = lipgloss.NewStyle().
		Width(10).
		Foreground(colorSecondary)

	styleMuted = lipgloss.NewStyle().
		Foreground(colorMuted)

	styleFooter = lipgloss.NewStyle().
		Foreground(colorMuted).
		MarginTop(1)

	styleTableHd = lipgloss.NewStyle().
		Bold(true).
		Underline(true)
}

// levelColor picks green, yellow or red for percent against thresholds.
func levelColor(percent, warning, critical float64) lipgloss.Color {
	switch {
	case percent >= critical:
		return colorDanger
	case percent >= warning:
		return colorWarning
	default:
		return colorSuccess
	}
}
