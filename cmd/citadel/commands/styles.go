package commands

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	colorPrimary = lipgloss.Color("#00D4FF") // Cyan
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Yellow/Orange
	colorMuted   = lipgloss.Color("#6B7280") // Gray
)

var (
	containerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	rankStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	componentStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	unresolvedStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)
)

// palette renders text through lipgloss styles, or leaves it plain.
type palette struct {
	styled bool
}

func (p palette) render(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}
