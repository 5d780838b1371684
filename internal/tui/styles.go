package tui

import "github.com/charmbracelet/lipgloss"

var (
	// HeaderStyle styles the column header row.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	// TitleStyle styles the line above the table.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("4"))

	statusStyles = map[string]lipgloss.Style{
		// Terminal states
		"done":       lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"downloaded": lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"installed":  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"enabled":    lipgloss.NewStyle().Foreground(lipgloss.Color("2")),

		// Active states
		"running":     lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		"resolving":   lipgloss.NewStyle().Foreground(lipgloss.Color("4")),
		"downloading": lipgloss.NewStyle().Foreground(lipgloss.Color("4")),

		// Skipped / warning
		"skipped":  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		"disabled": lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		"missing":  lipgloss.NewStyle().Foreground(lipgloss.Color("3")),

		// Error
		"failed": lipgloss.NewStyle().Foreground(lipgloss.Color("1")),

		// Pending
		"pending": lipgloss.NewStyle().Faint(true),
	}

	activeStatuses = map[string]bool{
		"running": true, "resolving": true, "downloading": true,
	}

	terminalStatuses = map[string]bool{
		"done": true, "downloaded": true, "installed": true,
		"skipped": true, "failed": true,
	}
)

// StatusStyle returns the lipgloss style for the given status string.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return lipgloss.NewStyle()
}
