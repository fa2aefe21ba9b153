// Package watch implements the typepool live dashboard: a worker table, run counters and the
// recent event stream, folded from pool events.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme holds the dashboard styles. Worker and run states share one palette: idle slots and
// finished runs are green, busy slots yellow, faults red.
type Theme struct {
	Idle    lipgloss.Style
	Busy    lipgloss.Style
	Fault   lipgloss.Style
	Pending lipgloss.Style
	Exited  lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	PulseOn  lipgloss.Style
	PulseOff lipgloss.Style
}

// NewDefaultTheme returns the dark-terminal palette.
func NewDefaultTheme() Theme {
	frame := lipgloss.Color("#5F87AF")
	grey := lipgloss.Color("#8A8A8A")

	return Theme{
		Idle:    lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F")),
		Busy:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD75F")),
		Fault:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F")).Bold(true),
		Pending: lipgloss.NewStyle().Foreground(grey),
		Exited:  lipgloss.NewStyle().Foreground(lipgloss.Color("#585858")),

		Border:    lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(frame),
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EEEEEE")).Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(grey),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#87AFD7")),

		PulseOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD75F")),
		PulseOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#3A3A3A")),
	}
}
