package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Styles holds the styled components of the labeling screen.
type Styles struct {
	Header   lipgloss.Style
	Footer   lipgloss.Style
	Title    lipgloss.Style
	Muted    lipgloss.Style
	Active   lipgloss.Style
	Binding  lipgloss.Style
	Warning  lipgloss.Style
	ErrorMsg lipgloss.Style
}

// NewStyles creates the default style set.
func NewStyles() Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),

		Footer: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Padding(0, 1),

		Title: lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),

		Active: lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true),

		Binding: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),

		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		ErrorMsg: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),
	}
}
