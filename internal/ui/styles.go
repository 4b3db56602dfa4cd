package ui

import "github.com/charmbracelet/lipgloss"

// Color palette. A single cyan accent keeps the TUI quiet; notes are
// the content, not the chrome.
const (
	ColorAccent    = "45"  // primary accent, bright cyan
	ColorAccentDim = "31"  // dimmed accent for stage labels
	ColorGray      = "245" // secondary text
	ColorDarkGray  = "238" // separators, hints
	ColorRed       = "196" // errors
	ColorYellow    = "220" // warnings
)

// Styles holds the lipgloss styles used by the TUI.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Stage   lipgloss.Style
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorAccent)),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent)),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Stage:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccentDim)),
	}
}

// NoColorStyles returns an unstyled set for NO_COLOR terminals.
func NoColorStyles() Styles {
	return Styles{
		Header:  lipgloss.NewStyle(),
		Success: lipgloss.NewStyle(),
		Warning: lipgloss.NewStyle(),
		Error:   lipgloss.NewStyle(),
		Dim:     lipgloss.NewStyle(),
		Stage:   lipgloss.NewStyle(),
	}
}
