package panel

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles for the panel
type Styles struct {
	Title    lipgloss.Style
	Name     lipgloss.Style
	Value    lipgloss.Style
	Selected lipgloss.Style
	Disabled lipgloss.Style
	Help     lipgloss.Style

	LEDOn  lipgloss.Style
	LEDOff lipgloss.Style

	Warning lipgloss.Style
	Error   lipgloss.Style
}

// DefaultStyles returns the default style configuration
func DefaultStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252")).
			MarginBottom(1),
		Name: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16),
		Value: lipgloss.NewStyle(),
		Selected: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255")),
		Disabled: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			MarginTop(1),

		LEDOn: lipgloss.NewStyle().
			Foreground(lipgloss.Color("71")), // Muted green
		LEDOff: lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")),

		Warning: lipgloss.NewStyle().
			Foreground(lipgloss.Color("179")),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("167")),
	}
}

// class returns the style for a widget style class, or base when the class
// is not one the panel knows
func (s Styles) class(name string, base lipgloss.Style) lipgloss.Style {
	switch name {
	case "warning":
		return s.Warning
	case "error":
		return s.Error
	default:
		return base
	}
}
