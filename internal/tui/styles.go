package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/christopherklint97/billr/internal/billing"
)

const (
	colorAccent  = lipgloss.Color("12")
	colorMuted   = lipgloss.Color("8")
	colorGood    = lipgloss.Color("10")
	colorBad     = lipgloss.Color("9")
	colorWarn    = lipgloss.Color("11")
	colorFocused = lipgloss.Color("14")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginBottom(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 1)

	successStyle = lipgloss.NewStyle().Foreground(colorGood).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(colorBad).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(colorWarn)
	dimStyle     = lipgloss.NewStyle().Foreground(colorMuted)

	// highlightStyle marks the focused field in forms.
	highlightStyle = lipgloss.NewStyle().Foreground(colorFocused).Bold(true)

	// selectedStyle marks the inbox row under the cursor.
	selectedStyle = lipgloss.NewStyle().
			Foreground(colorFocused).
			Bold(true).
			Reverse(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)
)

// labelStyle colors the outcome tag shown next to a triaged email.
func labelStyle(label string) lipgloss.Style {
	switch label {
	case "auto-synced", string(billing.StatusSynced):
		return lipgloss.NewStyle().Foreground(colorGood)
	case string(billing.StatusError):
		return lipgloss.NewStyle().Foreground(colorBad)
	case string(billing.StatusDraft), string(billing.StatusPending):
		return lipgloss.NewStyle().Foreground(colorWarn)
	default:
		return dimStyle
	}
}
