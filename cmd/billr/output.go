package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/christopherklint97/billr/internal/billing"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func describe(e billing.Entry) string {
	return fmt.Sprintf("%-20s %5.2fh  %s", e.Matter, e.Hours, e.Description)
}

func statusLabel(s billing.EntryStatus) string {
	label := fmt.Sprintf("[%s]", s)
	switch s {
	case billing.StatusSynced:
		return successStyle.Render(label)
	case billing.StatusError:
		return errorStyle.Render(label)
	case billing.StatusPending, billing.StatusGenerating:
		return warningStyle.Render(label)
	}
	return dimStyle.Render(label)
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
