package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/christopherklint97/billr/internal/billing"
)

// composeModel is the free-text entry form. A debounced AI draft of the
// text is shown underneath as it is typed.
type composeModel struct {
	textarea textarea.Model
	preview  *billing.Preview
	err      error
}

func newComposeModel() composeModel {
	ta := textarea.New()
	ta.Placeholder = "Describe the work, e.g. '30 min call with Acme re: lease renewal'..."
	ta.CharLimit = 500
	ta.SetWidth(60)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	return composeModel{textarea: ta}
}

func (m composeModel) SetWidth(w int) composeModel {
	if w > 4 {
		m.textarea.SetWidth(min(w-4, 100))
	}
	return m
}

func (m *composeModel) Focus() tea.Cmd {
	return m.textarea.Focus()
}

func (m composeModel) Update(msg tea.Msg) (composeModel, tea.Cmd) {
	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	if strings.TrimSpace(m.textarea.Value()) == "" {
		m.preview = nil
		m.err = nil
	}
	return m, cmd
}

func (m composeModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("billr: Compose Entry"))
	sb.WriteString("\n")
	sb.WriteString(m.textarea.View())
	sb.WriteString("\n\n")

	switch {
	case m.err != nil:
		sb.WriteString(errorStyle.Render("Draft failed: ") + m.err.Error())
	case m.preview != nil:
		sb.WriteString(subtitleStyle.Render("Live draft"))
		sb.WriteString("\n")
		sb.WriteString(renderPreview(*m.preview))
	default:
		sb.WriteString(dimStyle.Render("A draft appears once you pause typing."))
	}
	sb.WriteString("\n")

	sb.WriteString(helpStyle.Render("Ctrl+S: save & sync • Esc: back"))
	return sb.String()
}

func (m composeModel) Value() string {
	return m.textarea.Value()
}

func renderPreview(p billing.Preview) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "  %-12s %s\n", "Matter:", p.Matter)
	fmt.Fprintf(&sb, "  %-12s %.2f\n", "Hours:", p.HoursOrZero())
	fmt.Fprintf(&sb, "  %-12s %s\n", "Description:", p.Description)
	if p.ConfidenceScore != nil {
		fmt.Fprintf(&sb, "  %-12s %s\n", "Confidence:", dimStyle.Render(fmt.Sprintf("%.0f%%", *p.ConfidenceScore*100)))
	}
	for _, item := range p.ActionItems {
		fmt.Fprintf(&sb, "  - %s\n", item)
	}
	return sb.String()
}
