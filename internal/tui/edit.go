package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/christopherklint97/billr/internal/billing"
)

type editField int

const (
	editMatter editField = iota
	editHours
	editDescription
)

var fieldNames = []string{"Matter", "Hours", "Description"}

// editModel edits the draft of a billable verdict before approval.
type editModel struct {
	preview   billing.Preview
	matters   []billing.Matter
	field     editField
	textInput textinput.Model
	editing   bool
	filtered  []billing.Matter
}

func newEditModel(p billing.Preview, matters []billing.Matter) editModel {
	ti := textinput.New()
	ti.CharLimit = 200
	ti.Width = 50

	return editModel{
		preview:   p.Clone(),
		matters:   matters,
		textInput: ti,
	}
}

func (m editModel) Update(msg tea.Msg) (editModel, tea.Cmd) {
	if m.editing {
		return m.updateEditing(msg)
	}
	return m.updateNavigating(msg)
}

func (m editModel) updateNavigating(msg tea.Msg) (editModel, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "up", "k", "shift+tab":
			m.field = (m.field + 2) % 3
		case "down", "j", "tab":
			m.field = (m.field + 1) % 3
		case "enter":
			m.editing = true
			switch m.field {
			case editMatter:
				m.textInput.SetValue("")
				m.textInput.Placeholder = "Search matter..."
				m.filtered = m.matters
			case editHours:
				m.textInput.SetValue(strconv.FormatFloat(m.preview.HoursOrZero(), 'f', -1, 64))
				m.textInput.Placeholder = "Hours"
			case editDescription:
				m.textInput.SetValue(m.preview.Description)
				m.textInput.Placeholder = "Description"
			}
			cmd := m.textInput.Focus()
			return m, cmd
		}
	}
	return m, nil
}

func (m editModel) updateEditing(msg tea.Msg) (editModel, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "enter":
			m.applyEdit()
			m.editing = false
			m.textInput.Blur()
			return m, nil
		case "esc":
			m.editing = false
			m.textInput.Blur()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)

	if m.field == editMatter {
		m.filtered = filterMatters(m.matters, m.textInput.Value())
	}

	return m, cmd
}

func filterMatters(matters []billing.Matter, query string) []billing.Matter {
	query = strings.ToLower(strings.TrimSpace(query))
	var out []billing.Matter
	for _, mt := range matters {
		if strings.Contains(strings.ToLower(mt.Name), query) {
			out = append(out, mt)
		}
	}
	return out
}

func (m *editModel) applyEdit() {
	switch m.field {
	case editMatter:
		if len(m.filtered) > 0 {
			m.preview.Matter = m.filtered[0].Name
		}
	case editHours:
		if v, err := strconv.ParseFloat(strings.TrimSpace(m.textInput.Value()), 64); err == nil && v > 0 {
			m.preview.Hours = billing.Float(v)
		}
	case editDescription:
		if v := strings.TrimSpace(m.textInput.Value()); v != "" {
			m.preview.Description = v
		}
	}
}

func (m editModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("Edit Draft"))
	sb.WriteString("\n")

	values := []string{
		m.preview.Matter,
		fmt.Sprintf("%.2f", m.preview.HoursOrZero()),
		m.preview.Description,
	}
	if mt, ok := billing.FindMatter(m.matters, m.preview.Matter); ok {
		values[0] = fmt.Sprintf("%s (%.0f/h)", mt.Name, mt.Rate)
	}

	for i, name := range fieldNames {
		prefix := "  "
		if editField(i) == m.field {
			prefix = "> "
		}
		line := fmt.Sprintf("%s%-12s %s", prefix, name+":", values[i])
		if editField(i) == m.field {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	if m.editing {
		sb.WriteString("\n")
		sb.WriteString(m.textInput.View())
		sb.WriteString("\n")

		if m.field == editMatter && len(m.filtered) > 0 {
			limit := min(5, len(m.filtered))
			for _, mt := range m.filtered[:limit] {
				sb.WriteString(fmt.Sprintf("  %s\n", dimStyle.Render(mt.Name)))
			}
		}
	}

	sb.WriteString("\n")
	sb.WriteString(helpStyle.Render("Enter: edit field • j/k: nav • Esc: done editing"))

	return boxStyle.Render(sb.String())
}
