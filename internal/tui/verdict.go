package tui

import (
	"strings"

	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/triage"
)

// verdictModel shows the outcome of triaging one email.
type verdictModel struct {
	state    triage.State
	original *billing.Preview
	draft    billing.Preview
	errMsg   string
}

func newVerdictModel(st triage.State, original *billing.Preview) verdictModel {
	m := verdictModel{state: st, original: original}
	if b, ok := st.(triage.Billable); ok {
		m.draft = b.Preview.Clone()
	}
	return m
}

func (m verdictModel) approval(email billing.Email, sync bool) triage.Approval {
	return triage.Approval{
		Emails:   []billing.Email{email},
		Original: m.original,
		Final:    m.draft.Clone(),
		Sync:     sync,
	}
}

func (m verdictModel) View() string {
	var sb strings.Builder

	switch st := m.state.(type) {
	case triage.Billable:
		title := "Billable"
		if st.Overridden {
			title = "Billable (override)"
		}
		sb.WriteString(titleStyle.Render(title + ": " + st.Email.Subject))
		sb.WriteString("\n")
		sb.WriteString(renderPreview(m.draft))
		if st.Justification != "" {
			sb.WriteString(warningStyle.Render("Rule: ") + st.Justification + "\n")
		}
		if j := m.draft.Justification; j != nil && j.Summary != "" {
			sb.WriteString(dimStyle.Render(j.Summary) + "\n")
		}
		sb.WriteString(m.footer())
		sb.WriteString(helpStyle.Render("[a]pprove & sync • [s]ave draft • [e]dit • [x] dismiss • Esc: back"))
	case triage.NotBillable:
		sb.WriteString(titleStyle.Render("Not billable: " + st.Email.Subject))
		sb.WriteString("\n")
		sb.WriteString(dimStyle.Render(st.Reason) + "\n")
		sb.WriteString(m.footer())
		sb.WriteString(helpStyle.Render("[o]verride • [x] dismiss • Esc: back"))
	case triage.DuplicateSuspected:
		sb.WriteString(titleStyle.Render("Possible duplicate: " + st.Email.Subject))
		sb.WriteString("\n")
		sb.WriteString(warningStyle.Render(st.Reason) + "\n")
		sb.WriteString(m.footer())
		sb.WriteString(helpStyle.Render("[o]verride • [x] dismiss • Esc: back"))
	default:
		return ""
	}

	return boxStyle.Render(sb.String())
}

func (m verdictModel) footer() string {
	if m.errMsg == "" {
		return ""
	}
	return "\n" + errorStyle.Render("Error: ") + m.errMsg + "\n"
}
