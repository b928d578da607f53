package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/triage"
)

type viewState int

const (
	listView viewState = iota
	analyzingView
	verdictView
	editView
	composeView
)

// Result summarizes what the user did during the session.
type Result struct {
	Approved  []billing.Entry
	Dismissed int
}

type triageMsg struct {
	email billing.Email
	state triage.State
	err   error
}

type approveMsg struct {
	entry billing.Entry
	err   error
}

type dismissMsg struct {
	email billing.Email
	err   error
}

type draftMsg triage.Draft

type pilotMsg struct {
	running bool
	err     error
}

// Pilot is the background autopilot loop the inbox can switch on and off.
type Pilot interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

// App is the interactive inbox. Selecting an email triages it; moving to
// another email while the classifier runs supersedes the first request.
type App struct {
	state   viewState
	spinner spinner.Model
	verdict verdictModel
	edit    editModel
	compose composeModel
	width   int
	height  int

	session *triage.Session
	drafts  *triage.Debouncer
	pilot   Pilot
	inbox   []billing.Email
	matters []billing.Matter
	ctx     context.Context

	cursor  int
	current billing.Email
	labels  map[string]string
	status  string
	result  Result
}

func NewApp(ctx context.Context, session *triage.Session, drafts *triage.Debouncer, inbox []billing.Email, matters []billing.Matter) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot

	return &App{
		state:   listView,
		spinner: s,
		compose: newComposeModel(),
		session: session,
		drafts:  drafts,
		inbox:   inbox,
		matters: matters,
		ctx:     ctx,
		labels:  make(map[string]string),
	}
}

// SetAutopilot enables the autopilot toggle.
func (a *App) SetAutopilot(p Pilot) {
	a.pilot = p
}

func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.spinner.Tick}
	if a.drafts != nil {
		cmds = append(cmds, waitDraft(a.drafts.Results()))
	}
	return tea.Batch(cmds...)
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.compose = a.compose.SetWidth(msg.Width)
		return a, nil
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			a.session.Cancel()
			return a, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	case triageMsg:
		return a.handleTriage(msg)
	case approveMsg:
		return a.handleApprove(msg)
	case dismissMsg:
		return a.handleDismiss(msg)
	case pilotMsg:
		switch {
		case msg.err != nil:
			a.status = errorStyle.Render("Autopilot: ") + msg.err.Error()
		case msg.running:
			a.status = successStyle.Render("Autopilot on")
		default:
			a.status = dimStyle.Render("Autopilot off")
		}
		return a, nil
	case draftMsg:
		a.compose.preview = msg.Preview
		a.compose.err = msg.Err
		return a, waitDraft(a.drafts.Results())
	}

	switch a.state {
	case listView:
		return a.updateList(msg)
	case analyzingView:
		return a.updateAnalyzing(msg)
	case verdictView:
		return a.updateVerdict(msg)
	case editView:
		return a.updateEdit(msg)
	case composeView:
		return a.updateCompose(msg)
	}

	return a, nil
}

func (a *App) View() string {
	switch a.state {
	case listView:
		return a.listView()
	case analyzingView:
		return a.spinner.View() + " Analyzing " + highlightStyle.Render(a.current.Subject) + "...\n" +
			helpStyle.Render("j/k: triage another email • Esc: cancel")
	case verdictView:
		return a.verdict.View()
	case editView:
		return a.edit.View()
	case composeView:
		return a.compose.View()
	}
	return ""
}

func (a *App) GetResult() Result {
	return a.result
}

func (a *App) listView() string {
	var sb strings.Builder
	title := "billr: Inbox"
	if a.pilot != nil && a.pilot.Running() {
		title += "  [autopilot]"
	}
	sb.WriteString(titleStyle.Render(title))
	sb.WriteString("\n")

	if len(a.inbox) == 0 {
		sb.WriteString(dimStyle.Render("No emails. Run 'billr fetch' first."))
		sb.WriteString("\n")
	}
	for i, e := range a.inbox {
		prefix := "  "
		if i == a.cursor {
			prefix = "> "
		}
		line := fmt.Sprintf("%s%-28s  %s", prefix, truncate(e.Sender, 28), e.Subject)
		if i == a.cursor {
			line = selectedStyle.Render(line)
		}
		sb.WriteString(line)
		if label, ok := a.labels[e.ID]; ok {
			sb.WriteString("  " + labelStyle(label).Render("["+label+"]"))
		}
		sb.WriteString("\n")
	}

	if a.status != "" {
		sb.WriteString("\n")
		sb.WriteString(a.status)
		sb.WriteString("\n")
	}
	help := "Enter: triage • c: compose entry • j/k: nav • q: quit"
	if a.pilot != nil {
		help = "Enter: triage • c: compose entry • p: autopilot • j/k: nav • q: quit"
	}
	sb.WriteString(helpStyle.Render(help))
	return sb.String()
}

func (a *App) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}
	switch keyMsg.String() {
	case "q":
		return a, tea.Quit
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
	case "down", "j":
		if a.cursor < len(a.inbox)-1 {
			a.cursor++
		}
	case "enter":
		if len(a.inbox) > 0 {
			return a, a.selectEmail(a.inbox[a.cursor])
		}
	case "c":
		return a, a.startCompose()
	case "p":
		if a.pilot != nil {
			return a, a.togglePilot()
		}
	}
	return a, nil
}

func (a *App) updateAnalyzing(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}
	switch keyMsg.String() {
	case "esc":
		a.session.Cancel()
		a.state = listView
	case "down", "j":
		if a.cursor < len(a.inbox)-1 {
			a.cursor++
			return a, a.selectEmail(a.inbox[a.cursor])
		}
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
			return a, a.selectEmail(a.inbox[a.cursor])
		}
	case "c":
		return a, a.startCompose()
	}
	return a, nil
}

func (a *App) updateVerdict(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return a, nil
	}
	switch keyMsg.String() {
	case "esc", "q":
		a.state = listView
	case "down", "j":
		if a.cursor < len(a.inbox)-1 {
			a.cursor++
			return a, a.selectEmail(a.inbox[a.cursor])
		}
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
			return a, a.selectEmail(a.inbox[a.cursor])
		}
	case "c":
		return a, a.startCompose()
	case "x":
		return a, a.dismiss(a.current)
	case "o":
		if !triage.CanOverride(a.verdict.state) {
			return a, nil
		}
		b, err := a.session.Override(a.verdict.state)
		if err != nil {
			a.verdict.errMsg = err.Error()
			return a, nil
		}
		a.verdict = newVerdictModel(b, nil)
	case "e":
		if _, ok := a.verdict.state.(triage.Billable); ok {
			a.edit = newEditModel(a.verdict.draft, a.matters)
			a.state = editView
		}
	case "a", "s":
		if _, ok := a.verdict.state.(triage.Billable); ok {
			return a, a.approve(a.verdict.approval(a.current, keyMsg.String() == "a"))
		}
	}
	return a, nil
}

func (a *App) updateEdit(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		if keyMsg.String() == "esc" && !a.edit.editing {
			a.verdict.draft = a.edit.preview
			a.state = verdictView
			return a, nil
		}
	}

	var cmd tea.Cmd
	a.edit, cmd = a.edit.Update(msg)
	return a, cmd
}

func (a *App) updateCompose(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "esc":
			if a.drafts != nil {
				a.drafts.Update("")
			}
			a.state = listView
			return a, nil
		case "ctrl+s":
			if a.compose.preview == nil {
				return a, nil
			}
			return a, a.approve(triage.Approval{Final: a.compose.preview.Clone(), Sync: true})
		}
	}

	var cmd tea.Cmd
	a.compose, cmd = a.compose.Update(msg)
	if a.drafts != nil {
		a.drafts.Update(a.compose.Value())
	}
	return a, cmd
}

func (a *App) handleTriage(msg triageMsg) (tea.Model, tea.Cmd) {
	if errors.Is(msg.err, triage.ErrSuperseded) || msg.email.ID != a.current.ID {
		return a, nil
	}
	if msg.err != nil {
		a.status = errorStyle.Render("Error: ") + msg.err.Error()
		a.state = listView
		return a, nil
	}

	if ap, ok := msg.state.(triage.AutoProcessed); ok {
		a.labels[ap.Email.ID] = "auto-synced"
		a.result.Approved = append(a.result.Approved, ap.Entry)
		a.status = successStyle.Render("Auto-processed: ") + describeEntry(ap.Entry)
		if ap.Next == nil {
			a.state = listView
			return a, nil
		}
		a.cursor = a.indexOf(ap.Next.ID)
		return a, a.selectEmail(*ap.Next)
	}

	var original *billing.Preview
	if b, ok := msg.state.(triage.Billable); ok {
		p := b.Preview.Clone()
		original = &p
	}
	a.verdict = newVerdictModel(msg.state, original)
	a.state = verdictView
	return a, nil
}

func (a *App) handleApprove(msg approveMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		if a.state == verdictView {
			a.verdict.errMsg = msg.err.Error()
			return a, nil
		}
		a.status = errorStyle.Render("Error: ") + msg.err.Error()
		return a, nil
	}
	a.result.Approved = append(a.result.Approved, msg.entry)
	for _, id := range msg.entry.EmailIDs {
		a.labels[id] = string(msg.entry.Status)
	}
	a.status = successStyle.Render("Saved: ") + describeEntry(msg.entry)
	if msg.entry.Status == billing.StatusError {
		a.status = warningStyle.Render("Saved, sync failed: ") + msg.entry.Sync.Error
	}
	if a.state == composeView {
		a.compose = newComposeModel().SetWidth(a.width)
	}
	a.state = listView
	return a, nil
}

func (a *App) handleDismiss(msg dismissMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.status = errorStyle.Render("Error: ") + msg.err.Error()
	} else {
		a.labels[msg.email.ID] = "dismissed"
		a.result.Dismissed++
		a.status = dimStyle.Render("Dismissed: " + msg.email.Subject)
	}
	a.state = listView
	return a, nil
}

func (a *App) selectEmail(e billing.Email) tea.Cmd {
	a.current = e
	a.state = analyzingView
	ctx, inbox, session := a.ctx, a.inbox, a.session
	return tea.Batch(a.spinner.Tick, func() tea.Msg {
		st, err := session.Select(ctx, e, inbox)
		return triageMsg{email: e, state: st, err: err}
	})
}

func (a *App) startCompose() tea.Cmd {
	a.session.Compose()
	a.state = composeView
	return a.compose.Focus()
}

// togglePilot runs as a command: Stop blocks until a running scan returns.
func (a *App) togglePilot() tea.Cmd {
	p, ctx := a.pilot, a.ctx
	if p.Running() {
		return func() tea.Msg {
			p.Stop()
			return pilotMsg{running: false}
		}
	}
	return func() tea.Msg {
		if err := p.Start(ctx); err != nil {
			return pilotMsg{err: err}
		}
		return pilotMsg{running: true}
	}
}

func (a *App) approve(ap triage.Approval) tea.Cmd {
	ctx, session := a.ctx, a.session
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()
		entry, err := session.Approve(ctx, ap)
		return approveMsg{entry: entry, err: err}
	}
}

func (a *App) dismiss(e billing.Email) tea.Cmd {
	ctx, session := a.ctx, a.session
	return func() tea.Msg {
		return dismissMsg{email: e, err: session.Dismiss(ctx, []billing.Email{e})}
	}
}

func (a *App) indexOf(id string) int {
	for i, e := range a.inbox {
		if e.ID == id {
			return i
		}
	}
	return a.cursor
}

func waitDraft(ch <-chan triage.Draft) tea.Cmd {
	return func() tea.Msg {
		return draftMsg(<-ch)
	}
}

func describeEntry(e billing.Entry) string {
	return fmt.Sprintf("%s, %.2fh, %s", e.Matter, e.Hours, e.Description)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
