package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/triage"
	"github.com/christopherklint97/billr/internal/tui"
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Triage cached emails interactively",
	RunE:  runInbox,
}

var triageCmd = &cobra.Command{
	Use:   "triage <email-id>",
	Short: "Triage a single cached email",
	Args:  cobra.ExactArgs(1),
	RunE:  runTriage,
}

func init() {
	inboxCmd.Flags().String("since", "", "Only show emails received since this time")
	triageCmd.Flags().Bool("approve", false, "Approve and sync a billable draft as suggested")
	triageCmd.Flags().Bool("override", false, "Force a billable draft over a negative verdict")
}

func runInbox(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sinceFlag, _ := cmd.Flags().GetString("since")
	now := time.Now()
	since, err := parseSince(sinceFlag, now)
	if err != nil {
		return err
	}
	if since.IsZero() {
		since = e.lookbackStart(now)
	}

	settings, err := e.settings(ctx)
	if err != nil {
		return err
	}
	emails, err := e.db.ListEmails(ctx, since)
	if err != nil {
		return fmt.Errorf("listing emails: %w", err)
	}
	inbox := e.tracker.Eligible(emails)

	session := e.session(settings)
	drafts := triage.NewDebouncer(e.provider, time.Duration(e.cfg.Triage.DebounceMS)*time.Millisecond,
		settings.Context, e.logger.With("component", "compose"))
	defer drafts.Stop()

	app := tui.NewApp(ctx, session, drafts, inbox, settings.Matters)
	pilot := e.newAutopilot(e.mailClient() != nil)
	defer pilot.Stop()
	app.SetAutopilot(pilot)
	if e.cfg.Autopilot.Enabled {
		if err := pilot.Start(ctx); err != nil {
			return err
		}
	}
	if _, err := tea.NewProgram(app, tea.WithAltScreen()).Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}

	res := app.GetResult()
	var total float64
	for _, en := range res.Approved {
		total += en.Hours
	}
	fmt.Printf("%d entries (%.2fh) saved, %d emails dismissed.\n", len(res.Approved), total, res.Dismissed)
	return nil
}

func runTriage(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	approve, _ := cmd.Flags().GetBool("approve")
	override, _ := cmd.Flags().GetBool("override")

	email, err := e.db.GetEmail(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading email %s: %w", args[0], err)
	}
	settings, err := e.settings(ctx)
	if err != nil {
		return err
	}
	inbox, err := e.db.ListEmails(ctx, e.lookbackStart(time.Now()))
	if err != nil {
		return fmt.Errorf("listing emails: %w", err)
	}

	session := e.session(settings)
	st, err := session.Select(ctx, email, inbox)
	if err != nil {
		return err
	}

	if override && triage.CanOverride(st) {
		b, err := session.Override(st)
		if err != nil {
			return err
		}
		st = b
	}

	fmt.Println(headerStyle.Render(st.Name()) + "  " + email.Subject)
	switch st := st.(type) {
	case triage.Billable:
		printPreview(st.Preview)
		if st.Justification != "" {
			fmt.Println(warningStyle.Render("Rule: ") + st.Justification)
		}
		if !approve {
			fmt.Println(dimStyle.Render("Re-run with --approve to save and sync."))
			return nil
		}
		entry, err := session.Approve(ctx, triage.Approval{
			Emails: []billing.Email{email},
			Final:  st.Preview,
			Sync:   true,
		})
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", statusLabel(entry.Status), describe(entry))
	case triage.NotBillable:
		fmt.Println(dimStyle.Render(st.Reason))
	case triage.DuplicateSuspected:
		fmt.Println(warningStyle.Render(st.Reason))
	case triage.AutoProcessed:
		fmt.Printf("%s %s\n", statusLabel(st.Entry.Status), describe(st.Entry))
		if st.Next != nil {
			fmt.Printf("Next: %s  %s\n", st.Next.ID, st.Next.Subject)
		}
	}
	return nil
}

func printPreview(p billing.Preview) {
	fmt.Printf("  Matter:       %s\n", p.Matter)
	fmt.Printf("  Hours:        %.2f\n", p.HoursOrZero())
	fmt.Printf("  Description:  %s\n", p.Description)
	if p.ConfidenceScore != nil {
		fmt.Printf("  Confidence:   %.0f%%\n", *p.ConfidenceScore*100)
	}
	for _, item := range p.ActionItems {
		fmt.Printf("  - %s\n", item)
	}
}
