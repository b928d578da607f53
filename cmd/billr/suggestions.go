package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/store"
	"github.com/christopherklint97/billr/internal/triage"
)

var suggestionsCmd = &cobra.Command{
	Use:   "suggestions",
	Short: "Review entries suggested by scans",
}

var suggestionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending suggestions",
	RunE:  runSuggestionsList,
}

var suggestionsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Save a suggestion as an entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggestionsApprove,
}

var suggestionsDismissCmd = &cobra.Command{
	Use:   "dismiss <id>",
	Short: "Drop a suggestion and dismiss its emails",
	Args:  cobra.ExactArgs(1),
	RunE:  runSuggestionsDismiss,
}

func init() {
	suggestionsApproveCmd.Flags().Bool("no-sync", false, "Save as a draft without syncing")
	suggestionsApproveCmd.Flags().String("matter", "", "Override the suggested matter")
	suggestionsApproveCmd.Flags().Float64("hours", 0, "Override the suggested hours")
	suggestionsApproveCmd.Flags().String("description", "", "Override the suggested description")

	suggestionsCmd.AddCommand(suggestionsListCmd)
	suggestionsCmd.AddCommand(suggestionsApproveCmd)
	suggestionsCmd.AddCommand(suggestionsDismissCmd)
}

func runSuggestionsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	suggestions, err := e.db.ListSuggestions(ctx, e.owner)
	if err != nil {
		return err
	}
	if len(suggestions) == 0 {
		fmt.Println("No pending suggestions.")
		return nil
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%d pending suggestions", len(suggestions))))
	for _, s := range suggestions {
		conf := ""
		if s.Preview.ConfidenceScore != nil {
			conf = dimStyle.Render(fmt.Sprintf("%3.0f%%", *s.Preview.ConfidenceScore*100))
		}
		fmt.Printf("\n%s  %-20s %5.2fh %s  %s\n", shortID(s.ID), s.Preview.Matter, s.Preview.HoursOrZero(), conf, s.Preview.Description)
		if j := s.Preview.Justification; j != nil && j.RuleApplied != "" {
			fmt.Println("    " + warningStyle.Render(j.RuleApplied))
		}
		for _, em := range s.Emails {
			fmt.Println("    " + dimStyle.Render(em.Sender+": "+em.Subject))
		}
	}
	return nil
}

// findSuggestion accepts a full id or a unique prefix as shown by list.
func findSuggestion(suggestions []billing.Suggestion, id string) (billing.Suggestion, error) {
	var found []billing.Suggestion
	for _, s := range suggestions {
		if s.ID == id {
			return s, nil
		}
		if len(id) >= 4 && len(s.ID) >= len(id) && s.ID[:len(id)] == id {
			found = append(found, s)
		}
	}
	switch len(found) {
	case 0:
		return billing.Suggestion{}, fmt.Errorf("suggestion %s: %w", id, store.ErrNotFound)
	case 1:
		return found[0], nil
	}
	return billing.Suggestion{}, fmt.Errorf("suggestion id %s is ambiguous", id)
}

func runSuggestionsApprove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	suggestions, err := e.db.ListSuggestions(ctx, e.owner)
	if err != nil {
		return err
	}
	s, err := findSuggestion(suggestions, args[0])
	if err != nil {
		return err
	}

	final := s.Preview.Clone()
	if v, _ := cmd.Flags().GetString("matter"); v != "" {
		final.Matter = v
	}
	if v, _ := cmd.Flags().GetFloat64("hours"); v > 0 {
		final.Hours = billing.Float(v)
	}
	if v, _ := cmd.Flags().GetString("description"); v != "" {
		final.Description = v
	}
	noSync, _ := cmd.Flags().GetBool("no-sync")

	settings, err := e.settings(ctx)
	if err != nil {
		return err
	}
	emails := s.Emails
	if len(emails) == 0 {
		for _, id := range s.EmailIDs {
			emails = append(emails, billing.Email{ID: id})
		}
	}

	orig := s.Preview
	entry, err := e.session(settings).Approve(ctx, triage.Approval{
		Emails:   emails,
		Original: &orig,
		Final:    final,
		Sync:     !noSync,
	})
	if errors.Is(err, store.ErrAlreadyBilled) {
		e.logger.Info("suggestion already billed", "suggestion_id", s.ID)
		if derr := e.db.DeleteSuggestion(ctx, e.owner, s.ID); derr != nil {
			return derr
		}
		return fmt.Errorf("emails of suggestion %s are already billed; suggestion removed", shortID(s.ID))
	}
	if err != nil {
		return err
	}
	if err := e.db.DeleteSuggestion(ctx, e.owner, s.ID); err != nil {
		return err
	}

	fmt.Printf("%s %s\n", statusLabel(entry.Status), describe(entry))
	if entry.Status == billing.StatusError {
		fmt.Println(errorStyle.Render("Sync failed: ") + entry.Sync.Error)
	}
	return nil
}

func runSuggestionsDismiss(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	suggestions, err := e.db.ListSuggestions(ctx, e.owner)
	if err != nil {
		return err
	}
	s, err := findSuggestion(suggestions, args[0])
	if err != nil {
		return err
	}
	if err := e.tracker.MarkDismissed(ctx, s.EmailIDs); err != nil {
		return err
	}
	if err := e.db.DeleteSuggestion(ctx, e.owner, s.ID); err != nil {
		return err
	}
	fmt.Printf("Dismissed %d emails.\n", len(s.EmailIDs))
	return nil
}
