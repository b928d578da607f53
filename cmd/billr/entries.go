package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/christopherklint97/billr/internal/billing"
	"github.com/christopherklint97/billr/internal/calendar"
)

var syncCmd = &cobra.Command{
	Use:   "sync [entry-id...]",
	Short: "Push entries to Clockify",
	Long:  "sync pushes the given entries, or with --retry-failed every entry whose last sync failed.",
	RunE:  runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent entries and billed amounts",
	RunE:  runStatus,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export entries as an iCalendar file",
	RunE:  runExport,
}

func init() {
	syncCmd.Flags().Bool("retry-failed", false, "Retry every entry in the error state")
	syncCmd.Flags().Bool("drafts", false, "Sync every draft entry")

	statusCmd.Flags().String("since", "today", "Show entries created since this time")

	exportCmd.Flags().String("since", "7 days ago", "Export entries created since this time")
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	retry, _ := cmd.Flags().GetBool("retry-failed")
	drafts, _ := cmd.Flags().GetBool("drafts")

	if retry {
		report, err := e.syncer.RetryFailed(ctx)
		if err != nil {
			return err
		}
		printReport("Retry", report.Succeeded, report.Failed)
		return nil
	}

	ids := args
	if drafts {
		list, err := e.db.ListEntriesByStatus(ctx, e.owner, billing.StatusDraft)
		if err != nil {
			return err
		}
		for _, en := range list {
			ids = append(ids, en.ID)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("nothing to sync: pass entry ids, --drafts or --retry-failed")
	}

	report := e.syncer.SyncMany(ctx, ids)
	printReport("Sync", report.Succeeded, report.Failed)
	for _, id := range report.Skipped {
		fmt.Printf("  %s %s\n", dimStyle.Render("skipped"), id)
	}
	return nil
}

func printReport(op string, succeeded, failed []billing.Entry) {
	fmt.Printf("%s: %d succeeded, %d failed\n", op, len(succeeded), len(failed))
	for _, en := range succeeded {
		fmt.Printf("  %s %s\n", statusLabel(en.Status), describe(en))
	}
	for _, en := range failed {
		fmt.Printf("  %s %s: %s\n", statusLabel(en.Status), describe(en), en.Sync.Error)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sinceFlag, _ := cmd.Flags().GetString("since")
	now := time.Now()
	var since time.Time
	if sinceFlag == "today" {
		y, m, d := now.Date()
		since = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	} else if since, err = parseSince(sinceFlag, now); err != nil {
		return err
	}

	entries, err := e.db.ListEntries(ctx, e.owner, since)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	stats := e.tracker.Stats()
	suggestions, err := e.db.ListSuggestions(ctx, e.owner)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No entries since " + since.Local().Format("2006-01-02 15:04") + ".")
	} else {
		fmt.Println(headerStyle.Render("Entries since " + since.Local().Format("2006-01-02 15:04")))
		fmt.Println()
	}

	var hours, amount float64
	for _, en := range entries {
		auto := ""
		if en.AutoGenerated {
			auto = dimStyle.Render(" auto")
		}
		fmt.Printf("  %s  %s  %10s  %s%s\n",
			en.CreatedAt.Local().Format("01-02 15:04"),
			describe(en),
			money(en.Amount()),
			statusLabel(en.Status),
			auto,
		)
		hours += en.Hours
		amount += en.Amount()
	}
	if len(entries) > 0 {
		fmt.Printf("\nTotal: %.2fh, %s (%d entries)\n", hours, money(amount), len(entries))
	}

	fmt.Println(dimStyle.Render(fmt.Sprintf("\n%d emails billed, %d processed, %d dismissed, %d suggestions pending",
		stats.Billed, stats.Processed, stats.Dismissed, len(suggestions))))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sinceFlag, _ := cmd.Flags().GetString("since")
	output, _ := cmd.Flags().GetString("output")
	now := time.Now()
	since, err := parseSince(sinceFlag, now)
	if err != nil {
		return err
	}

	entries, err := e.db.ListEntries(ctx, e.owner, since)
	if err != nil {
		return fmt.Errorf("listing entries: %w", err)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}
	if err := calendar.Export(w, entries, now); err != nil {
		return err
	}
	if output != "" {
		fmt.Printf("Exported %d entries to %s\n", len(entries), output)
	}
	return nil
}
