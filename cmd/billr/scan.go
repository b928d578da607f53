package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/christopherklint97/billr/internal/autopilot"
	"github.com/christopherklint97/billr/internal/config"
	"github.com/christopherklint97/billr/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Group cached emails into entries once",
	Long: "scan sends every eligible cached email to the AI for grouping, applies matter rules and " +
		"either creates and syncs entries (autopilot) or queues suggestions for review.",
	RunE: runScan,
}

var autopilotCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Run scans periodically in the background",
}

var autopilotStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the autopilot loop in the foreground",
	RunE:  runAutopilotStart,
}

var autopilotStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running autopilot",
	RunE:  runAutopilotStop,
}

func init() {
	scanCmd.Flags().String("since", "", "Only consider emails received since this time")
	scanCmd.Flags().Bool("fetch", false, "Fetch new mail before scanning")
	scanCmd.Flags().Bool("autopilot", false, "Allow auto-sync for this scan even if disabled in config")

	autopilotStartCmd.Flags().Bool("no-fetch", false, "Scan cached mail only")

	autopilotCmd.AddCommand(autopilotStartCmd)
	autopilotCmd.AddCommand(autopilotStopCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sinceFlag, _ := cmd.Flags().GetString("since")
	doFetch, _ := cmd.Flags().GetBool("fetch")
	forceAuto, _ := cmd.Flags().GetBool("autopilot")

	now := time.Now()
	since, err := parseSince(sinceFlag, now)
	if err != nil {
		return err
	}
	if since.IsZero() {
		since = e.lookbackStart(now)
	}

	if doFetch {
		n, err := e.fetchMail(ctx, since)
		if err != nil {
			return err
		}
		fmt.Printf("Fetched %d new messages.\n", n)
	}

	req, err := e.scanRequest(ctx, since)
	if err != nil {
		return err
	}
	if forceAuto {
		req.Policy.AutopilotEnabled = true
	}

	res, err := e.pipeline().Run(ctx, req)
	if err != nil {
		var scanErr *scan.Error
		if errors.As(err, &scanErr) {
			return fmt.Errorf("scan failed, nothing was changed: %w", err)
		}
		return err
	}

	if res.Empty() {
		fmt.Println("Nothing new to bill.")
		return nil
	}
	fmt.Println(res.String())
	for _, en := range res.Created {
		fmt.Printf("  %s %s\n", successStyle.Render("synced"), describe(en))
	}
	for _, f := range res.Sync.Failed {
		fmt.Printf("  %s %s: %s\n", errorStyle.Render("failed"), describe(f), f.Sync.Error)
	}
	if len(res.Suggestions) > 0 {
		fmt.Println(dimStyle.Render("Review suggestions with 'billr suggestions list'."))
	}
	return nil
}

func runAutopilotStart(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	noFetch, _ := cmd.Flags().GetBool("no-fetch")

	pid := autopilot.NewPIDFile(e.configDir)
	if err := pid.Write(); err != nil {
		return err
	}
	defer pid.Remove()

	pilot := e.newAutopilot(!noFetch)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Printf("Autopilot running every %ds (Ctrl+C to stop).\n", e.cfg.Autopilot.IntervalSeconds)
	if err := pilot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("Autopilot stopped.")
	return nil
}

func runAutopilotStop(cmd *cobra.Command, args []string) error {
	dir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	pid, err := autopilot.NewPIDFile(dir).Signal()
	if err != nil {
		return err
	}
	fmt.Printf("Sent stop signal to billr autopilot (PID %d)\n", pid)
	return nil
}

// newAutopilot builds the periodic scan loop. Its scans always route
// confident entries straight to sync.
func (e *env) newAutopilot(fetch bool) *autopilot.Autopilot {
	build := func(ctx context.Context) (scan.Request, error) {
		now := time.Now()
		since := e.lookbackStart(now)
		if fetch && e.mailClient() != nil {
			if n, err := e.fetchMail(ctx, since); err != nil {
				e.logger.Warn("fetching mail", "error", err)
			} else if n > 0 {
				e.logger.Info("fetched mail", "count", n)
			}
		}
		req, err := e.scanRequest(ctx, since)
		if err != nil {
			return scan.Request{}, err
		}
		req.Policy.AutopilotEnabled = true
		return req, nil
	}

	opts := []autopilot.Option{
		autopilot.WithInterval(time.Duration(e.cfg.Autopilot.IntervalSeconds) * time.Second),
		autopilot.WithWorkHours(autopilot.WorkHours{
			Start: e.cfg.Autopilot.WorkStart,
			End:   e.cfg.Autopilot.WorkEnd,
			Days:  e.cfg.Autopilot.WorkDays,
		}),
		autopilot.WithRetrier(e.syncer),
		autopilot.WithLogger(e.logger.With("component", "autopilot")),
	}
	if e.cfg.Notifications.Enabled {
		opts = append(opts, autopilot.WithNotifier(autopilot.Desktop{}))
	}
	return autopilot.New(e.pipeline(), build, opts...)
}
