package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	naturaldate "github.com/tj/go-naturaldate"

	"github.com/christopherklint97/billr/internal/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "billr",
	Short: "Billing automation for legal email",
	Long: "billr reads your mailbox, asks an AI model which emails are billable, applies your matter rules " +
		"and either syncs confident entries to Clockify or queues them for review.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log to stderr instead of the log file")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(autopilotCmd)
	rootCmd.AddCommand(inboxCmd)
	rootCmd.AddCommand(triageCmd)
	rootCmd.AddCommand(suggestionsCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(mailCmd)
	rootCmd.AddCommand(mattersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger writes to billr.log in the config directory, or to stderr
// with --verbose. The returned closer releases the log file.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	var (
		w       io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if !verbose {
		dir, err := config.ConfigDir()
		if err != nil {
			return nil, nil, err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("creating config directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(dir, "billr.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(cfg.Log.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), closeFn, nil
}

// parseSince accepts RFC 3339, YYYY-MM-DD or natural phrases like
// "3 days ago" and "yesterday".
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	t, err := naturaldate.Parse(s, now, naturaldate.WithDirection(naturaldate.Past))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}
