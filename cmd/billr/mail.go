package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/christopherklint97/billr/internal/msgraph"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download new inbox messages into the local cache",
	RunE:  runFetch,
}

var mailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Manage the mailbox connection",
}

var mailAuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Sign in to Microsoft 365 with a device code",
	RunE:  runMailAuth,
}

func init() {
	fetchCmd.Flags().String("since", "", `Fetch messages received since (e.g. "2 days ago", 2026-03-01)`)
	mailCmd.AddCommand(mailAuthCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
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

	n, err := e.fetchMail(ctx, since)
	if err != nil {
		return err
	}
	fmt.Printf("Fetched %d new messages since %s.\n", n, since.Local().Format("2006-01-02 15:04"))
	return nil
}

func runMailAuth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.cfg.MSGraph.ClientID == "" {
		return fmt.Errorf("set msgraph.client_id first: billr config set msgraph.client_id <id>")
	}

	err = e.auth().Login(ctx, func(dc *msgraph.DeviceCodeResponse) {
		if dc.Message != "" {
			fmt.Println(dc.Message)
			return
		}
		fmt.Printf("Open %s and enter the code %s\n", dc.VerificationURI, dc.UserCode)
	})
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}
	fmt.Println("Signed in. Run 'billr fetch' to download mail.")
	return nil
}
