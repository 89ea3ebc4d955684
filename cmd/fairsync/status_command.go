package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"fairsync/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and capture queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				if err != nil {
					return fmt.Errorf("query status: %w", err)
				}
				printStatus(cmd, resp)
				return nil
			})
		},
	}
}

func printStatus(cmd *cobra.Command, resp *ipc.StatusResponse) {
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Daemon:  %s\n", renderRunState(resp.Running))
	fmt.Fprintf(out, "Network: %s\n", renderNetState(resp.Online))
	fmt.Fprintf(out, "Sync:    %s\n", renderSyncState(resp))
	fmt.Fprintln(out)

	headers := []string{"Queue", "Count"}
	rows := [][]string{
		{"Pending cards", strconv.Itoa(resp.PendingCards)},
		{"Pending QR scans", strconv.Itoa(resp.PendingQR)},
		{"Failed", strconv.Itoa(resp.Failed)},
	}
	fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignLeft, alignRight}))

	if resp.QueueDBPath != "" {
		fmt.Fprintf(out, "Queue DB: %s\n", resp.QueueDBPath)
	}
	if resp.LogPath != "" {
		fmt.Fprintf(out, "Log file: %s\n", resp.LogPath)
	}
	if resp.APIAddress != "" {
		fmt.Fprintf(out, "HTTP API: %s\n", resp.APIAddress)
	}
}

func renderSyncState(resp *ipc.StatusResponse) string {
	if !resp.Syncing {
		return "idle"
	}
	label := resp.CurrentLabel
	if label == "" {
		label = "working"
	}
	return fmt.Sprintf("%s (%.0f%%, %s)", colorize("syncing", ansiYellow), resp.Progress*100, label)
}
