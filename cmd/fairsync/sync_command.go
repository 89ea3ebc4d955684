package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fairsync/internal/ipc"
)

func newSyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Trigger an immediate sync run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.SyncNow()
				if err != nil {
					return fmt.Errorf("trigger sync: %w", err)
				}
				out := cmd.OutOrStdout()
				if !resp.Online {
					fmt.Fprintln(out, "Backend unreachable; sync will run when the connection returns.")
					return nil
				}
				if resp.Triggered {
					fmt.Fprintln(out, "Sync triggered.")
				} else {
					fmt.Fprintln(out, "Sync already in progress.")
				}
				return nil
			})
		},
	}
}
