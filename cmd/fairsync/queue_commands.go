package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fairsync/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the capture queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued capture items",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := splitStatuses(statusFilter)
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueList(statuses)
				if err != nil {
					return fmt.Errorf("list queue: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(resp.Items) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				fmt.Fprintln(out, renderQueueTable(resp.Items))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFilter, "status", "", "Filter by status (comma separated: pending, inflight, failed)")

	return cmd
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every item from the capture queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("queue clear discards unsynced captures; pass --force to confirm")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueClear()
				if err != nil {
					return fmt.Errorf("clear queue: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d item(s)\n", resp.Removed)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Confirm discarding unsynced captures")

	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Return failed items to the pending queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.QueueRetry()
				if err != nil {
					return fmt.Errorf("retry failed items: %w", err)
				}
				out := cmd.OutOrStdout()
				if resp.Retried == 0 {
					fmt.Fprintln(out, "No failed items to retry")
					return nil
				}
				fmt.Fprintf(out, "Requeued %d failed item(s)\n", resp.Retried)
				return nil
			})
		},
	}
}

func renderQueueTable(items []ipc.QueueItem) string {
	headers := []string{"ID", "Kind", "Event", "Status", "Attempts", "Enqueued", "Error"}
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		event := item.EventName
		if event == "" {
			event = item.EventID
		}
		rows = append(rows, []string{
			shortID(item.ID),
			item.Kind,
			event,
			item.Status,
			strconv.Itoa(item.Attempts),
			formatTimestamp(item.EnqueuedAt),
			truncateError(item.LastError),
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
	return renderTable(headers, rows, aligns)
}

func splitStatuses(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	statuses := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}
	return statuses
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTimestamp(value string) string {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return parsed.Local().Format("2006-01-02 15:04:05")
}

func truncateError(message string) string {
	const limit = 48
	if len(message) <= limit {
		return message
	}
	return message[:limit-3] + "..."
}
