package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fairsync/internal/daemon"
	"fairsync/internal/ipc"
	"fairsync/internal/logging"
	"fairsync/internal/queue"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and manage the fairsync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the fairsync daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			store, err := queue.Open(cfg)
			if err != nil {
				return fmt.Errorf("open capture store: %w", err)
			}

			d, err := daemon.New(cfg, store, logger)
			if err != nil {
				_ = store.Close()
				return fmt.Errorf("create daemon: %w", err)
			}
			defer d.Close()

			ipcServer, err := ipc.NewServer(runCtx, ipc.SocketPath(cfg), d, logger)
			if err != nil {
				return fmt.Errorf("start IPC server: %w", err)
			}
			defer ipcServer.Close()
			ipcServer.Serve()

			if err := d.Start(runCtx); err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "fairsyncd running; press Ctrl-C to stop")
			<-runCtx.Done()
			return nil
		},
	}

	daemonCmd.AddCommand(runCmd)

	return daemonCmd
}
