package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"fairsync/internal/config"
	"fairsync/internal/daemon"
	"fairsync/internal/ipc"
	"fairsync/internal/logging"
	"fairsync/internal/queue"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open capture store", logging.Error(err))
		return
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = store.Close()
		return
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(ctx, ipc.SocketPath(cfg), d, logger)
	if err != nil {
		logger.Error("start IPC server", logging.Error(err))
		return
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("fairsyncd shutting down")
}
