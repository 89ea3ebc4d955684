package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"fairsync/internal/backend"
	"fairsync/internal/config"
	"fairsync/internal/logging"
	"fairsync/internal/netmon"
	"fairsync/internal/notifications"
	"fairsync/internal/queue"
	"fairsync/internal/status"
	"fairsync/internal/syncer"
)

// Daemon coordinates the capture services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	monitor  *netmon.Monitor
	engine   *syncer.Engine
	reporter *status.Reporter
	notifier notifications.Service
	api      *apiServer
	logPath  string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Snapshot     status.Snapshot
	QueueDBPath  string
	LockFilePath string
	LogPath      string
	APIAddress   string
}

// New constructs a daemon with the full component stack wired together:
// backend client, network monitor, sync engine, status reporter, and the
// HTTP capture API.
func New(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	notifier := notifications.NewService(cfg)
	client := backend.New(cfg, nil)
	monitor := netmon.New(cfg, logger, nil)
	engine := syncer.New(cfg, store, client, monitor, notifier, logger)
	reporter := status.NewReporter(store, engine, monitor, logger)
	reporter.BindEngine()

	// The offline-to-online edge is the main sync trigger: captures taken
	// while offline drain as soon as connectivity returns.
	monitor.Subscribe(func(online bool) {
		if online {
			engine.Trigger()
		}
	})

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		monitor:  monitor,
		engine:   engine,
		reporter: reporter,
		notifier: notifier,
		logPath:  filepath.Join(cfg.Paths.LogDir, "fairsync.log"),
		lockPath: filepath.Join(cfg.Paths.DataDir, "fairsyncd.lock"),
	}
	d.lock = flock.New(d.lockPath)

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api

	return d, nil
}

// Start acquires the daemon lock and launches the monitor, sync engine, and
// HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fairsync daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.engine.Start(runCtx); err != nil {
		d.teardown()
		return fmt.Errorf("start sync engine: %w", err)
	}
	if err := d.monitor.Start(runCtx); err != nil {
		d.engine.Stop()
		d.teardown()
		return fmt.Errorf("start network monitor: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.monitor.Stop()
			d.engine.Stop()
			d.teardown()
			return fmt.Errorf("start api server: %w", err)
		}
	}

	d.running.Store(true)
	d.logger.Info("fairsync daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

func (d *Daemon) teardown() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
}

// Stop shuts down background services and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.api != nil {
		d.api.stop()
	}
	d.monitor.Stop()
	d.engine.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("fairsync daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
	)
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Reporter exposes the status surface for the IPC layer.
func (d *Daemon) Reporter() *status.Reporter {
	return d.reporter
}

// ListQueue returns queue items filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Item, error) {
	if d.store == nil {
		return nil, errors.New("queue store unavailable")
	}
	if len(statuses) == 0 {
		return d.store.List(ctx)
	}
	return d.store.List(ctx, statuses...)
}

// ClearQueue removes all queue items.
func (d *Daemon) ClearQueue(ctx context.Context) (int64, error) {
	return d.reporter.ClearAll(ctx)
}

// RetryFailed returns failed items to pending and triggers a drain.
func (d *Daemon) RetryFailed(ctx context.Context) (int64, error) {
	return d.reporter.RetryFailed(ctx)
}

// TriggerSync requests a drain run, probing connectivity first so a manual
// trigger gets a fresh answer instead of a stale offline verdict.
func (d *Daemon) TriggerSync(ctx context.Context) bool {
	online := d.monitor.CheckNow(ctx)
	d.reporter.TriggerSync()
	return online
}

// TestNotification sends a test push notification with the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// APIAddress returns the bound address of the HTTP API, when serving.
func (d *Daemon) APIAddress() string {
	if d.api == nil {
		return ""
	}
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	snapshot, err := d.reporter.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		Snapshot:     snapshot,
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		LogPath:      d.logPath,
		APIAddress:   d.APIAddress(),
	}, nil
}
