package syncer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fairsync/internal/backend"
	"fairsync/internal/config"
	"fairsync/internal/logging"
	"fairsync/internal/notifications"
	"fairsync/internal/queue"
)

// Deliverer dispatches a single capture item to the backend.
type Deliverer interface {
	Deliver(ctx context.Context, item *queue.Item) (*backend.UploadResult, error)
}

// Connectivity reports backend reachability.
type Connectivity interface {
	Online() bool
	CheckNow(ctx context.Context) bool
}

// Progress describes the state of the current (or last) sync run.
type Progress struct {
	Syncing      bool
	Total        int
	Completed    int
	CurrentLabel string
	CurrentKind  queue.Kind
}

// Percent returns drain completion as 0-100.
func (p Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}

// ProgressListener receives a snapshot on every progress change. Listeners
// run on the sync goroutine and must not block.
type ProgressListener func(Progress)

// Summary reports the outcome of a single drain run.
type Summary struct {
	Processed int
	Failed    int
	Aborted   bool
	Skipped   bool
}

// Engine drains the capture queue to the backend, one item at a time in
// enqueue order. Exactly one drain runs at any moment; triggers that arrive
// while a run is active coalesce into it.
type Engine struct {
	store     *queue.Store
	deliverer Deliverer
	net       Connectivity
	notifier  notifications.Service
	logger    *slog.Logger

	maxAttempts      int
	backoffBase      time.Duration
	backoffCap       time.Duration
	backlogThreshold int
	idleRecheck      time.Duration

	listeners []ProgressListener

	mu             sync.Mutex
	running        bool
	syncing        bool
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	wake           chan struct{}
	progress       Progress
	lastErr        error
	backlogAlerted bool
}

// New constructs a sync engine from configuration.
func New(cfg *config.Config, store *queue.Store, deliverer Deliverer, net Connectivity, notifier notifications.Service, logger *slog.Logger) *Engine {
	return &Engine{
		store:            store,
		deliverer:        deliverer,
		net:              net,
		notifier:         notifier,
		logger:           logging.NewComponentLogger(logger, "sync-engine"),
		maxAttempts:      cfg.Sync.MaxAttempts,
		backoffBase:      time.Duration(cfg.Sync.BackoffBaseSeconds) * time.Second,
		backoffCap:       time.Duration(cfg.Sync.BackoffCapSeconds) * time.Second,
		backlogThreshold: cfg.Sync.BacklogAlertThreshold,
		idleRecheck:      time.Duration(cfg.Sync.OfflineRecheckInterval) * time.Second,
		wake:             make(chan struct{}, 1),
	}
}

// AddListener registers a progress listener. Must be called before Start.
func (e *Engine) AddListener(listener ProgressListener) {
	if e == nil || listener == nil {
		return
	}
	e.listeners = append(e.listeners, listener)
}

// Start launches the background drain loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.New("sync engine already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true
	e.wg.Add(1)
	e.mu.Unlock()

	go e.runLoop(runCtx)
	return nil
}

// Stop terminates the drain loop and waits for it to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.running = false
	e.cancel = nil
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
}

// Trigger requests a drain run. Non-blocking; while a run is active the
// request coalesces into it.
func (e *Engine) Trigger() {
	if e == nil {
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Syncing reports whether a drain run is in progress.
func (e *Engine) Syncing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncing
}

// Status returns the latest progress snapshot.
func (e *Engine) Status() Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.progress
}

// LastError returns the most recent drain-level failure, if any.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		wait := e.nextWakeInterval(ctx)
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}

		e.RunOnce(ctx)
	}
}

// nextWakeInterval decides how long the loop may sleep before it should look
// at the queue again without an explicit trigger: until the earliest retry
// gate, or the idle recheck interval when items are waiting on connectivity.
func (e *Engine) nextWakeInterval(ctx context.Context) time.Duration {
	wait := e.idleRecheck
	if wait <= 0 {
		wait = 15 * time.Second
	}

	gate, err := e.store.NextRetryAt(ctx)
	if err != nil {
		return wait
	}
	if gate != nil {
		if until := time.Until(*gate); until < wait {
			if until < 50*time.Millisecond {
				until = 50 * time.Millisecond
			}
			return until
		}
	}
	return wait
}

// RunOnce performs a single synchronous drain. Returns immediately with
// Skipped set when a run is already active.
func (e *Engine) RunOnce(ctx context.Context) Summary {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return Summary{Skipped: true}
	}
	e.syncing = true
	e.mu.Unlock()

	summary := e.drain(ctx)

	e.mu.Lock()
	e.syncing = false
	e.mu.Unlock()

	return summary
}

func (e *Engine) drain(ctx context.Context) Summary {
	counts, err := e.store.Counts(ctx)
	if err != nil {
		e.setLastError(err)
		e.logger.Error("failed to read queue counts",
			logging.Error(err),
			logging.String(logging.FieldEventType, "queue_counts_failed"),
			logging.String(logging.FieldErrorHint, "check capture database access"),
		)
		return Summary{Aborted: true}
	}

	total := counts.Pending()
	if total == 0 {
		e.setProgress(Progress{})
		return Summary{}
	}

	if !e.net.Online() && !e.net.CheckNow(ctx) {
		e.noteOfflineBacklog(ctx, total)
		e.logger.Debug("sync requested while offline; captures stay queued",
			logging.Int("pending", total),
		)
		return Summary{Aborted: true}
	}
	e.resetBacklogAlert()

	start := time.Now()
	var summary Summary

	e.logger.Info("sync run started",
		logging.String(logging.FieldEventType, "sync_started"),
		logging.Int("pending", total),
	)
	e.setProgress(Progress{Syncing: true, Total: total})

	for {
		select {
		case <-ctx.Done():
			e.finishRun(ctx, start, &summary, true)
			return summary
		default:
		}

		item, err := e.store.NextPending(ctx, time.Now())
		if err != nil {
			e.setLastError(err)
			e.logger.Error("failed to fetch next capture",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
			)
			summary.Aborted = true
			break
		}
		if item == nil {
			break
		}

		aborted := e.processItem(ctx, item, total, &summary)
		if aborted {
			summary.Aborted = true
			break
		}
	}

	e.finishRun(ctx, start, &summary, false)
	return summary
}

// processItem delivers one capture. Returns true when the run must abort
// (connectivity lost); the item is already back in pending in that case.
func (e *Engine) processItem(ctx context.Context, item *queue.Item, total int, summary *Summary) bool {
	if err := e.store.MarkInFlight(ctx, item.ID); err != nil {
		if errors.Is(err, queue.ErrNotPending) {
			// Claimed or purged between fetch and claim. Move on.
			return false
		}
		e.setLastError(err)
		return false
	}

	e.setProgress(Progress{
		Syncing:      true,
		Total:        total,
		Completed:    summary.Processed,
		CurrentLabel: item.Label(),
		CurrentKind:  item.Kind,
	})

	result, err := e.deliverer.Deliver(ctx, item)
	if err == nil {
		removed, markErr := e.store.MarkSynced(ctx, item.ID)
		if markErr != nil {
			e.setLastError(markErr)
		}
		if removed {
			summary.Processed++
		}
		var docID string
		if result != nil {
			docID = result.DocumentID
		}
		e.logger.Info("capture synced",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldKind, string(item.Kind)),
			logging.String(logging.FieldEventType, "item_synced"),
			logging.String("document_id", docID),
		)
		e.setProgress(Progress{Syncing: true, Total: total, Completed: summary.Processed})
		return false
	}

	if backend.IsPermanent(err) {
		e.failItem(ctx, item, err, summary)
		return false
	}

	// Transient failure. If we actually lost connectivity the item gets its
	// attempt back: offline is not the item's fault.
	if !e.net.CheckNow(ctx) {
		if requeueErr := e.store.Requeue(ctx, item.ID); requeueErr != nil {
			e.setLastError(requeueErr)
		}
		e.logger.Info("connectivity lost mid-sync; aborting run",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldEventType, "sync_aborted_offline"),
			logging.String(logging.FieldImpact, "remaining captures stay queued until back online"),
		)
		return true
	}

	attempt := item.Attempts + 1
	if attempt >= e.maxAttempts {
		e.failItem(ctx, item, err, summary)
		return false
	}

	delay := backoffDelay(attempt, e.backoffBase, e.backoffCap)
	retryAt := time.Now().Add(delay)
	if retryErr := e.store.ScheduleRetry(ctx, item.ID, err.Error(), retryAt); retryErr != nil {
		e.setLastError(retryErr)
	}
	e.logger.Warn("capture delivery failed; will retry",
		logging.Error(err),
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldEventType, "item_retry_scheduled"),
		logging.Int("attempt", attempt),
		logging.Duration("retry_in", delay),
	)
	return false
}

func (e *Engine) failItem(ctx context.Context, item *queue.Item, cause error, summary *Summary) {
	if err := e.store.MarkFailed(ctx, item.ID, cause.Error()); err != nil {
		e.setLastError(err)
		return
	}
	summary.Failed++

	e.logger.Error("capture failed permanently",
		logging.Error(cause),
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldKind, string(item.Kind)),
		logging.String(logging.FieldEventType, "item_failed"),
		logging.String(logging.FieldErrorHint, "inspect with 'fairsync queue list --status failed'"),
		logging.Int("attempts", item.Attempts+1),
	)

	stuck := *item
	stuck.Attempts = item.Attempts + 1
	stuck.LastError = cause.Error()
	if err := e.notifier.NotifyItemStuck(ctx, &stuck); err != nil {
		e.logger.Warn("stuck item notification failed", logging.Error(err))
	}
}

func (e *Engine) finishRun(ctx context.Context, start time.Time, summary *Summary, cancelled bool) {
	e.setProgress(Progress{})

	if cancelled {
		return
	}

	e.logger.Info("sync run finished",
		logging.String(logging.FieldEventType, "sync_finished"),
		logging.Int("processed", summary.Processed),
		logging.Int("failed", summary.Failed),
		logging.Bool("aborted", summary.Aborted),
		logging.Duration("duration", time.Since(start)),
	)

	if summary.Processed+summary.Failed > 0 {
		if err := e.notifier.NotifySyncCompleted(ctx, summary.Processed, summary.Failed, time.Since(start)); err != nil {
			e.logger.Warn("sync outcome notification failed", logging.Error(err))
		}
	}
}

// noteOfflineBacklog raises a one-shot operator alert when the offline
// backlog crosses the configured threshold.
func (e *Engine) noteOfflineBacklog(ctx context.Context, pending int) {
	if e.backlogThreshold <= 0 || pending < e.backlogThreshold {
		return
	}

	e.mu.Lock()
	alerted := e.backlogAlerted
	e.backlogAlerted = true
	e.mu.Unlock()
	if alerted {
		return
	}

	if err := e.notifier.NotifyBacklogGrowing(ctx, pending, e.backlogThreshold); err != nil {
		e.logger.Warn("backlog notification failed", logging.Error(err))
	}
}

func (e *Engine) resetBacklogAlert() {
	e.mu.Lock()
	e.backlogAlerted = false
	e.mu.Unlock()
}

func (e *Engine) setProgress(p Progress) {
	e.mu.Lock()
	e.progress = p
	listeners := e.listeners
	e.mu.Unlock()

	for _, listener := range listeners {
		listener(p)
	}
}

func (e *Engine) setLastError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}
