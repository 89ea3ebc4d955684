package status

import (
	"context"
	"log/slog"
	"sync"

	"fairsync/internal/logging"
	"fairsync/internal/queue"
	"fairsync/internal/syncer"
)

// SyncState is the live view of the sync engine within a snapshot.
type SyncState struct {
	Active       bool    `json:"is_syncing"`
	Total        int     `json:"total"`
	Completed    int     `json:"completed"`
	Percent      float64 `json:"progress"`
	CurrentLabel string  `json:"current_card"`
	CurrentKind  string  `json:"current_kind,omitempty"`
}

// Snapshot is the status surface consumed by the UI banner and the CLI.
type Snapshot struct {
	PendingCards int       `json:"pending_count"`
	PendingQR    int       `json:"pending_qr_count"`
	Failed       int       `json:"failed_count"`
	Online       bool      `json:"online"`
	Sync         SyncState `json:"sync_status"`
}

// Connectivity is the slice of the network monitor the reporter needs.
type Connectivity interface {
	Online() bool
}

// Listener receives a fresh snapshot whenever sync progress changes.
type Listener func(Snapshot)

// Reporter derives status snapshots from the store, the sync engine, and
// the network monitor. Counts always come straight from the store so the
// surface cannot drift from what is actually persisted.
type Reporter struct {
	store  *queue.Store
	engine *syncer.Engine
	net    Connectivity
	logger *slog.Logger

	mu        sync.Mutex
	listeners []Listener
}

// NewReporter wires a reporter to a daemon session's components.
func NewReporter(store *queue.Store, engine *syncer.Engine, net Connectivity, logger *slog.Logger) *Reporter {
	return &Reporter{
		store:  store,
		engine: engine,
		net:    net,
		logger: logging.NewComponentLogger(logger, "status"),
	}
}

// Subscribe registers a snapshot listener. The engine's progress events are
// rebroadcast as full snapshots; register before the engine starts.
func (r *Reporter) Subscribe(listener Listener) {
	if r == nil || listener == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, listener)
	r.mu.Unlock()
}

// BindEngine attaches the reporter to engine progress events. Call once
// during daemon wiring, before the engine starts.
func (r *Reporter) BindEngine() {
	r.engine.AddListener(func(p syncer.Progress) {
		snapshot, err := r.Snapshot(context.Background())
		if err != nil {
			r.logger.Warn("snapshot for progress event failed", logging.Error(err))
			return
		}
		r.broadcast(snapshot)
	})
}

// Snapshot assembles the current status surface.
func (r *Reporter) Snapshot(ctx context.Context) (Snapshot, error) {
	counts, err := r.store.Counts(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	progress := r.engine.Status()
	return Snapshot{
		PendingCards: counts.PendingCards,
		PendingQR:    counts.PendingQR,
		Failed:       counts.Failed,
		Online:       r.net.Online(),
		Sync: SyncState{
			Active:       progress.Syncing,
			Total:        progress.Total,
			Completed:    progress.Completed,
			Percent:      progress.Percent(),
			CurrentLabel: progress.CurrentLabel,
			CurrentKind:  string(progress.CurrentKind),
		},
	}, nil
}

// TriggerSync asks the engine for a drain run. Safe to call at any time;
// a request during an active run coalesces into it.
func (r *Reporter) TriggerSync() {
	r.engine.Trigger()
}

// ClearAll purges the queue. An active sync run notices the empty queue and
// winds down on its own.
func (r *Reporter) ClearAll(ctx context.Context) (int64, error) {
	removed, err := r.store.Clear(ctx)
	if err != nil {
		return 0, err
	}
	r.logger.Info("queue purged",
		logging.String(logging.FieldEventType, "queue_cleared"),
		logging.Int64("removed", removed),
	)
	return removed, nil
}

// RetryFailed returns failed items to pending and nudges the engine.
func (r *Reporter) RetryFailed(ctx context.Context) (int64, error) {
	moved, err := r.store.RequeueFailed(ctx)
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		r.engine.Trigger()
	}
	return moved, nil
}

func (r *Reporter) broadcast(snapshot Snapshot) {
	r.mu.Lock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.Unlock()

	for _, listener := range listeners {
		listener(snapshot)
	}
}
