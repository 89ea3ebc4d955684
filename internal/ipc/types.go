package ipc

import (
	"path/filepath"

	"fairsync/internal/config"
)

// SocketPath returns the unix socket location for a configuration.
func SocketPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.DataDir, "fairsyncd.sock")
}

// StatusRequest asks for the daemon status surface.
type StatusRequest struct{}

// StatusResponse mirrors the daemon status snapshot over the wire.
type StatusResponse struct {
	Running      bool    `json:"running"`
	Online       bool    `json:"online"`
	PendingCards int     `json:"pending_cards"`
	PendingQR    int     `json:"pending_qr"`
	Failed       int     `json:"failed"`
	Syncing      bool    `json:"syncing"`
	Progress     float64 `json:"progress"`
	CurrentLabel string  `json:"current_label"`
	QueueDBPath  string  `json:"queue_db_path"`
	LockPath     string  `json:"lock_path"`
	LogPath      string  `json:"log_path"`
	APIAddress   string  `json:"api_address"`
}

// QueueItem is the wire form of a capture item (image payload excluded).
type QueueItem struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	EventID    string `json:"event_id"`
	EventName  string `json:"event_name,omitempty"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
	EnqueuedAt string `json:"enqueued_at"`
	RetryAt    string `json:"retry_at,omitempty"`
}

// QueueListRequest filters queue items by status names (empty means all).
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse carries the filtered queue contents.
type QueueListResponse struct {
	Items []QueueItem `json:"items"`
}

// QueueClearRequest purges the queue.
type QueueClearRequest struct{}

// QueueClearResponse reports how many items were removed.
type QueueClearResponse struct {
	Removed int64 `json:"removed"`
}

// QueueRetryRequest returns failed items to pending.
type QueueRetryRequest struct{}

// QueueRetryResponse reports how many items were requeued.
type QueueRetryResponse struct {
	Retried int64 `json:"retried"`
}

// SyncNowRequest asks for an immediate drain run.
type SyncNowRequest struct{}

// SyncNowResponse reports the connectivity verdict of the trigger.
type SyncNowResponse struct {
	Triggered bool `json:"triggered"`
	Online    bool `json:"online"`
}

// TestNotificationRequest sends a test push notification.
type TestNotificationRequest struct{}

// TestNotificationResponse reports the notification outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
