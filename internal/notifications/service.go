package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fairsync/internal/config"
	"fairsync/internal/queue"
)

const userAgent = "Fairsync-Go/0.1.0"

// Service defines the notification surface exposed to sync components.
type Service interface {
	NotifySyncCompleted(ctx context.Context, processed, failed int, duration time.Duration) error
	NotifyItemStuck(ctx context.Context, item *queue.Item) error
	NotifyBacklogGrowing(ctx context.Context, pending, threshold int) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		syncOutcomes: cfg.Notifications.SyncOutcomes,
		stuckItems:   cfg.Notifications.StuckItems,
		backlog:      cfg.Notifications.Backlog,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint     string
	client       *http.Client
	syncOutcomes bool
	stuckItems   bool
	backlog      bool
}

func (n *ntfyService) NotifySyncCompleted(ctx context.Context, processed, failed int, duration time.Duration) error {
	if !n.syncOutcomes {
		return nil
	}

	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}
	durationText := duration.String()
	if duration == 0 {
		durationText = "0s"
	}

	var title string
	var message string
	if failed == 0 {
		title = "Fairsync - Sync Complete"
		message = fmt.Sprintf("Queue drained: %d items uploaded in %s", processed, durationText)
	} else {
		title = "Fairsync - Sync Complete (with errors)"
		message = fmt.Sprintf("Queue drained: %d uploaded, %d failed in %s", processed, failed, durationText)
	}

	return n.send(ctx, payload{
		title:   title,
		message: message,
		tags:    []string{"fairsync", "sync", "completed"},
	})
}

func (n *ntfyService) NotifyItemStuck(ctx context.Context, item *queue.Item) error {
	if !n.stuckItems || item == nil {
		return nil
	}

	message := fmt.Sprintf("Capture stuck after %d attempts: %s (%s)", item.Attempts, item.Label(), item.Kind)
	if reason := strings.TrimSpace(item.LastError); reason != "" {
		message = fmt.Sprintf("%s\nLast error: %s", message, reason)
	}

	return n.send(ctx, payload{
		title:    "Fairsync - Capture Stuck",
		message:  message,
		tags:     []string{"fairsync", "stuck", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyBacklogGrowing(ctx context.Context, pending, threshold int) error {
	if !n.backlog {
		return nil
	}

	return n.send(ctx, payload{
		title:    "Fairsync - Backlog Growing",
		message:  fmt.Sprintf("Offline backlog has reached %d captures (threshold %d)\nCheck connectivity before the event ends", pending, threshold),
		tags:     []string{"fairsync", "backlog", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Fairsync - Test",
		message:  "Notification system test",
		tags:     []string{"fairsync", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifySyncCompleted(context.Context, int, int, time.Duration) error { return nil }
func (noopService) NotifyItemStuck(context.Context, *queue.Item) error                 { return nil }
func (noopService) NotifyBacklogGrowing(context.Context, int, int) error               { return nil }
func (noopService) TestNotification(context.Context) error                             { return nil }
