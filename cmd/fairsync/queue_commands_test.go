package main

import (
	"reflect"
	"strings"
	"testing"

	"fairsync/internal/ipc"
)

func TestSplitStatuses(t *testing.T) {
	if got := splitStatuses(""); got != nil {
		t.Errorf("expected nil for empty filter, got %v", got)
	}
	got := splitStatuses(" pending, failed ,,inflight")
	want := []string{"pending", "failed", "inflight"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitStatuses = %v, want %v", got, want)
	}
}

func TestRenderQueueTable(t *testing.T) {
	items := []ipc.QueueItem{
		{
			ID:         "0c9f2a41-8a1e-4f0e-9f4e-1d2c3b4a5e6f",
			Kind:       "card",
			EventID:    "evt-1",
			EventName:  "Spring Career Fair",
			Status:     "pending",
			Attempts:   2,
			LastError:  "POST /cards: status 503",
			EnqueuedAt: "2026-03-14T09:30:00Z",
		},
		{
			ID:         "aa11bb22-0000-0000-0000-000000000000",
			Kind:       "qr",
			EventID:    "evt-1",
			Status:     "failed",
			Attempts:   5,
			EnqueuedAt: "not-a-timestamp",
		},
	}

	rendered := renderQueueTable(items)
	for _, want := range []string{"0c9f2a41", "Spring Career Fair", "pending", "aa11bb22", "evt-1", "not-a-timestamp"} {
		if !strings.Contains(rendered, want) {
			t.Errorf("expected rendered table to contain %q:\n%s", want, rendered)
		}
	}
	if strings.Contains(rendered, "0c9f2a41-8a1e") {
		t.Error("expected IDs to be shortened in table output")
	}
}

func TestTruncateError(t *testing.T) {
	short := "connection refused"
	if got := truncateError(short); got != short {
		t.Errorf("short error modified: %q", got)
	}
	long := strings.Repeat("x", 100)
	got := truncateError(long)
	if len(got) != 48 || !strings.HasSuffix(got, "...") {
		t.Errorf("expected 48-char truncation with ellipsis, got %q (len %d)", got, len(got))
	}
}

func TestQueueClearRequiresForce(t *testing.T) {
	_, err := runCommand(t, "queue", "clear", "--socket", "/nonexistent/fairsyncd.sock")
	if err == nil {
		t.Fatal("expected error without --force")
	}
	if !strings.Contains(err.Error(), "--force") {
		t.Errorf("expected confirmation hint, got %v", err)
	}
}
