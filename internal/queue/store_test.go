package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"fairsync/internal/queue"
	"fairsync/internal/testsupport"
)

func TestEnqueueAssignsIdentityAndDefaults(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	item := testsupport.EnqueueCard(t, store, "evt-1", "Spring Fair")
	if item.ID == "" {
		t.Fatal("expected generated id")
	}
	if item.Status != queue.StatusPending {
		t.Fatalf("expected pending status, got %s", item.Status)
	}

	fetched, err := store.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected item to persist")
	}
	if fetched.EventName != "Spring Fair" {
		t.Fatalf("unexpected event name %q", fetched.EventName)
	}
	if len(fetched.ImageData) == 0 {
		t.Fatal("expected image payload to round-trip")
	}
	if fetched.Attempts != 0 {
		t.Fatalf("expected zero attempts, got %d", fetched.Attempts)
	}
}

func TestEnqueueValidatesPayload(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, err := store.EnqueueCard(ctx, queue.CardCapture{EventID: "evt"}); err == nil {
		t.Fatal("expected error for card without image")
	}
	if _, err := store.EnqueueScan(ctx, queue.QRScan{EventID: "evt"}); err == nil {
		t.Fatal("expected error for scan without token")
	}
	if _, err := store.EnqueueScan(ctx, queue.QRScan{Token: "tok"}); err == nil {
		t.Fatal("expected error for scan without event id")
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	item := testsupport.EnqueueScan(t, store, "evt-1", "token-abc")
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	fetched, err := reopened.GetByID(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("GetByID after reopen: %v", err)
	}
	if fetched == nil {
		t.Fatal("expected item to survive reopen")
	}
	if fetched.Token != "token-abc" {
		t.Fatalf("unexpected token %q", fetched.Token)
	}
}

func TestOpenDemotesInFlightItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueCard(t, store, "evt-1", "")
	if err := store.MarkInFlight(ctx, item.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	fetched, err := reopened.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != queue.StatusPending {
		t.Fatalf("expected in-flight item demoted to pending, got %s", fetched.Status)
	}
}

func TestNextPendingReturnsOldestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.EnqueueCard(t, store, "evt-1", "")
	second := testsupport.EnqueueScan(t, store, "evt-1", "tok-2")

	next, err := store.NextPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("expected oldest item %s first, got %+v", first.ID, next)
	}

	removed, err := store.MarkSynced(ctx, first.ID)
	if err != nil || !removed {
		t.Fatalf("MarkSynced: removed=%v err=%v", removed, err)
	}

	next, err = store.NextPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatalf("expected second item next, got %+v", next)
	}
}

func TestNextPendingHonorsRetryGate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueCard(t, store, "evt-1", "")
	if err := store.MarkInFlight(ctx, item.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	retryAt := time.Now().Add(time.Minute)
	if err := store.ScheduleRetry(ctx, item.ID, "upload timed out", retryAt); err != nil {
		t.Fatalf("ScheduleRetry: %v", err)
	}

	next, err := store.NextPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next != nil {
		t.Fatalf("expected retry gate to hide item, got %+v", next)
	}

	next, err = store.NextPending(ctx, retryAt.Add(time.Second))
	if err != nil {
		t.Fatalf("NextPending past gate: %v", err)
	}
	if next == nil || next.ID != item.ID {
		t.Fatalf("expected item deliverable past gate, got %+v", next)
	}
	if next.Attempts != 1 {
		t.Fatalf("expected one attempt recorded, got %d", next.Attempts)
	}
	if next.LastError != "upload timed out" {
		t.Fatalf("unexpected last error %q", next.LastError)
	}
}

func TestNextRetryAtReportsEarliestGate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	when, err := store.NextRetryAt(ctx)
	if err != nil {
		t.Fatalf("NextRetryAt: %v", err)
	}
	if when != nil {
		t.Fatalf("expected no gate on empty queue, got %v", when)
	}

	item := testsupport.EnqueueCard(t, store, "evt-1", "")
	if err := store.MarkInFlight(ctx, item.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	gate := time.Now().Add(30 * time.Second).UTC()
	if err := store.ScheduleRetry(ctx, item.ID, "boom", gate); err != nil {
		t.Fatalf("ScheduleRetry: %v", err)
	}

	when, err = store.NextRetryAt(ctx)
	if err != nil {
		t.Fatalf("NextRetryAt: %v", err)
	}
	if when == nil {
		t.Fatal("expected a retry gate")
	}
	if diff := when.Sub(gate); diff > time.Second || diff < -time.Second {
		t.Fatalf("gate drifted: want ~%v got %v", gate, when)
	}
}

func TestMarkInFlightRequiresPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueCard(t, store, "evt-1", "")
	if err := store.MarkInFlight(ctx, item.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := store.MarkInFlight(ctx, item.ID); !errors.Is(err, queue.ErrNotPending) {
		t.Fatalf("expected ErrNotPending on double claim, got %v", err)
	}
	if err := store.MarkInFlight(ctx, "missing"); !errors.Is(err, queue.ErrNotPending) {
		t.Fatalf("expected ErrNotPending for unknown id, got %v", err)
	}
}

func TestMarkSyncedIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueCard(t, store, "evt-1", "")
	removed, err := store.MarkSynced(ctx, item.ID)
	if err != nil || !removed {
		t.Fatalf("first MarkSynced: removed=%v err=%v", removed, err)
	}
	removed, err = store.MarkSynced(ctx, item.ID)
	if err != nil {
		t.Fatalf("second MarkSynced: %v", err)
	}
	if removed {
		t.Fatal("expected second MarkSynced to report nothing removed")
	}
}

func TestMarkFailedParksItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueCard(t, store, "evt-1", "")
	if err := store.MarkInFlight(ctx, item.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := store.MarkFailed(ctx, item.ID, "rejected by backend"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	fetched, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != queue.StatusFailed {
		t.Fatalf("expected failed status, got %s", fetched.Status)
	}
	if fetched.Attempts != 1 {
		t.Fatalf("expected attempts incremented, got %d", fetched.Attempts)
	}

	next, err := store.NextPending(ctx, time.Now())
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if next != nil {
		t.Fatalf("failed item must not be deliverable, got %+v", next)
	}
}

func TestRequeueDoesNotCountAttempt(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueCard(t, store, "evt-1", "")
	if err := store.MarkInFlight(ctx, item.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := store.Requeue(ctx, item.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	fetched, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != queue.StatusPending {
		t.Fatalf("expected pending after requeue, got %s", fetched.Status)
	}
	if fetched.Attempts != 0 {
		t.Fatalf("requeue must not consume the retry budget, got %d attempts", fetched.Attempts)
	}
}

func TestRequeueFailedResetsBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	item := testsupport.EnqueueCard(t, store, "evt-1", "")
	if err := store.MarkInFlight(ctx, item.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := store.MarkFailed(ctx, item.ID, "gave up"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	moved, err := store.RequeueFailed(ctx)
	if err != nil {
		t.Fatalf("RequeueFailed: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected one item requeued, got %d", moved)
	}

	fetched, err := store.GetByID(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched.Status != queue.StatusPending {
		t.Fatalf("expected pending, got %s", fetched.Status)
	}
	if fetched.Attempts != 0 {
		t.Fatalf("expected attempts reset, got %d", fetched.Attempts)
	}
	if fetched.LastError != "" {
		t.Fatalf("expected last error cleared, got %q", fetched.LastError)
	}
}

func TestCountsPartitionByKindAndStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.EnqueueCard(t, store, "evt-1", "")
	testsupport.EnqueueCard(t, store, "evt-1", "")
	scan := testsupport.EnqueueScan(t, store, "evt-1", "tok-1")
	failed := testsupport.EnqueueCard(t, store, "evt-2", "")

	if err := store.MarkInFlight(ctx, scan.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := store.MarkInFlight(ctx, failed.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := store.MarkFailed(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.PendingCards != 2 {
		t.Fatalf("expected 2 pending cards, got %d", counts.PendingCards)
	}
	if counts.PendingQR != 1 {
		t.Fatalf("expected 1 pending qr (in-flight counts), got %d", counts.PendingQR)
	}
	if counts.Failed != 1 {
		t.Fatalf("expected 1 failed, got %d", counts.Failed)
	}
	if counts.Total != 4 {
		t.Fatalf("expected total 4, got %d", counts.Total)
	}
	if counts.Pending() != 3 {
		t.Fatalf("expected combined pending 3, got %d", counts.Pending())
	}
}

func TestListFiltersByStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.EnqueueCard(t, store, "evt-1", "")
	b := testsupport.EnqueueScan(t, store, "evt-1", "tok")
	if err := store.MarkInFlight(ctx, b.ID); err != nil {
		t.Fatalf("MarkInFlight: %v", err)
	}
	if err := store.MarkFailed(ctx, b.ID, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 items, got %d", len(all))
	}

	failedOnly, err := store.List(ctx, queue.StatusFailed)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failedOnly) != 1 || failedOnly[0].ID != b.ID {
		t.Fatalf("unexpected failed listing %+v", failedOnly)
	}

	pendingOnly, err := store.List(ctx, queue.StatusPending)
	if err != nil {
		t.Fatalf("List pending: %v", err)
	}
	if len(pendingOnly) != 1 || pendingOnly[0].ID != a.ID {
		t.Fatalf("unexpected pending listing %+v", pendingOnly)
	}
}

func TestClearEmptiesQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.EnqueueCard(t, store, "evt-1", "")
	testsupport.EnqueueScan(t, store, "evt-1", "tok")

	removed, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts.Total != 0 {
		t.Fatalf("expected empty queue, got %d", counts.Total)
	}
}
