package testsupport

import (
	"context"
	"testing"
	"time"

	"fairsync/internal/config"
	"fairsync/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// EnqueueCard inserts a pending card capture for tests using the provided store.
func EnqueueCard(t testing.TB, store *queue.Store, eventID, eventName string) *queue.Item {
	t.Helper()

	item, err := store.EnqueueCard(context.Background(), queue.CardCapture{
		EventID:    eventID,
		EventName:  eventName,
		CapturedAt: time.Now().UTC(),
		Image:      []byte("fake-jpeg-bytes"),
		DeviceMeta: "test-device",
	})
	if err != nil {
		t.Fatalf("store.EnqueueCard: %v", err)
	}
	return item
}

// EnqueueScan inserts a pending QR scan for tests using the provided store.
func EnqueueScan(t testing.TB, store *queue.Store, eventID, token string) *queue.Item {
	t.Helper()

	item, err := store.EnqueueScan(context.Background(), queue.QRScan{
		EventID:    eventID,
		CapturedAt: time.Now().UTC(),
		Token:      token,
	})
	if err != nil {
		t.Fatalf("store.EnqueueScan: %v", err)
	}
	return item
}
