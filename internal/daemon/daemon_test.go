package daemon_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fairsync/internal/daemon"
	"fairsync/internal/logging"
	"fairsync/internal/status"
	"fairsync/internal/testsupport"
)

func TestDaemonEnforcesSingleInstance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(server.URL))
	cfg.Paths.APIBind = ""
	store := testsupport.MustOpenStore(t, cfg)

	first, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	if err := second.Start(ctx); err == nil {
		second.Stop()
		t.Fatal("expected second daemon start to fail while lock held")
	}

	first.Stop()
	if err := second.Start(ctx); err != nil {
		t.Fatalf("expected lock released after stop, got %v", err)
	}
	second.Stop()
}

func startDaemonWithAPI(t *testing.T, backendURL string, token string) (*daemon.Daemon, string) {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(backendURL))
	cfg.Paths.APIToken = token
	store := testsupport.MustOpenStore(t, cfg)

	d, err := daemon.New(cfg, store, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	addr := d.APIAddress()
	if addr == "" {
		t.Fatal("expected api server to be listening")
	}
	return d, "http://" + addr
}

func TestAPIEnqueueAndStatusWhileOffline(t *testing.T) {
	// A closed backend keeps the daemon offline so enqueued captures stay
	// visible in the counts.
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	_, base := startDaemonWithAPI(t, backend.URL, "")

	capture := map[string]string{
		"event_id":     "evt-1",
		"event_name":   "Spring Fair",
		"captured_at":  time.Now().Format(time.RFC3339),
		"image_base64": base64.StdEncoding.EncodeToString([]byte("jpeg")),
	}
	body, _ := json.Marshal(capture)
	resp, err := http.Post(base+"/api/captures", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/captures: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var enqueue struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&enqueue); err != nil {
		t.Fatalf("decode enqueue response: %v", err)
	}
	if enqueue.ID == "" || enqueue.Status != "pending" {
		t.Fatalf("unexpected enqueue response %+v", enqueue)
	}

	scan := map[string]string{
		"event_id": "evt-1",
		"token":    "qr-token",
	}
	body, _ = json.Marshal(scan)
	resp, err = http.Post(base+"/api/scans", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/scans: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	resp, err = http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	var snapshot status.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if snapshot.PendingCards != 1 || snapshot.PendingQR != 1 {
		t.Fatalf("unexpected counts %+v", snapshot)
	}
	if snapshot.Online {
		t.Fatal("expected offline with closed backend")
	}
}

func TestAPISyncTriggerAndQueueClear(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	backend.Close()

	_, base := startDaemonWithAPI(t, backend.URL, "")

	scan, _ := json.Marshal(map[string]string{"event_id": "evt", "token": "tok"})
	resp, err := http.Post(base+"/api/scans", "application/json", bytes.NewReader(scan))
	if err != nil {
		t.Fatalf("POST /api/scans: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Post(base+"/api/sync", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /api/sync: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var sync struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sync); err != nil {
		t.Fatalf("decode sync response: %v", err)
	}
	if sync.Online {
		t.Fatal("expected offline verdict from manual trigger")
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"/api/queue", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE /api/queue: %v", err)
	}
	defer resp.Body.Close()
	var clear struct {
		Removed int64 `json:"removed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&clear); err != nil {
		t.Fatalf("decode clear response: %v", err)
	}
	if clear.Removed != 1 {
		t.Fatalf("expected 1 removed, got %d", clear.Removed)
	}
}

func TestAPIRequiresBearerToken(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	_, base := startDaemonWithAPI(t, backend.URL, "secret")

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, base+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authorized GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	// Liveness stays open for local process supervisors.
	resp, err = http.Get(base + "/api/healthz")
	if err != nil {
		t.Fatalf("GET /api/healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected open healthz, got %d", resp.StatusCode)
	}
}

func TestOnlineDaemonDrainsCaptureAutomatically(t *testing.T) {
	delivered := make(chan string, 4)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			delivered <- r.URL.Path
		}
		fmt.Fprint(w, `{}`)
	}))
	defer backend.Close()

	_, base := startDaemonWithAPI(t, backend.URL, "")

	scan, _ := json.Marshal(map[string]string{"event_id": "evt-7", "token": "tok"})
	resp, err := http.Post(base+"/api/scans", "application/json", bytes.NewReader(scan))
	if err != nil {
		t.Fatalf("POST /api/scans: %v", err)
	}
	resp.Body.Close()

	select {
	case path := <-delivered:
		if path != "/api/events/evt-7/scans" {
			t.Fatalf("unexpected delivery path %q", path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("capture was never delivered to the backend")
	}
}
