package netmon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"fairsync/internal/logging"
	"fairsync/internal/netmon"
	"fairsync/internal/testsupport"
)

func TestCheckNowReportsReachableBackend(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/healthz" {
			t.Errorf("unexpected probe path %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(server.URL))
	monitor := netmon.New(cfg, logging.NewNop(), nil)

	if !monitor.CheckNow(context.Background()) {
		t.Fatal("expected backend to be reachable")
	}
	if !monitor.Online() {
		t.Fatal("expected online state after successful probe")
	}
}

func TestErrorStatusStillCountsAsOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(server.URL))
	monitor := netmon.New(cfg, logging.NewNop(), nil)

	if !monitor.CheckNow(context.Background()) {
		t.Fatal("a responding backend proves the network path works")
	}
}

func TestUnreachableBackendIsOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(server.URL))
	monitor := netmon.New(cfg, logging.NewNop(), nil)

	if monitor.CheckNow(context.Background()) {
		t.Fatal("expected closed server to read as offline")
	}
	if monitor.Online() {
		t.Fatal("expected offline state")
	}
}

func TestListenersFireOnTransitionsOnly(t *testing.T) {
	var healthy atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(server.URL))

	var transitions []bool
	monitor := netmon.New(cfg, logging.NewNop(), &flakyDoer{healthy: &healthy})
	monitor.Subscribe(func(online bool) {
		transitions = append(transitions, online)
	})

	ctx := context.Background()

	healthy.Store(false)
	monitor.CheckNow(ctx)
	monitor.CheckNow(ctx)

	healthy.Store(true)
	monitor.CheckNow(ctx)

	healthy.Store(false)
	monitor.CheckNow(ctx)

	want := []bool{false, true, false}
	if len(transitions) != len(want) {
		t.Fatalf("expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d: want %v got %v", i, want[i], transitions[i])
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(server.URL))
	monitor := netmon.New(cfg, logging.NewNop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := monitor.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !monitor.Running() {
		t.Fatal("expected monitor running")
	}
	if !monitor.Online() {
		t.Fatal("expected initial probe to run on start")
	}

	monitor.Stop()
	if monitor.Running() {
		t.Fatal("expected monitor stopped")
	}
	monitor.Stop()
}

type flakyDoer struct {
	healthy *atomic.Bool
}

func (d *flakyDoer) Do(req *http.Request) (*http.Response, error) {
	if !d.healthy.Load() {
		return nil, http.ErrHandlerTimeout
	}
	return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
}
