package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"fairsync/internal/config"
	"fairsync/internal/logging"
)

// HTTPDoer describes the HTTP client used for reachability probes.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Listener is invoked on every connectivity transition. It runs on the
// monitor goroutine, so implementations must not block.
type Listener func(online bool)

// Monitor probes the backend health endpoint on a fixed cadence and tracks
// whether the device currently has a usable path to the backend. Connectivity
// here means "the backend answered", not merely "an interface is up".
type Monitor struct {
	logger    *slog.Logger
	client    HTTPDoer
	probeURL  string
	interval  time.Duration
	timeout   time.Duration
	listeners []Listener

	mu      sync.Mutex
	online  bool
	known   bool
	lastAt  time.Time
	quit    chan struct{}
	running bool
}

// New creates a connectivity monitor for the configured backend. A nil client
// falls back to a plain http.Client with the probe timeout applied.
func New(cfg *config.Config, logger *slog.Logger, client HTTPDoer) *Monitor {
	interval := time.Duration(cfg.Network.ProbeInterval) * time.Second
	timeout := time.Duration(cfg.Network.ProbeTimeout) * time.Second
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	probeURL := strings.TrimRight(cfg.Backend.BaseURL, "/") + cfg.Backend.HealthPath

	return &Monitor{
		logger:   logging.NewComponentLogger(logger, "netmon"),
		client:   client,
		probeURL: probeURL,
		interval: interval,
		timeout:  timeout,
	}
}

// Subscribe registers a transition listener. Must be called before Start.
func (m *Monitor) Subscribe(listener Listener) {
	if m == nil || listener == nil {
		return
	}
	m.listeners = append(m.listeners, listener)
}

// Start begins the probe loop. An initial probe runs immediately so the
// daemon knows its connectivity state before the first tick.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.quit = make(chan struct{})
	m.running = true
	quit := m.quit
	m.mu.Unlock()

	m.CheckNow(ctx)
	go m.probeLoop(ctx, quit)

	m.logger.Info("connectivity monitor started",
		logging.String(logging.FieldEventType, "netmon_started"),
		logging.String("probe_url", m.probeURL),
		logging.Duration("interval", m.interval),
	)
	return nil
}

// Stop shuts down the probe loop.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	m.running = false

	m.logger.Info("connectivity monitor stopped",
		logging.String(logging.FieldEventType, "netmon_stopped"),
	)
}

// Running reports whether the probe loop is active.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Online reports the last observed connectivity state. Before the first
// probe completes the monitor assumes offline.
func (m *Monitor) Online() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.known && m.online
}

// LastProbe returns when the most recent probe completed.
func (m *Monitor) LastProbe() time.Time {
	if m == nil {
		return time.Time{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAt
}

// CheckNow performs a single probe outside the regular cadence and returns
// the resulting state. Used when a sync is requested while believed offline:
// the user gets a fresh answer instead of one up to a probe interval stale.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	online := m.probe(ctx)
	m.recordState(online)
	return online
}

func (m *Monitor) probeLoop(ctx context.Context, quit <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			return
		case <-ticker.C:
			m.recordState(m.probe(ctx))
		}
	}
}

// probe answers true when the backend responds at all. An HTTP error status
// still proves the network path works; only transport failures count as
// offline.
func (m *Monitor) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return true
}

func (m *Monitor) recordState(online bool) {
	m.mu.Lock()
	changed := !m.known || m.online != online
	m.online = online
	m.known = true
	m.lastAt = time.Now()
	listeners := m.listeners
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.logger.Info("connectivity restored",
			logging.String(logging.FieldEventType, "went_online"),
		)
	} else {
		m.logger.Info("connectivity lost",
			logging.String(logging.FieldEventType, "went_offline"),
			logging.String(logging.FieldImpact, "captures will queue until the backend is reachable"),
		)
	}

	for _, listener := range listeners {
		listener(online)
	}
}
