package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"fairsync/internal/config"
	"fairsync/internal/logging"
	"fairsync/internal/queue"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

type captureRequest struct {
	EventID     string `json:"event_id"`
	EventName   string `json:"event_name"`
	CapturedAt  string `json:"captured_at"`
	ImageBase64 string `json:"image_base64"`
	DeviceMeta  string `json:"device_meta"`
}

type scanRequest struct {
	EventID    string `json:"event_id"`
	EventName  string `json:"event_name"`
	CapturedAt string `json:"captured_at"`
	Token      string `json:"token"`
}

type enqueueResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	EnqueuedAt string `json:"enqueued_at"`
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/captures", authMiddleware(token, srv.handleCaptures))
	mux.HandleFunc("/api/scans", authMiddleware(token, srv.handleScans))
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/sync", authMiddleware(token, srv.handleSync))
	mux.HandleFunc("/api/queue", authMiddleware(token, srv.handleQueue))
	mux.HandleFunc("/api/healthz", srv.handleHealthz)

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleCaptures enqueues a card capture. The write is synchronous so the UI
// can show "saved" truthfully; delivery happens in the background.
func (s *apiServer) handleCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid image encoding")
		return
	}

	item, err := s.daemon.store.EnqueueCard(r.Context(), queue.CardCapture{
		EventID:    req.EventID,
		EventName:  req.EventName,
		CapturedAt: parseCapturedAt(req.CapturedAt),
		Image:      image,
		DeviceMeta: req.DeviceMeta,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.nudgeSync()
	s.writeJSON(w, http.StatusAccepted, enqueueResponse{
		ID:         item.ID,
		Status:     string(item.Status),
		EnqueuedAt: item.EnqueuedAt.Format(time.RFC3339),
	})
}

// handleScans enqueues a QR scan.
func (s *apiServer) handleScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := s.daemon.store.EnqueueScan(r.Context(), queue.QRScan{
		EventID:    req.EventID,
		EventName:  req.EventName,
		CapturedAt: parseCapturedAt(req.CapturedAt),
		Token:      req.Token,
	})
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.nudgeSync()
	s.writeJSON(w, http.StatusAccepted, enqueueResponse{
		ID:         item.ID,
		Status:     string(item.Status),
		EnqueuedAt: item.EnqueuedAt.Format(time.RFC3339),
	})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	snapshot, err := s.daemon.reporter.Snapshot(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *apiServer) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	online := s.daemon.TriggerSync(r.Context())
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"online": online})
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodDelete:
		removed, err := s.daemon.ClearQueue(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
	case http.MethodGet:
		var statuses []queue.Status
		for _, value := range r.URL.Query()["status"] {
			if parsed, ok := queue.ParseStatus(value); ok {
				statuses = append(statuses, parsed)
			}
		}
		items, err := s.daemon.ListQueue(r.Context(), statuses)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"items": toQueueViews(items)})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// queueItemView is the wire form of a queue item, without image payloads.
type queueItemView struct {
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

func toQueueViews(items []*queue.Item) []queueItemView {
	views := make([]queueItemView, 0, len(items))
	for _, item := range items {
		view := queueItemView{
			ID:         item.ID,
			Kind:       string(item.Kind),
			EventID:    item.EventID,
			EventName:  item.EventName,
			Status:     string(item.Status),
			Attempts:   item.Attempts,
			LastError:  item.LastError,
			EnqueuedAt: item.EnqueuedAt.Format(time.RFC3339),
		}
		if item.RetryAt != nil {
			view.RetryAt = item.RetryAt.Format(time.RFC3339)
		}
		views = append(views, view)
	}
	return views
}

// nudgeSync triggers a drain after an enqueue when the daemon believes it is
// online, so captures taken with connectivity upload immediately.
func (s *apiServer) nudgeSync() {
	if s.daemon.monitor.Online() {
		s.daemon.engine.Trigger()
	}
}

func parseCapturedAt(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
