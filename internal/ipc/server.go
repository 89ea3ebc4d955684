package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"fairsync/internal/daemon"
	"fairsync/internal/logging"
	"fairsync/internal/queue"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName("Fairsync", svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status, err := s.daemon.Status(s.ctx)
	if err != nil {
		return err
	}
	resp.Running = status.Running
	resp.Online = status.Snapshot.Online
	resp.PendingCards = status.Snapshot.PendingCards
	resp.PendingQR = status.Snapshot.PendingQR
	resp.Failed = status.Snapshot.Failed
	resp.Syncing = status.Snapshot.Sync.Active
	resp.Progress = status.Snapshot.Sync.Percent
	resp.CurrentLabel = status.Snapshot.Sync.CurrentLabel
	resp.QueueDBPath = status.QueueDBPath
	resp.LockPath = status.LockFilePath
	resp.LogPath = status.LogPath
	resp.APIAddress = status.APIAddress
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	var statuses []queue.Status
	for _, value := range req.Statuses {
		parsed, ok := queue.ParseStatus(value)
		if !ok {
			return fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, parsed)
	}

	items, err := s.daemon.ListQueue(s.ctx, statuses)
	if err != nil {
		return err
	}
	resp.Items = make([]QueueItem, 0, len(items))
	for _, item := range items {
		wire := QueueItem{
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
			wire.RetryAt = item.RetryAt.Format(time.RFC3339)
		}
		resp.Items = append(resp.Items, wire)
	}
	return nil
}

func (s *service) QueueClear(_ QueueClearRequest, resp *QueueClearResponse) error {
	removed, err := s.daemon.ClearQueue(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.logger.Info("queue cleared via IPC",
		logging.String(logging.FieldEventType, "queue_clear"),
		logging.Int64("removed", removed))
	return nil
}

func (s *service) QueueRetry(_ QueueRetryRequest, resp *QueueRetryResponse) error {
	retried, err := s.daemon.RetryFailed(s.ctx)
	if err != nil {
		return err
	}
	resp.Retried = retried
	return nil
}

func (s *service) SyncNow(_ SyncNowRequest, resp *SyncNowResponse) error {
	resp.Online = s.daemon.TriggerSync(s.ctx)
	resp.Triggered = true
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	resp.Sent = sent
	resp.Message = message
	if err != nil {
		resp.Message = fmt.Sprintf("%s: %v", message, err)
	}
	return nil
}
