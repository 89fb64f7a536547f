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
	"strings"
	"sync"
	"time"

	"dropwatch/internal/api"
	"dropwatch/internal/daemon"
	"dropwatch/internal/logging"
	"dropwatch/internal/tracking"
)

const serviceName = "Dropwatch"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server
	svc       *service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. A stale
// socket file at path is removed first.
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

	componentLogger := logging.NewComponentLogger(logger, "ipc")
	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: componentLogger, ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    componentLogger,
		listener:  listener,
		rpcServer: rpcServer,
		svc:       svc,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// OnStop registers fn to run after a Stop request has stopped the daemon.
// The daemon runner uses it to end the process.
func (s *Server) OnStop(fn func()) {
	s.svc.mu.Lock()
	s.svc.onStop = fn
	s.svc.mu.Unlock()
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
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "CLI commands may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				time.Sleep(50 * time.Millisecond)
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

// Close stops the server and removes the socket file. Connected clients are
// served until they hang up.
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
			logging.String(logging.FieldImpact, "stale socket is replaced on next start"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context

	mu     sync.Mutex
	onStop func()
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.daemon.StatusDTO(s.ctx)
	return nil
}

func (s *service) FilesList(req FilesListRequest, resp *FilesListResponse) error {
	statuses := make([]tracking.Status, 0, len(req.Statuses))
	for _, value := range req.Statuses {
		if strings.TrimSpace(value) == "" {
			continue
		}
		status, ok := tracking.ParseStatus(value)
		if !ok {
			return fmt.Errorf("unknown status %q", value)
		}
		statuses = append(statuses, status)
	}
	files, err := s.daemon.ListFiles(s.ctx, statuses)
	if err != nil {
		return err
	}
	stats, err := s.daemon.Stats(s.ctx)
	if err != nil {
		return err
	}
	resp.Files = api.FromFiles(files)
	resp.Counts = api.MergeStats(stats)
	return nil
}

func (s *service) FileDescribe(req FileDescribeRequest, resp *FileDescribeResponse) error {
	file, err := s.daemon.GetFile(s.ctx, req.Name)
	if err != nil {
		if errors.Is(err, tracking.ErrNotFound) {
			return fmt.Errorf("no record for %q", req.Name)
		}
		return err
	}
	resp.File = api.FromFile(*file)
	return nil
}

func (s *service) Clear(_ ClearRequest, resp *ClearResponse) error {
	s.logger.Debug("record clear requested")
	removed, err := s.daemon.Clear(s.ctx)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) Retry(req RetryRequest, resp *MoveResponse) error {
	target, err := s.daemon.Retry(s.ctx, req.Name)
	if err != nil {
		return err
	}
	resp.Target = target
	return nil
}

func (s *service) Rename(req RenameRequest, resp *MoveResponse) error {
	target, err := s.daemon.Rename(s.ctx, req.Name, req.NewName)
	if err != nil {
		return err
	}
	resp.Target = target
	return nil
}

func (s *service) Sweep(_ SweepRequest, resp *SweepResponse) error {
	resp.Result = s.daemon.SweepDTO(s.ctx)
	return nil
}

func (s *service) Resync(_ ResyncRequest, resp *ResyncResponse) error {
	s.daemon.Resync()
	resp.Requested = true
	return nil
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, message, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	resp.Sent = sent
	resp.Message = message
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop_requested"))
	s.daemon.Stop()
	resp.Stopped = true

	s.mu.Lock()
	onStop := s.onStop
	s.mu.Unlock()
	if onStop != nil {
		onStop()
	}
	return nil
}
