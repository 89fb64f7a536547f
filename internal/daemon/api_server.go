package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dropwatch/internal/api"
	"dropwatch/internal/logging"
	"dropwatch/internal/tracking"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind, token string, d *Daemon, logger *slog.Logger) *apiServer {
	bind = strings.TrimSpace(bind)
	if d == nil || bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.handler = srv.routes(token)
	srv.server = &http.Server{
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(corsMiddleware())
	r.Use(newRateLimiter(clientRate, clientBurst, s.logger).handler)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.daemon.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware(token))
		r.Get("/status", s.handleStatus)
		r.Get("/settings", s.handleSettings)
		r.Get("/files", s.handleListFiles)
		r.Delete("/files", s.handleClearFiles)
		r.Get("/files/{name}", s.handleGetFile)
		r.Post("/files/{name}/retry", s.handleRetry)
		r.Post("/files/{name}/rename", s.handleRename)
		r.Post("/sweep", s.handleSweep)
		r.Post("/resync", s.handleResync)
		r.Post("/notifications/test", s.handleTestNotification)
	})
	return r
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
		s.stop()
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.String(logging.FieldEventType, "api_started"),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.WithContext(r.Context(), s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("duration", time.Since(started)),
		)
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.daemon.Stats(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.StatusDTO(r.Context()))
}

func (s *apiServer) handleSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.daemon.Settings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FromSettings(settings))
}

func (s *apiServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	var statuses []tracking.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := tracking.ParseStatus(part)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			statuses = append(statuses, status)
		}
	}
	files, err := s.daemon.ListFiles(r.Context(), statuses)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	stats, err := s.daemon.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FileListResponse{Files: api.FromFiles(files), Counts: api.MergeStats(stats)})
}

func (s *apiServer) handleGetFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.daemon.GetFile(r.Context(), pathName(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.FileResponse{File: api.FromFile(*file)})
}

func (s *apiServer) handleClearFiles(w http.ResponseWriter, r *http.Request) {
	removed, err := s.daemon.Clear(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ClearResponse{Removed: removed})
}

func (s *apiServer) handleRetry(w http.ResponseWriter, r *http.Request) {
	name := pathName(r)
	target, err := s.daemon.Retry(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, api.ActionResponse{Name: name, Target: target, Message: "moved back to import"})
}

func (s *apiServer) handleRename(w http.ResponseWriter, r *http.Request) {
	var req api.RenameRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := pathName(r)
	target, err := s.daemon.Rename(r.Context(), name, req.NewName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, api.ActionResponse{Name: name, Target: target, Message: "renamed and moved back to import"})
}

func (s *apiServer) handleSweep(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.SweepDTO(r.Context()))
}

func (s *apiServer) handleResync(w http.ResponseWriter, _ *http.Request) {
	s.daemon.Resync()
	writeJSON(w, http.StatusAccepted, api.ActionResponse{Message: "resync requested"})
}

func (s *apiServer) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	sent, message, err := s.daemon.TestNotification(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("%s: %v", message, err))
		return
	}
	status := http.StatusOK
	if !sent {
		status = http.StatusConflict
	}
	writeJSON(w, status, api.ActionResponse{Message: message})
}

// fail maps domain errors to status codes and logs everything else.
func (s *apiServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tracking.ErrNotFound), errors.Is(err, ErrNotInFailed):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTargetExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		logging.WithContext(r.Context(), s.logger).Error("api request failed",
			logging.String("path", r.URL.Path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_request_failed"),
		)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathName(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
