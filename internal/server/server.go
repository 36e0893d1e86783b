package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/handiism/pixiv-downloader/internal/config"
	"github.com/handiism/pixiv-downloader/internal/progress"
	"github.com/handiism/pixiv-downloader/internal/service"
)

// Server serves the download API.
type Server struct {
	svc      *service.Service
	progress *progress.Broadcaster
	settings *config.Live
	logger   *slog.Logger
}

// New creates a Server.
func New(svc *service.Service, broadcaster *progress.Broadcaster, settings *config.Live, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, progress: broadcaster, settings: settings, logger: logger}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/downloads/artwork", s.handleDownloadArtwork)
	mux.HandleFunc("POST /api/downloads/multiple", s.handleDownloadMultiple)
	mux.HandleFunc("POST /api/downloads/artist", s.handleDownloadArtist)
	mux.HandleFunc("POST /api/downloads/ranking", s.handleDownloadRanking)

	mux.HandleFunc("GET /api/tasks", s.handleTasks)
	mux.HandleFunc("GET /api/tasks/active", s.handleActiveTasks)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleTask)
	mux.HandleFunc("POST /api/tasks/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/tasks/{id}/resume", s.handleResume)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/tasks/{id}/stream", s.handleStream)
	mux.HandleFunc("GET /api/history", s.handleHistory)

	mux.HandleFunc("GET /api/registry/stats", s.handleRegistryStats)
	mux.HandleFunc("GET /api/registry/export", s.handleRegistryExport)
	mux.HandleFunc("POST /api/registry/import", s.handleRegistryImport)
	mux.HandleFunc("POST /api/registry/rebuild", s.handleRegistryRebuild)
	mux.HandleFunc("POST /api/registry/cleanup", s.handleRegistryCleanup)
	mux.HandleFunc("POST /api/registry/migrate", s.handleRegistryMigrate)
	mux.HandleFunc("GET /api/registry/compare", s.handleRegistryCompare)

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// ListenAndServe serves on addr until ctx is done. An empty addr uses the
// configured listen address.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if addr == "" {
		addr = s.settings.Get().ListenAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server shutdown", "error", err)
		}
	})
	defer stop()

	s.logger.Info("server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
