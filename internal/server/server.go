// Package server exposes the tracker over HTTP and WebSocket: strategy
// lifecycle endpoints, the one-shot snapshot, notification history, and the
// live push feed.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kunalnaik/strikewatch/internal/server/handler"
	"github.com/kunalnaik/strikewatch/internal/server/middleware"
	"github.com/kunalnaik/strikewatch/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
}

// Handlers aggregates the HTTP handlers the server registers. Archive is
// optional; its routes are only registered when object storage is wired.
type Handlers struct {
	Health        *handler.HealthHandler
	Strategies    *handler.StrategyHandler
	Snapshot      *handler.SnapshotHandler
	Notifications *handler.NotificationsHandler
	Archive       *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain
// (auth, logging, CORS).
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/strategies", handlers.Strategies.Create)
	mux.HandleFunc("GET /api/strategies", handlers.Strategies.List)
	mux.HandleFunc("POST /api/strategies/preview", handlers.Strategies.Preview)
	mux.HandleFunc("GET /api/strategies/{id}", handlers.Strategies.Get)
	mux.HandleFunc("PUT /api/strategies/{id}", handlers.Strategies.Update)
	mux.HandleFunc("DELETE /api/strategies/{id}", handlers.Strategies.Remove)

	mux.HandleFunc("GET /api/snapshot", handlers.Snapshot.GetSnapshot)
	mux.HandleFunc("GET /api/stats", handlers.Snapshot.GetStats)
	mux.HandleFunc("GET /api/notifications", handlers.Notifications.ListRecent)

	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive", handlers.Archive.List)
		mux.HandleFunc("GET /api/archive/{key...}", handlers.Archive.Get)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start blocks serving requests until the server errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
