// Package server assembles the HTTP API: public prediction reads, the
// bet mirror, the WebSocket stream, and the wallet-gated admin surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bnbpools/poolctl/internal/domain"
	"github.com/bnbpools/poolctl/internal/server/handler"
	"github.com/bnbpools/poolctl/internal/server/middleware"
	"github.com/bnbpools/poolctl/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health      *handler.HealthHandler
	Predictions *handler.PredictionHandler
	Admin       *handler.AdminHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered. Admin routes sit
// behind the wallet-signature gate; everything else is public.
func New(cfg Config, handlers Handlers, gate domain.AdminGate, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Public prediction surface.
	mux.HandleFunc("GET /api/predictions", handlers.Predictions.List)
	mux.HandleFunc("GET /api/predictions/{id}", handlers.Predictions.Get)
	mux.HandleFunc("GET /api/predictions/{id}/settlement", handlers.Predictions.Settlement)
	mux.HandleFunc("GET /api/predictions/{id}/claims/{wallet}", handlers.Predictions.Claims)
	mux.HandleFunc("GET /api/predictions/{id}/bets", handlers.Predictions.ListBets)
	mux.HandleFunc("POST /api/predictions/{id}/bets", handlers.Predictions.PlaceBet)

	// WebSocket event stream.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Admin surface on its own mux so the auth middleware wraps only it.
	admin := http.NewServeMux()
	admin.HandleFunc("POST /api/admin/predictions", handlers.Admin.Create)
	admin.HandleFunc("PUT /api/admin/predictions/{id}", handlers.Admin.Update)
	admin.HandleFunc("DELETE /api/admin/predictions/{id}", handlers.Admin.Delete)
	admin.HandleFunc("POST /api/admin/predictions/{id}/deploy", handlers.Admin.Deploy)
	admin.HandleFunc("POST /api/admin/predictions/{id}/stop", handlers.Admin.Stop)
	admin.HandleFunc("POST /api/admin/predictions/{id}/resume", handlers.Admin.Resume)
	admin.HandleFunc("POST /api/admin/predictions/{id}/close", handlers.Admin.Close)
	admin.HandleFunc("POST /api/admin/predictions/{id}/reopen", handlers.Admin.Reopen)
	admin.HandleFunc("POST /api/admin/predictions/{id}/winner", handlers.Admin.SetWinner)
	admin.HandleFunc("POST /api/admin/predictions/{id}/cancel", handlers.Admin.Cancel)
	admin.HandleFunc("POST /api/admin/predictions/{id}/recover", handlers.Admin.Recover)
	admin.HandleFunc("GET /api/admin/operations/{id}", handlers.Admin.GetOperation)
	admin.HandleFunc("GET /api/admin/actions", handlers.Admin.ListActions)
	mux.Handle("/api/admin/", middleware.AdminAuth(gate)(admin))

	var h http.Handler = mux
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

// Start begins listening. It blocks until the server errors or is shut
// down.
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
