package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server is the operator-facing HTTP API. Dashboard rendering and push
// transport live outside this process; this only exposes the engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New registers all routes and returns a server listening on the given port.
func New(port int, h *Handler, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.health)
	mux.HandleFunc("GET /api/prices", h.listPrices)
	mux.HandleFunc("GET /api/balances", h.listBalances)
	mux.HandleFunc("GET /api/opportunities", h.listOpportunities)
	mux.HandleFunc("POST /api/trade", h.executeTrade)
	mux.HandleFunc("POST /api/autotrade", h.setAutoTrading)
	mux.HandleFunc("GET /api/trades", h.listTrades)
	mux.HandleFunc("GET /api/stats", h.tradeStats)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
