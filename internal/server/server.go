// Package server contains the orchestrator's admin HTTP API.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/server/handlers"
	"github.com/Git-Ansh/crypto-trading-platform-sub002/internal/server/middleware"
)

// Server is the HTTP server for the admin API.
type Server struct {
	httpServer *http.Server
}

// New creates the admin server. metricsHandler serves /metrics and may be
// nil in tests; an empty adminKeyHash leaves the operator triggers open.
func New(addr string, svc handlers.Orchestrator, metricsHandler http.Handler, adminKeyHash string) *Server {
	h := handlers.New(svc)
	limited := middleware.RateLimit(10, 20)
	keyed := middleware.AdminKey(adminKeyHash)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Healthz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Provisioning surface, called by the platform's service layer.
	mux.HandleFunc("POST /pools/allocate", h.AllocateBot)
	mux.HandleFunc("DELETE /bots/{id}", h.ReleaseBot)
	mux.HandleFunc("GET /bots/{id}/placement", h.ResolveBot)
	mux.HandleFunc("GET /tenants/{id}/pools", h.ListPools)

	// Operator triggers.
	mux.Handle("POST /admin/health-check", keyed(limited(http.HandlerFunc(h.TriggerHealthSweep))))
	mux.Handle("POST /admin/reconcile", keyed(limited(http.HandlerFunc(h.TriggerReconcile))))

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}
}

// Run starts the HTTP server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
