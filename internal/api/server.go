// Package api exposes the conversation core over HTTP.
//
// Endpoints:
//
//	POST   /api/chat                        synchronous completion (flow handler)
//	POST   /api/chat/stream                 streaming completion (SSE)
//	POST   /api/conversations               create conversation
//	GET    /api/conversations               list conversations
//	GET    /api/conversations/{id}/history  transcript
//	GET    /api/conversations/{id}/busy     lock probe
//	DELETE /api/conversations/{id}          deactivate one
//	DELETE /api/conversations               deactivate all
//	GET    /health, /ready                  probes
//
// Authentication is out of scope here: the deployment fronts this server
// with a proxy that authenticates and sets the X-Owner-ID header.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/parley/internal/chat"
)

const (
	// ShutdownTimeout is the maximum wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads (Slowloris).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading a request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is generous because streams write for a while.
	WriteTimeout = 10 * time.Minute

	// IdleTimeout bounds keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the conversation API.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(orchestrator *chat.Orchestrator, flow *chat.Flow, pool *pgxpool.Pool, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	s := &Server{mux: mux, logger: logger}

	NewHealthHandler(pool, logger).RegisterRoutes(mux)
	NewConversationHandler(orchestrator, logger).RegisterRoutes(mux)
	NewChatHandler(flow, logger).RegisterRoutes(mux)
	return s
}

// Handler returns the handler with middleware applied, recovery outermost.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, s.recoveryMiddleware, s.loggingMiddleware)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
