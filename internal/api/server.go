package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonesrussell/marketpulse/internal/logger"
)

// Default timeout values for the HTTP server.
const (
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 30 * time.Second
)

// Server wraps http.Server with lifecycle management. Signal handling stays
// with the caller so the shutdown order across subsystems is decided in one
// place.
type Server struct {
	server          *http.Server
	log             logger.Logger
	shutdownTimeout time.Duration
}

// NewServer creates the HTTP server for the given handler.
func NewServer(port int, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		log:             log,
		shutdownTimeout: defaultShutdownTimeout,
	}
}

// Start runs the server and blocks until it is shut down or fails. A
// graceful shutdown is not an error.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server",
		logger.String("address", s.server.Addr),
		logger.Duration("read_timeout", s.server.ReadTimeout),
		logger.Duration("write_timeout", s.server.WriteTimeout),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine and returns a channel that
// receives any server error.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown drains in-flight requests within the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server",
		logger.Duration("timeout", s.shutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
