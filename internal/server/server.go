package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/l0p7/foorest/internal/config"
)

const shutdownGrace = 5 * time.Second

// Server owns the listener for the Foo service and its graceful shutdown.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	once     sync.Once
}

// New prepares a server for the configured listen block. Nothing is bound
// until Listen or Run.
func New(cfg config.Config, logger *slog.Logger, handler http.Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	addr := net.JoinHostPort(cfg.Server.Listen.Address, strconv.Itoa(cfg.Server.Listen.Port))
	return &Server{
		logger: logger.With(slog.String("agent", "lifecycle")),
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}, nil
}

// Listen binds the configured address. It is idempotent; Run calls it when
// the caller has not.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}

// Run serves until ctx is cancelled and then drains in-flight requests.
// Cancellation is reported as ctx.Err().
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listener starting", slog.String("address", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: serve: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) shutdown(ctx context.Context) error {
	var shutdownErr error
	s.once.Do(func() {
		s.logger.Info("http listener shutting down")
		shutdownErr = s.httpServer.Shutdown(ctx)
	})
	return shutdownErr
}
