// Package callback runs the transient loopback HTTP listener that receives the
// authorization-code redirect during interactive login.
//
// The server handles a single path, logs requests without query strings (the
// query carries the authorization code), and is torn down by the caller once
// the login has been resolved.
package callback

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
)

// Server is the loopback redirect listener.
type Server struct {
	path   string
	mux    *http.ServeMux
	server *http.Server
	port   int

	shutdownOnce sync.Once
	shutdownErr  error
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// Option configures a Server.
type Option func(*config)

type config struct {
	logger *slog.Logger
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// New creates a callback server that dispatches requests for path to handler.
// Any other path answers 404.
func New(path string, handler http.Handler, opts ...Option) *Server {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	mux := http.NewServeMux()
	mux.Handle(path, handler)
	mux.HandleFunc("/", notFound)

	s := &Server{path: path}
	s.mux = mux
	s.server = &http.Server{
		Handler: chain(mux,
			redactQuery,
			Logging(cfg.logger),
			Recovery,
		),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       5 * time.Second,
	}
	return s
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.server.Handler.ServeHTTP(w, r)
}

// Start binds address and serves in the background. Use "127.0.0.1:0" for an
// ephemeral port; the chosen port is available from Port afterwards.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors are sent to the returned channel, which is closed when the
// server stops.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		s.port = addr.Port
	}
	s.server.BaseContext = func(net.Listener) context.Context {
		return ctx
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	return s.port
}

// RedirectURL returns the URL the provider should redirect to.
func (s *Server) RedirectURL() string {
	return "http://localhost:" + strconv.Itoa(s.port) + s.path
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Safe to call multiple times; later calls return the first result.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			// Graceful shutdown failed - force close
			_ = s.server.Close()
			s.shutdownErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	})
	return s.shutdownErr
}
