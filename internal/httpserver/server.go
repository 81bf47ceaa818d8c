package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Route is one read-only endpoint of the status server.
type Route struct {
	Path    string
	Handler http.Handler
}

// Server serves a fixed set of GET routes with validation and graceful
// shutdown.
type Server struct {
	server *http.Server

	mutex    sync.Mutex
	listener net.Listener
}

// New validates the address and the routes and builds the server. Every
// route answers GET (and HEAD) only. wrap, when not nil, is applied around
// the whole route set.
func New(addr string, routes []Route, wrap func(http.Handler) http.Handler) (*Server, error) {
	if err := validateHost(addr); err != nil {
		return nil, err
	}
	if err := validateRoutes(routes); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	for _, r := range routes {
		mux.Handle("GET "+r.Path, r.Handler)
	}

	var handler http.Handler = mux
	if wrap != nil {
		handler = wrap(mux)
	}

	srv := &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	return srv, nil
}

// Handler returns the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr is the bound address once Listen succeeded and the configured one
// before.
func (s *Server) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Listen binds the configured address. Start calls it when needed.
func (s *Server) Listen() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln
	return nil
}

// Start serves requests until Shutdown.
// Returns an error unless the server is shut down cleanly.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mutex.Lock()
	ln := s.listener
	s.mutex.Unlock()

	err := s.server.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the server with a 5-second timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)

	// Serve never ran, so the listener is still ours to close.
	s.mutex.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mutex.Unlock()

	return err
}

func validateHost(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)

	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateRoutes(routes []Route) error {
	if err := validation.Validate(routes, validation.Required); err != nil {
		return fmt.Errorf("routes: %w", err)
	}

	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		err := validation.ValidateStruct(&r,
			validation.Field(&r.Path,
				validation.Required,
				validation.By(func(value interface{}) error {
					path, _ := value.(string)
					if !strings.HasPrefix(path, "/") || strings.ContainsAny(path, " \t") {
						return validation.NewError("validation_invalid_route", "must be an absolute path without a method")
					}
					return nil
				}),
			),
			validation.Field(&r.Handler, validation.NotNil),
		)
		if err != nil {
			return fmt.Errorf("route %q: %w", r.Path, err)
		}

		if seen[r.Path] {
			return fmt.Errorf("route %q: registered twice", r.Path)
		}
		seen[r.Path] = true
	}

	return nil
}
