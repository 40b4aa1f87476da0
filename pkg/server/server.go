// Package server exposes the OAuth flow, client registration, and MCP
// endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/jdutton/mcp-scaffold/pkg/clients"
	"github.com/jdutton/mcp-scaffold/pkg/logger"
	"github.com/jdutton/mcp-scaffold/pkg/providers"
	"github.com/jdutton/mcp-scaffold/pkg/storage"
	"github.com/jdutton/mcp-scaffold/pkg/transport"
)

const (
	readHeaderTimeout      = 10 * time.Second
	middlewareTimeout      = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Options configures the HTTP server.
type Options struct {
	// Address is the listen address, host:port.
	Address string

	// ShutdownTimeout bounds graceful shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration

	// RegistrationEnabled exposes POST /auth/register.
	RegistrationEnabled bool
}

// Server routes OAuth flow requests to per-provider flows and serves
// client registration, health, and the MCP surface.
type Server struct {
	opts    Options
	backend *storage.Backend
	clients clients.Store
	flows   map[string]*providers.Flow
	mcp     http.Handler
}

// New builds a server over the given stores and flows, keyed by provider
// routing name. mcpHandler is mounted at /mcp behind bearer auth; nil
// leaves the route unmounted.
func New(opts Options, backend *storage.Backend, clientStore clients.Store,
	flows map[string]*providers.Flow, mcpHandler http.Handler) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}
	return &Server{
		opts:    opts,
		backend: backend,
		clients: clientStore,
		flows:   flows,
		mcp:     mcpHandler,
	}
}

// Handler returns the fully-wired router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Timeout(middlewareTimeout),
	)

	r.Get("/health", handleHealth)

	if s.opts.RegistrationEnabled {
		r.Post("/auth/register", s.handleRegister)
	}

	r.Get("/auth/{provider}", s.flowHandler((*providers.Flow).HandleAuthorizationRequest))
	r.Get("/auth/{provider}/callback", s.flowHandler((*providers.Flow).HandleAuthorizationCallback))
	r.Post("/auth/{provider}/token", s.flowHandler((*providers.Flow).HandleTokenExchange))
	r.Post("/auth/{provider}/refresh", s.flowHandler((*providers.Flow).HandleTokenRefresh))
	r.Post("/auth/{provider}/logout", s.flowHandler((*providers.Flow).HandleLogout))

	if s.mcp != nil {
		r.Route("/mcp", func(r chi.Router) {
			r.Use(BearerAuth(s.backend.Tokens))
			r.Handle("/*", s.mcp)
			r.Handle("/", s.mcp)
		})
	}

	return r
}

// flowHandler adapts a flow method to an HTTP handler, resolving the
// provider from the URL.
func (s *Server) flowHandler(
	handle func(*providers.Flow, transport.Request, transport.ResponseWriter),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "provider")
		flow, ok := s.flows[name]
		if !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			if err := json.NewEncoder(w).Encode(map[string]string{
				"error":             "unknown_provider",
				"error_description": "no provider registered under this name",
			}); err != nil {
				logger.Errorw("failed to encode provider error", "error", err)
			}
			return
		}
		handle(flow, transport.NewRequest(r), transport.NewResponseWriter(w, r))
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		logger.Errorw("failed to encode health response", "error", err)
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infow("starting HTTP server", "address", s.opts.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Infow("HTTP server stopped")
		return nil
	})

	return g.Wait()
}
