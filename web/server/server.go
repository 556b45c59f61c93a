package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.hackfix.me/tilde/web/server/gate"
	"go.hackfix.me/tilde/web/server/middleware"
	"go.hackfix.me/tilde/web/server/userdir"
)

// Route prefixes preceding the username.
const (
	PublicPrefix  = "/~"
	PrivatePrefix = "/priv/~"
)

// Server is a wrapper around http.Server with some custom behavior.
type Server struct {
	*http.Server
	logger *slog.Logger
}

// Config holds the dependencies of the server handlers.
type Config struct {
	Router *userdir.Router
	Gates  *gate.Gates
	// Metrics is the Prometheus gatherer exposed on /metrics. The endpoint is
	// disabled if it's nil.
	Metrics prometheus.Gatherer
}

// New returns a new web Server instance that will listen on addr.
func New(addr string, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.Router == nil {
		return nil, errors.New("content router is required")
	}
	if cfg.Gates == nil || cfg.Gates.Public == nil || cfg.Gates.Private == nil {
		return nil, errors.New("authorization gates are required")
	}

	logger = logger.With("component", "web-server")
	srv := &Server{
		Server: &http.Server{
			Handler:           SetupHandlers(cfg, logger),
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      10 * time.Minute,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		},
		logger: logger,
	}

	return srv, nil
}

// ListenAndServe starts the HTTP server. It stores the actual listen address,
// which is convenient when the address is dynamically determined by the system
// (e.g. ':0').
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed listening on '%s': %w", s.Addr, err)
	}

	s.Addr = ln.Addr().String()
	s.logger.Info("started listener", "address", s.Addr)

	//nolint:wrapcheck // This is fine.
	return s.Serve(ln)
}

// SetupHandlers configures the server HTTP handlers.
func SetupHandlers(cfg Config, logger *slog.Logger) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Logger(logger), chimw.Recoverer, chimw.GetHead)

	mux.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if cfg.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}

	trees := []struct {
		tree   userdir.Tree
		prefix string
		gate   gate.Gate
	}{
		{userdir.TreePublic, PublicPrefix, cfg.Gates.Public},
		{userdir.TreePrivate, PrivatePrefix, cfg.Gates.Private},
	}
	for _, t := range trees {
		authz := middleware.Authorize(t.gate, logger.With("tree", string(t.tree)))
		mux.Get(t.prefix+"{username}",
			middleware.Chain(userdir.RedirectToRoot(t.prefix), authz).ServeHTTP)
		mux.Get(t.prefix+"{username}/*",
			middleware.Chain(cfg.Router.Handler(t.tree, t.prefix), authz).ServeHTTP)
	}

	return mux
}
