package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	actx "go.hackfix.me/tilde/app/context"
	"go.hackfix.me/tilde/directory"
	"go.hackfix.me/tilde/web/server"
	"go.hackfix.me/tilde/web/server/gate"
	"go.hackfix.me/tilde/web/server/userdir"
)

const shutdownTimeout = 10 * time.Second

// Serve starts the web server.
type Serve struct {
	Address string `arg:"" optional:"" help:"[host]:port to listen on. Default: 127.0.0.1:8000"`
	Metrics bool   `help:"Expose Prometheus metrics on /metrics."`
}

// Run the serve command.
func (c *Serve) Run(appCtx *actx.Context) error {
	cfg := appCtx.Config
	logger := appCtx.Logger

	var (
		reg     *prometheus.Registry
		metrics *directory.Metrics
	)
	if c.Metrics {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		var err error
		if metrics, err = directory.NewMetrics(reg); err != nil {
			return fmt.Errorf("failed registering directory metrics: %w", err)
		}
	}

	resolver, err := directory.Setup(appCtx.Ctx, cfg.Directory, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resolver.Close(); cerr != nil {
			logger.Warn("failed closing directory resolver", "error", cerr.Error())
		}
	}()

	router, err := userdir.New(
		directory.NewInstrumented(resolver, metrics, logger),
		appCtx.FS,
		map[userdir.Tree]string{
			userdir.TreePublic:  cfg.Trees.Public.V,
			userdir.TreePrivate: cfg.Trees.Private.V,
		},
		logger,
	)
	if err != nil {
		return err
	}

	gates, err := gate.Setup(cfg.Auth)
	if err != nil {
		return err
	}

	srvCfg := server.Config{Router: router, Gates: gates}
	if reg != nil {
		srvCfg.Metrics = reg
	}
	srv, err := server.New(c.Address, srvCfg, logger)
	if err != nil {
		return err
	}

	// Gracefully shutdown the server if a process signal is received, or the
	// main context is done.
	// See https://dev.to/mokiat/proper-http-shutdown-in-go-3fji
	srvDone := make(chan error)
	go func() {
		srvErr := srv.ListenAndServe()
		slog.Debug("web server shutdown")
		srvDone <- srvErr
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case s := <-sigCh:
		slog.Debug("process received signal", "signal", s)
	case <-appCtx.Ctx.Done():
		slog.Debug("app context is done")
	case srvErr := <-srvDone:
		if srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			return fmt.Errorf("web server error: %w", srvErr)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed shutting down web server: %w", err)
	}
	<-srvDone

	return nil
}
