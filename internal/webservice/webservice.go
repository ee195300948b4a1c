// Package webservice provides the HTTP server that exposes the channel API,
// the player pages, and the health probe, together with its metrics server
// and the background playlist refresher.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/nybots/iptv-hub/internal/config"
	"github.com/nybots/iptv-hub/internal/webservice/handlers"
	"github.com/nybots/iptv-hub/internal/webservice/metrics"
	"github.com/nybots/iptv-hub/internal/webservice/middleware"
)

// StaticConfig holds the static configuration for the server.
type StaticConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int

	ListenHost string
	ListenPort int

	ReloadRate  float64 // reload requests allowed per second, per client IP
	ReloadBurst int
}

// Refresher keeps the store in sync with upstream and serves manual reloads.
type Refresher interface {
	Run(ctx context.Context) error
	Refresh(ctx context.Context) error
}

// MetricsServer is an interface that defines the methods for a metrics server.
type MetricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
}

// Server runs the HTTP API, the metrics server, and the playlist refresher.
type Server struct {
	httpServer    *http.Server
	metricsServer MetricsServer
	refresher     Refresher

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits until the next blocking operation to interrupt.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	maxDegradedDuration time.Duration

	running chan struct{} // Channel to signal when the service is running.
}

var (
	// errServiceClosed is returned when the service is already closed.
	errServiceClosed = errors.New("service closed")

	// ErrTeardownTimeout is returned when the service takes too long to shut down.
	// A force Quit may be required to cleanup the service.
	ErrTeardownTimeout = errors.New("service teardown timed out")
)

type options struct {
	maxDegradedDuration time.Duration
}

// Option is a function which tweaks the creation of the Server.
type Option func(*options)

// New creates a web service with the given store, refresher, config manager,
// metrics server, and Prometheus registerer.
func New(ctx context.Context, st handlers.ChannelStore, refr Refresher, cm config.Provider, metricsServer MetricsServer, reg prometheus.Registerer, sc StaticConfig, args ...Option) (*Server, error) {
	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	opts := options{
		maxDegradedDuration: 2 * time.Minute, // Default degraded state duration
	}
	for _, arg := range args {
		arg(&opts)
	}

	em := metrics.NewEndpointMiddleware(reg)
	limiter := middleware.NewIPLimiter(rate.Limit(sc.ReloadRate), sc.ReloadBurst)

	pages := handlers.NewPages(st)
	reload := handlers.NewReload(refr, cm, int64(sc.MaxBodyBytes))

	mux := http.NewServeMux()
	mux.Handle("GET /{$}", em.Wrap("index", http.HandlerFunc(pages.Index)))
	mux.Handle("GET /player", em.Wrap("player", http.HandlerFunc(pages.Player)))
	mux.Handle("GET /api/channels", em.Wrap("channels", handlers.NewChannels(st)))
	mux.Handle("GET /api/channel/{id}", em.Wrap("channel", handlers.NewChannel(st)))
	mux.Handle("POST /api/reload", em.Wrap("reload", limiter.RateLimit(reload)))
	mux.Handle("GET /health", em.Wrap("health", handlers.NewHealth(st)))
	mux.Handle("GET /version", em.Wrap("version", http.HandlerFunc(handlers.VersionHandler)))

	running := make(chan struct{})
	close(running) // Close immediately to avoid blocking on the channel.
	return &Server{
		httpServer: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", sc.ListenHost, sc.ListenPort),
			ReadTimeout:    sc.ReadTimeout,
			WriteTimeout:   sc.WriteTimeout,
			Handler:        http.TimeoutHandler(mux, sc.RequestTimeout, ""),
			MaxHeaderBytes: sc.MaxHeaderBytes,
		},
		metricsServer: metricsServer,
		refresher:     refr,

		ctx:            ctx,
		cancel:         cancel,
		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,

		maxDegradedDuration: opts.maxDegradedDuration,

		running: running,
	}, nil
}

// Run starts the web service.
//
// Returns once all sub-services have completed, or after an extended time
// being in a degraded state.
func (s *Server) Run() error {
	slog.Info("Web service started", "addr", s.httpServer.Addr)

	select {
	case <-s.gracefulCtx.Done():
		return errServiceClosed
	default:
	}

	s.running = make(chan struct{})
	defer close(s.running)
	defer s.cancel() // Ensure we cancel the context when done, regardless of result.

	done := make(chan error, 3)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { done <- s.runHTTP(); wg.Done() }()
	go func() { done <- s.runMetrics(); wg.Done() }()
	go func() { done <- s.runRefresher(); wg.Done() }()
	go func() { wg.Wait(); close(done) }() // Close done only after all goroutines have finished.

	// Ensure we don't get stuck in a degraded state if one of the services fails.
	err := <-done
	slog.Info("Waiting for web sub-services to finish")

	deadline := time.After(s.maxDegradedDuration)
	for range 2 {
		select {
		case <-deadline:
			// We've waited for teardown for too long, give up even though errors may be lost.
			slog.Warn("Web service teardown timed out")
			return errors.Join(err, ErrTeardownTimeout)
		case nextDone := <-done:
			err = errors.Join(err, nextDone)
		}
	}

	return err
}

func (s *Server) runHTTP() error {
	defer s.gracefulCancel() // Request stop if the HTTP server fails.

	serverErr := make(chan error, 1)
	go func() {
		defer close(serverErr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated")
		// Use parent ctx so a force Quit unblocks Shutdown immediately.
		if err := s.httpServer.Shutdown(s.ctx); err != nil {
			slog.Error("Graceful shutdown failed", "err", err)
			return err
		}
		slog.Info("HTTP server shut down gracefully")
		return nil
	case err := <-serverErr:
		if err != nil {
			slog.Error("HTTP server encountered error", "err", err)
			return err
		}
		return nil
	}
}

func (s *Server) runMetrics() error {
	slog.Info("Starting metrics server")
	defer s.gracefulCancel() // Request stop if metrics fail.

	metricsErrCh := make(chan error, 1)
	go func() {
		defer close(metricsErrCh)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErrCh <- err
		}
	}()

	select {
	case <-s.ctx.Done():
		slog.Info("Closing metrics server", "reason", s.ctx.Err())
		s.metricsServer.Close()
		return nil
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated for metrics server")
		if err := s.metricsServer.Shutdown(s.ctx); err != nil {
			slog.Error("Metrics server graceful shutdown encountered error", "err", err)
			return fmt.Errorf("metrics server shutdown error: %v", err)
		}
	case err := <-metricsErrCh:
		// No need to shutdown or close, just propagate the error.
		if err != nil {
			slog.Error("Metrics server encountered error", "err", err)
			return fmt.Errorf("metrics server error: %v", err)
		}
	}
	slog.Info("Metrics server shut down gracefully")
	return nil
}

func (s *Server) runRefresher() error {
	slog.Info("Starting playlist refresher")
	defer s.gracefulCancel() // Request stop if the refresher fails.

	if err := s.refresher.Run(s.gracefulCtx); err != nil && !errors.Is(err, s.gracefulCtx.Err()) {
		slog.Error("Refresher encountered an error", "err", err)
		return fmt.Errorf("refresher error: %v", err)
	}
	slog.Info("Refresher stopped")
	return nil
}

// Quit stops the web service.
// Blocks until the service has finished running.
func (s *Server) Quit(force bool) {
	slog.Info("Stopping web service")

	if force {
		s.cancel()
		s.httpServer.Close()
		s.metricsServer.Close()
	} else {
		s.gracefulCancel()
	}

	<-s.running // Wait for the service to finish running.
}
