// Package botservice runs the Telegram bot together with its metrics server
// and the background playlist refresher.
package botservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Poller is the blocking Telegram update loop.
type Poller interface {
	Start()
	Stop()
}

// Refresher keeps the store in sync with the upstream playlist.
type Refresher interface {
	Run(ctx context.Context) error
}

// MetricsServer is an interface that defines the methods for a metrics server.
type MetricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
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

// Option is a function which tweaks the creation of the Service.
type Option func(*options)

// Service runs the bot, metrics, and refresher sub-services.
type Service struct {
	poller        Poller
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

// New creates a new bot service with the provided poller, metrics server, and refresher.
func New(ctx context.Context, poller Poller, metricsServer MetricsServer, refresher Refresher, args ...Option) *Service {
	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	opts := options{
		maxDegradedDuration: 2 * time.Minute, // Default degraded state duration
	}
	for _, arg := range args {
		arg(&opts)
	}

	running := make(chan struct{})
	close(running) // Close immediately to avoid blocking on the channel.
	return &Service{
		poller:        poller,
		metricsServer: metricsServer,
		refresher:     refresher,

		ctx:            ctx,
		cancel:         cancel,
		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,

		maxDegradedDuration: opts.maxDegradedDuration,

		running: running,
	}
}

// Run starts the bot service.
//
// Returns once all sub-services have completed, or after an extended time
// being in a degraded state.
func (s *Service) Run() error {
	slog.Info("Bot service started")

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
	go func() { done <- s.runPoller(); wg.Done() }()
	go func() { done <- s.runMetrics(); wg.Done() }()
	go func() { done <- s.runRefresher(); wg.Done() }()
	go func() { wg.Wait(); close(done) }() // Close done only after all goroutines have finished.

	// Ensure we don't get stuck in a degraded state if one of the services fails.
	err := <-done
	slog.Info("Waiting for bot sub-services to finish")

	deadline := time.After(s.maxDegradedDuration)
	for range 2 {
		select {
		case <-deadline:
			// We've waited for teardown for too long, give up even though errors may be lost.
			slog.Warn("Bot service teardown timed out")
			return errors.Join(err, ErrTeardownTimeout)
		case nextDone := <-done:
			err = errors.Join(err, nextDone)
		}
	}

	return err
}

func (s *Service) runPoller() error {
	slog.Info("Starting Telegram poller")
	defer s.gracefulCancel() // Request stop if the poller exits.

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		s.poller.Start()
	}()

	select {
	case <-s.gracefulCtx.Done():
		slog.Info("Stopping Telegram poller")
		s.poller.Stop()
		<-pollerDone
	case <-pollerDone:
	}
	slog.Info("Telegram poller stopped")
	return nil
}

func (s *Service) runMetrics() error {
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

func (s *Service) runRefresher() error {
	slog.Info("Starting playlist refresher")
	defer s.gracefulCancel() // Request stop if the refresher fails.

	if err := s.refresher.Run(s.gracefulCtx); err != nil && !errors.Is(err, s.gracefulCtx.Err()) {
		slog.Error("Refresher encountered an error", "err", err)
		return fmt.Errorf("refresher error: %v", err)
	}
	slog.Info("Refresher stopped")
	return nil
}

// Quit stops the bot service.
// Blocks until the service has finished running.
func (s *Service) Quit(force bool) {
	slog.Info("Stopping bot service")

	if force {
		s.cancel()
		s.metricsServer.Close()
	} else {
		s.gracefulCancel()
	}

	<-s.running // Wait for the service to finish running.
}
