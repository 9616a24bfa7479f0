// Package server provides application lifecycle management including
// graceful startup and shutdown with signal handling.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start runs the service. It blocks until the service is stopped or
	// fails; a clean stop returns nil.
	Start() error
	// Stop asks the service to finish, waiting at most until ctx ends.
	Stop(ctx context.Context) error
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func(ctx context.Context) error
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function, if any.
func (f *FuncService) Stop(ctx context.Context) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx)
}

// RunnerService runs a context-driven loop such as a ticker until stopped.
type RunnerService struct {
	run    func(ctx context.Context)
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRunnerService wraps run, which must return once its context is
// cancelled.
func NewRunnerService(run func(ctx context.Context)) *RunnerService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RunnerService{run: run, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Start blocks running the loop.
func (r *RunnerService) Start() error {
	defer close(r.done)
	r.run(r.ctx)
	return nil
}

// Stop cancels the loop and waits for it to return.
func (r *RunnerService) Stop(ctx context.Context) error {
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HTTPService serves an http.Server.
type HTTPService struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
}

// NewHTTPService binds srv.Addr immediately so that callers learn about port
// conflicts before the lifecycle starts.
//
// Postcondition: Addr() reports the bound address.
func NewHTTPService(srv *http.Server, logger *zap.Logger) (*HTTPService, error) {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", srv.Addr, err)
	}
	return &HTTPService{srv: srv, ln: ln, logger: logger}, nil
}

// Addr returns the listener address.
func (h *HTTPService) Addr() net.Addr { return h.ln.Addr() }

// Start serves until Stop.
func (h *HTTPService) Start() error {
	h.logger.Info("http listening", zap.String("addr", h.ln.Addr().String()))
	if err := h.srv.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests.
func (h *HTTPService) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

// Lifecycle manages the startup and shutdown of multiple services.
// Services are started in order and stopped in reverse order.
type Lifecycle struct {
	logger          *zap.Logger
	shutdownTimeout time.Duration
	services        []namedService
	mu              sync.Mutex
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates a new Lifecycle manager. Each service gets at most
// shutdownTimeout to stop; zero means no limit.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger, shutdownTimeout time.Duration) *Lifecycle {
	return &Lifecycle{
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

// Add registers a named service for lifecycle management.
// Services are started in the order they are added.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts all services and blocks until a termination signal (SIGINT or
// SIGTERM), ctx cancellation, or the first service failure. Services are then
// stopped in reverse order.
//
// Postcondition: All services are stopped when this method returns. The
// returned error is the service failure that triggered shutdown, if any.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.mu.Lock()
	services := append([]namedService(nil), l.services...)
	l.mu.Unlock()

	errCh := make(chan error, len(services))
	for _, ns := range services {
		go func() {
			l.logger.Info("starting service", zap.String("service", ns.name))
			svcStart := time.Now()
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
					zap.Duration("uptime", time.Since(svcStart)),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}()
	}

	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		l.logger.Error("service error, shutting down", zap.Error(runErr))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	l.shutdown(services)

	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return runErr
}

func (l *Lifecycle) shutdown(services []namedService) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		svcStart := time.Now()
		l.logger.Info("stopping service", zap.String("service", ns.name))

		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if l.shutdownTimeout > 0 {
			ctx, cancel = context.WithTimeout(context.Background(), l.shutdownTimeout)
		}
		err := ns.service.Stop(ctx)
		cancel()
		if err != nil {
			l.logger.Warn("service did not stop cleanly",
				zap.String("service", ns.name),
				zap.Error(err),
			)
			continue
		}
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(svcStart)),
		)
	}
	l.logger.Info("all services stopped",
		zap.Duration("shutdown_elapsed", time.Since(shutdownStart)),
	)
}
