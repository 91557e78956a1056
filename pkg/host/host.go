// Package host supervises the service runtime: it owns the executor and the
// message bus, constructs services in declared order, drives their
// init/start/stop lifecycle, and coordinates shutdown.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/engramic/engramic/pkg/bus"
	"github.com/engramic/engramic/pkg/executor"
	"github.com/engramic/engramic/pkg/plugin"
	"github.com/engramic/engramic/pkg/service"
)

// stopTimeout bounds how long shutdown waits for in-flight executor tasks.
const stopTimeout = 10 * time.Second

// ErrShutdownTimeout is returned by WaitForShutdown when the deadline passes
// before a shutdown is requested.
var ErrShutdownTimeout = errors.New("host: wait for shutdown timed out")

// Host is the in-process service supervisor. Construct once, tear down once;
// reentrant construction of a second host over the same plugin registry is
// not supported.
type Host struct {
	registry *plugin.Registry
	bus      *bus.Bus
	exec     *executor.Executor

	services []service.Service
	byName   map[string]service.Service

	stopRequested chan struct{}
	stopped       chan struct{}
	shutdownErr   error
}

// New creates a host owning a fresh bus and executor. Services are built by
// the given constructors in order, each receiving the host so it can reach
// the bus, executor, and plugin registry.
func New(registry *plugin.Registry, builders ...func(*Host) service.Service) *Host {
	h := &Host{
		registry:      registry,
		bus:           bus.New(),
		exec:          executor.New(),
		byName:        make(map[string]service.Service),
		stopRequested: make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	h.register(h.bus)
	for _, build := range builders {
		h.register(build(h))
	}
	return h
}

func (h *Host) register(svc service.Service) {
	h.services = append(h.services, svc)
	h.byName[svc.Name()] = svc
}

// Bus returns the host-owned message bus.
func (h *Host) Bus() *bus.Bus { return h.bus }

// Executor returns the host-owned async executor.
func (h *Host) Executor() *executor.Executor { return h.exec }

// Plugins returns the plugin registry resolved from the active profile.
func (h *Host) Plugins() *plugin.Registry { return h.registry }

// GetService looks up a running service by name.
func (h *Host) GetService(name string) (service.Service, bool) {
	svc, ok := h.byName[name]
	return svc, ok
}

// Run initializes and starts every service. The bus is async-initialized and
// started first so subscriptions set up by the other services during their
// InitAsync are live before any Start publishes traffic.
func (h *Host) Run(ctx context.Context) error {
	if err := h.bus.InitAsync(ctx); err != nil {
		return fmt.Errorf("init bus: %w", err)
	}
	if err := h.bus.Start(ctx); err != nil {
		return fmt.Errorf("start bus: %w", err)
	}

	for _, svc := range h.services[1:] {
		if err := svc.InitAsync(ctx); err != nil {
			return fmt.Errorf("init service %s: %w", svc.Name(), err)
		}
	}
	for _, svc := range h.services[1:] {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start service %s: %w", svc.Name(), err)
		}
		slog.Info("Service started", "service", svc.Name())
	}
	return nil
}

// Shutdown stops every service in reverse declaration order, stops the
// executor, and drains the background exception queue. A non-empty queue
// becomes the returned terminal error, carrying the first cause.
func (h *Host) Shutdown(ctx context.Context) error {
	select {
	case <-h.stopped:
		return h.shutdownErr
	default:
	}

	slog.Info("Host shutting down")
	for i := len(h.services) - 1; i >= 0; i-- {
		svc := h.services[i]
		if err := svc.Stop(ctx); err != nil {
			slog.Error("Service stop failed", "service", svc.Name(), "error", err)
		}
	}
	h.exec.Stop(stopTimeout)

	if excs := h.exec.Exceptions(); len(excs) > 0 {
		for _, exc := range excs {
			slog.Error("Background task failure surfaced at shutdown", "error", exc)
		}
		h.shutdownErr = fmt.Errorf("host: %d background task failure(s): %w", len(excs), excs[0])
	}

	close(h.stopped)
	return h.shutdownErr
}

// RequestShutdown asks a WaitForShutdown caller to begin an orderly
// shutdown. Safe to call from any goroutine; subsequent calls are no-ops.
func (h *Host) RequestShutdown() {
	select {
	case <-h.stopRequested:
	default:
		close(h.stopRequested)
	}
}

// WaitForShutdown blocks until a shutdown is requested, SIGINT/SIGTERM is
// received, or the timeout (if positive) elapses, then performs an orderly
// shutdown and returns its result. A timeout is reported alongside any
// shutdown error.
func (h *Host) WaitForShutdown(timeout time.Duration) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	var timedOut bool
	select {
	case <-h.stopRequested:
	case sig := <-sigCh:
		slog.Info("Shutdown requested, exiting gracefully", "signal", sig.String())
	case <-timer:
		timedOut = true
	}

	err := h.Shutdown(context.Background())
	if timedOut {
		if err != nil {
			return fmt.Errorf("%w: %w", ErrShutdownTimeout, err)
		}
		return ErrShutdownTimeout
	}
	return err
}
