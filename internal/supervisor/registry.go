// Package supervisor tears down open capture sessions when the process is
// about to die: on SIGINT/SIGTERM, on a recovered panic, or on demand.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/smazurov/vidgrab/internal/capture"
	"github.com/smazurov/vidgrab/internal/events"
	"github.com/smazurov/vidgrab/internal/logging"
)

// Registry holds every open session. It implements capture.Registry.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]capture.Closer
	order   []string

	unsubscribe func()
}

// New creates a registry. When bus is non-nil, capture faults are logged.
func New(bus *events.Bus) *Registry {
	r := &Registry{
		logger:  logging.GetLogger("supervisor"),
		entries: make(map[string]capture.Closer),
	}
	r.unsubscribe = bus.Subscribe(func(e events.CaptureFaultEvent) {
		r.logger.Warn("Capture loop faulted", "session", e.SessionID, "device", e.DevicePath, "code", e.Code, "error", e.Error)
	})
	return r
}

// Register adds c. Registering the same id twice keeps one entry.
func (r *Registry) Register(c capture.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := c.ID()
	if _, ok := r.entries[id]; !ok {
		r.order = append(r.order, id)
	}
	r.entries[id] = c
	r.logger.Debug("Registered session", "session", id)
}

// Deregister removes c. Unknown entries are ignored.
func (r *Registry) Deregister(c capture.Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := c.ID()
	if _, ok := r.entries[id]; !ok {
		return
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("Deregistered session", "session", id)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// snapshot returns the registered closers, newest first.
func (r *Registry) snapshot() []capture.Closer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]capture.Closer, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.entries[r.order[i]])
	}
	return out
}

// CleanupAll closes every registered session. Closers run without the
// registry lock held, so they may deregister themselves. Every closer runs
// even if earlier ones fail.
func (r *Registry) CleanupAll() error {
	closers := r.snapshot()
	if len(closers) == 0 {
		return nil
	}
	r.logger.Info("Closing open sessions", "count", len(closers))

	var errs []error
	for _, c := range closers {
		if err := c.Close(); err != nil {
			r.logger.Error("Failed to close session", "session", c.ID(), "error", err)
			errs = append(errs, fmt.Errorf("session %s: %w", c.ID(), err))
		}
		r.Deregister(c)
	}
	return errors.Join(errs...)
}

// WatchSignals runs CleanupAll when one of sigs arrives (SIGINT and SIGTERM
// when none are given), then calls onSignal. The returned function stops
// watching; so does cancelling ctx.
func (r *Registry) WatchSignals(ctx context.Context, onSignal func(os.Signal), sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer signal.Stop(ch)
		select {
		case sig := <-ch:
			r.logger.Info("Received signal, cleaning up", "signal", sig.String())
			_ = r.CleanupAll()
			if onSignal != nil {
				onSignal(sig)
			}
		case <-ctx.Done():
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Recover cleans up and re-panics. Use it deferred at the top of goroutines
// that may hold sessions:
//
//	defer reg.Recover()
func (r *Registry) Recover() {
	if p := recover(); p != nil {
		r.logger.Error("Panic, closing open sessions", "panic", p)
		_ = r.CleanupAll()
		panic(p)
	}
}

// Close stops listening for capture faults. Registered sessions are left
// alone; call CleanupAll first if they should be closed.
func (r *Registry) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}
