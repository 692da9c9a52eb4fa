package capture

import (
	"sync"
	"testing"
	"time"

	"github.com/smazurov/vidgrab/internal/events"
	"github.com/smazurov/vidgrab/internal/simdev"
)

type fakeRegistry struct {
	mu      sync.Mutex
	open    map[string]Closer
	removed []string
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{open: make(map[string]Closer)}
}

func (r *fakeRegistry) Register(c Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[c.ID()] = c
}

func (r *fakeRegistry) Deregister(c Closer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, c.ID())
	r.removed = append(r.removed, c.ID())
}

func (r *fakeRegistry) has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.open[id]
	return ok
}

func simOpener(dev *simdev.Device) Opener {
	return func(string) (Backend, error) { return dev, nil }
}

func openSim(t *testing.T, path string, dev *simdev.Device, opts Options) *Session {
	t.Helper()
	opts.Opener = simOpener(dev)
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = 50 * time.Millisecond
	}
	s, err := Open(path, &opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func configuredSim(t *testing.T, path string, cfg simdev.Config, opts Options) (*Session, *simdev.Device) {
	t.Helper()
	dev := simdev.New(cfg)
	s := openSim(t, path, dev, opts)
	if _, _, err := s.Configure(640, 480); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	return s, dev
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// feed pushes one frame and waits until the engine has dealt with it.
func feed(t *testing.T, s *Session, dev *simdev.Device, data []byte) {
	t.Helper()
	before := dev.Stats().Dequeues
	waitFor(t, "a queued buffer", func() bool { return dev.Feed(data) == nil })
	waitFor(t, "the frame to be dequeued", func() bool { return dev.Stats().Dequeues > before })
}

func subscribe[T events.Event](bus *events.Bus) <-chan T {
	ch := make(chan T, 16)
	bus.Subscribe(func(e T) { ch <- e })
	return ch
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		var zero T
		t.Fatalf("no %T received", zero)
		return zero
	}
}
