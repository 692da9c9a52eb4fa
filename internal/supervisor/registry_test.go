package supervisor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/vidgrab/internal/capture"
	"github.com/smazurov/vidgrab/internal/events"
	"github.com/smazurov/vidgrab/internal/simdev"
)

type fakeCloser struct {
	id     string
	err    error
	reg    *Registry
	mu     sync.Mutex
	closed int
	log    *[]string
}

func (f *fakeCloser) ID() string { return f.id }

func (f *fakeCloser) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	if f.log != nil {
		*f.log = append(*f.log, f.id)
	}
	if f.reg != nil {
		f.reg.Deregister(f)
	}
	return f.err
}

func (f *fakeCloser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegisterDeregister(t *testing.T) {
	r := New(nil)
	defer r.Close()

	a := &fakeCloser{id: "a"}
	b := &fakeCloser{id: "b"}
	r.Register(a)
	r.Register(b)
	r.Register(a)
	if r.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", r.Len())
	}

	r.Deregister(a)
	r.Deregister(a)
	r.Deregister(&fakeCloser{id: "unknown"})
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestCleanupAllBestEffort(t *testing.T) {
	r := New(nil)
	defer r.Close()

	var order []string
	boom := errors.New("boom")
	a := &fakeCloser{id: "a", log: &order}
	b := &fakeCloser{id: "b", err: boom, log: &order}
	c := &fakeCloser{id: "c", log: &order, reg: r}
	for _, f := range []*fakeCloser{a, b, c} {
		r.Register(f)
	}

	err := r.CleanupAll()
	if !errors.Is(err, boom) {
		t.Errorf("CleanupAll() error = %v, want boom", err)
	}
	for _, f := range []*fakeCloser{a, b, c} {
		if f.count() != 1 {
			t.Errorf("%s closed %d times, want 1", f.id, f.count())
		}
	}
	if len(order) != 3 || order[0] != "c" || order[2] != "a" {
		t.Errorf("close order = %v, want newest first", order)
	}
	if r.Len() != 0 {
		t.Errorf("Len() after cleanup = %d", r.Len())
	}

	if err := r.CleanupAll(); err != nil {
		t.Errorf("second CleanupAll() = %v", err)
	}
}

func TestRecoverCleansUpAndRepanics(t *testing.T) {
	r := New(nil)
	defer r.Close()
	f := &fakeCloser{id: "a"}
	r.Register(f)

	defer func() {
		if p := recover(); p != "fatal" {
			t.Errorf("recovered %v, want the original panic", p)
		}
		if f.count() != 1 {
			t.Error("session not closed on panic")
		}
	}()

	func() {
		defer r.Recover()
		panic("fatal")
	}()
}

func TestRecoverWithoutPanic(t *testing.T) {
	r := New(nil)
	defer r.Close()
	f := &fakeCloser{id: "a"}
	r.Register(f)

	func() {
		defer r.Recover()
	}()
	if f.count() != 0 {
		t.Error("Recover() closed sessions without a panic")
	}
}

func TestCleanupClosesCaptureSessions(t *testing.T) {
	bus := events.New()
	r := New(bus)
	defer r.Close()

	dev := simdev.New(simdev.Config{})
	s, err := capture.Open("/dev/sim-supervised", &capture.Options{
		Opener:      func(string) (capture.Backend, error) { return dev, nil },
		Registry:    r,
		Bus:         bus,
		WaitTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Configure(640, 480); err != nil {
		t.Fatal(err)
	}
	if err := s.StartStreaming(); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", r.Len())
	}

	if err := r.CleanupAll(); err != nil {
		t.Fatalf("CleanupAll() error = %v", err)
	}
	st := dev.Stats()
	if !st.Closed || st.Streaming || st.Mapped != 0 {
		t.Errorf("device after cleanup: %+v", st)
	}
	if r.Len() != 0 {
		t.Error("session still registered")
	}
}
