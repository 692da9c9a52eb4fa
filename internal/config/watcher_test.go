package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startWatcher(t *testing.T, path string, opts ...WatcherOption[Settings]) *Watcher[Settings] {
	t.Helper()
	opts = append([]WatcherOption[Settings]{WithDebounce[Settings](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, LoadSettings, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("Stop() error = %v", err)
		}
	})
	// give the inotify watch time to register
	time.Sleep(100 * time.Millisecond)
	return w
}

func TestWatcherReloadsGeometry(t *testing.T) {
	path := writeConfig(t, "[capture]\nwidth = 640\nheight = 480\n")

	received := make(chan Settings, 1)
	w := startWatcher(t, path)
	w.OnReload(func(s Settings) { received <- s })

	if err := os.WriteFile(path, []byte("[capture]\nwidth = 1280\nheight = 720\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-received:
		if s.Capture.Width != 1280 || s.Capture.Height != 720 {
			t.Errorf("reloaded geometry = %dx%d, want 1280x720", s.Capture.Width, s.Capture.Height)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestWatcherFollowsRenameReplace(t *testing.T) {
	path := writeConfig(t, "[capture]\nwidth = 640\n")

	received := make(chan Settings, 4)
	w := startWatcher(t, path)
	w.OnReload(func(s Settings) { received <- s })

	tmp := filepath.Join(filepath.Dir(path), ".vidgrab.toml.swp")
	if err := os.WriteFile(tmp, []byte("[capture]\nwidth = 800\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-received:
		if s.Capture.Width != 800 {
			t.Errorf("Width = %d, want 800", s.Capture.Width)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	path := writeConfig(t, "[capture]\nwidth = 640\n")

	var count atomic.Int32
	w := startWatcher(t, path)
	w.OnReload(func(Settings) { count.Add(1) })

	sibling := filepath.Join(filepath.Dir(path), "other.toml")
	if err := os.WriteFile(sibling, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("handlers called %d times for an unrelated file, want 0", got)
	}
}

func TestWatcherDebounce(t *testing.T) {
	path := writeConfig(t, "[capture]\nbuffers = 2\n")

	var count, last atomic.Int32
	w := startWatcher(t, path, WithDebounce[Settings](200*time.Millisecond))
	w.OnReload(func(s Settings) {
		count.Add(1)
		last.Store(int32(s.Capture.Buffers))
	})

	for i := 3; i <= 7; i++ {
		if err := os.WriteFile(path, fmt.Appendf(nil, "[capture]\nbuffers = %d\n", i), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got := last.Load(); got != 7 {
		t.Errorf("expected final buffers 7, got %d", got)
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	path := writeConfig(t, "[capture]\nwidth = 640\n")

	errs := make(chan error, 1)
	configs := make(chan Settings, 1)
	w := startWatcher(t, path, WithErrorHandler[Settings](func(err error) { errs <- err }))
	w.OnReload(func(s Settings) { configs <- s })

	if err := os.WriteFile(path, []byte("[capture]\nwidth = 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-errs:
	case <-configs:
		t.Fatal("reload handler called for an invalid config")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestWatcherUnsubscribeAndReload(t *testing.T) {
	path := writeConfig(t, "[capture]\nheight = 480\n")
	w := NewConfigWatcher(path, LoadSettings, newTestLogger())

	var kept, dropped atomic.Int32
	w.OnReload(func(Settings) { kept.Add(1) })
	unsub := w.OnReload(func(Settings) { dropped.Add(1) })

	w.Reload()
	unsub()
	w.Reload()

	if got := kept.Load(); got != 2 {
		t.Errorf("kept handler calls = %d, want 2", got)
	}
	if got := dropped.Load(); got != 1 {
		t.Errorf("unsubscribed handler calls = %d, want 1", got)
	}
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	const content = "[capture]\nwidth = 640\n"
	path := writeConfig(t, content)

	var count atomic.Int32
	w := startWatcher(t, path)
	w.OnReload(func(Settings) { count.Add(1) })

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("handlers called %d times for an identical rewrite, want 0", got)
	}
}

func TestWatcherStopBeforeStart(t *testing.T) {
	w := NewConfigWatcher(writeConfig(t, ""), LoadSettings, newTestLogger())
	if err := w.Stop(); err != nil {
		t.Errorf("Stop() before Start() error = %v", err)
	}
}
