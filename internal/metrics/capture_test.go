package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCaptureStatsCache(t *testing.T) {
	device := "/dev/video-cache"
	DeleteCaptureMetrics(device)

	if s := GetCaptureStats(device); s != nil {
		t.Fatal("expected nil for unknown device")
	}

	SetMappedBuffers(device, 4)
	SetStreaming(device, true)
	FrameCaptured(device, 2*time.Millisecond)
	FrameCaptured(device, 3*time.Millisecond)
	FrameDropped(device, DropShortBuffer)
	CaptureFault(device, "DEQUEUE")

	s := GetCaptureStats(device)
	if s == nil {
		t.Fatal("expected cached stats")
	}
	if s.Frames != 2 || s.Dropped != 1 || s.Faults != 1 {
		t.Errorf("stats = %+v, want 2 frames, 1 dropped, 1 fault", s)
	}
	if !s.Streaming || s.Buffers != 4 {
		t.Errorf("stats = %+v, want streaming with 4 buffers", s)
	}
	if s.LastConversion != 3*time.Millisecond {
		t.Errorf("LastConversion = %v, want 3ms", s.LastConversion)
	}
	if s.LastFrameAt.IsZero() {
		t.Error("LastFrameAt not set")
	}

	s.Frames = 999
	if again := GetCaptureStats(device); again.Frames != 2 {
		t.Errorf("cache was modified through returned copy, Frames = %d", again.Frames)
	}

	DeleteCaptureMetrics(device)
	if GetCaptureStats(device) != nil {
		t.Error("expected nil after delete")
	}
}

func TestCapturePrometheusValues(t *testing.T) {
	device := "/dev/video-prom"
	DeleteCaptureMetrics(device)
	defer DeleteCaptureMetrics(device)

	FrameCaptured(device, time.Millisecond)
	FrameCaptured(device, time.Millisecond)
	FrameCaptured(device, time.Millisecond)
	FrameDropped(device, DropShortBuffer)
	FrameDropped(device, DropShortBuffer)
	SetStreaming(device, true)
	SetStreaming(device, false)
	SetMappedBuffers(device, 6)

	if got := testutil.ToFloat64(framesCaptured.WithLabelValues(device)); got != 3 {
		t.Errorf("frames_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(framesDropped.WithLabelValues(device, DropShortBuffer)); got != 2 {
		t.Errorf("frames_dropped_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(streaming.WithLabelValues(device)); got != 0 {
		t.Errorf("streaming = %v, want 0", got)
	}
	if got := testutil.ToFloat64(mappedBuffers.WithLabelValues(device)); got != 6 {
		t.Errorf("mapped_buffers = %v, want 6", got)
	}
}

func TestCaptureStatsConcurrent(t *testing.T) {
	device := "/dev/video-concurrent"
	DeleteCaptureMetrics(device)
	defer DeleteCaptureMetrics(device)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				FrameCaptured(device, time.Microsecond)
				_ = GetCaptureStats(device)
			}
		}()
	}
	wg.Wait()

	if got := GetCaptureStats(device).Frames; got != 400 {
		t.Errorf("Frames = %d, want 400", got)
	}
}
