// Package metrics provides Prometheus metrics for capture sessions.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons recorded by FrameDropped.
const (
	DropShortBuffer = "short_buffer"
	DropConversion  = "conversion"
)

var (
	framesCaptured = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidgrab",
		Subsystem: "capture",
		Name:      "frames_total",
		Help:      "Frames converted and published",
	}, []string{"device"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidgrab",
		Subsystem: "capture",
		Name:      "frames_dropped_total",
		Help:      "Dequeued buffers that were requeued without publishing",
	}, []string{"device", "reason"})

	captureFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vidgrab",
		Subsystem: "capture",
		Name:      "faults_total",
		Help:      "Capture loops terminated by a hard error",
	}, []string{"device", "code"})

	conversionSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vidgrab",
		Subsystem: "capture",
		Name:      "conversion_seconds",
		Help:      "Time spent converting one YUYV buffer to RGB24",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"device"})

	streaming = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vidgrab",
		Subsystem: "capture",
		Name:      "streaming",
		Help:      "1 while the capture loop of a device is live",
	}, []string{"device"})

	mappedBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vidgrab",
		Subsystem: "capture",
		Name:      "mapped_buffers",
		Help:      "Buffers currently mapped for a device",
	}, []string{"device"})

	// Local cache for the control API.
	captureCache   = make(map[string]*CaptureStats)
	captureCacheMu sync.RWMutex
)

// CaptureStats holds current metric values for a device.
type CaptureStats struct {
	Frames         uint64
	Dropped        uint64
	Faults         uint64
	Streaming      bool
	Buffers        int
	LastFrameAt    time.Time
	LastConversion time.Duration
}

// FrameCaptured records one published frame and how long its conversion took.
func FrameCaptured(device string, conversion time.Duration) {
	framesCaptured.WithLabelValues(device).Inc()
	conversionSeconds.WithLabelValues(device).Observe(conversion.Seconds())
	now := time.Now()
	updateCache(device, func(s *CaptureStats) {
		s.Frames++
		s.LastFrameAt = now
		s.LastConversion = conversion
	})
}

// FrameDropped records a buffer that was returned to the driver unpublished.
func FrameDropped(device, reason string) {
	framesDropped.WithLabelValues(device, reason).Inc()
	updateCache(device, func(s *CaptureStats) { s.Dropped++ })
}

// CaptureFault records a capture loop that stopped on a hard error.
func CaptureFault(device, code string) {
	captureFaults.WithLabelValues(device, code).Inc()
	updateCache(device, func(s *CaptureStats) { s.Faults++ })
}

// SetStreaming sets the streaming gauge for a device.
func SetStreaming(device string, live bool) {
	v := 0.0
	if live {
		v = 1
	}
	streaming.WithLabelValues(device).Set(v)
	updateCache(device, func(s *CaptureStats) { s.Streaming = live })
}

// SetMappedBuffers sets the number of mapped buffers for a device.
func SetMappedBuffers(device string, n int) {
	mappedBuffers.WithLabelValues(device).Set(float64(n))
	updateCache(device, func(s *CaptureStats) { s.Buffers = n })
}

// DeleteCaptureMetrics removes every series and cached value for a device.
func DeleteCaptureMetrics(device string) {
	framesCaptured.DeleteLabelValues(device)
	conversionSeconds.DeleteLabelValues(device)
	streaming.DeleteLabelValues(device)
	mappedBuffers.DeleteLabelValues(device)
	framesDropped.DeletePartialMatch(prometheus.Labels{"device": device})
	captureFaults.DeletePartialMatch(prometheus.Labels{"device": device})

	captureCacheMu.Lock()
	delete(captureCache, device)
	captureCacheMu.Unlock()
}

// GetCaptureStats returns a copy of the cached values for a device, or nil.
func GetCaptureStats(device string) *CaptureStats {
	captureCacheMu.RLock()
	defer captureCacheMu.RUnlock()
	if s, ok := captureCache[device]; ok {
		dup := *s
		return &dup
	}
	return nil
}

func updateCache(device string, update func(*CaptureStats)) {
	captureCacheMu.Lock()
	defer captureCacheMu.Unlock()
	s, ok := captureCache[device]
	if !ok {
		s = &CaptureStats{}
		captureCache[device] = s
	}
	update(s)
}
