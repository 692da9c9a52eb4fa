package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/vidgrab/internal/events"
	"github.com/smazurov/vidgrab/internal/logging"
	"github.com/smazurov/vidgrab/internal/metrics"
	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
)

// DefaultBufferCount is the number of buffers requested from the driver.
const DefaultBufferCount = 4

// Options configures a Session.
type Options struct {
	// Opener opens the device backend. Defaults to OpenDevice.
	Opener Opener
	// Registry, when set, tracks the session for emergency cleanup.
	Registry Registry
	// Bus receives lifecycle events. A nil bus drops them.
	Bus    *events.Bus
	Logger *slog.Logger

	BufferCount uint32
	// FrameRate, when set, is requested after every format negotiation.
	FrameRate   uint32
	WaitTimeout time.Duration
	JoinGrace   time.Duration
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Opener == nil {
		out.Opener = OpenDevice
	}
	if out.Logger == nil {
		out.Logger = logging.GetLogger("capture")
	}
	if out.BufferCount == 0 {
		out.BufferCount = DefaultBufferCount
	}
	if out.WaitTimeout <= 0 {
		out.WaitTimeout = DefaultWaitTimeout
	}
	if out.JoinGrace <= 0 {
		out.JoinGrace = DefaultJoinGrace
	}
	return out
}

// Status is a point-in-time view of a session.
type Status struct {
	ID           string         `json:"id"`
	Path         string         `json:"path"`
	State        StreamingState `json:"state"`
	Live         bool           `json:"live"`
	Capabilities Capabilities   `json:"capabilities"`
	Negotiated   *Negotiated    `json:"negotiated,omitempty"`
	Pool         PoolSnapshot   `json:"pool"`
	Frames       uint64         `json:"frames"`
	Published    uint64         `json:"published"`
	LastError    string         `json:"last_error,omitempty"`
	Closed       bool           `json:"closed"`
}

// Session owns one capture device from open to close.
type Session struct {
	id      string
	path    string
	opts    Options
	logger  *slog.Logger
	dev     Backend
	neg     *Negotiator
	caps    Capabilities
	formats []PixelFormatDescriptor

	pool   *BufferPool
	conv   *Converter
	pub    *Publisher
	engine *Engine

	mu         sync.Mutex
	negotiated Negotiated
	configured bool
	closed     bool
	wantRate   uint32
}

// Open opens path, checks that it is a streaming capture device and caches
// its formats. The session is not configured yet.
func Open(path string, opts *Options) (*Session, error) {
	o := opts.withDefaults()

	dev, err := o.Opener(path)
	if err != nil {
		return nil, newError(ErrDeviceOpen, "open", path, err)
	}

	neg := NewNegotiator(dev, path)
	caps, err := neg.QueryCapabilities()
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	if !caps.IsCaptureDevice {
		_ = dev.Close()
		return nil, newError(ErrUnsupportedCapability, "querycap", path, errors.New("not a video capture device"))
	}
	if !caps.SupportsStreaming {
		_ = dev.Close()
		return nil, newError(ErrUnsupportedCapability, "querycap", path, errors.New("device does not support streaming i/o"))
	}

	formats, err := neg.SupportedFormats()
	if err != nil {
		_ = dev.Close()
		return nil, err
	}

	s := &Session{
		id:      uuid.NewString(),
		path:    path,
		opts:    o,
		logger:  o.Logger.With("device", path),
		dev:     dev,
		neg:     neg,
		caps:    caps,
		formats: formats,
		pool:    NewBufferPool(dev, path),
		conv:    NewConverter(0, 0, 0),
		pub:     NewPublisher(),

		wantRate: o.FrameRate,
	}
	s.engine = NewEngine(dev, path, s.pool, s.conv, s.pub, EngineOptions{
		WaitTimeout: o.WaitTimeout,
		JoinGrace:   o.JoinGrace,
		OnFault:     s.handleFault,
		Logger:      o.Logger,
	})

	if o.Registry != nil {
		o.Registry.Register(s)
	}

	s.logger.Info("Opened capture device", "id", s.id, "driver", caps.Driver, "card", caps.Card, "formats", len(formats))
	o.Bus.Publish(events.SessionOpenedEvent{
		SessionID:  s.id,
		DevicePath: path,
		Driver:     caps.Driver,
		Card:       caps.Card,
		Formats:    len(formats),
		Timestamp:  time.Now(),
	})
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Path returns the device path.
func (s *Session) Path() string { return s.path }

// Capabilities returns the capability query result from open.
func (s *Session) Capabilities() Capabilities { return s.caps }

// Formats returns the formats enumerated at open.
func (s *Session) Formats() []PixelFormatDescriptor {
	out := make([]PixelFormatDescriptor, len(s.formats))
	for i, f := range s.formats {
		f.Sizes = slices.Clone(f.Sizes)
		out[i] = f
	}
	return out
}

// Negotiated returns the active format and whether one was negotiated.
func (s *Session) Negotiated() (Negotiated, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiated, s.configured
}

func (s *Session) format(code uint32) (PixelFormatDescriptor, bool) {
	for _, f := range s.formats {
		if f.Code == code {
			return f, true
		}
	}
	return PixelFormatDescriptor{}, false
}

// Configure negotiates YUYV at width x height and rebuilds the buffer pool
// for the geometry the driver accepted, which it returns.
func (s *Session) Configure(width, height uint32) (uint32, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configureLocked(width, height)
}

// Reconfigure is Configure for a session that may be streaming: it stops
// the capture goroutine, renegotiates and starts again if it was running.
func (s *Session) Reconfigure(width, height uint32) (uint32, uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, 0, newError(ErrInvalidState, "configure", s.path, errors.New("session closed"))
	}
	wasStreaming := s.engine.State() == StateStreaming
	if err := s.stopLocked(); err != nil {
		return 0, 0, err
	}
	w, h, err := s.configureLocked(width, height)
	if err != nil {
		return 0, 0, err
	}
	if wasStreaming {
		if err := s.startLocked(); err != nil {
			return w, h, err
		}
	}
	return w, h, nil
}

func (s *Session) configureLocked(width, height uint32) (uint32, uint32, error) {
	if s.closed {
		return 0, 0, newError(ErrInvalidState, "configure", s.path, errors.New("session closed"))
	}
	if err := s.engine.Settle(); err != nil {
		return 0, 0, err
	}
	if s.engine.State() == StateStreaming {
		return 0, 0, newError(ErrInvalidState, "configure", s.path, errors.New("stop streaming first"))
	}
	if width == 0 || height == 0 {
		return 0, 0, newError(ErrFormatNegotiation, "configure", s.path,
			fmt.Errorf("invalid geometry %dx%d", width, height))
	}
	if _, ok := s.format(v4l2.PixFmtYUYV); !ok {
		return 0, 0, newError(ErrFormatNegotiation, "configure", s.path,
			fmt.Errorf("device does not offer %s", v4l2.FormatFourCC(v4l2.PixFmtYUYV)))
	}

	// The driver refuses a new format while buffers exist.
	if err := s.pool.Release(); err != nil {
		return 0, 0, err
	}
	s.configured = false
	s.pub.Reset()
	metrics.SetMappedBuffers(s.path, 0)

	neg, err := s.neg.SetFormat(v4l2.PixFmtYUYV, width, height)
	if err != nil {
		return 0, 0, err
	}
	if neg.PixelFormat != v4l2.PixFmtYUYV {
		return 0, 0, newError(ErrFormatNegotiation, "s_fmt", s.path,
			fmt.Errorf("driver substituted %s", neg.FourCC()))
	}

	// Drivers reset the frame interval on a format change.
	if s.wantRate > 0 {
		if _, err := s.neg.SetFrameRate(s.wantRate); err != nil {
			s.logger.Warn("Failed to apply frame rate", "fps", s.wantRate, "error", err)
		}
	}
	if rate, ok, err := s.neg.FrameRate(); err != nil {
		s.logger.Debug("Failed to read frame rate", "error", err)
	} else if ok {
		neg.FrameRate = rate.Rate()
	}

	count, err := s.pool.Allocate(s.opts.BufferCount)
	if err != nil {
		return 0, 0, err
	}
	if err := s.pool.MapAll(count); err != nil {
		_ = s.pool.Release()
		return 0, 0, err
	}

	s.conv.Resize(int(neg.Width), int(neg.Height), int(neg.BytesPerLine))
	s.negotiated = neg
	s.configured = true
	metrics.SetMappedBuffers(s.path, int(count))

	s.logger.Info("Format negotiated",
		"requested", fmt.Sprintf("%dx%d", width, height),
		"width", neg.Width, "height", neg.Height,
		"bytes_per_line", neg.BytesPerLine, "fps", neg.FrameRate, "buffers", count)
	s.opts.Bus.Publish(events.FormatNegotiatedEvent{
		SessionID:       s.id,
		DevicePath:      s.path,
		RequestedWidth:  width,
		RequestedHeight: height,
		Width:           neg.Width,
		Height:          neg.Height,
		PixelFormat:     neg.FourCC(),
		Buffers:         count,
		Timestamp:       time.Now(),
	})
	return neg.Width, neg.Height, nil
}

// FrameIntervals lists the frame intervals the device offers at the
// negotiated format.
func (s *Session) FrameIntervals() ([]FrameIntervalRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, newError(ErrInvalidState, "enum_frameintervals", s.path, errors.New("session closed"))
	}
	if !s.configured {
		return nil, newError(ErrInvalidState, "enum_frameintervals", s.path, errors.New("format not negotiated"))
	}
	n := s.negotiated
	out := []FrameIntervalRange{}
	for iv, err := range s.neg.FrameIntervals(n.PixelFormat, n.Width, n.Height) {
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, nil
}

// SetFrameRate asks the driver for fps frames per second and returns the
// rate it accepted. Drivers refuse the change while streaming, so a
// streaming session is stopped and restarted around it. The rate is
// requested again after every later Configure.
func (s *Session) SetFrameRate(fps uint32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, newError(ErrInvalidState, "s_parm", s.path, errors.New("session closed"))
	}
	wasStreaming := s.engine.State() == StateStreaming
	if err := s.stopLocked(); err != nil {
		return 0, err
	}

	tpf, err := s.neg.SetFrameRate(fps)
	if err != nil {
		if wasStreaming {
			err = errors.Join(err, s.startLocked())
		}
		return 0, err
	}
	s.wantRate = fps
	if s.configured {
		s.negotiated.FrameRate = tpf.Rate()
	}
	s.logger.Info("Frame rate negotiated", "requested", fps, "fps", tpf.Rate(), "interval", tpf.String())
	s.opts.Bus.Publish(events.FrameRateChangedEvent{
		SessionID:  s.id,
		DevicePath: s.path,
		Requested:  fps,
		FrameRate:  tpf.Rate(),
		Interval:   tpf.String(),
		Timestamp:  time.Now(),
	})

	if wasStreaming {
		if err := s.startLocked(); err != nil {
			return tpf.Rate(), err
		}
	}
	return tpf.Rate(), nil
}

// StartStreaming launches the capture goroutine. The session must be
// configured and not already streaming.
func (s *Session) StartStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Session) startLocked() error {
	if s.closed {
		return newError(ErrInvalidState, "start", s.path, errors.New("session closed"))
	}
	if !s.configured {
		return newError(ErrInvalidState, "start", s.path, errors.New("format not negotiated"))
	}
	if err := s.engine.Start(); err != nil {
		return err
	}
	s.opts.Bus.Publish(events.StreamingStartedEvent{
		SessionID:  s.id,
		DevicePath: s.path,
		Timestamp:  time.Now(),
	})
	return nil
}

// StopStreaming stops the capture goroutine. It returns nil when the
// session is not streaming.
func (s *Session) StopStreaming() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if s.engine.State() == StateStopped {
		return nil
	}
	err := s.engine.Stop()
	s.opts.Bus.Publish(events.StreamingStoppedEvent{
		SessionID:  s.id,
		DevicePath: s.path,
		Frames:     s.engine.Frames(),
		Timestamp:  time.Now(),
	})
	return err
}

// GrabFrame returns a copy of the latest RGB24 frame. The frame is empty
// until the first capture after the last Configure.
func (s *Session) GrabFrame() Frame {
	return s.pub.Grab()
}

// Status reports the session state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:           s.id,
		Path:         s.path,
		State:        s.engine.State(),
		Live:         s.engine.Live(),
		Capabilities: s.caps,
		Pool:         s.pool.Snapshot(),
		Frames:       s.engine.Frames(),
		Published:    s.pub.Published(),
		Closed:       s.closed,
	}
	if s.configured {
		neg := s.negotiated
		st.Negotiated = &neg
	}
	if err := s.engine.Err(); err != nil {
		st.LastError = err.Error()
	}
	return st
}

// Err returns the fault that ended the last capture run, if any.
func (s *Session) Err() error {
	return s.engine.Err()
}

// Close stops streaming, releases every buffer and closes the device. Each
// step runs even when an earlier one fails. Closing twice does nothing.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.stopLocked(); err != nil {
		errs = append(errs, err)
	}
	s.configured = false
	if s.engine.State() == StateDraining {
		// The capture goroutine may still be reading a mapped buffer.
		s.logger.Warn("Deferring buffer release until the capture goroutine exits", "id", s.id)
		go s.releaseWhenDrained(s.engine.Done())
	} else {
		errs = append(errs, s.release()...)
	}

	if s.opts.Registry != nil {
		s.opts.Registry.Deregister(s)
	}
	metrics.DeleteCaptureMetrics(s.path)

	err := errors.Join(errs...)
	ev := events.SessionClosedEvent{SessionID: s.id, DevicePath: s.path, Timestamp: time.Now()}
	if err != nil {
		ev.Error = err.Error()
		s.logger.Warn("Closed capture device with errors", "id", s.id, "error", err)
	} else {
		s.logger.Info("Closed capture device", "id", s.id)
	}
	s.opts.Bus.Publish(ev)
	return err
}

// release unmaps every buffer and closes the device.
func (s *Session) release() []error {
	var errs []error
	if err := s.pool.Release(); err != nil {
		errs = append(errs, err)
	}
	s.pub.Reset()
	if err := s.dev.Close(); err != nil {
		errs = append(errs, newError(ErrIO, "close", s.path, err))
	}
	return errs
}

func (s *Session) releaseWhenDrained(done <-chan struct{}) {
	<-done
	err := s.engine.Settle()
	err = errors.Join(append([]error{err}, s.release()...)...)
	if err != nil {
		s.logger.Warn("Released capture device with errors", "id", s.id, "error", err)
		return
	}
	s.logger.Info("Released capture device", "id", s.id)
}

// handleFault runs on the capture goroutine; it must not take s.mu.
func (s *Session) handleFault(err error) {
	code := CodeOf(err)
	metrics.CaptureFault(s.path, string(code))
	s.opts.Bus.Publish(events.CaptureFaultEvent{
		SessionID:  s.id,
		DevicePath: s.path,
		Code:       string(code),
		Error:      err.Error(),
		Timestamp:  time.Now(),
	})
}
