package capture

import (
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/smazurov/vidgrab/internal/events"
	"github.com/smazurov/vidgrab/internal/metrics"
	"github.com/smazurov/vidgrab/internal/simdev"
	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
)

func TestEndToEnd(t *testing.T) {
	dev := simdev.New(simdev.Config{})
	reg := newFakeRegistry()
	s := openSim(t, "/dev/sim-e2e", dev, Options{BufferCount: 4, Registry: reg})

	if !reg.has(s.ID()) {
		t.Error("session not registered after Open")
	}

	w, h, err := s.Configure(640, 480)
	if err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if w != 640 || h != 480 {
		t.Fatalf("Configure() = %dx%d, want 640x480", w, h)
	}
	if st := dev.Stats(); st.Allocated != 4 || st.Mapped != 4 {
		t.Fatalf("driver has %d allocated, %d mapped, want 4/4", st.Allocated, st.Mapped)
	}

	if f := s.GrabFrame(); !f.Empty() {
		t.Errorf("GrabFrame() before capture = %d bytes, want 0", f.Len())
	}

	if err := s.StartStreaming(); err != nil {
		t.Fatalf("StartStreaming() error = %v", err)
	}

	lumas := []byte{60, 120, 180}
	for i, y := range lumas {
		feed(t, s, dev, simdev.SolidYUYV(640, 480, y, 128, 128))
		waitFor(t, "publish", func() bool { return s.pub.Published() == uint64(i+1) })
	}

	f := s.GrabFrame()
	if f.Len() != 640*480*3 {
		t.Fatalf("GrabFrame() = %d bytes, want %d", f.Len(), 640*480*3)
	}
	if f.Width != 640 || f.Height != 480 || f.Sequence != 2 {
		t.Errorf("GrabFrame() = %dx%d seq %d, want 640x480 seq 2", f.Width, f.Height, f.Sequence)
	}
	if f.Data[3] != 190 || f.Data[4] != 190 || f.Data[5] != 190 {
		t.Errorf("pixel 1 = %v, want the third frame's gray 190", f.Data[3:6])
	}

	if err := s.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming() error = %v", err)
	}
	if got := s.engine.Frames(); got != 3 {
		t.Errorf("Frames() = %d, want 3", got)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() = %v after a clean run", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	st := dev.Stats()
	if st.Mapped != 0 || st.Allocated != 0 {
		t.Errorf("after Close driver has %d allocated, %d mapped", st.Allocated, st.Mapped)
	}
	if !st.Closed || st.Streaming {
		t.Errorf("after Close closed=%v streaming=%v", st.Closed, st.Streaming)
	}
	if reg.has(s.ID()) {
		t.Error("session still registered after Close")
	}
	if !s.GrabFrame().Empty() {
		t.Error("publisher storage not released on Close")
	}
}

func TestOpenErrors(t *testing.T) {
	tests := []struct {
		name   string
		opener Opener
		want   ErrorCode
	}{
		{
			"open fails",
			func(string) (Backend, error) { return nil, syscall.ENOENT },
			ErrDeviceOpen,
		},
		{
			"not a capture device",
			simOpener(simdev.New(simdev.Config{Capabilities: v4l2.CapStreaming})),
			ErrUnsupportedCapability,
		},
		{
			"no streaming",
			simOpener(simdev.New(simdev.Config{Capabilities: v4l2.CapVideoCapture | v4l2.CapReadWrite})),
			ErrUnsupportedCapability,
		},
		{
			"querycap fails",
			func(string) (Backend, error) {
				d := simdev.New(simdev.Config{})
				d.Inject(simdev.OpQueryCap, simdev.Fault{Err: syscall.EIO})
				return d, nil
			},
			ErrIO,
		},
		{
			"enumeration fails",
			func(string) (Backend, error) {
				d := simdev.New(simdev.Config{})
				d.Inject(simdev.OpEnumFormat, simdev.Fault{Err: syscall.EIO, After: 1})
				return d, nil
			},
			ErrIO,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open("/dev/sim-open", &Options{Opener: tt.opener})
			if !IsCode(err, tt.want) {
				t.Errorf("Open() error = %v, want code %s", err, tt.want)
			}
		})
	}
}

func TestOpenClosesRejectedDevice(t *testing.T) {
	dev := simdev.New(simdev.Config{Capabilities: v4l2.CapReadWrite})
	if _, err := Open("/dev/sim-reject", &Options{Opener: simOpener(dev)}); err == nil {
		t.Fatal("Open() should fail")
	}
	if !dev.Stats().Closed {
		t.Error("rejected device left open")
	}
}

func TestFormatsCached(t *testing.T) {
	dev := simdev.New(simdev.Config{})
	s := openSim(t, "/dev/sim-formats", dev, Options{})

	formats := s.Formats()
	if len(formats) != 2 {
		t.Fatalf("Formats() = %d entries, want 2", len(formats))
	}
	if formats[0].FourCC != "YUYV" || len(formats[0].Sizes) != 3 {
		t.Errorf("first format = %+v", formats[0])
	}
	if !formats[1].Compressed {
		t.Error("MJPEG not marked compressed")
	}

	formats[0].Sizes[0] = v4l2.DiscreteSize(1, 1)
	if s.Formats()[0].Sizes[0].MaxWidth == 1 {
		t.Error("Formats() exposed the cached slice")
	}
}

func TestConfigure(t *testing.T) {
	t.Run("driver adjusts geometry", func(t *testing.T) {
		dev := simdev.New(simdev.Config{})
		s := openSim(t, "/dev/sim-adjust", dev, Options{})
		w, h, err := s.Configure(700, 500)
		if err != nil {
			t.Fatal(err)
		}
		if w != 640 || h != 480 {
			t.Errorf("Configure(700, 500) = %dx%d, want 640x480", w, h)
		}
		neg, ok := s.Negotiated()
		if !ok || neg.BytesPerLine != 1280 || neg.FourCC() != "YUYV" {
			t.Errorf("Negotiated() = %+v, %v", neg, ok)
		}
	})

	t.Run("no yuyv", func(t *testing.T) {
		dev := simdev.New(simdev.Config{Formats: simdev.DefaultFormats()[1:]})
		s := openSim(t, "/dev/sim-mjpeg", dev, Options{})
		if _, _, err := s.Configure(1920, 1080); !IsCode(err, ErrFormatNegotiation) {
			t.Errorf("Configure() error = %v, want FORMAT_NEGOTIATION", err)
		}
	})

	t.Run("zero geometry", func(t *testing.T) {
		s := openSim(t, "/dev/sim-zero", simdev.New(simdev.Config{}), Options{})
		if _, _, err := s.Configure(0, 480); !IsCode(err, ErrFormatNegotiation) {
			t.Errorf("Configure(0, 480) error = %v", err)
		}
	})

	t.Run("too few buffers", func(t *testing.T) {
		dev := simdev.New(simdev.Config{MaxBuffers: 1})
		s := openSim(t, "/dev/sim-onebuf", dev, Options{})
		if _, _, err := s.Configure(640, 480); !IsCode(err, ErrBufferAllocation) {
			t.Errorf("Configure() error = %v, want BUFFER_ALLOCATION", err)
		}
		if dev.Stats().Allocated != 0 {
			t.Error("partial grant was not returned to the driver")
		}
		if err := s.StartStreaming(); !IsCode(err, ErrInvalidState) {
			t.Errorf("StartStreaming() after failed Configure error = %v", err)
		}
	})

	t.Run("mapping rolls back", func(t *testing.T) {
		dev := simdev.New(simdev.Config{})
		dev.Inject(simdev.OpMap, simdev.Fault{Err: syscall.ENOMEM, After: 2, Times: 1})
		s := openSim(t, "/dev/sim-maprb", dev, Options{})
		if _, _, err := s.Configure(640, 480); !IsCode(err, ErrMapping) {
			t.Fatalf("Configure() error = %v, want MAPPING", err)
		}
		if st := dev.Stats(); st.Mapped != 0 || st.Allocated != 0 {
			t.Errorf("after rollback %d mapped, %d allocated", st.Mapped, st.Allocated)
		}
		if _, _, err := s.Configure(640, 480); err != nil {
			t.Errorf("Configure() retry error = %v", err)
		}
	})

	t.Run("reconfigure rebuilds pool", func(t *testing.T) {
		s, dev := configuredSim(t, "/dev/sim-resize", simdev.Config{}, Options{BufferCount: 3})
		s.pub.Publish(Frame{Data: []byte{1, 2, 3}, Width: 1, Height: 1})

		w, h, err := s.Configure(320, 240)
		if err != nil || w != 320 || h != 240 {
			t.Fatalf("Configure(320, 240) = %dx%d, %v", w, h, err)
		}
		if st := dev.Stats(); st.Allocated != 3 || st.Mapped != 3 {
			t.Errorf("after resize %d allocated, %d mapped, want 3/3", st.Allocated, st.Mapped)
		}
		if !s.GrabFrame().Empty() {
			t.Error("stale frame survived renegotiation")
		}
		if s.conv.OutputSize() != 320*240*3 {
			t.Errorf("converter not resized: %d", s.conv.OutputSize())
		}
	})

	t.Run("while streaming", func(t *testing.T) {
		s, _ := configuredSim(t, "/dev/sim-busy", simdev.Config{}, Options{})
		if err := s.StartStreaming(); err != nil {
			t.Fatal(err)
		}
		if _, _, err := s.Configure(320, 240); !IsCode(err, ErrInvalidState) {
			t.Errorf("Configure() while streaming error = %v, want INVALID_STATE", err)
		}
	})
}

func TestStartStopStateMachine(t *testing.T) {
	s, dev := configuredSim(t, "/dev/sim-state", simdev.Config{}, Options{})

	if err := s.StopStreaming(); err != nil {
		t.Errorf("StopStreaming() when stopped = %v, want nil", err)
	}

	if err := s.StartStreaming(); err != nil {
		t.Fatal(err)
	}
	if err := s.StartStreaming(); !IsCode(err, ErrInvalidState) {
		t.Errorf("second StartStreaming() error = %v, want INVALID_STATE", err)
	}
	if n := dev.Stats().StreamOns; n != 1 {
		t.Errorf("stream turned on %d times, want 1", n)
	}
	if st := s.Status(); st.State != StateStreaming || !st.Live {
		t.Errorf("Status() = %s live=%v", st.State, st.Live)
	}

	if err := s.StopStreaming(); err != nil {
		t.Fatal(err)
	}
	st := s.Status()
	if st.State != StateStopped || st.Live {
		t.Errorf("Status() after stop = %s live=%v", st.State, st.Live)
	}
	for _, b := range st.Pool.Buffers {
		if b.Owner != "application" {
			t.Errorf("buffer %d owned by %s after stop", b.Index, b.Owner)
		}
	}

	// Restart after a stop is allowed.
	if err := s.StartStreaming(); err != nil {
		t.Errorf("restart error = %v", err)
	}
	if err := s.StopStreaming(); err != nil {
		t.Errorf("second stop error = %v", err)
	}
}

func TestStreamOnFailure(t *testing.T) {
	s, dev := configuredSim(t, "/dev/sim-streamon", simdev.Config{}, Options{})
	dev.Inject(simdev.OpStreamOn, simdev.Fault{Err: syscall.EIO, Times: 1})

	if err := s.StartStreaming(); !IsCode(err, ErrStreamToggle) {
		t.Fatalf("StartStreaming() error = %v, want STREAM_TOGGLE", err)
	}
	if s.Status().State != StateStopped {
		t.Error("state changed after failed start")
	}
	if err := s.StartStreaming(); err != nil {
		t.Errorf("retry after failed start error = %v", err)
	}
}

func TestShortBufferDropped(t *testing.T) {
	const path = "/dev/sim-short"
	s, dev := configuredSim(t, path, simdev.Config{}, Options{})
	if err := s.StartStreaming(); err != nil {
		t.Fatal(err)
	}

	feed(t, s, dev, make([]byte, 1000))
	waitFor(t, "drop", func() bool {
		st := metrics.GetCaptureStats(path)
		return st != nil && st.Dropped == 1
	})
	if s.pub.Published() != 0 {
		t.Error("short buffer was published")
	}

	feed(t, s, dev, simdev.SolidYUYV(640, 480, 126, 128, 128))
	waitFor(t, "publish", func() bool { return s.pub.Published() == 1 })
	if s.Err() != nil {
		t.Errorf("Err() = %v", s.Err())
	}
}

func TestInterruptedWaitIsRetried(t *testing.T) {
	s, dev := configuredSim(t, "/dev/sim-eintr", simdev.Config{}, Options{})
	dev.Inject(simdev.OpWait, simdev.Fault{Err: v4l2.ErrInterrupted, Times: 3})
	if err := s.StartStreaming(); err != nil {
		t.Fatal(err)
	}

	feed(t, s, dev, simdev.SolidYUYV(640, 480, 126, 128, 128))
	waitFor(t, "publish", func() bool { return s.pub.Published() == 1 })
	if !s.engine.Live() || s.Err() != nil {
		t.Errorf("loop died on an interrupted wait: %v", s.Err())
	}
}

func TestFatalFaults(t *testing.T) {
	tests := []struct {
		name   string
		op     simdev.Op
		fault  simdev.Fault
		code   ErrorCode
		errOp  string
		frames uint64
	}{
		{"wait error", simdev.OpWait, simdev.Fault{Err: syscall.EIO}, ErrDequeue, "wait", 0},
		{"dequeue error", simdev.OpDequeue, simdev.Fault{Err: syscall.EIO}, ErrDequeue, "dqbuf", 0},
		{"requeue error", simdev.OpEnqueue, simdev.Fault{Err: syscall.EIO, After: 4}, ErrEnqueue, "qbuf", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := events.New()
			faults := subscribe[events.CaptureFaultEvent](bus)
			path := "/dev/sim-fault-" + string(tt.op)
			s, dev := configuredSim(t, path, simdev.Config{}, Options{Bus: bus})

			dev.Inject(tt.op, tt.fault)
			if err := s.StartStreaming(); err != nil {
				t.Fatal(err)
			}
			_ = dev.Feed(simdev.SolidYUYV(640, 480, 126, 128, 128))

			ev := receive(t, faults)
			if ev.Code != string(tt.code) || ev.DevicePath != path || ev.SessionID != s.ID() {
				t.Errorf("fault event = %+v", ev)
			}

			var ce *Error
			if !errors.As(s.Err(), &ce) || ce.Code != tt.code || ce.Op != tt.errOp {
				t.Fatalf("Err() = %v, want %s during %s", s.Err(), tt.code, tt.errOp)
			}
			if s.engine.Live() {
				t.Error("loop still live after a fatal error")
			}
			if got := s.engine.Frames(); got != tt.frames {
				t.Errorf("Frames() = %d, want %d", got, tt.frames)
			}
			if st := metrics.GetCaptureStats(path); st == nil || st.Faults != 1 {
				t.Errorf("fault not counted: %+v", st)
			}

			// Nothing is handed back to the driver after the fault.
			if got := dev.Stats().Enqueues; got != 4 {
				t.Errorf("driver saw %d enqueues, want 4", got)
			}

			dev.Clear(tt.op)
			if err := s.StopStreaming(); err != nil {
				t.Errorf("StopStreaming() after fault error = %v", err)
			}
			if s.Status().LastError == "" {
				t.Error("Status() lost the fault")
			}
		})
	}
}

func TestGeneratedStreamKeepsOwnership(t *testing.T) {
	s, dev := configuredSim(t, "/dev/sim-bars", simdev.Config{
		Generator:     simdev.ColorBars,
		FrameInterval: 2 * time.Millisecond,
	}, Options{BufferCount: 2})

	if err := s.StartStreaming(); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for s.pub.Published() < 20 {
			if f := s.GrabFrame(); f.Len() != 0 && f.Len() != 640*480*3 {
				t.Errorf("GrabFrame() = %d bytes", f.Len())
				return
			}
		}
	}()
	waitFor(t, "20 frames", func() bool { return s.pub.Published() >= 20 })
	<-done

	if err := s.StopStreaming(); err != nil {
		t.Fatal(err)
	}
	if s.Err() != nil {
		t.Errorf("ownership violation: %v", s.Err())
	}
	if got := len(dev.DequeuedIndices()); uint64(got) < s.engine.Frames() {
		t.Errorf("%d dequeues for %d frames", got, s.engine.Frames())
	}
}

func TestCloseIsBestEffort(t *testing.T) {
	bus := events.New()
	closed := subscribe[events.SessionClosedEvent](bus)
	reg := newFakeRegistry()
	s, dev := configuredSim(t, "/dev/sim-close", simdev.Config{}, Options{Bus: bus, Registry: reg})
	if err := s.StartStreaming(); err != nil {
		t.Fatal(err)
	}

	dev.Inject(simdev.OpStreamOff, simdev.Fault{Err: syscall.EIO, Times: 1})
	dev.Inject(simdev.OpClose, simdev.Fault{Err: syscall.EIO, Times: 1})

	err := s.Close()
	if !IsCode(err, ErrStreamToggle) || !IsCode(err, ErrIO) {
		t.Errorf("Close() error = %v, want both STREAM_TOGGLE and IO", err)
	}
	if dev.Stats().Mapped != 0 {
		t.Error("buffers still mapped after a failed stream-off")
	}
	if reg.has(s.ID()) {
		t.Error("session still registered")
	}
	if ev := receive(t, closed); ev.Error == "" {
		t.Error("SessionClosedEvent carries no error")
	}

	if err := s.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if _, _, err := s.Configure(640, 480); !IsCode(err, ErrInvalidState) {
		t.Errorf("Configure() after Close error = %v", err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	bus := events.New()
	opened := subscribe[events.SessionOpenedEvent](bus)
	negotiated := subscribe[events.FormatNegotiatedEvent](bus)
	started := subscribe[events.StreamingStartedEvent](bus)
	stopped := subscribe[events.StreamingStoppedEvent](bus)

	s, _ := configuredSim(t, "/dev/sim-events", simdev.Config{}, Options{Bus: bus})
	if ev := receive(t, opened); ev.SessionID != s.ID() || ev.Formats != 2 || ev.Driver != "simdev" {
		t.Errorf("SessionOpenedEvent = %+v", ev)
	}
	if ev := receive(t, negotiated); ev.Width != 640 || ev.PixelFormat != "YUYV" || ev.Buffers != DefaultBufferCount {
		t.Errorf("FormatNegotiatedEvent = %+v", ev)
	}

	if err := s.StartStreaming(); err != nil {
		t.Fatal(err)
	}
	receive(t, started)
	if err := s.StopStreaming(); err != nil {
		t.Fatal(err)
	}
	if ev := receive(t, stopped); ev.Frames != 0 {
		t.Errorf("StreamingStoppedEvent = %+v", ev)
	}
}

func TestReconfigureWhileStreaming(t *testing.T) {
	s, dev := configuredSim(t, "/dev/sim-reconf", simdev.Config{}, Options{})
	if err := s.StartStreaming(); err != nil {
		t.Fatal(err)
	}
	feed(t, s, dev, simdev.SolidYUYV(640, 480, 126, 128, 128))
	waitFor(t, "publish", func() bool { return s.pub.Published() == 1 })

	w, h, err := s.Reconfigure(320, 240)
	if err != nil || w != 320 || h != 240 {
		t.Fatalf("Reconfigure() = %dx%d, %v", w, h, err)
	}
	if s.Status().State != StateStreaming {
		t.Error("streaming not resumed after Reconfigure")
	}
	if !s.GrabFrame().Empty() {
		t.Error("frame from the old geometry survived")
	}

	feed(t, s, dev, simdev.SolidYUYV(320, 240, 126, 128, 128))
	waitFor(t, "publish", func() bool { return s.pub.Published() == 1 })
	if f := s.GrabFrame(); f.Len() != 320*240*3 {
		t.Errorf("GrabFrame() = %d bytes, want %d", f.Len(), 320*240*3)
	}
	if n := dev.Stats().StreamOns; n != 2 {
		t.Errorf("StreamOns = %d, want 2", n)
	}
}

func TestReconfigureWhileStopped(t *testing.T) {
	s, _ := configuredSim(t, "/dev/sim-reconf-stopped", simdev.Config{}, Options{})
	if _, _, err := s.Reconfigure(1280, 720); err != nil {
		t.Fatal(err)
	}
	if s.Status().State != StateStopped {
		t.Error("Reconfigure() started a stopped session")
	}
}
