package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/smazurov/vidgrab/internal/logging"
	"github.com/smazurov/vidgrab/internal/metrics"
	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
)

// Engine timing defaults.
const (
	DefaultWaitTimeout = 2 * time.Second
	DefaultJoinGrace   = 500 * time.Millisecond
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	// WaitTimeout bounds one readiness wait, and therefore how long Stop
	// may take to be noticed by the capture goroutine.
	WaitTimeout time.Duration
	// JoinGrace is added to WaitTimeout when Stop joins the goroutine.
	JoinGrace time.Duration
	// OnFault is called from the capture goroutine when the loop dies on a
	// hard error. It must not call back into the engine.
	OnFault func(error)
	Logger  *slog.Logger
}

// Engine runs the capture goroutine: wait, dequeue, convert, publish and
// requeue until stopped.
type Engine struct {
	dev  Backend
	path string
	pool *BufferPool
	conv *Converter
	pub  *Publisher

	waitTimeout time.Duration
	joinGrace   time.Duration
	onFault     func(error)
	logger      *slog.Logger

	mu    sync.Mutex
	state StreamingState
	done  chan struct{}

	live   atomic.Bool
	frames atomic.Uint64

	errMu   sync.Mutex
	lastErr error
}

// NewEngine wires an engine to its collaborators. It starts stopped.
func NewEngine(dev Backend, path string, pool *BufferPool, conv *Converter, pub *Publisher, opts EngineOptions) *Engine {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.JoinGrace <= 0 {
		opts.JoinGrace = DefaultJoinGrace
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("capture")
	}
	return &Engine{
		dev:         dev,
		path:        path,
		pool:        pool,
		conv:        conv,
		pub:         pub,
		waitTimeout: opts.WaitTimeout,
		joinGrace:   opts.JoinGrace,
		onFault:     opts.OnFault,
		logger:      opts.Logger,
		state:       StateStopped,
	}
}

// State returns the current streaming state.
func (e *Engine) State() StreamingState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Live reports whether the capture goroutine is running. It turns false
// when Stop is requested or the loop died on a fault.
func (e *Engine) Live() bool {
	return e.live.Load()
}

// Frames returns the number of frames published since the last Start.
func (e *Engine) Frames() uint64 {
	return e.frames.Load()
}

// Err returns the fault that ended the most recent run, if any.
func (e *Engine) Err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastErr
}

// Start hands every buffer to the driver, turns the stream on and launches
// the capture goroutine.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateDraining {
		if err := e.settleLocked("start"); err != nil {
			return err
		}
	}
	if e.state == StateStreaming {
		return newError(ErrInvalidState, "start", e.path, errors.New("already streaming"))
	}

	e.setErr(nil)
	e.frames.Store(0)

	if err := e.pool.EnqueueAll(); err != nil {
		e.abortStart()
		return err
	}
	if err := e.dev.StreamOn(); err != nil {
		e.abortStart()
		return newError(ErrStreamToggle, "streamon", e.path, err)
	}

	e.state = StateStreaming
	e.live.Store(true)
	e.done = make(chan struct{})
	go e.run(e.done)

	metrics.SetStreaming(e.path, true)
	e.logger.Info("Streaming started", "device", e.path, "buffers", e.pool.Len())
	return nil
}

// abortStart takes back buffers that were queued before a failed start.
func (e *Engine) abortStart() {
	_ = e.dev.StreamOff()
	e.pool.reclaimAll()
}

// Stop asks the capture goroutine to exit, waits for it, and turns the
// stream off. Stopping a stopped engine does nothing.
//
// When the goroutine misses the join deadline the engine is left draining:
// buffers stay where they are, Start is refused and a later Stop joins
// again.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateStopped {
		return nil
	}

	e.live.Store(false)

	join := e.waitTimeout + e.joinGrace
	select {
	case <-e.done:
	case <-time.After(join):
		if e.state == StateStreaming {
			e.state = StateDraining
			metrics.SetStreaming(e.path, false)
		}
		e.logger.Warn("Capture goroutine still running after stop", "device", e.path, "waited", join)
		return newError(ErrIO, "stop", e.path,
			fmt.Errorf("capture goroutine did not exit within %s", join))
	}
	return e.finishLocked()
}

// Settle completes a stop that timed out, once the capture goroutine has
// exited. It returns an ErrInvalidState error while the goroutine is still
// running and nil in any other state.
func (e *Engine) Settle() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateDraining {
		return nil
	}
	return e.settleLocked("settle")
}

func (e *Engine) settleLocked(op string) error {
	select {
	case <-e.done:
		return e.finishLocked()
	default:
		return newError(ErrInvalidState, op, e.path, errors.New("capture goroutine still draining"))
	}
}

// finishLocked runs once the goroutine is gone.
func (e *Engine) finishLocked() error {
	var err error
	if offErr := e.dev.StreamOff(); offErr != nil {
		err = newError(ErrStreamToggle, "streamoff", e.path, offErr)
	}
	e.pool.reclaimAll()
	e.state = StateStopped

	metrics.SetStreaming(e.path, false)
	e.logger.Info("Streaming stopped", "device", e.path, "frames", e.frames.Load())
	return err
}

// Done returns a channel that is closed once the goroutine launched by the
// last Start has exited.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil {
		return closedDone
	}
	return e.done
}

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

func (e *Engine) run(done chan struct{}) {
	defer close(done)

	for e.live.Load() {
		ready, err := e.dev.WaitReadable(e.waitTimeout)
		if err != nil {
			if errors.Is(err, v4l2.ErrInterrupted) || errors.Is(err, syscall.EINTR) {
				continue
			}
			e.fail(newError(ErrDequeue, "wait", e.path, err))
			return
		}
		if !ready || !e.live.Load() {
			continue
		}

		buf, err := e.dev.Dequeue()
		if errors.Is(err, v4l2.ErrNotReady) {
			continue
		}
		if err != nil {
			e.fail(newError(ErrDequeue, "dqbuf", e.path, err))
			return
		}

		mem, err := e.pool.acquire(buf.Index)
		if err != nil {
			e.fail(err)
			return
		}

		e.deliver(mem, buf)

		if err := e.pool.requeue(buf.Index); err != nil {
			e.fail(err)
			return
		}
	}
}

// deliver converts and publishes one dequeued buffer. Buffers too short for
// the negotiated geometry are dropped.
func (e *Engine) deliver(mem []byte, buf v4l2.Buffer) {
	used := int(buf.BytesUsed)
	if used > len(mem) {
		used = len(mem)
	}

	start := time.Now()
	rgb, err := e.conv.Convert(mem[:used])
	if err != nil {
		metrics.FrameDropped(e.path, metrics.DropShortBuffer)
		e.logger.Debug("Dropped frame", "device", e.path, "index", buf.Index, "sequence", buf.Sequence, "error", err)
		return
	}
	elapsed := time.Since(start)

	e.pub.Publish(Frame{
		Data:       rgb,
		Width:      e.conv.Width(),
		Height:     e.conv.Height(),
		Sequence:   uint64(buf.Sequence),
		CapturedAt: time.Now(),
	})
	e.frames.Add(1)
	metrics.FrameCaptured(e.path, elapsed)
}

func (e *Engine) fail(err error) {
	e.live.Store(false)
	e.setErr(err)
	e.logger.Error("Capture loop stopped", "device", e.path, "error", err)
	if e.onFault != nil {
		e.onFault(err)
	}
}

func (e *Engine) setErr(err error) {
	e.errMu.Lock()
	e.lastErr = err
	e.errMu.Unlock()
}
