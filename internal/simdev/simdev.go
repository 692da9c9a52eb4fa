// Package simdev implements the V4L2 streaming protocol in memory.
//
// A Device behaves like a single-planar mmap capture node: it enforces the
// enqueue/dequeue ownership rules, refuses to reallocate mapped buffers and
// reports protocol misuse with the errno a real driver would use. Frames are
// pushed in with Feed, or produced on a timer by a Generator.
package simdev

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
)

// Op names one protocol operation for fault injection.
type Op string

// Operations that accept injected faults.
const (
	OpQueryCap       Op = "querycap"
	OpEnumFormat     Op = "enum_fmt"
	OpEnumFrameSize  Op = "enum_framesizes"
	OpSetFormat      Op = "s_fmt"
	OpRequestBuffers Op = "reqbufs"
	OpQueryBuffer    Op = "querybuf"
	OpMap            Op = "mmap"
	OpUnmap          Op = "munmap"
	OpEnqueue        Op = "qbuf"
	OpDequeue        Op = "dqbuf"
	OpStreamOn       Op = "streamon"
	OpStreamOff      Op = "streamoff"
	OpWait           Op = "poll"
	OpClose          Op = "close"

	OpEnumFrameInterval Op = "enum_frameintervals"
	OpGetParm           Op = "g_parm"
	OpSetParm           Op = "s_parm"
	OpQueryControl      Op = "queryctrl"
	OpGetControl        Op = "g_ctrl"
	OpSetControl        Op = "s_ctrl"
)

// Fault makes an operation fail. The first After calls succeed; afterwards
// the next Times calls return Err (forever when Times is zero).
type Fault struct {
	Err   error
	After int
	Times int
}

// Format is one advertised pixel format with its frame sizes. Intervals
// apply to every size; a format without them accepts any frame interval.
type Format struct {
	Desc      v4l2.FormatDesc
	Sizes     []v4l2.FrameSize
	Intervals []v4l2.FrameInterval
}

// Generator produces the payload of frame seq for the negotiated format.
type Generator func(seq uint32, pix v4l2.PixFormat) []byte

// Config describes the simulated hardware.
type Config struct {
	Driver       string
	Card         string
	BusInfo      string
	Capabilities uint32
	Formats      []Format
	// MaxBuffers caps the number of buffers granted by RequestBuffers.
	// Zero grants whatever is asked for.
	MaxBuffers uint32
	// Controls lists the user controls. Nil means DefaultControls.
	Controls []v4l2.QueryControl
	// Generator, when set, fills one queued buffer per frame interval
	// while streaming. FrameInterval overrides the interval negotiated
	// through SetStreamParm.
	Generator     Generator
	FrameInterval time.Duration
}

// DefaultFormats is a typical UVC webcam: YUYV at three sizes plus MJPEG.
func DefaultFormats() []Format {
	return []Format{
		{
			Desc: v4l2.FormatDesc{Index: 0, PixelFormat: v4l2.PixFmtYUYV, Description: "YUYV 4:2:2"},
			Sizes: []v4l2.FrameSize{
				v4l2.DiscreteSize(640, 480),
				v4l2.DiscreteSize(320, 240),
				v4l2.DiscreteSize(1280, 720),
			},
			Intervals: []v4l2.FrameInterval{
				v4l2.DiscreteInterval(v4l2.PerSecond(30)),
				v4l2.DiscreteInterval(v4l2.PerSecond(15)),
				v4l2.DiscreteInterval(v4l2.PerSecond(5)),
			},
		},
		{
			Desc:      v4l2.FormatDesc{Index: 1, PixelFormat: v4l2.PixFmtMJPEG, Description: "Motion-JPEG", Flags: v4l2.FmtFlagCompressed},
			Sizes:     []v4l2.FrameSize{v4l2.DiscreteSize(1920, 1080)},
			Intervals: []v4l2.FrameInterval{v4l2.DiscreteInterval(v4l2.PerSecond(30))},
		},
	}
}

type bufState int

const (
	stateIdle   bufState = iota // owned by the application
	stateQueued                 // waiting in the driver's incoming queue
	stateDone                   // filled, waiting to be dequeued
)

type buffer struct {
	mem       []byte
	state     bufState
	mapped    bool
	bytesUsed uint32
	sequence  uint32
	timestamp time.Duration
}

// Stats is a snapshot of the simulated driver state.
type Stats struct {
	Allocated int
	Mapped    int
	Queued    int
	Done      int
	Streaming bool
	Closed    bool
	Enqueues  int
	Dequeues  int
	StreamOns int
}

// Device is an in-memory capture node. It satisfies the same method set as
// *v4l2.Device.
type Device struct {
	cfg     Config
	started time.Time
	notify  chan struct{}

	mu        sync.Mutex
	pix       v4l2.PixFormat
	bufs      []*buffer
	queued    []uint32
	done      []uint32
	streaming bool
	closed    bool
	seq       uint32
	tpf       v4l2.Fraction
	ctrls     map[uint32]int32
	faults    map[Op]*Fault
	stats     Stats
	dequeued  []uint32
}

// New creates a Device. Zero-valued Config fields get webcam-like defaults.
func New(cfg Config) *Device {
	if cfg.Driver == "" {
		cfg.Driver = "simdev"
	}
	if cfg.Card == "" {
		cfg.Card = "Simulated Camera"
	}
	if cfg.BusInfo == "" {
		cfg.BusInfo = "platform:simdev"
	}
	if cfg.Capabilities == 0 {
		cfg.Capabilities = v4l2.CapVideoCapture | v4l2.CapStreaming
	}
	if cfg.Formats == nil {
		cfg.Formats = DefaultFormats()
	}
	if cfg.Controls == nil {
		cfg.Controls = DefaultControls()
	}
	cfg.Controls = slices.Clone(cfg.Controls)
	slices.SortFunc(cfg.Controls, func(a, b v4l2.QueryControl) int { return cmp.Compare(a.ID, b.ID) })

	d := &Device{
		cfg:     cfg,
		started: time.Now(),
		notify:  make(chan struct{}, 1),
		ctrls:   make(map[uint32]int32, len(cfg.Controls)),
		faults:  make(map[Op]*Fault),
	}
	for _, c := range cfg.Controls {
		d.ctrls[c.ID] = c.Default
	}
	d.pix = d.adjust(v4l2.PixFormat{PixelFormat: cfg.Formats[0].Desc.PixelFormat})
	d.tpf = d.snapInterval(v4l2.PerSecond(30))
	return d
}

// Inject installs a fault for op, replacing any previous one.
func (d *Device) Inject(op Op, f Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = &f
}

// Clear removes the fault for op.
func (d *Device) Clear(op Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.faults, op)
}

// fault must be called with d.mu held.
func (d *Device) fault(op Op) error {
	f, ok := d.faults[op]
	if !ok {
		return nil
	}
	if f.After > 0 {
		f.After--
		return nil
	}
	err := f.Err
	if f.Times > 0 {
		f.Times--
		if f.Times == 0 {
			delete(d.faults, op)
		}
	}
	return err
}

// check must be called with d.mu held.
func (d *Device) check(op Op) error {
	if d.closed {
		return fmt.Errorf("%s: %w", op, syscall.EBADF)
	}
	if err := d.fault(op); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Stats returns a snapshot of the driver state.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Allocated = len(d.bufs)
	s.Queued = len(d.queued)
	s.Done = len(d.done)
	s.Streaming = d.streaming
	s.Closed = d.closed
	for _, b := range d.bufs {
		if b.mapped {
			s.Mapped++
		}
	}
	return s
}

// DequeuedIndices returns every index handed back by Dequeue, in order.
func (d *Device) DequeuedIndices() []uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint32(nil), d.dequeued...)
}

// Format returns the currently negotiated format.
func (d *Device) Format() v4l2.PixFormat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pix
}

// Close marks the node closed and wakes any waiter. Repeated calls are no-ops.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	if err := d.fault(OpClose); err != nil {
		return fmt.Errorf("%s: %w", OpClose, err)
	}
	d.closed = true
	d.streaming = false
	d.wake()
	return nil
}

// QueryCapability implements VIDIOC_QUERYCAP.
func (d *Device) QueryCapability() (v4l2.Capability, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpQueryCap); err != nil {
		return v4l2.Capability{}, err
	}
	return v4l2.Capability{
		Driver:       d.cfg.Driver,
		Card:         d.cfg.Card,
		BusInfo:      d.cfg.BusInfo,
		Version:      6<<16 | 6<<8,
		Capabilities: d.cfg.Capabilities | v4l2.CapDeviceCaps,
		DeviceCaps:   d.cfg.Capabilities,
	}, nil
}

// EnumFormat implements VIDIOC_ENUM_FMT.
func (d *Device) EnumFormat(index uint32) (v4l2.FormatDesc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpEnumFormat); err != nil {
		return v4l2.FormatDesc{}, err
	}
	if int(index) >= len(d.cfg.Formats) {
		return v4l2.FormatDesc{}, v4l2.ErrEndOfEnumeration
	}
	desc := d.cfg.Formats[index].Desc
	desc.Index = index
	return desc, nil
}

// EnumFrameSize implements VIDIOC_ENUM_FRAMESIZES.
func (d *Device) EnumFrameSize(index, pixelFormat uint32) (v4l2.FrameSize, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpEnumFrameSize); err != nil {
		return v4l2.FrameSize{}, err
	}
	f, ok := d.lookup(pixelFormat)
	if !ok || int(index) >= len(f.Sizes) {
		return v4l2.FrameSize{}, v4l2.ErrEndOfEnumeration
	}
	return f.Sizes[index], nil
}

// SetFormat implements VIDIOC_S_FMT. Like real drivers it substitutes the
// first format for unknown codes and snaps the geometry to the closest
// supported size.
func (d *Device) SetFormat(pix v4l2.PixFormat) (v4l2.PixFormat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpSetFormat); err != nil {
		return v4l2.PixFormat{}, err
	}
	if len(d.bufs) > 0 {
		return v4l2.PixFormat{}, fmt.Errorf("%s: %w", OpSetFormat, syscall.EBUSY)
	}
	d.pix = d.adjust(pix)
	d.tpf = d.snapInterval(d.tpf)
	return d.pix, nil
}

// RequestBuffers implements VIDIOC_REQBUFS.
func (d *Device) RequestBuffers(count uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpRequestBuffers); err != nil {
		return 0, err
	}
	if d.streaming {
		return 0, fmt.Errorf("%s: %w", OpRequestBuffers, syscall.EBUSY)
	}
	for _, b := range d.bufs {
		if b.mapped {
			return 0, fmt.Errorf("%s: buffers still mapped: %w", OpRequestBuffers, syscall.EBUSY)
		}
	}

	if d.cfg.MaxBuffers > 0 && count > d.cfg.MaxBuffers {
		count = d.cfg.MaxBuffers
	}
	d.bufs = make([]*buffer, count)
	for i := range d.bufs {
		d.bufs[i] = &buffer{mem: make([]byte, d.pix.SizeImage)}
	}
	d.queued, d.done = nil, nil
	return count, nil
}

// QueryBuffer implements VIDIOC_QUERYBUF.
func (d *Device) QueryBuffer(index uint32) (v4l2.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpQueryBuffer); err != nil {
		return v4l2.Buffer{}, err
	}
	if int(index) >= len(d.bufs) {
		return v4l2.Buffer{}, fmt.Errorf("%s %d: %w", OpQueryBuffer, index, syscall.EINVAL)
	}
	return v4l2.Buffer{
		Index:  index,
		Length: uint32(len(d.bufs[index].mem)),
		Offset: index * pageAlign(d.pix.SizeImage),
	}, nil
}

// MapBuffer shares the buffer's backing array with the caller, the way mmap
// shares driver memory.
func (d *Device) MapBuffer(b v4l2.Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpMap); err != nil {
		return nil, err
	}
	if int(b.Index) >= len(d.bufs) || b.Length != uint32(len(d.bufs[b.Index].mem)) {
		return nil, fmt.Errorf("%s %d: %w", OpMap, b.Index, syscall.EINVAL)
	}
	buf := d.bufs[b.Index]
	if buf.mapped {
		return nil, fmt.Errorf("%s %d: already mapped: %w", OpMap, b.Index, syscall.EBUSY)
	}
	buf.mapped = true
	return buf.mem, nil
}

// UnmapBuffer releases a region returned by MapBuffer.
func (d *Device) UnmapBuffer(mem []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fault(OpUnmap); err != nil {
		return fmt.Errorf("%s: %w", OpUnmap, err)
	}
	for _, b := range d.bufs {
		if b.mapped && sameRegion(b.mem, mem) {
			b.mapped = false
			return nil
		}
	}
	return fmt.Errorf("%s: unknown region: %w", OpUnmap, syscall.EINVAL)
}

// Enqueue implements VIDIOC_QBUF. Queuing a buffer the driver already owns
// fails with EINVAL.
func (d *Device) Enqueue(index uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpEnqueue); err != nil {
		return err
	}
	if int(index) >= len(d.bufs) {
		return fmt.Errorf("%s %d: %w", OpEnqueue, index, syscall.EINVAL)
	}
	b := d.bufs[index]
	if b.state != stateIdle {
		return fmt.Errorf("%s %d: buffer owned by driver: %w", OpEnqueue, index, syscall.EINVAL)
	}
	b.state = stateQueued
	d.queued = append(d.queued, index)
	d.stats.Enqueues++
	return nil
}

// Dequeue implements VIDIOC_DQBUF on a non-blocking descriptor.
func (d *Device) Dequeue() (v4l2.Buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpDequeue); err != nil {
		return v4l2.Buffer{}, err
	}
	if !d.streaming {
		return v4l2.Buffer{}, fmt.Errorf("%s: not streaming: %w", OpDequeue, syscall.EINVAL)
	}
	if len(d.done) == 0 {
		return v4l2.Buffer{}, v4l2.ErrNotReady
	}
	index := d.done[0]
	d.done = d.done[1:]
	b := d.bufs[index]
	b.state = stateIdle
	d.stats.Dequeues++
	d.dequeued = append(d.dequeued, index)
	return v4l2.Buffer{
		Index:     index,
		Length:    uint32(len(b.mem)),
		Offset:    index * pageAlign(d.pix.SizeImage),
		BytesUsed: b.bytesUsed,
		Sequence:  b.sequence,
		Timestamp: b.timestamp,
	}, nil
}

// StreamOn implements VIDIOC_STREAMON.
func (d *Device) StreamOn() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpStreamOn); err != nil {
		return err
	}
	if len(d.bufs) == 0 {
		return fmt.Errorf("%s: no buffers: %w", OpStreamOn, syscall.EINVAL)
	}
	d.streaming = true
	d.stats.StreamOns++
	return nil
}

// StreamOff implements VIDIOC_STREAMOFF: every buffer returns to the
// application, filled or not.
func (d *Device) StreamOff() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpStreamOff); err != nil {
		return err
	}
	d.streaming = false
	for _, b := range d.bufs {
		b.state = stateIdle
	}
	d.queued, d.done = nil, nil
	d.wake()
	return nil
}

// WaitReadable implements poll(POLLIN) with a timeout.
func (d *Device) WaitReadable(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if err := d.check(OpWait); err != nil {
			d.mu.Unlock()
			return false, err
		}
		if len(d.done) > 0 {
			d.mu.Unlock()
			return true, nil
		}
		generate := d.cfg.Generator != nil && d.streaming && len(d.queued) > 0
		d.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}

		if generate {
			period := d.period()
			if remaining < period {
				time.Sleep(remaining)
				return false, nil
			}
			time.Sleep(period)
			d.mu.Lock()
			pix, seq := d.pix, d.seq
			d.mu.Unlock()
			_ = d.Feed(d.cfg.Generator(seq, pix))
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case <-d.notify:
			timer.Stop()
		case <-timer.C:
			return false, nil
		}
	}
}

// ErrNoQueuedBuffer is returned by Feed when the application holds every buffer.
var ErrNoQueuedBuffer = fmt.Errorf("simdev: no queued buffer: %w", syscall.EAGAIN)

// Feed fills the oldest queued buffer with data, as the hardware would on a
// completed frame, and wakes WaitReadable. Data longer than the buffer is
// truncated.
func (d *Device) Feed(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return syscall.EBADF
	}
	if !d.streaming {
		return fmt.Errorf("simdev: feed while stopped: %w", syscall.EINVAL)
	}
	if len(d.queued) == 0 {
		return ErrNoQueuedBuffer
	}
	index := d.queued[0]
	d.queued = d.queued[1:]

	b := d.bufs[index]
	b.bytesUsed = uint32(copy(b.mem, data))
	b.sequence = d.seq
	b.timestamp = time.Since(d.started)
	b.state = stateDone
	d.seq++
	d.done = append(d.done, index)
	d.wake()
	return nil
}

// wake must be called with d.mu held.
func (d *Device) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// lookup must be called with d.mu held.
func (d *Device) lookup(code uint32) (Format, bool) {
	for _, f := range d.cfg.Formats {
		if f.Desc.PixelFormat == code {
			return f, true
		}
	}
	return Format{}, false
}

// adjust must be called with d.mu held or before d is shared.
func (d *Device) adjust(pix v4l2.PixFormat) v4l2.PixFormat {
	f, ok := d.lookup(pix.PixelFormat)
	if !ok {
		f = d.cfg.Formats[0]
	}
	w, h := closestSize(f.Sizes, pix.Width, pix.Height)

	out := v4l2.PixFormat{
		Width:       w,
		Height:      h,
		PixelFormat: f.Desc.PixelFormat,
		Field:       v4l2.FieldNone,
	}
	if f.Desc.Compressed() {
		out.SizeImage = w * h
	} else {
		out.BytesPerLine = w * 2
		out.SizeImage = out.BytesPerLine * h
	}
	return out
}

// closestSize picks the supported size nearest to w x h by area difference,
// clamping and aligning ranged entries.
func closestSize(sizes []v4l2.FrameSize, w, h uint32) (uint32, uint32) {
	if len(sizes) == 0 {
		return w, h
	}
	bestW, bestH := sizes[0].MaxWidth, sizes[0].MaxHeight
	bestDist := int64(-1)
	for _, s := range sizes {
		cw := snap(w, s.MinWidth, s.MaxWidth, s.StepWidth)
		ch := snap(h, s.MinHeight, s.MaxHeight, s.StepHeight)
		dist := abs(int64(cw)-int64(w)) + abs(int64(ch)-int64(h))
		if bestDist < 0 || dist < bestDist {
			bestW, bestH, bestDist = cw, ch, dist
		}
	}
	return bestW, bestH
}

func snap(v, lo, hi, step uint32) uint32 {
	v = min(max(v, lo), hi)
	if step > 1 {
		v = lo + (v-lo)/step*step
	}
	return v
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func pageAlign(n uint32) uint32 {
	const page = 4096
	return (n + page - 1) &^ (page - 1)
}

func sameRegion(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && &a[0] == &b[0]
}
