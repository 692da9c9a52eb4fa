//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Device is an open V4L2 video node.
//
// Methods map one-to-one onto the ioctls of the streaming protocol. A Device
// is safe for use by one control goroutine plus one capture goroutine as long
// as the caller sequences buffer ownership correctly; Close must not race
// with other calls.
type Device struct {
	path   string
	fd     int
	closed atomic.Bool
}

// Open opens path for non-blocking streaming I/O. It fails with an
// ErrNotCharDevice wrap when path exists but is not a character device.
func Open(path string) (*Device, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode()&os.ModeCharDevice == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNotCharDevice)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &Device{path: path, fd: fd}, nil
}

// Path returns the path the device was opened with.
func (d *Device) Path() string { return d.path }

// Fd returns the underlying file descriptor.
func (d *Device) Fd() int { return d.fd }

// Close closes the file descriptor. Calling Close more than once is a no-op.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(d.fd)
}

// QueryCapability issues VIDIOC_QUERYCAP.
func (d *Device) QueryCapability() (Capability, error) {
	var c v4l2Capability
	if err := ioctl(d.fd, vidiocQuerycap, unsafe.Pointer(&c)); err != nil {
		return Capability{}, fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}
	return Capability{
		Driver:       cstr(c.driver[:]),
		Card:         cstr(c.card[:]),
		BusInfo:      cstr(c.busInfo[:]),
		Version:      c.version,
		Capabilities: c.capabilities,
		DeviceCaps:   c.deviceCaps,
	}, nil
}

// EnumFormat issues VIDIOC_ENUM_FMT for index. The end of the list is
// reported as ErrEndOfEnumeration.
func (d *Device) EnumFormat(index uint32) (FormatDesc, error) {
	desc := v4l2Fmtdesc{index: index, typ: BufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocEnumFmt, unsafe.Pointer(&desc)); err != nil {
		if errors.Is(err, unix.EINVAL) {
			return FormatDesc{}, ErrEndOfEnumeration
		}
		return FormatDesc{}, fmt.Errorf("VIDIOC_ENUM_FMT %d: %w", index, err)
	}
	return FormatDesc{
		Index:       index,
		PixelFormat: desc.pixelformat,
		Description: cstr(desc.description[:]),
		Flags:       desc.flags,
	}, nil
}

// EnumFrameSize issues VIDIOC_ENUM_FRAMESIZES for index and pixelFormat.
// Drivers without frame-size enumeration (ENOTTY) report an empty list.
func (d *Device) EnumFrameSize(index, pixelFormat uint32) (FrameSize, error) {
	fs := v4l2Frmsizeenum{index: index, pixelFormat: pixelFormat}
	if err := ioctl(d.fd, vidiocEnumFramesizes, unsafe.Pointer(&fs)); err != nil {
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY) {
			return FrameSize{}, ErrEndOfEnumeration
		}
		return FrameSize{}, fmt.Errorf("VIDIOC_ENUM_FRAMESIZES %d: %w", index, err)
	}
	return fs.decode(), nil
}

// EnumFrameInterval issues VIDIOC_ENUM_FRAMEINTERVALS for index and the
// given format and size. Drivers without interval enumeration report an
// empty list.
func (d *Device) EnumFrameInterval(index, pixelFormat, width, height uint32) (FrameInterval, error) {
	fi := v4l2Frmivalenum{index: index, pixelFormat: pixelFormat, width: width, height: height}
	if err := ioctl(d.fd, vidiocEnumFrameintervals, unsafe.Pointer(&fi)); err != nil {
		if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOTTY) {
			return FrameInterval{}, ErrEndOfEnumeration
		}
		return FrameInterval{}, fmt.Errorf("VIDIOC_ENUM_FRAMEINTERVALS %d: %w", index, err)
	}
	return fi.decode(), nil
}

// GetStreamParm issues VIDIOC_G_PARM for the capture queue.
func (d *Device) GetStreamParm() (StreamParm, error) {
	p := v4l2Streamparm{typ: BufTypeVideoCapture}
	if err := ioctl(d.fd, vidiocGParm, unsafe.Pointer(&p)); err != nil {
		return StreamParm{}, fmt.Errorf("VIDIOC_G_PARM: %w", err)
	}
	return p.decode(), nil
}

// SetStreamParm issues VIDIOC_S_PARM with a new frame interval and returns
// the parameters the driver settled on.
func (d *Device) SetStreamParm(timePerFrame Fraction) (StreamParm, error) {
	p := v4l2Streamparm{typ: BufTypeVideoCapture}
	p.timeperframe = v4l2Fract{numerator: timePerFrame.Numerator, denominator: timePerFrame.Denominator}
	if err := ioctl(d.fd, vidiocSParm, unsafe.Pointer(&p)); err != nil {
		return StreamParm{}, fmt.Errorf("VIDIOC_S_PARM %s: %w", timePerFrame, err)
	}
	return p.decode(), nil
}

// QueryControl issues VIDIOC_QUERYCTRL. With CtrlFlagNextCtrl in id it
// returns the next control after id; the end of the list, like an unknown
// id, is reported as ErrEndOfEnumeration.
func (d *Device) QueryControl(id uint32) (QueryControl, error) {
	q := v4l2Queryctrl{id: id}
	if err := ioctl(d.fd, vidiocQueryctrl, unsafe.Pointer(&q)); err != nil {
		if errors.Is(err, unix.EINVAL) {
			return QueryControl{}, ErrEndOfEnumeration
		}
		return QueryControl{}, fmt.Errorf("VIDIOC_QUERYCTRL %#x: %w", id, err)
	}
	return q.decode(), nil
}

// GetControl issues VIDIOC_G_CTRL.
func (d *Device) GetControl(id uint32) (int32, error) {
	c := v4l2Control{id: id}
	if err := ioctl(d.fd, vidiocGCtrl, unsafe.Pointer(&c)); err != nil {
		return 0, fmt.Errorf("VIDIOC_G_CTRL %#x: %w", id, err)
	}
	return c.value, nil
}

// SetControl issues VIDIOC_S_CTRL. Drivers clamp integer values to the
// control's range.
func (d *Device) SetControl(id uint32, value int32) error {
	c := v4l2Control{id: id, value: value}
	if err := ioctl(d.fd, vidiocSCtrl, unsafe.Pointer(&c)); err != nil {
		return fmt.Errorf("VIDIOC_S_CTRL %#x=%d: %w", id, value, err)
	}
	return nil
}

// SetFormat issues VIDIOC_S_FMT and returns what the driver accepted.
func (d *Device) SetFormat(pix PixFormat) (PixFormat, error) {
	f := v4l2Format{typ: BufTypeVideoCapture}
	f.pix = v4l2PixFormat{
		width:       pix.Width,
		height:      pix.Height,
		pixelformat: pix.PixelFormat,
		field:       pix.Field,
	}
	if err := ioctl(d.fd, vidiocSFmt, unsafe.Pointer(&f)); err != nil {
		return PixFormat{}, fmt.Errorf("VIDIOC_S_FMT %s %dx%d: %w",
			FormatFourCC(pix.PixelFormat), pix.Width, pix.Height, err)
	}
	return f.pix.decode(), nil
}

// RequestBuffers issues VIDIOC_REQBUFS for count mmap buffers and returns
// the count granted. A count of zero frees the driver's buffers.
func (d *Device) RequestBuffers(count uint32) (uint32, error) {
	req := v4l2RequestBuffers{count: count, typ: BufTypeVideoCapture, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS %d: %w", count, err)
	}
	return req.count, nil
}

// QueryBuffer issues VIDIOC_QUERYBUF and reports the buffer's length and
// mmap offset.
func (d *Device) QueryBuffer(index uint32) (Buffer, error) {
	buf := v4l2Buffer{index: index, typ: BufTypeVideoCapture, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf)); err != nil {
		return Buffer{}, fmt.Errorf("VIDIOC_QUERYBUF %d: %w", index, err)
	}
	return Buffer{Index: buf.index, Length: buf.length, Offset: buf.offset}, nil
}

// MapBuffer maps a queried buffer read-write and shared with the driver.
func (d *Device) MapBuffer(b Buffer) ([]byte, error) {
	mem, err := unix.Mmap(d.fd, int64(b.Offset), int(b.Length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap buffer %d: %w", b.Index, err)
	}
	return mem, nil
}

// UnmapBuffer releases a region returned by MapBuffer.
func (d *Device) UnmapBuffer(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// Enqueue issues VIDIOC_QBUF, handing buffer index to the driver.
func (d *Device) Enqueue(index uint32) error {
	buf := v4l2Buffer{index: index, typ: BufTypeVideoCapture, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF %d: %w", index, err)
	}
	return nil
}

// Dequeue issues VIDIOC_DQBUF. It returns ErrNotReady when no filled buffer
// is waiting (EAGAIN on a non-blocking descriptor).
func (d *Device) Dequeue() (Buffer, error) {
	buf := v4l2Buffer{typ: BufTypeVideoCapture, memory: MemoryMmap}
	if err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf)); err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return Buffer{}, ErrNotReady
		}
		return Buffer{}, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return Buffer{
		Index:     buf.index,
		Length:    buf.length,
		Offset:    buf.offset,
		BytesUsed: buf.bytesused,
		Flags:     buf.flags,
		Sequence:  buf.sequence,
		Timestamp: buf.timeval(),
	}, nil
}

// StreamOn issues VIDIOC_STREAMON.
func (d *Device) StreamOn() error {
	typ := uint32(BufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

// StreamOff issues VIDIOC_STREAMOFF. The driver drops every queued buffer.
func (d *Device) StreamOff() error {
	typ := uint32(BufTypeVideoCapture)
	if err := ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

// WaitReadable blocks until a filled buffer can be dequeued or timeout
// elapses. It reports false on timeout and wraps ErrInterrupted when a
// signal cut the wait short.
func (d *Device) WaitReadable(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, fmt.Errorf("poll %s: %w", d.path, ErrInterrupted)
		}
		return false, fmt.Errorf("poll %s: %w", d.path, err)
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL|unix.POLLHUP) != 0 {
		return false, fmt.Errorf("poll %s: revents %#x: %w", d.path, fds[0].Revents, unix.EIO)
	}
	return true, nil
}
