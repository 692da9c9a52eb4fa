package capture

import (
	"time"

	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
)

// Backend is the device control protocol a session drives. *v4l2.Device
// implements it on linux; simdev.Device implements it in memory.
//
// Enumeration methods return v4l2.ErrEndOfEnumeration past the last entry,
// Dequeue returns v4l2.ErrNotReady when no buffer is filled, and WaitReadable
// wraps v4l2.ErrInterrupted when a signal cut the wait short.
type Backend interface {
	QueryCapability() (v4l2.Capability, error)
	EnumFormat(index uint32) (v4l2.FormatDesc, error)
	EnumFrameSize(index, pixelFormat uint32) (v4l2.FrameSize, error)
	SetFormat(pix v4l2.PixFormat) (v4l2.PixFormat, error)
	EnumFrameInterval(index, pixelFormat, width, height uint32) (v4l2.FrameInterval, error)
	GetStreamParm() (v4l2.StreamParm, error)
	SetStreamParm(timePerFrame v4l2.Fraction) (v4l2.StreamParm, error)
	QueryControl(id uint32) (v4l2.QueryControl, error)
	GetControl(id uint32) (int32, error)
	SetControl(id uint32, value int32) error
	RequestBuffers(count uint32) (uint32, error)
	QueryBuffer(index uint32) (v4l2.Buffer, error)
	MapBuffer(b v4l2.Buffer) ([]byte, error)
	UnmapBuffer(mem []byte) error
	Enqueue(index uint32) error
	Dequeue() (v4l2.Buffer, error)
	StreamOn() error
	StreamOff() error
	WaitReadable(timeout time.Duration) (bool, error)
	Close() error
}

// Opener opens the backend for a device path.
type Opener func(path string) (Backend, error)

// Registry tracks open sessions so they can be torn down together when the
// process is about to die.
type Registry interface {
	Register(c Closer)
	Deregister(c Closer)
}

// Closer is what a Registry holds: something identifiable that can be
// released best-effort.
type Closer interface {
	ID() string
	Close() error
}
