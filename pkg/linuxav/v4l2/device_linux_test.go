//go:build linux

package v4l2

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestOpenRejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video0")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := Open(path)
	if !errors.Is(err, ErrNotCharDevice) {
		t.Errorf("Open(regular file) error = %v, want ErrNotCharDevice", err)
	}
}

func TestOpenMissingPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open(missing) error = %v, want os.ErrNotExist", err)
	}
}

// /dev/null is a character device that answers every V4L2 ioctl with ENOTTY.
func TestNonVideoCharDevice(t *testing.T) {
	dev, err := Open("/dev/null")
	if err != nil {
		t.Skipf("cannot open /dev/null: %v", err)
	}

	if _, err := dev.QueryCapability(); !errors.Is(err, unix.ENOTTY) {
		t.Errorf("QueryCapability() error = %v, want ENOTTY", err)
	}
	if _, err := dev.EnumFrameSize(0, PixFmtYUYV); !errors.Is(err, ErrEndOfEnumeration) {
		t.Errorf("EnumFrameSize() error = %v, want ErrEndOfEnumeration for ENOTTY", err)
	}
	if _, err := dev.Dequeue(); err == nil || errors.Is(err, ErrNotReady) {
		t.Errorf("Dequeue() error = %v, want hard error", err)
	}

	if err := dev.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func TestFrmsizeDecode(t *testing.T) {
	discrete := v4l2Frmsizeenum{typ: uint32(FrameSizeDiscrete)}
	discrete.union.minWidth = 1280 // discrete width
	discrete.union.maxWidth = 720  // discrete height

	if got := discrete.decode(); got != DiscreteSize(1280, 720) {
		t.Errorf("discrete decode = %+v, want 1280x720", got)
	}

	stepwise := v4l2Frmsizeenum{
		typ:   uint32(FrameSizeStepwise),
		union: v4l2FrmsizeStepwise{16, 1920, 2, 16, 1080, 2},
	}
	want := FrameSize{Type: FrameSizeStepwise, MinWidth: 16, MaxWidth: 1920, StepWidth: 2, MinHeight: 16, MaxHeight: 1080, StepHeight: 2}
	if got := stepwise.decode(); got != want {
		t.Errorf("stepwise decode = %+v, want %+v", got, want)
	}
}

func TestCstr(t *testing.T) {
	if got := cstr([]byte{'u', 'v', 'c', 0, 'x'}); got != "uvc" {
		t.Errorf("cstr = %q, want uvc", got)
	}
	if got := cstr([]byte("card")); got != "card" {
		t.Errorf("cstr without terminator = %q, want card", got)
	}
}

func TestSyntheticID(t *testing.T) {
	if got := syntheticID("usb-0000:00:14.0-1", 0); got != "usb-0000:00:14.0-1-video-index0" {
		t.Errorf("syntheticID(usb) = %q", got)
	}
	if got := syntheticID("platform:rkcif", 2); got != "platform-platform:rkcif-video-index2" {
		t.Errorf("syntheticID(platform) = %q", got)
	}
}

func TestFrmivalDecode(t *testing.T) {
	discrete := v4l2Frmivalenum{typ: uint32(FrameIntervalDiscrete), min: v4l2Fract{1, 30}}
	if got := discrete.decode(); got != DiscreteInterval(PerSecond(30)) {
		t.Errorf("discrete decode = %+v, want 1/30", got)
	}

	stepwise := v4l2Frmivalenum{
		typ:  uint32(FrameIntervalStepwise),
		min:  v4l2Fract{1, 60},
		max:  v4l2Fract{1, 1},
		step: v4l2Fract{1, 60},
	}
	want := FrameInterval{Type: FrameIntervalStepwise, Min: PerSecond(60), Max: PerSecond(1), Step: PerSecond(60)}
	if got := stepwise.decode(); got != want {
		t.Errorf("stepwise decode = %+v, want %+v", got, want)
	}
}

func TestQueryctrlDecode(t *testing.T) {
	q := v4l2Queryctrl{
		id:           CIDBrightness,
		typ:          uint32(CtrlTypeInteger),
		minimum:      -64,
		maximum:      64,
		step:         1,
		defaultValue: 0,
		flags:        CtrlFlagInactive,
	}
	copy(q.name[:], "Brightness")

	got := q.decode()
	if got.Name != "Brightness" || got.Minimum != -64 || got.Maximum != 64 || got.Type != CtrlTypeInteger {
		t.Errorf("decode = %+v", got)
	}
	if !got.Inactive() || got.ReadOnly() || got.Disabled() {
		t.Errorf("flags %#x decoded wrong", got.Flags)
	}
}

func TestStreamparmDecode(t *testing.T) {
	p := v4l2Streamparm{capability: CapTimePerFrame, timeperframe: v4l2Fract{1001, 30000}, readbuffers: 2}
	got := p.decode()
	if !got.CanSetTimePerFrame() || got.TimePerFrame != (Fraction{1001, 30000}) || got.ReadBuffers != 2 {
		t.Errorf("decode = %+v", got)
	}
}
