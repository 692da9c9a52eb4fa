package v4l2

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors returned by Device methods.
var (
	// ErrEndOfEnumeration marks the end of a format or frame-size list.
	ErrEndOfEnumeration = errors.New("v4l2: no more entries")
	// ErrNotReady is returned by Dequeue when no filled buffer is available.
	ErrNotReady = errors.New("v4l2: no buffer ready")
	// ErrInterrupted is returned by WaitReadable when a signal interrupted the wait.
	ErrInterrupted = errors.New("v4l2: wait interrupted")
	// ErrNotCharDevice is returned by Open for paths that are not character devices.
	ErrNotCharDevice = errors.New("v4l2: not a character device")
	// ErrUnsupportedPlatform is returned where V4L2 does not exist.
	ErrUnsupportedPlatform = errors.New("v4l2: only supported on linux")
)

// Capability flags.
const (
	CapVideoCapture = 0x00000001
	CapReadWrite    = 0x01000000
	CapStreaming    = 0x04000000
	CapDeviceCaps   = 0x80000000
)

// CapTimePerFrame is set in StreamParm.Capability when the driver lets the
// frame interval be changed.
const CapTimePerFrame = 0x1000

// Format flags.
const (
	FmtFlagCompressed = 0x0001
	FmtFlagEmulated   = 0x0002
)

// Common pixel formats.
const (
	PixFmtYUYV  = 0x56595559 // 'YUYV'
	PixFmtRGB24 = 0x33424752 // 'RGB3'
	PixFmtMJPEG = 0x47504A4D // 'MJPG'
	PixFmtH264  = 0x34363248 // 'H264'
	PixFmtNV12  = 0x3231564E // 'NV12'
)

// Field orders.
const (
	FieldAny  = 0
	FieldNone = 1
)

// Buffer type and memory model. Only single-planar capture through mmap is used.
const (
	BufTypeVideoCapture = 1
	MemoryMmap          = 1
)

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Driver     string
	BusInfo    string
	Caps       uint32
}

// Capability is the decoded result of VIDIOC_QUERYCAP.
type Capability struct {
	Driver       string
	Card         string
	BusInfo      string
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
}

// Effective returns the capability bits of the opened node. Drivers that set
// CapDeviceCaps report per-node bits separately from the whole device.
func (c Capability) Effective() uint32 {
	if c.Capabilities&CapDeviceCaps != 0 {
		return c.DeviceCaps
	}
	return c.Capabilities
}

// IsVideoCapture reports whether the node captures video.
func (c Capability) IsVideoCapture() bool {
	return c.Effective()&CapVideoCapture != 0
}

// SupportsStreaming reports whether the node supports streaming I/O.
func (c Capability) SupportsStreaming() bool {
	return c.Effective()&CapStreaming != 0
}

// VersionString formats the packed kernel version as major.minor.patch.
func (c Capability) VersionString() string {
	return fmt.Sprintf("%d.%d.%d", c.Version>>16&0xff, c.Version>>8&0xff, c.Version&0xff)
}

// FormatDesc is one entry of VIDIOC_ENUM_FMT.
type FormatDesc struct {
	Index       uint32
	PixelFormat uint32
	Description string
	Flags       uint32
}

// Emulated reports whether the format is converted in software by libv4l.
func (f FormatDesc) Emulated() bool { return f.Flags&FmtFlagEmulated != 0 }

// Compressed reports whether the format carries compressed data.
func (f FormatDesc) Compressed() bool { return f.Flags&FmtFlagCompressed != 0 }

// FrameSizeType tells how a FrameSize should be read.
type FrameSizeType uint32

// Frame size types.
const (
	FrameSizeDiscrete   FrameSizeType = 1
	FrameSizeContinuous FrameSizeType = 2
	FrameSizeStepwise   FrameSizeType = 3
)

// FrameSize is one entry of VIDIOC_ENUM_FRAMESIZES. Discrete sizes are
// stored with Min equal to Max and zero steps.
type FrameSize struct {
	Type       FrameSizeType
	MinWidth   uint32
	MaxWidth   uint32
	StepWidth  uint32
	MinHeight  uint32
	MaxHeight  uint32
	StepHeight uint32
}

// DiscreteSize builds the FrameSize of a single resolution.
func DiscreteSize(width, height uint32) FrameSize {
	return FrameSize{
		Type:     FrameSizeDiscrete,
		MinWidth: width, MaxWidth: width,
		MinHeight: height, MaxHeight: height,
	}
}

// Discrete reports whether the entry names exactly one resolution.
func (s FrameSize) Discrete() bool {
	return s.Type == FrameSizeDiscrete
}

// Contains reports whether width x height lies inside the range and on its step grid.
func (s FrameSize) Contains(width, height uint32) bool {
	return inRange(width, s.MinWidth, s.MaxWidth, s.StepWidth) &&
		inRange(height, s.MinHeight, s.MaxHeight, s.StepHeight)
}

func inRange(v, lo, hi, step uint32) bool {
	if v < lo || v > hi {
		return false
	}
	return step <= 1 || (v-lo)%step == 0
}

// String renders "640x480" for discrete sizes and
// "[16-1920;8]x[16-1080;8]" for ranges.
func (s FrameSize) String() string {
	if s.Discrete() {
		return fmt.Sprintf("%dx%d", s.MaxWidth, s.MaxHeight)
	}
	return fmt.Sprintf("[%d-%d;%d]x[%d-%d;%d]",
		s.MinWidth, s.MaxWidth, s.StepWidth, s.MinHeight, s.MaxHeight, s.StepHeight)
}

// PixFormat is the single-planar pixel format passed to and returned by
// VIDIOC_S_FMT. The driver may adjust every field.
type PixFormat struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	BytesPerLine uint32
	SizeImage    uint32
	Colorspace   uint32
}

// Buffer describes one driver buffer. QueryBuffer fills Length and Offset;
// Dequeue fills BytesUsed, Sequence and Timestamp.
type Buffer struct {
	Index     uint32
	Length    uint32
	Offset    uint32
	BytesUsed uint32
	Flags     uint32
	Sequence  uint32
	Timestamp time.Duration // monotonic clock
}

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	return string([]byte{
		byte(format),
		byte(format >> 8),
		byte(format >> 16),
		byte(format >> 24),
	})
}

// ParseFourCC is the inverse of FormatFourCC. Codes shorter than four
// characters are padded with spaces, as V4L2 does for e.g. "Y8  ".
func ParseFourCC(code string) (uint32, error) {
	if len(code) == 0 || len(code) > 4 {
		return 0, fmt.Errorf("v4l2: invalid fourcc %q", code)
	}
	var b [4]byte
	for i := range b {
		b[i] = ' '
	}
	copy(b[:], code)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// Fraction is a V4L2 rational. Frame intervals are seconds per frame.
type Fraction struct {
	Numerator   uint32
	Denominator uint32
}

// PerSecond returns the frame interval 1/fps.
func PerSecond(fps uint32) Fraction {
	return Fraction{Numerator: 1, Denominator: fps}
}

// Rate converts a frame interval to frames per second. It returns zero for
// a degenerate fraction.
func (f Fraction) Rate() float64 {
	if f.Numerator == 0 || f.Denominator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// IsZero reports whether the fraction was never set.
func (f Fraction) IsZero() bool { return f.Numerator == 0 && f.Denominator == 0 }

// Cmp compares f and g by value: -1 when f is shorter, +1 when longer.
func (f Fraction) Cmp(g Fraction) int {
	a := uint64(f.Numerator) * uint64(g.Denominator)
	b := uint64(g.Numerator) * uint64(f.Denominator)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (f Fraction) String() string {
	return fmt.Sprintf("%d/%d", f.Numerator, f.Denominator)
}

// FrameIntervalType tells how a FrameInterval should be read.
type FrameIntervalType uint32

// Frame interval types.
const (
	FrameIntervalDiscrete   FrameIntervalType = 1
	FrameIntervalContinuous FrameIntervalType = 2
	FrameIntervalStepwise   FrameIntervalType = 3
)

// FrameInterval is one entry of VIDIOC_ENUM_FRAMEINTERVALS. Discrete
// intervals are stored with Min equal to Max and a zero step.
type FrameInterval struct {
	Type FrameIntervalType
	Min  Fraction
	Max  Fraction
	Step Fraction
}

// DiscreteInterval builds the FrameInterval of a single interval.
func DiscreteInterval(f Fraction) FrameInterval {
	return FrameInterval{Type: FrameIntervalDiscrete, Min: f, Max: f}
}

// Discrete reports whether the entry names exactly one interval.
func (i FrameInterval) Discrete() bool {
	return i.Type == FrameIntervalDiscrete
}

// Contains reports whether f lies between Min and Max. The step is not
// checked.
func (i FrameInterval) Contains(f Fraction) bool {
	return f.Cmp(i.Min) >= 0 && f.Cmp(i.Max) <= 0
}

// String renders "1/30" for discrete intervals and "[1/30-1/5]" for ranges.
func (i FrameInterval) String() string {
	if i.Discrete() {
		return i.Min.String()
	}
	return fmt.Sprintf("[%s-%s]", i.Min, i.Max)
}

// StreamParm is the capture part of VIDIOC_G_PARM / VIDIOC_S_PARM.
type StreamParm struct {
	Capability   uint32
	CaptureMode  uint32
	TimePerFrame Fraction
	ReadBuffers  uint32
}

// CanSetTimePerFrame reports whether the driver accepts a new frame interval.
func (p StreamParm) CanSetTimePerFrame() bool {
	return p.Capability&CapTimePerFrame != 0
}

// ControlType is the v4l2_ctrl_type of a control.
type ControlType uint32

// Control types.
const (
	CtrlTypeInteger     ControlType = 1
	CtrlTypeBoolean     ControlType = 2
	CtrlTypeMenu        ControlType = 3
	CtrlTypeButton      ControlType = 4
	CtrlTypeInteger64   ControlType = 5
	CtrlTypeCtrlClass   ControlType = 6
	CtrlTypeString      ControlType = 7
	CtrlTypeBitmask     ControlType = 8
	CtrlTypeIntegerMenu ControlType = 9
)

func (t ControlType) String() string {
	switch t {
	case CtrlTypeInteger:
		return "integer"
	case CtrlTypeBoolean:
		return "boolean"
	case CtrlTypeMenu:
		return "menu"
	case CtrlTypeButton:
		return "button"
	case CtrlTypeInteger64:
		return "integer64"
	case CtrlTypeCtrlClass:
		return "class"
	case CtrlTypeString:
		return "string"
	case CtrlTypeBitmask:
		return "bitmask"
	case CtrlTypeIntegerMenu:
		return "integer_menu"
	}
	return fmt.Sprintf("type%d", uint32(t))
}

// Control flags.
const (
	CtrlFlagDisabled  = 0x0001
	CtrlFlagGrabbed   = 0x0002
	CtrlFlagReadOnly  = 0x0004
	CtrlFlagInactive  = 0x0010
	CtrlFlagWriteOnly = 0x0040

	// CtrlFlagNextCtrl, OR-ed into the id given to QueryControl, asks for
	// the first control with a higher id.
	CtrlFlagNextCtrl = 0x80000000
)

// User class control ids.
const (
	CIDBase                    = 0x00980900
	CIDBrightness              = CIDBase + 0
	CIDContrast                = CIDBase + 1
	CIDSaturation              = CIDBase + 2
	CIDHue                     = CIDBase + 3
	CIDAutoWhiteBalance        = CIDBase + 12
	CIDRedBalance              = CIDBase + 14
	CIDBlueBalance             = CIDBase + 15
	CIDGamma                   = CIDBase + 16
	CIDExposure                = CIDBase + 17
	CIDAutogain                = CIDBase + 18
	CIDGain                    = CIDBase + 19
	CIDPowerLineFrequency      = CIDBase + 24
	CIDWhiteBalanceTemperature = CIDBase + 26
	CIDSharpness               = CIDBase + 27
	CIDBacklightCompensation   = CIDBase + 28

	CIDFocusAbsolute = 0x009a090a
)

// QueryControl is the decoded result of VIDIOC_QUERYCTRL.
type QueryControl struct {
	ID      uint32
	Type    ControlType
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Flags   uint32
}

// Disabled reports whether the driver lists the control but does not
// implement it.
func (q QueryControl) Disabled() bool { return q.Flags&CtrlFlagDisabled != 0 }

// ReadOnly reports whether the control can only be read.
func (q QueryControl) ReadOnly() bool { return q.Flags&CtrlFlagReadOnly != 0 }

// Inactive reports whether the control currently has no effect, e.g. a
// manual white balance while automatic white balance is on.
func (q QueryControl) Inactive() bool { return q.Flags&CtrlFlagInactive != 0 }

// HasValue reports whether G_CTRL returns something meaningful.
func (q QueryControl) HasValue() bool {
	switch q.Type {
	case CtrlTypeButton, CtrlTypeCtrlClass, CtrlTypeString:
		return false
	}
	return q.Flags&CtrlFlagWriteOnly == 0
}

// Key is the control name in lower case with runs of other characters
// replaced by an underscore: "White Balance Temperature, Auto" becomes
// "white_balance_temperature_auto".
func (q QueryControl) Key() string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(q.Name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false
			continue
		}
		sep = true
	}
	return b.String()
}
