//go:build linux

package v4l2

import "unsafe"

// Compile-time struct size assertions for layouts shared by all architectures.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2Capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2Fmtdesc{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(v4l2FrmsizeStepwise{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2Frmsizeenum{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2PixFormat{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2RequestBuffers{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(v4l2Frmivalenum{})]byte{}
	_ [204]byte = [unsafe.Sizeof(v4l2Streamparm{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Queryctrl{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2Control{})]byte{}
)

// IOCTL constants whose argument size does not depend on the architecture.
const (
	vidiocQuerycap           = 0x80685600
	vidiocEnumFmt            = 0xc0405602
	vidiocReqbufs            = 0xc0145608
	vidiocStreamon           = 0x40045612
	vidiocStreamoff          = 0x40045613
	vidiocEnumFramesizes     = 0xc02c564a
	vidiocEnumFrameintervals = 0xc034564b
	vidiocGParm              = 0xc0cc5615
	vidiocSParm              = 0xc0cc5616
	vidiocQueryctrl          = 0xc0445624
	vidiocGCtrl              = 0xc008561b
	vidiocSCtrl              = 0xc008561c
)

// v4l2Capability has size 104 bytes.
type v4l2Capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	busInfo      [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	deviceCaps   uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

// v4l2Fmtdesc has size 64 bytes.
type v4l2Fmtdesc struct {
	index       uint32    // offset 0
	typ         uint32    // offset 4
	flags       uint32    // offset 8
	description [32]byte  // offset 12
	pixelformat uint32    // offset 44
	mbusCode    uint32    // offset 48
	reserved    [3]uint32 // offset 52
}

// v4l2FrmsizeStepwise has size 24 bytes. Its first two fields double as
// v4l2_frmsize_discrete.
type v4l2FrmsizeStepwise struct {
	minWidth   uint32
	maxWidth   uint32
	stepWidth  uint32
	minHeight  uint32
	maxHeight  uint32
	stepHeight uint32
}

// v4l2Frmsizeenum has size 44 bytes.
type v4l2Frmsizeenum struct {
	index       uint32              // offset 0
	pixelFormat uint32              // offset 4
	typ         uint32              // offset 8
	union       v4l2FrmsizeStepwise // offset 12 (discrete | stepwise)
	reserved    [2]uint32           // offset 36
}

// v4l2PixFormat has size 48 bytes.
type v4l2PixFormat struct {
	width        uint32 // offset 0
	height       uint32 // offset 4
	pixelformat  uint32 // offset 8
	field        uint32 // offset 12
	bytesperline uint32 // offset 16
	sizeimage    uint32 // offset 20
	colorspace   uint32 // offset 24
	priv         uint32 // offset 28
	flags        uint32 // offset 32
	ycbcrEnc     uint32 // offset 36
	quantization uint32 // offset 40
	xferFunc     uint32 // offset 44
}

// v4l2RequestBuffers has size 20 bytes.
type v4l2RequestBuffers struct {
	count        uint32  // offset 0
	typ          uint32  // offset 4
	memory       uint32  // offset 8
	capabilities uint32  // offset 12
	flags        uint8   // offset 16
	reserved     [3]byte // offset 17
}

type v4l2Fract struct {
	numerator   uint32
	denominator uint32
}

func (f v4l2Fract) decode() Fraction {
	return Fraction{Numerator: f.numerator, Denominator: f.denominator}
}

// v4l2Frmivalenum has size 52 bytes.
type v4l2Frmivalenum struct {
	index       uint32    // offset 0
	pixelFormat uint32    // offset 4
	width       uint32    // offset 8
	height      uint32    // offset 12
	typ         uint32    // offset 16
	min         v4l2Fract // offset 20 (union: discrete | stepwise.min)
	max         v4l2Fract // offset 28
	step        v4l2Fract // offset 36
	reserved    [2]uint32 // offset 44
}

// v4l2Streamparm has size 204 bytes. Only the capture member of the union
// is laid out.
type v4l2Streamparm struct {
	typ          uint32    // offset 0
	capability   uint32    // offset 4 (parm.capture)
	capturemode  uint32    // offset 8
	timeperframe v4l2Fract // offset 12
	extendedmode uint32    // offset 20
	readbuffers  uint32    // offset 24
	_            [176]byte // rest of the 200-byte union
}

// v4l2Queryctrl has size 68 bytes.
type v4l2Queryctrl struct {
	id           uint32    // offset 0
	typ          uint32    // offset 4
	name         [32]byte  // offset 8
	minimum      int32     // offset 40
	maximum      int32     // offset 44
	step         int32     // offset 48
	defaultValue int32     // offset 52
	flags        uint32    // offset 56
	reserved     [2]uint32 // offset 60
}

// v4l2Control has size 8 bytes.
type v4l2Control struct {
	id    uint32
	value int32
}

func (s *v4l2Frmivalenum) decode() FrameInterval {
	if FrameIntervalType(s.typ) == FrameIntervalDiscrete {
		return DiscreteInterval(s.min.decode())
	}
	return FrameInterval{
		Type: FrameIntervalType(s.typ),
		Min:  s.min.decode(),
		Max:  s.max.decode(),
		Step: s.step.decode(),
	}
}

func (q *v4l2Queryctrl) decode() QueryControl {
	return QueryControl{
		ID:      q.id,
		Type:    ControlType(q.typ),
		Name:    cstr(q.name[:]),
		Minimum: q.minimum,
		Maximum: q.maximum,
		Step:    q.step,
		Default: q.defaultValue,
		Flags:   q.flags,
	}
}

func (p *v4l2Streamparm) decode() StreamParm {
	return StreamParm{
		Capability:   p.capability,
		CaptureMode:  p.capturemode,
		TimePerFrame: p.timeperframe.decode(),
		ReadBuffers:  p.readbuffers,
	}
}

func (s *v4l2Frmsizeenum) decode() FrameSize {
	u := s.union
	if FrameSizeType(s.typ) == FrameSizeDiscrete {
		// discrete layout: width at offset 0, height at offset 4
		return DiscreteSize(u.minWidth, u.maxWidth)
	}
	return FrameSize{
		Type:       FrameSizeType(s.typ),
		MinWidth:   u.minWidth,
		MaxWidth:   u.maxWidth,
		StepWidth:  u.stepWidth,
		MinHeight:  u.minHeight,
		MaxHeight:  u.maxHeight,
		StepHeight: u.stepHeight,
	}
}

func (p *v4l2PixFormat) decode() PixFormat {
	return PixFormat{
		Width:        p.width,
		Height:       p.height,
		PixelFormat:  p.pixelformat,
		Field:        p.field,
		BytesPerLine: p.bytesperline,
		SizeImage:    p.sizeimage,
		Colorspace:   p.colorspace,
	}
}
