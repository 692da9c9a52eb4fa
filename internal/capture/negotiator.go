package capture

import (
	"errors"
	"fmt"
	"iter"
	"syscall"

	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
)

// Negotiator queries what a device can do and sets its active format.
type Negotiator struct {
	dev  Backend
	path string
}

// NewNegotiator wraps an opened backend. path is only used in errors.
func NewNegotiator(dev Backend, path string) *Negotiator {
	return &Negotiator{dev: dev, path: path}
}

// QueryCapabilities reports what the opened node supports. Device caps are
// honored when the driver advertises them.
func (n *Negotiator) QueryCapabilities() (Capabilities, error) {
	c, err := n.dev.QueryCapability()
	if err != nil {
		return Capabilities{}, newError(ErrIO, "querycap", n.path, err)
	}
	return Capabilities{
		IsCaptureDevice:   c.IsVideoCapture(),
		SupportsStreaming: c.SupportsStreaming(),
		Driver:            c.Driver,
		Card:              c.Card,
		BusInfo:           c.BusInfo,
		Version:           c.VersionString(),
	}, nil
}

// Formats lazily enumerates the device's pixel formats. Sizes are not
// filled in. The sequence ends at the driver's end marker; any other
// failure is yielded once and ends the sequence. Each call restarts from
// index zero.
func (n *Negotiator) Formats() iter.Seq2[PixelFormatDescriptor, error] {
	return func(yield func(PixelFormatDescriptor, error) bool) {
		for i := uint32(0); ; i++ {
			desc, err := n.dev.EnumFormat(i)
			if errors.Is(err, v4l2.ErrEndOfEnumeration) {
				return
			}
			if err != nil {
				yield(PixelFormatDescriptor{}, newError(ErrIO, "enum_fmt", n.path, err))
				return
			}
			if !yield(describe(desc), nil) {
				return
			}
		}
	}
}

// FrameSizes lazily enumerates the sizes supported for code, with the same
// contract as Formats. Drivers without size enumeration yield nothing.
func (n *Negotiator) FrameSizes(code uint32) iter.Seq2[FrameSizeRange, error] {
	return func(yield func(FrameSizeRange, error) bool) {
		for i := uint32(0); ; i++ {
			size, err := n.dev.EnumFrameSize(i, code)
			if errors.Is(err, v4l2.ErrEndOfEnumeration) || errors.Is(err, syscall.ENOTTY) {
				return
			}
			if err != nil {
				yield(FrameSizeRange{}, newError(ErrIO, "enum_framesizes", n.path, err))
				return
			}
			if !yield(size, nil) {
				return
			}
			// A continuous or stepwise range is reported as a single entry.
			if !size.Discrete() {
				return
			}
		}
	}
}

// FrameIntervals lazily enumerates the frame intervals supported for code
// at width x height, with the same contract as FrameSizes.
func (n *Negotiator) FrameIntervals(code, width, height uint32) iter.Seq2[FrameIntervalRange, error] {
	return func(yield func(FrameIntervalRange, error) bool) {
		for i := uint32(0); ; i++ {
			iv, err := n.dev.EnumFrameInterval(i, code, width, height)
			if errors.Is(err, v4l2.ErrEndOfEnumeration) || errors.Is(err, syscall.ENOTTY) {
				return
			}
			if err != nil {
				yield(FrameIntervalRange{}, newError(ErrIO, "enum_frameintervals", n.path, err))
				return
			}
			if !yield(iv, nil) {
				return
			}
			if !iv.Discrete() {
				return
			}
		}
	}
}

// FrameRate reads the current frame interval. ok is false for drivers that
// do not report one.
func (n *Negotiator) FrameRate() (rate v4l2.Fraction, ok bool, err error) {
	p, err := n.dev.GetStreamParm()
	if errors.Is(err, syscall.ENOTTY) || errors.Is(err, syscall.EINVAL) {
		return v4l2.Fraction{}, false, nil
	}
	if err != nil {
		return v4l2.Fraction{}, false, newError(ErrIO, "g_parm", n.path, err)
	}
	if p.TimePerFrame.Rate() == 0 {
		return v4l2.Fraction{}, false, nil
	}
	return p.TimePerFrame, true, nil
}

// SetFrameRate asks for fps frames per second. The driver picks the closest
// interval it supports, which is returned.
func (n *Negotiator) SetFrameRate(fps uint32) (v4l2.Fraction, error) {
	if fps == 0 {
		return v4l2.Fraction{}, newError(ErrFormatNegotiation, "s_parm", n.path, errors.New("frame rate must be positive"))
	}
	p, err := n.dev.SetStreamParm(v4l2.PerSecond(fps))
	if err != nil {
		return v4l2.Fraction{}, newError(ErrFormatNegotiation, "s_parm", n.path, err)
	}
	if p.TimePerFrame.Rate() == 0 {
		return v4l2.Fraction{}, newError(ErrFormatNegotiation, "s_parm", n.path,
			fmt.Errorf("driver returned interval %s", p.TimePerFrame))
	}
	return p.TimePerFrame, nil
}

// SupportedFormats collects every format together with its frame sizes.
func (n *Negotiator) SupportedFormats() ([]PixelFormatDescriptor, error) {
	var out []PixelFormatDescriptor
	for desc, err := range n.Formats() {
		if err != nil {
			return nil, err
		}
		for size, err := range n.FrameSizes(desc.Code) {
			if err != nil {
				return nil, err
			}
			desc.Sizes = append(desc.Sizes, size)
		}
		out = append(out, desc)
	}
	return out, nil
}

// SetFormat asks the driver for code at width x height. The driver may
// adjust the geometry; the returned values are authoritative.
func (n *Negotiator) SetFormat(code, width, height uint32) (Negotiated, error) {
	pix, err := n.dev.SetFormat(v4l2.PixFormat{
		Width:       width,
		Height:      height,
		PixelFormat: code,
		Field:       v4l2.FieldNone,
	})
	if err != nil {
		return Negotiated{}, newError(ErrFormatNegotiation, "s_fmt", n.path, err)
	}
	if pix.Width == 0 || pix.Height == 0 {
		return Negotiated{}, newError(ErrFormatNegotiation, "s_fmt", n.path,
			errors.New("driver returned empty geometry"))
	}
	return Negotiated{
		Width:        pix.Width,
		Height:       pix.Height,
		PixelFormat:  pix.PixelFormat,
		BytesPerLine: pix.BytesPerLine,
		SizeImage:    pix.SizeImage,
		Colorspace:   pix.Colorspace,
	}, nil
}

func describe(d v4l2.FormatDesc) PixelFormatDescriptor {
	return PixelFormatDescriptor{
		Code:        d.PixelFormat,
		FourCC:      v4l2.FormatFourCC(d.PixelFormat),
		Description: d.Description,
		Emulated:    d.Emulated(),
		Compressed:  d.Compressed(),
	}
}
