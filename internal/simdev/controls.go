package simdev

import (
	"fmt"
	"math"
	"syscall"
	"time"

	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
)

// DefaultControls is the user control set of a typical UVC webcam. Hue is
// listed but disabled, the way many drivers report it.
func DefaultControls() []v4l2.QueryControl {
	return []v4l2.QueryControl{
		{ID: v4l2.CIDBrightness, Type: v4l2.CtrlTypeInteger, Name: "Brightness", Minimum: 0, Maximum: 255, Step: 1, Default: 128},
		{ID: v4l2.CIDContrast, Type: v4l2.CtrlTypeInteger, Name: "Contrast", Minimum: 0, Maximum: 255, Step: 1, Default: 32},
		{ID: v4l2.CIDSaturation, Type: v4l2.CtrlTypeInteger, Name: "Saturation", Minimum: 0, Maximum: 255, Step: 1, Default: 64},
		{ID: v4l2.CIDHue, Type: v4l2.CtrlTypeInteger, Name: "Hue", Minimum: -180, Maximum: 180, Step: 1, Flags: v4l2.CtrlFlagDisabled},
		{ID: v4l2.CIDAutoWhiteBalance, Type: v4l2.CtrlTypeBoolean, Name: "White Balance Temperature, Auto", Minimum: 0, Maximum: 1, Step: 1, Default: 1},
		{ID: v4l2.CIDPowerLineFrequency, Type: v4l2.CtrlTypeMenu, Name: "Power Line Frequency", Minimum: 0, Maximum: 2, Step: 1, Default: 1},
		{ID: v4l2.CIDWhiteBalanceTemperature, Type: v4l2.CtrlTypeInteger, Name: "White Balance Temperature", Minimum: 2800, Maximum: 6500, Step: 10, Default: 4600},
		{ID: v4l2.CIDSharpness, Type: v4l2.CtrlTypeInteger, Name: "Sharpness", Minimum: 0, Maximum: 7, Step: 1, Default: 3},
	}
}

// QueryControl implements VIDIOC_QUERYCTRL, including the next-control
// walk. Manual white balance reports inactive while auto white balance is on.
func (d *Device) QueryControl(id uint32) (v4l2.QueryControl, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpQueryControl); err != nil {
		return v4l2.QueryControl{}, err
	}

	var (
		q     v4l2.QueryControl
		found bool
	)
	if id&v4l2.CtrlFlagNextCtrl != 0 {
		after := id &^ v4l2.CtrlFlagNextCtrl
		for _, c := range d.cfg.Controls {
			if c.ID > after {
				q, found = c, true
				break
			}
		}
	} else {
		q, found = d.control(id)
	}
	if !found {
		return v4l2.QueryControl{}, v4l2.ErrEndOfEnumeration
	}
	if q.ID == v4l2.CIDWhiteBalanceTemperature && d.ctrls[v4l2.CIDAutoWhiteBalance] != 0 {
		q.Flags |= v4l2.CtrlFlagInactive
	}
	return q, nil
}

// GetControl implements VIDIOC_G_CTRL.
func (d *Device) GetControl(id uint32) (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpGetControl); err != nil {
		return 0, err
	}
	c, ok := d.control(id)
	if !ok || c.Disabled() {
		return 0, fmt.Errorf("%s %#x: %w", OpGetControl, id, syscall.EINVAL)
	}
	if !c.HasValue() {
		return 0, fmt.Errorf("%s %#x: %w", OpGetControl, id, syscall.EACCES)
	}
	return d.ctrls[id], nil
}

// SetControl implements VIDIOC_S_CTRL. Integer values are clamped and
// rounded to the step; boolean and menu values outside the range fail with
// ERANGE.
func (d *Device) SetControl(id uint32, value int32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpSetControl); err != nil {
		return err
	}
	c, ok := d.control(id)
	if !ok || c.Disabled() {
		return fmt.Errorf("%s %#x: %w", OpSetControl, id, syscall.EINVAL)
	}
	if c.ReadOnly() {
		return fmt.Errorf("%s %#x: %w", OpSetControl, id, syscall.EACCES)
	}
	switch c.Type {
	case v4l2.CtrlTypeInteger, v4l2.CtrlTypeInteger64:
		value = roundToStep(value, c.Minimum, c.Maximum, c.Step)
	default:
		if value < c.Minimum || value > c.Maximum {
			return fmt.Errorf("%s %#x=%d: %w", OpSetControl, id, value, syscall.ERANGE)
		}
	}
	d.ctrls[id] = value
	return nil
}

// EnumFrameInterval implements VIDIOC_ENUM_FRAMEINTERVALS.
func (d *Device) EnumFrameInterval(index, pixelFormat, width, height uint32) (v4l2.FrameInterval, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpEnumFrameInterval); err != nil {
		return v4l2.FrameInterval{}, err
	}
	f, ok := d.lookup(pixelFormat)
	if !ok || int(index) >= len(f.Intervals) || !supportsSize(f, width, height) {
		return v4l2.FrameInterval{}, v4l2.ErrEndOfEnumeration
	}
	return f.Intervals[index], nil
}

// GetStreamParm implements VIDIOC_G_PARM.
func (d *Device) GetStreamParm() (v4l2.StreamParm, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpGetParm); err != nil {
		return v4l2.StreamParm{}, err
	}
	return v4l2.StreamParm{Capability: v4l2.CapTimePerFrame, TimePerFrame: d.tpf}, nil
}

// SetStreamParm implements VIDIOC_S_PARM. The interval snaps to the closest
// one the current format supports. Like uvcvideo it refuses while streaming.
func (d *Device) SetStreamParm(timePerFrame v4l2.Fraction) (v4l2.StreamParm, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.check(OpSetParm); err != nil {
		return v4l2.StreamParm{}, err
	}
	if d.streaming {
		return v4l2.StreamParm{}, fmt.Errorf("%s: %w", OpSetParm, syscall.EBUSY)
	}
	if timePerFrame.Numerator == 0 || timePerFrame.Denominator == 0 {
		return v4l2.StreamParm{}, fmt.Errorf("%s %s: %w", OpSetParm, timePerFrame, syscall.EINVAL)
	}
	d.tpf = d.snapInterval(timePerFrame)
	return v4l2.StreamParm{Capability: v4l2.CapTimePerFrame, TimePerFrame: d.tpf}, nil
}

// control must be called with d.mu held.
func (d *Device) control(id uint32) (v4l2.QueryControl, bool) {
	for _, c := range d.cfg.Controls {
		if c.ID == id {
			return c, true
		}
	}
	return v4l2.QueryControl{}, false
}

// snapInterval must be called with d.mu held or before d is shared.
func (d *Device) snapInterval(want v4l2.Fraction) v4l2.Fraction {
	f, ok := d.lookup(d.pix.PixelFormat)
	if !ok || len(f.Intervals) == 0 {
		return want
	}
	best := f.Intervals[0].Min
	bestDist := math.Inf(1)
	for _, iv := range f.Intervals {
		c := iv.Min
		if !iv.Discrete() {
			switch {
			case want.Cmp(iv.Min) < 0:
				c = iv.Min
			case want.Cmp(iv.Max) > 0:
				c = iv.Max
			default:
				c = want
			}
		}
		if dist := math.Abs(c.Rate() - want.Rate()); dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best
}

// period returns how long the generator waits between frames.
func (d *Device) period() time.Duration {
	if d.cfg.FrameInterval > 0 {
		return d.cfg.FrameInterval
	}
	d.mu.Lock()
	tpf := d.tpf
	d.mu.Unlock()
	if tpf.Numerator == 0 || tpf.Denominator == 0 {
		return 33 * time.Millisecond
	}
	return time.Duration(uint64(time.Second) * uint64(tpf.Numerator) / uint64(tpf.Denominator))
}

func supportsSize(f Format, w, h uint32) bool {
	if len(f.Sizes) == 0 {
		return true
	}
	for _, s := range f.Sizes {
		if s.Contains(w, h) {
			return true
		}
	}
	return false
}

func roundToStep(v, lo, hi, step int32) int32 {
	v = min(max(v, lo), hi)
	if step > 1 {
		v = lo + int32(math.Round(float64(v-lo)/float64(step)))*step
		v = min(v, hi)
	}
	return v
}
