package capture

import (
	"fmt"
	"math"
)

// Conversion coefficients for studio-range BT.601 YPbPr to full-range RGB.
const (
	lumaScale   = 255.0 / 219.0
	chromaScale = 255.0 / 224.0
	neutral     = 0x80
)

// Converter turns packed YUYV 4:2:2 frames into RGB24. The output buffer is
// owned by the converter and reused until the next Resize.
type Converter struct {
	width, height int
	stride        int
	packed        []byte
	out           []byte
}

// NewConverter creates a converter for width x height frames whose rows are
// bytesPerLine bytes apart.
func NewConverter(width, height, bytesPerLine int) *Converter {
	c := &Converter{}
	c.Resize(width, height, bytesPerLine)
	return c
}

// Resize reallocates the working buffers for a new geometry. A
// bytesPerLine below the packed row length is treated as unpadded.
func (c *Converter) Resize(width, height, bytesPerLine int) {
	if bytesPerLine < width*2 {
		bytesPerLine = width * 2
	}
	c.width, c.height, c.stride = width, height, bytesPerLine
	c.out = make([]byte, width*height*3)
	if bytesPerLine != width*2 {
		c.packed = make([]byte, width*height*2)
	} else {
		c.packed = nil
	}
}

// Width returns the configured frame width in pixels.
func (c *Converter) Width() int { return c.width }

// Height returns the configured frame height in pixels.
func (c *Converter) Height() int { return c.height }

// InputSize is the smallest raw buffer Convert accepts.
func (c *Converter) InputSize() int {
	if c.height == 0 {
		return 0
	}
	return c.stride*(c.height-1) + c.width*2
}

// OutputSize is the length of every converted frame.
func (c *Converter) OutputSize() int { return len(c.out) }

// Convert converts one raw frame. The returned slice is overwritten by the
// next call. Inputs shorter than InputSize fail.
func (c *Converter) Convert(src []byte) ([]byte, error) {
	if len(src) < c.InputSize() {
		return nil, fmt.Errorf("short buffer: %d bytes, need %d", len(src), c.InputSize())
	}
	in := src[:c.width*c.height*2]
	if c.packed != nil {
		row := c.width * 2
		for y := 0; y < c.height; y++ {
			copy(c.packed[y*row:(y+1)*row], src[y*c.stride:])
		}
		in = c.packed
	}
	YUYVToRGB(c.out, in)
	return c.out, nil
}

// YUYVToRGB converts packed YUYV in into RGB24 dst and returns the number
// of bytes written, len(in)/2*3. dst must be at least that long.
func YUYVToRGB(dst, in []byte) int {
	n := len(in) &^ 1
	o := 0
	for i := 0; i < n; i += 2 {
		var u, v byte
		if i%4 == 0 {
			u = at(in, i+1)
			v = at(in, i-1)
		} else {
			u = at(in, i-1)
			v = at(in, i+1)
		}
		dst[o], dst[o+1], dst[o+2] = pixel(in[i], u, v)
		o += 3
	}
	return o
}

func at(in []byte, i int) byte {
	if i < 0 || i >= len(in) {
		return neutral
	}
	return in[i]
}

func pixel(luma, u, v byte) (r, g, b byte) {
	y := lumaScale * (float64(luma) - 16)
	pb := chromaScale * (float64(u) - 128)
	pr := chromaScale * (float64(v) - 128)
	return clamp(y + 1.402*pr), clamp(y - 0.344*pb - 0.714*pr), clamp(y + 1.772*pb)
}

func clamp(x float64) byte {
	return byte(math.Max(0, math.Min(255, x)))
}
