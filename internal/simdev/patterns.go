package simdev

import "github.com/smazurov/vidgrab/pkg/linuxav/v4l2"

// YUYV luma/chroma triples of the eight SMPTE-style 75% bars.
var colorBars = [8][3]byte{
	{180, 128, 128}, // white
	{162, 44, 142},  // yellow
	{131, 156, 44},  // cyan
	{112, 72, 58},   // green
	{84, 184, 198},  // magenta
	{65, 100, 212},  // red
	{35, 212, 114},  // blue
	{16, 128, 128},  // black
}

// SolidYUYV returns a packed YUYV frame of w x h pixels filled with one color.
func SolidYUYV(w, h uint32, y, u, v byte) []byte {
	out := make([]byte, int(w)*int(h)*2)
	for i := 0; i+3 < len(out); i += 4 {
		out[i], out[i+1], out[i+2], out[i+3] = y, u, y, v
	}
	return out
}

// ColorBars is a Generator drawing vertical bars that scroll one pixel pair
// per frame, so consecutive frames differ.
func ColorBars(seq uint32, pix v4l2.PixFormat) []byte {
	stride := pix.BytesPerLine
	if stride < pix.Width*2 {
		stride = pix.Width * 2
	}
	out := make([]byte, int(stride)*int(pix.Height))
	pairs := pix.Width / 2
	if pairs == 0 {
		return out
	}
	for row := range pix.Height {
		line := out[int(row*stride):]
		for p := range pairs {
			bar := ((p + seq) % pairs) * 8 / pairs
			c := colorBars[bar]
			line[p*4], line[p*4+1], line[p*4+2], line[p*4+3] = c[0], c[1], c[0], c[2]
		}
	}
	return out
}

// Solid returns a Generator producing the same color on every frame.
func Solid(y, u, v byte) Generator {
	return func(_ uint32, pix v4l2.PixFormat) []byte {
		return SolidYUYV(pix.Width, pix.Height, y, u, v)
	}
}
