package capture

import (
	"time"

	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
)

// FrameSizeRange is one supported frame-size entry: a single discrete size
// or a min/max/step range per dimension.
type FrameSizeRange = v4l2.FrameSize

// FrameIntervalRange is one supported frame-interval entry.
type FrameIntervalRange = v4l2.FrameInterval

// PixelFormatDescriptor describes one pixel format the device advertises.
// It is immutable once enumerated.
type PixelFormatDescriptor struct {
	Code        uint32           `json:"code"`
	FourCC      string           `json:"fourcc"`
	Description string           `json:"description"`
	Emulated    bool             `json:"emulated"`
	Compressed  bool             `json:"compressed"`
	Sizes       []FrameSizeRange `json:"sizes"`
}

// Supports reports whether width x height falls within any advertised size.
// Formats whose driver does not enumerate sizes accept everything.
func (d PixelFormatDescriptor) Supports(width, height uint32) bool {
	if len(d.Sizes) == 0 {
		return true
	}
	for _, s := range d.Sizes {
		if s.Contains(width, height) {
			return true
		}
	}
	return false
}

// Capabilities summarizes the capability query of an opened device.
type Capabilities struct {
	IsCaptureDevice   bool   `json:"is_capture_device"`
	SupportsStreaming bool   `json:"supports_streaming"`
	Driver            string `json:"driver"`
	Card              string `json:"card"`
	BusInfo           string `json:"bus_info"`
	Version           string `json:"version"`
}

// Negotiated is the format the driver accepted. All buffer math uses these
// values, never the requested ones.
type Negotiated struct {
	Width        uint32 `json:"width"`
	Height       uint32 `json:"height"`
	PixelFormat  uint32 `json:"pixel_format"`
	BytesPerLine uint32 `json:"bytes_per_line"`
	SizeImage    uint32 `json:"size_image"`
	Colorspace   uint32 `json:"colorspace"`
	// FrameRate is the driver's frames per second, zero when it does not
	// report one.
	FrameRate float64 `json:"frame_rate,omitempty"`
}

// FourCC returns the negotiated pixel format as text.
func (n Negotiated) FourCC() string {
	return v4l2.FormatFourCC(n.PixelFormat)
}

// Ownership tags which side may touch a mapped buffer.
type Ownership int

// Ownership states.
const (
	OwnerApplication Ownership = iota
	OwnerKernel
)

func (o Ownership) String() string {
	if o == OwnerKernel {
		return "kernel"
	}
	return "application"
}

// StreamingState is the engine's externally visible state.
type StreamingState string

// Streaming states.
const (
	StateStopped   StreamingState = "stopped"
	StateStreaming StreamingState = "streaming"
	// StateDraining follows a Stop whose capture goroutine missed the join
	// deadline. Buffers stay mapped until it exits.
	StateDraining StreamingState = "draining"
)

// Frame is one converted RGB24 image. Data never aliases a mapped buffer.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	Sequence   uint64
	CapturedAt time.Time
}

// Len returns the number of bytes in the frame; zero means no frame yet.
func (f Frame) Len() int { return len(f.Data) }

// Empty reports whether no frame has been published.
func (f Frame) Empty() bool { return len(f.Data) == 0 }
