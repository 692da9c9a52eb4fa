package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeSessionOpened uint32 = iota + 1
	TypeFormatNegotiated
	TypeStreamingStarted
	TypeStreamingStopped
	TypeCaptureFault
	TypeSessionClosed
	TypeControlChanged
	TypeFrameRateChanged
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionOpenedEvent is published once a device passed the capability check.
type SessionOpenedEvent struct {
	SessionID  string    `json:"session_id" doc:"Session identifier"`
	DevicePath string    `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	Driver     string    `json:"driver" example:"uvcvideo" doc:"Kernel driver name"`
	Card       string    `json:"card" example:"HD Pro Webcam C920" doc:"Device name reported by the driver"`
	Formats    int       `json:"formats" doc:"Number of advertised pixel formats"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for SessionOpenedEvent.
func (e SessionOpenedEvent) Type() uint32 { return TypeSessionOpened }

// FormatNegotiatedEvent reports the geometry the driver actually accepted.
type FormatNegotiatedEvent struct {
	SessionID       string    `json:"session_id"`
	DevicePath      string    `json:"device_path"`
	RequestedWidth  uint32    `json:"requested_width"`
	RequestedHeight uint32    `json:"requested_height"`
	Width           uint32    `json:"width"`
	Height          uint32    `json:"height"`
	PixelFormat     string    `json:"pixel_format" example:"YUYV"`
	Buffers         uint32    `json:"buffers" doc:"Number of mapped buffers granted by the driver"`
	Timestamp       time.Time `json:"timestamp"`
}

// Type returns the event type identifier for FormatNegotiatedEvent.
func (e FormatNegotiatedEvent) Type() uint32 { return TypeFormatNegotiated }

// StreamingStartedEvent is published after stream-on and capture loop launch.
type StreamingStartedEvent struct {
	SessionID  string    `json:"session_id"`
	DevicePath string    `json:"device_path"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for StreamingStartedEvent.
func (e StreamingStartedEvent) Type() uint32 { return TypeStreamingStarted }

// StreamingStoppedEvent is published after the capture loop joined and
// stream-off completed.
type StreamingStoppedEvent struct {
	SessionID  string    `json:"session_id"`
	DevicePath string    `json:"device_path"`
	Frames     uint64    `json:"frames" doc:"Frames published during this streaming run"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for StreamingStoppedEvent.
func (e StreamingStoppedEvent) Type() uint32 { return TypeStreamingStopped }

// CaptureFaultEvent is published when the capture loop terminates on a hard
// error. The session stays open; only the loop is gone.
type CaptureFaultEvent struct {
	SessionID  string    `json:"session_id"`
	DevicePath string    `json:"device_path"`
	Code       string    `json:"code" example:"DEQUEUE"`
	Error      string    `json:"error"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for CaptureFaultEvent.
func (e CaptureFaultEvent) Type() uint32 { return TypeCaptureFault }

// SessionClosedEvent is published when a session released its device.
type SessionClosedEvent struct {
	SessionID  string    `json:"session_id"`
	DevicePath string    `json:"device_path"`
	Error      string    `json:"error,omitempty" doc:"Joined cleanup errors, if any"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for SessionClosedEvent.
func (e SessionClosedEvent) Type() uint32 { return TypeSessionClosed }

// ControlChangedEvent reports a control value as the driver left it.
type ControlChangedEvent struct {
	SessionID  string    `json:"session_id"`
	DevicePath string    `json:"device_path"`
	ControlID  uint32    `json:"control_id" example:"9963776"`
	Control    string    `json:"control" example:"brightness"`
	Value      int32     `json:"value" example:"128"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for ControlChangedEvent.
func (e ControlChangedEvent) Type() uint32 { return TypeControlChanged }

// FrameRateChangedEvent reports the frame interval the driver settled on.
type FrameRateChangedEvent struct {
	SessionID  string    `json:"session_id"`
	DevicePath string    `json:"device_path"`
	Requested  uint32    `json:"requested" example:"30" doc:"Requested frames per second"`
	FrameRate  float64   `json:"frame_rate" example:"30" doc:"Accepted frames per second"`
	Interval   string    `json:"interval" example:"1/30" doc:"Accepted time per frame"`
	Timestamp  time.Time `json:"timestamp"`
}

// Type returns the event type identifier for FrameRateChangedEvent.
func (e FrameRateChangedEvent) Type() uint32 { return TypeFrameRateChanged }
