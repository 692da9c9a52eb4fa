// Package models holds the request and response bodies of the control API.
package models

import "time"

// HealthData is the body of the health check.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// VersionData describes the running build.
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2026-01-15 14:30" doc:"Build timestamp"`
	BuildID   string `json:"build_id" example:"a1b2c3d4" doc:"Unique build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.0" doc:"Go compiler version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Compiler used"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// SessionData is the state of the capture session.
type SessionData struct {
	ID           string     `json:"id" doc:"Session identifier"`
	DevicePath   string     `json:"device_path" example:"/dev/video0" doc:"Path to the video device"`
	Driver       string     `json:"driver" example:"uvcvideo" doc:"Kernel driver name"`
	Card         string     `json:"card" example:"HD Pro Webcam C920" doc:"Device name reported by the driver"`
	BusInfo      string     `json:"bus_info" example:"usb-0000:00:14.0-1" doc:"Bus location"`
	State        string     `json:"state" enum:"stopped,streaming,draining" doc:"Streaming state; draining means a stop timed out and the capture loop has not exited yet"`
	Live         bool       `json:"live" doc:"Whether the capture loop is running"`
	Width        uint32     `json:"width,omitempty" example:"640" doc:"Negotiated width"`
	Height       uint32     `json:"height,omitempty" example:"480" doc:"Negotiated height"`
	PixelFormat  string     `json:"pixel_format,omitempty" example:"YUYV" doc:"Negotiated pixel format"`
	BytesPerLine uint32     `json:"bytes_per_line,omitempty" example:"1280" doc:"Row stride of raw frames"`
	FrameRate    float64    `json:"frame_rate,omitempty" example:"30" doc:"Negotiated frames per second"`
	Buffers      int        `json:"buffers" example:"4" doc:"Number of mapped buffers"`
	Frames       uint64     `json:"frames" doc:"Frames published during the current run"`
	Dropped      uint64     `json:"dropped" doc:"Frames dropped since open"`
	Faults       uint64     `json:"faults" doc:"Capture loop faults since open"`
	LastFrameAt  *time.Time `json:"last_frame_at,omitempty" doc:"When the last frame was published"`
	LastError    string     `json:"last_error,omitempty" doc:"Fault that ended the last run"`
}

type SessionResponse struct {
	Body SessionData
}

// FormatData is one advertised pixel format.
type FormatData struct {
	Code        uint32   `json:"code" example:"1448695129" doc:"FourCC code as an integer"`
	FourCC      string   `json:"fourcc" example:"YUYV" doc:"FourCC code"`
	Description string   `json:"description" example:"YUYV 4:2:2" doc:"Driver description"`
	Emulated    bool     `json:"emulated" doc:"Converted in software by the driver stack"`
	Compressed  bool     `json:"compressed" doc:"Compressed format"`
	Sizes       []string `json:"sizes" doc:"Supported frame sizes, e.g. 640x480 or [16-1920;8]x[16-1080;8]"`
}

// FormatsData lists the formats enumerated when the device was opened.
type FormatsData struct {
	DevicePath string       `json:"device_path" example:"/dev/video0"`
	Formats    []FormatData `json:"formats"`
	Count      int          `json:"count" example:"2"`
}

type FormatsResponse struct {
	Body FormatsData
}

// FormatRequestData asks for a new capture geometry.
type FormatRequestData struct {
	Width     uint32 `json:"width" minimum:"1" maximum:"65536" example:"1280" doc:"Requested width"`
	Height    uint32 `json:"height" minimum:"1" maximum:"65536" example:"720" doc:"Requested height"`
	Restart   bool   `json:"restart,omitempty" doc:"Stop and restart streaming if it is running"`
	FrameRate uint32 `json:"framerate,omitempty" maximum:"1000" example:"30" doc:"Requested frames per second; the driver picks the closest supported rate"`
}

type FormatRequest struct {
	Body FormatRequestData
}

// FormatResultData reports what the driver accepted.
type FormatResultData struct {
	RequestedWidth  uint32  `json:"requested_width" example:"1280"`
	RequestedHeight uint32  `json:"requested_height" example:"720"`
	Width           uint32  `json:"width" example:"1280" doc:"Negotiated width"`
	Height          uint32  `json:"height" example:"720" doc:"Negotiated height"`
	FrameRate       float64 `json:"frame_rate,omitempty" example:"30" doc:"Negotiated frames per second"`
}

type FormatResponse struct {
	Body FormatResultData
}

// FrameIntervalsData lists the frame intervals offered at the negotiated
// format.
type FrameIntervalsData struct {
	Width     uint32   `json:"width" example:"640"`
	Height    uint32   `json:"height" example:"480"`
	Intervals []string `json:"intervals" doc:"Seconds per frame, e.g. 1/30 or [1/60-1/5]"`
	FrameRate float64  `json:"frame_rate,omitempty" example:"30" doc:"Current frames per second"`
}

type FrameIntervalsResponse struct {
	Body FrameIntervalsData
}

// ControlData is one device control.
type ControlData struct {
	ID       uint32 `json:"id" example:"9963776" doc:"V4L2 control id"`
	Key      string `json:"key" example:"brightness" doc:"Control name in snake case"`
	Name     string `json:"name" example:"Brightness" doc:"Driver name"`
	Type     string `json:"type" example:"integer" doc:"Control type"`
	Min      int32  `json:"min" example:"0"`
	Max      int32  `json:"max" example:"255"`
	Step     int32  `json:"step" example:"1"`
	Default  int32  `json:"default" example:"128"`
	Value    int32  `json:"value" example:"128"`
	ReadOnly bool   `json:"read_only,omitempty"`
	Inactive bool   `json:"inactive,omitempty" doc:"Currently has no effect, e.g. manual white balance under auto"`
}

type ControlResponse struct {
	Body ControlData
}

// ControlsData lists the device controls.
type ControlsData struct {
	Controls []ControlData `json:"controls"`
	Count    int           `json:"count" example:"7"`
}

type ControlsResponse struct {
	Body ControlsData
}

// ControlValueData is the new value of a control.
type ControlValueData struct {
	Value int32 `json:"value" example:"128" doc:"New value; integer controls are clamped by the driver"`
}

// ControlRequest sets one control, addressed by key or numeric id.
type ControlRequest struct {
	Control string `path:"control" example:"brightness" doc:"Control key or numeric id"`
	Body    ControlValueData
}

type ControlGetRequest struct {
	Control string `path:"control" example:"brightness" doc:"Control key or numeric id"`
}

// ActionData is the result of a start or stop request.
type ActionData struct {
	State   string `json:"state" enum:"stopped,streaming,draining"`
	Message string `json:"message" example:"Streaming started"`
}

type ActionResponse struct {
	Body ActionData
}
