// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) capture
// API: device discovery, capability and format negotiation, and the
// memory-mapped streaming I/O protocol.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Streaming
//
// A [Device] wraps one open file descriptor and exposes each ioctl of the
// streaming protocol as a method. Buffer ownership is the caller's problem:
// a buffer handed to the driver with [Device.Enqueue] must not be touched
// until [Device.Dequeue] returns its index again.
//
//	dev, _ := v4l2.Open("/dev/video0")
//	pix, _ := dev.SetFormat(v4l2.PixFormat{Width: 640, Height: 480, PixelFormat: v4l2.PixFmtYUYV})
//	n, _ := dev.RequestBuffers(4)
//	for i := range n {
//	    info, _ := dev.QueryBuffer(i)
//	    mem, _ := dev.MapBuffer(info)
//	    _ = dev.Enqueue(i)
//	}
//	_ = dev.StreamOn()
//	if ok, _ := dev.WaitReadable(2 * time.Second); ok {
//	    buf, err := dev.Dequeue() // ErrNotReady when nothing is filled yet
//	}
//
// Enumeration methods report the end of a list with [ErrEndOfEnumeration]
// rather than the raw EINVAL the kernel uses for it.
package v4l2
