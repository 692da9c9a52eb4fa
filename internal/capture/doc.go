// Package capture manages a memory-mapped video capture session.
//
// A Session opens a device, negotiates YUYV at a requested geometry, maps a
// pool of driver buffers and runs one capture goroutine that cycles each
// buffer between driver and application: wait, dequeue, convert to RGB24,
// publish, requeue. Consumers read the latest frame with GrabFrame, which
// always returns a private copy.
//
//	s, err := capture.Open("/dev/video0", nil)
//	w, h, err := s.Configure(640, 480)
//	err = s.StartStreaming()
//	frame := s.GrabFrame()
//	err = s.Close()
package capture
