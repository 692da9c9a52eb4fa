//go:build !linux

package capture

import "github.com/smazurov/vidgrab/pkg/linuxav/v4l2"

// OpenDevice always fails outside linux; use a simulated backend instead.
func OpenDevice(string) (Backend, error) {
	return nil, v4l2.ErrUnsupportedPlatform
}
