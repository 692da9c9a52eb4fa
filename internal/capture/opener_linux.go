//go:build linux

package capture

import "github.com/smazurov/vidgrab/pkg/linuxav/v4l2"

// OpenDevice opens a V4L2 node for streaming capture.
func OpenDevice(path string) (Backend, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}
	return dev, nil
}
