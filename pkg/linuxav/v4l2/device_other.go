//go:build !linux

package v4l2

// FindDevices reports ErrUnsupportedPlatform outside linux.
func FindDevices() ([]DeviceInfo, error) {
	return nil, ErrUnsupportedPlatform
}

// GetDevicePathByID reports ErrUnsupportedPlatform outside linux.
func GetDevicePathByID(string) (string, error) {
	return "", ErrUnsupportedPlatform
}
