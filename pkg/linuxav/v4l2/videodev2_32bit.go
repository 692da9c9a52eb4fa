//go:build linux && (arm || 386)

package v4l2

import (
	"encoding/binary"
	"time"
	"unsafe"
)

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [204]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [68]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// IOCTL constants for 32-bit architectures.
const (
	vidiocSFmt     = 0xc0cc5605
	vidiocQuerybuf = 0xc0445609
	vidiocQbuf     = 0xc044560f
	vidiocDqbuf    = 0xc0445611
)

// v4l2Format has size 204 bytes.
type v4l2Format struct {
	typ uint32        // offset 0
	pix v4l2PixFormat // offset 4 (union fmt)
	_   [152]byte     // rest of the 200-byte union
}

// v4l2Buffer has size 68 bytes.
type v4l2Buffer struct {
	index     uint32   // offset 0
	typ       uint32   // offset 4
	bytesused uint32   // offset 8
	flags     uint32   // offset 12
	field     uint32   // offset 16
	timestamp [8]byte  // offset 20 (struct timeval)
	timecode  [16]byte // offset 28
	sequence  uint32   // offset 44
	memory    uint32   // offset 48
	offset    uint32   // offset 52 (union m)
	length    uint32   // offset 56
	reserved2 uint32   // offset 60
	requestFd uint32   // offset 64
}

func (b *v4l2Buffer) timeval() time.Duration {
	sec := int32(binary.NativeEndian.Uint32(b.timestamp[0:4]))
	usec := int32(binary.NativeEndian.Uint32(b.timestamp[4:8]))
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
}
