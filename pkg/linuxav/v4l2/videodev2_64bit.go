//go:build linux && (amd64 || arm64 || riscv64 || ppc64le || loong64)

package v4l2

import (
	"encoding/binary"
	"time"
	"unsafe"
)

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [208]byte = [unsafe.Sizeof(v4l2Format{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2Buffer{})]byte{}
)

// IOCTL constants for 64-bit architectures.
const (
	vidiocSFmt     = 0xc0d05605
	vidiocQuerybuf = 0xc0585609
	vidiocQbuf     = 0xc058560f
	vidiocDqbuf    = 0xc0585611
)

// v4l2Format has size 208 bytes. The union is pointer aligned, hence the pad.
type v4l2Format struct {
	typ uint32        // offset 0
	_   [4]byte       // offset 4
	pix v4l2PixFormat // offset 8 (union fmt)
	_   [152]byte     // rest of the 200-byte union
}

// v4l2Buffer has size 88 bytes.
type v4l2Buffer struct {
	index     uint32   // offset 0
	typ       uint32   // offset 4
	bytesused uint32   // offset 8
	flags     uint32   // offset 12
	field     uint32   // offset 16
	_         [4]byte  // offset 20
	timestamp [16]byte // offset 24 (struct timeval)
	timecode  [16]byte // offset 40
	sequence  uint32   // offset 56
	memory    uint32   // offset 60
	offset    uint32   // offset 64 (union m)
	_         [4]byte  // offset 68
	length    uint32   // offset 72
	reserved2 uint32   // offset 76
	requestFd uint32   // offset 80
	_         [4]byte  // offset 84
}

func (b *v4l2Buffer) timeval() time.Duration {
	sec := int64(binary.NativeEndian.Uint64(b.timestamp[0:8]))
	usec := int64(binary.NativeEndian.Uint64(b.timestamp[8:16]))
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
}
