// Package codec resolves 7z coder method IDs into a closed set of methods
// and decodes coder streams.
package codec

import (
	"bytes"
	"encoding/hex"
)

// Method identifies the algorithm of one coder.
type Method uint8

const (
	MethodUnknown Method = iota
	MethodCopy
	MethodDelta
	MethodBCJ
	MethodLZMA
	MethodLZMA2
	MethodDeflate
	MethodBZip2
	MethodZstd
	MethodBrotli
	MethodLZ4
	MethodXZ
	MethodAES
)

var methodIDs = []struct {
	id     []byte
	method Method
}{
	{[]byte{0x00}, MethodCopy},
	{[]byte{0x03}, MethodDelta},
	{[]byte{0x03, 0x03, 0x01, 0x03}, MethodBCJ},
	{[]byte{0x03, 0x01, 0x01}, MethodLZMA},
	{[]byte{0x21}, MethodLZMA2},
	{[]byte{0x04, 0x01, 0x00}, MethodCopy},
	{[]byte{0x04, 0x01, 0x08}, MethodDeflate},
	{[]byte{0x04, 0x01, 0x0C}, MethodBZip2},
	{[]byte{0x04, 0x01, 0x5F}, MethodXZ},
	{[]byte{0x04, 0x02, 0x02}, MethodBZip2},
	{[]byte{0x04, 0xF7, 0x11, 0x01}, MethodZstd},
	{[]byte{0x04, 0xF7, 0x11, 0x02}, MethodBrotli},
	{[]byte{0x04, 0xF7, 0x11, 0x04}, MethodLZ4},
	{[]byte{0x06, 0xF1, 0x07, 0x01}, MethodAES},
}

// MethodFromID maps a coder ID to its method. Unrecognized IDs map to
// MethodUnknown.
func MethodFromID(id []byte) Method {
	for _, m := range methodIDs {
		if bytes.Equal(m.id, id) {
			return m.method
		}
	}
	return MethodUnknown
}

// Supported reports whether the method can be decoded.
func (m Method) Supported() bool {
	return m != MethodUnknown && m != MethodAES
}

func (m Method) String() string {
	switch m {
	case MethodCopy:
		return "copy"
	case MethodDelta:
		return "delta"
	case MethodBCJ:
		return "bcj"
	case MethodLZMA:
		return "lzma"
	case MethodLZMA2:
		return "lzma2"
	case MethodDeflate:
		return "deflate"
	case MethodBZip2:
		return "bzip2"
	case MethodZstd:
		return "zstd"
	case MethodBrotli:
		return "brotli"
	case MethodLZ4:
		return "lz4"
	case MethodXZ:
		return "xz"
	case MethodAES:
		return "aes"
	default:
		return "unknown"
	}
}

// FormatID renders a coder ID for messages.
func FormatID(id []byte) string {
	return hex.EncodeToString(id)
}
