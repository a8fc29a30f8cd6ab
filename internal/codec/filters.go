package codec

import (
	"encoding/binary"

	"github.com/meigma/sevenz/internal/sztype"
)

// Delta reverses the delta filter. The optional property byte holds the
// distance minus one.
func Delta(props, in []byte) ([]byte, error) {
	dist := 1
	switch len(props) {
	case 0:
	case 1:
		dist = int(props[0]) + 1
	default:
		return nil, sztype.Corrupt("delta properties are %d bytes", len(props))
	}
	out := make([]byte, len(in))
	copy(out, in)
	for i := dist; i < len(out); i++ {
		out[i] += out[i-dist]
	}
	return out, nil
}

// BCJ reverses the x86 branch converter, which rewrites the relative
// targets of E8/E9 instructions as absolute addresses. A four-byte
// property sets the start offset.
func BCJ(props, in []byte) ([]byte, error) {
	var start uint32
	switch len(props) {
	case 0:
	case 4:
		start = binary.LittleEndian.Uint32(props)
	default:
		return nil, sztype.Corrupt("bcj properties are %d bytes", len(props))
	}
	out := make([]byte, len(in))
	copy(out, in)
	x86Decode(out, start)
	return out, nil
}

var (
	x86AllowedMask = [8]bool{true, true, true, false, true, false, false, false}
	x86MaskBit     = [8]uint32{0, 1, 2, 2, 3, 3, 3, 3}
)

func x86TestByte(b byte) bool { return b == 0x00 || b == 0xFF }

// x86Decode converts absolute call and jump targets in buf back to
// relative ones, in place. The final four bytes are never converted since
// they cannot hold a complete operand.
func x86Decode(buf []byte, pos uint32) {
	if len(buf) <= 4 {
		return
	}
	size := len(buf) - 4
	prevPos := -1
	var prevMask uint32
	for i := 0; i < size; i++ {
		if buf[i]&0xFE != 0xE8 {
			continue
		}
		dist := i - prevPos
		if dist > 3 {
			prevMask = 0
		} else {
			prevMask = (prevMask << (dist - 1)) & 7
			if prevMask != 0 {
				b := buf[i+4-int(x86MaskBit[prevMask])]
				if !x86AllowedMask[prevMask] || x86TestByte(b) {
					prevPos = i
					prevMask = prevMask<<1 | 1
					continue
				}
			}
		}
		prevPos = i

		if !x86TestByte(buf[i+4]) {
			prevMask = prevMask<<1 | 1
			continue
		}
		src := binary.LittleEndian.Uint32(buf[i+1:])
		var dest uint32
		for {
			dest = src - (pos + uint32(i) + 5) //nolint:gosec // offsets wrap like the reference filter
			if prevMask == 0 {
				break
			}
			j := x86MaskBit[prevMask] * 8
			if !x86TestByte(byte(dest >> (24 - j))) {
				break
			}
			src = dest ^ (1<<(32-j) - 1)
		}
		dest &= 0x01FFFFFF
		dest |= 0 - (dest & 0x01000000)
		binary.LittleEndian.PutUint32(buf[i+1:], dest)
		i += 4
	}
}
