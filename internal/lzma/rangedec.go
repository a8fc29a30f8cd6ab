package lzma

import (
	"fmt"

	"github.com/meigma/sevenz/internal/sztype"
)

const (
	topValue      = 1 << 24
	probBits      = 11
	probInit      = 1 << (probBits - 1)
	moveBits      = 5
	rcInitBytes   = 5
	probModelSize = 1 << probBits
)

type prob = uint16

// rangeDecoder reads a range-coded bit stream from a fixed slice. It
// normalizes before every bit, so after a final normalize the number of
// bytes consumed matches what the encoder flushed.
type rangeDecoder struct {
	in      []byte
	pos     int
	rng     uint32
	code    uint32
	overrun bool
}

func (rc *rangeDecoder) init(in []byte) error {
	if len(in) < rcInitBytes {
		return fmt.Errorf("%w: range coder needs %d bytes, have %d", sztype.ErrTruncated, rcInitBytes, len(in))
	}
	if in[0] != 0 {
		return sztype.Corrupt("range coder first byte %#x", in[0])
	}
	rc.in = in
	rc.pos = rcInitBytes
	rc.rng = 0xFFFFFFFF
	rc.code = uint32(in[1])<<24 | uint32(in[2])<<16 | uint32(in[3])<<8 | uint32(in[4])
	rc.overrun = false
	return nil
}

func (rc *rangeDecoder) normalize() {
	if rc.rng < topValue {
		rc.rng <<= 8
		var b byte
		if rc.pos < len(rc.in) {
			b = rc.in[rc.pos]
		} else {
			rc.overrun = true
		}
		rc.pos++
		rc.code = rc.code<<8 | uint32(b)
	}
}

func (rc *rangeDecoder) bit(p *prob) uint32 {
	rc.normalize()
	bound := (rc.rng >> probBits) * uint32(*p)
	if rc.code < bound {
		rc.rng = bound
		*p += (probModelSize - *p) >> moveBits
		return 0
	}
	rc.rng -= bound
	rc.code -= bound
	*p -= *p >> moveBits
	return 1
}

// bitTree decodes bits symbols most significant first using probs[1:1<<bits].
func (rc *rangeDecoder) bitTree(probs []prob, bits uint) uint32 {
	m := uint32(1)
	for range bits {
		m = m<<1 | rc.bit(&probs[m])
	}
	return m - 1<<bits
}

// reverseBitTree decodes bits symbols least significant first. The node
// for tree index m lives at probs[m-1].
func (rc *rangeDecoder) reverseBitTree(probs []prob, bits uint32) uint32 {
	m := uint32(1)
	var sym uint32
	for i := range bits {
		b := rc.bit(&probs[m-1])
		m = m<<1 | b
		sym |= b << i
	}
	return sym
}

// direct decodes n bits with a fixed probability of one half.
func (rc *rangeDecoder) direct(n uint32) uint32 {
	var v uint32
	for range n {
		rc.normalize()
		rc.rng >>= 1
		rc.code -= rc.rng
		mask := 0 - (rc.code >> 31)
		rc.code += rc.rng & mask
		v = v<<1 + mask + 1
	}
	return v
}

func initProbs(probs []prob) {
	for i := range probs {
		probs[i] = probInit
	}
}
