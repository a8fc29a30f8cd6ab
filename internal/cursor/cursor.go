// Package cursor provides a bounds-checked reader over a byte slice with
// byte-level and bit-level access.
//
// Every read either returns a value or an error wrapping
// [sztype.ErrTruncated]; the cursor never reads past its slice.
package cursor

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/sevenz/internal/sztype"
)

// BitOrder selects how bits are taken from each byte in bit mode.
type BitOrder uint8

const (
	// MSBFirst reads bit 7 of each byte first.
	MSBFirst BitOrder = iota
	// LSBFirst reads bit 0 of each byte first.
	LSBFirst
)

// Cursor is a forward-only reader over an immutable byte slice.
type Cursor struct {
	buf   []byte
	pos   int
	bit   uint8 // bits already consumed from buf[pos]
	order BitOrder
}

// New returns a cursor positioned at the start of buf.
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// NewBits returns a cursor that reads bits in the given order.
func NewBits(buf []byte, order BitOrder) *Cursor {
	return &Cursor{buf: buf, order: order}
}

// Offset returns the index of the next unread byte.
func (c *Cursor) Offset() int { return c.pos }

// Len returns the length of the underlying slice.
func (c *Cursor) Len() int { return len(c.buf) }

// Remaining returns the number of whole unread bytes.
func (c *Cursor) Remaining() int {
	c.Align()
	return len(c.buf) - c.pos
}

// Rest returns the unread bytes without consuming them.
func (c *Cursor) Rest() []byte {
	c.Align()
	return c.buf[c.pos:]
}

func (c *Cursor) need(n uint64) error {
	if n > uint64(len(c.buf)-c.pos) {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", sztype.ErrTruncated, n, c.pos, len(c.buf)-c.pos)
	}
	return nil
}

// Byte reads one byte.
func (c *Cursor) Byte() (byte, error) {
	c.Align()
	if err := c.need(1); err != nil {
		return 0, err
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

// Bytes returns the next n bytes as a sub-slice of the input.
func (c *Cursor) Bytes(n uint64) ([]byte, error) {
	c.Align()
	if err := c.need(n); err != nil {
		return nil, err
	}
	out := c.buf[c.pos : c.pos+int(n)]
	c.pos += int(n)
	return out, nil
}

// Skip discards n bytes.
func (c *Cursor) Skip(n uint64) error {
	_, err := c.Bytes(n)
	return err
}

// Uint16 reads a little-endian uint16.
func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian uint32.
func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian uint64.
func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Uint16BE reads a big-endian uint16.
func (c *Cursor) Uint16BE() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// Uint32BE reads a big-endian uint32.
func (c *Cursor) Uint32BE() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64BE reads a big-endian uint64.
func (c *Cursor) Uint64BE() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Varint reads a base-128 integer: the low seven bits of each byte carry
// data, least significant group first, and a set high bit means another
// byte follows. At most nine bytes are accepted and a zero continuation
// byte is rejected.
func (c *Cursor) Varint() (uint64, error) {
	first, err := c.Byte()
	if err != nil {
		return 0, err
	}
	if first <= 0x7f {
		return uint64(first), nil
	}
	result := uint64(first & 0x7f)
	prev := first
	for i := 1; prev&0x80 != 0; i++ {
		b, err := c.Byte()
		if err != nil {
			return 0, err
		}
		if i >= 9 || b == 0 {
			return 0, sztype.Corrupt("varint byte %d at offset %d", i, c.pos-1)
		}
		result |= uint64(b&0x7f) << (7 * i)
		prev = b
	}
	return result, nil
}

// Number reads a 7z NUMBER: the count of leading one bits in the first
// byte gives the number of little-endian bytes that follow, and the
// remaining low bits of the first byte supply the most significant part.
func (c *Cursor) Number() (uint64, error) {
	first, err := c.Byte()
	if err != nil {
		return 0, err
	}
	var value uint64
	mask := byte(0x80)
	for i := range 8 {
		if first&mask == 0 {
			high := uint64(first & (mask - 1))
			return value | high<<(8*i), nil
		}
		b, err := c.Byte()
		if err != nil {
			return 0, err
		}
		value |= uint64(b) << (8 * i)
		mask >>= 1
	}
	return value, nil
}

// ReadBit reads a single bit in the cursor's bit order.
func (c *Cursor) ReadBit() (uint, error) {
	if c.pos >= len(c.buf) {
		return 0, fmt.Errorf("%w: bit read at offset %d", sztype.ErrTruncated, c.pos)
	}
	b := c.buf[c.pos]
	var bit uint
	if c.order == MSBFirst {
		bit = uint(b>>(7-c.bit)) & 1
	} else {
		bit = uint(b>>c.bit) & 1
	}
	c.bit++
	if c.bit == 8 {
		c.bit = 0
		c.pos++
	}
	return bit, nil
}

// ReadBits reads n bits (n <= 64). In MSBFirst order the first bit read is
// the most significant bit of the result; in LSBFirst order it is the least.
func (c *Cursor) ReadBits(n int) (uint64, error) {
	if n < 0 || n > 64 {
		return 0, fmt.Errorf("cursor: invalid bit count %d", n)
	}
	var v uint64
	for i := range n {
		bit, err := c.ReadBit()
		if err != nil {
			return 0, err
		}
		if c.order == MSBFirst {
			v = v<<1 | uint64(bit)
		} else {
			v |= uint64(bit) << i
		}
	}
	return v, nil
}

// Align discards the unread bits of a partially consumed byte.
func (c *Cursor) Align() {
	if c.bit != 0 {
		c.bit = 0
		c.pos++
	}
}

// BitVector reads n flags packed most significant bit first and then
// aligns to the next byte.
func (c *Cursor) BitVector(n int) ([]bool, error) {
	b, err := c.Bytes(uint64(n+7) / 8)
	if err != nil {
		return nil, err
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = b[i/8]&(0x80>>(i%8)) != 0
	}
	return out, nil
}

// Defined reads an "all defined" byte followed, when it is zero, by a
// bit vector of n flags.
func (c *Cursor) Defined(n int) ([]bool, error) {
	all, err := c.Byte()
	if err != nil {
		return nil, err
	}
	if all == 0 {
		return c.BitVector(n)
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out, nil
}
