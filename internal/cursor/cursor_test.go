package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sevenz/internal/sztype"
)

func TestIntegers(t *testing.T) {
	t.Parallel()

	c := New([]byte{
		0x01,
		0x02, 0x01,
		0x04, 0x03, 0x02, 0x01,
		0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01,
		0x01, 0x02,
		0x01, 0x02, 0x03, 0x04,
	})

	b, err := c.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte(1), b)

	u16, err := c.Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), u16)

	u32, err := c.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), u32)

	u64, err := c.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)

	be16, err := c.Uint16BE()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), be16)

	be32, err := c.Uint32BE()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), be32)

	assert.Equal(t, 0, c.Remaining())
	_, err = c.Byte()
	assert.ErrorIs(t, err, sztype.ErrTruncated)
}

func TestBytesIsSubSlice(t *testing.T) {
	t.Parallel()

	buf := []byte("hello world")
	c := New(buf)
	require.NoError(t, c.Skip(6))

	got, err := c.Bytes(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), got)
	assert.Same(t, &buf[6], &got[0])

	_, err = c.Bytes(1)
	assert.ErrorIs(t, err, sztype.ErrTruncated)
}

func TestTruncatedLeavesPosition(t *testing.T) {
	t.Parallel()

	c := New([]byte{1, 2, 3})
	_, err := c.Uint32()
	require.ErrorIs(t, err, sztype.ErrTruncated)
	assert.Equal(t, 0, c.Offset())

	v, err := c.Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0201), v)
}

func TestNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want uint64
	}{
		{"one byte", []byte{0x05}, 5},
		{"max one byte", []byte{0x7f}, 0x7f},
		{"two bytes", []byte{0x80, 0xff}, 0xff},
		{"high bits in first byte", []byte{0x81, 0x00}, 0x100},
		{"three bytes", []byte{0xc0, 0x34, 0x12}, 0x1234},
		{"nine bytes", []byte{0xff, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, 0x0102030405060708},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := New(tc.in)
			got, err := c.Number()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, 0, c.Remaining())
		})
	}

	_, err := New([]byte{0xc0, 0x01}).Number()
	assert.ErrorIs(t, err, sztype.ErrTruncated)
}

func TestVarint(t *testing.T) {
	t.Parallel()

	nine := []byte{0x81, 0x81, 0x81, 0x81, 0x81, 0x81, 0x81, 0x81, 0x01}
	var nineWant uint64 = 1
	for i := 1; i < 9; i++ {
		nineWant |= 1 << (7 * i)
	}

	tests := []struct {
		name    string
		in      []byte
		want    uint64
		wantErr error
	}{
		{"single", []byte{0x05}, 5, nil},
		{"two bytes", []byte{0x85, 0x01}, 5 | 1<<7, nil},
		{"nine bytes", nine, nineWant, nil},
		{"zero continuation", []byte{0x80, 0x00}, 0, sztype.ErrCorrupt},
		{"ten bytes", append(append([]byte{}, nine[:8]...), 0x81, 0x01), 0, sztype.ErrCorrupt},
		{"truncated", []byte{0x80}, 0, sztype.ErrTruncated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := New(tc.in).Varint()
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBitsMSBFirst(t *testing.T) {
	t.Parallel()

	c := NewBits([]byte{0b1011_0000, 0xaa, 0x0f}, MSBFirst)
	v, err := c.ReadBits(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0b101), v)

	// Byte reads discard the rest of the partial byte.
	b, err := c.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte(0xaa), b)

	v, err = c.ReadBits(8)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0f), v)

	_, err = c.ReadBit()
	assert.ErrorIs(t, err, sztype.ErrTruncated)
}

func TestBitsLSBFirst(t *testing.T) {
	t.Parallel()

	c := NewBits([]byte{0b0000_0101, 0x01}, LSBFirst)
	v, err := c.ReadBits(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	c.Align()
	assert.Equal(t, 1, c.Offset())
	bit, err := c.ReadBit()
	require.NoError(t, err)
	assert.Equal(t, uint(1), bit)
}

func TestBitsAcrossBytes(t *testing.T) {
	t.Parallel()

	c := NewBits([]byte{0x12, 0x34}, MSBFirst)
	v, err := c.ReadBits(12)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x123), v)
	v, err = c.ReadBits(4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x4), v)
}

func TestBitVectorAndDefined(t *testing.T) {
	t.Parallel()

	c := New([]byte{0b1010_0000, 0xff})
	flags, err := c.BitVector(3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, flags)
	assert.Equal(t, 1, c.Offset())

	all, err := New([]byte{0x01}).Defined(4)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true}, all)

	some, err := New([]byte{0x00, 0b0100_0000}).Defined(2)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true}, some)

	_, err = New([]byte{0x00}).Defined(9)
	assert.ErrorIs(t, err, sztype.ErrTruncated)
}
