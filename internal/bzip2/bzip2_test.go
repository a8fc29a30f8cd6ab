package bzip2

import (
	"bytes"
	stdbzip2 "compress/bzip2"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sevenz/internal/sztype"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func reference(t *testing.T, data []byte) []byte {
	t.Helper()
	out, err := io.ReadAll(stdbzip2.NewReader(bytes.NewReader(data)))
	require.NoError(t, err)
	return out
}

func TestDecodeFixtures(t *testing.T) {
	t.Parallel()

	runs := append(bytes.Repeat([]byte("a"), 1000), bytes.Repeat([]byte("b"), 10)...)
	for i := range 256 {
		runs = append(runs, byte(i))
	}

	tests := []struct {
		name string
		want []byte
	}{
		{"hello.bz2", bytes.Repeat([]byte("hello hello hello bzip2 world\n"), 3)},
		{"runs.bz2", runs},
		{"empty.bz2", []byte{}},
		{"text.bz2", fixture(t, "text.txt")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			in := fixture(t, tc.name)
			got, err := Decode(in, len(tc.want))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, reference(t, in), got)
		})
	}
}

func TestDecodeConcatenatedStreams(t *testing.T) {
	t.Parallel()

	a := fixture(t, "hello.bz2")
	b := fixture(t, "runs.bz2")
	got, err := Decode(append(append([]byte{}, a...), b...), -1)
	require.NoError(t, err)

	want := append(reference(t, a), reference(t, b)...)
	assert.Equal(t, want, got)
}

func TestDecodeBlockCRCMismatch(t *testing.T) {
	t.Parallel()

	in := fixture(t, "hello.bz2")
	// The block CRC follows the 4-byte stream header and 6-byte block magic.
	in[10] ^= 0x01
	_, err := Decode(in, -1)
	require.ErrorIs(t, err, sztype.ErrIntegrity)

	var ie *sztype.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, sztype.ScopeCoder, ie.Scope)
}

func TestDecodeOutputLimit(t *testing.T) {
	t.Parallel()

	hello := fixture(t, "hello.bz2")
	want := reference(t, hello)
	for _, limit := range []int{0, 10, len(want) - 1} {
		_, err := Decode(hello, limit)
		require.ErrorIs(t, err, sztype.ErrCorrupt, "limit %d", limit)
	}

	// The cap also applies across concatenated streams.
	both := append(append([]byte{}, hello...), hello...)
	_, err := Decode(both, len(want))
	require.ErrorIs(t, err, sztype.ErrCorrupt)

	got, err := Decode(both, 2*len(want))
	require.NoError(t, err)
	assert.Len(t, got, 2*len(want))
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	hello := fixture(t, "hello.bz2")
	tests := []struct {
		name    string
		in      []byte
		wantErr error
	}{
		{"bad header", []byte("BZx9"), sztype.ErrCorrupt},
		{"short header", []byte("BZ"), sztype.ErrTruncated},
		{"bad block magic", append([]byte("BZh9"), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0), sztype.ErrCorrupt},
		{"truncated block", hello[:30], nil},
		{"randomised", append([]byte("BZh9\x31\x41\x59\x26\x53\x59"), 0, 0, 0, 0, 0x80, 0, 0, 0), sztype.ErrUnsupported},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tc.in, -1)
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestBlockCRC(t *testing.T) {
	t.Parallel()

	// CRC-32/BZIP2 check value.
	assert.Equal(t, uint32(0xFC891918), blockCRC([]byte("123456789")))
}
