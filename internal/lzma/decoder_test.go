package lzma

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz/lzma"

	"github.com/meigma/sevenz/internal/sztype"
)

// sample mixes repeated text with noise so that the encoder emits
// literals, matches and repeated matches.
func sample(n int) []byte {
	r := rand.New(rand.NewPCG(1, 2)) //nolint:gosec // deterministic test data
	phrases := [][]byte{
		[]byte("the quick brown fox "),
		[]byte("jumps over the lazy dog. "),
		[]byte("0123456789"),
	}
	var buf bytes.Buffer
	for buf.Len() < n {
		if r.IntN(4) == 0 {
			buf.WriteByte(byte(r.IntN(256)))
			continue
		}
		buf.Write(phrases[r.IntN(len(phrases))])
	}
	return buf.Bytes()[:n]
}

// encode returns the 5 property bytes and the raw stream produced by the
// reference encoder.
func encode(t *testing.T, cfg lzma.WriterConfig, data []byte) ([]byte, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w, err := cfg.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	out := buf.Bytes()
	require.Greater(t, len(out), 13)
	return out[:PropertiesSize], out[13:]
}

func TestParseProperties(t *testing.T) {
	t.Parallel()

	p, err := ParseProperties(0x5d)
	require.NoError(t, err)
	assert.Equal(t, Properties{LC: 3, LP: 0, PB: 2}, p)

	p, err = ParseProperties(224)
	require.NoError(t, err)
	assert.Equal(t, Properties{LC: 8, LP: 4, PB: 4}, p)

	_, err = ParseProperties(225)
	assert.ErrorIs(t, err, sztype.ErrCorrupt)
}

func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cfg   lzma.WriterConfig
		input []byte
	}{
		{"default", lzma.WriterConfig{}, sample(100 << 10)},
		{"small", lzma.WriterConfig{}, []byte("a")},
		{"position bits", lzma.WriterConfig{Properties: &lzma.Properties{LC: 0, LP: 2, PB: 0}, DictCap: 1 << 16}, sample(40 << 10)},
		{"runs", lzma.WriterConfig{}, bytes.Repeat([]byte{0xaa}, 70000)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			props, stream := encode(t, tc.cfg, tc.input)
			got, err := Decode(props, stream, uint64(len(tc.input)))
			require.NoError(t, err)
			assert.Equal(t, tc.input, got)
		})
	}
}

func TestDecodeEarlyEndMarker(t *testing.T) {
	t.Parallel()

	props, stream := encode(t, lzma.WriterConfig{}, []byte("abc"))
	_, err := Decode(props, stream, 10)
	assert.ErrorIs(t, err, sztype.ErrCorrupt)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	data := sample(8 << 10)
	props, stream := encode(t, lzma.WriterConfig{}, data)

	_, err := Decode(props[:4], stream, uint64(len(data)))
	require.ErrorIs(t, err, sztype.ErrCorrupt)

	bad := append([]byte{}, stream...)
	bad[0] = 1
	_, err = Decode(props, bad, uint64(len(data)))
	require.ErrorIs(t, err, sztype.ErrCorrupt)

	_, err = Decode(props, stream[:3], uint64(len(data)))
	require.ErrorIs(t, err, sztype.ErrTruncated)

	_, err = Decode(props, stream[:len(stream)/2], uint64(len(data)))
	require.Error(t, err)
}

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	got, err := Decode([]byte{0x5d, 0, 0, 1, 0}, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeChunkRequiresProperties(t *testing.T) {
	t.Parallel()

	d := NewDecoder(1<<16, 0)
	err := d.DecodeChunk([]byte{0, 0, 0, 0, 0}, 1)
	assert.ErrorIs(t, err, sztype.ErrCorrupt)
	assert.False(t, d.HasProperties())
}

func TestPutFeedsDictionary(t *testing.T) {
	t.Parallel()

	d := NewDecoder(1<<16, 0)
	d.Put([]byte("abc"))
	d.ResetDictionary()
	d.Put([]byte("def"))
	assert.Equal(t, []byte("abcdef"), d.Output())
}
