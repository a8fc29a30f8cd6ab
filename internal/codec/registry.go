package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/meigma/sevenz/internal/bzip2"
	"github.com/meigma/sevenz/internal/lzma"
	"github.com/meigma/sevenz/internal/lzma2"
	"github.com/meigma/sevenz/internal/sizing"
	"github.com/meigma/sevenz/internal/sztype"
)

// brotliFrameMagic starts the skippable frame 7-Zip's multi-threaded Brotli
// writes in front of the Brotli stream.
const brotliFrameMagic = 0x184D2A50

// Registry decodes coder streams. The zero value is usable; a Registry
// with a pool reuses zstd decoders across calls.
type Registry struct {
	Zstd *DecoderPool
}

// NewRegistry returns a registry backed by pool.
func NewRegistry(pool *DecoderPool) *Registry {
	return &Registry{Zstd: pool}
}

// Decode runs one coder. inputs holds the coder's input streams and size
// its declared output size. Decoders stop after at most size+1 bytes so
// that oversized output is detectable without unbounded allocation.
func (r *Registry) Decode(m Method, props []byte, inputs [][]byte, size uint64) ([]byte, error) {
	if len(inputs) != 1 {
		return nil, sztype.Unsupported("%s coder with %d inputs", m, len(inputs))
	}
	in := inputs[0]
	hint, err := sizing.ToInt(size, sztype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	switch m {
	case MethodCopy:
		return in, nil
	case MethodDelta:
		return Delta(props, in)
	case MethodBCJ:
		return BCJ(props, in)
	case MethodLZMA:
		return lzma.Decode(props, in, size)
	case MethodLZMA2:
		return lzma2.Decode(props, in, size)
	case MethodBZip2:
		return bzip2.Decode(in, hint)
	case MethodDeflate:
		fr := flate.NewReader(bytes.NewReader(in))
		defer fr.Close()
		return readStream(m, fr, size)
	case MethodZstd:
		dec, release, err := r.Zstd.Get(bytes.NewReader(in))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer release()
		return readStream(m, dec, size)
	case MethodBrotli:
		return readStream(m, brotli.NewReader(bytes.NewReader(skipBrotliFrame(in))), size)
	case MethodLZ4:
		return readStream(m, lz4.NewReader(bytes.NewReader(in)), size)
	case MethodXZ:
		xr, err := xz.NewReader(bytes.NewReader(in))
		if err != nil {
			return nil, fmt.Errorf("%w: xz: %v", sztype.ErrCorrupt, err)
		}
		return readStream(m, xr, size)
	case MethodAES:
		return nil, sztype.Unsupported("encryption")
	default:
		return nil, sztype.Unsupported("coder method %s", m)
	}
}

// readStream drains r, reading at most one byte past size.
func readStream(m Method, r io.Reader, size uint64) ([]byte, error) {
	limit, ok := sizing.AddUint64(size, 1)
	if !ok {
		return nil, sztype.ErrSizeOverflow
	}
	n, err := sizing.ToInt64(limit, sztype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(r, n))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", sztype.ErrCorrupt, m, err)
	}
	return data, nil
}

func skipBrotliFrame(in []byte) []byte {
	if len(in) < 8 || binary.LittleEndian.Uint32(in) != brotliFrameMagic {
		return in
	}
	skip, ok := sizing.AddUint64(8, uint64(binary.LittleEndian.Uint32(in[4:])))
	if !ok || skip > uint64(len(in)) {
		return in
	}
	return in[skip:]
}
