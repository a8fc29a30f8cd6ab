package lzma

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/sevenz/internal/sizing"
	"github.com/meigma/sevenz/internal/sztype"
)

// PropertiesSize is the length of the coder properties of a 7z LZMA coder.
const PropertiesSize = 5

const minDictSize = 1 << 12

// Decode decodes a raw LZMA stream of exactly size bytes. props holds the
// lc/lp/pb byte followed by the little-endian dictionary size. An end
// marker is accepted after the last byte; one that arrives earlier is
// corruption.
func Decode(props, in []byte, size uint64) ([]byte, error) {
	if len(props) < PropertiesSize {
		return nil, sztype.Corrupt("lzma properties are %d bytes, need %d", len(props), PropertiesSize)
	}
	p, err := ParseProperties(props[0])
	if err != nil {
		return nil, err
	}
	n, err := sizing.ToInt(size, sztype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	dictSize := max(binary.LittleEndian.Uint32(props[1:5]), minDictSize)

	d := NewDecoder(dictSize, n)
	d.SetProperties(p)
	if n == 0 {
		return d.Output(), nil
	}
	if err := d.rc.init(in); err != nil {
		return nil, err
	}
	eos, err := d.decode(n)
	if err != nil {
		return nil, err
	}
	if eos {
		return nil, fmt.Errorf("%w: lzma end marker after %d of %d bytes", sztype.ErrCorrupt, len(d.out), n)
	}
	if d.rc.overrun {
		return nil, fmt.Errorf("%w: lzma stream ends early", sztype.ErrTruncated)
	}
	return d.Output(), nil
}
