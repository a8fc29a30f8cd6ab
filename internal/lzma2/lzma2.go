// Package lzma2 decodes LZMA2 chunked streams.
//
// An LZMA2 stream is a sequence of chunks, each introduced by a control
// byte. Chunks either carry raw bytes or an LZMA-compressed run that may
// reset the decoder state, install new properties, or reset the
// dictionary. See [Decode] for the exact framing rules.
package lzma2

import (
	"fmt"

	"github.com/meigma/sevenz/internal/cursor"
	"github.com/meigma/sevenz/internal/lzma"
	"github.com/meigma/sevenz/internal/sizing"
	"github.com/meigma/sevenz/internal/sztype"
)

// UnboundedDict is the dictionary size signalled by property value 40.
const UnboundedDict = 0xFFFFFFFF

// DictionarySize decodes the single LZMA2 coder property byte.
func DictionarySize(b byte) (uint32, error) {
	if b&0xC0 != 0 {
		return 0, sztype.Corrupt("lzma2 dictionary property %#x has reserved bits", b)
	}
	if b > 40 {
		return 0, sztype.Corrupt("lzma2 dictionary property %d", b)
	}
	if b == 40 {
		return UnboundedDict, nil
	}
	return (2 | uint32(b)&1) << (b/2 + 11), nil
}

const (
	ctrlEnd             = 0x00
	ctrlUncompressedDic = 0x01
	ctrlUncompressed    = 0x02
	ctrlLZMA            = 0x80
)

// Decoder decodes one LZMA2 stream.
type Decoder struct {
	lz            *lzma.Decoder
	needDictReset bool
	needProps     bool
	consumed      int
	limit         int
}

// NewDecoder returns a decoder for a stream with the given dictionary size.
func NewDecoder(dictSize uint32, sizeHint int) *Decoder {
	return &Decoder{
		lz:            lzma.NewDecoder(dictSize, sizeHint),
		needDictReset: true,
		needProps:     true,
		limit:         -1,
	}
}

// SetLimit caps the total output at n bytes. A chunk that would pass the
// cap fails before it is decoded. A negative n removes the cap.
func (d *Decoder) SetLimit(n int) { d.limit = n }

// reserve checks that n more output bytes stay within the limit.
func (d *Decoder) reserve(n int) error {
	if d.limit < 0 {
		return nil
	}
	if have := len(d.lz.Output()); n > d.limit-have {
		return sztype.Corrupt("lzma2 output exceeds %d bytes", d.limit)
	}
	return nil
}

// Consumed reports how many input bytes the last Decode call used,
// including the end byte.
func (d *Decoder) Consumed() int { return d.consumed }

// Decode processes chunks from in until the end control byte and returns
// all output. Bytes after the end control byte are not examined.
func (d *Decoder) Decode(in []byte) ([]byte, error) {
	c := cursor.New(in)
	for {
		control, err := c.Byte()
		if err != nil {
			return nil, fmt.Errorf("lzma2: control byte: %w", err)
		}
		switch {
		case control == ctrlEnd:
			d.consumed = c.Offset()
			return d.lz.Output(), nil
		case control == ctrlUncompressedDic || control == ctrlUncompressed:
			if err := d.uncompressed(c, control == ctrlUncompressedDic); err != nil {
				return nil, err
			}
		case control >= ctrlLZMA:
			if err := d.compressed(c, control); err != nil {
				return nil, err
			}
		default:
			return nil, sztype.Corrupt("lzma2 control byte %#x at offset %d", control, c.Offset()-1)
		}
	}
}

func (d *Decoder) uncompressed(c *cursor.Cursor, dictReset bool) error {
	if dictReset {
		d.lz.ResetDictionary()
		d.needDictReset = false
	} else if d.needDictReset {
		return sztype.Corrupt("lzma2 first chunk does not reset the dictionary")
	}
	size, err := c.Uint16BE()
	if err != nil {
		return fmt.Errorf("lzma2: chunk size: %w", err)
	}
	if err := d.reserve(int(size) + 1); err != nil {
		return err
	}
	data, err := c.Bytes(uint64(size) + 1)
	if err != nil {
		return fmt.Errorf("lzma2: uncompressed chunk: %w", err)
	}
	d.lz.Put(data)
	return nil
}

func (d *Decoder) compressed(c *cursor.Cursor, control byte) error {
	hi := uint64(control & 0x1F)
	lo, err := c.Uint16BE()
	if err != nil {
		return fmt.Errorf("lzma2: chunk size: %w", err)
	}
	n := int(hi<<16+uint64(lo)) + 1 // at most 2 MiB
	if err := d.reserve(n); err != nil {
		return err
	}
	packedSize, err := c.Uint16BE()
	if err != nil {
		return fmt.Errorf("lzma2: packed size: %w", err)
	}
	packed := uint64(packedSize) + 1

	reset := (control >> 5) & 3
	if reset == 3 {
		d.lz.ResetDictionary()
		d.needDictReset = false
	} else if d.needDictReset {
		return sztype.Corrupt("lzma2 first chunk does not reset the dictionary")
	}

	if reset >= 2 {
		b, err := c.Byte()
		if err != nil {
			return fmt.Errorf("lzma2: properties: %w", err)
		}
		p, err := lzma.ParseProperties(b)
		if err != nil {
			return err
		}
		if p.LC+p.LP > 4 {
			return sztype.Corrupt("lzma2 properties lc=%d lp=%d", p.LC, p.LP)
		}
		d.lz.SetProperties(p)
		d.needProps = false
	} else if d.needProps {
		return sztype.Corrupt("lzma2 chunk without properties")
	} else if reset == 1 {
		d.lz.ResetState()
	}

	data, err := c.Bytes(packed)
	if err != nil {
		return fmt.Errorf("lzma2: compressed chunk: %w", err)
	}
	before := len(d.lz.Output())
	if err := d.lz.DecodeChunk(data, n); err != nil {
		return fmt.Errorf("lzma2: chunk at offset %d: %w", c.Offset()-len(data), err)
	}
	if got := len(d.lz.Output()) - before; got != n {
		return sztype.Corrupt("lzma2 chunk produced %d of %d bytes", got, n)
	}
	return nil
}

// Decode decodes a 7z LZMA2 coder stream. props is the one-byte coder
// property, size the declared unpacked size. Output is capped at size, so
// a stream declaring more fails without decoding past it.
func Decode(props, in []byte, size uint64) ([]byte, error) {
	if len(props) != 1 {
		return nil, sztype.Corrupt("lzma2 properties are %d bytes", len(props))
	}
	dictSize, err := DictionarySize(props[0])
	if err != nil {
		return nil, err
	}
	hint, err := sizing.ToInt(size, sztype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	d := NewDecoder(dictSize, hint)
	d.SetLimit(hint)
	return d.Decode(in)
}
