// Package bzip2 decodes bzip2 streams for the 7z BZip2 coder.
//
// Bit fields are read most significant bit first through a cursor, and
// each block's Huffman tables are decoded with the flat decoding tree from
// the huffman package.
package bzip2

import (
	"fmt"

	"github.com/meigma/sevenz/internal/cursor"
	"github.com/meigma/sevenz/internal/huffman"
	"github.com/meigma/sevenz/internal/sztype"
)

const (
	blockMagic = 0x314159265359
	endMagic   = 0x177245385090

	groupSize    = 50
	maxGroups    = 6
	minGroups    = 2
	maxCodeLen   = 20
	maxSelectors = 18002
	runA         = 0
	runB         = 1
)

// Decode decodes one or more concatenated bzip2 streams. Output is capped
// at limit bytes, which also sizes the initial buffer; a negative limit
// removes the cap.
func Decode(in []byte, limit int) ([]byte, error) {
	r := cursor.NewBits(in, cursor.MSBFirst)
	out := make([]byte, 0, max(limit, 0))
	for first := true; ; first = false {
		if !first && !hasStreamHeader(r.Rest()) {
			return out, nil
		}
		var err error
		out, err = decodeStream(r, out, limit)
		if err != nil {
			return nil, err
		}
	}
}

func hasStreamHeader(b []byte) bool {
	return len(b) >= 4 && b[0] == 'B' && b[1] == 'Z' && b[2] == 'h' && b[3] >= '1' && b[3] <= '9'
}

func decodeStream(r *cursor.Cursor, out []byte, limit int) ([]byte, error) {
	hdr, err := r.Bytes(4)
	if err != nil {
		return nil, fmt.Errorf("bzip2: stream header: %w", err)
	}
	if !hasStreamHeader(hdr) {
		return nil, sztype.Corrupt("bzip2 stream header %q", hdr)
	}
	blockSize := int(hdr[3]-'0') * 100000

	d := &blockDecoder{r: r, tt: make([]uint32, blockSize), limit: limit}
	var combined uint32
	for {
		magic, err := r.ReadBits(48)
		if err != nil {
			return nil, fmt.Errorf("bzip2: block magic: %w", err)
		}
		want, err := r.ReadBits(32)
		if err != nil {
			return nil, fmt.Errorf("bzip2: block crc: %w", err)
		}
		switch magic {
		case blockMagic:
			start := len(out)
			out, err = d.decode(out)
			if err != nil {
				return nil, err
			}
			got := blockCRC(out[start:])
			if got != uint32(want) {
				return nil, fmt.Errorf("bzip2: block crc: %w", sztype.CRCMismatch(sztype.ScopeCoder, 0, uint32(want), got))
			}
			combined = (combined<<1 | combined>>31) ^ got
		case endMagic:
			if combined != uint32(want) {
				return nil, fmt.Errorf("bzip2: stream crc: %w", sztype.CRCMismatch(sztype.ScopeCoder, 0, uint32(want), combined))
			}
			r.Align()
			return out, nil
		default:
			return nil, sztype.Corrupt("bzip2 block magic %#x", magic)
		}
	}
}

type blockDecoder struct {
	r     *cursor.Cursor
	tt    []uint32
	limit int
}

func (d *blockDecoder) bits(n int) (int, error) {
	v, err := d.r.ReadBits(n)
	if err != nil {
		return 0, fmt.Errorf("bzip2: %w", err)
	}
	return int(v), nil //nolint:gosec // n <= 24
}

// decode reads one block and appends its bytes to out.
//
//nolint:gocognit,gocyclo // block layout is inherently sequential
func (d *blockDecoder) decode(out []byte) ([]byte, error) {
	randomised, err := d.bits(1)
	if err != nil {
		return nil, err
	}
	if randomised != 0 {
		return nil, sztype.Unsupported("bzip2 randomised block")
	}
	origPtr, err := d.bits(24)
	if err != nil {
		return nil, err
	}

	symbols, err := d.readSymbolMap()
	if err != nil {
		return nil, err
	}
	alphaSize := len(symbols) + 2
	eob := len(symbols) + 1

	numGroups, err := d.bits(3)
	if err != nil {
		return nil, err
	}
	if numGroups < minGroups || numGroups > maxGroups {
		return nil, sztype.Corrupt("bzip2 huffman group count %d", numGroups)
	}
	selectors, err := d.readSelectors(numGroups)
	if err != nil {
		return nil, err
	}
	trees := make([]*huffman.Tree, numGroups)
	for g := range trees {
		trees[g], err = d.readTree(alphaSize)
		if err != nil {
			return nil, err
		}
	}

	var mtf [256]byte
	copy(mtf[:], symbols)
	var counts [256]int
	n := 0
	run, runWeight := 0, 1
	selIdx, left := 0, 0
	var tree *huffman.Tree

	flush := func() error {
		if run == 0 {
			return nil
		}
		if n+run > len(d.tt) {
			return sztype.Corrupt("bzip2 run overflows block")
		}
		b := mtf[0]
		counts[b] += run
		for range run {
			d.tt[n] = uint32(b)
			n++
		}
		run, runWeight = 0, 1
		return nil
	}

	for {
		if left == 0 {
			if selIdx >= len(selectors) {
				return nil, sztype.Corrupt("bzip2 ran out of selectors")
			}
			tree = trees[selectors[selIdx]]
			selIdx++
			left = groupSize
		}
		left--
		sym := tree.Find(d.r)
		if sym == huffman.NotFound {
			return nil, sztype.Corrupt("bzip2 undecodable symbol")
		}
		if sym == runA || sym == runB {
			run += runWeight << sym
			runWeight <<= 1
			if run > len(d.tt) {
				return nil, sztype.Corrupt("bzip2 run length exceeds block size")
			}
			continue
		}
		if err := flush(); err != nil {
			return nil, err
		}
		if sym == eob {
			break
		}
		if sym > eob {
			return nil, sztype.Corrupt("bzip2 symbol %d", sym)
		}
		idx := sym - 1
		b := mtf[idx]
		copy(mtf[1:idx+1], mtf[:idx])
		mtf[0] = b
		if n >= len(d.tt) {
			return nil, sztype.Corrupt("bzip2 block exceeds declared size")
		}
		counts[b]++
		d.tt[n] = uint32(b)
		n++
	}

	if origPtr >= n {
		return nil, sztype.Corrupt("bzip2 origin pointer %d outside block of %d", origPtr, n)
	}
	if d.limit >= 0 && len(out) >= d.limit {
		return nil, sztype.Corrupt("bzip2 output exceeds %d bytes", d.limit)
	}
	return d.inverse(out, n, origPtr, &counts)
}

func (d *blockDecoder) readSymbolMap() ([]byte, error) {
	used, err := d.bits(16)
	if err != nil {
		return nil, err
	}
	symbols := make([]byte, 0, 256)
	for i := range 16 {
		if used&(0x8000>>i) == 0 {
			continue
		}
		bits, err := d.bits(16)
		if err != nil {
			return nil, err
		}
		for j := range 16 {
			if bits&(0x8000>>j) != 0 {
				symbols = append(symbols, byte(i*16+j))
			}
		}
	}
	if len(symbols) == 0 {
		return nil, sztype.Corrupt("bzip2 block uses no symbols")
	}
	return symbols, nil
}

func (d *blockDecoder) readSelectors(numGroups int) ([]uint8, error) {
	count, err := d.bits(15)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, sztype.Corrupt("bzip2 block has no selectors")
	}
	mtf := []uint8{0, 1, 2, 3, 4, 5}[:numGroups]
	selectors := make([]uint8, 0, min(count, maxSelectors))
	for range count {
		j := 0
		for {
			bit, err := d.bits(1)
			if err != nil {
				return nil, err
			}
			if bit == 0 {
				break
			}
			j++
			if j >= numGroups {
				return nil, sztype.Corrupt("bzip2 selector out of range")
			}
		}
		v := mtf[j]
		copy(mtf[1:j+1], mtf[:j])
		mtf[0] = v
		if len(selectors) < maxSelectors {
			selectors = append(selectors, v)
		}
	}
	return selectors, nil
}

func (d *blockDecoder) readTree(alphaSize int) (*huffman.Tree, error) {
	lengths := make([]int, alphaSize)
	length, err := d.bits(5)
	if err != nil {
		return nil, err
	}
	for i := range lengths {
		for {
			if length < 1 || length > maxCodeLen {
				return nil, sztype.Corrupt("bzip2 code length %d", length)
			}
			more, err := d.bits(1)
			if err != nil {
				return nil, err
			}
			if more == 0 {
				break
			}
			down, err := d.bits(1)
			if err != nil {
				return nil, err
			}
			if down == 0 {
				length++
			} else {
				length--
			}
		}
		lengths[i] = length
	}
	return huffman.FromLengths(lengths)
}

// inverse undoes the Burrows-Wheeler transform over tt[:n] and expands
// the initial run-length encoding while appending to out. It stops once
// out passes the limit.
func (d *blockDecoder) inverse(out []byte, n, origPtr int, counts *[256]int) ([]byte, error) {
	tt := d.tt[:n]
	sum := 0
	for i := range counts {
		c := counts[i]
		counts[i] = sum
		sum += c
	}
	for i := range tt {
		b := tt[i] & 0xff
		tt[counts[b]] |= uint32(i) << 8 //nolint:gosec // i < 900000
		counts[b]++
	}

	pos := tt[origPtr] >> 8
	repeat := 0
	var last byte
	for range n {
		if d.limit >= 0 && len(out) > d.limit {
			return nil, sztype.Corrupt("bzip2 output exceeds %d bytes", d.limit)
		}
		pos = tt[pos]
		b := byte(pos)
		pos >>= 8
		if repeat == 4 {
			for range int(b) {
				out = append(out, last)
			}
			repeat = 0
			continue
		}
		if repeat > 0 && b == last {
			repeat++
		} else {
			repeat = 1
			last = b
		}
		out = append(out, b)
	}
	if d.limit >= 0 && len(out) > d.limit {
		return nil, sztype.Corrupt("bzip2 output exceeds %d bytes", d.limit)
	}
	return out, nil
}
