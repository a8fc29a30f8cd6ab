// Package huffman implements a prefix-code decoding tree stored as a flat
// array, walked one bit at a time against a live bit stream.
package huffman

import (
	"fmt"

	"github.com/meigma/sevenz/internal/sztype"
)

// NotFound is returned by Find when no symbol can be decoded.
const NotFound = -1

// MaxBits is the longest code length a tree accepts.
const MaxBits = 24

const empty = -1

// Code is one prefix code: the low Bits bits of Code, most significant first.
type Code struct {
	Code   uint32
	Bits   int
	Symbol int
}

// BitReader supplies single bits. *cursor.Cursor satisfies it.
type BitReader interface {
	ReadBit() (uint, error)
}

// Tree is an implicit binary tree. The children of node i live at 2i+1
// (bit 0) and 2i+2 (bit 1); leaves hold a symbol, other slots hold -1.
type Tree struct {
	nodes []int32
}

// New builds a tree from explicit codes.
func New(codes []Code) (*Tree, error) {
	maxBits := 0
	for _, c := range codes {
		if c.Bits < 1 || c.Bits > MaxBits {
			return nil, sztype.Corrupt("huffman code length %d", c.Bits)
		}
		if c.Symbol < 0 {
			return nil, sztype.Corrupt("huffman symbol %d", c.Symbol)
		}
		maxBits = max(maxBits, c.Bits)
	}
	t := &Tree{nodes: make([]int32, 1<<(maxBits+1))}
	for i := range t.nodes {
		t.nodes[i] = empty
	}
	for _, c := range codes {
		if err := t.insert(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tree) insert(c Code) error {
	index := 0
	for i := c.Bits - 1; i >= 0; i-- {
		if index != 0 && t.nodes[index] != empty {
			return sztype.Corrupt("huffman code %b/%d has a prefix that is a code", c.Code, c.Bits)
		}
		bit := int(c.Code>>i) & 1
		index = 2*index + 1 + bit
	}
	if t.nodes[index] != empty {
		return sztype.Corrupt("duplicate huffman code %b/%d", c.Code, c.Bits)
	}
	t.nodes[index] = int32(c.Symbol) //nolint:gosec // symbols are small
	return nil
}

// FromLengths builds a canonical tree where symbol i has code length
// lengths[i]. Length zero means the symbol is unused. Shorter codes sort
// first, and codes of equal length are ordered by symbol.
func FromLengths(lengths []int) (*Tree, error) {
	var count [MaxBits + 1]int
	for sym, l := range lengths {
		if l < 0 || l > MaxBits {
			return nil, sztype.Corrupt("huffman length %d for symbol %d", l, sym)
		}
		count[l]++
	}
	count[0] = 0

	var next [MaxBits + 2]uint32
	code := uint32(0)
	for bits := 1; bits <= MaxBits; bits++ {
		code = (code + uint32(count[bits-1])) << 1 //nolint:gosec // counts are bounded by len(lengths)
		next[bits] = code
	}

	codes := make([]Code, 0, len(lengths))
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		c := next[l]
		if c >= 1<<l {
			return nil, fmt.Errorf("%w: huffman lengths over-subscribed", sztype.ErrCorrupt)
		}
		next[l]++
		codes = append(codes, Code{Code: c, Bits: l, Symbol: sym})
	}
	return New(codes)
}

// Find decodes one symbol. It returns NotFound when the stream ends before
// a leaf is reached or the bits walk off the tree.
func (t *Tree) Find(r BitReader) int {
	index := 0
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return NotFound
		}
		index = 2*index + 1 + int(bit)
		if index >= len(t.nodes) {
			return NotFound
		}
		if sym := t.nodes[index]; sym != empty {
			return int(sym)
		}
	}
}
