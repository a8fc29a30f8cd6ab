package folder

import (
	"fmt"

	"github.com/meigma/sevenz/internal/codec"
	"github.com/meigma/sevenz/internal/sztype"
)

// Order returns coder indices so that every coder follows the coders
// producing its bound inputs.
func (f *Folder) Order() ([]int, error) {
	n := len(f.Coders)
	indeg := make([]int, n)
	next := make([][]int, n)
	for _, bp := range f.BindPairs {
		from, to := f.coderForOut(bp.Out), f.coderForIn(bp.In)
		if from < 0 || to < 0 {
			return nil, sztype.Corrupt("bind pair (%d, %d) has no coder", bp.In, bp.Out)
		}
		next[from] = append(next[from], to)
		indeg[to]++
	}

	order := make([]int, 0, n)
	queue := make([]int, 0, n)
	for k, d := range indeg {
		if d == 0 {
			queue = append(queue, k)
		}
	}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		order = append(order, k)
		for _, to := range next[k] {
			indeg[to]--
			if indeg[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	if len(order) != n {
		return nil, sztype.Corrupt("folder coder graph has a cycle")
	}
	return order, nil
}

// CheckSupported returns an error naming the first coder this package
// cannot decode.
func (f *Folder) CheckSupported() error {
	for _, c := range f.Coders {
		switch {
		case c.Method == codec.MethodAES:
			return sztype.Unsupported("encryption")
		case !c.Method.Supported():
			return sztype.Unsupported("coder %s", codec.FormatID(c.ID))
		case c.NumOut != 1:
			return sztype.Unsupported("coder %s with %d outputs", c.Method, c.NumOut)
		}
	}
	return nil
}

// Unpack decodes the folder from its packed streams, given in the order of
// PackedStreams, and returns the main output. Every coder is checked for
// support before any decoding starts. Each coder's output must match its
// declared unpack size.
func (f *Folder) Unpack(packs [][]byte, dec Decoder) ([]byte, error) {
	if len(packs) != len(f.PackedStreams) {
		return nil, sztype.Corrupt("folder %d needs %d packed streams, have %d", f.Index, len(f.PackedStreams), len(packs))
	}
	if len(f.UnpackSizes) != f.NumOutStreams() {
		return nil, sztype.Corrupt("folder %d has %d unpack sizes for %d outputs", f.Index, len(f.UnpackSizes), f.NumOutStreams())
	}
	if err := f.CheckSupported(); err != nil {
		return nil, err
	}
	order, err := f.Order()
	if err != nil {
		return nil, err
	}

	streams := make([][]byte, f.NumOutStreams())
	inputFor := func(in int) []byte {
		for j, idx := range f.PackedStreams {
			if idx == in {
				return packs[j]
			}
		}
		return streams[f.BindPairs[f.findBindIn(in)].Out]
	}

	for _, k := range order {
		c := f.Coders[k]
		inputs := make([][]byte, c.NumIn)
		for j := range inputs {
			inputs[j] = inputFor(f.inBase[k] + j)
		}
		out := f.outBase[k]
		want := f.UnpackSizes[out]
		data, err := dec.Decode(c.Method, c.Properties, inputs, want)
		if err != nil {
			return nil, fmt.Errorf("folder %d: %s coder: %w", f.Index, c.Method, err)
		}
		if uint64(len(data)) != want {
			return nil, sztype.SizeMismatch(sztype.ScopeFolder, f.Index, want, uint64(len(data)))
		}
		streams[out] = data
	}
	return streams[f.main], nil
}
