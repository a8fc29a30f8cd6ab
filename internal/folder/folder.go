// Package folder models 7z folders: small graphs of coders whose streams
// are connected by bind pairs, fed by packed streams, and producing a
// single unpacked output.
//
// Coders are stored in an arena indexed by position; streams are numbered
// consecutively across coders and referenced only by index.
package folder

import (
	"fmt"

	"github.com/meigma/sevenz/internal/codec"
	"github.com/meigma/sevenz/internal/cursor"
	"github.com/meigma/sevenz/internal/sztype"
)

const (
	maxCoders        = 64
	maxCoderStreams  = 64
	flagIDSize       = 0x0F
	flagComplex      = 0x10
	flagProperties   = 0x20
	flagReservedBits = 0xC0
)

// Coder is one transformation step of a folder.
type Coder struct {
	ID         []byte
	Method     codec.Method
	NumIn      int
	NumOut     int
	Properties []byte
}

// BindPair connects the output stream Out to the input stream In.
type BindPair struct {
	In  int
	Out int
}

// Folder is a coder graph and its declared sizes.
type Folder struct {
	Index         int
	Coders        []Coder
	BindPairs     []BindPair
	PackedStreams []int
	UnpackSizes   []uint64
	CRC           uint32
	HasCRC        bool

	inBase  []int
	outBase []int
	main    int
}

// Decoder runs a single coder.
type Decoder interface {
	Decode(m codec.Method, props []byte, inputs [][]byte, size uint64) ([]byte, error)
}

func parseCoder(c *cursor.Cursor) (Coder, error) {
	flags, err := c.Byte()
	if err != nil {
		return Coder{}, err
	}
	if flags&flagReservedBits != 0 {
		return Coder{}, sztype.Corrupt("coder flags %#x", flags)
	}
	id, err := c.Bytes(uint64(flags & flagIDSize))
	if err != nil {
		return Coder{}, err
	}
	coder := Coder{ID: id, Method: codec.MethodFromID(id), NumIn: 1, NumOut: 1}
	if flags&flagComplex != 0 {
		numIn, err := c.Number()
		if err != nil {
			return Coder{}, err
		}
		numOut, err := c.Number()
		if err != nil {
			return Coder{}, err
		}
		if numIn > maxCoderStreams || numOut > maxCoderStreams {
			return Coder{}, sztype.Unsupported("coder with %d inputs and %d outputs", numIn, numOut)
		}
		coder.NumIn, coder.NumOut = int(numIn), int(numOut)
	}
	if flags&flagProperties != 0 {
		size, err := c.Number()
		if err != nil {
			return Coder{}, err
		}
		coder.Properties, err = c.Bytes(size)
		if err != nil {
			return Coder{}, err
		}
	}
	return coder, nil
}

// Parse reads the coder graph of one folder. Unpack sizes and CRCs are
// stored elsewhere in the header and are filled in by the caller.
func Parse(c *cursor.Cursor) (*Folder, error) {
	numCoders, err := c.Number()
	if err != nil {
		return nil, fmt.Errorf("folder: coder count: %w", err)
	}
	if numCoders == 0 {
		return nil, sztype.Corrupt("folder without coders")
	}
	if numCoders > maxCoders {
		return nil, sztype.Unsupported("folder with %d coders", numCoders)
	}

	f := &Folder{Coders: make([]Coder, numCoders)}
	totalIn, totalOut := 0, 0
	for i := range f.Coders {
		f.Coders[i], err = parseCoder(c)
		if err != nil {
			return nil, fmt.Errorf("folder: coder %d: %w", i, err)
		}
		f.inBase = append(f.inBase, totalIn)
		f.outBase = append(f.outBase, totalOut)
		totalIn += f.Coders[i].NumIn
		totalOut += f.Coders[i].NumOut
	}
	if totalOut == 0 {
		return nil, sztype.Corrupt("folder has no output streams")
	}

	numBindPairs := totalOut - 1
	if numBindPairs > totalIn {
		return nil, sztype.Corrupt("folder has %d bind pairs for %d inputs", numBindPairs, totalIn)
	}
	f.BindPairs = make([]BindPair, numBindPairs)
	for i := range f.BindPairs {
		in, err := c.Number()
		if err != nil {
			return nil, fmt.Errorf("folder: bind pair: %w", err)
		}
		out, err := c.Number()
		if err != nil {
			return nil, fmt.Errorf("folder: bind pair: %w", err)
		}
		if in >= uint64(totalIn) || out >= uint64(totalOut) {
			return nil, sztype.Corrupt("bind pair (%d, %d) out of range", in, out)
		}
		f.BindPairs[i] = BindPair{In: int(in), Out: int(out)}
	}

	numPacked := totalIn - numBindPairs
	if numPacked == 1 {
		for i := range totalIn {
			if f.findBindIn(i) < 0 {
				f.PackedStreams = []int{i}
				break
			}
		}
		if len(f.PackedStreams) == 0 {
			return nil, sztype.Corrupt("folder has no unbound input")
		}
	} else {
		f.PackedStreams = make([]int, numPacked)
		for i := range f.PackedStreams {
			idx, err := c.Number()
			if err != nil {
				return nil, fmt.Errorf("folder: packed stream: %w", err)
			}
			if idx >= uint64(totalIn) {
				return nil, sztype.Corrupt("packed stream index %d out of range", idx)
			}
			f.PackedStreams[i] = int(idx)
		}
	}

	if err := f.validate(totalIn, totalOut); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Folder) validate(totalIn, totalOut int) error {
	fed := make([]int, totalIn)
	for _, bp := range f.BindPairs {
		fed[bp.In]++
	}
	for _, idx := range f.PackedStreams {
		fed[idx]++
	}
	for i, n := range fed {
		if n != 1 {
			return sztype.Corrupt("input stream %d is fed %d times", i, n)
		}
	}

	f.main = -1
	unbound := 0
	for i := range totalOut {
		if f.findBindOut(i) < 0 {
			unbound++
			f.main = i
		}
	}
	switch {
	case unbound == 0:
		return sztype.Corrupt("folder has no unbound output")
	case unbound > 1:
		return sztype.Unsupported("folder with %d unbound outputs", unbound)
	}
	return nil
}

func (f *Folder) findBindIn(in int) int {
	for i, bp := range f.BindPairs {
		if bp.In == in {
			return i
		}
	}
	return -1
}

func (f *Folder) findBindOut(out int) int {
	for i, bp := range f.BindPairs {
		if bp.Out == out {
			return i
		}
	}
	return -1
}

// NumInStreams returns the total input stream count across coders.
func (f *Folder) NumInStreams() int {
	n := 0
	for _, c := range f.Coders {
		n += c.NumIn
	}
	return n
}

// NumOutStreams returns the total output stream count across coders.
func (f *Folder) NumOutStreams() int {
	n := 0
	for _, c := range f.Coders {
		n += c.NumOut
	}
	return n
}

// MainStream returns the index of the single unbound output stream.
func (f *Folder) MainStream() int { return f.main }

// UnpackSize returns the declared size of the folder's final output.
func (f *Folder) UnpackSize() uint64 {
	if f.main < 0 || f.main >= len(f.UnpackSizes) {
		return 0
	}
	return f.UnpackSizes[f.main]
}

// coderForOut returns the coder owning output stream out.
func (f *Folder) coderForOut(out int) int {
	for k, c := range f.Coders {
		if out >= f.outBase[k] && out < f.outBase[k]+c.NumOut {
			return k
		}
	}
	return -1
}

// coderForIn returns the coder owning input stream in.
func (f *Folder) coderForIn(in int) int {
	for k, c := range f.Coders {
		if in >= f.inBase[k] && in < f.inBase[k]+c.NumIn {
			return k
		}
	}
	return -1
}
