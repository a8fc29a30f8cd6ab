// Package lzma implements the LZMA entropy decoder.
//
// A [Decoder] keeps its range decoder, probability model and dictionary
// as independently resettable parts so that a chunked container such as
// LZMA2 can reset each of them on its own schedule. Decoded bytes are
// appended to a single output buffer whose tail doubles as the sliding
// dictionary.
package lzma

import (
	"fmt"

	"github.com/meigma/sevenz/internal/sztype"
)

const (
	numStates     = 12
	numLitStates  = 7
	posStatesMax  = 1 << 4
	matchLenMin   = 2
	lenLowBits    = 3
	lenMidBits    = 3
	lenHighBits   = 8
	distStates    = 4
	distSlotBits  = 6
	distModelFrom = 4
	distModelEnd  = 14
	fullDistances = 1 << (distModelEnd / 2)
	alignBits     = 4
	literalSize   = 0x300
	eosDistance   = 0xFFFFFFFF
)

// Properties are the literal context, literal position and position bits.
type Properties struct {
	LC, LP, PB int
}

// ParseProperties splits an lc/lp/pb byte: value = (pb*5 + lp)*9 + lc.
func ParseProperties(b byte) (Properties, error) {
	if b >= 9*5*5 {
		return Properties{}, sztype.Corrupt("lzma properties byte %#x", b)
	}
	v := int(b)
	return Properties{LC: v % 9, LP: (v / 9) % 5, PB: v / 45}, nil
}

type lenDecoder struct {
	choice  prob
	choice2 prob
	low     [posStatesMax][1 << lenLowBits]prob
	mid     [posStatesMax][1 << lenMidBits]prob
	high    [1 << lenHighBits]prob
}

func (l *lenDecoder) reset() {
	l.choice = probInit
	l.choice2 = probInit
	for i := range l.low {
		initProbs(l.low[i][:])
		initProbs(l.mid[i][:])
	}
	initProbs(l.high[:])
}

func (l *lenDecoder) decode(rc *rangeDecoder, posState uint32) uint32 {
	if rc.bit(&l.choice) == 0 {
		return matchLenMin + rc.bitTree(l.low[posState][:], lenLowBits)
	}
	if rc.bit(&l.choice2) == 0 {
		return matchLenMin + 1<<lenLowBits + rc.bitTree(l.mid[posState][:], lenMidBits)
	}
	return matchLenMin + 1<<lenLowBits + 1<<lenMidBits + rc.bitTree(l.high[:], lenHighBits)
}

// Decoder is an LZMA decoder whose state, properties and dictionary are
// reset independently.
type Decoder struct {
	out       []byte
	dictStart int
	dictSize  uint32

	props    Properties
	hasProps bool
	lpMask   uint32
	pbMask   uint32

	rc    rangeDecoder
	state uint32
	rep   [4]uint32

	isMatch    [numStates][posStatesMax]prob
	isRep      [numStates]prob
	isRep0     [numStates]prob
	isRep1     [numStates]prob
	isRep2     [numStates]prob
	isRep0Long [numStates][posStatesMax]prob
	distSlot   [distStates][1 << distSlotBits]prob
	distSpec   [fullDistances - distModelEnd]prob
	align      [1 << alignBits]prob
	matchLen   lenDecoder
	repLen     lenDecoder
	literal    []prob
}

// NewDecoder returns a decoder with the given dictionary size. sizeHint
// preallocates the output buffer and may be zero.
func NewDecoder(dictSize uint32, sizeHint int) *Decoder {
	return &Decoder{
		dictSize: dictSize,
		out:      make([]byte, 0, max(sizeHint, 0)),
	}
}

// Output returns everything decoded so far.
func (d *Decoder) Output() []byte { return d.out }

// HasProperties reports whether SetProperties has been called.
func (d *Decoder) HasProperties() bool { return d.hasProps }

// ResetDictionary forgets all history: later matches may not refer to
// bytes produced before this call.
func (d *Decoder) ResetDictionary() {
	d.dictStart = len(d.out)
}

// SetProperties installs new lc/lp/pb values and resets the state.
func (d *Decoder) SetProperties(p Properties) {
	n := literalSize << (p.LC + p.LP)
	if cap(d.literal) >= n {
		d.literal = d.literal[:n]
	} else {
		d.literal = make([]prob, n)
	}
	d.props = p
	d.hasProps = true
	d.lpMask = 1<<p.LP - 1
	d.pbMask = 1<<p.PB - 1
	d.ResetState()
}

// ResetState reinitializes the probability model and the recent distances.
func (d *Decoder) ResetState() {
	d.state = 0
	d.rep = [4]uint32{}
	for i := range d.isMatch {
		initProbs(d.isMatch[i][:])
		initProbs(d.isRep0Long[i][:])
	}
	initProbs(d.isRep[:])
	initProbs(d.isRep0[:])
	initProbs(d.isRep1[:])
	initProbs(d.isRep2[:])
	for i := range d.distSlot {
		initProbs(d.distSlot[i][:])
	}
	initProbs(d.distSpec[:])
	initProbs(d.align[:])
	d.matchLen.reset()
	d.repLen.reset()
	initProbs(d.literal)
}

// Put appends raw bytes to the output and the dictionary.
func (d *Decoder) Put(p []byte) {
	d.out = append(d.out, p...)
}

// DecodeChunk decodes exactly n bytes from in with a freshly initialized
// range decoder. The chunk must consume all of in, leave the range coder
// finished, and contain no end marker.
func (d *Decoder) DecodeChunk(in []byte, n int) error {
	if !d.hasProps {
		return sztype.Corrupt("lzma chunk without properties")
	}
	if err := d.rc.init(in); err != nil {
		return err
	}
	eos, err := d.decode(len(d.out) + n)
	if err != nil {
		return err
	}
	if eos {
		return sztype.Corrupt("end marker inside lzma2 chunk")
	}
	d.rc.normalize()
	if d.rc.overrun {
		return fmt.Errorf("%w: lzma chunk reads past %d packed bytes", sztype.ErrCorrupt, len(in))
	}
	if d.rc.pos != len(in) {
		return fmt.Errorf("%w: lzma chunk consumed %d of %d packed bytes", sztype.ErrCorrupt, d.rc.pos, len(in))
	}
	if d.rc.code != 0 {
		return sztype.Corrupt("lzma chunk range coder not finished")
	}
	return nil
}

// decode runs the symbol loop until the output reaches limit bytes or an
// end marker is read.
//
//nolint:gocognit // single symbol loop mirrors the LZMA state machine
func (d *Decoder) decode(limit int) (bool, error) {
	rc := &d.rc
	for len(d.out) < limit {
		if rc.overrun {
			return false, fmt.Errorf("%w: lzma input exhausted", sztype.ErrTruncated)
		}
		pos := uint32(len(d.out) - d.dictStart) //nolint:gosec // dictionary positions fit in 32 bits
		posState := pos & d.pbMask

		if rc.bit(&d.isMatch[d.state][posState]) == 0 {
			if d.state >= numLitStates && d.rep[0] >= pos {
				return false, sztype.Corrupt("literal match byte beyond dictionary")
			}
			d.decodeLiteral(pos)
			continue
		}

		var length uint32
		if rc.bit(&d.isRep[d.state]) == 0 {
			length = d.matchLen.decode(rc, posState)
			d.rep[3], d.rep[2], d.rep[1] = d.rep[2], d.rep[1], d.rep[0]
			d.rep[0] = d.decodeDistance(length)
			if d.state < numLitStates {
				d.state = 7
			} else {
				d.state = 10
			}
			if d.rep[0] == eosDistance {
				return true, nil
			}
		} else {
			var short bool
			length, short = d.decodeRep(posState)
			if short {
				length = 1
			}
		}

		dist := d.rep[0]
		if dist >= pos || dist >= d.dictSize {
			return false, fmt.Errorf("%w: match distance %d beyond dictionary (%d bytes)", sztype.ErrCorrupt, dist+1, pos)
		}
		if int(length) > limit-len(d.out) {
			return false, fmt.Errorf("%w: match of %d bytes crosses chunk end", sztype.ErrCorrupt, length)
		}
		src := len(d.out) - int(dist) - 1
		for i := range int(length) {
			d.out = append(d.out, d.out[src+i])
		}
	}
	return false, nil
}

func (d *Decoder) decodeLiteral(pos uint32) {
	var prev uint32
	if pos > 0 {
		prev = uint32(d.out[len(d.out)-1])
	}
	lc := uint(d.props.LC) //nolint:gosec // lc < 9
	idx := ((pos&d.lpMask)<<lc + prev>>(8-lc)) * literalSize
	probs := d.literal[idx : idx+literalSize]

	sym := uint32(1)
	if d.state < numLitStates {
		for sym < 0x100 {
			sym = sym<<1 | d.rc.bit(&probs[sym])
		}
	} else {
		match := uint32(d.out[len(d.out)-int(d.rep[0])-1]) << 1
		offset := uint32(0x100)
		for sym < 0x100 {
			matchBit := match & offset
			match <<= 1
			b := d.rc.bit(&probs[offset+matchBit+sym])
			sym = sym<<1 | b
			if b == 1 {
				offset &= matchBit
			} else {
				offset &^= matchBit
			}
		}
	}
	d.out = append(d.out, byte(sym))

	switch {
	case d.state < 4:
		d.state = 0
	case d.state < 10:
		d.state -= 3
	default:
		d.state -= 6
	}
}

// decodeRep handles the repeated-match branch and reports whether the
// match is a single-byte short rep.
func (d *Decoder) decodeRep(posState uint32) (uint32, bool) {
	rc := &d.rc
	if rc.bit(&d.isRep0[d.state]) == 0 {
		if rc.bit(&d.isRep0Long[d.state][posState]) == 0 {
			if d.state < numLitStates {
				d.state = 9
			} else {
				d.state = 11
			}
			return 1, true
		}
	} else {
		var dist uint32
		if rc.bit(&d.isRep1[d.state]) == 0 {
			dist = d.rep[1]
		} else {
			if rc.bit(&d.isRep2[d.state]) == 0 {
				dist = d.rep[2]
			} else {
				dist = d.rep[3]
				d.rep[3] = d.rep[2]
			}
			d.rep[2] = d.rep[1]
		}
		d.rep[1] = d.rep[0]
		d.rep[0] = dist
	}
	if d.state < numLitStates {
		d.state = 8
	} else {
		d.state = 11
	}
	return d.repLen.decode(rc, posState), false
}

func (d *Decoder) decodeDistance(length uint32) uint32 {
	rc := &d.rc
	lenState := min(length-matchLenMin, distStates-1)
	slot := rc.bitTree(d.distSlot[lenState][:], distSlotBits)
	if slot < distModelFrom {
		return slot
	}
	numBits := slot>>1 - 1
	dist := (2 | slot&1) << numBits
	if slot < distModelEnd {
		return dist + rc.reverseBitTree(d.distSpec[dist-slot:], numBits)
	}
	dist += rc.direct(numBits-alignBits) << alignBits
	return dist + rc.reverseBitTree(d.align[1:], alignBits)
}
