package testutil

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz/lzma"
)

// Coder selects how a test folder is compressed.
type Coder int

const (
	// Copy stores the folder data as is.
	Copy Coder = iota
	// RawLZMA2 frames the data as uncompressed LZMA2 chunks.
	RawLZMA2
	// LZMA2 compresses with the ulikunitz LZMA2 writer.
	LZMA2
	// LZMA compresses with the ulikunitz LZMA writer.
	LZMA
	// Deflate compresses with klauspost flate.
	Deflate
	// Zstd compresses with klauspost zstd.
	Zstd
	// DeltaLZMA2 chains a delta filter (distance 1) behind LZMA2.
	DeltaLZMA2
	// Unknown declares a coder ID no decoder implements.
	Unknown
	// AES declares the 7z AES coder.
	AES
)

// lzma2DictCap is the dictionary size the LZMA2 coders are written with;
// its property byte is lzma2DictProp.
const (
	lzma2DictCap  = 1 << 20
	lzma2DictProp = 16
)

// Folder describes one folder of a test archive.
type Folder struct {
	Coder Coder
	// OmitCRC leaves the folder CRC undeclared.
	OmitCRC bool
	// BadCRC declares a folder CRC that does not match the data.
	BadCRC bool
}

// Entry is one file record of a test archive. Entries with no data are
// written as empty-stream items.
type Entry struct {
	Name string
	Data []byte
	// Folder is the index of the folder holding Data.
	Folder int
	// Dir marks an empty-stream entry as a directory rather than an
	// empty file.
	Dir  bool
	Anti bool
	// BadCRC declares a substream CRC that does not match the data.
	BadCRC     bool
	ModTime    time.Time
	Attributes uint32
}

// Archive describes a complete test archive.
type Archive struct {
	Folders []Folder
	Entries []Entry
	// EncodeHeader stores the header in an LZMA2 folder and writes an
	// encoded header pointing at it.
	EncodeHeader bool
	// OmitFileCRCs leaves every substream CRC undeclared.
	OmitFileCRCs bool
	// Version overrides the minor format version when non-zero.
	Version byte
}

// Build encodes a into 7z bytes.
func Build(tb testing.TB, a Archive) []byte {
	tb.Helper()

	folderData := make([][]byte, len(a.Folders))
	substreams := make([][]int, len(a.Folders))
	last := 0
	for i, e := range a.Entries {
		if len(e.Data) == 0 {
			continue
		}
		if e.Folder < last || e.Folder >= len(a.Folders) {
			tb.Fatalf("entry %d: folder %d out of order", i, e.Folder)
		}
		last = e.Folder
		folderData[e.Folder] = append(folderData[e.Folder], e.Data...)
		substreams[e.Folder] = append(substreams[e.Folder], i)
	}

	var packed []byte
	var streams mainStreams
	for i, f := range a.Folders {
		if len(substreams[i]) == 0 {
			tb.Fatalf("folder %d has no entries", i)
		}
		enc := encodeFolder(tb, f.Coder, folderData[i])
		packed = append(packed, enc.packed...)
		streams.packSizes = append(streams.packSizes, uint64(len(enc.packed)))
		crc := crc32.ChecksumIEEE(folderData[i])
		if f.BadCRC {
			crc ^= 0xFFFFFFFF
		}
		streams.folders = append(streams.folders, folderRecord{
			coders:      enc.coders,
			unpackSizes: enc.unpackSizes,
			hasCRC:      !f.OmitCRC,
			crc:         crc,
		})
		var sizes []uint64
		var crcs []uint32
		for _, idx := range substreams[i] {
			e := a.Entries[idx]
			sizes = append(sizes, uint64(len(e.Data)))
			c := crc32.ChecksumIEEE(e.Data)
			if e.BadCRC {
				c ^= 0xFFFFFFFF
			}
			crcs = append(crcs, c)
		}
		streams.subSizes = append(streams.subSizes, sizes)
		streams.subCRCs = append(streams.subCRCs, crcs)
	}
	streams.omitFileCRCs = a.OmitFileCRCs

	var hdr []byte
	hdr = append(hdr, 0x01)
	if len(a.Folders) > 0 {
		hdr = append(hdr, 0x04)
		hdr = streams.append(hdr, 0)
	}
	if len(a.Entries) > 0 {
		hdr = append(hdr, 0x05)
		hdr = appendFiles(hdr, a.Entries)
	}
	hdr = append(hdr, 0x00)

	if a.EncodeHeader {
		enc := encodeFolder(tb, LZMA2, hdr)
		headerStreams := mainStreams{
			packSizes: []uint64{uint64(len(enc.packed))},
			folders: []folderRecord{{
				coders:      enc.coders,
				unpackSizes: enc.unpackSizes,
				hasCRC:      true,
				crc:         crc32.ChecksumIEEE(hdr),
			}},
		}
		pos := uint64(len(packed))
		packed = append(packed, enc.packed...)
		hdr = headerStreams.append([]byte{0x17}, pos)
	}

	return Assemble(packed, hdr, a.Version)
}

// Assemble joins packed data and a header region behind a signature
// header with valid CRCs.
func Assemble(packed, hdr []byte, minor byte) []byte {
	if minor == 0 {
		minor = 4
	}
	out := make([]byte, 32, 32+len(packed)+len(hdr))
	copy(out, []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C, 0x00, minor})
	binary.LittleEndian.PutUint64(out[12:], uint64(len(packed)))
	binary.LittleEndian.PutUint64(out[20:], uint64(len(hdr)))
	binary.LittleEndian.PutUint32(out[28:], crc32.ChecksumIEEE(hdr))
	binary.LittleEndian.PutUint32(out[8:], crc32.ChecksumIEEE(out[12:32]))
	out = append(out, packed...)
	return append(out, hdr...)
}

type encodedFolder struct {
	coders      []byte
	unpackSizes []uint64
	packed      []byte
}

func encodeFolder(tb testing.TB, c Coder, data []byte) encodedFolder {
	tb.Helper()
	size := uint64(len(data))
	switch c {
	case Copy:
		return encodedFolder{coders: []byte{0x01, 0x01, 0x00}, unpackSizes: []uint64{size}, packed: data}
	case RawLZMA2:
		return encodedFolder{
			coders:      []byte{0x01, 0x21, 0x21, 0x01, lzma2DictProp},
			unpackSizes: []uint64{size},
			packed:      RawLZMA2Chunks(data),
		}
	case LZMA2:
		return encodedFolder{
			coders:      []byte{0x01, 0x21, 0x21, 0x01, lzma2DictProp},
			unpackSizes: []uint64{size},
			packed:      CompressLZMA2(tb, data),
		}
	case LZMA:
		props, stream := CompressLZMA(tb, data)
		coders := append([]byte{0x01, 0x23, 0x03, 0x01, 0x01, 0x05}, props...)
		return encodedFolder{coders: coders, unpackSizes: []uint64{size}, packed: stream}
	case Deflate:
		var buf bytes.Buffer
		w, err := flate.NewWriter(&buf, flate.BestCompression)
		if err != nil {
			tb.Fatalf("deflate writer: %v", err)
		}
		writeAll(tb, w, data)
		return encodedFolder{coders: []byte{0x01, 0x03, 0x04, 0x01, 0x08}, unpackSizes: []uint64{size}, packed: buf.Bytes()}
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			tb.Fatalf("zstd writer: %v", err)
		}
		packed := enc.EncodeAll(data, nil)
		_ = enc.Close()
		return encodedFolder{coders: []byte{0x01, 0x04, 0x04, 0xF7, 0x11, 0x01}, unpackSizes: []uint64{size}, packed: packed}
	case DeltaLZMA2:
		filtered := make([]byte, len(data))
		for i := range data {
			filtered[i] = data[i]
			if i > 0 {
				filtered[i] -= data[i-1]
			}
		}
		// Coder 0 is Delta, coder 1 is LZMA2; LZMA2's output (stream 1)
		// feeds Delta's input (stream 0).
		coders := []byte{
			0x02,
			0x21, 0x03, 0x01, 0x00,
			0x21, 0x21, 0x01, lzma2DictProp,
			0x00, 0x01,
		}
		return encodedFolder{coders: coders, unpackSizes: []uint64{size, size}, packed: CompressLZMA2(tb, filtered)}
	case Unknown:
		return encodedFolder{coders: []byte{0x01, 0x04, 0x03, 0x03, 0x01, 0x1B}, unpackSizes: []uint64{size}, packed: data}
	case AES:
		return encodedFolder{coders: []byte{0x01, 0x04, 0x06, 0xF1, 0x07, 0x01}, unpackSizes: []uint64{size}, packed: data}
	default:
		tb.Fatalf("unknown coder %d", c)
		return encodedFolder{}
	}
}

func writeAll(tb testing.TB, w io.WriteCloser, data []byte) {
	tb.Helper()
	if _, err := w.Write(data); err != nil {
		tb.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		tb.Fatalf("close: %v", err)
	}
}

// CompressLZMA2 returns an LZMA2 chunk stream for data.
func CompressLZMA2(tb testing.TB, data []byte) []byte {
	tb.Helper()
	var buf bytes.Buffer
	w, err := lzma.Writer2Config{DictCap: lzma2DictCap}.NewWriter2(&buf)
	if err != nil {
		tb.Fatalf("lzma2 writer: %v", err)
	}
	writeAll(tb, w, data)
	return buf.Bytes()
}

// CompressLZMA returns the five property bytes and the raw LZMA stream for
// data.
func CompressLZMA(tb testing.TB, data []byte) ([]byte, []byte) {
	tb.Helper()
	var buf bytes.Buffer
	w, err := lzma.WriterConfig{DictCap: lzma2DictCap}.NewWriter(&buf)
	if err != nil {
		tb.Fatalf("lzma writer: %v", err)
	}
	writeAll(tb, w, data)
	out := buf.Bytes()
	return out[:5], out[13:]
}

// RawLZMA2Chunks frames data as uncompressed LZMA2 chunks. The first chunk
// resets the dictionary.
func RawLZMA2Chunks(data []byte) []byte {
	var out []byte
	first := true
	for len(data) > 0 {
		n := min(len(data), 1<<16)
		ctrl := byte(0x02)
		if first {
			ctrl = 0x01
			first = false
		}
		out = append(out, ctrl, byte((n-1)>>8), byte(n-1))
		out = append(out, data[:n]...)
		data = data[n:]
	}
	return append(out, 0x00)
}

type folderRecord struct {
	coders      []byte
	unpackSizes []uint64
	hasCRC      bool
	crc         uint32
}

type mainStreams struct {
	packSizes    []uint64
	folders      []folderRecord
	subSizes     [][]uint64
	subCRCs      [][]uint32
	omitFileCRCs bool
}

func (s mainStreams) append(b []byte, packPos uint64) []byte {
	b = append(b, 0x06)
	b = AppendNumber(b, packPos)
	b = AppendNumber(b, uint64(len(s.packSizes)))
	b = append(b, 0x09)
	for _, size := range s.packSizes {
		b = AppendNumber(b, size)
	}
	b = append(b, 0x00)

	b = append(b, 0x07, 0x0B)
	b = AppendNumber(b, uint64(len(s.folders)))
	b = append(b, 0x00)
	for _, f := range s.folders {
		b = append(b, f.coders...)
	}
	b = append(b, 0x0C)
	for _, f := range s.folders {
		for _, size := range f.unpackSizes {
			b = AppendNumber(b, size)
		}
	}
	defined := make([]bool, len(s.folders))
	var crcs []uint32
	for i, f := range s.folders {
		defined[i] = f.hasCRC
		if f.hasCRC {
			crcs = append(crcs, f.crc)
		}
	}
	if len(crcs) > 0 {
		b = append(b, 0x0A)
		b = appendDefined(b, defined)
		for _, c := range crcs {
			b = binary.LittleEndian.AppendUint32(b, c)
		}
	}
	b = append(b, 0x00)

	if s.subSizes != nil {
		b = s.appendSubstreams(b)
	}
	return append(b, 0x00)
}

func (s mainStreams) appendSubstreams(b []byte) []byte {
	b = append(b, 0x08, 0x0D)
	for _, sizes := range s.subSizes {
		b = AppendNumber(b, uint64(len(sizes)))
	}
	b = append(b, 0x09)
	for _, sizes := range s.subSizes {
		for _, size := range sizes[:len(sizes)-1] {
			b = AppendNumber(b, size)
		}
	}
	if !s.omitFileCRCs {
		var crcs []uint32
		for i, f := range s.folders {
			if len(s.subSizes[i]) == 1 && f.hasCRC {
				continue
			}
			crcs = append(crcs, s.subCRCs[i]...)
		}
		if len(crcs) > 0 {
			b = append(b, 0x0A, 0x01)
			for _, c := range crcs {
				b = binary.LittleEndian.AppendUint32(b, c)
			}
		}
	}
	return append(b, 0x00)
}

func appendFiles(b []byte, entries []Entry) []byte {
	b = AppendNumber(b, uint64(len(entries)))

	emptyStream := make([]bool, len(entries))
	var emptyFile, anti []bool
	hasEmpty, hasEmptyFile, hasAnti := false, false, false
	for i, e := range entries {
		if len(e.Data) > 0 {
			continue
		}
		emptyStream[i] = true
		hasEmpty = true
		emptyFile = append(emptyFile, !e.Dir)
		anti = append(anti, e.Anti)
		hasEmptyFile = hasEmptyFile || !e.Dir
		hasAnti = hasAnti || e.Anti
	}
	if hasEmpty {
		b = appendProperty(b, 0x0E, appendBits(nil, emptyStream))
	}
	if hasEmptyFile {
		b = appendProperty(b, 0x0F, appendBits(nil, emptyFile))
	}
	if hasAnti {
		b = appendProperty(b, 0x10, appendBits(nil, anti))
	}

	names := []byte{0x00}
	for _, e := range entries {
		for _, u := range utf16.Encode([]rune(e.Name)) {
			names = binary.LittleEndian.AppendUint16(names, u)
		}
		names = append(names, 0x00, 0x00)
	}
	b = appendProperty(b, 0x11, names)

	defined := make([]bool, len(entries))
	var times, attrs []byte
	attrDefined := make([]bool, len(entries))
	for i, e := range entries {
		if !e.ModTime.IsZero() {
			defined[i] = true
			times = binary.LittleEndian.AppendUint64(times, Filetime(e.ModTime))
		}
		if e.Attributes != 0 {
			attrDefined[i] = true
			attrs = binary.LittleEndian.AppendUint32(attrs, e.Attributes)
		}
	}
	if len(times) > 0 {
		field := appendDefined(nil, defined)
		field = append(field, 0x00)
		b = appendProperty(b, 0x14, append(field, times...))
	}
	if len(attrs) > 0 {
		field := appendDefined(nil, attrDefined)
		field = append(field, 0x00)
		b = appendProperty(b, 0x15, append(field, attrs...))
	}
	return append(b, 0x00)
}

// Filetime converts t to 100ns ticks since 1601-01-01 UTC.
func Filetime(t time.Time) uint64 {
	const epochDelta = 116444736000000000
	return uint64(t.UnixNano()/100 + epochDelta) //nolint:gosec // test times are after 1601
}

func appendProperty(b []byte, id byte, data []byte) []byte {
	b = append(b, id)
	b = AppendNumber(b, uint64(len(data)))
	return append(b, data...)
}

func appendDefined(b []byte, defined []bool) []byte {
	all := true
	for _, d := range defined {
		all = all && d
	}
	if all {
		return append(b, 0x01)
	}
	return appendBits(append(b, 0x00), defined)
}

func appendBits(b []byte, bits []bool) []byte {
	for i := 0; i < len(bits); i += 8 {
		var v byte
		for j := 0; j < 8 && i+j < len(bits); j++ {
			if bits[i+j] {
				v |= 0x80 >> j
			}
		}
		b = append(b, v)
	}
	return b
}

// AppendNumber appends v in the 7z NUMBER encoding.
func AppendNumber(b []byte, v uint64) []byte {
	for n := range 8 {
		if v < 1<<(7*(n+1)) {
			mask := byte(0xFF) << (8 - n)
			b = append(b, mask|byte(v>>(8*n)))
			for i := range n {
				b = append(b, byte(v>>(8*i)))
			}
			return b
		}
	}
	b = append(b, 0xFF)
	return binary.LittleEndian.AppendUint64(b, v)
}
