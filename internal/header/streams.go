package header

import (
	"fmt"
	"hash/crc32"

	"github.com/meigma/sevenz/internal/cursor"
	"github.com/meigma/sevenz/internal/folder"
	"github.com/meigma/sevenz/internal/sizing"
	"github.com/meigma/sevenz/internal/sztype"
)

// PackInfo locates the packed streams of an archive.
type PackInfo struct {
	// Pos is the offset of the first packed stream relative to the end of
	// the signature header.
	Pos    uint64
	Sizes  []uint64
	CRCs   []uint32
	HasCRC []bool
}

// SubstreamsInfo splits each folder's output into file streams.
type SubstreamsInfo struct {
	// Counts holds the number of substreams of each folder.
	Counts []int
	// Sizes, CRCs and HasCRC hold one entry per substream, folder by folder.
	Sizes  []uint64
	CRCs   []uint32
	HasCRC []bool
}

// Total returns the number of substreams across all folders.
func (s *SubstreamsInfo) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// StreamsInfo describes pack streams, folders and substreams.
type StreamsInfo struct {
	Pack       PackInfo
	Folders    []*folder.Folder
	Substreams SubstreamsInfo

	// firstPack holds the index of each folder's first packed stream.
	firstPack []int
}

// Stream returns packed stream i from data, verifying its CRC when one is
// declared. Its offset is recomputed from the pack position and the sizes
// of the streams before it.
func (p *PackInfo) Stream(data []byte, i int) ([]byte, error) {
	if i < 0 || i >= len(p.Sizes) {
		return nil, sztype.Corrupt("pack stream %d of %d", i, len(p.Sizes))
	}
	off, ok := sizing.Sum(append([]uint64{SignatureSize, p.Pos}, p.Sizes[:i]...))
	if !ok {
		return nil, fmt.Errorf("%w: pack stream %d offset overflows", sztype.ErrTruncated, i)
	}
	b, ok := sizing.Span(data, off, p.Sizes[i])
	if !ok {
		return nil, fmt.Errorf("%w: pack stream %d [%d, +%d) beyond %d bytes",
			sztype.ErrTruncated, i, off, p.Sizes[i], len(data))
	}
	if i < len(p.HasCRC) && p.HasCRC[i] {
		if got := crc32.ChecksumIEEE(b); got != p.CRCs[i] {
			return nil, sztype.CRCMismatch(sztype.ScopePack, i, p.CRCs[i], got)
		}
	}
	return b, nil
}

// FolderPacks returns the packed streams feeding folder k, in the order of
// the folder's PackedStreams.
func (s *StreamsInfo) FolderPacks(data []byte, k int) ([][]byte, error) {
	f := s.Folders[k]
	packs := make([][]byte, len(f.PackedStreams))
	for j := range packs {
		b, err := s.Pack.Stream(data, s.firstPack[k]+j)
		if err != nil {
			return nil, err
		}
		packs[j] = b
	}
	return packs, nil
}

// UnpackFolder decodes folder k and verifies its size and CRC. A non-zero
// maxSize rejects folders declaring a larger stream before any decoding.
func (s *StreamsInfo) UnpackFolder(data []byte, k int, dec folder.Decoder, maxSize uint64) ([]byte, error) {
	f := s.Folders[k]
	if maxSize > 0 {
		for _, size := range f.UnpackSizes {
			if size > maxSize {
				return nil, fmt.Errorf("%w: folder %d declares %d bytes, limit %d", sztype.ErrSizeOverflow, k, size, maxSize)
			}
		}
	}
	if _, err := sizing.ToInt(f.UnpackSize(), sztype.ErrSizeOverflow); err != nil {
		return nil, fmt.Errorf("folder %d: %w", k, err)
	}
	packs, err := s.FolderPacks(data, k)
	if err != nil {
		return nil, err
	}
	out, err := f.Unpack(packs, dec)
	if err != nil {
		return nil, err
	}
	if f.HasCRC {
		if got := crc32.ChecksumIEEE(out); got != f.CRC {
			return nil, sztype.CRCMismatch(sztype.ScopeFolder, k, f.CRC, got)
		}
	}
	return out, nil
}

func parseStreamsInfo(c *cursor.Cursor) (StreamsInfo, error) {
	var s StreamsInfo
	id, err := c.Byte()
	if err != nil {
		return s, err
	}
	if id == idPackInfo {
		if s.Pack, err = parsePackInfo(c); err != nil {
			return s, fmt.Errorf("pack info: %w", err)
		}
		if id, err = c.Byte(); err != nil {
			return s, err
		}
	}
	if id == idUnpackInfo {
		if s.Folders, err = parseUnpackInfo(c); err != nil {
			return s, fmt.Errorf("unpack info: %w", err)
		}
		if id, err = c.Byte(); err != nil {
			return s, err
		}
	}
	haveSubstreams := false
	if id == idSubstreamsInfo {
		if s.Substreams, err = parseSubstreamsInfo(c, s.Folders); err != nil {
			return s, fmt.Errorf("substreams info: %w", err)
		}
		haveSubstreams = true
		if id, err = c.Byte(); err != nil {
			return s, err
		}
	}
	if id != idEnd {
		return s, sztype.Corrupt("streams info property %#x", id)
	}
	if !haveSubstreams {
		s.Substreams = defaultSubstreams(s.Folders)
	}

	s.firstPack = make([]int, len(s.Folders))
	next := 0
	for k, f := range s.Folders {
		s.firstPack[k] = next
		next += len(f.PackedStreams)
	}
	if next > len(s.Pack.Sizes) {
		return s, sztype.Corrupt("folders use %d pack streams, archive declares %d", next, len(s.Pack.Sizes))
	}
	return s, nil
}

func parsePackInfo(c *cursor.Cursor) (PackInfo, error) {
	var p PackInfo
	var err error
	if p.Pos, err = c.Number(); err != nil {
		return p, err
	}
	n, err := count(c, "pack streams")
	if err != nil {
		return p, err
	}
	for {
		id, err := c.Byte()
		if err != nil {
			return p, err
		}
		switch id {
		case idEnd:
			if p.Sizes == nil && n > 0 {
				return p, sztype.Corrupt("pack sizes missing")
			}
			return p, nil
		case idSize:
			p.Sizes = make([]uint64, n)
			for i := range p.Sizes {
				if p.Sizes[i], err = c.Number(); err != nil {
					return p, err
				}
			}
		case idCRC:
			if p.HasCRC, p.CRCs, err = readDigests(c, n); err != nil {
				return p, err
			}
		default:
			if err := skipData(c); err != nil {
				return p, err
			}
		}
	}
}

func parseUnpackInfo(c *cursor.Cursor) ([]*folder.Folder, error) {
	if err := expect(c, idFolder); err != nil {
		return nil, err
	}
	n, err := count(c, "folders")
	if err != nil {
		return nil, err
	}
	external, err := c.Byte()
	if err != nil {
		return nil, err
	}
	if external != 0 {
		return nil, sztype.Unsupported("external folder data")
	}

	folders := make([]*folder.Folder, n)
	for i := range folders {
		f, err := folder.Parse(c)
		if err != nil {
			return nil, fmt.Errorf("folder %d: %w", i, err)
		}
		f.Index = i
		folders[i] = f
	}

	if err := expect(c, idCodersUnpackSize); err != nil {
		return nil, err
	}
	for _, f := range folders {
		f.UnpackSizes = make([]uint64, f.NumOutStreams())
		for j := range f.UnpackSizes {
			if f.UnpackSizes[j], err = c.Number(); err != nil {
				return nil, err
			}
		}
	}

	for {
		id, err := c.Byte()
		if err != nil {
			return nil, err
		}
		switch id {
		case idEnd:
			return folders, nil
		case idCRC:
			defined, crcs, err := readDigests(c, n)
			if err != nil {
				return nil, err
			}
			for i, f := range folders {
				f.HasCRC, f.CRC = defined[i], crcs[i]
			}
		default:
			if err := skipData(c); err != nil {
				return nil, err
			}
		}
	}
}

// defaultSubstreams maps each folder to a single substream carrying the
// folder CRC.
func defaultSubstreams(folders []*folder.Folder) SubstreamsInfo {
	s := SubstreamsInfo{Counts: make([]int, len(folders))}
	for k, f := range folders {
		s.Counts[k] = 1
		s.Sizes = append(s.Sizes, f.UnpackSize())
		s.CRCs = append(s.CRCs, f.CRC)
		s.HasCRC = append(s.HasCRC, f.HasCRC)
	}
	return s
}

func parseSubstreamsInfo(c *cursor.Cursor, folders []*folder.Folder) (SubstreamsInfo, error) {
	s := SubstreamsInfo{Counts: make([]int, len(folders))}
	for k := range s.Counts {
		s.Counts[k] = 1
	}

	id, err := c.Byte()
	if err != nil {
		return s, err
	}
	for id != idSize && id != idCRC && id != idEnd {
		if id == idNumUnpackStream {
			for k := range s.Counts {
				if s.Counts[k], err = count(c, "substreams"); err != nil {
					return s, err
				}
			}
		} else if err := skipData(c); err != nil {
			return s, err
		}
		if id, err = c.Byte(); err != nil {
			return s, err
		}
	}

	for k, f := range folders {
		n := s.Counts[k]
		if n == 0 {
			continue
		}
		if id != idSize && n > 1 {
			return s, sztype.Corrupt("folder %d has %d substreams without sizes", k, n)
		}
		var sum uint64
		if id == idSize {
			for range n - 1 {
				size, err := c.Number()
				if err != nil {
					return s, err
				}
				var ok bool
				if sum, ok = sizing.AddUint64(sum, size); !ok {
					return s, fmt.Errorf("%w: folder %d substream sizes", sztype.ErrSizeOverflow, k)
				}
				s.Sizes = append(s.Sizes, size)
			}
		}
		total := f.UnpackSize()
		if sum > total {
			return s, sztype.Corrupt("folder %d substreams total %d of %d bytes", k, sum, total)
		}
		s.Sizes = append(s.Sizes, total-sum)
	}
	if id == idSize {
		if id, err = c.Byte(); err != nil {
			return s, err
		}
	}

	// Folders with one substream and a folder CRC reuse it; the digest
	// list covers every other substream.
	numDigests := 0
	for k, f := range folders {
		if s.Counts[k] != 1 || !f.HasCRC {
			numDigests += s.Counts[k]
		}
	}
	var defined []bool
	var crcs []uint32
	for id != idEnd {
		if id == idCRC {
			if defined, crcs, err = readDigests(c, numDigests); err != nil {
				return s, err
			}
		} else if err := skipData(c); err != nil {
			return s, err
		}
		if id, err = c.Byte(); err != nil {
			return s, err
		}
	}

	next := 0
	for k, f := range folders {
		if s.Counts[k] == 1 && f.HasCRC {
			s.CRCs = append(s.CRCs, f.CRC)
			s.HasCRC = append(s.HasCRC, true)
			continue
		}
		for range s.Counts[k] {
			if defined != nil {
				s.CRCs = append(s.CRCs, crcs[next])
				s.HasCRC = append(s.HasCRC, defined[next])
			} else {
				s.CRCs = append(s.CRCs, 0)
				s.HasCRC = append(s.HasCRC, false)
			}
			next++
		}
	}
	return s, nil
}

// readDigests reads a defined vector of n flags and a CRC for every
// defined entry.
func readDigests(c *cursor.Cursor, n int) ([]bool, []uint32, error) {
	defined, err := c.Defined(n)
	if err != nil {
		return nil, nil, err
	}
	crcs := make([]uint32, n)
	for i, d := range defined {
		if !d {
			continue
		}
		if crcs[i], err = c.Uint32(); err != nil {
			return nil, nil, err
		}
	}
	return defined, crcs, nil
}
