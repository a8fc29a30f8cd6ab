package header

import (
	"fmt"
	"time"

	"github.com/bodgit/windows"
	"golang.org/x/text/encoding/unicode"

	"github.com/meigma/sevenz/internal/cursor"
	"github.com/meigma/sevenz/internal/sztype"
)

// FILE_ATTRIBUTE_DIRECTORY.
const attrDirectory = 0x10

// FileInfo is the metadata of one archive item.
type FileInfo struct {
	Name string
	// EmptyStream items have no substream.
	EmptyStream bool
	// EmptyFile distinguishes empty files from directories among
	// EmptyStream items.
	EmptyFile bool
	// Anti items mark deletions in update archives.
	Anti          bool
	CTime         time.Time
	ATime         time.Time
	MTime         time.Time
	Attributes    uint32
	HasAttributes bool
}

// HasStream reports whether the item consumes a substream.
func (f *FileInfo) HasStream() bool { return !f.EmptyStream }

// IsDir reports whether the item is a directory.
func (f *FileInfo) IsDir() bool {
	if f.HasAttributes && f.Attributes&attrDirectory != 0 {
		return true
	}
	return f.EmptyStream && !f.EmptyFile
}

func parseFilesInfo(c *cursor.Cursor) ([]FileInfo, error) {
	n, err := count(c, "files")
	if err != nil {
		return nil, err
	}
	files := make([]FileInfo, n)
	numEmpty := 0

	for {
		id, err := c.Byte()
		if err != nil {
			return nil, err
		}
		if id == idEnd {
			return files, nil
		}
		size, err := c.Number()
		if err != nil {
			return nil, err
		}
		data, err := c.Bytes(size)
		if err != nil {
			return nil, fmt.Errorf("property %#x: %w", id, err)
		}
		p := cursor.New(data)

		switch id {
		case idEmptyStream:
			v, err := p.BitVector(n)
			if err != nil {
				return nil, fmt.Errorf("empty stream: %w", err)
			}
			numEmpty = 0
			for i, empty := range v {
				files[i].EmptyStream = empty
				if empty {
					numEmpty++
				}
			}
		case idEmptyFile, idAnti:
			v, err := p.BitVector(numEmpty)
			if err != nil {
				return nil, fmt.Errorf("property %#x: %w", id, err)
			}
			j := 0
			for i := range files {
				if !files[i].EmptyStream {
					continue
				}
				if id == idEmptyFile {
					files[i].EmptyFile = v[j]
				} else {
					files[i].Anti = v[j]
				}
				j++
			}
		case idName:
			if err := readNames(p, files); err != nil {
				return nil, fmt.Errorf("names: %w", err)
			}
		case idCTime, idATime, idMTime:
			if err := readTimes(p, files, id); err != nil {
				return nil, fmt.Errorf("times %#x: %w", id, err)
			}
		case idWinAttributes:
			if err := readAttributes(p, files); err != nil {
				return nil, fmt.Errorf("attributes: %w", err)
			}
		case idStartPos:
			return nil, sztype.Unsupported("start position property")
		default:
			// idDummy and unknown properties are padding or extensions.
		}
	}
}

func external(p *cursor.Cursor, what string) error {
	ext, err := p.Byte()
	if err != nil {
		return err
	}
	if ext != 0 {
		return sztype.Unsupported("external %s", what)
	}
	return nil
}

// readNames reads the null-terminated UTF-16LE name table. It must hold
// exactly one name per file and nothing else.
func readNames(p *cursor.Cursor, files []FileInfo) error {
	if err := external(p, "file names"); err != nil {
		return err
	}
	raw := p.Rest()
	if len(raw)%2 != 0 {
		return sztype.Corrupt("name table has odd length %d", len(raw))
	}

	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	found, start := 0, 0
	for i := 0; i < len(raw); i += 2 {
		if raw[i] != 0 || raw[i+1] != 0 {
			continue
		}
		if found == len(files) {
			return sztype.Corrupt("name table holds more than %d names", len(files))
		}
		name, err := dec.Bytes(raw[start:i])
		if err != nil {
			return sztype.Corrupt("name %d: %v", found, err)
		}
		files[found].Name = string(name)
		found++
		start = i + 2
	}
	if start != len(raw) {
		return sztype.Corrupt("name table ends inside a name")
	}
	if found != len(files) {
		return sztype.Corrupt("name table holds %d names for %d files", found, len(files))
	}
	return nil
}

func readTimes(p *cursor.Cursor, files []FileInfo, id byte) error {
	defined, err := p.Defined(len(files))
	if err != nil {
		return err
	}
	if err := external(p, "file times"); err != nil {
		return err
	}
	for i, d := range defined {
		if !d {
			continue
		}
		ticks, err := p.Uint64()
		if err != nil {
			return err
		}
		ft := windows.Filetime{LowDateTime: uint32(ticks), HighDateTime: uint32(ticks >> 32)} //nolint:gosec // split into halves
		t := time.Unix(0, ft.Nanoseconds()).UTC()
		switch id {
		case idCTime:
			files[i].CTime = t
		case idATime:
			files[i].ATime = t
		default:
			files[i].MTime = t
		}
	}
	return nil
}

func readAttributes(p *cursor.Cursor, files []FileInfo) error {
	defined, err := p.Defined(len(files))
	if err != nil {
		return err
	}
	if err := external(p, "file attributes"); err != nil {
		return err
	}
	for i, d := range defined {
		if !d {
			continue
		}
		if files[i].Attributes, err = p.Uint32(); err != nil {
			return err
		}
		files[i].HasAttributes = true
	}
	return nil
}
