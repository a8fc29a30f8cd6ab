package sevenz

import (
	"io/fs"
	"time"

	"github.com/meigma/sevenz/internal/file"
	"github.com/meigma/sevenz/internal/header"
	"github.com/meigma/sevenz/internal/pathutil"
	"github.com/meigma/sevenz/internal/sizing"
)

// Windows attribute bits.
const (
	attrReadOnly  = 0x01
	attrDirectory = 0x10
	// attrUnixExtension marks attributes whose high 16 bits hold a Unix
	// st_mode, as written by p7zip and 7-Zip on Unix hosts.
	attrUnixExtension = 0x8000
)

// Unix st_mode file types.
const (
	unixTypeMask = 0o170000
	unixDir      = 0o040000
	unixSymlink  = 0o120000
)

// File is the metadata of one archive item. Files are listed in the order
// the header declares them.
type File struct {
	// Name is the stored name with separators normalized to "/".
	Name string

	// Size is the decoded size in bytes; zero for items without a stream.
	Size uint64

	ModTime    time.Time
	CreateTime time.Time
	AccessTime time.Time

	// Attributes is the raw Windows attribute word; valid when
	// HasAttributes is set.
	Attributes    uint32
	HasAttributes bool

	// Anti items mark deletions in update archives. They carry no data
	// and are skipped by Extract.
	Anti bool

	// CRC is the declared CRC-32 of the content; valid when HasCRC is set.
	CRC    uint32
	HasCRC bool

	// Folder is the index of the folder holding the content, or -1.
	Folder int

	index  int
	offset uint64
	dir    bool
	stream bool
}

func newFile(i int, fi *header.FileInfo) *File {
	return &File{
		Name:          pathutil.Normalize(fi.Name),
		ModTime:       fi.MTime,
		CreateTime:    fi.CTime,
		AccessTime:    fi.ATime,
		Attributes:    fi.Attributes,
		HasAttributes: fi.HasAttributes,
		Anti:          fi.Anti,
		Folder:        -1,
		index:         i,
		dir:           fi.IsDir(),
		stream:        fi.HasStream(),
	}
}

// Index returns the position of the item in the header.
func (f *File) Index() int { return f.index }

// IsDir reports whether the item is a directory.
func (f *File) IsDir() bool { return f.dir }

// HasStream reports whether the item has content in a folder. Empty files,
// directories and anti items do not.
func (f *File) HasStream() bool { return f.stream }

// Mode returns the item's permission and type bits. Unix modes stored in
// the high attribute bits are used when present; otherwise the mode is
// derived from the Windows attributes.
func (f *File) Mode() fs.FileMode {
	var mode fs.FileMode
	if f.HasAttributes && f.Attributes&attrUnixExtension != 0 {
		unix := f.Attributes >> 16
		mode = fs.FileMode(unix & 0o777)
		switch unix & unixTypeMask {
		case unixDir:
			mode |= fs.ModeDir
		case unixSymlink:
			mode |= fs.ModeSymlink
		}
	} else {
		mode = 0o644
		if f.dir {
			mode = 0o755
		}
		if f.HasAttributes && f.Attributes&attrReadOnly != 0 {
			mode &^= 0o222
		}
	}
	if f.dir || (f.HasAttributes && f.Attributes&attrDirectory != 0) {
		mode |= fs.ModeDir
	}
	return mode
}

// Info returns the item as an fs.FileInfo. Sys returns the *File.
func (f *File) Info() fs.FileInfo {
	size, err := sizing.ToInt64(f.Size, ErrSizeOverflow)
	if err != nil {
		size = -1
	}
	return file.NewInfo(file.Meta{
		Name:    pathutil.Base(f.Name),
		Size:    size,
		Mode:    f.Mode(),
		ModTime: f.ModTime,
		Sys:     f,
	})
}
