// Package file provides the fs.File and fs.FileInfo values served by an
// archive's fs.FS view. File contents are decoded and verified before a
// File is created, so reads never fail part way through.
package file

import (
	"bytes"
	"io"
	"io/fs"
	"time"
)

// Meta is the metadata shared by files and directories.
type Meta struct {
	Name    string
	Size    int64
	Mode    fs.FileMode
	ModTime time.Time
	// Sys is returned by FileInfo.Sys.
	Sys any
}

// Info implements fs.FileInfo.
type Info struct {
	meta Meta
}

// NewInfo creates an Info for meta.
func NewInfo(meta Meta) *Info {
	return &Info{meta: meta}
}

func (fi *Info) Name() string       { return fi.meta.Name }
func (fi *Info) Size() int64        { return fi.meta.Size }
func (fi *Info) Mode() fs.FileMode  { return fi.meta.Mode }
func (fi *Info) ModTime() time.Time { return fi.meta.ModTime }
func (fi *Info) IsDir() bool        { return fi.meta.Mode.IsDir() }
func (fi *Info) Sys() any           { return fi.meta.Sys }

// NewDirInfo creates an Info for a directory with no stored metadata.
func NewDirInfo(name string) *Info {
	return &Info{meta: Meta{Name: name, Mode: fs.ModeDir | 0o755}}
}

// File is an open regular file backed by verified content.
type File struct {
	r    *bytes.Reader
	info fs.FileInfo
	path string
}

// Interface compliance.
var (
	_ fs.File     = (*File)(nil)
	_ io.ReaderAt = (*File)(nil)
	_ io.Seeker   = (*File)(nil)
)

// Open returns a File reading content. path is used in errors.
func Open(path string, info fs.FileInfo, content []byte) *File {
	return &File{r: bytes.NewReader(content), info: info, path: path}
}

// Stat returns the file info.
func (f *File) Stat() (fs.FileInfo, error) { return f.info, nil }

// Close releases nothing; reads after Close fail.
func (f *File) Close() error {
	if f.r == nil {
		return &fs.PathError{Op: "close", Path: f.path, Err: fs.ErrClosed}
	}
	f.r = nil
	return nil
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if f.r == nil {
		return 0, &fs.PathError{Op: "read", Path: f.path, Err: fs.ErrClosed}
	}
	return f.r.Read(p)
}

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.r == nil {
		return 0, &fs.PathError{Op: "read", Path: f.path, Err: fs.ErrClosed}
	}
	return f.r.ReadAt(p, off)
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.r == nil {
		return 0, &fs.PathError{Op: "seek", Path: f.path, Err: fs.ErrClosed}
	}
	return f.r.Seek(offset, whence)
}

// Dir is an open directory. Its entries are fixed when it is opened.
type Dir struct {
	info    fs.FileInfo
	path    string
	entries []fs.DirEntry
	off     int
}

// Interface compliance.
var _ fs.ReadDirFile = (*Dir)(nil)

// OpenDir returns a Dir listing entries, which must be sorted by name.
func OpenDir(path string, info fs.FileInfo, entries []fs.DirEntry) *Dir {
	return &Dir{info: info, path: path, entries: entries}
}

func (d *Dir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.path, Err: fs.ErrInvalid}
}

func (d *Dir) Stat() (fs.FileInfo, error) { return d.info, nil }

func (d *Dir) Close() error { return nil }

// ReadDir implements fs.ReadDirFile.
func (d *Dir) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.off:]
	if n <= 0 {
		d.off = len(d.entries)
		return append([]fs.DirEntry(nil), rest...), nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.off += n
	return append([]fs.DirEntry(nil), rest[:n]...), nil
}
