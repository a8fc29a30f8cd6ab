package sevenz

import (
	"bytes"
	"fmt"
	"io/fs"

	"github.com/meigma/sevenz/internal/file"
	"github.com/meigma/sevenz/internal/pathutil"
)

// ReadFile implements fs.ReadFileFS.
//
// ReadFile decodes only the folder that holds name and verifies the file's
// CRC. With WithFolderCache, decoded folders are kept for later calls, and
// concurrent calls for files in the same folder share a single decode.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	f, ok := a.byName[name]
	if !ok {
		if _, isDir := a.dirs[name]; isDir {
			return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
		}
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	if f.dir {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	content, err := a.content(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return bytes.Clone(content), nil
}

// content returns the verified content of f. The result aliases the folder
// cache and must not be modified.
func (a *Archive) content(f *File) ([]byte, error) {
	if !f.stream {
		return []byte{}, nil
	}
	data, err := a.cachedFolder(f.Folder)
	if err != nil {
		return nil, err
	}
	rec, err := a.substream(f, data)
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

// Open implements fs.FS.
//
// Regular files are decoded and verified when opened. Directories are
// synthesized from item paths when the archive does not store them.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if f, ok := a.byName[name]; ok && !f.dir {
		content, err := a.content(f)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return file.Open(name, f.Info(), content), nil
	}
	if _, ok := a.dirs[name]; ok {
		entries, err := a.ReadDir(name)
		if err != nil {
			return nil, err
		}
		return file.OpenDir(name, a.dirInfo(name), entries), nil
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Stat implements fs.StatFS.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	if f, ok := a.byName[name]; ok && !f.dir {
		return f.Info(), nil
	}
	if _, ok := a.dirs[name]; ok {
		return a.dirInfo(name), nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

// ReadDir implements fs.ReadDirFS.
//
// ReadDir returns directory entries for the named directory, sorted by
// name.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	children, ok := a.dirs[name]
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	entries := make([]fs.DirEntry, 0, len(children))
	for _, child := range children {
		p := child
		if name != "." {
			p = name + "/" + child
		}
		info, err := a.Stat(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, fs.FileInfoToDirEntry(info))
	}
	return entries, nil
}

// dirInfo describes directory name, using the stored item when there is
// one.
func (a *Archive) dirInfo(name string) fs.FileInfo {
	if f, ok := a.byName[name]; ok && f.dir {
		return f.Info()
	}
	return file.NewDirInfo(pathutil.Base(name))
}
