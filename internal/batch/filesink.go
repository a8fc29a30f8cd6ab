package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileSink writes items beneath a directory of an afero filesystem.
//
// By default, files are written to a temporary file in the same directory
// and renamed to the final path on Commit, so partially written files are
// never visible at the final path.
type FileSink struct {
	fs            afero.Fs
	overwrite     bool
	preserveMode  bool
	preserveTimes bool
	directWrite   bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// WithPreserveMode applies permission bits recorded in the archive.
func WithPreserveMode(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveMode = preserve
	}
}

// WithPreserveTimes applies modification times recorded in the archive.
func WithPreserveTimes(preserve bool) FileSinkOption {
	return func(s *FileSink) {
		s.preserveTimes = preserve
	}
}

// WithDirectWrites disables temp files and writes directly to the final path.
func WithDirectWrites(enabled bool) FileSinkOption {
	return func(s *FileSink) {
		s.directWrite = enabled
	}
}

// NewFileSink creates a FileSink rooted at destDir on fsys. Item paths
// must satisfy fs.ValidPath, so they cannot escape destDir.
func NewFileSink(fsys afero.Fs, destDir string, opts ...FileSinkOption) *FileSink {
	if d := filepath.Clean(destDir); d != "." {
		fsys = afero.NewBasePathFs(fsys, d)
	}
	s := &FileSink{fs: fsys}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldProcess returns false if the file already exists and overwrite is disabled.
func (s *FileSink) ShouldProcess(item *Item) bool {
	if !fs.ValidPath(item.Path) {
		return false
	}
	if s.overwrite {
		return true
	}
	exists, err := afero.Exists(s.fs, item.Path)
	return err == nil && !exists
}

// Mkdir creates a directory item and its parents.
func (s *FileSink) Mkdir(item *Item) error {
	if !fs.ValidPath(item.Path) {
		return &fs.PathError{Op: "mkdir", Path: item.Path, Err: fs.ErrInvalid}
	}
	if err := s.fs.MkdirAll(item.Path, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", item.Path, err)
	}
	return s.applyMetadata(item.Path, item)
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(item *Item) (Committer, error) {
	if !fs.ValidPath(item.Path) {
		return nil, &fs.PathError{Op: "extract", Path: item.Path, Err: fs.ErrInvalid}
	}
	dir := path.Dir(item.Path)
	if err := s.fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	if s.directWrite {
		f, err := s.fs.OpenFile(item.Path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create file %s: %w", item.Path, err)
		}
		return &fileCommitter{sink: s, item: item, file: f, name: item.Path}, nil
	}

	f, err := afero.TempFile(s.fs, dir, ".sevenz-")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{sink: s, item: item, file: f, name: f.Name(), rename: true}, nil
}

func (s *FileSink) applyMetadata(name string, item *Item) error {
	if s.preserveMode && item.Mode.Perm() != 0 {
		if err := s.fs.Chmod(name, item.Mode.Perm()); err != nil {
			return fmt.Errorf("chmod: %w", err)
		}
	}
	if s.preserveTimes && !item.ModTime.IsZero() {
		if err := s.fs.Chtimes(name, item.ModTime, item.ModTime); err != nil {
			return fmt.Errorf("chtimes: %w", err)
		}
	}
	return nil
}

// fileCommitter writes to a temp file or the final path.
type fileCommitter struct {
	sink   *FileSink
	item   *Item
	file   afero.File
	name   string
	rename bool
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.file.Write(p)
}

// Commit closes the file, applies metadata, and renames to the final path.
func (c *fileCommitter) Commit() error {
	if err := c.file.Close(); err != nil {
		_ = c.sink.fs.Remove(c.name) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close file: %w", err)
	}
	if err := c.sink.applyMetadata(c.name, c.item); err != nil {
		_ = c.sink.fs.Remove(c.name) //nolint:errcheck // best-effort cleanup
		return err
	}
	if c.rename {
		if err := c.sink.fs.Rename(c.name, c.item.Path); err != nil {
			_ = c.sink.fs.Remove(c.name) //nolint:errcheck // best-effort cleanup
			return fmt.Errorf("rename to %s: %w", c.item.Path, err)
		}
	}
	return nil
}

// Discard closes and removes the file.
func (c *fileCommitter) Discard() error {
	_ = c.file.Close() //nolint:errcheck // we're cleaning up
	return c.sink.fs.Remove(c.name)
}
