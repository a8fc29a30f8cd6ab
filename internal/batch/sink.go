package batch

import (
	"io"
	"io/fs"
	"time"
)

// Item describes an archive entry being extracted.
type Item struct {
	// Path is slash separated and relative to the extraction root.
	Path    string
	Mode    fs.FileMode
	ModTime time.Time
}

// Sink receives verified file content during extraction.
//
// Implementations determine where content is written and can filter which
// items to process.
type Sink interface {
	// ShouldProcess returns false if this item should be skipped.
	ShouldProcess(item *Item) bool

	// Writer returns a writer for the item's content.
	// The returned Committer must have Commit() called after a successful
	// write, or Discard() called on any error.
	Writer(item *Item) (Committer, error)

	// Mkdir creates a directory item.
	Mkdir(item *Item) error
}

// Committer is a writer that can be committed or discarded.
//
// Implementations should stage writes until Commit is called.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up any temporary resources.
	Discard() error
}

// Stats counts the outcome of an extraction.
type Stats struct {
	// Written is the number of files and directories created.
	Written int

	// Skipped is the number of items skipped (ShouldProcess returned false).
	Skipped int

	// Bytes is the total size of the file contents written.
	Bytes uint64
}

// Put writes content for item through sink, committing on success and
// discarding on failure. It reports whether the item was written.
func Put(sink Sink, item *Item, content []byte) (bool, error) {
	if !sink.ShouldProcess(item) {
		return false, nil
	}
	w, err := sink.Writer(item)
	if err != nil {
		return false, err
	}
	if err := writeAll(w, content); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return false, err
	}
	if err := w.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// writeAll writes all data to w, handling partial writes.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}
