package sevenz

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/spf13/afero"

	"github.com/meigma/sevenz/internal/batch"
	"github.com/meigma/sevenz/internal/sztype"
)

// ExtractStats counts the outcome of Extract.
type ExtractStats = batch.Stats

// Extract writes the archive's items beneath dir on fsys.
//
// Folders are decoded in order, in parallel when WithWorkers allows it.
// Each file is written through a temporary file that is renamed into place
// once its content is verified, unless ExtractWithDirectWrites is set.
// Directories are created after the files so that their recorded times
// survive.
//
// A failure confined to one item (an unsupported coder, a folder or file
// checksum mismatch, an invalid name) is recorded and extraction continues;
// the failures are returned together as an *ExtractError. Context
// cancellation and sink errors stop extraction. Anti items are skipped.
func (a *Archive) Extract(ctx context.Context, fsys afero.Fs, dir string, opts ...ExtractOption) (ExtractStats, error) {
	cfg := extractConfig{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	sink := batch.NewFileSink(fsys, dir,
		batch.WithOverwrite(cfg.overwrite),
		batch.WithPreserveMode(cfg.preserveMode),
		batch.WithPreserveTimes(cfg.preserveTimes),
		batch.WithDirectWrites(cfg.directWrites),
	)

	x := &extraction{a: a, sink: sink}

	// Folder failures are per item, so decode never stops the processor.
	folderErrs := make([]error, len(a.hdr.Streams.Folders))
	decode := func(k int) ([]byte, error) {
		data, err := a.decodeFolder(k)
		if err != nil {
			folderErrs[k] = err
			return nil, nil
		}
		return data, nil
	}
	err := a.processor(decode).Run(ctx, a.decodable, func(k int, data []byte) error {
		if folderErrs[k] != nil {
			for _, i := range a.folderFiles[k] {
				x.fail(a.files[i], folderErrs[k])
			}
			return nil
		}
		return x.folder(k, data)
	})
	if err != nil {
		return x.stats, err
	}

	var dirs []*File
	for _, f := range a.files {
		switch {
		case f.stream:
		case f.dir:
			dirs = append(dirs, f)
		default:
			if err := x.put(f, nil); err != nil {
				return x.stats, err
			}
		}
	}
	for _, f := range dirs {
		if err := ctx.Err(); err != nil {
			return x.stats, err
		}
		if err := x.mkdir(f); err != nil {
			return x.stats, err
		}
	}

	a.log().Debug("extracted archive",
		"written", x.stats.Written,
		"skipped", x.stats.Skipped,
		"bytes", x.stats.Bytes,
		"failed", len(x.failed),
	)
	if len(x.failed) > 0 {
		return x.stats, &ExtractError{Failed: x.failed}
	}
	return x.stats, nil
}

// extraction holds the state of one Extract call. Its methods run on a
// single goroutine.
type extraction struct {
	a      *Archive
	sink   *batch.FileSink
	stats  ExtractStats
	failed []*FileError
}

func (x *extraction) fail(f *File, err error) {
	x.a.log().Warn("extract failed", "path", f.Name, "error", err)
	x.failed = append(x.failed, &FileError{Name: f.Name, Err: err})
}

// folder writes the files of folder k, verifying each one.
func (x *extraction) folder(k int, data []byte) error {
	for _, i := range x.a.folderFiles[k] {
		f := x.a.files[i]
		rec, err := x.a.substream(f, data)
		if err != nil {
			x.fail(f, err)
			continue
		}
		if err := x.put(f, rec.Data); err != nil {
			return err
		}
	}
	return nil
}

// usable reports whether f can be written, recording a failure if its name
// or type rules it out.
func (x *extraction) usable(f *File) bool {
	if f.Anti {
		return false
	}
	if !fs.ValidPath(f.Name) || f.Name == "." {
		x.fail(f, &fs.PathError{Op: "extract", Path: f.Name, Err: fs.ErrInvalid})
		return false
	}
	if f.Mode()&fs.ModeSymlink != 0 {
		x.fail(f, sztype.Unsupported("symbolic link extraction"))
		return false
	}
	return true
}

func (x *extraction) item(f *File) *batch.Item {
	return &batch.Item{Path: f.Name, Mode: f.Mode(), ModTime: f.ModTime}
}

// put writes a regular file. Items rejected by usable are not errors.
func (x *extraction) put(f *File, content []byte) error {
	if !x.usable(f) {
		return nil
	}
	ok, err := batch.Put(x.sink, x.item(f), content)
	if err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	if !ok {
		x.stats.Skipped++
		return nil
	}
	x.stats.Written++
	x.stats.Bytes += uint64(len(content))
	return nil
}

func (x *extraction) mkdir(f *File) error {
	if !x.usable(f) {
		return nil
	}
	if err := x.sink.Mkdir(x.item(f)); err != nil {
		return fmt.Errorf("extract %s: %w", f.Name, err)
	}
	x.stats.Written++
	return nil
}
