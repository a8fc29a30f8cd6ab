package sevenz

import (
	"context"
	"hash/crc32"
	"iter"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/sevenz/internal/batch"
	"github.com/meigma/sevenz/internal/sizing"
	"github.com/meigma/sevenz/internal/sztype"
)

// Record is a decoded archive item.
type Record struct {
	File *File
	// Data is the verified content; empty for items without a stream.
	Data []byte
	// CRC is the CRC-32 computed over Data.
	CRC uint32
}

// Digest returns the SHA-256 digest of the record's content.
func (r *Record) Digest() digest.Digest {
	return digest.FromBytes(r.Data)
}

// Records decodes every folder once and returns one record per item in
// header order. Any verification failure aborts the call and no records
// are returned.
func (a *Archive) Records() ([]Record, error) {
	out := make([]Record, 0, len(a.files))
	for rec, err := range a.All() {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// All returns an iterator over the archive's records in header order.
//
// Folders are decoded as the iteration reaches them, in parallel when
// WithWorkers allows it. A folder's records are yielded only after the
// whole folder and each of its files has been verified. The first error is
// yielded with a zero Record and ends the iteration.
func (a *Archive) All() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		type decoded struct {
			folder int
			data   []byte
		}
		folders := make(chan decoded)
		errc := make(chan error, 1)
		go func() {
			defer close(folders)
			errc <- a.processor(a.decodeFolder).Run(ctx, a.decodable, func(k int, data []byte) error {
				select {
				case folders <- decoded{folder: k, data: data}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}()

		next := 0
		// emitEmpty yields the stream-less items before file index end.
		emitEmpty := func(end int) bool {
			for ; next < end; next++ {
				if f := a.files[next]; !f.stream {
					if !yield(Record{File: f, Data: []byte{}}, nil) {
						return false
					}
				}
			}
			return true
		}

		for d := range folders {
			recs, err := a.split(d.folder, d.data)
			if err != nil {
				yield(Record{}, err)
				return
			}
			for _, rec := range recs {
				if !emitEmpty(rec.File.index) || !yield(rec, nil) {
					return
				}
				next = rec.File.index + 1
			}
		}
		if err := <-errc; err != nil {
			yield(Record{}, err)
			return
		}
		emitEmpty(len(a.files))
	}
}

// processor returns a batch processor decoding folders with decode.
func (a *Archive) processor(decode batch.DecodeFunc) *batch.Processor {
	return batch.NewProcessor(decode, a.folderSize,
		batch.WithWorkers(a.workers),
		batch.WithMemoryBudget(a.memoryBudget),
		batch.WithProcessorLogger(a.logger),
	)
}

// split divides the verified output of folder k into its substreams and
// checks each against its declared CRC. The substreams must exhaust the
// folder output exactly.
func (a *Archive) split(k int, data []byte) ([]Record, error) {
	indices := a.folderFiles[k]
	recs := make([]Record, 0, len(indices))
	var end uint64
	for _, i := range indices {
		rec, err := a.substream(a.files[i], data)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
		end = rec.File.offset + rec.File.Size
	}
	if end != uint64(len(data)) {
		return nil, sztype.SizeMismatch(sztype.ScopeFolder, k, end, uint64(len(data)))
	}
	return recs, nil
}

// substream returns the record of f cut from its folder's output, checked
// against the file's declared CRC.
func (a *Archive) substream(f *File, data []byte) (Record, error) {
	b, ok := sizing.Span(data, f.offset, f.Size)
	if !ok {
		return Record{}, sztype.SizeMismatch(sztype.ScopeFolder, f.Folder, f.offset+f.Size, uint64(len(data)))
	}
	got := crc32.ChecksumIEEE(b)
	if f.HasCRC && got != f.CRC {
		return Record{}, &sztype.IntegrityError{
			Scope: sztype.ScopeFile,
			Index: f.index,
			Name:  f.Name,
			Kind:  sztype.CheckCRC,
			Want:  uint64(f.CRC),
			Got:   uint64(got),
		}
	}
	return Record{File: f, Data: b, CRC: got}, nil
}
