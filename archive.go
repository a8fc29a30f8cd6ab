package sevenz

import (
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/sevenz/internal/codec"
	"github.com/meigma/sevenz/internal/header"
	"github.com/meigma/sevenz/internal/pathutil"
	"github.com/meigma/sevenz/internal/sizing"
	"github.com/meigma/sevenz/internal/sztype"
)

// Archive is a parsed 7z archive.
//
// An Archive is safe for concurrent use. The data buffer passed to Open is
// referenced, not copied, and must not be modified while the Archive is in
// use.
type Archive struct {
	data []byte
	hdr  *header.Header

	files []*File
	// folderFiles lists, per folder, the indices of the files whose
	// content it holds, in substream order.
	folderFiles [][]int
	// decodable lists the folders that hold at least one substream.
	decodable []int

	byName map[string]*File
	dirs   map[string][]string

	registry *codec.Registry
	cache    *lru.Cache[int, []byte]
	group    singleflight.Group

	logger           *slog.Logger
	workers          int
	memoryBudget     uint64
	cacheFolders     int
	maxFolderSize    uint64
	maxDecoderMemory uint64
}

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// Open parses the archive in data.
//
// Open verifies the signature header and header CRCs and decodes an encoded
// header if present. File contents are not decoded until requested.
func Open(data []byte, opts ...Option) (*Archive, error) {
	a := &Archive{
		data:          data,
		maxFolderSize: DefaultMaxFolderSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(a)
	}
	a.registry = codec.NewRegistry(codec.NewDecoderPool(a.maxDecoderMemory))
	if a.cacheFolders > 0 {
		cache, err := lru.New[int, []byte](a.cacheFolders)
		if err != nil {
			return nil, fmt.Errorf("folder cache: %w", err)
		}
		a.cache = cache
	}

	hdr, err := header.Read(data, header.Options{
		Decoder:       a.registry,
		MaxFolderSize: a.maxFolderSize,
	})
	if err != nil {
		return nil, err
	}
	a.hdr = hdr
	if err := a.layout(); err != nil {
		return nil, err
	}
	a.index()

	a.log().Debug("opened archive",
		"files", len(a.files),
		"folders", len(hdr.Streams.Folders),
		"pack_streams", len(hdr.Streams.Pack.Sizes),
		"encoded_header", hdr.Encoded,
		"version", fmt.Sprintf("%d.%d", hdr.Signature.Major, hdr.Signature.Minor),
	)
	return a, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// layout assigns each file with a stream its folder, offset and size. Files
// with streams consume substreams in declaration order.
func (a *Archive) layout() error {
	streams := &a.hdr.Streams
	sub := &streams.Substreams

	a.files = make([]*File, len(a.hdr.Files))
	for i := range a.hdr.Files {
		a.files[i] = newFile(i, &a.hdr.Files[i])
	}
	a.folderFiles = make([][]int, len(streams.Folders))

	next, s := 0, 0
	for k, n := range sub.Counts {
		var offset uint64
		for range n {
			for next < len(a.files) && !a.files[next].stream {
				next++
			}
			if next == len(a.files) {
				return sztype.Corrupt("folder %d has more substreams than files", k)
			}
			f := a.files[next]
			f.Folder = k
			f.offset = offset
			f.Size = sub.Sizes[s]
			if s < len(sub.HasCRC) && sub.HasCRC[s] {
				f.CRC, f.HasCRC = sub.CRCs[s], true
			}
			var ok bool
			if offset, ok = sizing.AddUint64(offset, f.Size); !ok {
				return fmt.Errorf("%w: folder %d substreams overflow", sztype.ErrSizeOverflow, k)
			}
			a.folderFiles[k] = append(a.folderFiles[k], next)
			next++
			s++
		}
		if n > 0 {
			a.decodable = append(a.decodable, k)
		}
	}
	for ; next < len(a.files); next++ {
		if a.files[next].stream {
			return sztype.Corrupt("file %d has no substream", next)
		}
	}
	return nil
}

// index builds the name lookup and directory tree used by the fs.FS view.
// Items whose names are not valid fs paths are left out of the view; later
// items replace earlier ones with the same name.
func (a *Archive) index() {
	a.byName = make(map[string]*File, len(a.files))
	children := make(map[string]map[string]struct{})
	add := func(dir, child string) {
		if children[dir] == nil {
			children[dir] = make(map[string]struct{})
		}
		children[dir][child] = struct{}{}
	}
	children["."] = make(map[string]struct{})

	for _, f := range a.files {
		if !fs.ValidPath(f.Name) || f.Name == "." || f.Anti {
			continue
		}
		a.byName[f.Name] = f
		if f.dir && children[f.Name] == nil {
			children[f.Name] = make(map[string]struct{})
		}
		child := f.Name
		for _, parent := range pathutil.Parents(f.Name) {
			add(parent, pathutil.Base(child))
			child = parent
		}
	}

	a.dirs = make(map[string][]string, len(children))
	for dir, set := range children {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		slices.Sort(names)
		a.dirs[dir] = names
	}
}

// Files returns the archive items in header order. The returned slice must
// not be modified.
func (a *Archive) Files() []*File {
	return a.files
}

// Lookup returns the item stored under name, after separator
// normalization.
func (a *Archive) Lookup(name string) (*File, bool) {
	f, ok := a.byName[pathutil.Normalize(name)]
	return f, ok
}

// NumFolders returns the number of folders in the archive.
func (a *Archive) NumFolders() int {
	return len(a.hdr.Streams.Folders)
}

// EncodedHeader reports whether the header was stored compressed.
func (a *Archive) EncodedHeader() bool {
	return a.hdr.Encoded
}

// Version returns the archive format version.
func (a *Archive) Version() (major, minor byte) {
	return a.hdr.Signature.Major, a.hdr.Signature.Minor
}

// folderSize returns the declared decoded size of folder k.
func (a *Archive) folderSize(k int) uint64 {
	return a.hdr.Streams.Folders[k].UnpackSize()
}

// decodeFolder decodes folder k, verifying its pack stream CRCs, coder
// output sizes, and folder CRC.
func (a *Archive) decodeFolder(k int) ([]byte, error) {
	a.log().Debug("decoding folder", "folder", k, "size", a.folderSize(k))
	out, err := a.hdr.Streams.UnpackFolder(a.data, k, a.registry, a.maxFolderSize)
	if err != nil {
		return nil, fmt.Errorf("folder %d: %w", k, err)
	}
	return out, nil
}

// cachedFolder returns the decoded output of folder k through the folder
// cache. Concurrent callers for the same folder share one decode. The
// result is shared and must not be modified.
func (a *Archive) cachedFolder(k int) ([]byte, error) {
	if a.cache != nil {
		if out, ok := a.cache.Get(k); ok {
			a.log().Debug("folder cache hit", "folder", k)
			return out, nil
		}
	}
	result, err, _ := a.group.Do(strconv.Itoa(k), func() (any, error) {
		if a.cache != nil {
			if out, ok := a.cache.Get(k); ok {
				return out, nil
			}
		}
		out, err := a.decodeFolder(k)
		if err != nil {
			return nil, err
		}
		if a.cache != nil {
			a.cache.Add(k, out)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}
