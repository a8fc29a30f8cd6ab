// Package sevenz decodes 7z archives held in memory.
//
// An archive is parsed once by [Open]. Parsing reads the signature header,
// the (possibly encoded) structural header with its coder graphs and pack
// stream locations, and the file metadata. File contents are decoded on
// demand, one folder at a time, and every structural boundary is verified:
// the signature header CRC, the header CRC, pack stream CRCs, folder sizes
// and CRCs, and per-file CRCs.
//
// # Quick Start
//
// Decode every file in header order:
//
//	a, err := sevenz.Open(data)
//	if err != nil {
//	    return err
//	}
//	for rec, err := range a.All() {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(rec.File.Name, len(rec.Data))
//	}
//
// Read a single file; only the folder holding it is decoded:
//
//	content, err := a.ReadFile("docs/readme.txt")
//
// The archive also implements [fs.FS], [fs.ReadFileFS], [fs.StatFS] and
// [fs.ReadDirFS], so it can be passed to fs.WalkDir and friends.
//
// # Extraction
//
// Extract writes files beneath a directory of an afero filesystem:
//
//	stats, err := a.Extract(ctx, afero.NewOsFs(), "out",
//	    sevenz.ExtractWithPreserveTimes(true),
//	)
//
// A file whose checksum fails is reported in an [*ExtractError] but does not
// stop the remaining files.
//
// # Supported coders
//
// Copy, LZMA, LZMA2, Deflate, BZip2, Zstandard, Brotli, LZ4, XZ, Delta and
// the x86 BCJ filter. Encrypted and multi-volume archives are rejected with
// [ErrUnsupported].
package sevenz
