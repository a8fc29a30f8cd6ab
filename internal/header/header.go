// Package header parses the 7z signature header and the structural header
// it points at: pack stream locations, folders, substreams and file
// metadata. Encoded headers are unpacked through the folder graph and then
// parsed in a second pass over the decoded buffer.
package header

import (
	"fmt"

	"github.com/meigma/sevenz/internal/cursor"
	"github.com/meigma/sevenz/internal/folder"
	"github.com/meigma/sevenz/internal/sztype"
)

// Property IDs.
const (
	idEnd                   = 0x00
	idHeader                = 0x01
	idArchiveProperties     = 0x02
	idAdditionalStreamsInfo = 0x03
	idMainStreamsInfo       = 0x04
	idFilesInfo             = 0x05
	idPackInfo              = 0x06
	idUnpackInfo            = 0x07
	idSubstreamsInfo        = 0x08
	idSize                  = 0x09
	idCRC                   = 0x0A
	idFolder                = 0x0B
	idCodersUnpackSize      = 0x0C
	idNumUnpackStream       = 0x0D
	idEmptyStream           = 0x0E
	idEmptyFile             = 0x0F
	idAnti                  = 0x10
	idName                  = 0x11
	idCTime                 = 0x12
	idATime                 = 0x13
	idMTime                 = 0x14
	idWinAttributes         = 0x15
	idEncodedHeader         = 0x17
	idStartPos              = 0x18
	idDummy                 = 0x19
)

// Header is a parsed archive header.
type Header struct {
	Signature Signature
	Streams   StreamsInfo
	Files     []FileInfo
	// Encoded is set when the header was stored in a folder.
	Encoded bool
}

// Options configures Read.
type Options struct {
	// Decoder runs the coders of an encoded header.
	Decoder folder.Decoder
	// MaxFolderSize limits the declared size of an encoded header folder.
	// Zero means no limit.
	MaxFolderSize uint64
}

// Read parses the complete header of the archive in data.
func Read(data []byte, opts Options) (*Header, error) {
	sig, err := ParseSignature(data)
	if err != nil {
		return nil, err
	}
	h := &Header{Signature: sig}
	if sig.NextHeaderSize == 0 {
		return h, nil
	}
	region, err := sig.Region(data)
	if err != nil {
		return nil, err
	}

	c := cursor.New(region)
	id, err := c.Byte()
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	switch id {
	case idHeader:
	case idEncodedHeader:
		buf, err := unpackEncoded(data, c, opts)
		if err != nil {
			return nil, fmt.Errorf("encoded header: %w", err)
		}
		h.Encoded = true
		c = cursor.New(buf)
		if id, err = c.Byte(); err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		if id != idHeader {
			return nil, sztype.Corrupt("decoded header type %#x", id)
		}
	default:
		return nil, sztype.Corrupt("header type %#x", id)
	}

	if err := h.parse(c); err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	if n := c.Remaining(); n != 0 {
		return nil, sztype.Corrupt("header has %d trailing bytes", n)
	}
	if err := h.checkFiles(); err != nil {
		return nil, err
	}
	return h, nil
}

func unpackEncoded(data []byte, c *cursor.Cursor, opts Options) ([]byte, error) {
	streams, err := parseStreamsInfo(c)
	if err != nil {
		return nil, err
	}
	if n := c.Remaining(); n != 0 {
		return nil, sztype.Corrupt("%d trailing bytes", n)
	}
	if len(streams.Folders) == 0 {
		return nil, sztype.Corrupt("no header folder")
	}
	if opts.Decoder == nil {
		return nil, sztype.Unsupported("encoded header without a decoder")
	}
	return streams.UnpackFolder(data, 0, opts.Decoder, opts.MaxFolderSize)
}

func (h *Header) parse(c *cursor.Cursor) error {
	id, err := c.Byte()
	if err != nil {
		return err
	}
	if id == idArchiveProperties {
		if err := skipArchiveProperties(c); err != nil {
			return fmt.Errorf("archive properties: %w", err)
		}
		if id, err = c.Byte(); err != nil {
			return err
		}
	}
	if id == idAdditionalStreamsInfo {
		return sztype.Unsupported("additional streams")
	}
	if id == idMainStreamsInfo {
		if h.Streams, err = parseStreamsInfo(c); err != nil {
			return fmt.Errorf("main streams: %w", err)
		}
		if id, err = c.Byte(); err != nil {
			return err
		}
	}
	if id == idFilesInfo {
		if h.Files, err = parseFilesInfo(c); err != nil {
			return fmt.Errorf("files: %w", err)
		}
		if id, err = c.Byte(); err != nil {
			return err
		}
	}
	if id != idEnd {
		return sztype.Corrupt("header property %#x", id)
	}
	return nil
}

// checkFiles verifies that files with data and substreams are in
// lock-step.
func (h *Header) checkFiles() error {
	withData := 0
	for _, f := range h.Files {
		if f.HasStream() {
			withData++
		}
	}
	if total := h.Streams.Substreams.Total(); withData != total {
		return sztype.Corrupt("%d files with data for %d substreams", withData, total)
	}
	return nil
}

func skipArchiveProperties(c *cursor.Cursor) error {
	for {
		id, err := c.Byte()
		if err != nil {
			return err
		}
		if id == idEnd {
			return nil
		}
		if err := skipData(c); err != nil {
			return err
		}
	}
}

func skipData(c *cursor.Cursor) error {
	size, err := c.Number()
	if err != nil {
		return err
	}
	return c.Skip(size)
}

func expect(c *cursor.Cursor, want byte) error {
	id, err := c.Byte()
	if err != nil {
		return err
	}
	if id != want {
		return sztype.Corrupt("property %#x, want %#x", id, want)
	}
	return nil
}

// count reads an item count. Counts are bounded by eight items per header
// byte, which every well-formed header satisfies.
func count(c *cursor.Cursor, what string) (int, error) {
	n, err := c.Number()
	if err != nil {
		return 0, err
	}
	if n > uint64(c.Len())*8 {
		return 0, sztype.Corrupt("%d %s in a %d byte header", n, what, c.Len())
	}
	return int(n), nil
}
