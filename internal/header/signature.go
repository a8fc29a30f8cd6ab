package header

import (
	"bytes"
	"fmt"
	"hash/crc32"

	"github.com/meigma/sevenz/internal/cursor"
	"github.com/meigma/sevenz/internal/sizing"
	"github.com/meigma/sevenz/internal/sztype"
)

// SignatureSize is the length of the fixed signature header.
const SignatureSize = 32

// Accepted format versions: major 0, minor up to 4.
const (
	MajorVersion    = 0
	MaxMinorVersion = 4
)

// Magic starts every 7z archive.
var Magic = [6]byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

// Signature is the fixed header at the start of an archive.
type Signature struct {
	Major byte
	Minor byte
	// NextHeaderOffset is relative to the end of the signature header.
	NextHeaderOffset uint64
	NextHeaderSize   uint64
	NextHeaderCRC    uint32
}

// ParseSignature reads and verifies the signature header of data.
func ParseSignature(data []byte) (Signature, error) {
	c := cursor.New(data)
	magic, err := c.Bytes(uint64(len(Magic)))
	if err != nil {
		return Signature{}, fmt.Errorf("signature: %w", err)
	}
	if !bytes.Equal(magic, Magic[:]) {
		return Signature{}, sztype.Corrupt("not a 7z archive")
	}

	var s Signature
	if s.Major, err = c.Byte(); err != nil {
		return Signature{}, fmt.Errorf("signature: %w", err)
	}
	if s.Minor, err = c.Byte(); err != nil {
		return Signature{}, fmt.Errorf("signature: %w", err)
	}
	if s.Major != MajorVersion || s.Minor > MaxMinorVersion {
		return Signature{}, sztype.Unsupported("format version %d.%d", s.Major, s.Minor)
	}

	startCRC, err := c.Uint32()
	if err != nil {
		return Signature{}, fmt.Errorf("signature: %w", err)
	}
	if s.NextHeaderOffset, err = c.Uint64(); err != nil {
		return Signature{}, fmt.Errorf("signature: %w", err)
	}
	if s.NextHeaderSize, err = c.Uint64(); err != nil {
		return Signature{}, fmt.Errorf("signature: %w", err)
	}
	if s.NextHeaderCRC, err = c.Uint32(); err != nil {
		return Signature{}, fmt.Errorf("signature: %w", err)
	}

	if got := crc32.ChecksumIEEE(data[12:SignatureSize]); got != startCRC {
		return Signature{}, sztype.CRCMismatch(sztype.ScopePrologue, 0, startCRC, got)
	}
	return s, nil
}

// Region returns the verified header region the signature points at.
func (s Signature) Region(data []byte) ([]byte, error) {
	start, ok := sizing.AddUint64(SignatureSize, s.NextHeaderOffset)
	if !ok {
		return nil, fmt.Errorf("%w: header offset %d", sztype.ErrTruncated, s.NextHeaderOffset)
	}
	region, ok := sizing.Span(data, start, s.NextHeaderSize)
	if !ok {
		return nil, fmt.Errorf("%w: header region [%d, +%d) beyond %d bytes",
			sztype.ErrTruncated, start, s.NextHeaderSize, len(data))
	}
	if got := crc32.ChecksumIEEE(region); got != s.NextHeaderCRC {
		return nil, sztype.CRCMismatch(sztype.ScopeHeader, 0, s.NextHeaderCRC, got)
	}
	return region, nil
}
