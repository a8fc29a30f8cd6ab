package header

import (
	"encoding/binary"
	"hash/crc32"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sevenz/internal/codec"
	"github.com/meigma/sevenz/internal/cursor"
	"github.com/meigma/sevenz/internal/folder"
	"github.com/meigma/sevenz/internal/sztype"
	"github.com/meigma/sevenz/internal/testutil"
)

var modTime = time.Date(2024, 3, 9, 14, 30, 5, 123456700, time.UTC)

func sampleArchive(encode bool) testutil.Archive {
	return testutil.Archive{
		Folders: []testutil.Folder{{Coder: testutil.Copy}, {Coder: testutil.RawLZMA2}},
		Entries: []testutil.Entry{
			{Name: "docs/a.txt", Data: []byte("alpha"), ModTime: modTime},
			{Name: "docs/b.txt", Data: []byte("bravo!")},
			{Name: "docs", Dir: true, Attributes: attrDirectory},
			{Name: "empty.txt"},
			{Name: "héllo/世界.txt", Data: []byte("charlie"), Folder: 1},
		},
		EncodeHeader: encode,
	}
}

func readOpts() Options {
	return Options{Decoder: codec.NewRegistry(nil)}
}

func TestParseSignature(t *testing.T) {
	t.Parallel()

	data := testutil.Build(t, sampleArchive(false))
	sig, err := ParseSignature(data)
	require.NoError(t, err)
	assert.Equal(t, byte(0), sig.Major)
	assert.Equal(t, byte(4), sig.Minor)
	assert.Equal(t, uint64(len(data)-SignatureSize), sig.NextHeaderOffset+sig.NextHeaderSize)

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{"truncated magic", func(b []byte) []byte { return b[:5] }, sztype.ErrTruncated},
		{"truncated prologue", func(b []byte) []byte { return b[:20] }, sztype.ErrTruncated},
		{"bad magic", func(b []byte) []byte { b[1] = 'Z'; return b }, sztype.ErrCorrupt},
		{"major version", func(b []byte) []byte { b[6] = 1; return b }, sztype.ErrUnsupported},
		{"minor version", func(b []byte) []byte { b[7] = 5; return b }, sztype.ErrUnsupported},
		{"start header crc", func(b []byte) []byte { b[13] ^= 0xFF; return b }, sztype.ErrIntegrity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			b := tc.mutate(append([]byte{}, data...))
			_, err := ParseSignature(b)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestParseSignatureOlderMinor(t *testing.T) {
	t.Parallel()

	a := sampleArchive(false)
	a.Version = 2
	sig, err := ParseSignature(testutil.Build(t, a))
	require.NoError(t, err)
	assert.Equal(t, byte(2), sig.Minor)
}

func TestReadEmptyArchive(t *testing.T) {
	t.Parallel()

	h, err := Read(testutil.Assemble(nil, nil, 0), readOpts())
	require.NoError(t, err)
	assert.Empty(t, h.Files)
	assert.Empty(t, h.Streams.Folders)
}

func TestRead(t *testing.T) {
	t.Parallel()

	for _, encoded := range []bool{false, true} {
		h, err := Read(testutil.Build(t, sampleArchive(encoded)), readOpts())
		require.NoError(t, err)
		assert.Equal(t, encoded, h.Encoded)

		require.Len(t, h.Files, 5)
		names := make([]string, len(h.Files))
		for i, f := range h.Files {
			names[i] = f.Name
		}
		assert.Equal(t, []string{"docs/a.txt", "docs/b.txt", "docs", "empty.txt", "héllo/世界.txt"}, names)

		assert.True(t, h.Files[0].HasStream())
		assert.Equal(t, modTime, h.Files[0].MTime)
		assert.True(t, h.Files[1].MTime.IsZero())
		assert.True(t, h.Files[2].IsDir())
		assert.True(t, h.Files[2].HasAttributes)
		assert.True(t, h.Files[3].EmptyStream)
		assert.True(t, h.Files[3].EmptyFile)
		assert.False(t, h.Files[3].IsDir())
		assert.False(t, h.Files[4].EmptyStream)

		s := h.Streams
		require.Len(t, s.Folders, 2)
		assert.Equal(t, []int{2, 1}, s.Substreams.Counts)
		assert.Equal(t, []uint64{5, 6, 7}, s.Substreams.Sizes)
		assert.Equal(t, []bool{true, true, true}, s.Substreams.HasCRC)
		assert.Equal(t, crc32.ChecksumIEEE([]byte("alpha")), s.Substreams.CRCs[0])
		assert.Equal(t, s.Folders[1].CRC, s.Substreams.CRCs[2])
		assert.Equal(t, crc32.ChecksumIEEE([]byte("charlie")), s.Folders[1].CRC)
		assert.Equal(t, uint64(11), s.Folders[0].UnpackSize())
	}
}

func TestReadEncodedHeaderLimits(t *testing.T) {
	t.Parallel()

	data := testutil.Build(t, sampleArchive(true))

	_, err := Read(data, Options{Decoder: codec.NewRegistry(nil), MaxFolderSize: 4})
	require.ErrorIs(t, err, sztype.ErrSizeOverflow)

	_, err = Read(data, Options{})
	require.ErrorIs(t, err, sztype.ErrUnsupported)
}

func TestReadRegionErrors(t *testing.T) {
	t.Parallel()

	data := testutil.Build(t, sampleArchive(false))

	flipped := append([]byte{}, data...)
	flipped[len(flipped)-2] ^= 0x01
	_, err := Read(flipped, readOpts())
	require.ErrorIs(t, err, sztype.ErrIntegrity)
	var ie *sztype.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, sztype.ScopeHeader, ie.Scope)

	_, err = Read(data[:len(data)-1], readOpts())
	require.ErrorIs(t, err, sztype.ErrTruncated)
}

// files is a minimal FilesInfo block for one empty-stream file followed by
// the given properties.
func files(props ...byte) []byte {
	b := []byte{idHeader, idFilesInfo, 0x01, idEmptyStream, 0x01, 0x80}
	b = append(b, props...)
	return append(b, idEnd, idEnd)
}

func TestReadHeaderRegions(t *testing.T) {
	t.Parallel()

	name := []byte{idName, 0x05, 0x00, 'a', 0x00, 0x00, 0x00}

	tests := []struct {
		name    string
		region  []byte
		wantErr error
	}{
		{"empty header", []byte{idHeader, idEnd}, nil},
		{"archive properties skipped", []byte{idHeader, idArchiveProperties, 0x40, 0x01, 0xAA, idEnd, idEnd}, nil},
		{"trailing bytes", []byte{idHeader, idEnd, 0x00}, sztype.ErrCorrupt},
		{"unknown header type", []byte{0x05, idEnd}, sztype.ErrCorrupt},
		{"unknown header property", []byte{idHeader, 0x33, idEnd}, sztype.ErrCorrupt},
		{"additional streams", []byte{idHeader, idAdditionalStreamsInfo}, sztype.ErrUnsupported},
		{"truncated header", []byte{idHeader, idMainStreamsInfo}, sztype.ErrTruncated},
		{"external folders", []byte{idHeader, idMainStreamsInfo, idUnpackInfo, idFolder, 0x01, 0x01}, sztype.ErrUnsupported},
		{"file without substream", []byte{idHeader, idFilesInfo, 0x01, idEnd, idEnd}, sztype.ErrCorrupt},
		{"names", files(name...), nil},
		{"dummy and unknown skipped", files(append([]byte{idDummy, 0x02, 0x00, 0x00, 0x30, 0x01, 0xFF}, name...)...), nil},
		{"too many names", files(idName, 0x09, 0x00, 'a', 0x00, 0x00, 0x00, 'b', 0x00, 0x00, 0x00), sztype.ErrCorrupt},
		{"unterminated name", files(idName, 0x03, 0x00, 'a', 0x00), sztype.ErrCorrupt},
		{"odd name table", files(idName, 0x04, 0x00, 'a', 0x00, 0x00), sztype.ErrCorrupt},
		{"external names", files(idName, 0x01, 0x01), sztype.ErrUnsupported},
		{"start position", files(idStartPos, 0x01, 0x00), sztype.ErrUnsupported},
		{"property past end", files(idMTime, 0x20, 0x01), sztype.ErrTruncated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Read(testutil.Assemble(nil, tc.region, 0), readOpts())
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestReadTimesAndAttributes(t *testing.T) {
	t.Parallel()

	ticks := binary.LittleEndian.AppendUint64(nil, testutil.Filetime(modTime))
	mtime := append([]byte{idMTime, 0x0A, 0x01, 0x00}, ticks...)
	attrs := []byte{idWinAttributes, 0x06, 0x01, 0x00, 0x20, 0x80, 0xA4, 0x81}

	region := files(append(mtime, attrs...)...)
	h, err := Read(testutil.Assemble(nil, region, 0), readOpts())
	require.NoError(t, err)
	require.Len(t, h.Files, 1)
	assert.Equal(t, modTime, h.Files[0].MTime)
	assert.True(t, h.Files[0].HasAttributes)
	assert.Equal(t, uint32(0x81A48020), h.Files[0].Attributes)
	assert.True(t, h.Files[0].IsDir(), "empty stream without empty file is a directory")
}

func TestPackStream(t *testing.T) {
	t.Parallel()

	data := append(make([]byte, SignatureSize), "abcdefg"...)
	p := PackInfo{
		Sizes:  []uint64{3, 4},
		CRCs:   []uint32{0, crc32.ChecksumIEEE([]byte("defg"))},
		HasCRC: []bool{false, true},
	}
	b, err := p.Stream(data, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("defg"), b)

	p.CRCs[1] ^= 1
	_, err = p.Stream(data, 1)
	require.ErrorIs(t, err, sztype.ErrIntegrity)
	var ie *sztype.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, sztype.ScopePack, ie.Scope)
	assert.Equal(t, 1, ie.Index)

	p.Sizes[1] = 100
	_, err = p.Stream(data, 1)
	require.ErrorIs(t, err, sztype.ErrTruncated)

	_, err = p.Stream(data, 2)
	assert.ErrorIs(t, err, sztype.ErrCorrupt)
}

func TestParseSubstreamsInfo(t *testing.T) {
	t.Parallel()

	folders := []*folder.Folder{
		{UnpackSizes: []uint64{10}, HasCRC: true, CRC: 0xAAAAAAAA},
		{UnpackSizes: []uint64{6}},
		{UnpackSizes: []uint64{0}},
	}
	in := []byte{idNumUnpackStream, 0x01, 0x02, 0x00, idSize, 0x04, idCRC, 0x01}
	in = binary.LittleEndian.AppendUint32(in, 0x11111111)
	in = binary.LittleEndian.AppendUint32(in, 0x22222222)
	in = append(in, idEnd)

	c := cursor.New(in)
	s, err := parseSubstreamsInfo(c, folders)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Remaining())
	assert.Equal(t, []int{1, 2, 0}, s.Counts)
	assert.Equal(t, 3, s.Total())
	assert.Equal(t, []uint64{10, 4, 2}, s.Sizes)
	assert.Equal(t, []uint32{0xAAAAAAAA, 0x11111111, 0x22222222}, s.CRCs)
	assert.Equal(t, []bool{true, true, true}, s.HasCRC)
}

func TestParseSubstreamsInfoErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      []byte
		wantErr error
	}{
		{"sizes missing", []byte{idNumUnpackStream, 0x02, idEnd}, sztype.ErrCorrupt},
		{"sizes exceed folder", []byte{idNumUnpackStream, 0x02, idSize, 0x20, idEnd}, sztype.ErrCorrupt},
		{"truncated digests", []byte{idCRC, 0x01, 0x01}, sztype.ErrTruncated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			folders := []*folder.Folder{{UnpackSizes: []uint64{10}}}
			_, err := parseSubstreamsInfo(cursor.New(tc.in), folders)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}
