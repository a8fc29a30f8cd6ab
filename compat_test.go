package sevenz

import (
	"bytes"
	"io"
	"testing"

	"github.com/javi11/sevenzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sevenz/internal/testutil"
)

// TestCompatSevenzip decodes the same archives with github.com/javi11/sevenzip
// and compares the regular file contents.
func TestCompatSevenzip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		coder testutil.Coder
	}{
		{"copy", testutil.Copy},
		{"lzma2", testutil.LZMA2},
		{"deflate", testutil.Deflate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			data := testutil.Build(t, testutil.Archive{
				Folders: []testutil.Folder{{Coder: tt.coder}},
				Entries: []testutil.Entry{
					{Name: "one.txt", Data: []byte("first file")},
					{Name: "sub/two.txt", Data: bytes.Repeat([]byte("second "), 300)},
					{Name: "empty.txt"},
				},
			})

			arc, err := Open(data)
			require.NoError(t, err)
			recs, err := arc.Records()
			require.NoError(t, err)
			ours := make(map[string]string, len(recs))
			for _, r := range recs {
				ours[r.File.Name] = string(r.Data)
			}

			zr, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
			require.NoError(t, err)
			theirs := make(map[string]string, len(zr.File))
			for _, f := range zr.File {
				if f.FileInfo().IsDir() {
					continue
				}
				rc, err := f.Open()
				require.NoError(t, err)
				content, err := io.ReadAll(rc)
				require.NoError(t, rc.Close())
				require.NoError(t, err)
				theirs[f.Name] = string(content)
			}

			assert.Equal(t, theirs, ours)
		})
	}
}
