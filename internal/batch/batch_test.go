package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func folderData(idx int) []byte {
	return fmt.Appendf(nil, "folder-%d", idx)
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestProcessorRunOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		workers int
	}{
		{name: "serial", workers: -1},
		{name: "single worker", workers: 1},
		{name: "pipelined", workers: 4},
		{name: "more workers than folders", workers: 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			indices := sequence(12)
			decode := func(idx int) ([]byte, error) {
				// Later folders finish first to force reassembly.
				time.Sleep(time.Duration(len(indices)-idx) * time.Millisecond)
				return folderData(idx), nil
			}
			p := NewProcessor(decode, func(int) uint64 { return 1 << 20 }, WithWorkers(tt.workers))

			var got []int
			err := p.Run(context.Background(), indices, func(idx int, data []byte) error {
				assert.Equal(t, folderData(idx), data)
				got = append(got, idx)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, indices, got)
		})
	}
}

func TestProcessorRunSubset(t *testing.T) {
	t.Parallel()

	p := NewProcessor(func(idx int) ([]byte, error) { return folderData(idx), nil },
		func(int) uint64 { return 1 << 20 }, WithWorkers(3))

	var got []int
	err := p.Run(context.Background(), []int{5, 2, 9}, func(idx int, _ []byte) error {
		got = append(got, idx)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{5, 2, 9}, got)
}

func TestProcessorRunEmpty(t *testing.T) {
	t.Parallel()

	p := NewProcessor(func(int) ([]byte, error) {
		t.Fatal("decode called")
		return nil, nil
	}, func(int) uint64 { return 0 })
	require.NoError(t, p.Run(context.Background(), nil, func(int, []byte) error {
		t.Fatal("handle called")
		return nil
	}))
}

func TestProcessorDecodeError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	for _, workers := range []int{-1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()

			p := NewProcessor(func(idx int) ([]byte, error) {
				if idx == 2 {
					return nil, errBoom
				}
				return folderData(idx), nil
			}, func(int) uint64 { return 1 << 20 }, WithWorkers(workers))

			var mu sync.Mutex
			var handled []int
			err := p.Run(context.Background(), sequence(8), func(idx int, _ []byte) error {
				mu.Lock()
				defer mu.Unlock()
				handled = append(handled, idx)
				return nil
			})
			require.ErrorIs(t, err, errBoom)
			for _, idx := range handled {
				assert.Less(t, idx, 2, "folders after the failure must not be handled")
			}
		})
	}
}

func TestProcessorHandleError(t *testing.T) {
	t.Parallel()

	errStop := errors.New("stop")
	for _, workers := range []int{-1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()

			p := NewProcessor(func(idx int) ([]byte, error) { return folderData(idx), nil },
				func(int) uint64 { return 1 << 20 }, WithWorkers(workers))

			calls := 0
			err := p.Run(context.Background(), sequence(8), func(idx int, _ []byte) error {
				calls++
				if idx == 1 {
					return errStop
				}
				return nil
			})
			require.ErrorIs(t, err, errStop)
			assert.Equal(t, 2, calls)
		})
	}
}

func TestProcessorCanceled(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{-1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			p := NewProcessor(func(idx int) ([]byte, error) { return folderData(idx), nil },
				func(int) uint64 { return 1 << 20 }, WithWorkers(workers))
			err := p.Run(ctx, sequence(4), func(int, []byte) error {
				t.Error("handle called after cancel")
				return nil
			})
			require.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestProcessorMemoryBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		budget  uint64
		size    uint64
		maxLive int32
	}{
		{name: "folders larger than budget run alone", budget: 10, size: 100, maxLive: 1},
		{name: "two folders fit", budget: 200, size: 100, maxLive: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// live counts folders decoded but not yet handled.
			var live, peak atomic.Int32
			decode := func(idx int) ([]byte, error) {
				n := live.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				return folderData(idx), nil
			}
			p := NewProcessor(decode, func(int) uint64 { return tt.size },
				WithWorkers(4), WithMemoryBudget(tt.budget))

			var got []int
			err := p.Run(context.Background(), sequence(6), func(idx int, _ []byte) error {
				live.Add(-1)
				got = append(got, idx)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, sequence(6), got)
			assert.LessOrEqual(t, peak.Load(), tt.maxLive)
		})
	}
}

func TestWorkerCount(t *testing.T) {
	t.Parallel()

	small := func(int) uint64 { return 16 }
	large := func(int) uint64 { return 1 << 20 }

	tests := []struct {
		name    string
		workers int
		sizeOf  func(int) uint64
		folders int
		want    int
	}{
		{name: "single folder", workers: 8, sizeOf: large, folders: 1, want: 1},
		{name: "serial forced", workers: -1, sizeOf: large, folders: 8, want: 1},
		{name: "fixed count", workers: 3, sizeOf: small, folders: 8, want: 3},
		{name: "capped at folders", workers: 16, sizeOf: large, folders: 5, want: 5},
		{name: "auto with small folders", workers: 0, sizeOf: small, folders: 8, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewProcessor(nil, tt.sizeOf, WithWorkers(tt.workers))
			assert.Equal(t, tt.want, p.workerCount(sequence(tt.folders)))
		})
	}
}

func TestWeight(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1), weight(0, 100))
	assert.Equal(t, int64(42), weight(42, 100))
	assert.Equal(t, int64(100), weight(100, 100))
	assert.Equal(t, int64(100), weight(1<<40, 100))
}

func TestFileSinkPut(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	sink := NewFileSink(mem, "/out")

	ok, err := Put(sink, &Item{Path: "docs/a.txt"}, []byte("alpha"))
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := afero.ReadFile(mem, "/out/docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("alpha"), got)

	entries, err := afero.ReadDir(mem, "/out/docs")
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be renamed away")
	assert.Equal(t, "a.txt", entries[0].Name())
}

func TestFileSinkOverwrite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		overwrite bool
		wantOK    bool
		want      string
	}{
		{name: "existing file skipped", overwrite: false, wantOK: false, want: "old"},
		{name: "existing file replaced", overwrite: true, wantOK: true, want: "new"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mem := afero.NewMemMapFs()
			require.NoError(t, afero.WriteFile(mem, "/out/a.txt", []byte("old"), 0o644))

			sink := NewFileSink(mem, "/out", WithOverwrite(tt.overwrite))
			ok, err := Put(sink, &Item{Path: "a.txt"}, []byte("new"))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)

			got, err := afero.ReadFile(mem, "/out/a.txt")
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestFileSinkInvalidPath(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	sink := NewFileSink(mem, "/out", WithOverwrite(true))

	for _, p := range []string{"../escape.txt", "/abs.txt", "a/../../b", ""} {
		item := &Item{Path: p}
		assert.False(t, sink.ShouldProcess(item), p)

		_, err := sink.Writer(item)
		require.ErrorIs(t, err, fs.ErrInvalid, p)
		require.ErrorIs(t, sink.Mkdir(item), fs.ErrInvalid, p)
	}

	exists, err := afero.Exists(mem, "/escape.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileSinkMkdirAndMetadata(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	sink := NewFileSink(mem, "/out", WithPreserveMode(true), WithPreserveTimes(true))
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, sink.Mkdir(&Item{Path: "a/b", Mode: fs.ModeDir | 0o755, ModTime: mtime}))
	info, err := mem.Stat("/out/a/b")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, info.ModTime().Equal(mtime))

	ok, err := Put(sink, &Item{Path: "a/b/c.txt", Mode: 0o640, ModTime: mtime}, []byte("charlie"))
	require.NoError(t, err)
	require.True(t, ok)

	info, err = mem.Stat("/out/a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), info.Mode().Perm())
	assert.True(t, info.ModTime().Equal(mtime))
	assert.Equal(t, int64(7), info.Size())
}

func TestFileSinkDirectWrites(t *testing.T) {
	t.Parallel()

	mem := afero.NewMemMapFs()
	sink := NewFileSink(mem, "", WithDirectWrites(true))

	w, err := sink.Writer(&Item{Path: "x/direct.bin"})
	require.NoError(t, err)
	_, err = w.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	got, err := afero.ReadFile(mem, "x/direct.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestFileSinkDiscard(t *testing.T) {
	t.Parallel()

	for _, direct := range []bool{false, true} {
		t.Run(fmt.Sprintf("direct=%v", direct), func(t *testing.T) {
			t.Parallel()

			mem := afero.NewMemMapFs()
			sink := NewFileSink(mem, "/out", WithDirectWrites(direct))

			w, err := sink.Writer(&Item{Path: "d/partial.txt"})
			require.NoError(t, err)
			_, err = w.Write([]byte("half"))
			require.NoError(t, err)
			require.NoError(t, w.Discard())

			entries, err := afero.ReadDir(mem, "/out/d")
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}
