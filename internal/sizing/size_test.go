package sizing

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errOverflow = errors.New("overflow")

func TestToInt(t *testing.T) {
	t.Parallel()

	n, err := ToInt(42, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = ToInt(math.MaxUint64, errOverflow)
	assert.ErrorIs(t, err, errOverflow)

	_, err = ToInt64(math.MaxUint64, errOverflow)
	assert.ErrorIs(t, err, errOverflow)
}

func TestSum(t *testing.T) {
	t.Parallel()

	total, ok := Sum([]uint64{1, 2, 3})
	assert.True(t, ok)
	assert.Equal(t, uint64(6), total)

	_, ok = Sum([]uint64{math.MaxUint64, 1})
	assert.False(t, ok)
}

func TestSpan(t *testing.T) {
	t.Parallel()

	buf := []byte("abcdef")
	got, ok := Span(buf, 2, 3)
	require.True(t, ok)
	assert.Equal(t, []byte("cde"), got)

	_, ok = Span(buf, 4, 3)
	assert.False(t, ok)
	_, ok = Span(buf, math.MaxUint64, 2)
	assert.False(t, ok)

	got, ok = Span(buf, 6, 0)
	require.True(t, ok)
	assert.Empty(t, got)
}

func TestReadAllWithLimit(t *testing.T) {
	t.Parallel()

	data, err := ReadAllWithLimit(bytes.NewReader([]byte("1234")), 4, errOverflow)
	require.NoError(t, err)
	assert.Equal(t, []byte("1234"), data)

	_, err = ReadAllWithLimit(bytes.NewReader([]byte("12345")), 4, errOverflow)
	assert.ErrorIs(t, err, errOverflow)
}
