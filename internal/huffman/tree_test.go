package huffman

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/sevenz/internal/cursor"
	"github.com/meigma/sevenz/internal/sztype"
)

func TestFromLengthsCanonical(t *testing.T) {
	t.Parallel()

	// Codes: 1 -> 0, 0 -> 10, 2 -> 110, 3 -> 111.
	tree, err := FromLengths([]int{2, 1, 3, 3})
	require.NoError(t, err)

	r := cursor.NewBits([]byte{0b0101_1011, 0b1000_0000}, cursor.MSBFirst)
	got := []int{}
	for {
		sym := tree.Find(r)
		if sym == NotFound {
			break
		}
		got = append(got, sym)
	}
	assert.Equal(t, []int{1, 0, 2, 3, 1, 1, 1, 1, 1, 1, 1}, got)
}

func TestNewExplicitCodes(t *testing.T) {
	t.Parallel()

	tree, err := New([]Code{
		{Code: 0b1, Bits: 1, Symbol: 'a'},
		{Code: 0b01, Bits: 2, Symbol: 'b'},
		{Code: 0b00, Bits: 2, Symbol: 'c'},
	})
	require.NoError(t, err)

	r := cursor.NewBits([]byte{0b1010_0100}, cursor.MSBFirst)
	assert.Equal(t, 'a', rune(tree.Find(r)))
	assert.Equal(t, 'b', rune(tree.Find(r)))
	assert.Equal(t, 'c', rune(tree.Find(r)))
	assert.Equal(t, 'a', rune(tree.Find(r)))
	assert.Equal(t, 'c', rune(tree.Find(r)))
	assert.Equal(t, NotFound, tree.Find(r))
}

func TestFindIncompleteTree(t *testing.T) {
	t.Parallel()

	tree, err := FromLengths([]int{1})
	require.NoError(t, err)

	assert.Equal(t, 0, tree.Find(cursor.NewBits([]byte{0x00}, cursor.MSBFirst)))
	assert.Equal(t, NotFound, tree.Find(cursor.NewBits([]byte{0xff}, cursor.MSBFirst)))
	assert.Equal(t, NotFound, tree.Find(cursor.NewBits(nil, cursor.MSBFirst)))
}

func TestInvalidTrees(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"over-subscribed", func() error { _, err := FromLengths([]int{1, 1, 1}); return err }},
		{"negative length", func() error { _, err := FromLengths([]int{-1}); return err }},
		{"too long", func() error { _, err := FromLengths([]int{MaxBits + 1}); return err }},
		{"duplicate", func() error {
			_, err := New([]Code{{Code: 1, Bits: 1, Symbol: 0}, {Code: 1, Bits: 1, Symbol: 1}})
			return err
		}},
		{"prefix", func() error {
			_, err := New([]Code{{Code: 1, Bits: 1, Symbol: 0}, {Code: 0b10, Bits: 2, Symbol: 1}})
			return err
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, tc.fn(), sztype.ErrCorrupt)
		})
	}
}
