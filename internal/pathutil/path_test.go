package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "a.txt", want: "a.txt"},
		{in: `docs\sub\b.txt`, want: "docs/sub/b.txt"},
		{in: "dir/", want: "dir"},
		{in: "./rel", want: "rel"},
		{in: "/", want: "/"},
		{in: "../up", want: "../up"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestBaseAndParents(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".", Base(""))
	assert.Equal(t, ".", Base("."))
	assert.Equal(t, "c.txt", Base("a/b/c.txt"))

	assert.Equal(t, []string{"a/b", "a", "."}, Parents("a/b/c.txt"))
	assert.Equal(t, []string{"."}, Parents("top"))
	assert.Empty(t, Parents("."))
}
