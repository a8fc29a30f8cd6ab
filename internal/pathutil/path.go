// Package pathutil maps 7z item names onto slash-separated fs paths.
package pathutil

import (
	"path"
	"strings"
)

// Normalize converts a stored item name to a slash-separated path.
// 7-Zip writes Windows separators on some hosts; trailing separators are
// dropped. The result is not validated; callers check fs.ValidPath.
func Normalize(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	for len(name) > 1 && strings.HasSuffix(name, "/") {
		name = name[:len(name)-1]
	}
	return strings.TrimPrefix(name, "./")
}

// Base returns the last element of p, or "." for the root.
func Base(p string) string {
	if p == "" || p == "." {
		return "."
	}
	return path.Base(p)
}

// Parents returns the proper ancestors of a valid path p, nearest first,
// ending with ".".
func Parents(p string) []string {
	var out []string
	for p != "." {
		p = path.Dir(p)
		out = append(out, p)
	}
	return out
}
