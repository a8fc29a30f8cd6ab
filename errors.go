package sevenz

import (
	"fmt"
	"strings"

	"github.com/meigma/sevenz/internal/sztype"
)

// Errors re-exported from sztype.
var (
	// ErrTruncated is returned when the input ends before a field is complete.
	ErrTruncated = sztype.ErrTruncated

	// ErrCorrupt is returned when a field is present but self-inconsistent.
	ErrCorrupt = sztype.ErrCorrupt

	// ErrIntegrity is returned when a checksum or declared size does not match.
	ErrIntegrity = sztype.ErrIntegrity

	// ErrUnsupported is returned for valid archives using unimplemented features.
	ErrUnsupported = sztype.ErrUnsupported

	// ErrSizeOverflow is returned when a declared size exceeds configured limits.
	ErrSizeOverflow = sztype.ErrSizeOverflow
)

// IntegrityError reports a failed checksum or size check. It matches
// ErrIntegrity with errors.Is.
type IntegrityError = sztype.IntegrityError

// UnsupportedError names an archive feature this package does not decode.
// It matches ErrUnsupported with errors.Is.
type UnsupportedError = sztype.UnsupportedError

// Scope identifies the structure an integrity check covers.
type Scope = sztype.Scope

// Integrity check scopes.
const (
	ScopePrologue = sztype.ScopePrologue
	ScopeHeader   = sztype.ScopeHeader
	ScopePack     = sztype.ScopePack
	ScopeFolder   = sztype.ScopeFolder
	ScopeFile     = sztype.ScopeFile
	ScopeCoder    = sztype.ScopeCoder
)

// CheckKind distinguishes checksum mismatches from size mismatches.
type CheckKind = sztype.CheckKind

// Integrity check kinds.
const (
	CheckCRC  = sztype.CheckCRC
	CheckSize = sztype.CheckSize
)

// FileError is the failure of a single archive item during extraction.
type FileError struct {
	Name string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// ExtractError lists the items Extract could not write. Items not listed
// were written or skipped normally.
type ExtractError struct {
	Failed []*FileError
}

func (e *ExtractError) Error() string {
	if len(e.Failed) == 1 {
		return "sevenz: extract: " + e.Failed[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "sevenz: extract: %d items failed", len(e.Failed))
	for _, f := range e.Failed {
		b.WriteString("; ")
		b.WriteString(f.Error())
	}
	return b.String()
}

// Unwrap returns the per-item errors so errors.Is and errors.As see them.
func (e *ExtractError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}
