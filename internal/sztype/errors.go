// Package sztype holds the error taxonomy shared by the sevenz packages.
package sztype

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive decoding.
var (
	// ErrTruncated is returned when the input ends before a field is complete.
	ErrTruncated = errors.New("sevenz: truncated input")

	// ErrCorrupt is returned when a field is present but self-inconsistent.
	ErrCorrupt = errors.New("sevenz: corrupt data")

	// ErrIntegrity is returned when a checksum or declared size does not match.
	ErrIntegrity = errors.New("sevenz: integrity check failed")

	// ErrUnsupported is returned for valid archives using unimplemented features.
	ErrUnsupported = errors.New("sevenz: unsupported feature")

	// ErrSizeOverflow is returned when a declared size exceeds supported limits.
	ErrSizeOverflow = errors.New("sevenz: size overflow")
)

// Scope identifies the structure an integrity check covers.
type Scope uint8

const (
	ScopePrologue Scope = iota
	ScopeHeader
	ScopePack
	ScopeFolder
	ScopeFile
	// ScopeCoder covers checks a coder makes over its own stream, such as
	// bzip2 block CRCs. The enclosing folder is named by error wrapping.
	ScopeCoder
)

// String returns the scope name.
func (s Scope) String() string {
	switch s {
	case ScopePrologue:
		return "signature header"
	case ScopeHeader:
		return "header"
	case ScopePack:
		return "pack stream"
	case ScopeFolder:
		return "folder"
	case ScopeFile:
		return "file"
	case ScopeCoder:
		return "coder stream"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// CheckKind distinguishes checksum mismatches from size mismatches.
type CheckKind uint8

const (
	CheckCRC CheckKind = iota
	CheckSize
)

// IntegrityError reports a failed checksum or size check.
type IntegrityError struct {
	Scope Scope
	Index int
	// Name is set for file scope errors.
	Name string
	Kind CheckKind
	Want uint64
	Got  uint64
}

func (e *IntegrityError) Error() string {
	what := e.Scope.String()
	if e.Name != "" {
		what += " " + e.Name
	} else if e.Scope != ScopePrologue && e.Scope != ScopeHeader && e.Scope != ScopeCoder {
		what = fmt.Sprintf("%s %d", what, e.Index)
	}
	if e.Kind == CheckSize {
		return fmt.Sprintf("sevenz: %s: size mismatch (want %d, got %d)", what, e.Want, e.Got)
	}
	return fmt.Sprintf("sevenz: %s: crc mismatch (want %08x, got %08x)", what, e.Want, e.Got)
}

// Is reports whether target is ErrIntegrity.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// CRCMismatch returns an IntegrityError for a checksum failure.
func CRCMismatch(scope Scope, index int, want, got uint32) *IntegrityError {
	return &IntegrityError{Scope: scope, Index: index, Kind: CheckCRC, Want: uint64(want), Got: uint64(got)}
}

// SizeMismatch returns an IntegrityError for a length failure.
func SizeMismatch(scope Scope, index int, want, got uint64) *IntegrityError {
	return &IntegrityError{Scope: scope, Index: index, Kind: CheckSize, Want: want, Got: got}
}

// UnsupportedError names an archive feature this package does not decode.
type UnsupportedError struct {
	Feature string
}

func (e *UnsupportedError) Error() string {
	return "sevenz: unsupported " + e.Feature
}

// Is reports whether target is ErrUnsupported.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

// Unsupported returns an UnsupportedError for feature.
func Unsupported(format string, args ...any) *UnsupportedError {
	return &UnsupportedError{Feature: fmt.Sprintf(format, args...)}
}

// Corrupt wraps ErrCorrupt with a description.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}
