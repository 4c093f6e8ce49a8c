package model

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrNotFound            = errors.New("not found")
	ErrVersionMismatch     = errors.New("version mismatch")
	ErrFileTooLarge        = errors.New("file too large")
	ErrOpRangeNotAvailable = errors.New("doc ops range is not loaded")
	ErrNoLines             = errors.New("no lines were provided")
)

// VersionMismatchError reports an update submitted against a version other
// than the one currently cached.
type VersionMismatchError struct {
	DocID    string
	Expected int
	Current  int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch for doc %s: update at v%d, doc at v%d", e.DocID, e.Expected, e.Current)
}

func (e *VersionMismatchError) Is(target error) bool { return target == ErrVersionMismatch }

// FileTooLargeError reports content that would exceed the configured maximum.
type FileTooLargeError struct {
	DocID string
	Size  int
	Max   int
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("doc %s is too large: %d > %d", e.DocID, e.Size, e.Max)
}

func (e *FileTooLargeError) Is(target error) bool { return target == ErrFileTooLarge }

// NotFoundf returns an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
