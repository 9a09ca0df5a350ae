// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedImage is returned when the image cannot be decoded into an entry tree.
	ErrMalformedImage = errors.New("malformed squashfs image")

	// ErrOffsetOutOfBounds is returned when an image offset lies outside the input.
	ErrOffsetOutOfBounds = errors.New("offset out of bounds")

	// ErrNotFound is returned when no entry exists at a path.
	ErrNotFound = errors.New("entry not found")

	// ErrNotAFile is returned when file content is requested for a non-regular entry.
	ErrNotAFile = errors.New("entry is not a regular file")

	// ErrDanglingSymlink is returned when a symlink target does not exist.
	ErrDanglingSymlink = errors.New("dangling symlink")

	// ErrSymlinkCycle is returned when symlink resolution revisits a link.
	ErrSymlinkCycle = errors.New("symlink cycle")

	// ErrResolutionDepthExceeded is returned when a symlink chain is longer than allowed.
	ErrResolutionDepthExceeded = errors.New("symlink resolution depth exceeded")

	// ErrTruncated is returned when file data ends before the recorded size.
	ErrTruncated = errors.New("file data truncated")

	// ErrDecode is returned when file data cannot be decoded.
	ErrDecode = errors.New("file data decode failed")

	// ErrDestinationUnwritable is returned when a destination cannot be written.
	ErrDestinationUnwritable = errors.New("destination unwritable")

	// ErrMaxFilesExceeded is returned when the configured file limit is exceeded.
	ErrMaxFilesExceeded = errors.New("maximum files exceeded")

	// ErrMaxExtractionSizeExceeded is returned when the configured size limit is exceeded.
	ErrMaxExtractionSizeExceeded = errors.New("maximum extraction size exceeded")

	// ErrMaxInputSizeExceeded is returned when the image is larger than allowed.
	ErrMaxInputSizeExceeded = errors.New("maximum input size exceeded")

	// ErrUnsupportedFile is returned for entries that cannot be extracted, such as
	// devices and fifos, or symlinks when symlink extraction is denied.
	ErrUnsupportedFile = errors.New("unsupported file")
)

func unsupportedFile(name string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedFile, name)
}

// SymlinkError records a failed symlink resolution.
type SymlinkError struct {
	Path   string // path of the symlink that was resolved
	Target string // its link target
	Err    error  // ErrDanglingSymlink, ErrSymlinkCycle or ErrResolutionDepthExceeded
}

func (e *SymlinkError) Error() string {
	return fmt.Sprintf("resolve %s -> %s: %v", e.Path, e.Target, e.Err)
}

func (e *SymlinkError) Unwrap() error {
	return e.Err
}

// WriteError records a failed write of an entry to a destination. Created
// is set once the destination file exists, Written counts the bytes that
// reached it before the failure.
type WriteError struct {
	Path    string
	Created bool
	Written int64
	Err     error
}

func (e *WriteError) Error() string {
	if e.Partial() {
		return fmt.Sprintf("write %s: %v (partial file, %d bytes written)", e.Path, e.Err, e.Written)
	}
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Partial reports whether a created destination file was left behind
// with incomplete content. The file may be empty.
func (e *WriteError) Partial() bool {
	return e.Created
}
