// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"bytes"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// OpenEntry returns a reader over the content of the file entry e.
// Errors while reading match [ErrTruncated] or [ErrDecode].
func (f *FileSystem) OpenEntry(e Entry) (io.Reader, error) {
	if e.Kind != KindFile {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotAFile, e.Path, e.Kind)
	}
	if err := f.cfg.CheckExtractionSize(e.Size); err != nil {
		return nil, fmt.Errorf("%s (%d bytes): %w", e.Path, e.Size, err)
	}
	r, err := f.src.Open(e.Inode)
	if err != nil {
		return nil, sourceError(e.Path, err)
	}
	return &checkedReader{r: r, path: e.Path, size: e.Size}, nil
}

// maxReadGrow bounds the buffer Read allocates up front from the size an
// inode records.
const maxReadGrow = 4 << 20

// Read returns the content of the file entry e.
func (f *FileSystem) Read(e Entry) ([]byte, error) {
	r, err := f.OpenEntry(e)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(int(min(e.Size, maxReadGrow)))
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadPath returns the content of the file at path p. Symlinks are not
// followed.
func (f *FileSystem) ReadPath(p string) ([]byte, error) {
	e, err := f.Lookup(p)
	if err != nil {
		return nil, err
	}
	return f.Read(e)
}

// Digest returns the sha256 digest of the content of the file entry e.
func (f *FileSystem) Digest(e Entry) (digest.Digest, error) {
	r, err := f.OpenEntry(e)
	if err != nil {
		return "", err
	}
	return digest.Canonical.FromReader(r)
}

// Write writes the content of the file entry e to the file dst on disk.
func (f *FileSystem) Write(e Entry, dst string) error {
	return f.WriteTarget(NewTargetDisk(), e, dst)
}

// WritePath writes the content of the file at path p to the file dst on
// disk.
func (f *FileSystem) WritePath(p, dst string) error {
	e, err := f.Lookup(p)
	if err != nil {
		return &WriteError{Path: dst, Err: err}
	}
	return f.Write(e, dst)
}

// WriteTarget writes the content of the file entry e to dst in t. Missing
// parent directories are created with [Config.CustomCreateDirMode]. An
// existing dst is only replaced when [Config.Overwrite] is set. Unless file
// attributes are dropped, the mode and modification time of e are applied.
//
// Failures are returned as *[WriteError]. Failures of the destination match
// [ErrDestinationUnwritable]; failures reading e match [ErrTruncated] or
// [ErrDecode].
func (f *FileSystem) WriteTarget(t Target, e Entry, dst string) error {
	r, err := f.OpenEntry(e)
	if err != nil {
		return &WriteError{Path: dst, Err: err}
	}

	if dir := filepath.Dir(dst); dir != "." {
		if err := t.CreateDir(dir, f.cfg.CustomCreateDirMode()); err != nil {
			return &WriteError{Path: dst, Err: fmt.Errorf("%w: %w", ErrDestinationUnwritable, err)}
		}
	}

	mode := e.Mode.Perm()
	if f.cfg.DropFileAttributes() {
		mode = f.cfg.CustomDecompressFileMode()
	}
	src := &startedReader{r: r}
	n, err := t.CreateFile(dst, src, mode, f.cfg.Overwrite(), f.cfg.MaxExtractionSize())
	if err != nil {
		if !errors.Is(err, ErrTruncated) && !errors.Is(err, ErrDecode) {
			err = fmt.Errorf("%w: %w", ErrDestinationUnwritable, err)
		}
		return &WriteError{Path: dst, Created: src.started, Written: n, Err: err}
	}

	if !f.cfg.DropFileAttributes() {
		if err := t.Chtimes(dst, e.ModTime, e.ModTime); err != nil {
			return &WriteError{Path: dst, Created: true, Written: n, Err: fmt.Errorf("%w: %w", ErrDestinationUnwritable, err)}
		}
	}
	f.cfg.Logger().Debug("wrote file", entryAttrs(&e), "dst", dst, "bytes", n)
	return nil
}

func sourceError(p Path, err error) error {
	switch {
	case errors.Is(err, ErrTruncated), errors.Is(err, ErrDecode):
		return err
	case errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s: %w", ErrTruncated, p, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrDecode, p, err)
	}
}

// checkedReader maps source read failures onto ErrTruncated and ErrDecode
// and verifies that exactly size bytes are produced.
type checkedReader struct {
	r    io.Reader
	path Path
	size int64
	n    int64
}

func (c *checkedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.n > c.size {
		return n, fmt.Errorf("%w: %s: content exceeds recorded size of %d bytes", ErrDecode, c.path, c.size)
	}
	switch {
	case err == nil:
		return n, nil
	case err == io.EOF:
		if c.n < c.size {
			return n, fmt.Errorf("%w: %s: read %d of %d bytes", ErrTruncated, c.path, c.n, c.size)
		}
		return n, io.EOF
	default:
		return n, sourceError(c.path, err)
	}
}
