// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

// TargetDisk recreates image entries in the local filesystem.
type TargetDisk struct{}

// NewTargetDisk returns a target for the local filesystem.
func NewTargetDisk() *TargetDisk {
	return &TargetDisk{}
}

// replaceable makes room for a new file or symlink at name. Nothing is
// removed unless overwrite is set, and directories are never replaced.
func replaceable(name string, overwrite bool) error {
	fi, err := os.Lstat(name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return err
	case !overwrite:
		return &fs.PathError{Op: "create", Path: name, Err: fs.ErrExist}
	case fi.IsDir():
		return &fs.PathError{Op: "replace", Path: name, Err: fs.ErrExist}
	}
	// a symlink is removed, not followed
	return os.Remove(name)
}

// CreateDir creates path and any missing parents. Existing directories keep
// their mode.
func (d *TargetDisk) CreateDir(path string, mode fs.FileMode) error {
	if err := os.MkdirAll(path, mode.Perm()); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return nil
}

// CreateFile writes the content of src to a new file at path.
//
// An existing entry is replaced only when overwrite is set; it is removed
// first, so a symlink at path is never written through. Writing stops after
// maxSize bytes unless maxSize is negative. The file stays in place after a
// failure and the returned count says how much of src reached it.
func (d *TargetDisk) CreateFile(path string, src io.Reader, mode fs.FileMode, overwrite bool, maxSize int64) (n int64, err error) {
	if err := replaceable(path, overwrite); err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode.Perm())
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close file: %w", cerr)
		}
	}()

	n, err = io.Copy(limitWriter(f, maxSize), src)
	if err != nil {
		return n, fmt.Errorf("write file: %w", err)
	}
	return n, nil
}

// CreateSymlink creates newname pointing at oldname. An existing newname is
// replaced only when overwrite is set.
func (d *TargetDisk) CreateSymlink(oldname string, newname string, overwrite bool) error {
	if err := replaceable(newname, overwrite); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	if err := os.Symlink(oldname, newname); err != nil {
		return fmt.Errorf("create symlink: %w", err)
	}
	return nil
}

// Lstat is [os.Lstat].
func (d *TargetDisk) Lstat(name string) (fs.FileInfo, error) {
	return os.Lstat(name)
}

// Stat is [os.Stat].
func (d *TargetDisk) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// Chmod applies the permission bits of mode to name.
func (d *TargetDisk) Chmod(name string, mode fs.FileMode) error {
	return os.Chmod(name, mode.Perm())
}

// Chtimes is [os.Chtimes].
func (d *TargetDisk) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(name, atime, mtime)
}

// Lchtimes sets the times of the symlink name itself. Where the platform
// offers no way to do that, symlinks keep their creation time.
func (d *TargetDisk) Lchtimes(name string, atime, mtime time.Time) error {
	if !canMaintainSymlinkTimestamps {
		return nil
	}
	return lchtimes(name, atime, mtime)
}
