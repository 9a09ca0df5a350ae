// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build unix

package squishy

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

const canMaintainSymlinkTimestamps = true

// Chown gives name the numeric owner recorded in the image without
// following symlinks. Entries that already have that owner are left alone;
// otherwise only root may hand out ownership and other users skip it.
func (d *TargetDisk) Chown(name string, uid, gid int) error {
	var st unix.Stat_t
	if err := unix.Lstat(name, &st); err != nil {
		return &fs.PathError{Op: "chown", Path: name, Err: err}
	}
	if int(st.Uid) == uid && int(st.Gid) == gid {
		return nil
	}
	if unix.Geteuid() != 0 {
		return nil
	}
	if err := unix.Lchown(name, uid, gid); err != nil {
		return &fs.PathError{Op: "chown", Path: name, Err: err}
	}
	return nil
}

// lchtimes sets the times of the symlink name itself with nanosecond
// precision.
func lchtimes(name string, atime, mtime time.Time) error {
	ts := []unix.Timespec{timespec(atime), timespec(mtime)}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, name, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return &fs.PathError{Op: "lchtimes", Path: name, Err: err}
	}
	return nil
}

func timespec(t time.Time) unix.Timespec {
	return unix.NsecToTimespec(t.UnixNano())
}
