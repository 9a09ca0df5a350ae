// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build unix

package squashfstest

import (
	"time"

	"golang.org/x/sys/unix"
)

// lchtimes sets the times of the symlink p itself.
func lchtimes(p string, t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	return unix.Lutimes(p, []unix.Timeval{tv, tv})
}
