// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package squishy

import (
	"fmt"
	"runtime"
	"time"
)

func lchtimes(_ string, _, _ time.Time) error {
	return fmt.Errorf("Lchtimes is not supported on this platform (%s)", runtime.GOOS)
}

// canMaintainSymlinkTimestamps reports whether symlink timestamps can be set
// on this platform.
const canMaintainSymlinkTimestamps = false

// Chown changes the numeric uid and gid of the named file.
func (d *TargetDisk) Chown(name string, uid, gid int) error {
	return fmt.Errorf("Chown is not supported on this platform (%s)", runtime.GOOS)
}
