// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

//go:build !unix

package squashfstest

import "time"

func lchtimes(string, time.Time) error {
	return nil
}
