// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy_test

import (
	"testing"

	"github.com/hashicorp/go-squishy"
	"github.com/hashicorp/go-squishy/internal/squashfstest"
	"github.com/stretchr/testify/require"
)

// appTree is a small application layout with a symlinked library.
func appTree(opts ...squashfstest.Option) *squashfstest.Builder {
	return squashfstest.New(opts...).
		Dir("usr/bin", 0o755).
		File("usr/bin/app", []byte("#!/bin/sh\necho app\n"), 0o755).
		File("usr/lib/libapp.so.1", []byte("ELF-ish library"), 0o644).
		Symlink("usr/lib/libapp.so", "libapp.so.1").
		Dir("etc", 0o750).
		File("etc/app.conf", []byte("debug=false\n"), 0o600)
}

// specialTree adds a hard link and a device to appTree. It can only be
// written with RawBytes.
func specialTree(opts ...squashfstest.Option) *squashfstest.Builder {
	return appTree(opts...).
		Link("usr/bin/app-alias", "usr/bin/app").
		Device("dev/null", true, 0x0103)
}

func openImage(t *testing.T, data []byte, opts ...squishy.ConfigOption) *squishy.FileSystem {
	t.Helper()
	fsys, err := squishy.OpenBytes(data, 0, squishy.NewConfig(opts...))
	require.NoError(t, err)
	return fsys
}

func openTree(t *testing.T, b *squashfstest.Builder, opts ...squishy.ConfigOption) *squishy.FileSystem {
	t.Helper()
	return openImage(t, b.MustBytes(t), opts...)
}

func openRawTree(t *testing.T, b *squashfstest.Builder, opts ...squishy.ConfigOption) *squishy.FileSystem {
	t.Helper()
	return openImage(t, b.MustRawBytes(t), opts...)
}

func paths(entries []squishy.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path.String())
	}
	return out
}

func lookup(t *testing.T, fsys *squishy.FileSystem, p string) squishy.Entry {
	t.Helper()
	e, err := fsys.Lookup(p)
	require.NoError(t, err)
	return e
}
