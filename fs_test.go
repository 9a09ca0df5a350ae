// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy_test

import (
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/hashicorp/go-squishy"
	"github.com/hashicorp/go-squishy/internal/squashfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSWithFsTest(t *testing.T) {
	fsys := openTree(t, squashfstest.New().
		File("README.md", []byte("# readme\n"), 0o644).
		File("usr/bin/app", []byte("app"), 0o755).
		File("usr/share/app/data.bin", make([]byte, 10000), 0o644).
		Dir("usr/share/empty", 0o755).
		File("z/last", nil, 0o600))

	if err := fstest.TestFS(fsys, "README.md", "usr/bin/app", "usr/share/app/data.bin", "usr/share/empty", "z/last"); err != nil {
		t.Fatal(err)
	}
}

func TestFSSymlinks(t *testing.T) {
	fsys := openRawTree(t, linkTree())

	data, err := fs.ReadFile(fsys, "through")
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	stat, err := fs.Stat(fsys, "dirlink")
	require.NoError(t, err)
	assert.True(t, stat.IsDir())
	assert.Equal(t, "data", stat.Name())

	entries, err := fs.ReadDir(fsys, "dirlink")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"dot", "file.txt", "rel"}, names)
	assert.Equal(t, fs.ModeSymlink, entries[0].Type())

	_, err = fsys.Open("dangling")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorIs(t, err, squishy.ErrDanglingSymlink)

	_, err = fsys.Open("loop/a")
	assert.ErrorIs(t, err, squishy.ErrSymlinkCycle)

	_, err = fsys.Open("/data")
	assert.ErrorIs(t, err, fs.ErrInvalid)
}

func TestFSOpen(t *testing.T) {
	fsys := openRawTree(t, specialTree())

	root, err := fsys.Stat(".")
	require.NoError(t, err)
	assert.Equal(t, ".", root.Name())
	assert.True(t, root.IsDir())

	f, err := fsys.Open("usr/bin/app")
	require.NoError(t, err)
	defer f.Close()
	stat, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(19), stat.Size())
	e, ok := stat.Sys().(squishy.Entry)
	require.True(t, ok)
	assert.Equal(t, "/usr/bin/app", e.Path.String())

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho app\n", string(data))

	_, err = fsys.ReadFile("usr/bin")
	assert.Error(t, err)

	data, err = fsys.ReadFile("dev/null")
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = fsys.ReadDir("etc/app.conf")
	assert.Error(t, err)

	sub, err := fs.Sub(fsys, "usr")
	require.NoError(t, err)
	matches, err := fs.Glob(sub, "*/lib*")
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/libapp.so", "lib/libapp.so.1"}, matches)
}
