// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy_test

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/golang/mock/gomock"
	"github.com/hashicorp/go-squishy"
	"github.com/hashicorp/go-squishy/internal/squashfstest"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRead(t *testing.T) {
	fsys := openRawTree(t, specialTree())

	data, err := fsys.Read(lookup(t, fsys, "usr/bin/app"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho app\n", string(data))

	data, err = fsys.ReadPath("/etc/app.conf")
	require.NoError(t, err)
	assert.Equal(t, "debug=false\n", string(data))

	for _, p := range []string{"usr", "usr/lib/libapp.so", "dev/null"} {
		_, err := fsys.ReadPath(p)
		assert.ErrorIs(t, err, squishy.ErrNotAFile, p)
	}

	_, err = fsys.ReadPath("usr/bin/missing")
	assert.ErrorIs(t, err, squishy.ErrNotFound)
}

func TestReadLarge(t *testing.T) {
	content := bytes.Repeat([]byte("0123456789abcdef"), 64<<10)
	fsys := openTree(t, squashfstest.New(squashfstest.WithBlockSize(64<<10)).File("big.bin", content, 0o644))

	data, err := fsys.ReadPath("big.bin")
	require.NoError(t, err)
	assert.Equal(t, content, data)

	d, err := fsys.Digest(lookup(t, fsys, "big.bin"))
	require.NoError(t, err)
	assert.Equal(t, digest.FromBytes(content), d)

	limited := openTree(t, squashfstest.New().File("big.bin", content, 0o644), squishy.WithMaxExtractionSize(1024))
	_, err = limited.ReadPath("big.bin")
	assert.ErrorIs(t, err, squishy.ErrMaxExtractionSizeExceeded)
}

func TestWriteRoundTrip(t *testing.T) {
	fsys := openTree(t, appTree())
	dir := t.TempDir()

	for _, p := range []string{"usr/bin/app", "usr/lib/libapp.so.1", "etc/app.conf"} {
		t.Run(p, func(t *testing.T) {
			e := lookup(t, fsys, p)
			want, err := fsys.Read(e)
			require.NoError(t, err)

			dst := filepath.Join(dir, "out", filepath.FromSlash(p))
			require.NoError(t, fsys.Write(e, dst))

			got, err := os.ReadFile(dst)
			require.NoError(t, err)
			assert.Equal(t, want, got)

			stat, err := os.Stat(dst)
			require.NoError(t, err)
			assert.True(t, stat.ModTime().Equal(squashfstest.DefaultModTime))
		})
	}

	stat, err := os.Stat(filepath.Join(dir, "out", "etc", "app.conf"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), stat.Mode().Perm())
}

func TestWriteOverwrite(t *testing.T) {
	fsys := openTree(t, appTree())
	dst := filepath.Join(t.TempDir(), "app.conf")
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0o644))

	err := fsys.WritePath("etc/app.conf", dst)
	require.Error(t, err)
	assert.ErrorIs(t, err, squishy.ErrDestinationUnwritable)
	assert.ErrorIs(t, err, fs.ErrExist)

	var werr *squishy.WriteError
	require.True(t, errors.As(err, &werr))
	assert.False(t, werr.Partial())
	assert.Equal(t, dst, werr.Path)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))

	overwriting := openTree(t, appTree(), squishy.WithOverwrite(true))
	require.NoError(t, overwriting.WritePath("etc/app.conf", dst))
	data, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "debug=false\n", string(data))
}

func TestWriteDropFileAttributes(t *testing.T) {
	fsys := openTree(t, appTree(), squishy.WithDropFileAttributes(true), squishy.WithCustomDecompressFileMode(0o640))
	dst := filepath.Join(t.TempDir(), "app")

	require.NoError(t, fsys.WritePath("usr/bin/app", dst))
	stat, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o640), stat.Mode().Perm())
	assert.False(t, stat.ModTime().Equal(squashfstest.DefaultModTime))
}

func TestWriteErrors(t *testing.T) {
	fsys := openTree(t, appTree())
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := fsys.WritePath("usr/bin/missing", filepath.Join(dir, "x"))
	assert.ErrorIs(t, err, squishy.ErrNotFound)

	err = fsys.WritePath("usr/bin", filepath.Join(dir, "x"))
	assert.ErrorIs(t, err, squishy.ErrNotAFile)

	err = fsys.WritePath("usr/bin/app", filepath.Join(blocker, "app"))
	assert.ErrorIs(t, err, squishy.ErrDestinationUnwritable)
	var werr *squishy.WriteError
	require.True(t, errors.As(err, &werr))
	assert.False(t, werr.Partial())
}

// mockFile returns a file system over a mocked source with a single file
// "f" of the given size whose content is read from r.
func mockFile(t *testing.T, size int64, r io.Reader, opts ...squishy.ConfigOption) *squishy.FileSystem {
	t.Helper()
	ctrl := gomock.NewController(t)
	src := NewMockSource(ctrl)
	src.EXPECT().Root().Return(squishy.InodeID(1))
	src.EXPECT().Inode(squishy.InodeID(1)).Return(squishy.Inode{ID: 1, Kind: squishy.KindDirectory, Mode: fs.ModeDir | 0o755, Children: []squishy.Child{{Name: "f", ID: 2}}}, nil)
	src.EXPECT().Inode(squishy.InodeID(2)).Return(squishy.Inode{ID: 2, Kind: squishy.KindFile, Mode: 0o644, Size: size}, nil)
	src.EXPECT().Open(squishy.InodeID(2)).Return(r, nil).AnyTimes()

	fsys, err := squishy.New(src, squishy.NewConfig(opts...))
	require.NoError(t, err)
	return fsys
}

func TestReadSourceErrors(t *testing.T) {
	cases := []struct {
		name string
		size int64
		r    io.Reader
		want error
	}{
		{
			name: "unexpected eof",
			size: 10,
			r:    io.MultiReader(strings.NewReader("abcd"), iotest.ErrReader(io.ErrUnexpectedEOF)),
			want: squishy.ErrTruncated,
		},
		{
			name: "short content",
			size: 10,
			r:    strings.NewReader("abcd"),
			want: squishy.ErrTruncated,
		},
		{
			name: "decoder failure",
			size: 10,
			r:    iotest.ErrReader(errors.New("checksum mismatch")),
			want: squishy.ErrDecode,
		},
		{
			name: "long content",
			size: 2,
			r:    strings.NewReader("abcd"),
			want: squishy.ErrDecode,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fsys := mockFile(t, tc.size, tc.r)
			_, err := fsys.ReadPath("f")
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestWritePartial(t *testing.T) {
	fsys := mockFile(t, 10, io.MultiReader(strings.NewReader("abcd"), iotest.ErrReader(io.ErrUnexpectedEOF)))
	dst := filepath.Join(t.TempDir(), "f")

	err := fsys.WritePath("f", dst)
	require.Error(t, err)
	assert.ErrorIs(t, err, squishy.ErrTruncated)
	assert.NotErrorIs(t, err, squishy.ErrDestinationUnwritable)

	var werr *squishy.WriteError
	require.True(t, errors.As(err, &werr))
	assert.True(t, werr.Partial())
	assert.Equal(t, int64(4), werr.Written)
	assert.Contains(t, werr.Error(), "partial file")

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data))
}

func TestWriteCreatedEmpty(t *testing.T) {
	fsys := mockFile(t, 10, iotest.ErrReader(io.ErrUnexpectedEOF))
	dst := filepath.Join(t.TempDir(), "f")

	err := fsys.Write(lookup(t, fsys, "f"), dst)
	require.Error(t, err)
	assert.ErrorIs(t, err, squishy.ErrTruncated)

	var werr *squishy.WriteError
	require.True(t, errors.As(err, &werr))
	assert.True(t, werr.Created)
	assert.True(t, werr.Partial())
	assert.Zero(t, werr.Written)
	assert.Contains(t, werr.Error(), "partial file")

	stat, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Zero(t, stat.Size())
}

func TestReadHugeRecordedSize(t *testing.T) {
	fsys := mockFile(t, 1<<50, strings.NewReader("abcd"), squishy.WithMaxExtractionSize(-1))

	_, err := fsys.ReadPath("f")
	assert.ErrorIs(t, err, squishy.ErrTruncated)
}

func TestWriteTargetMemory(t *testing.T) {
	fsys := openTree(t, appTree())
	mem := squishy.NewTargetMemory()

	require.NoError(t, fsys.WriteTarget(mem, lookup(t, fsys, "usr/bin/app"), "bin/app"))

	data, err := mem.ReadFile("bin/app")
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho app\n", string(data))

	stat, err := mem.Stat("bin/app")
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o755), stat.Mode())
	assert.Equal(t, squashfstest.DefaultModTime, stat.ModTime())

	dir, err := mem.Stat("bin")
	require.NoError(t, err)
	assert.True(t, dir.IsDir())
}
