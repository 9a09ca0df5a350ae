// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-squishy"
	"github.com/hashicorp/go-squishy/internal/squashfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "image")
	require.NoError(t, os.WriteFile(name, data, 0o644))
	return name
}

func TestOpen(t *testing.T) {
	name := writeTemp(t, appTree().MustBytes(t))

	fsys, err := squishy.Open(name, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, fsys.Len())
	assert.Equal(t, "/", fsys.Root().Path.String())
	assert.NotNil(t, fsys.Config())

	data, err := fsys.ReadPath("usr/lib/libapp.so.1")
	require.NoError(t, err)
	assert.Equal(t, "ELF-ish library", string(data))

	require.NoError(t, fsys.Close())
}

func TestOpenAt(t *testing.T) {
	img := appTree().MustBytes(t)
	wrapped, offset := squashfstest.WrapELF(img)
	name := writeTemp(t, wrapped)

	_, err := squishy.Open(name, nil)
	assert.ErrorIs(t, err, squishy.ErrMalformedImage)

	fsys, err := squishy.OpenAt(name, offset, nil)
	require.NoError(t, err)
	defer fsys.Close()

	data, err := fsys.ReadPath("etc/app.conf")
	require.NoError(t, err)
	assert.Equal(t, "debug=false\n", string(data))

	fromBytes, err := squishy.OpenBytes(wrapped, offset, nil)
	require.NoError(t, err)
	assert.Equal(t, paths(collect(fsys)), paths(collect(fromBytes)))
	assert.NoError(t, fromBytes.Close())
}

func collect(fsys *squishy.FileSystem) []squishy.Entry {
	var out []squishy.Entry
	for e := range fsys.Entries() {
		out = append(out, e)
	}
	return out
}

func TestOpenErrors(t *testing.T) {
	img := appTree().MustBytes(t)

	cases := []struct {
		name   string
		data   []byte
		offset int64
		opts   []squishy.ConfigOption
		want   error
	}{
		{
			name:   "negative offset",
			data:   img,
			offset: -1,
			want:   squishy.ErrOffsetOutOfBounds,
		},
		{
			name:   "offset past end",
			data:   img,
			offset: int64(len(img)) + 1,
			want:   squishy.ErrOffsetOutOfBounds,
		},
		{
			name:   "offset at end",
			data:   img,
			offset: int64(len(img)),
			want:   squishy.ErrMalformedImage,
		},
		{
			name: "input too large",
			data: img,
			opts: []squishy.ConfigOption{squishy.WithMaxInputSize(int64(len(img)) - 1)},
			want: squishy.ErrMaxInputSizeExceeded,
		},
		{
			name: "not an image",
			data: bytes.Repeat([]byte("squishy!"), 64),
			want: squishy.ErrMalformedImage,
		},
		{
			name: "truncated image",
			data: img[:len(img)/2],
			want: squishy.ErrMalformedImage,
		},
		{
			name: "invalid entry name",
			data: squashfstest.New().File("..", []byte("x"), 0o644).MustRawBytes(t),
			want: squishy.ErrMalformedImage,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := squishy.OpenBytes(tc.data, tc.offset, squishy.NewConfig(tc.opts...))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestOpenMaxInputSize(t *testing.T) {
	img := appTree().MustBytes(t)

	_, err := squishy.OpenBytes(img, 0, squishy.NewConfig(squishy.WithMaxInputSize(int64(len(img)))))
	assert.NoError(t, err)

	// the limit applies to the bytes after the offset
	wrapped, offset := squashfstest.WrapELF(img)
	_, err = squishy.OpenBytes(wrapped, offset, squishy.NewConfig(squishy.WithMaxInputSize(int64(len(img)))))
	assert.NoError(t, err)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := squishy.Open(filepath.Join(t.TempDir(), "missing"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestChildren(t *testing.T) {
	fsys := openRawTree(t, specialTree())

	var names []string
	for _, c := range fsys.Children(lookup(t, fsys, "usr/bin")) {
		names = append(names, c.Name())
	}
	// the hard link shares the inode of app and is listed once
	assert.Equal(t, []string{"app"}, names)

	assert.Empty(t, fsys.Children(lookup(t, fsys, "etc/app.conf")))
	assert.Nil(t, fsys.Children(squishy.Entry{Path: squishy.ParsePath("missing")}))
}
