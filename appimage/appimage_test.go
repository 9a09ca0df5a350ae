// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package appimage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-squishy"
	"github.com/hashicorp/go-squishy/appimage"
	"github.com/hashicorp/go-squishy/internal/squashfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAppImage stores the payload b behind a type 2 runtime and returns the
// file name and payload offset.
func writeAppImage(t *testing.T, b *squashfstest.Builder) (string, int64) {
	t.Helper()
	data, offset := squashfstest.WrapELF(b.MustBytes(t))
	name := filepath.Join(t.TempDir(), "App-x86_64.AppImage")
	require.NoError(t, os.WriteFile(name, data, 0o755))
	return name, offset
}

func TestOpen(t *testing.T) {
	name, offset := writeAppImage(t, appDir())

	a, err := appimage.Open(name, appimage.AutoOffset, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, appimage.Layout{Offset: offset, Provenance: appimage.ProvenanceComputed}, a.Layout())
	assert.Equal(t, appimage.Type2, a.Type())
	assert.False(t, a.Static())
	assert.Equal(t, 11, a.FileSystem().Len())

	icon, ok, err := a.FindIcon(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/app.png", icon.Path.String())

	desktop, ok, err := a.FindDesktop(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/app.desktop", desktop.Path.String())

	meta, ok, err := a.FindAppStream(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/usr/share/metainfo/app.appdata.xml", meta.Path.String())
}

func TestOpenExplicitOffset(t *testing.T) {
	name, offset := writeAppImage(t, appDir())

	a, err := appimage.Open(name, offset, nil)
	require.NoError(t, err)
	assert.Equal(t, appimage.ProvenanceExplicit, a.Layout().Provenance)
	require.NoError(t, a.Close())

	_, err = appimage.Open(name, offset+1, nil)
	assert.ErrorIs(t, err, squishy.ErrMalformedImage)

	_, err = appimage.Open(name, 1<<40, nil)
	assert.ErrorIs(t, err, squishy.ErrOffsetOutOfBounds)
}

func TestOpenNotAnAppImage(t *testing.T) {
	name := filepath.Join(t.TempDir(), "image.squashfs")
	require.NoError(t, os.WriteFile(name, appDir().MustBytes(t), 0o644))

	_, err := appimage.Open(name, appimage.AutoOffset, nil)
	assert.ErrorIs(t, err, appimage.ErrHeaderParse)

	// a bare image opens with an explicit offset of zero
	a, err := appimage.Open(name, 0, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, appimage.TypeUnknown, a.Type())

	_, err = appimage.Open(filepath.Join(t.TempDir(), "missing"), appimage.AutoOffset, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenMissingResources(t *testing.T) {
	name, _ := writeAppImage(t, squashfstest.New().File("AppRun", []byte("#!/bin/sh\n"), 0o755))

	a, err := appimage.Open(name, appimage.AutoOffset, nil)
	require.NoError(t, err)
	defer a.Close()

	_, ok, err := a.FindIcon(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenOptions(t *testing.T) {
	name, _ := writeAppImage(t, appDir())

	a, err := appimage.Open(name, appimage.AutoOffset, nil, appimage.WithFilter("usr/"))
	require.NoError(t, err)
	defer a.Close()

	found, err := a.Locate(context.Background(), allKinds)
	require.NoError(t, err)
	assert.Empty(t, found[appimage.KindIcon])
	assert.Len(t, found[appimage.KindAppStream], 1)

	// options of a single call take precedence over the ones given to Open
	found, err = a.Locate(context.Background(), allKinds, appimage.WithFilter("app."))
	require.NoError(t, err)
	assert.Equal(t, []string{"/app.png"}, entryPaths(found[appimage.KindIcon]))
	assert.Equal(t, []string{"/app.desktop"}, entryPaths(found[appimage.KindDesktop]))
	assert.Len(t, found[appimage.KindAppStream], 1)
}

func TestWrite(t *testing.T) {
	name, _ := writeAppImage(t, appDir())
	a, err := appimage.Open(name, appimage.AutoOffset, nil)
	require.NoError(t, err)
	defer a.Close()

	dir := t.TempDir()
	icon, _, err := a.FindIcon(context.Background())
	require.NoError(t, err)

	dst, err := a.Write(icon, dir, "myapp")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "myapp.png"), dst)

	want, err := a.FileSystem().Read(icon)
	require.NoError(t, err)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	meta, _, err := a.FindAppStream(context.Background())
	require.NoError(t, err)
	dst, err = a.Write(meta, dir, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app.appdata.xml"), dst)

	// existing files are kept
	_, err = a.Write(meta, dir, "")
	assert.ErrorIs(t, err, squishy.ErrDestinationUnwritable)
}
