// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package appimage_test

import (
	"bytes"
	"debug/elf"
	"testing"

	"github.com/hashicorp/go-squishy"
	"github.com/hashicorp/go-squishy/appimage"
	"github.com/hashicorp/go-squishy/internal/squashfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLayoutExplicit(t *testing.T) {
	data := make([]byte, 100)

	layout, err := appimage.FindLayout(bytes.NewReader(data), 100, 40)
	require.NoError(t, err)
	assert.Equal(t, appimage.Layout{Offset: 40, Provenance: appimage.ProvenanceExplicit}, layout)
	assert.Equal(t, "explicit", layout.Provenance.String())

	// the explicit offset is not validated against the content
	layout, err = appimage.FindLayout(bytes.NewReader(data), 100, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), layout.Offset)

	for _, offset := range []int64{101, -2} {
		_, err = appimage.FindLayout(bytes.NewReader(data), 100, offset)
		assert.ErrorIs(t, err, squishy.ErrOffsetOutOfBounds, offset)
	}
}

func TestFindLayoutComputed(t *testing.T) {
	img := []byte("payload")

	cases := []struct {
		name string
		elf  squashfstest.ELF
	}{
		{
			name: "64-bit little-endian",
			elf:  squashfstest.ELF{Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, AppImageType: 2},
		},
		{
			name: "32-bit little-endian",
			elf:  squashfstest.ELF{Class: elf.ELFCLASS32, Data: elf.ELFDATA2LSB, AppImageType: 2},
		},
		{
			name: "64-bit big-endian",
			elf:  squashfstest.ELF{Class: elf.ELFCLASS64, Data: elf.ELFDATA2MSB},
		},
		{
			name: "segment beyond section headers",
			elf:  squashfstest.ELF{Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, SegmentEnd: 4096},
		},
		{
			name: "32-bit segment",
			elf:  squashfstest.ELF{Class: elf.ELFCLASS32, Data: elf.ELFDATA2MSB, SegmentEnd: 1000},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, want := tc.elf.Wrap(img)

			layout, err := appimage.FindLayout(bytes.NewReader(data), int64(len(data)), appimage.AutoOffset)
			require.NoError(t, err)
			assert.Equal(t, want, layout.Offset)
			assert.Equal(t, appimage.ProvenanceComputed, layout.Provenance)
			assert.Equal(t, img, data[layout.Offset:])
			if tc.elf.SegmentEnd > 0 {
				assert.Equal(t, tc.elf.SegmentEnd, layout.Offset)
			}
		})
	}
}

func TestFindLayoutErrors(t *testing.T) {
	_, err := appimage.FindLayout(bytes.NewReader([]byte("#!/bin/sh\n")), 10, appimage.AutoOffset)
	assert.ErrorIs(t, err, appimage.ErrHeaderParse)

	_, err = appimage.FindLayout(bytes.NewReader(nil), 0, appimage.AutoOffset)
	assert.ErrorIs(t, err, appimage.ErrHeaderParse)

	// the executable claims more bytes than the input holds
	data, _ := squashfstest.ELF{Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, SegmentEnd: 8192}.Wrap(nil)
	data = data[:1024]
	_, err = appimage.FindLayout(bytes.NewReader(data), int64(len(data)), appimage.AutoOffset)
	assert.ErrorIs(t, err, appimage.ErrHeaderParse)
}

func TestDetectType(t *testing.T) {
	cases := []struct {
		name string
		typ  byte
		want appimage.Type
	}{
		{name: "type 1", typ: 1, want: appimage.Type1},
		{name: "type 2", typ: 2, want: appimage.Type2},
		{name: "unknown version", typ: 9, want: appimage.TypeUnknown},
		{name: "no magic", typ: 0, want: appimage.TypeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, _ := squashfstest.ELF{Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, AppImageType: tc.typ}.Wrap(nil)
			got, err := appimage.DetectType(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := appimage.DetectType(bytes.NewReader([]byte("not an executable")))
	assert.ErrorIs(t, err, appimage.ErrHeaderParse)

	_, err = appimage.DetectType(bytes.NewReader([]byte{0x7f}))
	assert.ErrorIs(t, err, appimage.ErrHeaderParse)

	assert.Equal(t, "type 2", appimage.Type2.String())
	assert.Equal(t, "unknown", appimage.TypeUnknown.String())
}

func TestIsStatic(t *testing.T) {
	data, _ := squashfstest.WrapELF(nil)

	static, err := appimage.IsStatic(bytes.NewReader(data))
	require.NoError(t, err)
	assert.False(t, static)

	marked := bytes.Clone(data)
	copy(marked[24:], []byte{89, 171, 65, 0})
	static, err = appimage.IsStatic(bytes.NewReader(marked))
	require.NoError(t, err)
	assert.True(t, static)

	static, err = appimage.IsStatic(bytes.NewReader([]byte("short")))
	require.NoError(t, err)
	assert.False(t, static)
}
