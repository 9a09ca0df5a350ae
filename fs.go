// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"strings"
	"time"
)

var (
	_ fs.FS         = (*FileSystem)(nil)
	_ fs.StatFS     = (*FileSystem)(nil)
	_ fs.ReadDirFS  = (*FileSystem)(nil)
	_ fs.ReadFileFS = (*FileSystem)(nil)
)

// Open implements [fs.FS]. Symlinks are followed.
func (f *FileSystem) Open(name string) (fs.File, error) {
	idx, err := f.fsLookup("open", name)
	if err != nil {
		return nil, err
	}
	e := f.tree.entries[idx].clone()
	info := &fileInfo{e: e, root: idx == 0}
	switch e.Kind {
	case KindDirectory:
		return &dirFile{fsys: f, idx: idx, info: info}, nil
	case KindFile:
		r, err := f.OpenEntry(e)
		if err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
		return &openFile{info: info, r: r}, nil
	default:
		return &openFile{info: info, r: bytes.NewReader(nil)}, nil
	}
}

// Stat implements [fs.StatFS]. Symlinks are followed.
func (f *FileSystem) Stat(name string) (fs.FileInfo, error) {
	idx, err := f.fsLookup("stat", name)
	if err != nil {
		return nil, err
	}
	return &fileInfo{e: f.tree.entries[idx].clone(), root: idx == 0}, nil
}

// ReadDir implements [fs.ReadDirFS]. The members of the directory name are
// returned sorted by name; symlinks among them are reported as such.
func (f *FileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	idx, err := f.fsLookup("readdir", name)
	if err != nil {
		return nil, err
	}
	if f.tree.entries[idx].Kind != KindDirectory {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: errors.New("not a directory")}
	}
	return f.dirEntries(idx), nil
}

// ReadFile implements [fs.ReadFileFS]. Symlinks are followed.
func (f *FileSystem) ReadFile(name string) ([]byte, error) {
	idx, err := f.fsLookup("readfile", name)
	if err != nil {
		return nil, err
	}
	e := f.tree.entries[idx]
	switch e.Kind {
	case KindFile:
		b, err := f.Read(e.clone())
		if err != nil {
			return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
		}
		return b, nil
	case KindDirectory:
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: errors.New("is a directory")}
	default:
		return []byte{}, nil
	}
}

func (f *FileSystem) fsLookup(op, name string) (int, error) {
	if !fs.ValidPath(name) {
		return -1, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	idx, err := f.resolveIndex(name)
	if errors.Is(err, ErrDanglingSymlink) {
		err = fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	}
	if err != nil {
		return -1, &fs.PathError{Op: op, Path: name, Err: err}
	}
	return idx, nil
}

func (f *FileSystem) dirEntries(idx int) []fs.DirEntry {
	children := f.tree.children[idx]
	out := make([]fs.DirEntry, 0, len(children))
	for _, c := range children {
		out = append(out, &dirEntry{info: fileInfo{e: f.tree.entries[c].clone()}})
	}
	slices.SortFunc(out, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return out
}

// fileInfo is the [fs.FileInfo] of an entry. Sys returns the [Entry].
type fileInfo struct {
	e    Entry
	root bool
}

func (fi *fileInfo) Name() string {
	if fi.root {
		return "."
	}
	return fi.e.Name()
}

func (fi *fileInfo) Size() int64        { return fi.e.Size }
func (fi *fileInfo) Mode() fs.FileMode  { return fi.e.Mode }
func (fi *fileInfo) ModTime() time.Time { return fi.e.ModTime }
func (fi *fileInfo) IsDir() bool        { return fi.e.Kind == KindDirectory }
func (fi *fileInfo) Sys() any           { return fi.e }

type dirEntry struct {
	info fileInfo
}

func (d *dirEntry) Name() string               { return d.info.Name() }
func (d *dirEntry) IsDir() bool                { return d.info.IsDir() }
func (d *dirEntry) Type() fs.FileMode          { return d.info.Mode().Type() }
func (d *dirEntry) Info() (fs.FileInfo, error) { return &d.info, nil }
func (d *dirEntry) String() string             { return fs.FormatDirEntry(d) }

type openFile struct {
	info *fileInfo
	r    io.Reader
}

func (o *openFile) Stat() (fs.FileInfo, error) { return o.info, nil }
func (o *openFile) Read(p []byte) (int, error) { return o.r.Read(p) }
func (o *openFile) Close() error               { return nil }

type dirFile struct {
	fsys    *FileSystem
	idx     int
	info    *fileInfo
	entries []fs.DirEntry
	off     int
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *dirFile) Close() error               { return nil }

func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.e.Path.String(), Err: errors.New("is a directory")}
}

// ReadDir implements [fs.ReadDirFile].
func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.entries == nil {
		d.entries = d.fsys.dirEntries(d.idx)
	}
	rest := d.entries[d.off:]
	if n <= 0 {
		d.off = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.off += n
	return rest[:n], nil
}
