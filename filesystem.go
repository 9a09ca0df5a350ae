// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path"

	"golang.org/x/sync/errgroup"
)

// FileSystem is an opened image together with its entry tree. It is
// read-only and safe for concurrent use.
type FileSystem struct {
	src         Source
	tree        *tree
	cfg         *Config
	size        int64
	compression string
	closer      io.Closer
}

// Open opens the squashfs image stored in the named file.
func Open(name string, cfg *Config) (*FileSystem, error) {
	return OpenAt(name, 0, cfg)
}

// OpenAt opens the squashfs image that starts offset bytes into the named
// file. The file is closed again on every error path; on success it is
// released by [FileSystem.Close].
func OpenAt(name string, offset int64, cfg *Config) (*FileSystem, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	fsys, err := NewFromReader(f, stat.Size(), offset, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	fsys.closer = f
	return fsys, nil
}

// OpenBytes opens the squashfs image that starts offset bytes into b.
func OpenBytes(b []byte, offset int64, cfg *Config) (*FileSystem, error) {
	return NewFromReader(bytes.NewReader(b), int64(len(b)), offset, cfg)
}

// NewFromReader opens the squashfs image that starts offset bytes into r,
// which holds size bytes. r must stay readable for the lifetime of the
// returned FileSystem.
func NewFromReader(r io.ReaderAt, size, offset int64, cfg *Config) (*FileSystem, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("%w: offset %d outside input of %d bytes", ErrOffsetOutOfBounds, offset, size)
	}
	if err := cfg.CheckInputSize(size - offset); err != nil {
		return nil, fmt.Errorf("image of %d bytes: %w", size-offset, err)
	}

	src, err := loadSquashfs(io.NewSectionReader(r, offset, size-offset), size-offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedImage, err)
	}
	cfg.Logger().Debug("decoded image", "offset", offset, "compression", src.compression(), "inodes", len(src.inodes), "bytes", src.bytesUsed())

	fsys, err := New(src, cfg)
	if err != nil {
		return nil, err
	}
	fsys.size = src.bytesUsed()
	fsys.compression = src.compression()
	return fsys, nil
}

// New builds the entry tree of src.
func New(src Source, cfg *Config) (*FileSystem, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	t, err := buildTree(src, cfg.Logger())
	if err != nil {
		return nil, err
	}
	return &FileSystem{src: src, tree: t, cfg: cfg}, nil
}

// Close releases the file opened by [Open] or [OpenAt]. It is a no-op for
// other sessions.
func (f *FileSystem) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer.Close()
}

// Config returns the configuration of the session.
func (f *FileSystem) Config() *Config {
	return f.cfg
}

// Len returns the number of entries, including the root.
func (f *FileSystem) Len() int {
	return len(f.tree.entries)
}

// Root returns the root directory entry.
func (f *FileSystem) Root() Entry {
	return f.tree.entries[0].clone()
}

// Lookup returns the entry at the slash separated path p. Symlinks are not
// followed.
func (f *FileSystem) Lookup(p string) (Entry, error) {
	clean := ParsePath(path.Clean("/" + p))
	idx, ok := f.tree.lookup(clean)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	return f.tree.entries[idx].clone(), nil
}

// Children returns the members of directory e in image order.
func (f *FileSystem) Children(e Entry) []Entry {
	idx, ok := f.tree.lookup(e.Path)
	if !ok {
		return nil
	}
	out := make([]Entry, 0, len(f.tree.children[idx]))
	for _, c := range f.tree.children[idx] {
		out = append(out, f.tree.entries[c].clone())
	}
	return out
}

// Entries returns every entry in tree order, starting with the root. Each
// call starts a fresh traversal.
func (f *FileSystem) Entries() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, e := range f.tree.entries {
			if !yield(e.clone()) {
				return
			}
		}
	}
}

// ParEntries calls fn for every entry from a pool of [Config.Workers]
// goroutines. Entries are processed in no particular order. The first error
// returned by fn, or the cancellation of ctx, stops the pool and is returned.
func (f *FileSystem) ParEntries(ctx context.Context, fn func(Entry) error) error {
	return f.parallel(ctx, func(_ int, e Entry) error {
		return fn(e)
	})
}

// parallel partitions the entry slice into contiguous ranges, one per worker.
func (f *FileSystem) parallel(ctx context.Context, fn func(int, Entry) error) error {
	n := len(f.tree.entries)
	workers := min(f.cfg.Workers(), n)
	chunk := (n + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := fn(i, f.tree.entries[i].clone()); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}
