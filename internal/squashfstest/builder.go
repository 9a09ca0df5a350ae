// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package squashfstest writes small squashfs images for tests.
//
// [Builder.Bytes] lays the tree out in a workspace and writes the image with
// the squashfs writer of github.com/diskfs/go-diskfs. Entries that writer
// cannot record need [Builder.RawBytes]: hard links, devices, fifos, owners
// other than root, names no directory can hold and symlinks that do not
// resolve inside the image.
package squashfstest

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DefaultModTime is the modification time stamped on every inode unless
// WithModTime is used.
var DefaultModTime = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// Compression selects the compressor of images written by Bytes.
type Compression int

const (
	Gzip Compression = iota
	Lzma
	Xz
	Lz4
	Zstd
)

func (c Compression) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Lzma:
		return "lzma"
	case Xz:
		return "xz"
	case Lz4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", int(c))
	}
}

const (
	typeDir uint16 = iota + 1
	typeFile
	typeSymlink
	typeBlockDev
	typeCharDev
	typeFifo
)

// Builder assembles the tree of a squashfs image. Parent directories are
// created implicitly with mode 0755. Errors are reported by Bytes and
// RawBytes.
type Builder struct {
	compression Compression
	blockSize   uint32
	modTime     time.Time
	root        *node
	err         error
}

// Option configures a Builder.
type Option func(*Builder)

// WithCompression selects the compressor used by Bytes. RawBytes stores
// every block uncompressed.
func WithCompression(c Compression) Option {
	return func(b *Builder) {
		b.compression = c
	}
}

// WithBlockSize sets the data block size. It must be a power of two between
// 4 KiB and 1 MiB.
func WithBlockSize(n uint32) Option {
	return func(b *Builder) {
		b.blockSize = n
	}
}

// WithModTime sets the modification time of all inodes.
func WithModTime(t time.Time) Option {
	return func(b *Builder) {
		b.modTime = t
	}
}

// New returns an empty image builder. The defaults are gzip compression and
// 128 KiB blocks.
func New(opts ...Option) *Builder {
	b := &Builder{
		compression: Gzip,
		blockSize:   128 << 10,
		modTime:     DefaultModTime,
		root:        &node{typ: typeDir, perm: 0o755},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type dirent struct {
	name string
	node *node
}

type node struct {
	typ      uint16
	perm     uint16
	uid, gid uint32
	data     []byte
	target   string
	device   uint32
	children []dirent
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c.node
		}
	}
	return nil
}

func (n *node) sortChildren() {
	sort.SliceStable(n.children, func(i, j int) bool { return n.children[i].name < n.children[j].name })
}

func splitPath(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
}

func (b *Builder) fail(format string, args ...any) {
	if b.err == nil {
		b.err = fmt.Errorf(format, args...)
	}
}

func (b *Builder) lookup(p string) *node {
	n := b.root
	for _, name := range splitPath(p) {
		if n = n.child(name); n == nil {
			return nil
		}
	}
	return n
}

func (b *Builder) parent(p string) (*node, string) {
	parts := splitPath(p)
	if len(parts) == 0 {
		return nil, ""
	}
	dir := b.root
	for _, name := range parts[:len(parts)-1] {
		c := dir.child(name)
		if c == nil {
			c = &node{typ: typeDir, perm: 0o755}
			dir.children = append(dir.children, dirent{name: name, node: c})
		} else if c.typ != typeDir {
			b.fail("squashfstest: %q: %s is not a directory", p, name)
			return nil, ""
		}
		dir = c
	}
	return dir, parts[len(parts)-1]
}

func (b *Builder) add(p string, n *node) *Builder {
	dir, name := b.parent(p)
	if dir == nil {
		if len(splitPath(p)) == 0 && n.typ == typeDir {
			b.root.perm = n.perm
		} else if b.err == nil {
			b.fail("squashfstest: cannot add %q", p)
		}
		return b
	}
	if existing := dir.child(name); existing != nil {
		if existing.typ == typeDir && n.typ == typeDir {
			existing.perm = n.perm
			return b
		}
		b.fail("squashfstest: %q already exists", p)
		return b
	}
	dir.children = append(dir.children, dirent{name: name, node: n})
	return b
}

// Dir adds a directory. Adding "/" sets the permissions of the root.
func (b *Builder) Dir(p string, perm fs.FileMode) *Builder {
	return b.add(p, &node{typ: typeDir, perm: uint16(perm.Perm())})
}

// File adds a regular file.
func (b *Builder) File(p string, data []byte, perm fs.FileMode) *Builder {
	return b.add(p, &node{typ: typeFile, perm: uint16(perm.Perm()), data: data})
}

// Symlink adds a symbolic link to target.
func (b *Builder) Symlink(p, target string) *Builder {
	return b.add(p, &node{typ: typeSymlink, perm: 0o777, target: target})
}

// Link adds a second directory entry for the inode at existing.
func (b *Builder) Link(p, existing string) *Builder {
	n := b.lookup(existing)
	if n == nil {
		b.fail("squashfstest: link target %q does not exist", existing)
		return b
	}
	dir, name := b.parent(p)
	if dir == nil {
		return b
	}
	dir.children = append(dir.children, dirent{name: name, node: n})
	return b
}

// Device adds a character or block device.
func (b *Builder) Device(p string, char bool, dev uint32) *Builder {
	typ := typeBlockDev
	if char {
		typ = typeCharDev
	}
	return b.add(p, &node{typ: typ, perm: 0o600, device: dev})
}

// Fifo adds a named pipe.
func (b *Builder) Fifo(p string) *Builder {
	return b.add(p, &node{typ: typeFifo, perm: 0o644})
}

// Chown sets the owner of an existing entry.
func (b *Builder) Chown(p string, uid, gid uint32) *Builder {
	n := b.lookup(p)
	if n == nil {
		b.fail("squashfstest: chown %q: no such entry", p)
		return b
	}
	n.uid, n.gid = uid, gid
	return b
}

// MustBytes is Bytes for tests.
func (b *Builder) MustBytes(t testing.TB) []byte {
	t.Helper()
	data, err := b.Bytes()
	require.NoError(t, err)
	return data
}

// MustRawBytes is RawBytes for tests.
func (b *Builder) MustRawBytes(t testing.TB) []byte {
	t.Helper()
	data, err := b.RawBytes()
	require.NoError(t, err)
	return data
}

func (b *Builder) checkBlockSize() error {
	if b.blockSize < 4096 || b.blockSize > 1<<20 || b.blockSize&(b.blockSize-1) != 0 {
		return fmt.Errorf("squashfstest: invalid block size %d", b.blockSize)
	}
	return nil
}

// walk calls fn for every entry in pre-order with directory children sorted
// by name. Entries reached through a second link are passed with again set.
func (b *Builder) walk(fn func(p string, n *node, again bool) error) error {
	seen := map[*node]bool{}
	var visit func(p string, n *node) error
	visit = func(p string, n *node) error {
		again := seen[n]
		seen[n] = true
		if err := fn(p, n, again); err != nil || again {
			return err
		}
		n.sortChildren()
		for _, c := range n.children {
			if err := visit(strings.TrimPrefix(p+"/"+c.name, "/"), c.node); err != nil {
				return err
			}
		}
		return nil
	}
	return visit("", b.root)
}
