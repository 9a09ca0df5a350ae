// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

//go:generate mockgen -destination=mock_source_test.go -package=squishy_test github.com/hashicorp/go-squishy Source

import (
	"fmt"
	"io"
	"io/fs"
	"math"
	"strings"
	"sync"
	"time"

	squashfslow "github.com/CalebQ42/squashfs/low"
	"github.com/CalebQ42/squashfs/low/inode"
)

// InodeID identifies an inode within one image.
type InodeID uint32

// Inode is the view of one decoded inode that the entry tree is built from.
type Inode struct {
	ID       InodeID
	Kind     EntryKind
	Mode     fs.FileMode
	UID      uint32
	GID      uint32
	ModTime  time.Time
	Size     int64
	Target   string
	Children []Child
}

// Child is a named directory member.
type Child struct {
	Name string
	ID   InodeID
}

// Source is a decoded image: a flat inode table, its root and readers over
// file data. Implementations must be safe for concurrent use once created.
type Source interface {
	// Root returns the id of the root directory inode.
	Root() InodeID

	// Inode returns the inode with the given id.
	Inode(id InodeID) (Inode, error)

	// Open returns a reader over the content of a regular file inode. The
	// reader reports io.ErrUnexpectedEOF when the data ends early.
	Open(id InodeID) (io.Reader, error)
}

const (
	minBlockSize = 4 << 10
	maxBlockSize = 1 << 20
	noFragment   = 0xFFFFFFFF
)

var compressionNames = map[uint16]string{
	squashfslow.ZlibCompression: "gzip",
	squashfslow.LZMACompression: "lzma",
	squashfslow.LZOCompression:  "lzo",
	squashfslow.XZCompression:   "xz",
	squashfslow.LZ4Compression:  "lz4",
	squashfslow.ZSTDCompression: "zstd",
}

// squashfsSource serves a squashfs image read with the low level reader of
// github.com/CalebQ42/squashfs. Every inode reachable from the root is
// decoded by loadSquashfs; file data is decoded on demand.
type squashfsSource struct {
	// mu guards the fragment table the reader loads lazily.
	mu     sync.Mutex
	rdr    squashfslow.Reader
	root   InodeID
	inodes map[InodeID]Inode
	files  map[InodeID]squashfslow.FileBase
}

// loadSquashfs decodes the image held in the first size bytes of r.
func loadSquashfs(r io.ReaderAt, size int64) (src *squashfsSource, err error) {
	defer func() {
		if p := recover(); p != nil {
			src, err = nil, fmt.Errorf("decoder failed: %v", p)
		}
	}()

	rdr, err := squashfslow.NewReader(r)
	if err != nil {
		return nil, err
	}
	sb := rdr.Superblock
	if sb.BlockSize < minBlockSize || sb.BlockSize > maxBlockSize || sb.BlockSize&(sb.BlockSize-1) != 0 {
		return nil, fmt.Errorf("invalid block size %d", sb.BlockSize)
	}
	if sb.Size > uint64(size) {
		return nil, fmt.Errorf("superblock records %d bytes, image holds %d", sb.Size, size)
	}

	s := &squashfsSource{
		rdr:    rdr,
		root:   InodeID(rdr.Root.Inode.Num),
		inodes: make(map[InodeID]Inode),
		files:  make(map[InodeID]squashfslow.FileBase),
	}
	if err := s.add(rdr.Root.FileBase); err != nil {
		return nil, fmt.Errorf("root inode: %w", err)
	}

	stack := []squashfslow.Directory{rdr.Root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id := InodeID(dir.Inode.Num)
		parent := s.inodes[id]
		parent.Children = make([]Child, 0, len(dir.Entries))
		for _, e := range dir.Entries {
			if err := checkName(e.Name); err != nil {
				return nil, fmt.Errorf("directory inode %d: %w", id, err)
			}
			parent.Children = append(parent.Children, Child{Name: e.Name, ID: InodeID(e.Num)})
			if _, seen := s.inodes[InodeID(e.Num)]; seen {
				continue
			}

			base, err := rdr.BaseFromEntry(e)
			if err != nil {
				return nil, fmt.Errorf("inode %d (%q): %w", e.Num, e.Name, err)
			}
			if base.Inode.Num != e.Num || basicType(base.Inode.Type) != e.InodeType {
				return nil, fmt.Errorf("entry %q names inode %d of type %d, found inode %d of type %d",
					e.Name, e.Num, e.InodeType, base.Inode.Num, base.Inode.Type)
			}
			if err := s.add(base); err != nil {
				return nil, fmt.Errorf("inode %d (%q): %w", e.Num, e.Name, err)
			}
			if base.IsDir() {
				sub, err := base.ToDir(rdr)
				if err != nil {
					return nil, fmt.Errorf("directory %q: %w", e.Name, err)
				}
				stack = append(stack, sub)
			}
		}
		s.inodes[id] = parent
	}
	return s, nil
}

// add records the inode of base. Owner ids are resolved here, while the
// reader is still used by a single goroutine.
func (s *squashfsSource) add(base squashfslow.FileBase) error {
	in := base.Inode
	if in.Num == 0 || in.Num > s.rdr.Superblock.InodeCount {
		return fmt.Errorf("inode number %d outside 1..%d", in.Num, s.rdr.Superblock.InodeCount)
	}
	uid, err := base.Uid(&s.rdr)
	if err != nil {
		return fmt.Errorf("uid: %w", err)
	}
	gid, err := base.Gid(&s.rdr)
	if err != nil {
		return fmt.Errorf("gid: %w", err)
	}

	out := Inode{
		ID:      InodeID(in.Num),
		Kind:    kindOf(in.Type),
		Mode:    modeOf(in.Type, in.Perm),
		UID:     uid,
		GID:     gid,
		ModTime: time.Unix(int64(in.ModTime), 0).UTC(),
	}
	// Some writers record fragment 0 for files without a tail.
	bs := s.rdr.Superblock.BlockSize
	switch d := in.Data.(type) {
	case inode.File:
		if d.Size%bs == 0 {
			d.FragInd = noFragment
			base.Inode.Data = d
		}
		out.Size = int64(d.Size)
		s.files[out.ID] = base
	case inode.EFile:
		if d.Size > math.MaxInt64 {
			return fmt.Errorf("file size %d out of range", d.Size)
		}
		if d.Size%uint64(bs) == 0 {
			d.FragInd = noFragment
			base.Inode.Data = d
		}
		out.Size = int64(d.Size)
		s.files[out.ID] = base
	case inode.Symlink:
		out.Target = string(d.Target)
	case inode.ESymlink:
		out.Target = string(d.Target)
	}
	s.inodes[out.ID] = out
	return nil
}

func (s *squashfsSource) Root() InodeID {
	return s.root
}

func (s *squashfsSource) Inode(id InodeID) (Inode, error) {
	in, ok := s.inodes[id]
	if !ok {
		return Inode{}, fmt.Errorf("inode %d not in image", id)
	}
	return in, nil
}

func (s *squashfsSource) Open(id InodeID) (io.Reader, error) {
	base, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("inode %d is not a regular file", id)
	}
	s.mu.Lock()
	rd, err := base.GetReader(&s.rdr)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &dataReader{r: &rd, remaining: int64(base.Inode.Size())}, nil
}

func (s *squashfsSource) compression() string {
	if name, ok := compressionNames[s.rdr.Superblock.CompType]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", s.rdr.Superblock.CompType)
}

func (s *squashfsSource) bytesUsed() int64 {
	return int64(s.rdr.Superblock.Size)
}

// dataReader stops after remaining bytes and turns an early end of the file
// data into io.ErrUnexpectedEOF.
type dataReader struct {
	r         io.Reader
	remaining int64
}

func (d *dataReader) Read(p []byte) (int, error) {
	if d.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > d.remaining {
		p = p[:d.remaining]
	}
	n, err := d.r.Read(p)
	d.remaining -= int64(n)
	if err == io.EOF && d.remaining > 0 {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return fmt.Errorf("invalid entry name %q", name)
	}
	return nil
}

// basicType folds extended inode types onto their basic counterparts, which
// is what directory entries record.
func basicType(t uint16) uint16 {
	if t >= inode.EDir {
		return t - (inode.EDir - inode.Dir)
	}
	return t
}

func kindOf(t uint16) EntryKind {
	switch basicType(t) {
	case inode.Fil:
		return KindFile
	case inode.Dir:
		return KindDirectory
	case inode.Sym:
		return KindSymlink
	default:
		return KindOther
	}
}

func modeOf(t, perm uint16) fs.FileMode {
	mode := fs.FileMode(perm & 0o777)
	if perm&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if perm&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if perm&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	switch basicType(t) {
	case inode.Dir:
		mode |= fs.ModeDir
	case inode.Sym:
		mode |= fs.ModeSymlink
	case inode.Block:
		mode |= fs.ModeDevice
	case inode.Char:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case inode.Fifo:
		mode |= fs.ModeNamedPipe
	case inode.Sock:
		mode |= fs.ModeSocket
	}
	return mode
}
