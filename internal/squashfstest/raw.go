// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squashfstest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/bits"
)

const (
	superblockSize    = 96
	metadataBlockSize = 8192
	noTable           = ^uint64(0)
	noFragment        = ^uint32(0)
	dataUncompressed  = 1 << 24
	metaUncompressed  = 0x8000

	flagsUncompressed = 0x0001 | 0x0002 | 0x0008 | 0x0800
	flagNoFragments   = 0x0010
	flagNoXattrs      = 0x0200
)

var le = binary.LittleEndian

// rawInode is the layout state of one inode in an image written by RawBytes.
type rawInode struct {
	*node
	number      uint32
	parent      uint32
	links       uint32
	pos         int
	blocksStart uint32
	blocks      []uint32
	dirPos      int
	dirSize     int
}

// RawBytes writes the image without go-diskfs. Every block is stored
// uncompressed and file tails get their own short data block, so the image
// only ever exercises the uncompressed paths of a reader. It records
// entries Bytes refuses.
func (b *Builder) RawBytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.checkBlockSize(); err != nil {
		return nil, err
	}

	var inodes []*rawInode
	byNode := map[*node]*rawInode{}
	var parents []*rawInode
	err := b.walk(func(p string, n *node, again bool) error {
		if again {
			byNode[n].links++
			return nil
		}
		in := &rawInode{node: n, number: uint32(len(inodes) + 1), links: 1}
		for len(parents) > 0 && !lists(parents[len(parents)-1], n) {
			parents = parents[:len(parents)-1]
		}
		if len(parents) > 0 {
			in.parent = parents[len(parents)-1].number
		}
		if n.typ == typeDir {
			parents = append(parents, in)
		}
		inodes = append(inodes, in)
		byNode[n] = in
		return nil
	})
	if err != nil {
		return nil, err
	}
	root := inodes[0]
	root.parent = uint32(len(inodes) + 1)

	img := bytes.NewBuffer(make([]byte, superblockSize))
	bs := int(b.blockSize)
	for _, in := range inodes {
		if in.typ != typeFile {
			continue
		}
		in.blocksStart = uint32(img.Len())
		for off := 0; off < len(in.data); off += bs {
			chunk := in.data[off:min(off+bs, len(in.data))]
			img.Write(chunk)
			in.blocks = append(in.blocks, uint32(len(chunk))|dataUncompressed)
		}
	}

	pos := 0
	for _, in := range inodes {
		in.pos = pos
		pos += rawInodeSize(in)
	}

	var dirs []byte
	for _, in := range inodes {
		if in.typ != typeDir {
			continue
		}
		in.dirPos = len(dirs)
		var err error
		if dirs, err = appendListing(dirs, in, byNode); err != nil {
			return nil, err
		}
		in.dirSize = len(dirs) - in.dirPos + 3
		if in.dirSize > 0xFFFF {
			return nil, fmt.Errorf("squashfstest: directory listing of inode %d too large", in.number)
		}
	}

	var ids []uint32
	idIndex := map[uint32]uint16{}
	for _, in := range inodes {
		for _, id := range []uint32{in.uid, in.gid} {
			if _, ok := idIndex[id]; !ok {
				idIndex[id] = uint16(len(ids))
				ids = append(ids, id)
			}
		}
	}

	mtime := uint32(b.modTime.Unix())
	var table []byte
	for _, in := range inodes {
		table = appendRawInode(table, in, idIndex, mtime)
	}
	if len(table) != pos {
		return nil, fmt.Errorf("squashfstest: inode table is %d bytes, expected %d", len(table), pos)
	}

	inodeStart := uint64(img.Len())
	writeMetadata(img, table)
	dirStart := uint64(img.Len())
	writeMetadata(img, dirs)
	var rawIDs []byte
	for _, id := range ids {
		rawIDs = le.AppendUint32(rawIDs, id)
	}
	blocks := writeMetadata(img, rawIDs)
	idStart := uint64(img.Len())
	for _, s := range blocks {
		img.Write(le.AppendUint64(nil, s))
	}

	out := img.Bytes()
	sb := make([]byte, 0, superblockSize)
	sb = le.AppendUint32(sb, 0x73717368)
	sb = le.AppendUint32(sb, uint32(len(inodes)))
	sb = le.AppendUint32(sb, mtime)
	sb = le.AppendUint32(sb, b.blockSize)
	sb = le.AppendUint32(sb, 0)
	sb = le.AppendUint16(sb, 1)
	sb = le.AppendUint16(sb, uint16(bits.TrailingZeros32(b.blockSize)))
	sb = le.AppendUint16(sb, flagsUncompressed|flagNoFragments|flagNoXattrs)
	sb = le.AppendUint16(sb, uint16(len(ids)))
	sb = le.AppendUint16(sb, 4)
	sb = le.AppendUint16(sb, 0)
	sb = le.AppendUint64(sb, metadataRef(root.pos))
	sb = le.AppendUint64(sb, uint64(len(out)))
	sb = le.AppendUint64(sb, idStart)
	sb = le.AppendUint64(sb, noTable)
	sb = le.AppendUint64(sb, inodeStart)
	sb = le.AppendUint64(sb, dirStart)
	sb = le.AppendUint64(sb, noTable)
	sb = le.AppendUint64(sb, noTable)
	copy(out, sb)
	return out, nil
}

func lists(dir *rawInode, n *node) bool {
	for _, c := range dir.children {
		if c.node == n {
			return true
		}
	}
	return false
}

// metadataRef locates byte pos of an uncompressed metadata stream.
func metadataRef(pos int) uint64 {
	block := pos / metadataBlockSize * (metadataBlockSize + 2)
	return uint64(block)<<16 | uint64(pos%metadataBlockSize)
}

func rawInodeSize(in *rawInode) int {
	const header = 16
	switch in.typ {
	case typeDir:
		return header + 16
	case typeFile:
		return header + 16 + 4*len(in.blocks)
	case typeSymlink:
		return header + 8 + len(in.target)
	case typeBlockDev, typeCharDev:
		return header + 8
	default:
		return header + 4
	}
}

func appendListing(b []byte, dir *rawInode, byNode map[*node]*rawInode) ([]byte, error) {
	ch := dir.children
	for i := 0; i < len(ch); {
		first := byNode[ch[i].node]
		block := metadataRef(first.pos) >> 16
		j := i
		for j < len(ch) && j-i < 256 {
			c := byNode[ch[j].node]
			delta := int64(c.number) - int64(first.number)
			if metadataRef(c.pos)>>16 != block || delta < -32768 || delta > 32767 {
				break
			}
			j++
		}
		b = le.AppendUint32(b, uint32(j-i-1))
		b = le.AppendUint32(b, uint32(block))
		b = le.AppendUint32(b, first.number)
		for _, e := range ch[i:j] {
			if len(e.name) == 0 || len(e.name) > 256 {
				return nil, fmt.Errorf("squashfstest: invalid entry name %q", e.name)
			}
			c := byNode[e.node]
			b = le.AppendUint16(b, uint16(metadataRef(c.pos)&0xFFFF))
			b = le.AppendUint16(b, uint16(int16(int64(c.number)-int64(first.number))))
			b = le.AppendUint16(b, c.typ)
			b = le.AppendUint16(b, uint16(len(e.name)-1))
			b = append(b, e.name...)
		}
		i = j
	}
	return b, nil
}

func appendRawInode(b []byte, in *rawInode, ids map[uint32]uint16, mtime uint32) []byte {
	b = le.AppendUint16(b, in.typ)
	b = le.AppendUint16(b, in.perm)
	b = le.AppendUint16(b, ids[in.uid])
	b = le.AppendUint16(b, ids[in.gid])
	b = le.AppendUint32(b, mtime)
	b = le.AppendUint32(b, in.number)

	switch in.typ {
	case typeDir:
		subdirs := uint32(0)
		for _, c := range in.children {
			if c.node.typ == typeDir {
				subdirs++
			}
		}
		ref := metadataRef(in.dirPos)
		b = le.AppendUint32(b, uint32(ref>>16))
		b = le.AppendUint32(b, 2+subdirs)
		b = le.AppendUint16(b, uint16(in.dirSize))
		b = le.AppendUint16(b, uint16(ref&0xFFFF))
		b = le.AppendUint32(b, in.parent)
	case typeFile:
		b = le.AppendUint32(b, in.blocksStart)
		b = le.AppendUint32(b, noFragment)
		b = le.AppendUint32(b, 0)
		b = le.AppendUint32(b, uint32(len(in.data)))
		for _, s := range in.blocks {
			b = le.AppendUint32(b, s)
		}
	case typeSymlink:
		b = le.AppendUint32(b, in.links)
		b = le.AppendUint32(b, uint32(len(in.target)))
		b = append(b, in.target...)
	case typeBlockDev, typeCharDev:
		b = le.AppendUint32(b, in.links)
		b = le.AppendUint32(b, in.device)
	default:
		b = le.AppendUint32(b, in.links)
	}
	return b
}

// writeMetadata stores data as uncompressed metadata blocks and returns the
// position of each block.
func writeMetadata(w *bytes.Buffer, data []byte) []uint64 {
	var starts []uint64
	for off := 0; off < len(data); off += metadataBlockSize {
		end := min(off+metadataBlockSize, len(data))
		starts = append(starts, uint64(w.Len()))
		w.Write(le.AppendUint16(nil, uint16(end-off)|metaUncompressed))
		w.Write(data[off:end])
	}
	return starts
}
