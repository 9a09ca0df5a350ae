// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// EntryKind classifies an entry.
type EntryKind int

const (
	KindFile EntryKind = iota + 1
	KindDirectory
	KindSymlink

	// KindOther covers devices, fifos and sockets.
	KindOther
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Path is the sequence of names from the image root to an entry. The root
// has the empty path.
type Path []string

// ParsePath splits a slash separated path into its names. "." segments and
// empty segments are dropped; ".." is kept.
func ParsePath(s string) Path {
	var p Path
	for _, name := range strings.Split(s, "/") {
		if name == "" || name == "." {
			continue
		}
		p = append(p, name)
	}
	return p
}

// String returns the path rooted at "/".
func (p Path) String() string {
	return "/" + strings.Join(p, "/")
}

// Name returns the last element of the path, or "" for the root.
func (p Path) Name() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Dir returns the path of the containing directory. The root is its own
// directory.
func (p Path) Dir() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1 : len(p)-1]
}

// Ext returns the extension of the last element, including the dot.
func (p Path) Ext() string {
	return path.Ext(p.Name())
}

// Stem returns the last element without its extension.
func (p Path) Stem() string {
	name := p.Name()
	return strings.TrimSuffix(name, path.Ext(name))
}

// Join returns a new path with name appended.
func (p Path) Join(name string) Path {
	return append(p[:len(p):len(p)], name)
}

// Entry is an immutable snapshot of one node of the image tree.
type Entry struct {
	Path Path
	Kind EntryKind

	// Target is the link target of symlinks.
	Target string

	// Inode identifies the inode the entry was built from.
	Inode InodeID

	Size    int64
	Mode    fs.FileMode
	UID     uint32
	GID     uint32
	ModTime time.Time
}

// Name returns the last element of the entry path.
func (e Entry) Name() string {
	return e.Path.Name()
}

func (e Entry) String() string {
	if e.Kind == KindSymlink {
		return e.Path.String() + " -> " + e.Target
	}
	return e.Path.String()
}

func (e Entry) clone() Entry {
	e.Path = slices.Clone(e.Path)
	return e
}

func newEntry(p Path, in Inode) Entry {
	e := Entry{
		Path:    p,
		Kind:    in.Kind,
		Inode:   in.ID,
		Size:    in.Size,
		Mode:    in.Mode,
		UID:     in.UID,
		GID:     in.GID,
		ModTime: in.ModTime,
	}
	if in.Kind == KindSymlink {
		e.Target = in.Target
	}
	return e
}
