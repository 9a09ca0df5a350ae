// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// TargetMemory is an in-memory [Target]. Entries are stored by their slash
// separated path, relative to the root of the target, and can be read back
// through the [io/fs] interfaces it implements. Permissions are recorded but
// not enforced. TargetMemory is safe for concurrent use.
type TargetMemory struct {
	files sync.Map // map[string]*MemoryEntry
}

// NewTargetMemory creates an empty in-memory target.
func NewTargetMemory() *TargetMemory {
	return &TargetMemory{}
}

func (m *TargetMemory) load(name string) (*MemoryEntry, bool) {
	e, ok := m.files.Load(name)
	if !ok {
		return nil, false
	}
	return e.(*MemoryEntry), true
}

// update replaces the file info of name with the result of fn.
func (m *TargetMemory) update(op, name string, fn func(fi MemoryFileInfo) MemoryFileInfo) error {
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	me, ok := m.load(name)
	if !ok {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	fi := fn(*me.info)
	m.files.Store(name, &MemoryEntry{info: &fi, Data: me.Data})
	return nil
}

// CreateFile stores the content of src as the file path. An existing entry is
// only replaced if overwrite is set. At most maxSize bytes are stored (maxSize <
// 0 disables the limit); on a failure the bytes read so far are kept.
func (m *TargetMemory) CreateFile(path string, src io.Reader, mode fs.FileMode, overwrite bool, maxSize int64) (int64, error) {
	if !fs.ValidPath(path) {
		return 0, &fs.PathError{Op: "create", Path: path, Err: fs.ErrInvalid}
	}
	if me, ok := m.load(path); ok {
		if !overwrite || me.info.IsDir() {
			return 0, &fs.PathError{Op: "create", Path: path, Err: fs.ErrExist}
		}
	}

	var buf bytes.Buffer
	n, err := io.Copy(limitWriter(&buf, maxSize), src)
	m.files.Store(path, &MemoryEntry{
		info: &MemoryFileInfo{name: pathBase(path), size: n, mode: mode.Perm(), modTime: time.Now()},
		Data: buf.Bytes(),
	})
	return n, err
}

// CreateDir creates the directory path and all missing parents. Existing
// directories are left untouched.
func (m *TargetMemory) CreateDir(path string, mode fs.FileMode) error {
	if !fs.ValidPath(path) {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrInvalid}
	}
	if path == "." {
		return nil
	}
	if parent := pathDir(path); parent != "." {
		if err := m.CreateDir(parent, mode); err != nil {
			return err
		}
	}
	if me, ok := m.load(path); ok {
		if !me.info.IsDir() {
			return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
		}
		return nil
	}
	m.files.Store(path, &MemoryEntry{
		info: &MemoryFileInfo{name: pathBase(path), mode: mode.Perm() | fs.ModeDir, modTime: time.Now()},
	})
	return nil
}

// CreateSymlink stores newName as a symlink to oldName. An existing entry is
// only replaced if overwrite is set.
func (m *TargetMemory) CreateSymlink(oldName string, newName string, overwrite bool) error {
	if !fs.ValidPath(newName) {
		return &fs.PathError{Op: "symlink", Path: newName, Err: fs.ErrInvalid}
	}
	if _, ok := m.load(newName); ok && !overwrite {
		return &fs.PathError{Op: "symlink", Path: newName, Err: fs.ErrExist}
	}
	m.files.Store(newName, &MemoryEntry{
		info: &MemoryFileInfo{name: pathBase(newName), size: int64(len(oldName)), mode: 0777 | fs.ModeSymlink, modTime: time.Now()},
		Data: []byte(oldName),
	})
	return nil
}

// Lstat returns the file info of path without following a final symlink.
func (m *TargetMemory) Lstat(path string) (fs.FileInfo, error) {
	if !fs.ValidPath(path) {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrInvalid}
	}
	if path == "." {
		return &MemoryFileInfo{name: ".", mode: fs.ModeDir | 0755}, nil
	}
	if me, ok := m.load(path); ok {
		return me.info, nil
	}
	return nil, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
}

// Stat returns the file info of path, following symlinks.
func (m *TargetMemory) Stat(path string) (fs.FileInfo, error) {
	me, name, err := m.follow("stat", path)
	if err != nil {
		return nil, err
	}
	if me == nil {
		return &MemoryFileInfo{name: name, mode: fs.ModeDir | 0755}, nil
	}
	return me.info, nil
}

// follow resolves symlinks at the end of path. A nil entry stands for the root.
func (m *TargetMemory) follow(op, name string) (*MemoryEntry, string, error) {
	for range 255 {
		if !fs.ValidPath(name) {
			return nil, name, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
		}
		if name == "." {
			return nil, name, nil
		}
		me, ok := m.load(name)
		if !ok {
			return nil, name, &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
		}
		if me.info.Mode()&fs.ModeSymlink == 0 {
			return me, name, nil
		}
		name = path.Join(pathDir(name), string(me.Data))
	}
	return nil, name, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
}

// Chmod changes the permission bits of path.
func (m *TargetMemory) Chmod(path string, mode fs.FileMode) error {
	return m.update("chmod", path, func(fi MemoryFileInfo) MemoryFileInfo {
		fi.mode = fi.mode.Type() | mode.Perm()
		return fi
	})
}

// Chtimes changes the modification time of path. The access time is not
// recorded.
func (m *TargetMemory) Chtimes(path string, _, mtime time.Time) error {
	return m.update("chtimes", path, func(fi MemoryFileInfo) MemoryFileInfo {
		fi.modTime = mtime
		return fi
	})
}

// Lchtimes behaves like Chtimes; symlinks are never followed by the memory
// target when changing attributes.
func (m *TargetMemory) Lchtimes(path string, atime, mtime time.Time) error {
	return m.Chtimes(path, atime, mtime)
}

// Chown records uid and gid for path. They are reported by
// [MemoryFileInfo.Sys].
func (m *TargetMemory) Chown(path string, uid, gid int) error {
	return m.update("chown", path, func(fi MemoryFileInfo) MemoryFileInfo {
		fi.owner = &MemoryOwner{UID: uid, GID: gid}
		return fi
	})
}

// Open opens the named file for reading. Symlinks are followed.
func (m *TargetMemory) Open(name string) (fs.File, error) {
	me, name, err := m.follow("open", name)
	if err != nil {
		return nil, err
	}
	if me == nil || me.info.IsDir() {
		entries, err := m.ReadDir(name)
		if err != nil {
			return nil, err
		}
		info := &MemoryFileInfo{name: ".", mode: fs.ModeDir | 0755}
		if me != nil {
			info = me.info
		}
		return &memoryDir{info: info, entries: entries}, nil
	}
	return &memoryFile{info: me.info, r: bytes.NewReader(me.Data)}, nil
}

// Readlink returns the target of the symlink path.
func (m *TargetMemory) Readlink(path string) (string, error) {
	if !fs.ValidPath(path) {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: fs.ErrInvalid}
	}
	me, ok := m.load(path)
	if !ok {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: fs.ErrNotExist}
	}
	if me.info.Mode()&fs.ModeSymlink == 0 {
		return "", &fs.PathError{Op: "readlink", Path: path, Err: fs.ErrInvalid}
	}
	return string(me.Data), nil
}

// Remove removes path. Removing a missing entry is not an error.
func (m *TargetMemory) Remove(path string) error {
	if !fs.ValidPath(path) {
		return &fs.PathError{Op: "remove", Path: path, Err: fs.ErrInvalid}
	}
	m.files.Delete(path)
	return nil
}

// ReadDir returns the direct members of dir sorted by name.
func (m *TargetMemory) ReadDir(dir string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(dir) {
		return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrInvalid}
	}
	if dir != "." {
		me, ok := m.load(dir)
		if !ok {
			return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrNotExist}
		}
		if !me.info.IsDir() {
			return nil, &fs.PathError{Op: "readdir", Path: dir, Err: fs.ErrInvalid}
		}
	}

	var entries []fs.DirEntry
	m.files.Range(func(p, me any) bool {
		if pathDir(p.(string)) == dir {
			entries = append(entries, me.(*MemoryEntry))
		}
		return true
	})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

// ReadFile returns the content of the file name, following symlinks.
func (m *TargetMemory) ReadFile(name string) ([]byte, error) {
	me, _, err := m.follow("readfile", name)
	if err != nil {
		return nil, err
	}
	if me == nil || me.info.IsDir() {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}
	return bytes.Clone(me.Data), nil
}

// Glob returns the sorted paths matching pattern.
func (m *TargetMemory) Glob(pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}
	var matches []string
	m.files.Range(func(p, _ any) bool {
		if ok, _ := path.Match(pattern, p.(string)); ok {
			matches = append(matches, p.(string))
		}
		return true
	})
	sort.Strings(matches)
	return matches, nil
}

// Paths returns every stored path in lexical order.
func (m *TargetMemory) Paths() []string {
	var out []string
	m.files.Range(func(p, _ any) bool {
		out = append(out, p.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// pathDir and pathBase also accept os specific separators, as produced by
// the shared create helpers.
func pathDir(p string) string {
	return path.Dir(filepath.ToSlash(p))
}

func pathBase(p string) string {
	return path.Base(filepath.ToSlash(p))
}

// MemoryEntry is an entry of a [TargetMemory]. Data holds the file content
// or the symlink target.
type MemoryEntry struct {
	info *MemoryFileInfo
	Data []byte
}

func (me *MemoryEntry) Name() string               { return me.info.Name() }
func (me *MemoryEntry) IsDir() bool                { return me.info.IsDir() }
func (me *MemoryEntry) Type() fs.FileMode          { return me.info.Mode().Type() }
func (me *MemoryEntry) Info() (fs.FileInfo, error) { return me.info, nil }

func (me *MemoryEntry) String() string {
	return fs.FormatDirEntry(me)
}

// MemoryOwner is returned by [MemoryFileInfo.Sys] after [TargetMemory.Chown].
type MemoryOwner struct {
	UID int
	GID int
}

// MemoryFileInfo is the [fs.FileInfo] of a [MemoryEntry].
type MemoryFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	owner   *MemoryOwner
}

func (fi *MemoryFileInfo) Name() string       { return fi.name }
func (fi *MemoryFileInfo) Size() int64        { return fi.size }
func (fi *MemoryFileInfo) Mode() fs.FileMode  { return fi.mode }
func (fi *MemoryFileInfo) ModTime() time.Time { return fi.modTime }
func (fi *MemoryFileInfo) IsDir() bool        { return fi.mode.IsDir() }

// Sys returns the *[MemoryOwner] recorded by Chown, or nil.
func (fi *MemoryFileInfo) Sys() any {
	if fi.owner == nil {
		return nil
	}
	return fi.owner
}

type memoryFile struct {
	info *MemoryFileInfo
	r    *bytes.Reader
}

func (f *memoryFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memoryFile) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *memoryFile) Close() error               { return nil }

type memoryDir struct {
	info    *MemoryFileInfo
	entries []fs.DirEntry
	off     int
}

func (d *memoryDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *memoryDir) Close() error               { return nil }

func (d *memoryDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fmt.Errorf("is a directory")}
}

func (d *memoryDir) ReadDir(n int) ([]fs.DirEntry, error) {
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

var (
	_ Target        = (*TargetMemory)(nil)
	_ fs.ReadDirFS  = (*TargetMemory)(nil)
	_ fs.ReadFileFS = (*TargetMemory)(nil)
	_ fs.GlobFS     = (*TargetMemory)(nil)
)
