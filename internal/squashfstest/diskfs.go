// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squashfstest

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/diskfs/go-diskfs/backend/file"
	"github.com/diskfs/go-diskfs/filesystem/squashfs"
)

// finalizeMu serializes Finalize, which reads symlink targets relative to
// the working directory of the process.
var finalizeMu sync.Mutex

func rawOnly(p, what string) error {
	return fmt.Errorf("squashfstest: %q is a %s, use RawBytes", p, what)
}

// Bytes writes the image with the go-diskfs squashfs writer. Every entry is
// owned by root. While the image is finalized the working directory of the
// process is the writer's workspace.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.checkBlockSize(); err != nil {
		return nil, err
	}
	if err := b.checkWritable(); err != nil {
		return nil, err
	}

	out, err := os.CreateTemp("", "squashfstest-*.sqfs")
	if err != nil {
		return nil, err
	}
	defer os.Remove(out.Name())
	defer out.Close()

	img, err := squashfs.Create(file.New(out, false), 0, 0, int64(b.blockSize))
	if err != nil {
		return nil, fmt.Errorf("squashfstest: create: %w", err)
	}
	ws := img.Workspace()
	defer removeWorkspace(ws)

	if err := b.populate(img, ws); err != nil {
		return nil, err
	}

	owner := uint32(0)
	opts := squashfs.FinalizeOptions{
		Compression: b.compressor(),
		FileUID:     &owner,
		FileGID:     &owner,
	}
	if err := finalize(img, ws, opts); err != nil {
		return nil, fmt.Errorf("squashfstest: finalize: %w", err)
	}
	return os.ReadFile(out.Name())
}

func (b *Builder) compressor() squashfs.Compressor {
	switch b.compression {
	case Lzma:
		return &squashfs.CompressorLzma{}
	case Xz:
		return &squashfs.CompressorXz{}
	case Lz4:
		return &squashfs.CompressorLz4{}
	case Zstd:
		return &squashfs.CompressorZstd{}
	default:
		return &squashfs.CompressorGzip{CompressionLevel: 6, WindowSize: 15}
	}
}

// checkWritable rejects trees the go-diskfs writer would drop entries from
// or lay out wrongly. The writer packs all file tails into fragment blocks
// and only gets the layout right for a single one.
func (b *Builder) checkWritable() error {
	tails := 0
	return b.walk(func(p string, n *node, again bool) error {
		switch {
		case again:
			return rawOnly(p, "hard link")
		case n.typ != typeDir && n.typ != typeFile && n.typ != typeSymlink:
			return rawOnly(p, "device or fifo")
		case n.uid != 0 || n.gid != 0:
			return rawOnly(p, "entry not owned by root")
		case p != "" && !fs.ValidPath(p):
			return rawOnly(p, "invalid name")
		}
		if n.typ == typeFile {
			tails += len(n.data) % int(b.blockSize)
			if tails > int(b.blockSize) {
				return fmt.Errorf("squashfstest: file tails up to %q exceed one %d byte block", p, b.blockSize)
			}
		}
		return nil
	})
}

type laidOut struct {
	path string
	node *node
}

// populate lays the tree out in the workspace of img and stamps modes and
// times once every entry exists.
func (b *Builder) populate(img *squashfs.FileSystem, ws string) error {
	var entries []laidOut
	err := b.walk(func(p string, n *node, _ bool) error {
		entries = append(entries, laidOut{path: p, node: n})
		switch n.typ {
		case typeDir:
			if p == "" {
				return nil
			}
			return img.Mkdir(p)
		case typeFile:
			f, err := img.OpenFile(p, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
			if err != nil {
				return err
			}
			if _, err := f.Write(n.data); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		default:
			return os.Symlink(n.target, filepath.Join(ws, filepath.FromSlash(p)))
		}
	})
	if err != nil {
		return fmt.Errorf("squashfstest: populate workspace: %w", err)
	}

	realWS, err := filepath.EvalSymlinks(ws)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.node.typ != typeSymlink {
			continue
		}
		got, err := filepath.EvalSymlinks(filepath.Join(ws, filepath.FromSlash(e.path)))
		if err != nil || (got != realWS && !strings.HasPrefix(got, realWS+string(filepath.Separator))) {
			return rawOnly(e.path, "symlink that does not resolve inside the image")
		}
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		full := filepath.Join(ws, filepath.FromSlash(e.path))
		if e.node.typ == typeSymlink {
			err = lchtimes(full, b.modTime)
		} else if err = os.Chmod(full, fs.FileMode(e.node.perm)); err == nil {
			err = os.Chtimes(full, b.modTime, b.modTime)
		}
		if err != nil {
			return fmt.Errorf("squashfstest: stamp %q: %w", e.path, err)
		}
	}
	return nil
}

func finalize(img *squashfs.FileSystem, ws string, opts squashfs.FinalizeOptions) (err error) {
	finalizeMu.Lock()
	defer finalizeMu.Unlock()

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	if err := os.Chdir(ws); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, os.Chdir(wd))
	}()
	return img.Finalize(opts)
}

// removeWorkspace deletes ws, including directories stamped read-only.
func removeWorkspace(ws string) {
	_ = filepath.WalkDir(ws, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(p, 0o755)
		}
		return nil
	})
	_ = os.RemoveAll(ws)
}
