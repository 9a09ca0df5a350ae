// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ExtractAll recreates the entry tree below dst in t.
//
// Directories are created first, regular files are written concurrently by
// [Config.Workers] goroutines and symlinks are created last. Directory
// permissions and timestamps are applied at the end, so read-only
// directories can still be filled. Devices, fifos and sockets are
// unsupported files.
//
// Unless [Config.ContinueOnError] is set, the first failure stops the
// extraction and is returned. Otherwise entries that fail a check are
// skipped, and once [Config.MaxFiles] is reached the entries collected so
// far are still extracted. A [TelemetryData] record is passed to
// [Config.TelemetryHook] in any case.
func (f *FileSystem) ExtractAll(ctx context.Context, t Target, dst string) error {
	td := &TelemetryData{
		CompressionType: f.compression,
		ExtractedType:   "squashfs",
		InputSize:       f.size,
	}
	defer func(start time.Time) {
		td.ExtractionDuration = time.Since(start)
		f.cfg.TelemetryHook()(ctx, td)
	}(time.Now())

	c := f.cfg
	if err := createDir(t, dst, ".", c.CustomCreateDirMode(), c); err != nil {
		return handleError(c, td, "cannot create destination", err)
	}
	if _, err := t.Lstat(dst); len(dst) > 0 && err != nil {
		return handleError(c, td, "destination does not exist", err)
	}

	c.Logger().Info("start extraction", "type", td.ExtractedType, "compression", td.CompressionType, "entries", f.Len())

	var (
		dirs, files, links []int
		objectCounter      int64
		extractionSize     int64
	)
	for i := 1; i < len(f.tree.entries); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := &f.tree.entries[i]
		name := relName(e.Path)

		objectCounter++
		if err := c.CheckMaxFiles(objectCounter); err != nil {
			if err := handleError(c, td, "max objects check failed", err); err != nil {
				return err
			}
			break
		}

		match, err := checkPatterns(c.Patterns(), name)
		if err != nil {
			if err := handleError(c, td, "cannot check pattern", err); err != nil {
				return err
			}
			continue
		}
		if !match {
			c.Logger().Debug("skipping entry (pattern mismatch)", "name", name)
			td.PatternMismatches++
			continue
		}

		switch e.Kind {
		case KindDirectory:
			dirs = append(dirs, i)
		case KindFile:
			if err := c.CheckExtractionSize(extractionSize + e.Size); err != nil {
				if err := handleError(c, td, "max extraction size exceeded", err); err != nil {
					return err
				}
				continue
			}
			extractionSize += e.Size
			files = append(files, i)
		case KindSymlink:
			links = append(links, i)
		default:
			td.UnsupportedFiles++
			td.LastUnsupportedFile = name
			if c.ContinueOnUnsupportedFiles() {
				c.Logger().Info("skipping unsupported file", entryAttrs(e), "mode", e.Mode.String())
				continue
			}
			if err := handleError(c, td, "cannot extract entry", unsupportedFile(name)); err != nil {
				return err
			}
		}
	}

	for _, i := range dirs {
		e := &f.tree.entries[i]
		// owner write access is restored to the final mode afterwards
		if err := createDir(t, dst, relName(e.Path), f.dirMode(e)|0700, c); err != nil {
			if err := handleError(c, td, "failed to create safe directory", err); err != nil {
				return err
			}
			continue
		}
		td.ExtractedDirs++
	}

	if err := f.extractFiles(ctx, t, dst, files, td); err != nil {
		return err
	}

	for _, i := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.extractSymlink(t, dst, &f.tree.entries[i], td); err != nil {
			return err
		}
	}

	for j := len(dirs) - 1; j >= 0; j-- {
		e := &f.tree.entries[dirs[j]]
		if err := f.applyAttributes(t, dst, e, false); err != nil {
			if err := handleError(c, td, "failed to set directory attributes", err); err != nil {
				return err
			}
		}
	}
	return nil
}

// extractFiles writes the file entries at indices concurrently.
func (f *FileSystem) extractFiles(ctx context.Context, t Target, dst string, indices []int, td *TelemetryData) error {
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Workers())
	for _, i := range indices {
		e := &f.tree.entries[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := f.extractFile(t, dst, e)

			mu.Lock()
			defer mu.Unlock()
			td.ExtractionSize += n
			if err != nil {
				return handleError(f.cfg, td, "failed to extract file", err)
			}
			td.ExtractedFiles++
			return nil
		})
	}
	return g.Wait()
}

func (f *FileSystem) extractFile(t Target, dst string, e *Entry) (int64, error) {
	r, err := f.OpenEntry(*e)
	if err != nil {
		return 0, err
	}
	mode := e.Mode.Perm()
	if f.cfg.DropFileAttributes() {
		mode = f.cfg.CustomDecompressFileMode()
	}
	name := relName(e.Path)
	n, err := createFile(t, dst, name, r, mode, f.cfg.MaxExtractionSize(), f.cfg)
	if err != nil {
		return n, fmt.Errorf("%s: %w", name, err)
	}
	f.cfg.Logger().Debug("extracted file", entryAttrs(e), "bytes", n)
	return n, f.applyAttributes(t, dst, e, false)
}

func (f *FileSystem) extractSymlink(t Target, dst string, e *Entry, td *TelemetryData) error {
	c := f.cfg
	name := relName(e.Path)
	if err := createSymlink(t, dst, name, e.Target, c); err != nil {
		if errors.Is(err, ErrUnsupportedFile) {
			td.UnsupportedFiles++
			td.LastUnsupportedFile = name
			if c.ContinueOnUnsupportedFiles() {
				c.Logger().Info("skipping symlink", "name", name, "target", e.Target)
				return nil
			}
		}
		return handleError(c, td, "failed to create safe symlink", err)
	}

	// absolute targets may have been skipped
	if _, err := t.Lstat(filepath.Join(dst, localPath(name))); err != nil {
		return nil
	}
	td.ExtractedSymlinks++
	if err := f.applyAttributes(t, dst, e, true); err != nil {
		return handleError(c, td, "failed to set symlink attributes", err)
	}
	return nil
}

// applyAttributes sets mode, timestamps and optionally the owner of the
// extracted entry e. Symlink permissions are left alone.
func (f *FileSystem) applyAttributes(t Target, dst string, e *Entry, link bool) error {
	p := filepath.Join(dst, localPath(relName(e.Path)))
	if f.cfg.PreserveOwner() {
		if err := t.Chown(p, int(e.UID), int(e.GID)); err != nil {
			return fmt.Errorf("failed to change owner of %s: %w", p, err)
		}
	}
	if link {
		if f.cfg.DropFileAttributes() {
			return nil
		}
		return t.Lchtimes(p, e.ModTime, e.ModTime)
	}
	if e.Kind == KindDirectory {
		if err := t.Chmod(p, f.dirMode(e)); err != nil {
			return fmt.Errorf("failed to change mode of %s: %w", p, err)
		}
	}
	if f.cfg.DropFileAttributes() {
		return nil
	}
	if err := t.Chtimes(p, e.ModTime, e.ModTime); err != nil {
		return fmt.Errorf("failed to change times of %s: %w", p, err)
	}
	return nil
}

func (f *FileSystem) dirMode(e *Entry) fs.FileMode {
	if f.cfg.DropFileAttributes() {
		return f.cfg.CustomCreateDirMode()
	}
	return e.Mode.Perm()
}

// handleError increases the error counter, sets the latest error and
// decides if extraction should continue.
func handleError(c *Config, td *TelemetryData, msg string, err error) error {
	td.ExtractionErrors++
	td.LastExtractionError = fmt.Errorf("%s: %w", msg, err)

	if c.ContinueOnError() {
		c.Logger().Error(msg, "error", err)
		return nil
	}
	return td.LastExtractionError
}

// checkPatterns reports whether name matches one of patterns. An empty list
// matches everything.
func checkPatterns(patterns []string, name string) (bool, error) {
	if len(patterns) == 0 {
		return true, nil
	}
	for _, pattern := range patterns {
		match, err := path.Match(pattern, name)
		if err != nil {
			return false, fmt.Errorf("failed to match pattern: %w", err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// relName returns p relative to the image root, e.g. "usr/bin/app".
func relName(p Path) string {
	return strings.Join(p, "/")
}
