// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Target specifies all functions needed to write entries of an image into a destination
type Target interface {
	// CreateFile creates a file at the specified path with src as content. The mode parameter is the file mode that
	// should be set on the file. If the file already exists and overwrite is false, an error should be returned. The
	// size of the file should not exceed maxSize (maxSize < 0 means no limit). The number of bytes written is returned,
	// also when an error occurs. src must only be read once the file exists.
	CreateFile(path string, src io.Reader, mode fs.FileMode, overwrite bool, maxSize int64) (int64, error)

	// CreateDir creates a directory at the specified path with the specified mode. If the directory already
	// exists, nothing is done.
	CreateDir(path string, mode fs.FileMode) error

	// CreateSymlink creates a symbolic link from newname to oldname. If newname already exists and overwrite is false,
	// the function returns an error.
	CreateSymlink(oldname string, newname string, overwrite bool) error

	// Lstat see docs for os.Lstat. Main purpose is to detect symlinks and path traversal in the
	// destination path.
	Lstat(path string) (fs.FileInfo, error)

	// Stat see docs for os.Stat.
	Stat(path string) (fs.FileInfo, error)

	// Chmod see docs for os.Chmod.
	Chmod(name string, mode fs.FileMode) error

	// Chtimes see docs for os.Chtimes.
	Chtimes(name string, atime, mtime time.Time) error

	// Lchtimes changes the times of a symlink itself instead of its target.
	Lchtimes(name string, atime, mtime time.Time) error

	// Chown see docs for os.Lchown.
	Chown(name string, uid, gid int) error
}

// localPath converts a slash separated entry path into an os specific
// relative path.
func localPath(name string) string {
	return filepath.Join(strings.Split(name, "/")...)
}

// createFile writes src as name below dst.
//
// Missing parent directories are created with config.CustomCreateDirMode(). The
// path is rejected if it escapes dst or passes through a symlink, unless
// config.TraverseSymlinks() is set, in which case a warning is logged.
func createFile(t Target, dst string, name string, src io.Reader, mode fs.FileMode, maxSize int64, cfg *Config) (int64, error) {
	if len(name) == 0 {
		return 0, fmt.Errorf("cannot create file without name")
	}
	name = localPath(name)

	// ensure the parent exists and is safe to write to
	if err := createDir(t, dst, filepath.Dir(name), cfg.CustomCreateDirMode(), cfg); err != nil {
		return 0, fmt.Errorf("cannot create directory: %w", err)
	}

	// an existing file must not be a symlink
	if err := securityCheck(t, dst, name, cfg); err != nil {
		return 0, fmt.Errorf("security check path failed: %w", err)
	}
	return t.CreateFile(filepath.Join(dst, name), src, mode, cfg.Overwrite(), maxSize)
}

// startedReader records whether a target began reading src. Targets only
// read src once the destination file exists.
type startedReader struct {
	r       io.Reader
	started bool
}

func (s *startedReader) Read(p []byte) (int, error) {
	s.started = true
	return s.r.Read(p)
}

// createDir creates name below dst.
//
// If dst does not exist it is created when config.CreateDestination() is
// set, otherwise an error is returned. The same traversal and symlink rules
// as for createFile apply.
func createDir(t Target, dst string, name string, mode fs.FileMode, cfg *Config) error {
	if len(dst) > 0 {
		if _, err := t.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
			if !cfg.CreateDestination() {
				return fmt.Errorf("destination does not exist")
			}
			if err := t.CreateDir(dst, cfg.CustomCreateDirMode()); err != nil {
				return fmt.Errorf("failed to create destination directory %w", err)
			}
			cfg.Logger().Info("created destination directory", "path", dst)
		}
	}

	if name == "." || name == "" {
		return nil
	}
	if err := securityCheck(t, dst, name, cfg); err != nil {
		return fmt.Errorf("security check path failed: %w", err)
	}
	return t.CreateDir(filepath.Join(dst, localPath(name)), mode)
}

// createSymlink creates name below dst pointing at linkTarget.
//
// Symlinks are rejected when config.DenySymlinkExtraction() is set, when the
// target is absolute and when the target escapes dst. Absolute targets are
// skipped instead if config.ContinueOnError() is set.
func createSymlink(t Target, dst string, name string, linkTarget string, cfg *Config) error {
	if cfg.DenySymlinkExtraction() {
		return unsupportedFile(name)
	}
	if len(name) == 0 {
		return fmt.Errorf("empty name")
	}

	if filepath.IsAbs(linkTarget) || strings.HasPrefix(linkTarget, "/") {
		if cfg.ContinueOnError() {
			cfg.Logger().Info("skip link target with absolute path", "link target", linkTarget)
			return nil
		}
		return fmt.Errorf("symlink with absolute path as target: %s", linkTarget)
	}

	name = localPath(name)
	linkDirectory := filepath.Dir(name)
	if err := createDir(t, dst, linkDirectory, cfg.CustomCreateDirMode(), cfg); err != nil {
		return fmt.Errorf("cannot create directory (%s) for symlink: %w", linkDirectory+string(os.PathSeparator), err)
	}

	// the target must stay within dst
	if err := securityCheck(t, dst, filepath.Join(linkDirectory, linkTarget), cfg); err != nil {
		return fmt.Errorf("symlink target security check path failed: %w", err)
	}
	return t.CreateSymlink(linkTarget, filepath.Join(dst, name), cfg.Overwrite())
}

// securityCheck rejects path if it escapes dst or if any existing component
// below dst is a symlink. Symlinks are tolerated with a warning when
// config.TraverseSymlinks() is set.
func securityCheck(t Target, dst string, path string, config *Config) error {
	if len(dst) == 0 && filepath.IsAbs(path) {
		return fmt.Errorf("absolute path detected")
	}
	path = localPath(path)

	rel, err := filepath.Rel(dst, filepath.Join(dst, path))
	if err != nil {
		return fmt.Errorf("failed to get relative path: %w", err)
	}
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("path traversal detected")
	}

	elements := strings.Split(path, string(os.PathSeparator))
	for i := range elements {
		subDirs := filepath.Join(elements[:i+1]...)
		checkDir := filepath.Join(dst, subDirs)
		if len(checkDir) == 0 || checkDir == "." {
			continue
		}

		if _, err := t.Lstat(checkDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("invalid path: %w", err)
		}

		symlink, err := isSymlink(t, checkDir)
		if err != nil {
			return fmt.Errorf("failed to check symlink: %w", err)
		}
		if symlink {
			if !config.TraverseSymlinks() {
				return fmt.Errorf("symlink in path")
			}
			config.Logger().Warn("traverse symlink", "sub-dir", subDirs)
		}
	}
	return nil
}

// isSymlink reports whether path exists and is a symlink.
func isSymlink(t Target, path string) (bool, error) {
	if len(path) == 0 {
		return false, fmt.Errorf("empty path")
	}
	if path == "." {
		return false, fmt.Errorf("cwd")
	}

	stat, err := t.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check path: %w", err)
	}
	if stat == nil {
		return false, fmt.Errorf("failed to get stats")
	}
	return stat.Mode()&fs.ModeSymlink != 0, nil
}
