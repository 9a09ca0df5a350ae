// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"context"
	"io/fs"
	"runtime"
)

// ConfigOption adjusts a [Config] created by [NewConfig].
type ConfigOption func(*Config)

// Config controls how an image is opened, traversed and extracted.
//
// The defaults are safe for untrusted images: extraction is bounded in size
// and entry count, symlinks may not lead out of the destination, existing
// files are kept and owners are not applied.
type Config struct {
	// image

	maxInputSize    int64 // -1 disables the check
	maxSymlinkDepth int   // <= 0 means the number of entries
	workers         int

	// extraction limits

	maxExtractionSize int64 // over all files, -1 disables the check
	maxFiles          int64 // entries of any kind, -1 disables the check
	patterns          []string

	// failure handling

	continueOnError            bool
	continueOnUnsupportedFiles bool

	// destination

	createDestination        bool
	customCreateDirMode      fs.FileMode
	customDecompressFileMode fs.FileMode
	denySymlinkExtraction    bool
	dropFileAttributes       bool
	overwrite                bool
	preserveOwner            bool
	traverseSymlinks         bool

	// observers

	logger        Logger
	telemetryHook TelemetryHook
}

func defaultConfig() Config {
	return Config{
		maxInputSize:             -1, // images are read lazily
		workers:                  runtime.GOMAXPROCS(0),
		maxExtractionSize:        1 << 30,
		maxFiles:                 100_000,
		customCreateDirMode:      0o750,
		customDecompressFileMode: 0o640,
		logger:                   discardLogger,
		telemetryHook:            noTelemetry,
	}
}

func noTelemetry(context.Context, *TelemetryData) {}

// NewConfig returns the default configuration adjusted by opts, applied in
// order.
func NewConfig(opts ...ConfigOption) *Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// checkLimit returns err if n exceeds limit. A limit of -1 is disabled.
func checkLimit(limit, n int64, err error) error {
	if limit != -1 && n > limit {
		return err
	}
	return nil
}

// CheckMaxFiles returns [ErrMaxFilesExceeded] if counter entries exceed
// [Config.MaxFiles].
func (c *Config) CheckMaxFiles(counter int64) error {
	return checkLimit(c.maxFiles, counter, ErrMaxFilesExceeded)
}

// CheckExtractionSize returns [ErrMaxExtractionSizeExceeded] if fileSize
// bytes exceed [Config.MaxExtractionSize].
func (c *Config) CheckExtractionSize(fileSize int64) error {
	return checkLimit(c.maxExtractionSize, fileSize, ErrMaxExtractionSizeExceeded)
}

// CheckInputSize returns [ErrMaxInputSizeExceeded] if an image of size bytes
// exceeds [Config.MaxInputSize].
func (c *Config) CheckInputSize(size int64) error {
	return checkLimit(c.maxInputSize, size, ErrMaxInputSizeExceeded)
}

// ContinueOnError reports whether [FileSystem.ExtractAll] logs failures and
// goes on instead of returning the first one.
func (c *Config) ContinueOnError() bool { return c.continueOnError }

// ContinueOnUnsupportedFiles reports whether devices, fifos and sockets are
// skipped instead of failing the extraction. Symlinks count as unsupported
// when their extraction is denied.
func (c *Config) ContinueOnUnsupportedFiles() bool { return c.continueOnUnsupportedFiles }

// CreateDestination reports whether a missing destination directory is
// created.
func (c *Config) CreateDestination() bool { return c.createDestination }

// CustomCreateDirMode is the mode of directories created for parents that
// the image does not record. The umask applies.
func (c *Config) CustomCreateDirMode() fs.FileMode { return c.customCreateDirMode }

// CustomDecompressFileMode is the mode of written files when file
// attributes are dropped. The umask applies.
func (c *Config) CustomDecompressFileMode() fs.FileMode { return c.customDecompressFileMode }

// DenySymlinkExtraction reports whether symlinks are refused.
func (c *Config) DenySymlinkExtraction() bool { return c.denySymlinkExtraction }

// DropFileAttributes reports whether modes and times recorded in the image
// are ignored.
func (c *Config) DropFileAttributes() bool { return c.dropFileAttributes }

// TraverseSymlinks reports whether existing symlinks in the destination may
// be passed through.
func (c *Config) TraverseSymlinks() bool { return c.traverseSymlinks }

// Logger returns the logger records are written to.
func (c *Config) Logger() Logger { return c.logger }

// MaxExtractionSize is the byte budget over all extracted files, -1 if
// unlimited.
func (c *Config) MaxExtractionSize() int64 { return c.maxExtractionSize }

// MaxFiles is the number of entries an extraction may create, -1 if
// unlimited.
func (c *Config) MaxFiles() int64 { return c.maxFiles }

// MaxInputSize is the largest accepted image in bytes, -1 if unlimited.
func (c *Config) MaxInputSize() int64 { return c.maxInputSize }

// MaxSymlinkDepth bounds the links of one symlink chain. A value <= 0 means
// the number of entries in the image.
func (c *Config) MaxSymlinkDepth() int { return c.maxSymlinkDepth }

// Overwrite reports whether existing files and symlinks in the destination
// are replaced.
func (c *Config) Overwrite() bool { return c.overwrite }

// Patterns returns the [path.Match] patterns an entry path, relative to the
// image root, must match to be extracted. No patterns match everything.
func (c *Config) Patterns() []string { return c.patterns }

// PreserveOwner reports whether the owners recorded in the image are
// applied. Only root can do that on disk.
func (c *Config) PreserveOwner() bool { return c.preserveOwner }

// TelemetryHook returns the hook called after each extraction.
func (c *Config) TelemetryHook() TelemetryHook {
	if c.telemetryHook == nil {
		return noTelemetry
	}
	return c.telemetryHook
}

// Workers is the number of goroutines used by parallel traversal and
// extraction, at least one.
func (c *Config) Workers() int { return max(c.workers, 1) }

// WithContinueOnError makes [FileSystem.ExtractAll] log failures and go on.
func WithContinueOnError(yes bool) ConfigOption {
	return func(c *Config) { c.continueOnError = yes }
}

// WithContinueOnUnsupportedFiles skips devices, fifos and sockets, and
// denied symlinks, instead of failing.
func WithContinueOnUnsupportedFiles(skip bool) ConfigOption {
	return func(c *Config) { c.continueOnUnsupportedFiles = skip }
}

// WithCreateDestination creates a missing destination directory.
func WithCreateDestination(create bool) ConfigOption {
	return func(c *Config) { c.createDestination = create }
}

// WithCustomCreateDirMode sets the mode of parent directories the image does
// not record.
func WithCustomCreateDirMode(mode fs.FileMode) ConfigOption {
	return func(c *Config) { c.customCreateDirMode = mode }
}

// WithCustomDecompressFileMode sets the mode of written files when file
// attributes are dropped.
func WithCustomDecompressFileMode(mode fs.FileMode) ConfigOption {
	return func(c *Config) { c.customDecompressFileMode = mode }
}

// WithDenySymlinkExtraction refuses to create symlinks.
func WithDenySymlinkExtraction(deny bool) ConfigOption {
	return func(c *Config) { c.denySymlinkExtraction = deny }
}

// WithDropFileAttributes ignores the modes and times recorded in the image.
func WithDropFileAttributes(drop bool) ConfigOption {
	return func(c *Config) { c.dropFileAttributes = drop }
}

// WithInsecureTraverseSymlinks lets extraction pass through symlinks that
// already exist in the destination.
func WithInsecureTraverseSymlinks(traverse bool) ConfigOption {
	return func(c *Config) { c.traverseSymlinks = traverse }
}

// WithLogger sets the logger. A nil logger discards records.
func WithLogger(logger Logger) ConfigOption {
	return func(c *Config) {
		if logger == nil {
			logger = discardLogger
		}
		c.logger = logger
	}
}

// WithMaxExtractionSize sets the byte budget over all extracted files, -1
// for none.
func WithMaxExtractionSize(maxExtractionSize int64) ConfigOption {
	return func(c *Config) { c.maxExtractionSize = maxExtractionSize }
}

// WithMaxFiles sets the number of entries an extraction may create, -1 for
// no limit.
func WithMaxFiles(maxFiles int64) ConfigOption {
	return func(c *Config) { c.maxFiles = maxFiles }
}

// WithMaxInputSize sets the largest accepted image in bytes, -1 for no
// limit.
func WithMaxInputSize(maxInputSize int64) ConfigOption {
	return func(c *Config) { c.maxInputSize = maxInputSize }
}

// WithMaxSymlinkDepth bounds the links of one symlink chain. Values <= 0, or
// above the number of entries, use the number of entries.
func WithMaxSymlinkDepth(depth int) ConfigOption {
	return func(c *Config) { c.maxSymlinkDepth = depth }
}

// WithOverwrite replaces existing files and symlinks in the destination.
func WithOverwrite(enable bool) ConfigOption {
	return func(c *Config) { c.overwrite = enable }
}

// WithPatterns adds [path.Match] patterns an entry must match to be
// extracted.
func WithPatterns(pattern ...string) ConfigOption {
	return func(c *Config) { c.patterns = append(c.patterns, pattern...) }
}

// WithPreserveOwner applies the owners recorded in the image.
func WithPreserveOwner(preserve bool) ConfigOption {
	return func(c *Config) { c.preserveOwner = preserve }
}

// WithTelemetryHook sets the hook called after each extraction.
func WithTelemetryHook(hook TelemetryHook) ConfigOption {
	return func(c *Config) { c.telemetryHook = hook }
}

// WithWorkers sets the number of goroutines of parallel traversal and
// extraction. Values < 1 mean one.
func WithWorkers(n int) ConfigOption {
	return func(c *Config) { c.workers = n }
}
