// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package squishy reads SquashFS images and exposes their directory tree as
// immutable entries.
//
// A [FileSystem] is opened from a file, a byte slice or any [io.ReaderAt],
// optionally starting at a byte offset (for images embedded in other files,
// such as AppImages). The tree is decoded once on open; afterwards the
// session is read-only and safe for concurrent use.
//
// Entries can be iterated lazily with [FileSystem.Entries] or in parallel with
// [FileSystem.ParEntries], searched with a [Predicate], resolved through
// symlinks with [FileSystem.Resolve], and extracted into memory, onto disk or
// into any [Target]. The [FileSystem] also implements [io/fs.FS].
//
// Configuration is done using the [Config], which follows the option pattern
// (see [NewConfig]). Whole-tree extraction reports [TelemetryData] to the
// configured [TelemetryHook].
package squishy
