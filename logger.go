// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import "log/slog"

// Logger receives the structured records written while an image is opened,
// traversed and extracted. Arguments alternate between keys and values.
// A *[slog.Logger] is a Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var _ Logger = (*slog.Logger)(nil)

// discardLogger is the default Logger.
var discardLogger Logger = slog.New(slog.DiscardHandler)

// entryAttrs describes e for a log record.
func entryAttrs(e *Entry) slog.Attr {
	return slog.Group("entry",
		slog.String("path", e.Path.String()),
		slog.String("kind", e.Kind.String()),
		slog.Int64("size", e.Size),
	)
}
