// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// TelemetryData summarizes one run of [FileSystem.ExtractAll].
type TelemetryData struct {
	// ExtractedType is the image format, always "squashfs".
	ExtractedType string `json:"extracted_type"`
	// CompressionType names the compressor of the image.
	CompressionType string `json:"compression_type"`
	// InputSize is the number of bytes the image occupies.
	InputSize int64 `json:"input_size"`

	ExtractedDirs     int64 `json:"extracted_dirs"`
	ExtractedFiles    int64 `json:"extracted_files"`
	ExtractedSymlinks int64 `json:"extracted_symlinks"`
	// ExtractionSize counts the file bytes written.
	ExtractionSize     int64         `json:"extraction_size"`
	ExtractionDuration time.Duration `json:"extraction_duration"`

	// PatternMismatches counts entries no pattern selected.
	PatternMismatches int64 `json:"pattern_mismatches"`
	// UnsupportedFiles counts devices, fifos, sockets and denied symlinks.
	UnsupportedFiles    int64  `json:"unsupported_files"`
	LastUnsupportedFile string `json:"last_unsupported_file"`

	ExtractionErrors    int64 `json:"extraction_errors"`
	LastExtractionError error `json:"-"`
}

// telemetryFields has the fields of TelemetryData without its methods.
type telemetryFields TelemetryData

// MarshalJSON renders the last error as its message.
func (td TelemetryData) MarshalJSON() ([]byte, error) {
	rec := struct {
		telemetryFields
		LastExtractionError string `json:"last_extraction_error"`
	}{telemetryFields: telemetryFields(td)}
	if td.LastExtractionError != nil {
		rec.LastExtractionError = td.LastExtractionError.Error()
	}
	return json.Marshal(rec)
}

// String returns the JSON form of td.
func (td TelemetryData) String() string {
	b, _ := json.Marshal(td)
	return string(b)
}

// Entries is the number of entries created in the destination.
func (td *TelemetryData) Entries() int64 {
	return td.ExtractedDirs + td.ExtractedFiles + td.ExtractedSymlinks
}

// LogValue groups the totals of td for a log record.
func (td *TelemetryData) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("compression", td.CompressionType),
		slog.Int64("entries", td.Entries()),
		slog.Int64("bytes", td.ExtractionSize),
		slog.Duration("duration", td.ExtractionDuration),
		slog.Int64("skipped", td.PatternMismatches+td.UnsupportedFiles),
		slog.Int64("errors", td.ExtractionErrors),
	}
	if td.LastExtractionError != nil {
		attrs = append(attrs, slog.String("last_error", td.LastExtractionError.Error()))
	}
	return slog.GroupValue(attrs...)
}

// Equals reports whether td and other hold the same values, ignoring the
// duration and the last error.
func (td *TelemetryData) Equals(other *TelemetryData) bool {
	if td == nil || other == nil {
		return td == other
	}
	a, b := *td, *other
	a.ExtractionDuration, b.ExtractionDuration = 0, 0
	a.LastExtractionError, b.LastExtractionError = nil, nil
	return a == b
}

// TelemetryHook receives the [TelemetryData] of every finished
// [FileSystem.ExtractAll], e.g. to submit it to a telemetry service.
type TelemetryHook func(context.Context, *TelemetryData)
