// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy_test

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-squishy"
)

// TestDataString tests the String method of the data struct
func TestDataString(t *testing.T) {
	m := squishy.TelemetryData{
		CompressionType:     "zstd",
		ExtractedDirs:       1,
		ExtractionDuration:  time.Duration(5 * time.Millisecond),
		ExtractionErrors:    1,
		ExtractedFiles:      5,
		ExtractionSize:      1024,
		ExtractedSymlinks:   2,
		ExtractedType:       "squashfs",
		InputSize:           4096,
		LastExtractionError: fmt.Errorf("example error"),
		PatternMismatches:   3,
		UnsupportedFiles:    1,
		LastUnsupportedFile: "dev/null",
	}

	expected := `{"extracted_type":"squashfs","compression_type":"zstd","input_size":4096,"extracted_dirs":1,"extracted_files":5,"extracted_symlinks":2,"extraction_size":1024,"extraction_duration":5000000,"pattern_mismatches":3,"unsupported_files":1,"last_unsupported_file":"dev/null","extraction_errors":1,"last_extraction_error":"example error"}`
	if m.String() != expected {
		t.Errorf("Expected %s, but got %s", expected, m.String())
	}
}

// TestDataStringWithoutError tests that a missing error is rendered empty
func TestDataStringWithoutError(t *testing.T) {
	m := squishy.TelemetryData{ExtractedType: "squashfs"}

	expected := `{"extracted_type":"squashfs","compression_type":"","input_size":0,"extracted_dirs":0,"extracted_files":0,"extracted_symlinks":0,"extraction_size":0,"extraction_duration":0,"pattern_mismatches":0,"unsupported_files":0,"last_unsupported_file":"","extraction_errors":0,"last_extraction_error":""}`
	if m.String() != expected {
		t.Errorf("Expected %s, but got %s", expected, m.String())
	}
}

// TestDataEquals tests the Equals method of the data struct
func TestDataEquals(t *testing.T) {
	base := func() *squishy.TelemetryData {
		return &squishy.TelemetryData{
			CompressionType:   "gzip",
			ExtractedDirs:     2,
			ExtractedFiles:    3,
			ExtractedSymlinks: 1,
			ExtractedType:     "squashfs",
		}
	}

	cases := []struct {
		name  string
		a, b  *squishy.TelemetryData
		equal bool
	}{
		{name: "identical", a: base(), b: base(), equal: true},
		{name: "both nil", a: nil, b: nil, equal: true},
		{name: "one nil", a: base(), b: nil, equal: false},
		{
			name: "duration and error are ignored",
			a:    base(),
			b: func() *squishy.TelemetryData {
				d := base()
				d.ExtractionDuration = time.Second
				d.LastExtractionError = fmt.Errorf("boom")
				return d
			}(),
			equal: true,
		},
		{
			name: "different counter",
			a:    base(),
			b: func() *squishy.TelemetryData {
				d := base()
				d.ExtractedFiles++
				return d
			}(),
			equal: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equals(tc.b); got != tc.equal {
				t.Errorf("expected Equals to be %v, got %v", tc.equal, got)
			}
		})
	}
}

// TestDataLogValue tests that a logged record carries the grouped totals
func TestDataLogValue(t *testing.T) {
	td := &squishy.TelemetryData{
		CompressionType:     "xz",
		ExtractedDirs:       2,
		ExtractedFiles:      3,
		ExtractedSymlinks:   1,
		ExtractionSize:      99,
		PatternMismatches:   4,
		UnsupportedFiles:    1,
		ExtractionErrors:    1,
		LastExtractionError: fmt.Errorf("boom"),
	}
	if td.Entries() != 6 {
		t.Errorf("expected 6 entries, got %d", td.Entries())
	}

	var buf bytes.Buffer
	slog.New(slog.NewTextHandler(&buf, nil)).Info("extraction finished", "telemetry", td)
	for _, want := range []string{
		"telemetry.compression=xz",
		"telemetry.entries=6",
		"telemetry.bytes=99",
		"telemetry.skipped=5",
		"telemetry.errors=1",
		"telemetry.last_error=boom",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in %s", want, buf.String())
		}
	}
}
