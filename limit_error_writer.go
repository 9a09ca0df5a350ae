// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squishy

import (
	"fmt"
	"io"
)

// limitErrorWriter wraps an io.Writer and fails with
// ErrMaxExtractionSizeExceeded once more than L bytes are written.
type limitErrorWriter struct {
	W io.Writer // underlying writer
	L int64     // limit
	N int64     // number of bytes written
}

// Write writes p to the underlying writer. If p does not fit into the
// remaining budget, the fitting prefix is written and an error is returned.
func (l *limitErrorWriter) Write(p []byte) (n int, err error) {
	if l.N >= l.L && len(p) > 0 {
		return 0, l.exceeded()
	}

	if int64(len(p)) > l.L-l.N {
		n, err = l.W.Write(p[:l.L-l.N])
		l.N += int64(n)
		if err == nil {
			err = l.exceeded()
		}
		return n, err
	}

	n, err = l.W.Write(p)
	l.N += int64(n)
	return n, err
}

func (l *limitErrorWriter) exceeded() error {
	return fmt.Errorf("%w: limit of %d bytes: %w", ErrMaxExtractionSizeExceeded, l.L, io.ErrShortWrite)
}

// limitWriter returns w limited to maxSize bytes. A negative maxSize
// disables the limit.
func limitWriter(w io.Writer, maxSize int64) io.Writer {
	if maxSize < 0 {
		return w
	}
	return &limitErrorWriter{W: w, L: maxSize}
}
