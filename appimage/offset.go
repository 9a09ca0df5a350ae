// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package appimage

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-squishy"
)

// AutoOffset requests the payload offset to be computed from the executable
// header.
const AutoOffset int64 = -1

// ErrHeaderParse is returned when the leading executable header cannot be
// parsed. An explicit offset has to be supplied in that case.
var ErrHeaderParse = errors.New("executable header parse failed")

// Provenance tells where the offset of a [Layout] comes from.
type Provenance int

const (
	ProvenanceExplicit Provenance = iota + 1 // supplied by the caller
	ProvenanceComputed                       // computed from the ELF header
)

func (p Provenance) String() string {
	switch p {
	case ProvenanceExplicit:
		return "explicit"
	case ProvenanceComputed:
		return "computed"
	default:
		return fmt.Sprintf("Provenance(%d)", int(p))
	}
}

// Layout is the position of the squashfs payload in an AppImage.
type Layout struct {
	Offset     int64
	Provenance Provenance
}

// FindLayout returns the offset of the payload in r, which holds size bytes.
//
// An explicit offset other than [AutoOffset] is only checked against size
// and returned unchanged. Otherwise r must start with an ELF executable and
// the offset is the first byte after the section header table, every
// section with file content and every program segment.
func FindLayout(r io.ReaderAt, size int64, explicit int64) (Layout, error) {
	if explicit != AutoOffset {
		if explicit < 0 || explicit > size {
			return Layout{}, fmt.Errorf("%w: offset %d outside input of %d bytes", squishy.ErrOffsetOutOfBounds, explicit, size)
		}
		return Layout{Offset: explicit, Provenance: ProvenanceExplicit}, nil
	}

	end, err := elfEnd(io.NewSectionReader(r, 0, size))
	if err != nil {
		return Layout{}, fmt.Errorf("%w: %w", ErrHeaderParse, err)
	}
	if end > uint64(size) {
		return Layout{}, fmt.Errorf("%w: executable ends at %d, beyond input of %d bytes", ErrHeaderParse, end, size)
	}
	return Layout{Offset: int64(end), Provenance: ProvenanceComputed}, nil
}

// elfEnd returns the end of the ELF executable at the start of r.
func elfEnd(r io.ReaderAt) (uint64, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return 0, err
	}

	var shoff, shentsize, shnum uint64
	switch f.Class {
	case elf.ELFCLASS64:
		var hdr elf.Header64
		if err := readHeader(r, f.ByteOrder, &hdr); err != nil {
			return 0, err
		}
		shoff, shentsize, shnum = hdr.Shoff, uint64(hdr.Shentsize), uint64(hdr.Shnum)
	case elf.ELFCLASS32:
		var hdr elf.Header32
		if err := readHeader(r, f.ByteOrder, &hdr); err != nil {
			return 0, err
		}
		shoff, shentsize, shnum = uint64(hdr.Shoff), uint64(hdr.Shentsize), uint64(hdr.Shnum)
	default:
		return 0, fmt.Errorf("unknown ELF class %s", f.Class)
	}

	end := shoff + shentsize*shnum
	for _, s := range f.Sections {
		if s.Type == elf.SHT_NOBITS {
			continue
		}
		end = max(end, s.Offset+s.Size)
	}
	for _, p := range f.Progs {
		end = max(end, p.Off+p.Filesz)
	}
	return end, nil
}

func readHeader(r io.ReaderAt, order binary.ByteOrder, hdr any) error {
	return binary.Read(io.NewSectionReader(r, 0, int64(binary.Size(hdr))), order, hdr)
}

// Type is the AppImage format version recorded in the ELF identification.
type Type int

const (
	TypeUnknown Type = 0
	Type1       Type = 1
	Type2       Type = 2
)

func (t Type) String() string {
	switch t {
	case Type1, Type2:
		return fmt.Sprintf("type %d", int(t))
	default:
		return "unknown"
	}
}

var (
	elfMagic       = []byte(elf.ELFMAG)
	appImageMagic  = []byte("AI")
	staticRuntime  = []byte{89, 171, 65, 0}
	staticRuntimeN = int64(24)
)

// DetectType reads the AppImage magic at byte 8 of the ELF identification.
// Executables without the magic report [TypeUnknown].
func DetectType(r io.ReaderAt) (Type, error) {
	ident := make([]byte, 11)
	if _, err := r.ReadAt(ident, 0); err != nil {
		return TypeUnknown, fmt.Errorf("%w: %w", ErrHeaderParse, err)
	}
	if !bytes.Equal(ident[:4], elfMagic) {
		return TypeUnknown, fmt.Errorf("%w: missing ELF magic", ErrHeaderParse)
	}
	if !bytes.Equal(ident[8:10], appImageMagic) {
		return TypeUnknown, nil
	}
	switch t := Type(ident[10]); t {
	case Type1, Type2:
		return t, nil
	default:
		return TypeUnknown, nil
	}
}

// IsStatic reports whether r carries the marker of the static AppImage
// runtime.
func IsStatic(r io.ReaderAt) (bool, error) {
	b := make([]byte, len(staticRuntime))
	if _, err := r.ReadAt(b, staticRuntimeN); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(b, staticRuntime), nil
}
