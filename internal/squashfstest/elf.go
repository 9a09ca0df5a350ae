// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package squashfstest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// ELF describes a minimal executable used to wrap an image the way an
// AppImage runtime does.
type ELF struct {
	Class elf.Class
	Data  elf.Data

	// AppImageType is written as the AppImage magic at byte 8 when non-zero.
	AppImageType byte

	// SegmentEnd adds a PT_LOAD program header covering the file up to this
	// offset when it is non-zero.
	SegmentEnd int64
}

// WrapELF prepends a 64-bit little-endian type 2 AppImage runtime to img and
// returns the combined file and the offset of img within it.
func WrapELF(img []byte) ([]byte, int64) {
	return ELF{Class: elf.ELFCLASS64, Data: elf.ELFDATA2LSB, AppImageType: 2}.Wrap(img)
}

var shstrtab = []byte("\x00.text\x00.shstrtab\x00")

// Wrap prepends the executable to img. The returned offset is where img
// starts, which is the end of the last header, section or segment.
func (e ELF) Wrap(img []byte) ([]byte, int64) {
	var order binary.ByteOrder = binary.LittleEndian
	if e.Data == elf.ELFDATA2MSB {
		order = binary.BigEndian
	}
	is64 := e.Class != elf.ELFCLASS32

	hdrSize, phentsize, shentsize := int64(52), int64(32), int64(40)
	if is64 {
		hdrSize, phentsize, shentsize = 64, 56, 64
	}
	var phoff, phnum int64
	if e.SegmentEnd > 0 {
		phoff, phnum = hdrSize, 1
	}
	textOff := align(hdrSize+phnum*phentsize, 16)
	strOff := textOff + 16
	shoff := align(strOff+int64(len(shstrtab)), 8)
	offset := max(shoff+3*shentsize, e.SegmentEnd)

	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(e.Class)
	ident[elf.EI_DATA] = byte(e.Data)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	if e.AppImageType != 0 {
		ident[8], ident[9], ident[10] = 'A', 'I', e.AppImageType
	}

	var buf bytes.Buffer
	write := func(v any) { _ = binary.Write(&buf, order, v) }

	type section struct {
		name, typ uint32
		flags     uint64
		off, size int64
		addralign uint64
	}
	sections := []section{
		{},
		{name: 1, typ: uint32(elf.SHT_PROGBITS), flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), off: textOff, size: 16, addralign: 16},
		{name: 7, typ: uint32(elf.SHT_STRTAB), off: strOff, size: int64(len(shstrtab)), addralign: 1},
	}

	if is64 {
		write(elf.Header64{
			Ident: ident, Type: uint16(elf.ET_EXEC), Machine: uint16(elf.EM_X86_64), Version: uint32(elf.EV_CURRENT),
			Phoff: uint64(phoff), Shoff: uint64(shoff), Ehsize: uint16(hdrSize),
			Phentsize: uint16(phentsize), Phnum: uint16(phnum),
			Shentsize: uint16(shentsize), Shnum: uint16(len(sections)), Shstrndx: 2,
		})
		if phnum > 0 {
			write(elf.Prog64{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Filesz: uint64(e.SegmentEnd), Memsz: uint64(e.SegmentEnd), Align: 0x1000})
		}
	} else {
		write(elf.Header32{
			Ident: ident, Type: uint16(elf.ET_EXEC), Machine: uint16(elf.EM_386), Version: uint32(elf.EV_CURRENT),
			Phoff: uint32(phoff), Shoff: uint32(shoff), Ehsize: uint16(hdrSize),
			Phentsize: uint16(phentsize), Phnum: uint16(phnum),
			Shentsize: uint16(shentsize), Shnum: uint16(len(sections)), Shstrndx: 2,
		})
		if phnum > 0 {
			write(elf.Prog32{Type: uint32(elf.PT_LOAD), Flags: uint32(elf.PF_R | elf.PF_X), Filesz: uint32(e.SegmentEnd), Memsz: uint32(e.SegmentEnd), Align: 0x1000})
		}
	}

	pad := func(to int64) {
		if n := to - int64(buf.Len()); n > 0 {
			buf.Write(make([]byte, n))
		}
	}
	pad(textOff)
	buf.Write(bytes.Repeat([]byte{0x90}, 16))
	buf.Write(shstrtab)
	pad(shoff)

	for _, s := range sections {
		if is64 {
			write(elf.Section64{Name: s.name, Type: s.typ, Flags: s.flags, Off: uint64(s.off), Size: uint64(s.size), Addralign: s.addralign})
		} else {
			write(elf.Section32{Name: s.name, Type: s.typ, Flags: uint32(s.flags), Off: uint32(s.off), Size: uint32(s.size), Addralign: uint32(s.addralign)})
		}
	}
	pad(offset)
	buf.Write(img)
	return buf.Bytes(), offset
}

func align(n, a int64) int64 {
	return (n + a - 1) / a * a
}
