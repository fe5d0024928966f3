// Package elf serializes relocatable (ET_REL) object files. Only the
// pieces a compiler backend needs: a header, section payloads and the
// section header table with its string table. No symbols, no
// relocations, no program headers.
package elf

import (
	"encoding/binary"

	"tlog.app/go/errors"
)

type (
	Class   byte
	Machine uint16

	// Section is one object file section. Size is taken from Bytes
	// except for NOBITS sections, which carry no payload and state
	// their size explicitly.
	Section struct {
		Name  string
		Type  uint32
		Flags uint64

		Link      uint32
		Info      uint32
		Addralign uint64
		Entsize   uint64

		Size  uint64
		Bytes []byte
	}

	// Writer accumulates sections and serializes them on Finish.
	// A fresh writer holds the mandatory NULL section only.
	Writer struct {
		class   Class
		machine Machine

		sections []Section
	}

	// Header is the decoded fixed part of an object file header.
	Header struct {
		Class    Class
		Data     byte
		Type     uint16
		Machine  Machine
		Shoff    uint64
		Shnum    uint16
		Shstrndx uint16
	}
)

const (
	Class64 Class = 2
	Class32 Class = 1

	MachineX86_64  Machine = 0x3e
	MachineAArch64 Machine = 0xb7

	TypeRel = 1

	SHT_NULL     uint32 = 0
	SHT_PROGBITS uint32 = 1
	SHT_STRTAB   uint32 = 3
	SHT_NOBITS   uint32 = 8

	SHF_WRITE     uint64 = 0x1
	SHF_ALLOC     uint64 = 0x2
	SHF_EXECINSTR uint64 = 0x4
)

func (c Class) headerSize() int {
	if c == Class32 {
		return 52
	}

	return 64
}

func (c Class) shentSize() int {
	if c == Class32 {
		return 40
	}

	return 64
}

func NewWriter(c Class, m Machine) *Writer {
	return &Writer{
		class:    c,
		machine:  m,
		sections: []Section{{}},
	}
}

func (w *Writer) Add(s Section) {
	w.sections = append(w.sections, s)
}

// Finish lays out and serializes the file. It reads but never mutates
// the writer, so calling it twice yields identical bytes.
//
// Layout: the string table is built and appended as the last section
// in one linear pass over the names, then file offsets are assigned
// starting right after the header. NOBITS sections receive an offset
// marker but contribute no payload bytes.
func (w *Writer) Finish() []byte {
	secs := make([]Section, len(w.sections), len(w.sections)+1)
	copy(secs, w.sections)

	strtab := []byte{0}
	names := make([]uint32, len(secs)+1)

	for i, s := range secs {
		if s.Name == "" {
			continue
		}

		names[i] = uint32(len(strtab))
		strtab = append(strtab, s.Name...)
		strtab = append(strtab, 0)
	}

	names[len(secs)] = uint32(len(strtab))
	strtab = append(strtab, ".shstrtab"...)
	strtab = append(strtab, 0)

	secs = append(secs, Section{
		Name:      ".shstrtab",
		Type:      SHT_STRTAB,
		Addralign: 1,
		Bytes:     strtab,
	})

	ehsize := w.class.headerSize()

	offsets := make([]uint64, len(secs))
	off := uint64(ehsize)

	for i, s := range secs {
		if s.Type == SHT_NULL {
			continue
		}

		offsets[i] = off

		if s.Type != SHT_NOBITS {
			off += uint64(len(s.Bytes))
		}
	}

	shoff := off

	b := w.header(nil, shoff, len(secs))

	for _, s := range secs {
		if s.Type == SHT_NOBITS {
			continue
		}

		b = append(b, s.Bytes...)
	}

	for i, s := range secs {
		b = w.sectionHeader(b, s, names[i], offsets[i])
	}

	return b
}

func (w *Writer) header(b []byte, shoff uint64, shnum int) []byte {
	le := binary.LittleEndian

	b = append(b, 0x7f, 'E', 'L', 'F')
	b = append(b, byte(w.class), 1, 1) // class, little-endian, version
	b = append(b, make([]byte, 9)...)

	b = le.AppendUint16(b, TypeRel)
	b = le.AppendUint16(b, uint16(w.machine))
	b = le.AppendUint32(b, 1)

	if w.class == Class32 {
		b = le.AppendUint32(b, 0) // entry
		b = le.AppendUint32(b, 0) // phoff
		b = le.AppendUint32(b, uint32(shoff))
	} else {
		b = le.AppendUint64(b, 0)
		b = le.AppendUint64(b, 0)
		b = le.AppendUint64(b, shoff)
	}

	b = le.AppendUint32(b, 0) // flags
	b = le.AppendUint16(b, uint16(w.class.headerSize()))
	b = le.AppendUint16(b, 0) // phentsize
	b = le.AppendUint16(b, 0) // phnum
	b = le.AppendUint16(b, uint16(w.class.shentSize()))
	b = le.AppendUint16(b, uint16(shnum))
	b = le.AppendUint16(b, uint16(shnum-1)) // shstrtab is last

	return b
}

func (w *Writer) sectionHeader(b []byte, s Section, name uint32, off uint64) []byte {
	le := binary.LittleEndian

	size := uint64(len(s.Bytes))
	if s.Type == SHT_NOBITS {
		size = s.Size
	}

	b = le.AppendUint32(b, name)
	b = le.AppendUint32(b, s.Type)

	if w.class == Class32 {
		b = le.AppendUint32(b, uint32(s.Flags))
		b = le.AppendUint32(b, 0) // addr
		b = le.AppendUint32(b, uint32(off))
		b = le.AppendUint32(b, uint32(size))
		b = le.AppendUint32(b, s.Link)
		b = le.AppendUint32(b, s.Info)
		b = le.AppendUint32(b, uint32(s.Addralign))
		b = le.AppendUint32(b, uint32(s.Entsize))

		return b
	}

	b = le.AppendUint64(b, s.Flags)
	b = le.AppendUint64(b, 0)
	b = le.AppendUint64(b, off)
	b = le.AppendUint64(b, size)
	b = le.AppendUint32(b, s.Link)
	b = le.AppendUint32(b, s.Info)
	b = le.AppendUint64(b, s.Addralign)
	b = le.AppendUint64(b, s.Entsize)

	return b
}

// ReadHeader decodes the fixed header of an object file.
func ReadHeader(b []byte) (h Header, err error) {
	if len(b) < 52 {
		return h, errors.New("truncated header: %d bytes", len(b))
	}

	if b[0] != 0x7f || b[1] != 'E' || b[2] != 'L' || b[3] != 'F' {
		return h, errors.New("bad magic: % x", b[:4])
	}

	le := binary.LittleEndian

	h.Class = Class(b[4])
	h.Data = b[5]
	h.Type = le.Uint16(b[16:])
	h.Machine = Machine(le.Uint16(b[18:]))

	switch h.Class {
	case Class32:
		h.Shoff = uint64(le.Uint32(b[32:]))
		h.Shnum = le.Uint16(b[48:])
		h.Shstrndx = le.Uint16(b[50:])
	case Class64:
		if len(b) < 64 {
			return h, errors.New("truncated header: %d bytes", len(b))
		}

		h.Shoff = le.Uint64(b[40:])
		h.Shnum = le.Uint16(b[60:])
		h.Shstrndx = le.Uint16(b[62:])
	default:
		return h, errors.New("unknown class %d", h.Class)
	}

	return h, nil
}
