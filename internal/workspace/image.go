package workspace

import (
	"github.com/wisdark/capa/internal/backend"
)

// seg is one mapped region of the program image.
type seg struct {
	va   uint64
	off  uint64
	size uint64
	exec bool
}

// image is the loaded, read-only view of one binary: raw file bytes plus
// the address translation and metadata shared by the PE and ELF loaders.
type image struct {
	data   []byte
	base   uint64
	is64   bool
	entry  uint64
	format string // "pe", "elf" or "raw"

	segs     []seg
	sections []backend.Section

	imports map[backend.Address]backend.Import

	// symbols maps known function entry addresses to demangled names.
	symbols map[uint64]string
}

func newImage(data []byte) *image {
	return &image{
		data:    data,
		imports: map[backend.Address]backend.Import{},
		symbols: map[uint64]string{},
	}
}

// va2off translates a virtual address into a file offset using the mapped
// segments. Returns false if va is unmapped.
func (im *image) va2off(va uint64) (uint64, bool) {
	for _, s := range im.segs {
		if va >= s.va && va < s.va+s.size {
			return s.off + (va - s.va), true
		}
	}
	return 0, false
}

// readVA reads up to n bytes at va. Reads are truncated at the end of the
// containing segment; unmapped addresses return ok=false.
func (im *image) readVA(va uint64, n int) ([]byte, bool) {
	if n <= 0 {
		return []byte{}, true
	}
	for _, s := range im.segs {
		if va < s.va || va >= s.va+s.size {
			continue
		}
		off := s.off + (va - s.va)
		end := off + uint64(n)
		if max := s.off + s.size; end > max {
			end = max
		}
		if end > uint64(len(im.data)) {
			end = uint64(len(im.data))
		}
		if off >= end {
			return []byte{}, true
		}
		return im.data[off:end], true
	}
	return nil, false
}

func (im *image) isMapped(va uint64) bool {
	_, ok := im.va2off(va)
	return ok
}

func (im *image) sectionOf(va uint64) (backend.Section, bool) {
	for _, s := range im.sections {
		if backend.Address(va) >= s.Start && backend.Address(va) < s.End {
			return s, true
		}
	}
	return backend.Section{}, false
}

// inExec reports whether va falls in an executable segment, which bounds
// where disassembly is attempted.
func (im *image) inExec(va uint64) bool {
	for _, s := range im.segs {
		if s.exec && va >= s.va && va < s.va+s.size {
			return true
		}
	}
	return false
}
