// Package workspace loads a PE or ELF binary, recovers functions and
// control flow with a static x86 disassembly sweep, and serves the result
// through the backend query interface.
package workspace

import (
	"bytes"
	"fmt"
	"os"

	"github.com/wisdark/capa/internal/backend"
)

// Workspace is a fully analyzed program image. It is immutable after
// construction and safe for concurrent readers.
type Workspace struct {
	im *image
	a  *analysis
}

var _ backend.Backend = (*Workspace)(nil)

// Open loads and analyzes the binary at path.
func Open(path string) (*Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return FromImage(data)
}

// FromImage loads and analyzes a binary already in memory, sniffing the
// container format from its magic.
func FromImage(data []byte) (*Workspace, error) {
	var im *image
	var err error
	switch {
	case len(data) >= 2 && data[0] == 'M' && data[1] == 'Z':
		im, err = loadPE(data)
	case bytes.HasPrefix(data, []byte{0x7f, 'E', 'L', 'F'}):
		im, err = loadELF(data)
	default:
		return nil, fmt.Errorf("%w: unrecognized magic", backend.ErrUnsupportedFormat)
	}
	if err != nil {
		return nil, err
	}
	return &Workspace{im: im, a: analyze(im)}, nil
}

// FromCode analyzes a raw code blob mapped executable at base, with no
// container metadata. Used for shellcode-style input and fixtures.
func FromCode(code []byte, base uint64, is64 bool) *Workspace {
	im := newImage(code)
	im.format = "raw"
	im.base = base
	im.entry = base
	im.is64 = is64
	im.segs = []seg{{va: base, off: 0, size: uint64(len(code)), exec: true}}
	im.sections = []backend.Section{{
		Name:  ".text",
		Start: backend.Address(base),
		End:   backend.Address(base + uint64(len(code))),
	}}
	return &Workspace{im: im, a: analyze(im)}
}

func (w *Workspace) Functions() ([]backend.Function, error) {
	out := make([]backend.Function, 0, len(w.a.order))
	for _, entry := range w.a.order {
		out = append(out, w.a.funcs[entry])
	}
	return out, nil
}

// FunctionAt resolves the function whose recovered blocks contain addr.
func (w *Workspace) FunctionAt(addr backend.Address) (backend.Function, bool) {
	for entry, blocks := range w.a.blocks {
		for _, b := range blocks {
			if addr >= b.Start && addr < b.End {
				return w.a.funcs[entry], true
			}
		}
	}
	return backend.Function{}, false
}

func (w *Workspace) BasicBlocks(entry backend.Address) []backend.BasicBlock {
	return w.a.blocks[entry]
}

func (w *Workspace) CodeRefsFrom(addr backend.Address) []backend.Address {
	return w.a.codeRefsFrom[addr]
}

func (w *Workspace) CodeRefsTo(addr backend.Address) []backend.Address {
	return w.a.codeRefsTo[addr]
}

func (w *Workspace) DataRefsFrom(addr backend.Address) []backend.Address {
	return w.a.dataRefsFrom[addr]
}

func (w *Workspace) ReadBytes(addr backend.Address, n int) ([]byte, bool) {
	return w.im.readVA(uint64(addr), n)
}

func (w *Workspace) FindString(addr backend.Address) (string, bool) {
	return w.im.findString(uint64(addr))
}

func (w *Workspace) SectionOf(addr backend.Address) (backend.Section, bool) {
	return w.im.sectionOf(uint64(addr))
}

func (w *Workspace) IsMapped(addr backend.Address) bool {
	return w.im.isMapped(uint64(addr))
}

func (w *Workspace) Imports() map[backend.Address]backend.Import {
	return w.im.imports
}

// Entry returns the program entry point.
func (w *Workspace) Entry() backend.Address {
	return backend.Address(w.im.entry)
}

// Is64 reports whether the image is 64-bit.
func (w *Workspace) Is64() bool {
	return w.im.is64
}

// Format names the container format: "pe", "elf" or "raw".
func (w *Workspace) Format() string {
	return w.im.format
}

// Arch names the instruction set architecture.
func (w *Workspace) Arch() string {
	if w.im.is64 {
		return "amd64"
	}
	return "i386"
}
