// Package backendtest provides an in-memory backend for exercising the
// extractor without a real disassembler.
package backendtest

import (
	"github.com/wisdark/capa/internal/backend"
)

// Fake is a hand-populated backend.Backend. The zero value is usable;
// populate the exported fields before handing it to an extractor.
type Fake struct {
	Funcs    []backend.Function
	Blocks   map[backend.Address][]backend.BasicBlock // function entry -> blocks
	CodeRefs map[backend.Address][]backend.Address    // instruction -> code refs from
	DataRefs map[backend.Address][]backend.Address    // instruction -> data refs from
	Memory   map[backend.Address][]byte               // address -> readable bytes
	Strings  map[backend.Address]string               // address -> probed string
	Sections []backend.Section
	Mapped   map[backend.Address]bool // extra mapped addresses beyond Memory and Sections
	Imp      map[backend.Address]backend.Import

	// FuncsErr, when set, makes Functions fail (run-fatal path).
	FuncsErr error
}

var _ backend.Backend = (*Fake)(nil)

func (f *Fake) Functions() ([]backend.Function, error) {
	if f.FuncsErr != nil {
		return nil, f.FuncsErr
	}
	return f.Funcs, nil
}

func (f *Fake) FunctionAt(addr backend.Address) (backend.Function, bool) {
	for _, fn := range f.Funcs {
		if fn.Entry == addr {
			return fn, true
		}
	}
	return backend.Function{}, false
}

func (f *Fake) BasicBlocks(entry backend.Address) []backend.BasicBlock {
	return f.Blocks[entry]
}

func (f *Fake) CodeRefsFrom(addr backend.Address) []backend.Address {
	return f.CodeRefs[addr]
}

func (f *Fake) CodeRefsTo(addr backend.Address) []backend.Address {
	var refs []backend.Address
	for src, targets := range f.CodeRefs {
		for _, t := range targets {
			if t == addr {
				refs = append(refs, src)
			}
		}
	}
	return refs
}

func (f *Fake) DataRefsFrom(addr backend.Address) []backend.Address {
	return f.DataRefs[addr]
}

func (f *Fake) ReadBytes(addr backend.Address, n int) ([]byte, bool) {
	b, ok := f.Memory[addr]
	if !ok {
		return nil, false
	}
	if n < len(b) {
		b = b[:n]
	}
	return b, true
}

func (f *Fake) FindString(addr backend.Address) (string, bool) {
	s, ok := f.Strings[addr]
	return s, ok
}

func (f *Fake) SectionOf(addr backend.Address) (backend.Section, bool) {
	for _, s := range f.Sections {
		if addr >= s.Start && addr < s.End {
			return s, true
		}
	}
	return backend.Section{}, false
}

func (f *Fake) IsMapped(addr backend.Address) bool {
	if f.Mapped[addr] {
		return true
	}
	if _, ok := f.Memory[addr]; ok {
		return true
	}
	_, ok := f.SectionOf(addr)
	return ok
}

func (f *Fake) Imports() map[backend.Address]backend.Import {
	if f.Imp == nil {
		return map[backend.Address]backend.Import{}
	}
	return f.Imp
}
