package workspace

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/ianlancetaylor/demangle"

	"github.com/wisdark/capa/internal/backend"
)

// loadELF maps an ELF image: PT_LOAD segments, allocated sections, function
// symbols and the PLT/GOT import machinery.
func loadELF(data []byte) (*image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrUnsupportedFormat, err)
	}
	defer f.Close()

	im := newImage(data)
	im.format = "elf"
	switch f.Machine {
	case elf.EM_X86_64:
		im.is64 = true
	case elf.EM_386:
		im.is64 = false
	default:
		return nil, fmt.Errorf("%w: machine %v", backend.ErrUnsupportedRuntime, f.Machine)
	}
	im.entry = f.Entry

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.segs = append(im.segs, seg{
			va:   p.Vaddr,
			off:  p.Off,
			size: p.Filesz,
			exec: p.Flags&elf.PF_X != 0,
		})
		if im.base == 0 || p.Vaddr < im.base {
			im.base = p.Vaddr
		}
	}

	for _, s := range f.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		im.sections = append(im.sections, backend.Section{
			Name:  s.Name,
			Start: backend.Address(s.Addr),
			End:   backend.Address(s.Addr + s.Size),
		})
	}

	loadELFSymbols(f, im)
	loadELFImports(f, im)
	return im, nil
}

func loadELFSymbols(f *elf.File, im *image) {
	record := func(syms []elf.Symbol) {
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 {
				continue
			}
			name := sym.Name
			if d, err := demangle.ToString(name); err == nil {
				name = d
			}
			im.symbols[sym.Value] = name
		}
	}
	if syms, err := f.Symbols(); err == nil {
		record(syms)
	}
	if dynsyms, err := f.DynamicSymbols(); err == nil {
		record(dynsyms)
	}
}

// loadELFImports parses the PLT relocations to map GOT slots to imported
// symbol names, then walks the PLT stubs so calls through either address
// resolve. ELF imports carry no module name.
func loadELFImports(f *elf.File, im *image) {
	dynsyms, err := f.DynamicSymbols()
	if err != nil {
		return
	}

	record := func(offset uint64, symIndex uint32) {
		if symIndex == 0 || int(symIndex) > len(dynsyms) {
			return
		}
		name := dynsyms[symIndex-1].Name
		if name == "" {
			return
		}
		im.imports[backend.Address(offset)] = backend.Import{Symbol: name}
	}

	if s := f.Section(".rela.plt"); s != nil {
		// 24-byte RELA entries: r_offset(8) r_info(8) r_addend(8)
		if data, err := s.Data(); err == nil {
			for off := 0; off+24 <= len(data); off += 24 {
				rOffset := binary.LittleEndian.Uint64(data[off:])
				rInfo := binary.LittleEndian.Uint64(data[off+8:])
				record(rOffset, uint32(rInfo>>32))
			}
		}
	} else if s := f.Section(".rel.plt"); s != nil {
		// 8-byte REL entries on 32-bit: r_offset(4) r_info(4)
		if data, err := s.Data(); err == nil {
			for off := 0; off+8 <= len(data); off += 8 {
				rOffset := binary.LittleEndian.Uint32(data[off:])
				rInfo := binary.LittleEndian.Uint32(data[off+4:])
				record(uint64(rOffset), rInfo>>8)
			}
		}
	}

	mapPLTStubs(f, im)
}

// mapPLTStubs decodes each x86 PLT stub ("jmp [rip+disp32]" / "jmp [abs]",
// ff 25) to its GOT slot, so a call to the stub resolves to the same import
// as the GOT slot itself.
func mapPLTStubs(f *elf.File, im *image) {
	plt := f.Section(".plt")
	if plt == nil || plt.Size == 0 {
		return
	}
	const stubSize = 16
	// skip PLT[0], the resolver stub
	for i := uint64(1); i*stubSize < plt.Size; i++ {
		stubVA := plt.Addr + i*stubSize
		raw, ok := im.readVA(stubVA, 6)
		if !ok || len(raw) < 6 || raw[0] != 0xff || raw[1] != 0x25 {
			continue
		}
		operand := binary.LittleEndian.Uint32(raw[2:])
		var gotVA uint64
		if im.is64 {
			gotVA = stubVA + 6 + uint64(int64(int32(operand)))
		} else {
			gotVA = uint64(operand)
		}
		if imp, ok := im.imports[backend.Address(gotVA)]; ok {
			im.imports[backend.Address(stubVA)] = imp
		}
	}
}
