package workspace

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/wisdark/capa/internal/backend"
)

const imageDirectoryEntryImport = 1

// loadPE maps a PE image: sections become segments, the entry point is
// rebased, and the import directory is walked so every IAT slot address
// resolves to its (module, symbol) pair.
func loadPE(data []byte) (*image, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrUnsupportedFormat, err)
	}
	defer f.Close()

	im := newImage(data)
	im.format = "pe"

	var imageBase uint64
	var entryRVA uint32
	var importDir pe.DataDirectory
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		im.is64 = false
		imageBase = uint64(oh.ImageBase)
		entryRVA = oh.AddressOfEntryPoint
		if int(imageDirectoryEntryImport) < len(oh.DataDirectory) {
			importDir = oh.DataDirectory[imageDirectoryEntryImport]
		}
	case *pe.OptionalHeader64:
		im.is64 = true
		imageBase = oh.ImageBase
		entryRVA = oh.AddressOfEntryPoint
		if int(imageDirectoryEntryImport) < len(oh.DataDirectory) {
			importDir = oh.DataDirectory[imageDirectoryEntryImport]
		}
	default:
		return nil, fmt.Errorf("%w: missing optional header", backend.ErrUnsupportedFormat)
	}

	switch f.Machine {
	case pe.IMAGE_FILE_MACHINE_I386, pe.IMAGE_FILE_MACHINE_AMD64:
	default:
		return nil, fmt.Errorf("%w: machine %#x", backend.ErrUnsupportedRuntime, f.Machine)
	}

	im.base = imageBase
	im.entry = imageBase + uint64(entryRVA)

	const imageScnMemExecute = 0x20000000
	for _, s := range f.Sections {
		// only file-backed bytes are readable
		size := uint64(s.VirtualSize)
		if raw := uint64(s.Size); size == 0 || raw < size {
			size = raw
		}
		va := imageBase + uint64(s.VirtualAddress)
		im.segs = append(im.segs, seg{
			va:   va,
			off:  uint64(s.Offset),
			size: size,
			exec: s.Characteristics&imageScnMemExecute != 0,
		})
		im.sections = append(im.sections, backend.Section{
			Name:  strings.TrimRight(s.Name, "\x00"),
			Start: backend.Address(va),
			End:   backend.Address(va + uint64(s.VirtualSize)),
		})
	}

	if importDir.VirtualAddress != 0 {
		loadPEImports(im, importDir)
	}
	return im, nil
}

// loadPEImports walks the import descriptor table. Each descriptor names
// one DLL; its name table gives the symbols and its FirstThunk gives the
// IAT slots that indirect calls read at runtime.
func loadPEImports(im *image, dir pe.DataDirectory) {
	const descSize = 20
	descVA := im.base + uint64(dir.VirtualAddress)
	for i := 0; ; i++ {
		desc, ok := im.readVA(descVA+uint64(i*descSize), descSize)
		if !ok || len(desc) < descSize {
			return
		}
		originalFirstThunk := binary.LittleEndian.Uint32(desc[0:])
		nameRVA := binary.LittleEndian.Uint32(desc[12:])
		firstThunk := binary.LittleEndian.Uint32(desc[16:])
		if originalFirstThunk == 0 && nameRVA == 0 && firstThunk == 0 {
			return
		}

		module := moduleName(im.cstringVA(im.base + uint64(nameRVA)))
		nameTable := originalFirstThunk
		if nameTable == 0 {
			nameTable = firstThunk
		}
		im.loadThunkTable(module, im.base+uint64(nameTable), im.base+uint64(firstThunk))
	}
}

// loadThunkTable reads one DLL's parallel thunk arrays: names from the
// name table, addresses from the IAT.
func (im *image) loadThunkTable(module string, nameVA, iatVA uint64) {
	ptrSize := uint64(4)
	if im.is64 {
		ptrSize = 8
	}
	ordinalFlag := uint64(1) << (8*ptrSize - 1)

	for i := uint64(0); ; i++ {
		raw, ok := im.readVA(nameVA+i*ptrSize, int(ptrSize))
		if !ok || len(raw) < int(ptrSize) {
			return
		}
		var entry uint64
		if im.is64 {
			entry = binary.LittleEndian.Uint64(raw)
		} else {
			entry = uint64(binary.LittleEndian.Uint32(raw))
		}
		if entry == 0 {
			return
		}

		var symbol string
		if entry&ordinalFlag != 0 {
			symbol = fmt.Sprintf("#%d", entry&0xffff)
		} else {
			// hint/name entry: u16 hint then the NUL-terminated name
			symbol = im.cstringVA(im.base + (entry &^ ordinalFlag) + 2)
		}
		if symbol == "" {
			continue
		}
		im.imports[backend.Address(iatVA+i*ptrSize)] = backend.Import{
			Module: module,
			Symbol: symbol,
		}
	}
}

// cstringVA reads a NUL-terminated string at va, bounded to keep malformed
// tables from running away.
func (im *image) cstringVA(va uint64) string {
	b, ok := im.readVA(va, 256)
	if !ok {
		return ""
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// moduleName normalizes a DLL name the way rules refer to it:
// "KERNEL32.dll" -> "kernel32".
func moduleName(dll string) string {
	dll = strings.ToLower(dll)
	if i := strings.IndexByte(dll, '.'); i >= 0 {
		dll = dll[:i]
	}
	return dll
}
