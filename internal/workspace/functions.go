package workspace

import (
	"sort"
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/wisdark/capa/internal/backend"
)

// runtimeHelpers are compiler/libc scaffolding recovered by name. They are
// enumerated but excluded from feature extraction.
var runtimeHelpers = map[string]bool{
	"_init": true, "_fini": true, "_start": true,
	"__libc_csu_init": true, "__libc_csu_fini": true,
	"register_tm_clones": true, "deregister_tm_clones": true,
	"__do_global_dtors_aux": true, "frame_dummy": true,
}

// analysis is the recovered program model: function entries, per-function
// control flow, and the cross reference maps the extractor queries.
type analysis struct {
	funcs  map[backend.Address]backend.Function
	order  []backend.Address
	blocks map[backend.Address][]backend.BasicBlock

	codeRefsFrom map[backend.Address][]backend.Address
	codeRefsTo   map[backend.Address][]backend.Address
	dataRefsFrom map[backend.Address][]backend.Address
}

// analyze recovers functions from the image in two phases: a linear sweep
// over executable segments collects entry candidates (prologues and direct
// call targets), then recursive descent from each entry rebuilds its basic
// blocks and reference edges.
func analyze(im *image) *analysis {
	a := &analysis{
		funcs:        map[backend.Address]backend.Function{},
		blocks:       map[backend.Address][]backend.BasicBlock{},
		codeRefsFrom: map[backend.Address][]backend.Address{},
		codeRefsTo:   map[backend.Address][]backend.Address{},
		dataRefsFrom: map[backend.Address][]backend.Address{},
	}

	entries := map[uint64]bool{}
	if im.entry != 0 && im.inExec(im.entry) {
		entries[im.entry] = true
	}
	for va := range im.symbols {
		if im.inExec(va) {
			entries[va] = true
		}
	}
	for va := range im.imports {
		// PLT stubs are callable code mapped straight to an import
		if im.inExec(uint64(va)) {
			entries[uint64(va)] = true
		}
	}
	sweepEntries(im, entries)

	for va := range entries {
		fn := backend.Function{
			Entry: backend.Address(va),
			Name:  im.symbols[va],
		}
		fn.IsThunk = a.isThunk(im, va)
		fn.IsLibrary = runtimeHelpers[fn.Name]
		a.funcs[fn.Entry] = fn
		a.order = append(a.order, fn.Entry)
	}
	sort.Slice(a.order, func(i, j int) bool { return a.order[i] < a.order[j] })

	for _, entry := range a.order {
		a.blocks[entry] = a.buildCFG(im, uint64(entry), entries)
	}
	return a
}

// sweepEntries linearly decodes every executable segment and adds entry
// candidates: the classic push-bp/mov-bp-sp prologue and the targets of
// direct calls.
func sweepEntries(im *image, entries map[uint64]bool) {
	for _, s := range im.segs {
		if !s.exec {
			continue
		}
		code, ok := im.readVA(s.va, int(s.size))
		if !ok {
			continue
		}
		offset := 0
		var prev backend.Instruction
		havePrev := false
		for offset < len(code) {
			va := s.va + uint64(offset)
			if n := endbrLen(code[offset:]); n > 0 {
				offset += n
				havePrev = false
				continue
			}
			insn, n, err := decodeOne(code[offset:], va, im.is64, nil)
			if err != nil {
				offset++
				havePrev = false
				continue
			}

			if havePrev && isProloguePair(prev, insn) {
				entries[uint64(prev.Address)] = true
			}
			if insn.IsCall && len(insn.Operands) > 0 && insn.Operands[0].Kind == backend.OpOther {
				if target := insn.Operands[0].Value; im.inExec(target) {
					entries[target] = true
				}
			}

			prev, havePrev = insn, true
			offset += n
		}
	}
}

// isProloguePair recognises "push ebp/rbp; mov ebp,esp / mov rbp,rsp".
func isProloguePair(push, mov backend.Instruction) bool {
	if push.Mnemonic != "push" || mov.Mnemonic != "mov" {
		return false
	}
	if len(push.Operands) != 1 || len(mov.Operands) != 2 {
		return false
	}
	p, dst, src := push.Operands[0], mov.Operands[0], mov.Operands[1]
	return p.Kind == backend.OpRegister && isFrameReg(p.Reg) &&
		dst.Kind == backend.OpRegister && isFrameReg(dst.Reg) &&
		src.Kind == backend.OpRegister && isStackPtrReg(src.Reg)
}

// isThunk reports whether the code at va is a single jmp through memory,
// the shape of PLT stubs and import thunks.
func (a *analysis) isThunk(im *image, va uint64) bool {
	if _, ok := im.imports[backend.Address(va)]; ok {
		return true
	}
	code, ok := im.readVA(va, 16)
	if !ok {
		return false
	}
	insn, _, err := decodeOne(code, va, im.is64, nil)
	if err != nil || insn.Mnemonic != "jmp" || len(insn.Operands) != 1 {
		return false
	}
	return insn.Operands[0].Kind == backend.OpMemoryDirect
}

// buildCFG recovers the basic blocks of one function by recursive descent.
// Jump targets that are other known function entries are treated as tail
// calls and cut, not followed.
func (a *analysis) buildCFG(im *image, entry uint64, entries map[uint64]bool) []backend.BasicBlock {
	instrs := map[uint64]backend.Instruction{}
	sizes := map[uint64]int{}
	leaders := map[uint64]bool{entry: true}
	succs := map[uint64][]uint64{} // instruction addr -> flow targets

	symname := func(target uint64) string { return im.symbols[target] }

	work := []uint64{entry}
	seen := map[uint64]bool{}
	for len(work) > 0 {
		va := work[len(work)-1]
		work = work[:len(work)-1]
		for im.inExec(va) && !seen[va] {
			seen[va] = true
			code, ok := im.readVA(va, 16)
			if !ok {
				break
			}
			if n := endbrLen(code); n > 0 {
				sizes[va] = n
				instrs[va] = backend.Instruction{
					Address: backend.Address(va), Mnemonic: "endbr", Text: "endbr",
				}
				succs[va] = []uint64{va + uint64(n)}
				va += uint64(n)
				continue
			}
			insn, n, err := decodeOne(code, va, im.is64, symname)
			if err != nil {
				break
			}
			instrs[va] = insn
			sizes[va] = n
			next := va + uint64(n)

			a.recordRefs(im, insn)

			switch {
			case insn.IsReturn:
				// flow ends
			case insn.Mnemonic == "jmp":
				if target, ok := branchTarget(insn); ok && !entries[target] && im.inExec(target) {
					leaders[target] = true
					succs[va] = []uint64{target}
					work = append(work, target)
				}
			case isCondBranch(insn.Mnemonic):
				flows := []uint64{next}
				leaders[next] = true
				if target, ok := branchTarget(insn); ok && im.inExec(target) {
					leaders[target] = true
					flows = append(flows, target)
					work = append(work, target)
				}
				succs[va] = flows
				work = append(work, next)
			default:
				succs[va] = []uint64{next}
				va = next
				continue
			}
			break
		}
	}

	return assembleBlocks(entry, instrs, sizes, leaders, succs)
}

// assembleBlocks groups the decoded instructions into leader-delimited
// blocks and wires predecessor/successor edges between block starts.
func assembleBlocks(entry uint64, instrs map[uint64]backend.Instruction, sizes map[uint64]int, leaders map[uint64]bool, succs map[uint64][]uint64) []backend.BasicBlock {
	addrs := make([]uint64, 0, len(instrs))
	for va := range instrs {
		addrs = append(addrs, va)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	var blocks []backend.BasicBlock
	blockOf := map[uint64]uint64{} // instruction addr -> its block start
	var cur *backend.BasicBlock
	var prevEnd uint64
	for _, va := range addrs {
		if cur == nil || leaders[va] || va != prevEnd {
			blocks = append(blocks, backend.BasicBlock{Start: backend.Address(va)})
			cur = &blocks[len(blocks)-1]
		}
		cur.Instructions = append(cur.Instructions, instrs[va])
		prevEnd = va + uint64(sizes[va])
		cur.End = backend.Address(prevEnd)
		blockOf[va] = uint64(cur.Start)
	}

	index := map[uint64]*backend.BasicBlock{}
	for i := range blocks {
		index[uint64(blocks[i].Start)] = &blocks[i]
	}
	for i := range blocks {
		b := &blocks[i]
		last := uint64(b.Instructions[len(b.Instructions)-1].Address)
		for _, t := range succs[last] {
			start, ok := blockOf[t]
			if !ok || start != t {
				continue
			}
			b.Succs = append(b.Succs, backend.Address(t))
			index[t].Preds = append(index[t].Preds, b.Start)
		}
	}
	return blocks
}

// recordRefs harvests the instruction's code and data references. Code refs
// cover direct branch/call targets and calls through a direct memory slot;
// data refs cover mapped immediates and direct memory targets.
func (a *analysis) recordRefs(im *image, insn backend.Instruction) {
	addr := insn.Address
	isFlow := insn.IsCall || strings.HasPrefix(insn.Mnemonic, "j")
	for _, op := range insn.Operands {
		switch op.Kind {
		case backend.OpOther:
			if isFlow && op.Value != 0 {
				a.addCodeRef(addr, backend.Address(op.Value))
			}
		case backend.OpMemoryDirect:
			if isFlow {
				a.addCodeRef(addr, backend.Address(op.Displacement))
			}
			if im.isMapped(op.Displacement) {
				a.dataRefsFrom[addr] = append(a.dataRefsFrom[addr], backend.Address(op.Displacement))
			}
		case backend.OpImmediate:
			if im.isMapped(op.Value) {
				a.dataRefsFrom[addr] = append(a.dataRefsFrom[addr], backend.Address(op.Value))
			}
		}
	}
}

func (a *analysis) addCodeRef(from, to backend.Address) {
	for _, existing := range a.codeRefsFrom[from] {
		if existing == to {
			return
		}
	}
	a.codeRefsFrom[from] = append(a.codeRefsFrom[from], to)
	a.codeRefsTo[to] = append(a.codeRefsTo[to], from)
}

func branchTarget(insn backend.Instruction) (uint64, bool) {
	if len(insn.Operands) == 1 && insn.Operands[0].Kind == backend.OpOther && insn.Operands[0].Value != 0 {
		return insn.Operands[0].Value, true
	}
	return 0, false
}

// isCondBranch matches the conditional jump family (jz, jne, jbe, jecxz,
// ...) by mnemonic; jmp is the only unconditional member of the j-prefix
// family.
func isCondBranch(mnemonic string) bool {
	return strings.HasPrefix(mnemonic, "j") && mnemonic != "jmp"
}

func isFrameReg(r int) bool    { return frameRegs[x86asm.Reg(r)] }
func isStackPtrReg(r int) bool { return stackPtrRegs[x86asm.Reg(r)] }

// endbrLen reports the length of a CET landing pad at the start of code,
// or zero. x86asm does not decode ENDBR32/ENDBR64.
func endbrLen(code []byte) int {
	if len(code) >= 4 && code[0] == 0xf3 && code[1] == 0x0f && code[2] == 0x1e &&
		(code[3] == 0xfa || code[3] == 0xfb) {
		return 4
	}
	return 0
}
