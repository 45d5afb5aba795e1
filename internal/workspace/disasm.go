package workspace

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"

	"github.com/wisdark/capa/internal/backend"
)

var stackPtrRegs = map[x86asm.Reg]bool{
	x86asm.SP: true, x86asm.ESP: true, x86asm.RSP: true,
}

var frameRegs = map[x86asm.Reg]bool{
	x86asm.BP: true, x86asm.EBP: true, x86asm.RBP: true,
}

// isStackReg covers both the stack pointer and the frame pointer; memory
// operands based on either address the current frame.
func isStackReg(r x86asm.Reg) bool {
	return stackPtrRegs[r] || frameRegs[r]
}

// firstOperandWritten lists the mnemonics whose first operand is a
// destination. Kept deliberately small: it only has to cover the
// instructions the extraction heuristics reason about.
var firstOperandWritten = map[x86asm.Op]bool{
	x86asm.MOV: true, x86asm.MOVZX: true, x86asm.MOVSX: true, x86asm.MOVSXD: true,
	x86asm.LEA: true, x86asm.POP: true, x86asm.XCHG: true,
	x86asm.ADD: true, x86asm.SUB: true, x86asm.ADC: true, x86asm.SBB: true,
	x86asm.AND: true, x86asm.OR: true, x86asm.XOR: true, x86asm.NOT: true,
	x86asm.NEG: true, x86asm.INC: true, x86asm.DEC: true,
	x86asm.SHL: true, x86asm.SHR: true, x86asm.SAR: true,
	x86asm.ROL: true, x86asm.ROR: true, x86asm.IMUL: true,
}

// decodeOne decodes the instruction at va and lifts it into the backend
// model, returning the encoded length alongside. symname, when non-nil,
// resolves addresses to symbol names; a hit on the instruction's data
// target becomes its inline comment.
func decodeOne(code []byte, va uint64, is64 bool, symname func(uint64) string) (backend.Instruction, int, error) {
	mode := 32
	if is64 {
		mode = 64
	}
	raw, err := x86asm.Decode(code, mode)
	if err != nil {
		return backend.Instruction{}, 0, err
	}

	next := va + uint64(raw.Len)
	insn := backend.Instruction{
		Address:  backend.Address(va),
		Mnemonic: strings.ToLower(raw.Op.String()),
		IsCall:   raw.Op == x86asm.CALL || raw.Op == x86asm.LCALL,
		IsReturn: raw.Op == x86asm.RET || raw.Op == x86asm.LRET,
		Text:     strings.ToLower(x86asm.IntelSyntax(raw, va, nil)),
	}

	for i, arg := range raw.Args {
		if arg == nil {
			break
		}
		op := liftOperand(raw, arg, next)
		op.IsWrite = i == 0 && firstOperandWritten[raw.Op]
		insn.Operands = append(insn.Operands, op)
	}

	insn.ModifiesSP = modifiesSP(raw, insn.Operands)
	if symname != nil {
		insn.Comment = dataComment(insn, symname)
	}
	return insn, raw.Len, nil
}

// liftOperand maps one x86asm argument onto the operand model. next is the
// address of the following instruction, used to resolve RIP-relative memory
// into an absolute target.
func liftOperand(raw x86asm.Inst, arg x86asm.Arg, next uint64) backend.Operand {
	switch a := arg.(type) {
	case x86asm.Reg:
		return backend.Operand{
			Kind:  backend.OpRegister,
			Reg:   int(a),
			Width: raw.DataSize / 8,
		}
	case x86asm.Imm:
		return backend.Operand{
			Kind:  backend.OpImmediate,
			Value: uint64(a),
			Width: raw.DataSize / 8,
		}
	case x86asm.Mem:
		op := backend.Operand{Width: raw.MemBytes}
		switch {
		case a.Base == x86asm.RIP:
			// fold RIP-relative addressing into the absolute target so
			// memory-direct consumers never see the encoding detail
			op.Kind = backend.OpMemoryDirect
			op.Displacement = next + uint64(a.Disp)
		case a.Base == 0 && a.Index == 0:
			op.Kind = backend.OpMemoryDirect
			op.Displacement = uint64(a.Disp)
		case a.Disp != 0:
			op.Kind = backend.OpMemoryDisplacement
			op.Reg = int(a.Base)
			op.Displacement = uint64(a.Disp)
			op.IsStackRef = isStackReg(a.Base)
		default:
			op.Kind = backend.OpMemoryPhrase
			op.Reg = int(a.Base)
			op.IsStackRef = isStackReg(a.Base)
		}
		return op
	case x86asm.Rel:
		// branch targets surface through code refs; the resolved address
		// rides along in Value for the control flow recovery
		return backend.Operand{Kind: backend.OpOther, Value: next + uint64(int64(a))}
	default:
		return backend.Operand{Kind: backend.OpOther}
	}
}

// modifiesSP reports explicit stack pointer arithmetic, the add/sub
// adjustments compilers emit around calls and frames.
func modifiesSP(raw x86asm.Inst, ops []backend.Operand) bool {
	switch raw.Op {
	case x86asm.ADD, x86asm.SUB:
	default:
		return false
	}
	return len(ops) > 0 && ops[0].Kind == backend.OpRegister && stackPtrRegs[x86asm.Reg(ops[0].Reg)]
}

// dataComment annotates an instruction with the symbol name of its direct
// memory target, mirroring what an interactive disassembler would render
// in the margin.
func dataComment(insn backend.Instruction, symname func(uint64) string) string {
	for _, op := range insn.Operands {
		var target uint64
		switch {
		case op.Kind == backend.OpMemoryDirect:
			target = op.Displacement
		case op.Kind == backend.OpImmediate:
			target = op.Value
		default:
			continue
		}
		if name := symname(target); name != "" {
			return name
		}
	}
	return ""
}
