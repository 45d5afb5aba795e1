package extractor

import (
	"strings"

	"github.com/wisdark/capa/internal/backend"
	"github.com/wisdark/capa/internal/feature"
)

// Pair couples a feature with the address where it was observed. The pair
// is the unit handed to the rule engine.
type Pair struct {
	Feature feature.Feature
	Address backend.Address
}

// insnDetector inspects one instruction and reports zero or more features.
// Detectors never fail; an instruction they cannot judge contributes
// nothing.
type insnDetector func(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair

// insnDetectors runs in this declared order for reproducible output.
var insnDetectors = []insnDetector{
	extractInsnAPIFeatures,
	extractInsnNumberFeatures,
	extractInsnBytesFeatures,
	extractInsnStringFeatures,
	extractInsnOffsetFeatures,
	extractInsnNzxorCharacteristic,
	extractInsnMnemonicFeatures,
	extractInsnPEBAccessCharacteristic,
	extractInsnCrossSectionFlow,
	extractInsnSegmentAccessFeatures,
	extractInsnCallsFrom,
	extractInsnIndirectCallCharacteristic,
}

// resolveAPICalls resolves the call targets of insn to imported APIs,
// following exactly one level of thunk indirection. Deeper chains stay
// unresolved.
func resolveAPICalls(e *Extractor, insn *backend.Instruction) []backend.Import {
	if !insn.IsCall {
		return nil
	}
	var apis []backend.Import
	for _, ref := range e.b.CodeRefsFrom(insn.Address) {
		if imp, ok := e.imports.Resolve(ref); ok {
			apis = append(apis, imp)
			continue
		}
		// call to a thunk: the thunk body carries a data ref into the
		// import table
		fn, ok := e.b.FunctionAt(ref)
		if !ok || !fn.IsThunk {
			continue
		}
		for _, thunkRef := range e.b.DataRefsFrom(fn.Entry) {
			if imp, ok := e.imports.Resolve(thunkRef); ok {
				apis = append(apis, imp)
			}
		}
	}
	return apis
}

// extractInsnAPIFeatures emits API name features for resolved call targets.
//
// example:
//
//	call dword [0x00473038]
func extractInsnAPIFeatures(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	var out []Pair
	for _, imp := range resolveAPICalls(e, insn) {
		for _, name := range generateSymbols(imp.Module, imp.Symbol) {
			out = append(out, Pair{feature.API(name), insn.Address})
		}
	}
	return out
}

// extractInsnNumberFeatures emits immediate constants that are not mapped
// addresses.
//
// example:
//
//	push 3136B0h ; dwControlCode
func extractInsnNumberFeatures(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	if insn.IsReturn {
		// the immediate of "retn 8" is a stack adjustment
		return nil
	}
	if insn.ModifiesSP {
		// skip things like "add esp, 0Ch"
		return nil
	}
	var out []Pair
	for _, op := range insn.Operands {
		if op.Kind != backend.OpImmediate {
			continue
		}
		v := Classify(op).Immediate
		if e.b.IsMapped(backend.Address(v)) {
			// addresses are not interesting numbers
			continue
		}
		out = append(out, Pair{feature.Number(int64(v)), insn.Address})
	}
	return out
}

// extractInsnBytesFeatures emits referenced byte blobs, up to
// MaxBytesFeatureSize each.
//
// example:
//
//	push offset iid_004118d4_IShellLinkA ; riid
func extractInsnBytesFeatures(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	if insn.IsCall {
		return nil
	}
	var out []Pair
	for _, ref := range e.b.DataRefsFrom(insn.Address) {
		b, ok := e.b.ReadBytes(ref, feature.MaxBytesFeatureSize)
		if !ok || len(b) == 0 || allZeros(b) {
			continue
		}
		out = append(out, Pair{feature.Bytes(b), insn.Address})
	}
	return out
}

// extractInsnStringFeatures emits referenced printable strings.
//
// example:
//
//	push offset aAcr ; "ACR  > "
func extractInsnStringFeatures(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	var out []Pair
	for _, ref := range e.b.DataRefsFrom(insn.Address) {
		if s, ok := e.b.FindString(ref); ok && s != "" {
			out = append(out, Pair{feature.String(s), insn.Address})
		}
	}
	return out
}

// extractInsnOffsetFeatures emits structure offsets from memory operands.
// Displacements are fixed 32-bit two's-complement fields regardless of the
// instruction's operand width.
//
// example:
//
//	cmp [esi+4], ebx
func extractInsnOffsetFeatures(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	var out []Pair
	for _, op := range insn.Operands {
		if op.Kind != backend.OpMemoryPhrase && op.Kind != backend.OpMemoryDisplacement {
			continue
		}
		info := Classify(op)
		if info.IsStackRef {
			// offsets into the current stack frame are not structure
			// offsets
			continue
		}
		if e.b.IsMapped(backend.Address(info.Offset)) {
			// ignore things like "mov esi, dword_1005B148[esi]"
			continue
		}
		out = append(out, Pair{feature.Offset(twosComplement(info.Offset, 32)), insn.Address})
	}
	return out
}

// extractInsnNzxorCharacteristic emits "nzxor" for XOR instructions that
// are neither the zeroing idiom nor stack-cookie checks.
func extractInsnNzxorCharacteristic(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	if insn.Mnemonic != "xor" {
		return nil
	}
	if len(insn.Operands) < 2 {
		return nil
	}
	if operandsEqual(insn.Operands[0], insn.Operands[1]) {
		return nil
	}
	if isCookieXor(bb, insn) {
		return nil
	}
	return []Pair{{feature.Characteristic("nzxor"), insn.Address}}
}

// extractInsnMnemonicFeatures emits the canonical mnemonic.
func extractInsnMnemonicFeatures(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	return []Pair{{feature.Mnemonic(insn.Mnemonic), insn.Address}}
}

// pebIdioms are the canonical x86 PEB-via-segment spellings: selector
// offset 0x30 on 32-bit, 0x60 on 64-bit. Both IDA-style and bracketed
// renderings are accepted since the text is backend-specific.
var pebIdioms = []string{"fs:30h", "fs:[0x30]", "gs:60h", "gs:[0x60]"}

// extractInsnPEBAccessCharacteristic emits "peb access" for push/mov
// instructions reading the PEB through a segment register.
func extractInsnPEBAccessCharacteristic(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	if insn.Mnemonic != "push" && insn.Mnemonic != "mov" {
		return nil
	}
	if !hasMemoryOperand(insn) {
		return nil
	}
	text := strings.ToLower(insn.Text)
	for _, idiom := range pebIdioms {
		if strings.Contains(text, idiom) {
			return []Pair{{feature.Characteristic("peb access"), insn.Address}}
		}
	}
	return nil
}

// extractInsnSegmentAccessFeatures emits "fs access"/"gs access" for
// instructions touching those segments. Both may fire on one instruction
// if both segments appear in the text.
func extractInsnSegmentAccessFeatures(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	if !hasMemoryOperand(insn) {
		return nil
	}
	text := strings.ToLower(insn.Text)
	var out []Pair
	if strings.Contains(text, " fs:") {
		out = append(out, Pair{feature.Characteristic("fs access"), insn.Address})
	}
	if strings.Contains(text, " gs:") {
		out = append(out, Pair{feature.Characteristic("gs access"), insn.Address})
	}
	return out
}

// extractInsnCrossSectionFlow emits "cross section flow" for call/jump
// targets in a different section than the instruction. Targets whose
// section cannot be determined are skipped, not treated as cross-section.
func extractInsnCrossSectionFlow(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	here, ok := e.b.SectionOf(insn.Address)
	if !ok {
		return nil
	}
	var out []Pair
	for _, ref := range e.b.CodeRefsFrom(insn.Address) {
		if e.imports.Contains(ref) {
			// ignore API calls
			continue
		}
		there, ok := e.b.SectionOf(ref)
		if !ok {
			continue
		}
		if there == here {
			continue
		}
		out = append(out, Pair{feature.Characteristic("cross section flow"), insn.Address})
	}
	return out
}

// extractInsnCallsFrom emits "calls from" at each call *target*, not at the
// call site, so a function-scope pass can attribute "called by"
// relationships without walking backwards.
func extractInsnCallsFrom(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	if !insn.IsCall {
		return nil
	}
	var out []Pair
	for _, ref := range e.b.CodeRefsFrom(insn.Address) {
		out = append(out, Pair{feature.Characteristic("calls from"), ref})
	}
	return out
}

// extractInsnIndirectCallCharacteristic emits "indirect call" for calls
// through a register or memory phrase/displacement, e.g. "call eax" or
// "call dword ptr [edx+4]". Calls through a direct literal target do not
// count.
func extractInsnIndirectCallCharacteristic(e *Extractor, fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	if !insn.IsCall || len(insn.Operands) == 0 {
		return nil
	}
	switch insn.Operands[0].Kind {
	case backend.OpRegister, backend.OpMemoryPhrase, backend.OpMemoryDisplacement:
		return []Pair{{feature.Characteristic("indirect call"), insn.Address}}
	}
	return nil
}

func hasMemoryOperand(insn *backend.Instruction) bool {
	for _, op := range insn.Operands {
		if op.IsMemory() {
			return true
		}
	}
	return false
}
