package extractor

import "github.com/wisdark/capa/internal/backend"

// OperandInfo is the classifier's view of one operand.
type OperandInfo struct {
	Kind backend.OperandKind
	Reg  int

	// Immediate is the operand value masked to the operand width.
	Immediate uint64

	// Offset is the raw displacement of a memory operand. Zero when the
	// displacement is absent; HasOffset tells the cases apart.
	Offset    uint64
	HasOffset bool

	IsWrite    bool
	IsStackRef bool
}

// Classify inspects a single operand and reports its kind, role and any
// embedded literal component.
func Classify(op backend.Operand) OperandInfo {
	info := OperandInfo{
		Kind:       op.Kind,
		Reg:        op.Reg,
		IsWrite:    op.IsWrite,
		IsStackRef: op.IsStackRef,
	}
	switch op.Kind {
	case backend.OpImmediate:
		info.Immediate = maskToWidth(op.Value, op.Width)
	case backend.OpMemoryPhrase, backend.OpMemoryDisplacement:
		info.Offset = op.Displacement
		info.HasOffset = true
	}
	return info
}

// maskToWidth truncates v to the given operand width in bytes. Unknown
// widths pass through unmasked.
func maskToWidth(v uint64, width int) uint64 {
	if width <= 0 || width >= 8 {
		return v
	}
	return v & (uint64(1)<<(8*uint(width)) - 1)
}

// operandsEqual reports whether two operands are syntactically identical,
// e.g. both sides of "xor eax, eax".
func operandsEqual(a, b backend.Operand) bool {
	return a.Kind == b.Kind &&
		a.Reg == b.Reg &&
		a.Value == b.Value &&
		a.Displacement == b.Displacement
}
