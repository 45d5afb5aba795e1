// Package backend defines the read-only data model and the narrow query
// interface the feature extractor consumes. A backend is any disassembly or
// analysis engine able to answer these queries; the extractor itself never
// decodes bytes or builds control flow.
package backend

import "errors"

// Run-fatal backend failures. Everything else a backend cannot answer is
// reported as "not found", never as an error.
var (
	ErrUnsupportedFormat  = errors.New("unsupported input format")
	ErrUnsupportedRuntime = errors.New("unsupported runtime or environment")
)

// Address identifies a byte location in the mapped program image.
type Address uint64

// OperandKind classifies a single instruction operand.
type OperandKind int

const (
	OpImmediate OperandKind = iota
	OpRegister
	OpMemoryPhrase       // [base] or [base+index*scale]
	OpMemoryDisplacement // [base+disp]
	OpMemoryDirect       // [disp] with no base or index
	OpOther
)

// Operand is one operand of a decoded instruction.
type Operand struct {
	Kind OperandKind

	// Reg is the register id for OpRegister operands and the base register
	// of memory operands. Zero means no register.
	Reg int

	// Value is the raw numeric encoding for immediates.
	Value uint64

	// Displacement is the raw displacement component of a memory operand.
	// Zero both when the displacement is absent and when it is explicitly
	// zero; distinguish via Kind.
	Displacement uint64

	// Width is the operand width in bytes, when known.
	Width int

	// IsWrite is true if the instruction modifies this operand.
	IsWrite bool

	// IsStackRef is true for memory operands addressing the current stack
	// frame (via the stack or frame pointer).
	IsStackRef bool
}

// IsMemory reports whether the operand references memory.
func (op Operand) IsMemory() bool {
	switch op.Kind {
	case OpMemoryPhrase, OpMemoryDisplacement, OpMemoryDirect:
		return true
	}
	return false
}

// Instruction is one decoded machine instruction. Immutable once produced.
type Instruction struct {
	Address    Address
	Mnemonic   string // canonical, lower-case
	Operands   []Operand
	IsCall     bool
	IsReturn   bool
	ModifiesSP bool   // explicitly adjusts the stack pointer
	Text       string // rendered disassembly
	Comment    string // inline comment, may be empty
}

// BasicBlock is a straight-line instruction sequence covering
// [Start, End).
type BasicBlock struct {
	Start        Address
	End          Address
	Instructions []Instruction
	Preds        []Address // start addresses of predecessor blocks
	Succs        []Address // start addresses of successor blocks
}

// Function is a recovered function. Thunks and library functions are
// excluded from feature extraction by policy.
type Function struct {
	Entry     Address
	Name      string
	IsThunk   bool
	IsLibrary bool
}

// Import names one resolved import table entry.
type Import struct {
	Module string
	Symbol string
}

// Section is a named address range of the binary.
type Section struct {
	Name  string
	Start Address
	End   Address
}

// Backend is the query contract between the extractor and the
// disassembly/analysis engine. Implementations must treat all results as
// immutable once returned; the extractor never mutates them.
//
// Only Functions may fail; every other query answers "not found" with its
// ok result instead of an error.
type Backend interface {
	// Functions enumerates all recovered functions. An error here is
	// run-fatal and aborts the whole extraction.
	Functions() ([]Function, error)

	// FunctionAt returns the function containing addr, if any.
	FunctionAt(addr Address) (Function, bool)

	// BasicBlocks enumerates the basic blocks of the function entered at
	// entry, with predecessor and successor edges populated.
	BasicBlocks(entry Address) []BasicBlock

	// CodeRefsFrom returns call/jump target addresses of the instruction
	// at addr, excluding ordinary fall-through flow.
	CodeRefsFrom(addr Address) []Address

	// CodeRefsTo returns the addresses of instructions that call or jump
	// to addr.
	CodeRefsTo(addr Address) []Address

	// DataRefsFrom returns the data reference targets of the instruction
	// at addr.
	DataRefsFrom(addr Address) []Address

	// ReadBytes reads up to n bytes at addr. Short reads at the end of a
	// mapped region are not an error; unmapped addresses return ok=false.
	ReadBytes(addr Address, n int) ([]byte, bool)

	// FindString probes for a printable, terminated ASCII or UTF-16LE
	// string at addr.
	FindString(addr Address) (string, bool)

	// SectionOf maps addr to its containing section.
	SectionOf(addr Address) (Section, bool)

	// IsMapped reports whether addr lies inside the mapped image.
	IsMapped(addr Address) bool

	// Imports returns the resolved import table, keyed by the address a
	// call or pointer target resolves to. Read-only after construction.
	Imports() map[Address]Import
}
