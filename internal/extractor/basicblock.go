package extractor

import (
	"strings"

	"github.com/wisdark/capa/internal/backend"
	"github.com/wisdark/capa/internal/feature"
)

// MinStackstringLen is the number of printable immediate bytes moved onto
// the stack before a block counts as building a stack string.
const MinStackstringLen = 8

type blockDetector func(e *Extractor, fn *backend.Function, bb *backend.BasicBlock) []Pair

var blockDetectors = []blockDetector{
	extractBBTightLoop,
	extractBBStackstring,
}

// extractBBTightLoop emits "tight loop" when a block branches back to its
// own start.
func extractBBTightLoop(e *Extractor, fn *backend.Function, bb *backend.BasicBlock) []Pair {
	for _, succ := range bb.Succs {
		if succ == bb.Start {
			return []Pair{{feature.Characteristic("tight loop"), bb.Start}}
		}
	}
	return nil
}

// extractBBStackstring emits "stack string" when a block moves enough
// printable immediate bytes onto the stack frame.
func extractBBStackstring(e *Extractor, fn *backend.Function, bb *backend.BasicBlock) []Pair {
	count := 0
	for i := range bb.Instructions {
		insn := &bb.Instructions[i]
		if !isMovImmToStack(insn) {
			continue
		}
		src := insn.Operands[1]
		count += printableLen(Classify(src).Immediate, src.Width)
		if count > MinStackstringLen {
			return []Pair{{feature.Characteristic("stack string"), bb.Start}}
		}
	}
	return nil
}

// isMovImmToStack reports whether insn moves an immediate into the current
// stack frame.
func isMovImmToStack(insn *backend.Instruction) bool {
	if !strings.HasPrefix(insn.Mnemonic, "mov") {
		return false
	}
	if len(insn.Operands) != 2 {
		return false
	}
	dst, src := insn.Operands[0], insn.Operands[1]
	return dst.IsMemory() && dst.IsStackRef && src.Kind == backend.OpImmediate
}

// printableLen returns the immediate's width in characters if all its
// bytes are printable ASCII, half the width if printable UTF-16LE, else 0.
func printableLen(v uint64, width int) int {
	if width <= 0 || width > 8 {
		return 0
	}
	chars := make([]byte, width)
	for i := range chars {
		chars[i] = byte(v >> (8 * uint(i)))
	}
	if isPrintableASCII(chars) {
		return width
	}
	if isPrintableUTF16LE(chars) {
		return width / 2
	}
	return 0
}

func isPrintableASCII(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			// tolerate the common whitespace escapes
			if c != '\t' && c != '\n' && c != '\r' {
				return false
			}
		}
	}
	return len(b) > 0
}

func isPrintableUTF16LE(b []byte) bool {
	if len(b)%2 != 0 {
		return false
	}
	lo := make([]byte, 0, len(b)/2)
	for i := 0; i < len(b); i += 2 {
		if b[i+1] != 0 {
			return false
		}
		lo = append(lo, b[i])
	}
	return isPrintableASCII(lo)
}
