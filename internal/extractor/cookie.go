package extractor

import (
	"strings"

	"github.com/wisdark/capa/internal/backend"
)

// looksLikeCookieComment reports whether text refers to a stack-protection
// canary, e.g. "StackCookie" or "___security_cookie".
func looksLikeCookieComment(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.Contains(s, "cookie") {
		return false
	}
	return strings.Contains(s, "stack") || strings.Contains(s, "security")
}

// blockCookieRegisters scans a basic block for instructions whose rendered
// text or comment mentions the stack cookie and collects the register ids
// they write. These registers taint later XORs in the same block.
//
// Assumes the cookie-setting instruction and the suspect XOR share the
// block and the register is not reassigned in between. This is a known
// approximation carried over from the reference behavior.
func blockCookieRegisters(bb *backend.BasicBlock) []int {
	var regs []int
	for i := range bb.Instructions {
		insn := &bb.Instructions[i]
		if !looksLikeCookieComment(insn.Text) && !looksLikeCookieComment(insn.Comment) {
			continue
		}
		for _, op := range insn.Operands {
			if op.Kind == backend.OpRegister && op.IsWrite {
				regs = append(regs, op.Reg)
			}
		}
	}
	return regs
}

// isCookieXor classifies an XOR instruction as stack-cookie related, either
// by its own inline comment or because one of its register operands was
// written by a cookie-setting instruction earlier in the block.
func isCookieXor(bb *backend.BasicBlock, insn *backend.Instruction) bool {
	if looksLikeCookieComment(insn.Comment) {
		return true
	}
	tainted := blockCookieRegisters(bb)
	if len(tainted) == 0 {
		return false
	}
	n := len(insn.Operands)
	if n > 2 {
		n = 2
	}
	for _, op := range insn.Operands[:n] {
		if op.Kind != backend.OpRegister {
			continue
		}
		for _, reg := range tainted {
			if op.Reg == reg {
				return true
			}
		}
	}
	return false
}
