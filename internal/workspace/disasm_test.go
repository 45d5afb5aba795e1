package workspace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdark/capa/internal/backend"
)

func decode32(t *testing.T, code []byte, va uint64) backend.Instruction {
	t.Helper()
	insn, n, err := decodeOne(code, va, false, nil)
	require.NoError(t, err)
	require.Equal(t, len(code), n, "fixture must be exactly one instruction")
	return insn
}

func TestDecodeMovImmediate(t *testing.T) {
	// mov eax, 5
	insn := decode32(t, []byte{0xb8, 0x05, 0x00, 0x00, 0x00}, 0x1000)

	assert.Equal(t, "mov", insn.Mnemonic)
	require.Len(t, insn.Operands, 2)
	assert.Equal(t, backend.OpRegister, insn.Operands[0].Kind)
	assert.True(t, insn.Operands[0].IsWrite)
	assert.Equal(t, backend.OpImmediate, insn.Operands[1].Kind)
	assert.Equal(t, uint64(5), insn.Operands[1].Value)
}

func TestDecodeMemoryDisplacement(t *testing.T) {
	// cmp [esi+4], ebx
	insn := decode32(t, []byte{0x39, 0x5e, 0x04}, 0x1000)

	assert.Equal(t, "cmp", insn.Mnemonic)
	require.Len(t, insn.Operands, 2)
	op := insn.Operands[0]
	assert.Equal(t, backend.OpMemoryDisplacement, op.Kind)
	assert.Equal(t, uint64(4), op.Displacement)
	assert.False(t, op.IsStackRef)
}

func TestDecodeStackFrameReference(t *testing.T) {
	// mov [ebp-4], eax
	insn := decode32(t, []byte{0x89, 0x45, 0xfc}, 0x1000)

	require.Len(t, insn.Operands, 2)
	op := insn.Operands[0]
	assert.Equal(t, backend.OpMemoryDisplacement, op.Kind)
	assert.True(t, op.IsStackRef)
	// the raw displacement is sign extended; consumers mask it back down
	assert.Equal(t, uint64(0xfffffffffffffffc), op.Displacement)
}

func TestDecodeStackAdjustment(t *testing.T) {
	// add esp, 0xc
	insn := decode32(t, []byte{0x83, 0xc4, 0x0c}, 0x1000)

	assert.Equal(t, "add", insn.Mnemonic)
	assert.True(t, insn.ModifiesSP)

	// add eax, 0xc is ordinary arithmetic
	insn = decode32(t, []byte{0x83, 0xc0, 0x0c}, 0x1000)
	assert.False(t, insn.ModifiesSP)
}

func TestDecodeCallForms(t *testing.T) {
	// call eax
	insn := decode32(t, []byte{0xff, 0xd0}, 0x1000)
	assert.True(t, insn.IsCall)
	require.Len(t, insn.Operands, 1)
	assert.Equal(t, backend.OpRegister, insn.Operands[0].Kind)

	// call [0x473038]
	insn = decode32(t, []byte{0xff, 0x15, 0x38, 0x30, 0x47, 0x00}, 0x1000)
	assert.True(t, insn.IsCall)
	require.Len(t, insn.Operands, 1)
	assert.Equal(t, backend.OpMemoryDirect, insn.Operands[0].Kind)
	assert.Equal(t, uint64(0x473038), insn.Operands[0].Displacement)

	// call +0x10: relative target resolves against the next instruction
	insn = decode32(t, []byte{0xe8, 0x10, 0x00, 0x00, 0x00}, 0x1000)
	assert.True(t, insn.IsCall)
	require.Len(t, insn.Operands, 1)
	assert.Equal(t, backend.OpOther, insn.Operands[0].Kind)
	assert.Equal(t, uint64(0x1015), insn.Operands[0].Value)
}

func TestDecodeRIPRelativeFoldsToDirect(t *testing.T) {
	// 64-bit mov rax, [rip+0x200]
	insn, n, err := decodeOne([]byte{0x48, 0x8b, 0x05, 0x00, 0x02, 0x00, 0x00}, 0x1000, true, nil)
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.Len(t, insn.Operands, 2)
	op := insn.Operands[1]
	assert.Equal(t, backend.OpMemoryDirect, op.Kind)
	assert.Equal(t, uint64(0x1000+7+0x200), op.Displacement)
}

func TestDecodeReturn(t *testing.T) {
	insn := decode32(t, []byte{0xc3}, 0x1000)
	assert.True(t, insn.IsReturn)
	assert.Equal(t, "ret", insn.Mnemonic)
}

func TestDecodeSegmentPrefixInText(t *testing.T) {
	// mov eax, fs:[0x30]
	insn := decode32(t, []byte{0x64, 0xa1, 0x30, 0x00, 0x00, 0x00}, 0x1000)
	assert.True(t, strings.Contains(insn.Text, "fs:"), "text %q should carry the segment prefix", insn.Text)
	require.Len(t, insn.Operands, 2)
	assert.Equal(t, backend.OpMemoryDirect, insn.Operands[1].Kind)
	assert.Equal(t, uint64(0x30), insn.Operands[1].Displacement)
}

func TestDecodeCommentFromSymbol(t *testing.T) {
	syms := map[uint64]string{0x473038: "___security_cookie"}
	lookup := func(va uint64) string { return syms[va] }

	// mov eax, [0x473038]
	insn, _, err := decodeOne([]byte{0xa1, 0x38, 0x30, 0x47, 0x00}, 0x1000, false, lookup)
	require.NoError(t, err)
	assert.Equal(t, "___security_cookie", insn.Comment)
}
