package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdark/capa/internal/backend"
)

// loopFixture is a tiny 32-bit program at base 0x400000:
//
//	400000: push ebp
//	400001: mov ebp, esp
//	400003: mov eax, 5
//	400008: xor ecx, ecx
//	40000a: dec eax
//	40000b: jnz 0x40000a
//	40000d: call 0x40001b
//	400012: ret
//	400013: int3 padding
//	40001b: push ebp
//	40001c: mov ebp, esp
//	40001e: pop ebp
//	40001f: ret
func loopFixture() []byte {
	code := []byte{
		0x55,                         // push ebp
		0x89, 0xe5,                   // mov ebp, esp
		0xb8, 0x05, 0x00, 0x00, 0x00, // mov eax, 5
		0x31, 0xc9,                   // xor ecx, ecx
		0x48,                         // dec eax
		0x75, 0xfd,                   // jnz -3
		0xe8, 0x09, 0x00, 0x00, 0x00, // call +9
		0xc3,                         // ret
	}
	for len(code) < 0x1b {
		code = append(code, 0xcc)
	}
	code = append(code,
		0x55,       // push ebp
		0x89, 0xe5, // mov ebp, esp
		0x5d, // pop ebp
		0xc3, // ret
	)
	return code
}

const fixtureBase = 0x400000

func TestFromCodeRecoversFunctions(t *testing.T) {
	w := FromCode(loopFixture(), fixtureBase, false)

	funcs, err := w.Functions()
	require.NoError(t, err)

	var entries []backend.Address
	for _, fn := range funcs {
		entries = append(entries, fn.Entry)
	}
	assert.Equal(t, []backend.Address{fixtureBase, fixtureBase + 0x1b}, entries)
}

func TestBlocksAndSelfLoop(t *testing.T) {
	w := FromCode(loopFixture(), fixtureBase, false)

	blocks := w.BasicBlocks(fixtureBase)
	require.Len(t, blocks, 3)

	assert.Equal(t, backend.Address(fixtureBase), blocks[0].Start)
	assert.Equal(t, backend.Address(fixtureBase+0x0a), blocks[1].Start)
	assert.Equal(t, backend.Address(fixtureBase+0x0d), blocks[2].Start)

	// the dec/jnz block loops back to itself
	loop := blocks[1]
	assert.Contains(t, loop.Succs, loop.Start)
	assert.Contains(t, loop.Succs, blocks[2].Start)
	assert.Contains(t, loop.Preds, loop.Start)
	assert.Contains(t, loop.Preds, blocks[0].Start)
}

func TestCallReferences(t *testing.T) {
	w := FromCode(loopFixture(), fixtureBase, false)

	callsite := backend.Address(fixtureBase + 0x0d)
	callee := backend.Address(fixtureBase + 0x1b)

	assert.Equal(t, []backend.Address{callee}, w.CodeRefsFrom(callsite))
	assert.Equal(t, []backend.Address{callsite}, w.CodeRefsTo(callee))

	fn, ok := w.FunctionAt(callee + 3)
	require.True(t, ok)
	assert.Equal(t, callee, fn.Entry)
}

func TestFromImageRejectsUnknownMagic(t *testing.T) {
	_, err := FromImage([]byte("not a binary at all"))
	require.ErrorIs(t, err, backend.ErrUnsupportedFormat)
}

func TestFindString(t *testing.T) {
	code := append(loopFixture(), []byte("hello world\x00")...)
	code = append(code, 'h', 0, 'i', 0, '!', 0, 0, 0)
	w := FromCode(code, fixtureBase, false)

	asciiVA := backend.Address(fixtureBase + 0x20)
	s, ok := w.FindString(asciiVA)
	require.True(t, ok)
	assert.Equal(t, "hello world", s)

	utf16VA := asciiVA + 12
	s, ok = w.FindString(utf16VA)
	require.True(t, ok)
	assert.Equal(t, "hi!", s)

	_, ok = w.FindString(backend.Address(fixtureBase - 1))
	assert.False(t, ok)
}

func TestReadBytesTruncatesAtSegmentEnd(t *testing.T) {
	w := FromCode([]byte{0x90, 0x90, 0xc3}, fixtureBase, false)

	b, ok := w.ReadBytes(fixtureBase+1, 16)
	require.True(t, ok)
	assert.Equal(t, []byte{0x90, 0xc3}, b)

	_, ok = w.ReadBytes(fixtureBase+0x1000, 1)
	assert.False(t, ok)
}

func TestStringDetectors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
		ok   bool
	}{
		{"ascii", []byte("flag\x00"), "flag", true},
		{"too short ascii", []byte("a\x00"), "", false},
		{"unterminated", []byte("abcdef"), "", false},
		{"utf16", []byte{'o', 0, 'k', 0, '?', 0, 0, 0}, "ok?", true},
		{"too short utf16", []byte{'o', 0, 'k', 0, 0, 0}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := detectASCII(tt.raw)
			if !ok {
				got, ok = detectUTF16(tt.raw)
			}
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModuleName(t *testing.T) {
	assert.Equal(t, "kernel32", moduleName("KERNEL32.dll"))
	assert.Equal(t, "ws2_32", moduleName("ws2_32.DLL"))
	assert.Equal(t, "ntdll", moduleName("ntdll"))
}
