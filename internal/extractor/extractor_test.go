package extractor

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdark/capa/internal/backend"
	"github.com/wisdark/capa/internal/backend/backendtest"
	"github.com/wisdark/capa/internal/feature"
)

// twoFunctionFixture builds a fake program with two small functions, one
// thunk and one library function.
func twoFunctionFixture() *backendtest.Fake {
	push := backend.Instruction{
		Address:  0x401000,
		Mnemonic: "push",
		Operands: []backend.Operand{{Kind: backend.OpImmediate, Value: 0x1337, Width: 4}},
	}
	xor := backend.Instruction{
		Address:  0x401002,
		Mnemonic: "xor",
		Operands: []backend.Operand{
			{Kind: backend.OpRegister, Reg: regEAX, IsWrite: true},
			{Kind: backend.OpRegister, Reg: regEBX},
		},
	}
	ret := backend.Instruction{Address: 0x401004, Mnemonic: "ret", IsReturn: true}

	mov := backend.Instruction{
		Address:  0x402000,
		Mnemonic: "mov",
		Operands: []backend.Operand{
			{Kind: backend.OpRegister, Reg: regECX, IsWrite: true},
			{Kind: backend.OpMemoryDisplacement, Reg: regESI, Displacement: 8},
		},
	}

	return &backendtest.Fake{
		Funcs: []backend.Function{
			{Entry: 0x401000},
			{Entry: 0x402000},
			{Entry: 0x405000, IsThunk: true},
			{Entry: 0x406000, IsLibrary: true},
		},
		Blocks: map[backend.Address][]backend.BasicBlock{
			0x401000: {{
				Start:        0x401000,
				End:          0x401005,
				Instructions: []backend.Instruction{push, xor, ret},
			}},
			0x402000: {{
				Start:        0x402000,
				End:          0x402006,
				Instructions: []backend.Instruction{mov},
			}},
			0x405000: {{
				Start: 0x405000,
				End:   0x405006,
				Instructions: []backend.Instruction{{
					Address:  0x405000,
					Mnemonic: "jmp",
					Operands: []backend.Operand{{Kind: backend.OpMemoryDirect, Displacement: 0x473000}},
				}},
			}},
		},
	}
}

func collectAll(t *testing.T, e *Extractor) []Pair {
	t.Helper()
	seq, err := e.Extract()
	require.NoError(t, err)
	var out []Pair
	for f, addr := range seq {
		out = append(out, Pair{Feature: f, Address: addr})
	}
	return out
}

func sortedStrings(pairs []Pair) []string {
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.Feature.String() + "@" + feature.Number(int64(p.Address)).ValueString()
	}
	sort.Strings(out)
	return out
}

func TestExtractIsIdempotent(t *testing.T) {
	fake := twoFunctionFixture()
	first := collectAll(t, New(fake))
	second := collectAll(t, New(fake))
	assert.Equal(t, sortedStrings(first), sortedStrings(second))
	assert.NotEmpty(t, first)
}

func TestExtractSkipsThunksAndLibraryFunctions(t *testing.T) {
	fake := twoFunctionFixture()
	for _, p := range collectAll(t, New(fake)) {
		assert.NotEqual(t, feature.Mnemonic("jmp"), p.Feature,
			"thunk body must not be extracted")
	}
}

func TestExtractExpectedFeatures(t *testing.T) {
	fake := twoFunctionFixture()
	pairs := collectAll(t, New(fake))

	var want = []struct {
		f    feature.Feature
		addr backend.Address
	}{
		{feature.Number(0x1337), 0x401000},
		{feature.Characteristic("nzxor"), 0x401002},
		{feature.Mnemonic("ret"), 0x401004},
		{feature.Offset(8), 0x402000},
	}
	for _, w := range want {
		var found bool
		for _, p := range pairs {
			if p.Feature.Equal(w.f) && p.Address == w.addr {
				found = true
				break
			}
		}
		assert.True(t, found, "missing %s at %#x", w.f, w.addr)
	}
}

func TestExtractStopsEarlyWithoutSideEffects(t *testing.T) {
	fake := twoFunctionFixture()
	seq, err := New(fake).Extract()
	require.NoError(t, err)

	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestExtractFatalWhenFunctionsUnavailable(t *testing.T) {
	fake := &backendtest.Fake{FuncsErr: backend.ErrUnsupportedFormat}
	_, err := New(fake).Extract()
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrUnsupportedFormat))
}

func TestImportCacheBuiltOncePerRun(t *testing.T) {
	fake := &backendtest.Fake{
		Imp: map[backend.Address]backend.Import{
			0x473038: {Module: "kernel32", Symbol: "Sleep"},
		},
	}
	cache := NewImportCache(fake)

	imp, ok := cache.Resolve(0x473038)
	require.True(t, ok)
	assert.Equal(t, "Sleep", imp.Symbol)

	// mutating the backend's view after first access must not be seen:
	// the cache never rebuilds mid-run
	fake.Imp[0x474000] = backend.Import{Module: "user32", Symbol: "MessageBoxA"}
	assert.False(t, cache.Contains(0x474000))

	_, ok = cache.Resolve(0x999999)
	assert.False(t, ok, "unmapped lookups return not-found, never a default")
}
