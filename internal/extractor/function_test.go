package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisdark/capa/internal/backend"
	"github.com/wisdark/capa/internal/backend/backendtest"
	"github.com/wisdark/capa/internal/feature"
)

func TestFunctionCallsTo(t *testing.T) {
	fake := &backendtest.Fake{
		CodeRefs: map[backend.Address][]backend.Address{
			0x401000: {0x402000},
			0x403000: {0x402000},
		},
	}
	e := New(fake)
	fn := backend.Function{Entry: 0x402000}

	pairs := extractFunctionCallsTo(e, &fn, nil)
	require.Len(t, pairs, 2)
	addrs := []backend.Address{pairs[0].Address, pairs[1].Address}
	assert.ElementsMatch(t, []backend.Address{0x401000, 0x403000}, addrs)
	for _, p := range pairs {
		assert.Equal(t, feature.Characteristic("calls to"), p.Feature)
	}
}

func TestFunctionLoop(t *testing.T) {
	e := New(&backendtest.Fake{})
	fn := backend.Function{Entry: 0x401000}

	t.Run("back edge", func(t *testing.T) {
		blocks := []backend.BasicBlock{
			{Start: 0x401000, End: 0x401010, Succs: []backend.Address{0x401010}},
			{Start: 0x401010, End: 0x401020, Succs: []backend.Address{0x401000, 0x401020}},
			{Start: 0x401020, End: 0x401030},
		}
		pairs := extractFunctionLoop(e, &fn, blocks)
		require.Len(t, pairs, 1)
		assert.Equal(t, feature.Characteristic("loop"), pairs[0].Feature)
		assert.Equal(t, backend.Address(0x401000), pairs[0].Address)
	})

	t.Run("straight line", func(t *testing.T) {
		blocks := []backend.BasicBlock{
			{Start: 0x401000, End: 0x401010, Succs: []backend.Address{0x401010}},
			{Start: 0x401010, End: 0x401020},
		}
		assert.Empty(t, extractFunctionLoop(e, &fn, blocks))
	})
}

func TestFunctionRecursiveCall(t *testing.T) {
	blocks := []backend.BasicBlock{
		{Start: 0x401000, End: 0x401020},
	}
	fn := backend.Function{Entry: 0x401000}

	t.Run("self call", func(t *testing.T) {
		fake := &backendtest.Fake{
			CodeRefs: map[backend.Address][]backend.Address{
				0x401010: {0x401000}, // call from inside the function body
			},
		}
		pairs := extractFunctionRecursiveCall(New(fake), &fn, blocks)
		require.Len(t, pairs, 1)
		assert.Equal(t, feature.Characteristic("recursive call"), pairs[0].Feature)
	})

	t.Run("external caller only", func(t *testing.T) {
		fake := &backendtest.Fake{
			CodeRefs: map[backend.Address][]backend.Address{
				0x409000: {0x401000},
			},
		}
		assert.Empty(t, extractFunctionRecursiveCall(New(fake), &fn, blocks))
	})
}

func TestHasLoop(t *testing.T) {
	a, b, c := backend.Address(1), backend.Address(2), backend.Address(3)
	tests := []struct {
		name  string
		edges [][2]backend.Address
		want  bool
	}{
		{"empty", nil, false},
		{"chain", [][2]backend.Address{{a, b}, {b, c}}, false},
		{"cycle", [][2]backend.Address{{a, b}, {b, c}, {c, a}}, true},
		{"self edge", [][2]backend.Address{{a, a}}, true},
		{"diamond", [][2]backend.Address{{a, b}, {a, c}, {b, c}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasLoop(tt.edges))
		})
	}
}
