package extractor

import (
	"github.com/wisdark/capa/internal/backend"
	"github.com/wisdark/capa/internal/feature"
)

type functionDetector func(e *Extractor, fn *backend.Function, blocks []backend.BasicBlock) []Pair

var functionDetectors = []functionDetector{
	extractFunctionCallsTo,
	extractFunctionLoop,
	extractFunctionRecursiveCall,
}

// extractFunctionCallsTo emits "calls to" at each caller of the function.
func extractFunctionCallsTo(e *Extractor, fn *backend.Function, blocks []backend.BasicBlock) []Pair {
	var out []Pair
	for _, ref := range e.b.CodeRefsTo(fn.Entry) {
		out = append(out, Pair{feature.Characteristic("calls to"), ref})
	}
	return out
}

// extractFunctionLoop emits "loop" when the function's block graph
// contains a cycle.
func extractFunctionLoop(e *Extractor, fn *backend.Function, blocks []backend.BasicBlock) []Pair {
	var edges [][2]backend.Address
	for i := range blocks {
		for _, succ := range blocks[i].Succs {
			edges = append(edges, [2]backend.Address{blocks[i].Start, succ})
		}
	}
	if hasLoop(edges) {
		return []Pair{{feature.Characteristic("loop"), fn.Entry}}
	}
	return nil
}

// extractFunctionRecursiveCall emits "recursive call" when the function
// calls its own entry from inside one of its blocks.
func extractFunctionRecursiveCall(e *Extractor, fn *backend.Function, blocks []backend.BasicBlock) []Pair {
	for _, ref := range e.b.CodeRefsTo(fn.Entry) {
		for i := range blocks {
			if ref >= blocks[i].Start && ref < blocks[i].End {
				return []Pair{{feature.Characteristic("recursive call"), fn.Entry}}
			}
		}
	}
	return nil
}
