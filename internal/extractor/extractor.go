// Package extractor implements the per-instruction feature extraction
// pipeline: operand classification, API call resolution, literal
// extraction, the stack-cookie suppression heuristic and the
// characteristic detectors, aggregated over every instruction of every
// basic block of every function a backend reports.
package extractor

import (
	"fmt"
	"iter"

	"github.com/wisdark/capa/internal/backend"
	"github.com/wisdark/capa/internal/feature"
)

// Extractor drives one extraction run over one backend. The pipeline is
// purely functional over the backend's read-only data; the only mutable
// state is the run-scoped import cache, so independent runs may execute in
// parallel as long as each owns its own Extractor.
type Extractor struct {
	b       backend.Backend
	imports *ImportCache
}

// New returns an Extractor bound to b with a fresh import cache.
func New(b backend.Backend) *Extractor {
	return &Extractor{b: b, imports: NewImportCache(b)}
}

// Extract returns the lazy, single-pass sequence of (feature, address)
// pairs for the whole program. Thunk and library functions are skipped.
// The sequence is not restartable; re-invoke Extract to enumerate again.
//
// The only failure is the backend being unable to enumerate functions at
// all; it is reported here, before iteration begins. Stopping iteration
// early leaves no partial side effects.
func (e *Extractor) Extract() (iter.Seq2[feature.Feature, backend.Address], error) {
	funcs, err := e.b.Functions()
	if err != nil {
		return nil, fmt.Errorf("enumerate functions: %w", err)
	}
	return func(yield func(feature.Feature, backend.Address) bool) {
		for i := range funcs {
			fn := &funcs[i]
			if fn.IsThunk || fn.IsLibrary {
				continue
			}
			if !e.extractFunction(fn, yield) {
				return
			}
		}
	}, nil
}

func (e *Extractor) extractFunction(fn *backend.Function, yield func(feature.Feature, backend.Address) bool) bool {
	blocks := e.b.BasicBlocks(fn.Entry)

	for _, d := range functionDetectors {
		for _, p := range d(e, fn, blocks) {
			if !yield(p.Feature, p.Address) {
				return false
			}
		}
	}
	for i := range blocks {
		bb := &blocks[i]
		for _, d := range blockDetectors {
			for _, p := range d(e, fn, bb) {
				if !yield(p.Feature, p.Address) {
					return false
				}
			}
		}
		for j := range bb.Instructions {
			for _, p := range e.ExtractInsn(fn, bb, &bb.Instructions[j]) {
				if !yield(p.Feature, p.Address) {
					return false
				}
			}
		}
	}
	return true
}

// ExtractInsn runs every instruction-scope detector over one instruction,
// in the declared order, and returns the union of their results.
func (e *Extractor) ExtractInsn(fn *backend.Function, bb *backend.BasicBlock, insn *backend.Instruction) []Pair {
	var out []Pair
	for _, d := range insnDetectors {
		out = append(out, d(e, fn, bb, insn)...)
	}
	return out
}
