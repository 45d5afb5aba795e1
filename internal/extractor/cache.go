package extractor

import "github.com/wisdark/capa/internal/backend"

// ImportCache memoizes the backend's import table for the lifetime of one
// extraction run. It is built on first access and never rebuilt, even if
// the backend's view changes mid-run; a stale cache is an accepted risk.
//
// Not safe for concurrent use. Parallel runs must each own their own cache.
type ImportCache struct {
	b     backend.Backend
	table map[backend.Address]backend.Import
}

// NewImportCache returns an empty cache bound to b. The table is not
// fetched until the first lookup.
func NewImportCache(b backend.Backend) *ImportCache {
	return &ImportCache{b: b}
}

func (c *ImportCache) ensure() {
	if c.table != nil {
		return
	}
	// snapshot, so later changes in the backend's view are not observed
	src := c.b.Imports()
	c.table = make(map[backend.Address]backend.Import, len(src))
	for addr, imp := range src {
		c.table[addr] = imp
	}
}

// Resolve maps an address to its import entry. Unmapped addresses return
// ok=false, never a default entry.
func (c *ImportCache) Resolve(addr backend.Address) (backend.Import, bool) {
	c.ensure()
	imp, ok := c.table[addr]
	return imp, ok
}

// Contains reports whether addr is a known import.
func (c *ImportCache) Contains(addr backend.Address) bool {
	_, ok := c.Resolve(addr)
	return ok
}
