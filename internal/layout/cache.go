package layout

import "dxlower/internal/ir"

type cacheEntry struct {
	Layout TypeLayout
	Err    *LayoutError
}

type cache struct {
	byType map[ir.TypeID]*cacheEntry
}

func newCache() *cache {
	return &cache{byType: make(map[ir.TypeID]*cacheEntry, 64)}
}

func (c *cache) get(id ir.TypeID) (*cacheEntry, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.byType[id]
	return e, ok
}

func (c *cache) put(id ir.TypeID, e *cacheEntry) {
	if c == nil {
		return
	}
	if e == nil {
		delete(c.byType, id)
		return
	}
	c.byType[id] = e
}
