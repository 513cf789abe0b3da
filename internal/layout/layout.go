package layout

import (
	"dxlower/internal/ir"
)

// TypeLayout is the in-memory layout of a type for a specific Target.
type TypeLayout struct {
	Size  int
	Align int

	// Struct-only:
	FieldOffsets []int
	FieldAligns  []int
}

// LayoutEngine computes memory layout for types. Vectors are packed with the
// alignment of their element, which is how structured buffer elements and
// node records are laid out.
type LayoutEngine struct {
	Target Target
	Types  *ir.Types

	cache *cache
}

// New creates a new LayoutEngine for the specified target.
func New(target Target, typesIn *ir.Types) *LayoutEngine {
	return &LayoutEngine{
		Target: target,
		Types:  typesIn,
		cache:  newCache(),
	}
}

// LayoutOf computes and caches the layout of a type.
func (e *LayoutEngine) LayoutOf(t ir.TypeID) (TypeLayout, error) {
	if e == nil {
		return TypeLayout{Size: 0, Align: 1}, nil
	}
	l, err := e.layoutOf(t)
	if err != nil {
		return l, err
	}
	return l, nil
}

func (e *LayoutEngine) layoutOf(t ir.TypeID) (TypeLayout, *LayoutError) {
	if e.cache == nil {
		e.cache = newCache()
	}
	if cached, ok := e.cache.get(t); ok {
		return cached.Layout, cached.Err
	}
	l, err := e.computeLayout(t)
	e.cache.put(t, &cacheEntry{Layout: l, Err: err})
	return l, err
}

// SizeOf returns the size of a type in bytes.
func (e *LayoutEngine) SizeOf(t ir.TypeID) (int, error) {
	l, err := e.LayoutOf(t)
	return l.Size, err
}

// AlignOf returns the alignment requirement of a type in bytes.
func (e *LayoutEngine) AlignOf(t ir.TypeID) (int, error) {
	l, err := e.LayoutOf(t)
	return l.Align, err
}

// FieldOffset returns the byte offset of a struct field.
func (e *LayoutEngine) FieldOffset(structT ir.TypeID, fieldIdx int) (int, error) {
	l, err := e.LayoutOf(structT)
	if err != nil {
		return 0, err
	}
	if fieldIdx < 0 || fieldIdx >= len(l.FieldOffsets) {
		return 0, nil
	}
	return l.FieldOffsets[fieldIdx], nil
}
