package layout

import (
	"fmt"

	"dxlower/internal/ir"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrOpaque indicates a struct declared without a body.
	LayoutErrOpaque LayoutErrorKind = iota + 1
	// LayoutErrUnsized indicates a type with no storage size (void, functions).
	LayoutErrUnsized
	LayoutErrLengthConversion
)

// LayoutError represents an error during memory layout calculation.
type LayoutError struct {
	Kind LayoutErrorKind
	Type ir.TypeID
	Name string // rendered type, for messages
	Err  error  // for LayoutErrLengthConversion
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrOpaque:
		return fmt.Sprintf("opaque struct %s has no layout", e.Name)
	case LayoutErrUnsized:
		return fmt.Sprintf("type %s has no storage size", e.Name)
	case LayoutErrLengthConversion:
		if e.Err != nil {
			return fmt.Sprintf("array length conversion error (%s): %v", e.Name, e.Err)
		}
		return fmt.Sprintf("array length conversion error (%s)", e.Name)
	default:
		return fmt.Sprintf("layout error kind=%d type#%d", e.Kind, e.Type)
	}
}
