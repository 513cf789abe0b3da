package oplower

import (
	"fmt"
	"strings"

	"fortio.org/safecast"

	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

// templateSpelling returns the text between the outer angle brackets of a
// node object type name, "Rec" for "struct.NodeOutput<Rec>".
func templateSpelling(name string) string {
	i := strings.IndexByte(name, '<')
	j := strings.LastIndexByte(name, '>')
	if i < 0 || j <= i {
		return ""
	}
	return strings.TrimSpace(name[i+1 : j])
}

// recordSize computes the byte size of the record carried by a node object
// type. Empty records have size 0.
//
// NodeOutputArray types do not get a template argument annotation, so the
// size computed for NodeOutput<T> is cached by the spelling of T and reused
// for NodeOutputArray<T>.
func (l *Lowerer) recordSize(nodeTy ir.TypeID) uint32 {
	ts := l.m.Types
	name := ts.Name(nodeTy)
	spelling := templateSpelling(name)

	arg, ok := l.types.TemplateArg(nodeTy)
	if !ok {
		if hlop.Classify(ts, nodeTy) == hlop.ObjNodeOutputArray {
			return l.recordSizes[spelling]
		}
		return 0
	}
	n, err := l.layout.SizeOf(arg)
	if err != nil {
		panic(fmt.Sprintf("oplower: record type of %s: %v", name, err))
	}
	size, err := safecast.Conv[uint32](n)
	if err != nil {
		panic(fmt.Errorf("record size of %s: %w", name, err))
	}
	if spelling != "" {
		l.recordSizes[spelling] = size
	}
	return size
}

// primeRecordSizes fills the record size cache from every annotated node
// output type, so the order in which call sites are rewritten does not matter.
func (l *Lowerer) primeRecordSizes() {
	for _, s := range l.types.Structs() {
		if s.TemplateArg == ir.NoTypeID {
			continue
		}
		if hlop.Classify(l.m.Types, s.Type) == hlop.ObjNodeOutput {
			l.recordSize(s.Type)
		}
	}
}
