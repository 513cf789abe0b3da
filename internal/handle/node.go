package handle

import (
	"strings"

	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

// IOKind describes how a node handle or record is accessed.
type IOKind uint32

const (
	IOInput            IOKind = 0x1
	IOOutput           IOKind = 0x2
	IOReadWrite        IOKind = 0x4
	IOEmptyRecord      IOKind = 0x8
	IONodeArray        IOKind = 0x10
	IOThreadRecord     IOKind = 0x20
	IOGroupRecord      IOKind = 0x40
	IODispatchRecord   IOKind = 0x60
	IOTrackRWSharing   IOKind = 0x100
	IOGloballyCoherent IOKind = 0x200

	IORecordGranularityMask IOKind = 0x60
	IONodeIOMask            IOKind = 0x1f
)

// Has reports whether every bit of k2 is set.
func (k IOKind) Has(k2 IOKind) bool { return k&k2 == k2 }

// Granularity returns the record granularity bits.
func (k IOKind) Granularity() IOKind { return k & IORecordGranularityMask }

func (k IOKind) String() string {
	var parts []string
	add := func(ok bool, s string) {
		if ok {
			parts = append(parts, s)
		}
	}
	add(k.Has(IOInput), "input")
	add(k.Has(IOOutput), "output")
	add(k.Has(IOReadWrite), "rw")
	add(k.Has(IOEmptyRecord), "empty")
	add(k.Has(IONodeArray), "array")
	switch k.Granularity() {
	case IODispatchRecord:
		parts = append(parts, "dispatch")
	case IOGroupRecord:
		parts = append(parts, "group")
	case IOThreadRecord:
		parts = append(parts, "thread")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// NodeInfo is attached to node output handles.
type NodeInfo struct {
	IOKind     IOKind
	RecordSize uint32
}

// NodeRecordInfo is attached to node record handles.
type NodeRecordInfo struct {
	IOKind     IOKind
	RecordSize uint32
}

var ioKindByClass = map[string]IOKind{
	"DispatchNodeInputRecord":   IOInput | IODispatchRecord,
	"RWDispatchNodeInputRecord": IOInput | IOReadWrite | IODispatchRecord,
	"GroupNodeInputRecords":     IOInput | IOGroupRecord,
	"RWGroupNodeInputRecords":   IOInput | IOReadWrite | IOGroupRecord,
	"ThreadNodeInputRecord":     IOInput | IOThreadRecord,
	"RWThreadNodeInputRecord":   IOInput | IOReadWrite | IOThreadRecord,
	"EmptyNodeInput":            IOInput | IOEmptyRecord,
	"NodeOutput":                IOOutput,
	"NodeOutputArray":           IOOutput | IONodeArray,
	"EmptyNodeOutput":           IOOutput | IOEmptyRecord,
	"EmptyNodeOutputArray":      IOOutput | IONodeArray | IOEmptyRecord,
	"GroupNodeOutputRecords":    IOOutput | IOReadWrite | IOGroupRecord,
	"ThreadNodeOutputRecords":   IOOutput | IOReadWrite | IOThreadRecord,
}

// IOKindOf derives the I/O kind of a node object type from its name.
func IOKindOf(ts *ir.Types, ty ir.TypeID) (IOKind, bool) {
	k, ok := ioKindByClass[hlop.ClassName(ts.Name(ty))]
	return k, ok
}

// NodeInfoConstant encodes a NodeInfo as a %dx.types.NodeInfo constant.
func NodeInfoConstant(m *ir.Module, info NodeInfo) ir.ValueID {
	return m.ConstAggregate(hlop.NodeInfoType(m.Types),
		m.ConstI32(int64(info.IOKind)), m.ConstI32(int64(info.RecordSize)))
}

// NodeRecordInfoConstant encodes a NodeRecordInfo as a constant.
func NodeRecordInfoConstant(m *ir.Module, info NodeRecordInfo) ir.ValueID {
	return m.ConstAggregate(hlop.NodeRecordInfoType(m.Types),
		m.ConstI32(int64(info.IOKind)), m.ConstI32(int64(info.RecordSize)))
}

// CreateNodeOutputHandle emits the creation of the handle for node output idx.
func CreateNodeOutputHandle(b *ir.Builder, idx uint32) ir.ValueID {
	m := b.Module()
	return hlop.Emit(b, hlop.NodeHandleType(m.Types), hlop.GroupCreateNodeOutputHandle, 0, m.ConstI32(int64(idx)))
}

// CreateNodeInputRecordHandle emits the creation of the handle for node input idx.
func CreateNodeInputRecordHandle(b *ir.Builder, idx uint32) ir.ValueID {
	m := b.Module()
	return hlop.Emit(b, hlop.NodeRecordHandleType(m.Types), hlop.GroupCreateNodeInputRecordHandle, 0, m.ConstI32(int64(idx)))
}

// CreateAnnotateNodeHandle attaches info to a node handle.
func CreateAnnotateNodeHandle(b *ir.Builder, h ir.ValueID, info NodeInfo) ir.ValueID {
	m := b.Module()
	return hlop.Emit(b, hlop.NodeHandleType(m.Types), hlop.GroupAnnotateNodeHandle, 0, h, NodeInfoConstant(m, info))
}

// CreateAnnotateNodeRecordHandle attaches info to a node record handle.
func CreateAnnotateNodeRecordHandle(b *ir.Builder, h ir.ValueID, info NodeRecordInfo) ir.ValueID {
	m := b.Module()
	return hlop.Emit(b, hlop.NodeRecordHandleType(m.Types), hlop.GroupAnnotateNodeRecordHandle, 0, h, NodeRecordInfoConstant(m, info))
}

// CastHandleToNodeOutput converts a node handle back to a node output object.
func CastHandleToNodeOutput(b *ir.Builder, h ir.ValueID, nodeTy ir.TypeID) ir.ValueID {
	return hlop.Emit(b, nodeTy, hlop.GroupCast, uint32(hlop.CastHandleToNodeOutput), h)
}

// CastHandleToNodeRecord converts a node record handle back to a record object.
func CastHandleToNodeRecord(b *ir.Builder, h ir.ValueID, recTy ir.TypeID) ir.ValueID {
	return hlop.Emit(b, recTy, hlop.GroupCast, uint32(hlop.CastHandleToNodeRecord), h)
}

// CastNodeOutputToHandle converts a node output object to its handle.
func CastNodeOutputToHandle(b *ir.Builder, v ir.ValueID) ir.ValueID {
	m := b.Module()
	return hlop.Emit(b, hlop.NodeHandleType(m.Types), hlop.GroupCast, uint32(hlop.CastNodeOutputToHandle), v)
}

// CastNodeRecordToHandle converts a node record object to its handle.
func CastNodeRecordToHandle(b *ir.Builder, v ir.ValueID) ir.ValueID {
	m := b.Module()
	return hlop.Emit(b, hlop.NodeRecordHandleType(m.Types), hlop.GroupCast, uint32(hlop.CastNodeRecordToHandle), v)
}

// CastNodePtrToHandle loads a node object through ptr and converts it to the
// handle type matching its kind.
func CastNodePtrToHandle(b *ir.Builder, ptr ir.ValueID) ir.ValueID {
	m := b.Module()
	kind := hlop.ClassifyPointer(m.Types, m.TypeOf(ptr))
	v := b.Load(ptr, "")
	switch kind {
	case hlop.ObjNodeRecord:
		return CastNodeRecordToHandle(b, v)
	case hlop.ObjNodeOutput, hlop.ObjNodeOutputArray:
		return CastNodeOutputToHandle(b, v)
	}
	panic("handle: pointer does not refer to a node object")
}
