package hlop

import (
	"strconv"
	"strings"

	"dxlower/internal/ir"
)

// Names of the opaque types produced by lowering.
const (
	HandleTypeName             = "dx.types.Handle"
	NodeHandleTypeName         = "dx.types.NodeHandle"
	NodeRecordHandleTypeName   = "dx.types.NodeRecordHandle"
	ResourcePropertiesTypeName = "dx.types.ResourceProperties"
	NodeInfoTypeName           = "dx.types.NodeInfo"
	NodeRecordInfoTypeName     = "dx.types.NodeRecordInfo"
)

// HandleType returns %dx.types.Handle = type { i8* }.
func HandleType(ts *ir.Types) ir.TypeID {
	return ts.NamedStruct(HandleTypeName, ts.Pointer(ts.Builtins().I8))
}

// NodeHandleType returns %dx.types.NodeHandle = type { i8* }.
func NodeHandleType(ts *ir.Types) ir.TypeID {
	return ts.NamedStruct(NodeHandleTypeName, ts.Pointer(ts.Builtins().I8))
}

// NodeRecordHandleType returns %dx.types.NodeRecordHandle = type { i8* }.
func NodeRecordHandleType(ts *ir.Types) ir.TypeID {
	return ts.NamedStruct(NodeRecordHandleTypeName, ts.Pointer(ts.Builtins().I8))
}

// ResourcePropertiesType returns the two-dword annotation constant type.
func ResourcePropertiesType(ts *ir.Types) ir.TypeID {
	i32 := ts.Builtins().I32
	return ts.NamedStruct(ResourcePropertiesTypeName, i32, i32)
}

// NodeInfoType returns the (IOKind, record size) constant type for node handles.
func NodeInfoType(ts *ir.Types) ir.TypeID {
	i32 := ts.Builtins().I32
	return ts.NamedStruct(NodeInfoTypeName, i32, i32)
}

// NodeRecordInfoType returns the (IOKind, record size) constant type for record handles.
func NodeRecordInfoType(ts *ir.Types) ir.TypeID {
	i32 := ts.Builtins().I32
	return ts.NamedStruct(NodeRecordInfoTypeName, i32, i32)
}

// ObjectKind classifies HLSL object types by their struct name.
type ObjectKind uint8

const (
	ObjNone ObjectKind = iota
	ObjResource
	ObjNodeRecord
	ObjNodeOutput
	ObjNodeOutputArray
)

func (k ObjectKind) String() string {
	switch k {
	case ObjResource:
		return "resource"
	case ObjNodeRecord:
		return "node-record"
	case ObjNodeOutput:
		return "node-output"
	case ObjNodeOutputArray:
		return "node-output-array"
	default:
		return "none"
	}
}

// IsNode reports the node I/O kinds.
func (k ObjectKind) IsNode() bool {
	return k == ObjNodeRecord || k == ObjNodeOutput || k == ObjNodeOutputArray
}

var resourcePrefixes = []string{
	"Texture1D", "Texture1DArray", "Texture2D", "Texture2DArray", "Texture2DMS", "Texture2DMSArray",
	"Texture3D", "TextureCube", "TextureCubeArray",
	"RWTexture1D", "RWTexture1DArray", "RWTexture2D", "RWTexture2DArray", "RWTexture2DMS",
	"RWTexture2DMSArray", "RWTexture3D",
	"RasterizerOrderedTexture1D", "RasterizerOrderedTexture1DArray", "RasterizerOrderedTexture2D",
	"RasterizerOrderedTexture2DArray", "RasterizerOrderedTexture3D",
	"FeedbackTexture2D", "FeedbackTexture2DArray",
	"Buffer", "RWBuffer", "RasterizerOrderedBuffer",
	"ByteAddressBuffer", "RWByteAddressBuffer", "RasterizerOrderedByteAddressBuffer",
	"StructuredBuffer", "RWStructuredBuffer", "RasterizerOrderedStructuredBuffer",
	"AppendStructuredBuffer", "ConsumeStructuredBuffer",
	"ConstantBuffer", "TextureBuffer",
	"SamplerState", "SamplerComparisonState",
	"RaytracingAccelerationStructure",
}

var nodeRecordPrefixes = []string{
	"DispatchNodeInputRecord", "RWDispatchNodeInputRecord",
	"GroupNodeInputRecords", "RWGroupNodeInputRecords",
	"ThreadNodeInputRecord", "RWThreadNodeInputRecord",
	"EmptyNodeInput",
	"GroupNodeOutputRecords", "ThreadNodeOutputRecords",
}

// ClassName strips the "class." / "struct." prefix and template arguments of
// an HLSL struct name.
func ClassName(name string) string {
	for _, p := range []string{"class.", "struct."} {
		if strings.HasPrefix(name, p) {
			name = name[len(p):]
			break
		}
	}
	name = nestedName(name)
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	// suffixes added for uniqueness, e.g. "Texture2D.0"
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// nestedName returns the member type name of "Outer<T>::inner", looking only
// at separators outside template arguments.
func nestedName(name string) string {
	depth := 0
	last := -1
	for i := 0; i+1 < len(name); i++ {
		switch name[i] {
		case '<':
			depth++
		case '>':
			depth--
		case ':':
			if depth == 0 && name[i+1] == ':' {
				last = i + 2
			}
		}
	}
	if last < 0 {
		return name
	}
	return name[last:]
}

func inList(name string, list []string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// Classify reports which HLSL object kind ty is. Arrays are looked through.
func Classify(ts *ir.Types, ty ir.TypeID) ObjectKind {
	for ts.IsArray(ty) {
		ty = ts.Elem(ty)
	}
	if !ts.IsStruct(ty) {
		return ObjNone
	}
	name := ts.Name(ty)
	if name == "" {
		return ObjNone
	}
	cls := ClassName(name)
	switch {
	case inList(cls, resourcePrefixes):
		return ObjResource
	case inList(cls, nodeRecordPrefixes):
		return ObjNodeRecord
	case cls == "NodeOutput" || cls == "EmptyNodeOutput":
		return ObjNodeOutput
	case cls == "NodeOutputArray" || cls == "EmptyNodeOutputArray":
		return ObjNodeOutputArray
	}
	return ObjNone
}

// ClassifyPointer classifies the pointee of a pointer type.
func ClassifyPointer(ts *ir.Types, ty ir.TypeID) ObjectKind {
	if !ts.IsPointer(ty) {
		return ObjNone
	}
	return Classify(ts, ts.Elem(ty))
}

// HandleTypeFor returns the handle type that replaces objects of kind k.
func HandleTypeFor(ts *ir.Types, k ObjectKind) ir.TypeID {
	switch k {
	case ObjResource:
		return HandleType(ts)
	case ObjNodeRecord:
		return NodeRecordHandleType(ts)
	case ObjNodeOutput, ObjNodeOutputArray:
		return NodeHandleType(ts)
	}
	return ir.NoTypeID
}

// IsHandleType reports the three opaque handle types.
func IsHandleType(ts *ir.Types, ty ir.TypeID) bool {
	switch ts.Name(ty) {
	case HandleTypeName, NodeHandleTypeName, NodeRecordHandleTypeName:
		return ts.IsStruct(ty)
	}
	return false
}

// IsStreamBuffer reports Append/Consume structured buffers.
func IsStreamBuffer(ts *ir.Types, ty ir.TypeID) bool {
	cls := ClassName(ts.Name(ty))
	return cls == "AppendStructuredBuffer" || cls == "ConsumeStructuredBuffer"
}

// MatrixShape decodes "class.matrix.<elem>.<rows>.<cols>".
func MatrixShape(ts *ir.Types, ty ir.TypeID) (rows, cols uint32, ok bool) {
	if !ts.IsStruct(ty) {
		return 0, 0, false
	}
	name := ts.Name(ty)
	if !strings.HasPrefix(name, "class.matrix.") {
		return 0, 0, false
	}
	parts := strings.Split(name[len("class.matrix."):], ".")
	if len(parts) < 3 {
		return 0, 0, false
	}
	r, err1 := strconv.ParseUint(parts[1], 10, 32)
	c, err2 := strconv.ParseUint(parts[2], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(r), uint32(c), true
}

// IsMatrix reports HLSL matrix struct types.
func IsMatrix(ts *ir.Types, ty ir.TypeID) bool {
	_, _, ok := MatrixShape(ts, ty)
	return ok
}

// MatrixType declares class.matrix.<elem>.<rows>.<cols> = { [rows x <cols x elem>] }.
func MatrixType(ts *ir.Types, elem ir.TypeID, rows, cols uint32) ir.TypeID {
	name := "class.matrix." + ts.String(elem) + "." + strconv.FormatUint(uint64(rows), 10) + "." + strconv.FormatUint(uint64(cols), 10)
	return ts.NamedStruct(name, ts.Array(ts.Vector(elem, cols), rows))
}

// MatrixElem returns the scalar element type of a matrix.
func MatrixElem(ts *ir.Types, ty ir.TypeID) ir.TypeID {
	f := ts.Fields(ty)
	if len(f) == 0 {
		return ir.NoTypeID
	}
	return ts.ScalarType(ts.Elem(f[0]))
}
