package ir

import (
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"
)

// TypeID uniquely identifies a type inside the Types interner.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// Kind enumerates the supported type kinds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindVoid
	KindInt
	KindFloat
	KindPointer
	KindVector
	KindArray
	KindStruct
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindPointer:
		return "pointer"
	case KindVector:
		return "vector"
	case KindArray:
		return "array"
	case KindStruct:
		return "struct"
	case KindFunc:
		return "func"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Type is a compact structural descriptor. Types are immutable once interned.
type Type struct {
	Kind      Kind
	Bits      uint16   // int and float width
	Elem      TypeID   // pointer, vector, array element
	Len       uint32   // vector and array length
	AddrSpace uint8    // pointers only
	Name      string   // named structs
	Fields    []TypeID // struct fields or function params
	Ret       TypeID   // function result
	Opaque    bool     // named struct declared without a body
}

// Builtins stores TypeIDs for the primitive types.
type Builtins struct {
	Void   TypeID
	I1     TypeID
	I8     TypeID
	I16    TypeID
	I32    TypeID
	I64    TypeID
	Half   TypeID
	Float  TypeID
	Double TypeID
}

type typeKey struct {
	Kind      Kind
	Bits      uint16
	Elem      TypeID
	Len       uint32
	AddrSpace uint8
	Name      string
	Fields    string
	Ret       TypeID
}

// Types interns structural type descriptors and hands out stable IDs.
type Types struct {
	types    []Type
	index    map[typeKey]TypeID
	named    map[string]TypeID
	builtins Builtins
}

// NewTypes constructs an interner seeded with the primitive types.
func NewTypes() *Types {
	ts := &Types{
		index: make(map[typeKey]TypeID, 64),
		named: make(map[string]TypeID, 16),
	}
	ts.types = append(ts.types, Type{Kind: KindInvalid}) // reserve 0
	ts.builtins.Void = ts.intern(Type{Kind: KindVoid})
	ts.builtins.I1 = ts.Int(1)
	ts.builtins.I8 = ts.Int(8)
	ts.builtins.I16 = ts.Int(16)
	ts.builtins.I32 = ts.Int(32)
	ts.builtins.I64 = ts.Int(64)
	ts.builtins.Half = ts.Float(16)
	ts.builtins.Float = ts.Float(32)
	ts.builtins.Double = ts.Float(64)
	return ts
}

// Builtins returns TypeIDs for primitive types.
func (ts *Types) Builtins() Builtins {
	return ts.builtins
}

func keyOf(t Type) typeKey {
	k := typeKey{
		Kind:      t.Kind,
		Bits:      t.Bits,
		Elem:      t.Elem,
		Len:       t.Len,
		AddrSpace: t.AddrSpace,
		Name:      t.Name,
		Ret:       t.Ret,
	}
	if len(t.Fields) > 0 {
		var sb strings.Builder
		for i, f := range t.Fields {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.FormatUint(uint64(f), 10))
		}
		k.Fields = sb.String()
	}
	return k
}

func (ts *Types) intern(t Type) TypeID {
	if t.Kind == KindStruct && t.Name != "" {
		// named structs are keyed by name only
		if id, ok := ts.named[t.Name]; ok {
			return id
		}
	} else {
		if id, ok := ts.index[keyOf(t)]; ok {
			return id
		}
	}
	n, err := safecast.Conv[uint32](len(ts.types))
	if err != nil {
		panic(fmt.Errorf("len(types) overflow: %w", err))
	}
	id := TypeID(n)
	if len(t.Fields) > 0 {
		t.Fields = append([]TypeID(nil), t.Fields...)
	}
	ts.types = append(ts.types, t)
	if t.Kind == KindStruct && t.Name != "" {
		ts.named[t.Name] = id
	} else {
		ts.index[keyOf(t)] = id
	}
	return id
}

// Int returns the integer type of the given width.
func (ts *Types) Int(bits uint16) TypeID {
	return ts.intern(Type{Kind: KindInt, Bits: bits})
}

// Float returns the floating point type of the given width (16, 32 or 64).
func (ts *Types) Float(bits uint16) TypeID {
	return ts.intern(Type{Kind: KindFloat, Bits: bits})
}

// Pointer returns a pointer to elem in the default address space.
func (ts *Types) Pointer(elem TypeID) TypeID {
	return ts.PointerIn(elem, 0)
}

// PointerIn returns a pointer to elem in address space as.
func (ts *Types) PointerIn(elem TypeID, as uint8) TypeID {
	return ts.intern(Type{Kind: KindPointer, Elem: elem, AddrSpace: as})
}

// Vector returns <n x elem>.
func (ts *Types) Vector(elem TypeID, n uint32) TypeID {
	return ts.intern(Type{Kind: KindVector, Elem: elem, Len: n})
}

// Array returns [n x elem].
func (ts *Types) Array(elem TypeID, n uint32) TypeID {
	return ts.intern(Type{Kind: KindArray, Elem: elem, Len: n})
}

// Struct returns a literal (unnamed) struct type.
func (ts *Types) Struct(fields ...TypeID) TypeID {
	return ts.intern(Type{Kind: KindStruct, Fields: fields})
}

// NamedStruct returns the struct type called name. The first call defines the
// body; later calls must agree with it.
func (ts *Types) NamedStruct(name string, fields ...TypeID) TypeID {
	if id, ok := ts.named[name]; ok {
		t := ts.types[id]
		if t.Opaque && len(fields) > 0 {
			t.Fields = append([]TypeID(nil), fields...)
			t.Opaque = false
			ts.types[id] = t
			return id
		}
		if len(fields) > 0 && !equalIDs(t.Fields, fields) {
			panic(fmt.Sprintf("ir: struct %%%s redefined with a different body", name))
		}
		return id
	}
	return ts.intern(Type{Kind: KindStruct, Name: name, Fields: fields, Opaque: len(fields) == 0})
}

// StructByName returns a previously declared named struct.
func (ts *Types) StructByName(name string) (TypeID, bool) {
	id, ok := ts.named[name]
	return id, ok
}

// Func returns the function type ret(params...).
func (ts *Types) Func(ret TypeID, params ...TypeID) TypeID {
	return ts.intern(Type{Kind: KindFunc, Ret: ret, Fields: params})
}

func equalIDs(a, b []TypeID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Lookup returns the descriptor for id.
func (ts *Types) Lookup(id TypeID) (Type, bool) {
	if id == NoTypeID || int(id) >= len(ts.types) {
		return Type{}, false
	}
	return ts.types[id], true
}

// MustLookup panics when id is invalid.
func (ts *Types) MustLookup(id TypeID) Type {
	t, ok := ts.Lookup(id)
	if !ok {
		panic("ir: invalid TypeID")
	}
	return t
}

// Len reports how many types are interned (including the reserved slot).
func (ts *Types) Len() int { return len(ts.types) }

func (ts *Types) Kind(id TypeID) Kind {
	t, _ := ts.Lookup(id)
	return t.Kind
}

func (ts *Types) IsPointer(id TypeID) bool { return ts.Kind(id) == KindPointer }
func (ts *Types) IsVector(id TypeID) bool  { return ts.Kind(id) == KindVector }
func (ts *Types) IsArray(id TypeID) bool   { return ts.Kind(id) == KindArray }
func (ts *Types) IsStruct(id TypeID) bool  { return ts.Kind(id) == KindStruct }
func (ts *Types) IsFloat(id TypeID) bool   { return ts.Kind(id) == KindFloat }
func (ts *Types) IsVoid(id TypeID) bool    { return ts.Kind(id) == KindVoid }

// IsInt reports whether id is an integer type; bits == 0 matches any width.
func (ts *Types) IsInt(id TypeID, bits uint16) bool {
	t, ok := ts.Lookup(id)
	return ok && t.Kind == KindInt && (bits == 0 || t.Bits == bits)
}

// IsAggregate reports arrays and structs.
func (ts *Types) IsAggregate(id TypeID) bool {
	k := ts.Kind(id)
	return k == KindArray || k == KindStruct
}

// Elem returns the element type of pointers, vectors and arrays.
func (ts *Types) Elem(id TypeID) TypeID {
	t, _ := ts.Lookup(id)
	return t.Elem
}

// Count returns the length of a vector or array.
func (ts *Types) Count(id TypeID) uint32 {
	t, _ := ts.Lookup(id)
	return t.Len
}

// Bits returns the width of an integer or float type.
func (ts *Types) Bits(id TypeID) uint16 {
	t, _ := ts.Lookup(id)
	return t.Bits
}

// AddrSpace returns the address space of a pointer type.
func (ts *Types) AddrSpace(id TypeID) uint8 {
	t, _ := ts.Lookup(id)
	return t.AddrSpace
}

// Fields returns struct fields or function params.
func (ts *Types) Fields(id TypeID) []TypeID {
	t, _ := ts.Lookup(id)
	return t.Fields
}

// Ret returns the result type of a function type.
func (ts *Types) Ret(id TypeID) TypeID {
	t, _ := ts.Lookup(id)
	return t.Ret
}

// Name returns the struct name (empty for literal structs).
func (ts *Types) Name(id TypeID) string {
	t, _ := ts.Lookup(id)
	return t.Name
}

// ScalarType returns the element type of a vector, otherwise id itself.
func (ts *Types) ScalarType(id TypeID) TypeID {
	if ts.IsVector(id) {
		return ts.Elem(id)
	}
	return id
}

// ScalarBits returns the width of the scalar component of int, float and
// vector types. Everything else reports 0.
func (ts *Types) ScalarBits(id TypeID) uint16 {
	s := ts.ScalarType(id)
	switch ts.Kind(s) {
	case KindInt, KindFloat:
		return ts.Bits(s)
	}
	return 0
}

// WithScalar returns id with its scalar component replaced (vector shape kept).
func (ts *Types) WithScalar(id, scalar TypeID) TypeID {
	if ts.IsVector(id) {
		return ts.Vector(scalar, ts.Count(id))
	}
	return scalar
}

// NamedStructs lists named struct types in creation order.
func (ts *Types) NamedStructs() []TypeID {
	out := make([]TypeID, 0, len(ts.named))
	for i := 1; i < len(ts.types); i++ {
		t := ts.types[i]
		if t.Kind == KindStruct && t.Name != "" {
			out = append(out, TypeID(i)) //nolint:gosec // G115: bounded by len(types)
		}
	}
	return out
}

// IndexedType walks the aggregate type base through indices (the indices after
// the leading pointer step of a GEP). fieldIdx supplies constant struct indices.
func (ts *Types) IndexedType(base TypeID, fieldIdx []int64) (TypeID, bool) {
	cur := base
	for _, idx := range fieldIdx {
		switch ts.Kind(cur) {
		case KindArray, KindVector:
			cur = ts.Elem(cur)
		case KindStruct:
			fields := ts.Fields(cur)
			if idx < 0 || int(idx) >= len(fields) {
				return NoTypeID, false
			}
			cur = fields[idx]
		default:
			return NoTypeID, false
		}
	}
	return cur, true
}

// String renders id in LLVM assembly syntax.
func (ts *Types) String(id TypeID) string {
	t, ok := ts.Lookup(id)
	if !ok {
		return "<invalid>"
	}
	switch t.Kind {
	case KindVoid:
		return "void"
	case KindInt:
		return "i" + strconv.Itoa(int(t.Bits))
	case KindFloat:
		switch t.Bits {
		case 16:
			return "half"
		case 64:
			return "double"
		default:
			return "float"
		}
	case KindPointer:
		if t.AddrSpace != 0 {
			return fmt.Sprintf("%s addrspace(%d)*", ts.String(t.Elem), t.AddrSpace)
		}
		return ts.String(t.Elem) + "*"
	case KindVector:
		return fmt.Sprintf("<%d x %s>", t.Len, ts.String(t.Elem))
	case KindArray:
		return fmt.Sprintf("[%d x %s]", t.Len, ts.String(t.Elem))
	case KindStruct:
		if t.Name != "" {
			return "%" + QuoteName(t.Name)
		}
		return ts.structBody(t)
	case KindFunc:
		parts := make([]string, len(t.Fields))
		for i, p := range t.Fields {
			parts[i] = ts.String(p)
		}
		return fmt.Sprintf("%s (%s)", ts.String(t.Ret), strings.Join(parts, ", "))
	default:
		return "<invalid>"
	}
}

// StructBody renders the field list of a struct type.
func (ts *Types) StructBody(id TypeID) string {
	t, _ := ts.Lookup(id)
	if t.Opaque {
		return "opaque"
	}
	return ts.structBody(t)
}

func (ts *Types) structBody(t Type) string {
	if len(t.Fields) == 0 {
		return "{}"
	}
	parts := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		parts[i] = ts.String(f)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// Snapshot returns a copy of all descriptors in ID order.
func (ts *Types) Snapshot() []Type {
	out := make([]Type, len(ts.types))
	copy(out, ts.types)
	return out
}

// RestoreTypes rebuilds an interner from a Snapshot.
func RestoreTypes(snap []Type) (*Types, error) {
	if len(snap) == 0 || snap[0].Kind != KindInvalid {
		return nil, fmt.Errorf("ir: type table must start with the reserved invalid slot")
	}
	ts := &Types{
		index: make(map[typeKey]TypeID, len(snap)),
		named: make(map[string]TypeID, 16),
	}
	ts.types = make([]Type, len(snap))
	copy(ts.types, snap)
	for i := 1; i < len(ts.types); i++ {
		t := ts.types[i]
		id := TypeID(i) //nolint:gosec // G115: bounded by len(snap)
		if t.Kind == KindStruct && t.Name != "" {
			ts.named[t.Name] = id
		} else {
			ts.index[keyOf(t)] = id
		}
	}
	b := Builtins{}
	b.Void = ts.intern(Type{Kind: KindVoid})
	b.I1 = ts.Int(1)
	b.I8 = ts.Int(8)
	b.I16 = ts.Int(16)
	b.I32 = ts.Int(32)
	b.I64 = ts.Int(64)
	b.Half = ts.Float(16)
	b.Float = ts.Float(32)
	b.Double = ts.Float(64)
	ts.builtins = b
	return ts, nil
}

// QuoteName quotes an identifier when it contains characters LLVM does not
// accept in bare names.
func QuoteName(name string) string {
	if name == "" {
		return `""`
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '_' || r == '$' || r == '-') {
			return strconv.Quote(name)
		}
	}
	return name
}
