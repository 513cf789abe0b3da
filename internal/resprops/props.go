// Package resprops holds resource properties and the side table that maps
// resource objects of a module to them.
package resprops

import "fmt"

// Class is the binding class of a resource.
type Class uint8

const (
	ClassInvalid Class = iota
	ClassSRV
	ClassUAV
	ClassCBuffer
	ClassSampler
)

func (c Class) String() string {
	switch c {
	case ClassSRV:
		return "SRV"
	case ClassUAV:
		return "UAV"
	case ClassCBuffer:
		return "CBuffer"
	case ClassSampler:
		return "Sampler"
	default:
		return "Invalid"
	}
}

// Kind is the shape of a resource.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindTexture1D
	KindTexture2D
	KindTexture2DMS
	KindTexture3D
	KindTextureCube
	KindTexture1DArray
	KindTexture2DArray
	KindTexture2DMSArray
	KindTextureCubeArray
	KindTypedBuffer
	KindRawBuffer
	KindStructuredBuffer
	KindCBuffer
	KindSampler
	KindTBuffer
	KindRTAccelerationStructure
	KindFeedbackTexture2D
	KindFeedbackTexture2DArray
	numKinds
)

var kindNames = [...]string{
	KindInvalid:                 "Invalid",
	KindTexture1D:               "Texture1D",
	KindTexture2D:               "Texture2D",
	KindTexture2DMS:             "Texture2DMS",
	KindTexture3D:               "Texture3D",
	KindTextureCube:             "TextureCube",
	KindTexture1DArray:          "Texture1DArray",
	KindTexture2DArray:          "Texture2DArray",
	KindTexture2DMSArray:        "Texture2DMSArray",
	KindTextureCubeArray:        "TextureCubeArray",
	KindTypedBuffer:             "TypedBuffer",
	KindRawBuffer:               "RawBuffer",
	KindStructuredBuffer:        "StructuredBuffer",
	KindCBuffer:                 "CBuffer",
	KindSampler:                 "Sampler",
	KindTBuffer:                 "TBuffer",
	KindRTAccelerationStructure: "RTAccelerationStructure",
	KindFeedbackTexture2D:       "FeedbackTexture2D",
	KindFeedbackTexture2DArray:  "FeedbackTexture2DArray",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a kind name to its value.
func ParseKind(name string) (Kind, bool) {
	for i, n := range kindNames {
		if n == name && i != int(KindInvalid) {
			return Kind(i), true //nolint:gosec // G115: bounded by numKinds
		}
	}
	return KindInvalid, false
}

// IsTyped reports textures and typed buffers.
func (k Kind) IsTyped() bool {
	return k >= KindTexture1D && k <= KindTypedBuffer
}

// IsFeedback reports sampler feedback textures.
func (k Kind) IsFeedback() bool {
	return k == KindFeedbackTexture2D || k == KindFeedbackTexture2DArray
}

// Flags are the boolean properties of a resource.
type Flags uint8

const (
	FlagUAV Flags = 1 << iota
	FlagROV
	FlagGloballyCoherent
	FlagReorderCoherent
	FlagHasCounter
	FlagSamplerCmp
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// CompType is the element component type of typed resources.
type CompType uint8

const (
	CompInvalid CompType = iota
	CompI1
	CompI16
	CompU16
	CompI32
	CompU32
	CompI64
	CompU64
	CompF16
	CompF32
	CompF64
	CompSNormF16
	CompUNormF16
	CompSNormF32
	CompUNormF32
)

// Properties describes one resource object. The zero value is invalid.
type Properties struct {
	Kind         Kind
	Flags        Flags
	CompType     CompType
	CompCount    uint8
	SampleCount  uint8
	StructStride uint32
	CBufferSize  uint32
	FeedbackType uint8
}

// Invalid is returned for lookups that miss.
var Invalid = Properties{}

// IsValid is false for the zero value.
func (p Properties) IsValid() bool { return p.Kind != KindInvalid && p.Kind < numKinds }

// Class derives the binding class.
func (p Properties) Class() Class {
	switch {
	case !p.IsValid():
		return ClassInvalid
	case p.Kind == KindSampler:
		return ClassSampler
	case p.Kind == KindCBuffer:
		return ClassCBuffer
	case p.Flags.Has(FlagUAV):
		return ClassUAV
	default:
		return ClassSRV
	}
}

// IsUAV reports writable resources.
func (p Properties) IsUAV() bool { return p.Flags.Has(FlagUAV) }

func (p Properties) String() string {
	if !p.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%s %s flags=%#x", p.Class(), p.Kind, uint8(p.Flags))
}

// Encode packs p into the two dwords carried by an annotate-handle call.
// Word 0 holds the kind and flags; word 1 holds the kind-specific payload.
func (p Properties) Encode() [2]uint32 {
	var w [2]uint32
	w[0] = uint32(p.Kind) | uint32(p.Flags)<<8
	switch {
	case p.Kind.IsTyped():
		w[1] = uint32(p.CompType) | uint32(p.CompCount)<<8 | uint32(p.SampleCount)<<16
	case p.Kind == KindStructuredBuffer:
		w[1] = p.StructStride
	case p.Kind == KindCBuffer || p.Kind == KindTBuffer:
		w[1] = p.CBufferSize
	case p.Kind.IsFeedback():
		w[1] = uint32(p.FeedbackType)
	}
	return w
}

// Decode is the inverse of Encode.
func Decode(w [2]uint32) Properties {
	p := Properties{
		Kind:  Kind(w[0] & 0xff),
		Flags: Flags(w[0] >> 8 & 0xff),
	}
	switch {
	case p.Kind.IsTyped():
		p.CompType = CompType(w[1] & 0xff)
		p.CompCount = uint8(w[1] >> 8 & 0xff)
		p.SampleCount = uint8(w[1] >> 16 & 0xff)
	case p.Kind == KindStructuredBuffer:
		p.StructStride = w[1]
	case p.Kind == KindCBuffer || p.Kind == KindTBuffer:
		p.CBufferSize = w[1]
	case p.Kind.IsFeedback():
		p.FeedbackType = uint8(w[1] & 0xff)
	}
	return p
}
