package oplower

import (
	"strings"

	"dxlower/internal/hlop"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
)

var textureKinds = map[string]resprops.Kind{
	"Texture1D":        resprops.KindTexture1D,
	"Texture1DArray":   resprops.KindTexture1DArray,
	"Texture2D":        resprops.KindTexture2D,
	"Texture2DArray":   resprops.KindTexture2DArray,
	"Texture2DMS":      resprops.KindTexture2DMS,
	"Texture2DMSArray": resprops.KindTexture2DMSArray,
	"Texture3D":        resprops.KindTexture3D,
	"TextureCube":      resprops.KindTextureCube,
	"TextureCubeArray": resprops.KindTextureCubeArray,
	"Buffer":           resprops.KindTypedBuffer,
}

// propsFromType derives properties from the resource type alone: the class
// name picks kind and flags, the first struct field is the element type.
// Used for objects no registered global or alloca describes, such as
// descriptor heap results that are consumed without being stored.
func (l *Lowerer) propsFromType(resTy ir.TypeID) (resprops.Properties, bool) {
	ts := l.m.Types
	if hlop.Classify(ts, resTy) != hlop.ObjResource || ts.IsArray(resTy) {
		return resprops.Invalid, false
	}
	name := ts.Name(resTy)
	cls := hlop.ClassName(name)
	var p resprops.Properties

	base := cls
	switch {
	case strings.HasPrefix(cls, "RasterizerOrdered"):
		base = strings.TrimPrefix(cls, "RasterizerOrdered")
		p.Flags = resprops.FlagUAV | resprops.FlagROV
	case strings.HasPrefix(cls, "RW"):
		base = strings.TrimPrefix(cls, "RW")
		p.Flags = resprops.FlagUAV
	}

	var elem ir.TypeID
	if fields := ts.Fields(resTy); len(fields) > 0 {
		elem = fields[0]
	}

	if k, ok := textureKinds[base]; ok {
		p.Kind = k
		p.CompType, p.CompCount = compOf(ts, elem, templateArg(name))
		return p, true
	}
	switch base {
	case "ByteAddressBuffer":
		p.Kind = resprops.KindRawBuffer
	case "StructuredBuffer":
		p.Kind = resprops.KindStructuredBuffer
		p.StructStride = l.sizeOf(elem)
	case "AppendStructuredBuffer", "ConsumeStructuredBuffer":
		p.Kind = resprops.KindStructuredBuffer
		p.Flags = resprops.FlagUAV | resprops.FlagHasCounter
		p.StructStride = l.sizeOf(elem)
	case "ConstantBuffer":
		p.Kind = resprops.KindCBuffer
		p.CBufferSize = l.sizeOf(elem)
	case "TextureBuffer":
		p.Kind = resprops.KindTBuffer
		p.CBufferSize = l.sizeOf(elem)
	case "SamplerState":
		p.Kind = resprops.KindSampler
	case "SamplerComparisonState":
		p.Kind = resprops.KindSampler
		p.Flags = resprops.FlagSamplerCmp
	case "RaytracingAccelerationStructure":
		p.Kind = resprops.KindRTAccelerationStructure
	case "FeedbackTexture2D":
		p.Kind = resprops.KindFeedbackTexture2D
		p.Flags = resprops.FlagUAV
	case "FeedbackTexture2DArray":
		p.Kind = resprops.KindFeedbackTexture2DArray
		p.Flags = resprops.FlagUAV
	default:
		return resprops.Invalid, false
	}
	return p, true
}

func (l *Lowerer) sizeOf(ty ir.TypeID) uint32 {
	if ty == ir.NoTypeID {
		return 0
	}
	n, err := l.layout.SizeOf(ty)
	if err != nil || n < 0 {
		return 0
	}
	return uint32(n) //nolint:gosec // G115: layout sizes fit in 32 bits
}

// templateArg returns the text between the outermost angle brackets.
func templateArg(name string) string {
	i := strings.IndexByte(name, '<')
	j := strings.LastIndexByte(name, '>')
	if i < 0 || j <= i {
		return ""
	}
	return strings.TrimSpace(name[i+1 : j])
}

// compOf maps a typed resource element to its component type and count.
// Integer signedness only survives in the template spelling.
func compOf(ts *ir.Types, elem ir.TypeID, arg string) (resprops.CompType, uint8) {
	count := uint8(1)
	if ts.IsVector(elem) {
		count = uint8(ts.Count(elem)) //nolint:gosec // G115: vectors have at most 4 lanes
		elem = ts.Elem(elem)
	}
	unsigned := strings.Contains(arg, "uint") || strings.Contains(arg, "unsigned")
	switch {
	case ts.IsFloat(elem):
		switch ts.Bits(elem) {
		case 16:
			return resprops.CompF16, count
		case 64:
			return resprops.CompF64, count
		default:
			return resprops.CompF32, count
		}
	case ts.IsInt(elem, 1):
		return resprops.CompI1, count
	case ts.IsInt(elem, 16):
		if unsigned {
			return resprops.CompU16, count
		}
		return resprops.CompI16, count
	case ts.IsInt(elem, 64):
		if unsigned {
			return resprops.CompU64, count
		}
		return resprops.CompI64, count
	case ts.IsInt(elem, 0):
		if unsigned {
			return resprops.CompU32, count
		}
		return resprops.CompI32, count
	}
	return resprops.CompInvalid, 0
}
