package cbuf

import (
	"fmt"
	"sort"

	"fortio.org/safecast"

	"dxlower/internal/annot"
	"dxlower/internal/ir"
)

// NoOffset marks a constant without a packoffset.
const NoOffset int64 = -1

// Constant is one member of a cbuffer as declared by the front end. Global
// is the standalone global the front end created for the member; its uses
// are rewritten by ConstructCBuffer.
type Constant struct {
	Name   string
	Global ir.ValueID
	// Type is the content type of Global.
	Type ir.TypeID
	// UserOffset is the packoffset in bytes, or NoOffset.
	UserOffset int64
	RowMajor   bool

	Offset uint32
	Size   uint32
}

// HasUserOffset reports an explicitly placed constant.
func (c *Constant) HasUserOffset() bool { return c.UserOffset >= 0 }

// CBuffer is one cbuffer / tbuffer declaration.
type CBuffer struct {
	Name      string
	Constants []*Constant
	Size      uint32

	// IsTBuffer selects texture-buffer binding.
	IsTBuffer bool
	// IsView marks ConstantBuffer<T> / TextureBuffer<T>: the single constant
	// is the view object, whose content type is T or an array of T.
	IsView    bool
	IsArray   bool
	ArrayDims []uint32

	// Global is the backing global created by ConstructCBuffer.
	Global ir.ValueID

	ID         uint32
	Space      uint32
	LowerBound uint32
}

// Options configures layout.
type Options struct {
	// MinPrecision treats 16-bit types as min-precision: they are padded to
	// 32 bits and do not share rows with full precision members.
	MinPrecision bool
}

// AllocateDxilConstantBuffer assigns an offset to every constant of cb and
// returns the buffer size. Explicitly placed constants keep their offsets;
// the rest are packed in declaration order after the highest explicit end.
func AllocateDxilConstantBuffer(ts *ir.Types, at *annot.TypeSystem, cb *CBuffer, opts Options) uint32 {
	var offset uint32
	for _, c := range cb.Constants {
		c.Size = LegacySize(ts, at, c.Type, c.RowMajor, opts.MinPrecision)
		if !c.HasUserOffset() {
			continue
		}
		off, err := safecast.Conv[uint32](c.UserOffset)
		if err != nil {
			panic(fmt.Sprintf("cbuf: packoffset of %s: %v", c.Name, err))
		}
		c.Offset = off
		if end := c.Offset + c.Size; end > offset {
			offset = end
		}
	}

	curRowIsMinPrec := false
	for _, c := range cb.Constants {
		if c.HasUserOffset() {
			continue
		}
		c.Offset = AlignCBufferOffset(ts, offset, c.Size, c.Type, c.RowMajor, opts.MinPrecision, &curRowIsMinPrec)
		offset = c.Offset + c.Size
	}
	cb.Size = offset
	return offset
}

// Overlap is a pair of explicitly placed constants sharing bytes.
type Overlap struct {
	A, B *Constant
}

// Overlaps lists explicitly placed, non-empty constants of cb whose byte
// ranges intersect, ordered by offset.
func Overlaps(cb *CBuffer) []Overlap {
	var placed []*Constant
	for _, c := range cb.Constants {
		if c.HasUserOffset() && c.Size > 0 {
			placed = append(placed, c)
		}
	}
	sort.SliceStable(placed, func(i, j int) bool { return placed[i].Offset < placed[j].Offset })
	var out []Overlap
	for i := 1; i < len(placed); i++ {
		prev := placed[i-1]
		if placed[i].Offset < prev.Offset+prev.Size {
			out = append(out, Overlap{A: prev, B: placed[i]})
		}
	}
	return out
}
