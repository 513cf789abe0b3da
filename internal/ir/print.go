package ir

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Print writes a deterministic LLVM-like rendering of m.
func Print(w io.Writer, m *Module) error {
	if w == nil || m == nil {
		return nil
	}
	p := &printer{m: m, ts: m.Types}
	var sb strings.Builder
	if m.Name != "" {
		fmt.Fprintf(&sb, "; module %s\n", m.Name)
	}
	for _, st := range m.Types.NamedStructs() {
		fmt.Fprintf(&sb, "%%%s = type %s\n", QuoteName(m.Types.Name(st)), m.Types.StructBody(st))
	}
	globals := m.Globals()
	if len(globals) > 0 {
		sb.WriteByte('\n')
	}
	for _, g := range globals {
		sb.WriteString(p.global(g))
		sb.WriteByte('\n')
	}
	for _, f := range m.Funcs() {
		sb.WriteByte('\n')
		p.fn(&sb, f)
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// String renders m with Print.
func (m *Module) String() string {
	var sb strings.Builder
	_ = Print(&sb, m)
	return sb.String()
}

// FuncString renders a single function.
func (m *Module) FuncString(f *Func) string {
	p := &printer{m: m, ts: m.Types}
	var sb strings.Builder
	p.fn(&sb, f)
	return sb.String()
}

type printer struct {
	m  *Module
	ts *Types
	// per function slots
	slots  map[ValueID]string
	labels map[BlockID]string
}

func (p *printer) global(g ValueID) string {
	v := p.m.Value(g)
	content := p.ts.Elem(v.Type)
	kind := "global"
	if v.Constant {
		kind = "constant"
	}
	as := ""
	if n := p.ts.AddrSpace(v.Type); n != 0 {
		as = fmt.Sprintf("addrspace(%d) ", n)
	}
	if v.Init == NoValueID {
		return fmt.Sprintf("@%s = external %s%s %s", QuoteName(v.Name), as, kind, p.ts.String(content))
	}
	return fmt.Sprintf("@%s = %s%s %s %s", QuoteName(v.Name), as, kind, p.ts.String(content), p.ref(v.Init))
}

func (p *printer) assignSlots(f *Func) {
	p.slots = make(map[ValueID]string)
	p.labels = make(map[BlockID]string)
	used := map[string]int{}
	next := 0
	name := func(base string) string {
		if base == "" {
			s := strconv.Itoa(next)
			next++
			return s
		}
		n := used[base]
		used[base] = n + 1
		if n == 0 {
			return base
		}
		return base + "." + strconv.Itoa(n)
	}
	for _, a := range f.Params {
		p.slots[a] = name(p.m.Value(a).Name)
	}
	for i, b := range f.Blocks {
		blk := p.m.Block(b)
		base := blk.Name
		if base == "" {
			base = "bb" + strconv.Itoa(i)
		}
		p.labels[b] = name(base)
		for _, id := range blk.Instrs {
			v := p.m.Value(id)
			if p.ts.IsVoid(v.Type) {
				continue
			}
			p.slots[id] = name(v.Name)
		}
	}
}

func (p *printer) fn(sb *strings.Builder, f *Func) {
	p.assignSlots(f)
	ret := p.ts.Ret(f.Type)
	params := make([]string, len(f.Params))
	for i, a := range f.Params {
		av := p.m.Value(a)
		s := p.ts.String(av.Type)
		if av.SRet {
			s += " sret"
		}
		if !f.IsDecl() {
			s += " %" + QuoteName(p.slots[a])
		}
		params[i] = s
	}
	attrs := ""
	for _, k := range f.AttrKeys() {
		attrs += fmt.Sprintf(" %q=%q", k, f.Attrs[k])
	}
	if f.IsDecl() {
		fmt.Fprintf(sb, "declare %s @%s(%s)%s\n", p.ts.String(ret), QuoteName(f.Name), strings.Join(params, ", "), attrs)
		return
	}
	fmt.Fprintf(sb, "define %s @%s(%s)%s {\n", p.ts.String(ret), QuoteName(f.Name), strings.Join(params, ", "), attrs)
	for i, b := range f.Blocks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(sb, "%s:\n", p.label(b))
		for _, id := range p.m.Block(b).Instrs {
			sb.WriteString("  ")
			sb.WriteString(p.instr(id))
			sb.WriteByte('\n')
		}
	}
	sb.WriteString("}\n")
}

func (p *printer) label(b BlockID) string {
	if s, ok := p.labels[b]; ok {
		return QuoteName(s)
	}
	if b == NoBlockID {
		return "<none>"
	}
	return QuoteName(p.m.Block(b).Name)
}

// ref renders a value without its type.
func (p *printer) ref(id ValueID) string {
	if id == NoValueID {
		return "<none>"
	}
	v := p.m.Value(id)
	switch v.Kind {
	case ValueConstInt:
		if p.ts.Bits(v.Type) == 1 {
			if v.Int != 0 {
				return "true"
			}
			return "false"
		}
		n, _ := p.m.ConstIntValue(id)
		return strconv.FormatInt(n, 10)
	case ValueConstFloat:
		return formatFloat(v.Float)
	case ValueUndef:
		return "undef"
	case ValueZero:
		if p.ts.IsPointer(v.Type) {
			return "null"
		}
		if p.ts.IsInt(v.Type, 0) {
			return "0"
		}
		if p.ts.IsFloat(v.Type) {
			return formatFloat(0)
		}
		return "zeroinitializer"
	case ValueConstAggregate:
		parts := make([]string, len(v.Operands))
		for i, e := range v.Operands {
			parts[i] = p.typed(e)
		}
		switch p.ts.Kind(v.Type) {
		case KindVector:
			return "<" + strings.Join(parts, ", ") + ">"
		case KindArray:
			return "[" + strings.Join(parts, ", ") + "]"
		default:
			return "{ " + strings.Join(parts, ", ") + " }"
		}
	case ValueConstExpr:
		switch v.Op {
		case OpGEP:
			base := v.Operands[0]
			parts := []string{p.ts.String(p.ts.Elem(p.m.TypeOf(base)))}
			for _, op := range v.Operands {
				parts = append(parts, p.typed(op))
			}
			return "getelementptr (" + strings.Join(parts, ", ") + ")"
		default:
			return fmt.Sprintf("%s (%s to %s)", v.Op, p.typed(v.Operands[0]), p.ts.String(v.Type))
		}
	case ValueGlobal, ValueFunc:
		return "@" + QuoteName(v.Name)
	default:
		if s, ok := p.slots[id]; ok {
			return "%" + QuoteName(s)
		}
		if v.Erased {
			return fmt.Sprintf("%%<erased %d>", id)
		}
		return fmt.Sprintf("%%<foreign %d>", id)
	}
}

func (p *printer) typed(id ValueID) string {
	if id == NoValueID {
		return "<none>"
	}
	return p.ts.String(p.m.TypeOf(id)) + " " + p.ref(id)
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "0x7FF0000000000000"
	case math.IsInf(f, -1):
		return "0xFFF0000000000000"
	case math.IsNaN(f):
		return "0x7FF8000000000000"
	}
	return strconv.FormatFloat(f, 'e', 6, 64)
}

func (p *printer) instr(id ValueID) string {
	v := p.m.Value(id)
	lhs := ""
	if s, ok := p.slots[id]; ok {
		lhs = "%" + QuoteName(s) + " = "
	}
	ops := v.Operands
	switch {
	case v.Op == OpAlloca:
		return lhs + "alloca " + p.ts.String(v.AllocTy)
	case v.Op == OpLoad:
		return lhs + fmt.Sprintf("load %s, %s", p.ts.String(v.Type), p.typed(ops[0]))
	case v.Op == OpStore:
		return fmt.Sprintf("store %s, %s", p.typed(ops[0]), p.typed(ops[1]))
	case v.Op == OpGEP:
		parts := []string{p.ts.String(p.ts.Elem(p.m.TypeOf(ops[0])))}
		for _, op := range ops {
			parts = append(parts, p.typed(op))
		}
		return lhs + "getelementptr " + strings.Join(parts, ", ")
	case v.Op == OpCall:
		args := make([]string, 0, len(ops)-1)
		for _, a := range ops[1:] {
			args = append(args, p.typed(a))
		}
		return lhs + fmt.Sprintf("call %s %s(%s)", p.ts.String(v.Type), p.ref(ops[0]), strings.Join(args, ", "))
	case v.Op.IsCast():
		return lhs + fmt.Sprintf("%s %s to %s", v.Op, p.typed(ops[0]), p.ts.String(v.Type))
	case v.Op == OpICmp || v.Op == OpFCmp:
		return lhs + fmt.Sprintf("%s %s %s, %s", v.Op, v.Pred, p.typed(ops[0]), p.ref(ops[1]))
	case v.Op.IsBinary():
		return lhs + fmt.Sprintf("%s %s, %s", v.Op, p.typed(ops[0]), p.ref(ops[1]))
	case v.Op == OpSelect:
		return lhs + fmt.Sprintf("select %s, %s, %s", p.typed(ops[0]), p.typed(ops[1]), p.typed(ops[2]))
	case v.Op == OpPhi:
		parts := make([]string, len(ops))
		for i, op := range ops {
			parts[i] = fmt.Sprintf("[ %s, %%%s ]", p.ref(op), p.label(v.Targets[i]))
		}
		return lhs + fmt.Sprintf("phi %s %s", p.ts.String(v.Type), strings.Join(parts, ", "))
	case v.Op == OpInsertElement:
		return lhs + fmt.Sprintf("insertelement %s, %s, %s", p.typed(ops[0]), p.typed(ops[1]), p.typed(ops[2]))
	case v.Op == OpExtractElement:
		return lhs + fmt.Sprintf("extractelement %s, %s", p.typed(ops[0]), p.typed(ops[1]))
	case v.Op == OpShuffleVector:
		mask := make([]string, len(v.Imms))
		for i, x := range v.Imms {
			if x < 0 {
				mask[i] = "i32 undef"
			} else {
				mask[i] = "i32 " + strconv.Itoa(int(x))
			}
		}
		return lhs + fmt.Sprintf("shufflevector %s, %s, <%d x i32> <%s>", p.typed(ops[0]), p.typed(ops[1]), len(mask), strings.Join(mask, ", "))
	case v.Op == OpInsertValue:
		return lhs + fmt.Sprintf("insertvalue %s, %s, %s", p.typed(ops[0]), p.typed(ops[1]), joinImms(v.Imms))
	case v.Op == OpExtractValue:
		return lhs + fmt.Sprintf("extractvalue %s, %s", p.typed(ops[0]), joinImms(v.Imms))
	case v.Op == OpBr:
		return "br label %" + p.label(v.Targets[0])
	case v.Op == OpCondBr:
		return fmt.Sprintf("br %s, label %%%s, label %%%s", p.typed(ops[0]), p.label(v.Targets[0]), p.label(v.Targets[1]))
	case v.Op == OpSwitch:
		var sb strings.Builder
		fmt.Fprintf(&sb, "switch %s, label %%%s [", p.typed(ops[0]), p.label(v.Targets[0]))
		for i := 1; i < len(ops); i++ {
			fmt.Fprintf(&sb, " %s, label %%%s", p.typed(ops[i]), p.label(v.Targets[i]))
		}
		sb.WriteString(" ]")
		return sb.String()
	case v.Op == OpRet:
		if len(ops) == 0 {
			return "ret void"
		}
		return "ret " + p.typed(ops[0])
	case v.Op == OpUnreachable:
		return "unreachable"
	}
	return lhs + "<" + v.Op.String() + ">"
}

func joinImms(imms []int32) string {
	parts := make([]string, len(imms))
	for i, x := range imms {
		parts[i] = strconv.Itoa(int(x))
	}
	return strings.Join(parts, ", ")
}
