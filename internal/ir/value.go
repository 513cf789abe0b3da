package ir

type ValueID int32
type BlockID int32
type FuncID int32

const (
	NoValueID ValueID = -1
	NoBlockID BlockID = -1
	NoFuncID  FuncID  = -1
)

// ValueKind distinguishes the value categories stored in the module arena.
type ValueKind uint8

const (
	ValueInvalid ValueKind = iota
	// ValueConstInt is an integer constant; Int holds the raw bits.
	ValueConstInt
	// ValueConstFloat is a floating point constant.
	ValueConstFloat
	// ValueConstAggregate is a vector, array or struct constant; Operands hold the elements.
	ValueConstAggregate
	// ValueUndef is an undef of Type.
	ValueUndef
	// ValueZero is zeroinitializer (null for pointers).
	ValueZero
	// ValueConstExpr is a constant expression (GEP or bitcast) over constants and globals.
	ValueConstExpr
	// ValueGlobal is a global variable; Type is a pointer to its content.
	ValueGlobal
	// ValueFunc is a function symbol; Type is a pointer to the function type.
	ValueFunc
	// ValueArg is a function parameter.
	ValueArg
	// ValueInstr is an instruction.
	ValueInstr
)

func (k ValueKind) String() string {
	switch k {
	case ValueConstInt:
		return "const-int"
	case ValueConstFloat:
		return "const-float"
	case ValueConstAggregate:
		return "const-aggregate"
	case ValueUndef:
		return "undef"
	case ValueZero:
		return "zero"
	case ValueConstExpr:
		return "const-expr"
	case ValueGlobal:
		return "global"
	case ValueFunc:
		return "func"
	case ValueArg:
		return "arg"
	case ValueInstr:
		return "instr"
	default:
		return "invalid"
	}
}

// Op enumerates instruction opcodes.
type Op uint8

const (
	OpInvalid Op = iota
	OpAlloca
	OpLoad
	OpStore
	OpGEP
	OpCall
	OpBitCast
	OpZExt
	OpSExt
	OpTrunc
	OpFPExt
	OpFPTrunc
	OpSIToFP
	OpUIToFP
	OpFPToSI
	OpFPToUI
	OpICmp
	OpFCmp
	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpAnd
	OpOr
	OpXor
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpSelect
	OpPhi
	OpInsertElement
	OpExtractElement
	OpShuffleVector
	OpInsertValue
	OpExtractValue
	OpBr
	OpCondBr
	OpSwitch
	OpRet
	OpUnreachable
)

var opNames = [...]string{
	OpInvalid:        "invalid",
	OpAlloca:         "alloca",
	OpLoad:           "load",
	OpStore:          "store",
	OpGEP:            "getelementptr",
	OpCall:           "call",
	OpBitCast:        "bitcast",
	OpZExt:           "zext",
	OpSExt:           "sext",
	OpTrunc:          "trunc",
	OpFPExt:          "fpext",
	OpFPTrunc:        "fptrunc",
	OpSIToFP:         "sitofp",
	OpUIToFP:         "uitofp",
	OpFPToSI:         "fptosi",
	OpFPToUI:         "fptoui",
	OpICmp:           "icmp",
	OpFCmp:           "fcmp",
	OpAdd:            "add",
	OpSub:            "sub",
	OpMul:            "mul",
	OpSDiv:           "sdiv",
	OpUDiv:           "udiv",
	OpAnd:            "and",
	OpOr:             "or",
	OpXor:            "xor",
	OpFAdd:           "fadd",
	OpFSub:           "fsub",
	OpFMul:           "fmul",
	OpFDiv:           "fdiv",
	OpSelect:         "select",
	OpPhi:            "phi",
	OpInsertElement:  "insertelement",
	OpExtractElement: "extractelement",
	OpShuffleVector:  "shufflevector",
	OpInsertValue:    "insertvalue",
	OpExtractValue:   "extractvalue",
	OpBr:             "br",
	OpCondBr:         "br",
	OpSwitch:         "switch",
	OpRet:            "ret",
	OpUnreachable:    "unreachable",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "invalid"
}

// IsTerminator reports whether op ends a block.
func (op Op) IsTerminator() bool {
	switch op {
	case OpBr, OpCondBr, OpSwitch, OpRet, OpUnreachable:
		return true
	}
	return false
}

// IsCast reports single-operand conversion opcodes.
func (op Op) IsCast() bool {
	switch op {
	case OpBitCast, OpZExt, OpSExt, OpTrunc, OpFPExt, OpFPTrunc, OpSIToFP, OpUIToFP, OpFPToSI, OpFPToUI:
		return true
	}
	return false
}

// IsBinary reports two-operand arithmetic opcodes.
func (op Op) IsBinary() bool {
	return op >= OpAdd && op <= OpFDiv
}

// Pred is a comparison predicate for icmp / fcmp.
type Pred uint8

const (
	PredNone Pred = iota
	PredEQ
	PredNE
	PredUGT
	PredUGE
	PredULT
	PredULE
	PredSGT
	PredSGE
	PredSLT
	PredSLE
	PredOEQ
	PredONE
	PredOGT
	PredOGE
	PredOLT
	PredOLE
	PredUNE
	PredUNO
	PredORD
)

var predNames = [...]string{
	PredNone: "none",
	PredEQ:   "eq",
	PredNE:   "ne",
	PredUGT:  "ugt",
	PredUGE:  "uge",
	PredULT:  "ult",
	PredULE:  "ule",
	PredSGT:  "sgt",
	PredSGE:  "sge",
	PredSLT:  "slt",
	PredSLE:  "sle",
	PredOEQ:  "oeq",
	PredONE:  "one",
	PredOGT:  "ogt",
	PredOGE:  "oge",
	PredOLT:  "olt",
	PredOLE:  "ole",
	PredUNE:  "une",
	PredUNO:  "uno",
	PredORD:  "ord",
}

func (p Pred) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}
	return "none"
}

// Use is one operand slot of User that refers to a value.
type Use struct {
	User  ValueID
	Index int
}

// Value is one arena record. Which fields are meaningful depends on Kind and Op.
type Value struct {
	ID   ValueID
	Kind ValueKind
	Type TypeID
	Name string

	// Instructions and constant expressions.
	Op       Op
	Pred     Pred
	Operands []ValueID
	// Imms holds extractvalue/insertvalue indices and shufflevector masks.
	Imms []int32
	// Targets holds successor blocks: br [dest], condbr [then, else],
	// switch [default, case...]; for phi, the incoming block of each operand.
	Targets []BlockID
	// AllocTy is the allocated type of an alloca.
	AllocTy TypeID

	Block BlockID
	Func  FuncID

	// Constants.
	Int   uint64
	Float float64

	// Globals.
	Init     ValueID
	Constant bool

	// Arguments.
	ArgIndex int
	SRet     bool

	Erased bool

	uses []Use
}

// IsConst reports constant kinds (including constant expressions).
func (v *Value) IsConst() bool {
	switch v.Kind {
	case ValueConstInt, ValueConstFloat, ValueConstAggregate, ValueUndef, ValueZero, ValueConstExpr:
		return true
	}
	return false
}

// IsInstr reports whether v is a (live or erased) instruction.
func (v *Value) IsInstr() bool { return v.Kind == ValueInstr }

// IsTerminator reports terminator instructions.
func (v *Value) IsTerminator() bool { return v.Kind == ValueInstr && v.Op.IsTerminator() }

// Callee returns the callee of a call instruction.
func (v *Value) Callee() ValueID {
	if v.Op != OpCall || len(v.Operands) == 0 {
		return NoValueID
	}
	return v.Operands[0]
}

// Args returns the call arguments (without the callee).
func (v *Value) Args() []ValueID {
	if v.Op != OpCall || len(v.Operands) == 0 {
		return nil
	}
	return v.Operands[1:]
}

// Arg returns call argument i.
func (v *Value) Arg(i int) ValueID {
	args := v.Args()
	if i < 0 || i >= len(args) {
		return NoValueID
	}
	return args[i]
}
