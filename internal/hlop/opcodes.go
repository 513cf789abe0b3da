package hlop

// SubscriptOp is the opcode space of GroupSubscript.
type SubscriptOp uint32

const (
	SubscriptDefault SubscriptOp = iota
	SubscriptColMat
	SubscriptRowMat
	SubscriptColMatElement
	SubscriptRowMatElement
	SubscriptDouble
	SubscriptCBuffer
	SubscriptVector
)

var subscriptNames = [...]string{
	SubscriptDefault:       "DefaultSubscript",
	SubscriptColMat:        "ColMatSubscript",
	SubscriptRowMat:        "RowMatSubscript",
	SubscriptColMatElement: "ColMatElement",
	SubscriptRowMatElement: "RowMatElement",
	SubscriptDouble:        "DoubleSubscript",
	SubscriptCBuffer:       "CBufferSubscript",
	SubscriptVector:        "VectorSubscript",
}

func (op SubscriptOp) String() string {
	if int(op) < len(subscriptNames) {
		return subscriptNames[op]
	}
	return "UnknownSubscript"
}

// CastOp is the opcode space of GroupCast.
type CastOp uint32

const (
	CastDefault CastOp = iota
	CastToUnsigned
	CastFromUnsigned
	CastUnsignedUnsigned
	CastColMatrixToVec
	CastRowMatrixToVec
	CastColMatrixToRowMatrix
	CastRowMatrixToColMatrix
	CastHandleToRes
	CastHandleToNodeOutput
	CastNodeOutputToHandle
	CastHandleToNodeRecord
	CastNodeRecordToHandle
)

var castNames = [...]string{
	CastDefault:              "DefaultCast",
	CastToUnsigned:           "ToUnsignedCast",
	CastFromUnsigned:         "FromUnsignedCast",
	CastUnsignedUnsigned:     "UnsignedUnsignedCast",
	CastColMatrixToVec:       "ColMatrixToVecCast",
	CastRowMatrixToVec:       "RowMatrixToVecCast",
	CastColMatrixToRowMatrix: "ColMatrixToRowMatrix",
	CastRowMatrixToColMatrix: "RowMatrixToColMatrix",
	CastHandleToRes:          "HandleToResCast",
	CastHandleToNodeOutput:   "HandleToNodeOutputCast",
	CastNodeOutputToHandle:   "NodeOutputToHandleCast",
	CastHandleToNodeRecord:   "HandleToNodeRecordCast",
	CastNodeRecordToHandle:   "NodeRecordToHandleCast",
}

func (op CastOp) String() string {
	if int(op) < len(castNames) {
		return castNames[op]
	}
	return "UnknownCast"
}

// MatLoadStoreOp is the opcode space of GroupMatLoadStore.
type MatLoadStoreOp uint32

const (
	ColMatLoad MatLoadStoreOp = iota
	ColMatStore
	RowMatLoad
	RowMatStore
)

var matLdStNames = [...]string{
	ColMatLoad:  "ColMatLoad",
	ColMatStore: "ColMatStore",
	RowMatLoad:  "RowMatLoad",
	RowMatStore: "RowMatStore",
}

func (op MatLoadStoreOp) String() string {
	if int(op) < len(matLdStNames) {
		return matLdStNames[op]
	}
	return "UnknownMatLoadStore"
}

// OpcodeName renders an opcode number within its group.
func OpcodeName(g Group, opcode uint32) string {
	switch g {
	case GroupIntrinsic, GroupExtIntrinsic, GroupWaveSensitive:
		return IntrinsicOp(opcode).String()
	case GroupSubscript:
		return SubscriptOp(opcode).String()
	case GroupCast:
		return CastOp(opcode).String()
	case GroupMatLoadStore:
		return MatLoadStoreOp(opcode).String()
	default:
		return g.String()
	}
}
