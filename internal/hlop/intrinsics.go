package hlop

// IntrinsicOp numbers HLSL intrinsic functions and object methods.
type IntrinsicOp uint32

const (
	IOPabs IntrinsicOp = iota
	IOPacos
	IOPasin
	IOPatan
	IOPatan2
	IOPceil
	IOPclamp
	IOPcos
	IOPcosh
	IOPexp
	IOPexp2
	IOPfloor
	IOPfmod
	IOPfrac
	IOPisfinite
	IOPisinf
	IOPisnan
	IOPlog
	IOPlog10
	IOPlog2
	IOPmax
	IOPmin
	IOPpow
	IOPrcp
	IOPround
	IOPrsqrt
	IOPsaturate
	IOPsin
	IOPsincos
	IOPsinh
	IOPsqrt
	IOPtan
	IOPtanh
	IOPtrunc
	IOPumax
	IOPumin
	IOPuclamp
	IOPdot
	IOPlerp
	IOPmul
	IOPasuint
	IOPasfloat
	IOPWaveActiveSum
	IOPWaveActiveAllTrue
	IOPWaveReadLaneFirst
	IOPQuadReadAcrossX
	IOPddx
	IOPddy
	IOPCreateResourceFromHeap
	IOPInterlockedAdd
	MOPAppend
	MOPConsume
	MOPIncrementCounter
	MOPDecrementCounter
	MOPSample
	MOPLoad
	MOPStore
	MOPGetDimensions
	MOPOutputComplete
	MOPGetGroupNodeOutputRecords
	MOPGetThreadNodeOutputRecords
	MOPCount
	numIntrinsics
)

// MemAttr is the memory behaviour of an intrinsic.
type MemAttr uint8

const (
	MemNone MemAttr = iota
	MemReadNone
	MemReadOnly
)

// Suffix returns the mangling fragment for the attribute.
func (a MemAttr) Suffix() string {
	switch a {
	case MemReadNone:
		return "rn"
	case MemReadOnly:
		return "ro"
	}
	return ""
}

// IntrinsicInfo is one row of the intrinsic table.
type IntrinsicInfo struct {
	Op            IntrinsicOp
	Name          string
	Mem           MemAttr
	WaveSensitive bool
}

var intrinsicTable = [...]IntrinsicInfo{
	IOPabs:                        {IOPabs, "abs", MemReadNone, false},
	IOPacos:                       {IOPacos, "acos", MemReadNone, false},
	IOPasin:                       {IOPasin, "asin", MemReadNone, false},
	IOPatan:                       {IOPatan, "atan", MemReadNone, false},
	IOPatan2:                      {IOPatan2, "atan2", MemReadNone, false},
	IOPceil:                       {IOPceil, "ceil", MemReadNone, false},
	IOPclamp:                      {IOPclamp, "clamp", MemReadNone, false},
	IOPcos:                        {IOPcos, "cos", MemReadNone, false},
	IOPcosh:                       {IOPcosh, "cosh", MemReadNone, false},
	IOPexp:                        {IOPexp, "exp", MemReadNone, false},
	IOPexp2:                       {IOPexp2, "exp2", MemReadNone, false},
	IOPfloor:                      {IOPfloor, "floor", MemReadNone, false},
	IOPfmod:                       {IOPfmod, "fmod", MemReadNone, false},
	IOPfrac:                       {IOPfrac, "frac", MemReadNone, false},
	IOPisfinite:                   {IOPisfinite, "isfinite", MemReadNone, false},
	IOPisinf:                      {IOPisinf, "isinf", MemReadNone, false},
	IOPisnan:                      {IOPisnan, "isnan", MemReadNone, false},
	IOPlog:                        {IOPlog, "log", MemReadNone, false},
	IOPlog10:                      {IOPlog10, "log10", MemReadNone, false},
	IOPlog2:                       {IOPlog2, "log2", MemReadNone, false},
	IOPmax:                        {IOPmax, "max", MemReadNone, false},
	IOPmin:                        {IOPmin, "min", MemReadNone, false},
	IOPpow:                        {IOPpow, "pow", MemReadNone, false},
	IOPrcp:                        {IOPrcp, "rcp", MemReadNone, false},
	IOPround:                      {IOPround, "round", MemReadNone, false},
	IOPrsqrt:                      {IOPrsqrt, "rsqrt", MemReadNone, false},
	IOPsaturate:                   {IOPsaturate, "saturate", MemReadNone, false},
	IOPsin:                        {IOPsin, "sin", MemReadNone, false},
	IOPsincos:                     {IOPsincos, "sincos", MemNone, false},
	IOPsinh:                       {IOPsinh, "sinh", MemReadNone, false},
	IOPsqrt:                       {IOPsqrt, "sqrt", MemReadNone, false},
	IOPtan:                        {IOPtan, "tan", MemReadNone, false},
	IOPtanh:                       {IOPtanh, "tanh", MemReadNone, false},
	IOPtrunc:                      {IOPtrunc, "trunc", MemReadNone, false},
	IOPumax:                       {IOPumax, "umax", MemReadNone, false},
	IOPumin:                       {IOPumin, "umin", MemReadNone, false},
	IOPuclamp:                     {IOPuclamp, "uclamp", MemReadNone, false},
	IOPdot:                        {IOPdot, "dot", MemReadNone, false},
	IOPlerp:                       {IOPlerp, "lerp", MemReadNone, false},
	IOPmul:                        {IOPmul, "mul", MemReadNone, false},
	IOPasuint:                     {IOPasuint, "asuint", MemReadNone, false},
	IOPasfloat:                    {IOPasfloat, "asfloat", MemReadNone, false},
	IOPWaveActiveSum:              {IOPWaveActiveSum, "WaveActiveSum", MemNone, true},
	IOPWaveActiveAllTrue:          {IOPWaveActiveAllTrue, "WaveActiveAllTrue", MemNone, true},
	IOPWaveReadLaneFirst:          {IOPWaveReadLaneFirst, "WaveReadLaneFirst", MemNone, true},
	IOPQuadReadAcrossX:            {IOPQuadReadAcrossX, "QuadReadAcrossX", MemNone, true},
	IOPddx:                        {IOPddx, "ddx", MemReadNone, true},
	IOPddy:                        {IOPddy, "ddy", MemReadNone, true},
	IOPCreateResourceFromHeap:     {IOPCreateResourceFromHeap, "CreateResourceFromHeap", MemReadNone, false},
	IOPInterlockedAdd:             {IOPInterlockedAdd, "InterlockedAdd", MemNone, false},
	MOPAppend:                     {MOPAppend, "Append", MemNone, false},
	MOPConsume:                    {MOPConsume, "Consume", MemNone, false},
	MOPIncrementCounter:           {MOPIncrementCounter, "IncrementCounter", MemNone, false},
	MOPDecrementCounter:           {MOPDecrementCounter, "DecrementCounter", MemNone, false},
	MOPSample:                     {MOPSample, "Sample", MemReadOnly, true},
	MOPLoad:                       {MOPLoad, "Load", MemReadOnly, false},
	MOPStore:                      {MOPStore, "Store", MemNone, false},
	MOPGetDimensions:              {MOPGetDimensions, "GetDimensions", MemReadNone, false},
	MOPOutputComplete:             {MOPOutputComplete, "OutputComplete", MemNone, false},
	MOPGetGroupNodeOutputRecords:  {MOPGetGroupNodeOutputRecords, "GetGroupNodeOutputRecords", MemNone, false},
	MOPGetThreadNodeOutputRecords: {MOPGetThreadNodeOutputRecords, "GetThreadNodeOutputRecords", MemNone, false},
	MOPCount:                      {MOPCount, "Count", MemReadNone, false},
}

func (op IntrinsicOp) String() string {
	if op < numIntrinsics {
		return intrinsicTable[op].Name
	}
	return "unknown"
}

// Intrinsic returns the table row for op.
func Intrinsic(op IntrinsicOp) (IntrinsicInfo, bool) {
	if op < numIntrinsics {
		return intrinsicTable[op], true
	}
	return IntrinsicInfo{}, false
}

// IntrinsicByName finds an intrinsic by its HLSL spelling.
func IntrinsicByName(name string) (IntrinsicOp, bool) {
	for _, row := range intrinsicTable {
		if row.Name == name {
			return row.Op, true
		}
	}
	return 0, false
}

// MemAttrOf returns the memory attribute of an opcode in group g.
func MemAttrOf(g Group, opcode uint32) MemAttr {
	switch g {
	case GroupIntrinsic, GroupWaveSensitive:
		if info, ok := Intrinsic(IntrinsicOp(opcode)); ok {
			return info.Mem
		}
	case GroupCast, GroupCreateHandle, GroupAnnotateHandle, GroupAnnotateNodeHandle,
		GroupAnnotateNodeRecordHandle, GroupCreateNodeOutputHandle, GroupCreateNodeInputRecordHandle,
		GroupIndexNodeHandle:
		return MemReadNone
	}
	return MemNone
}
