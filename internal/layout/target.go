package layout

// Target describes the data layout sizes that matter for record and buffer
// element sizing.
type Target struct {
	Name      string
	PtrSize   int // bytes
	PtrAlign  int // bytes
	BoolSize  int // in-memory size of i1
	BoolAlign int
}

// DXIL is the data layout of DXIL modules: 32-bit pointers and i1 stored
// as a 32-bit value.
func DXIL() Target {
	return Target{
		Name:      "dxil-ms-dx",
		PtrSize:   4,
		PtrAlign:  4,
		BoolSize:  4,
		BoolAlign: 4,
	}
}
