// Package hlop describes high-level (HL) operations: opcode groups, opcode
// numbers, the function attributes that carry them and the naming of the
// functions that implement them.
package hlop

// Group tags the family an HL function belongs to.
type Group uint8

const (
	GroupNotHL Group = iota
	GroupExtIntrinsic
	GroupIntrinsic
	GroupCast
	GroupInit
	GroupBinOp
	GroupUnOp
	GroupSubscript
	GroupMatLoadStore
	GroupSelect
	GroupCreate
	GroupCreateHandle
	GroupAnnotateHandle
	GroupWaveSensitive
	GroupIndexNodeHandle
	GroupCreateNodeOutputHandle
	GroupCreateNodeInputRecordHandle
	GroupAnnotateNodeHandle
	GroupAnnotateNodeRecordHandle
	numGroups
)

var groupNames = [...]string{
	GroupNotHL:                       "notHL",
	GroupExtIntrinsic:                "hlext",
	GroupIntrinsic:                   "op",
	GroupCast:                        "cast",
	GroupInit:                        "init",
	GroupBinOp:                       "binop",
	GroupUnOp:                        "unop",
	GroupSubscript:                   "subscript",
	GroupMatLoadStore:                "matldst",
	GroupSelect:                      "select",
	GroupCreate:                      "create",
	GroupCreateHandle:                "createhandle",
	GroupAnnotateHandle:              "annotatehandle",
	GroupWaveSensitive:               "wavesensitive",
	GroupIndexNodeHandle:             "indexnodehandle",
	GroupCreateNodeOutputHandle:      "createnodeoutputhandle",
	GroupCreateNodeInputRecordHandle: "createnodeinputrecordhandle",
	GroupAnnotateNodeHandle:          "annotatenodehandle",
	GroupAnnotateNodeRecordHandle:    "annotatenoderecordhandle",
}

func (g Group) String() string {
	if g < numGroups {
		return groupNames[g]
	}
	return "notHL"
}

// ParseGroup maps a group name back to its tag.
func ParseGroup(name string) Group {
	for i, n := range groupNames {
		if n == name {
			return Group(i) //nolint:gosec // G115: bounded by numGroups
		}
	}
	return GroupNotHL
}

// IsHL reports whether g names a real HL group.
func (g Group) IsHL() bool { return g != GroupNotHL && g < numGroups }
