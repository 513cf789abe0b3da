package diag

import (
	"fmt"
)

type Code uint16

const (
	UnknownCode Code = 0

	// I/O and interchange
	IOInfo           Code = 1000
	IOReadFailure    Code = 1001
	IODecodeFailure  Code = 1002
	IOSchemaMismatch Code = 1003
	IOWriteFailure   Code = 1004

	// Entry and export checks
	EntInfo                Code = 2000
	EntEntryNotFound       Code = 2001
	EntPatchConstNotFound  Code = 2002
	EntPatchConstInout     Code = 2003
	EntExportResourceParam Code = 2004
	EntExportNameCollision Code = 2005
	EntShaderModelTooLow   Code = 2006

	// Lowering passes
	LowInfo               Code = 3000
	LowCBufferTooLarge    Code = 3001
	LowCBufferOverlap     Code = 3002
	LowStructurizeSkipped Code = 3003
	LowVerifyFailed       Code = 3004
	LowEmitUnsupported    Code = 3005

	// Configuration
	CfgInfo            Code = 4000
	CfgBadShaderModel  Code = 4001
	CfgBadValidator    Code = 4002
	CfgUnknownKey      Code = 4003
	CfgBadEnvOverride  Code = 4004
	CfgBadLangVersion  Code = 4005
	CfgBadOutputFormat Code = 4006

	// Observability
	ObsInfo    Code = 6000
	ObsTimings Code = 6001
)

var codeDescription = map[Code]string{
	UnknownCode:            "Unknown error",
	IOInfo:                 "I/O information",
	IOReadFailure:          "Cannot read input",
	IODecodeFailure:        "Malformed module file",
	IOSchemaMismatch:       "Module file schema version mismatch",
	IOWriteFailure:         "Cannot write output",
	EntInfo:                "Entry information",
	EntEntryNotFound:       "Entry function not found",
	EntPatchConstNotFound:  "Patch constant function not found",
	EntPatchConstInout:     "Patch constant function has an inout parameter",
	EntExportResourceParam: "Exported function uses a resource type that cannot cross an export",
	EntExportNameCollision: "Export name collision",
	EntShaderModelTooLow:   "Feature requires a newer shader model",
	LowInfo:                "Lowering information",
	LowCBufferTooLarge:     "Constant buffer exceeds 64KB",
	LowCBufferOverlap:      "Constant buffer members overlap",
	LowStructurizeSkipped:  "Multiple returns left unstructurized",
	LowVerifyFailed:        "Lowered module failed verification",
	LowEmitUnsupported:     "Construct cannot be emitted as LLVM text",
	CfgInfo:                "Configuration information",
	CfgBadShaderModel:      "Invalid shader model",
	CfgBadValidator:        "Invalid validator constraint",
	CfgUnknownKey:          "Unknown configuration key",
	CfgBadEnvOverride:      "Invalid environment override",
	CfgBadLangVersion:      "Unsupported HLSL language version",
	CfgBadOutputFormat:     "Unknown output format",
	ObsInfo:                "Observability information",
	ObsTimings:             "Pass timings",
}

func (c Code) ID() string {
	switch ic := int(c); {
	case ic >= 1000 && ic < 2000:
		return fmt.Sprintf("IO%04d", ic)
	case ic >= 2000 && ic < 3000:
		return fmt.Sprintf("ENT%04d", ic)
	case ic >= 3000 && ic < 4000:
		return fmt.Sprintf("LOW%04d", ic)
	case ic >= 4000 && ic < 5000:
		return fmt.Sprintf("CFG%04d", ic)
	case ic >= 6000 && ic < 7000:
		return fmt.Sprintf("OBS%04d", ic)
	}
	return "E0000"
}

func (c Code) Title() string {
	desc, ok := codeDescription[c]
	if !ok {
		return codeDescription[UnknownCode]
	}
	return desc
}

func (c Code) String() string {
	return fmt.Sprintf("[%s]: %s", c.ID(), c.Title())
}
