package diag

import "strings"

// Severity orders diagnostics; a higher value is more severe.
type Severity uint8

const (
	SevInfo Severity = iota
	SevWarning
	SevError
)

func (s Severity) String() string {
	switch s {
	case SevInfo:
		return "INFO"
	case SevWarning:
		return "WARNING"
	case SevError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// ParseSeverity accepts the names printed by String in any case.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INFO":
		return SevInfo, true
	case "WARNING", "WARN":
		return SevWarning, true
	case "ERROR":
		return SevError, true
	}
	return SevInfo, false
}
