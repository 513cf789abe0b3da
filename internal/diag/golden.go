package diag

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

type goldenDiagnostic struct {
	Severity string
	Code     string
	Loc      string
	Message  string
}

// FormatGoldenDiagnostics renders diagnostics into a stable, single-line-per-entry
// representation suitable for golden files: sorted deterministically, paths
// reduced to slash form, and returned as a single string (empty when there is
// nothing to report).
func FormatGoldenDiagnostics(diags []*Diagnostic, includeNotes bool) string {
	if len(diags) == 0 {
		return ""
	}

	rendered := make([]goldenDiagnostic, 0, len(diags))
	for _, d := range diags {
		rendered = appendDiagnostic(rendered, d, includeNotes)
	}

	sort.SliceStable(rendered, func(i, j int) bool {
		di, dj := rendered[i], rendered[j]
		if di.Loc != dj.Loc {
			return di.Loc < dj.Loc
		}
		if di.Severity != dj.Severity {
			return di.Severity < dj.Severity
		}
		if di.Code != dj.Code {
			return di.Code < dj.Code
		}
		return di.Message < dj.Message
	})

	var b strings.Builder
	for i, d := range rendered {
		fmt.Fprintf(&b, "%s %s %s %s", d.Severity, d.Code, d.Loc, d.Message)
		if i < len(rendered)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// FormatBag renders the items of b the way FormatGoldenDiagnostics does.
func FormatBag(b *Bag, includeNotes bool) string {
	items := b.Items()
	diags := make([]*Diagnostic, len(items))
	for i := range items {
		diags[i] = &items[i]
	}
	return FormatGoldenDiagnostics(diags, includeNotes)
}

func appendDiagnostic(out []goldenDiagnostic, d *Diagnostic, includeNotes bool) []goldenDiagnostic {
	out = append(out, goldenDiagnostic{
		Severity: severityLabel(d.Severity),
		Code:     d.Code.ID(),
		Loc:      normalizeLoc(d.Primary),
		Message:  sanitizeMessage(d.Message),
	})
	if includeNotes {
		for _, note := range d.Notes {
			out = append(out, goldenDiagnostic{
				Severity: "note",
				Code:     d.Code.ID(),
				Loc:      normalizeLoc(note.Loc),
				Message:  sanitizeMessage(note.Msg),
			})
		}
	}
	return out
}

func normalizeLoc(l Loc) string {
	if l.File != "" {
		p := filepath.ToSlash(l.File)
		for strings.HasPrefix(p, "./") {
			p = strings.TrimPrefix(p, "./")
		}
		l.File = p
	}
	return l.String()
}

func severityLabel(sev Severity) string {
	switch sev {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	default:
		return "info"
	}
}

func sanitizeMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\r\n", "\n")
	msg = strings.ReplaceAll(msg, "\r", "\n")
	msg = strings.ReplaceAll(msg, "\n", " ")
	return strings.TrimSpace(msg)
}
