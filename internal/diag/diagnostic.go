package diag

import "strings"

// Loc points at the IR entity a diagnostic is about. Every field is optional;
// an empty Loc refers to the module as a whole.
type Loc struct {
	File  string
	Func  string
	Block string
}

func (l Loc) String() string {
	parts := make([]string, 0, 3)
	if l.File != "" {
		parts = append(parts, l.File)
	}
	if l.Func != "" {
		parts = append(parts, "@"+l.Func)
	}
	if l.Block != "" {
		parts = append(parts, "%"+l.Block)
	}
	if len(parts) == 0 {
		return "<module>"
	}
	return strings.Join(parts, ":")
}

// InFile returns l with its file set to path.
func (l Loc) InFile(path string) Loc {
	l.File = path
	return l
}

// FuncLoc is a shortcut for a function level location.
func FuncLoc(name string) Loc { return Loc{Func: name} }

type Note struct {
	Loc Loc
	Msg string
}

type Diagnostic struct {
	Severity Severity
	Code     Code
	Message  string
	Primary  Loc
	Notes    []Note
}

func New(sev Severity, code Code, primary Loc, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Primary:  primary,
		Message:  msg,
	}
}

func NewError(code Code, primary Loc, msg string) Diagnostic {
	return New(SevError, code, primary, msg)
}

func (d Diagnostic) WithNote(loc Loc, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Loc: loc, Msg: msg})
	return d
}
