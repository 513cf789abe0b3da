package diagfmt

import (
	"path/filepath"

	"dxlower/internal/diag"
)

func formatPath(path string, mode PathMode) string {
	if path == "" {
		return path
	}
	switch mode {
	case PathModeAbsolute:
		if abs, err := filepath.Abs(path); err == nil {
			return abs
		}
	case PathModeRelative:
		if abs, err := filepath.Abs(path); err == nil {
			if wd, err := filepath.Abs("."); err == nil {
				if rel, err := filepath.Rel(wd, abs); err == nil {
					return rel
				}
			}
		}
	case PathModeBasename:
		return filepath.Base(path)
	}
	return path
}

func formatLoc(l diag.Loc, mode PathMode) string {
	l.File = formatPath(l.File, mode)
	return l.String()
}
