package diagfmt

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"dxlower/internal/diag"
)

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	locColor     = color.New(color.Bold)
	noteColor    = color.New(color.FgBlue)
)

// Pretty writes the diagnostics of bag in the order they were reported:
//
//	<loc>: <SEV> <CODE>: <message>
//	  note: <loc>: <message>
//
// Diagnostics below opts.MinSeverity are skipped. Call bag.Sort first for
// a stable order.
func Pretty(w io.Writer, bag *diag.Bag, opts PrettyOpts) error {
	var items []diag.Diagnostic
	for _, d := range bag.Items() {
		if d.Severity >= opts.MinSeverity {
			items = append(items, d)
		}
	}
	total := len(items)
	if opts.Max > 0 && opts.Max < len(items) {
		items = items[:opts.Max]
	}
	paint := func(c *color.Color, s string) string {
		if !opts.Color {
			return s
		}
		return c.Sprint(s)
	}
	for i := range items {
		d := &items[i]
		_, err := fmt.Fprintf(w, "%s: %s %s: %s\n",
			paint(locColor, formatLoc(d.Primary, opts.PathMode)),
			paint(severityColor(d.Severity), d.Severity.String()),
			d.Code.ID(), d.Message)
		if err != nil {
			return err
		}
		if !opts.ShowNotes {
			continue
		}
		for _, n := range d.Notes {
			if _, err := fmt.Fprintf(w, "  %s %s: %s\n", paint(noteColor, "note:"), formatLoc(n.Loc, opts.PathMode), n.Msg); err != nil {
				return err
			}
		}
	}
	if rest := total - len(items); rest > 0 {
		if _, err := fmt.Fprintf(w, "... %d more diagnostics\n", rest); err != nil {
			return err
		}
	}
	return nil
}

func severityColor(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return errorColor
	case diag.SevWarning:
		return warningColor
	default:
		return infoColor
	}
}
