package main

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"dxlower/internal/annot"
	"dxlower/internal/cbuf"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

var layoutCmd = &cobra.Command{
	Use:   "layout <cbuffers.toml>",
	Short: "Print the legacy constant buffer layout of declared members",
	Long: `Layout reads cbuffer declarations and prints the offset and size each member
gets under the 16-byte row packing rules.

  [[cbuffer]]
  name = "Params"

    [[cbuffer.constant]]
    name = "world"
    type = "float4x4"
    row_major = true

    [[cbuffer.constant]]
    name = "tint"
    type = "float3"
    packoffset = "c5.y"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		minPrec, _ := cmd.Flags().GetBool("min-precision")
		var file layoutFile
		if _, err := toml.DecodeFile(args[0], &file); err != nil {
			return fmt.Errorf("%s: failed to parse TOML: %w", args[0], err)
		}
		cbs, err := file.build(ir.NewTypes())
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		return printLayout(cmd.OutOrStdout(), cbs, minPrec)
	},
}

func init() {
	layoutCmd.Flags().Bool("min-precision", false, "pad 16-bit types to 32 bits")
}

type layoutFile struct {
	CBuffers []layoutCBuffer `toml:"cbuffer"`
}

type layoutCBuffer struct {
	Name      string           `toml:"name"`
	Constants []layoutConstant `toml:"constant"`
}

type layoutConstant struct {
	Name       string `toml:"name"`
	Type       string `toml:"type"`
	PackOffset string `toml:"packoffset"`
	RowMajor   bool   `toml:"row_major"`
}

type layoutBuffer struct {
	ts *ir.Types
	cb *cbuf.CBuffer
}

func (f layoutFile) build(ts *ir.Types) ([]layoutBuffer, error) {
	out := make([]layoutBuffer, 0, len(f.CBuffers))
	for _, decl := range f.CBuffers {
		cb := &cbuf.CBuffer{Name: decl.Name, Global: ir.NoValueID}
		for _, c := range decl.Constants {
			ty, err := parseHLSLType(ts, c.Type)
			if err != nil {
				return nil, fmt.Errorf("cbuffer %s: %s: %w", decl.Name, c.Name, err)
			}
			off, err := parsePackOffset(c.PackOffset)
			if err != nil {
				return nil, fmt.Errorf("cbuffer %s: %s: %w", decl.Name, c.Name, err)
			}
			cb.Constants = append(cb.Constants, &cbuf.Constant{
				Name:       c.Name,
				Global:     ir.NoValueID,
				Type:       ty,
				UserOffset: off,
				RowMajor:   c.RowMajor,
			})
		}
		out = append(out, layoutBuffer{ts: ts, cb: cb})
	}
	return out, nil
}

func printLayout(w io.Writer, cbs []layoutBuffer, minPrec bool) error {
	at := annot.New()
	for _, lb := range cbs {
		size := cbuf.AllocateDxilConstantBuffer(lb.ts, at, lb.cb, cbuf.Options{MinPrecision: minPrec})
		fmt.Fprintf(w, "cbuffer %s (%d bytes)\n", lb.cb.Name, size)
		tbl := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("offset", "size", "type", "name").
			StyleFunc(layoutCellStyle)
		for _, c := range lb.cb.Constants {
			tbl.Row(strconv.FormatUint(uint64(c.Offset), 10), strconv.FormatUint(uint64(c.Size), 10), lb.ts.String(c.Type), c.Name)
		}
		if _, err := fmt.Fprintln(w, tbl.Render()); err != nil {
			return err
		}
		for _, o := range cbuf.Overlaps(lb.cb) {
			fmt.Fprintf(w, "warning: %s overlaps %s\n", o.B.Name, o.A.Name)
		}
	}
	return nil
}

// layoutCellStyle right-aligns the numeric offset and size columns.
func layoutCellStyle(_, col int) lipgloss.Style {
	s := lipgloss.NewStyle().Padding(0, 1)
	if col < 2 {
		s = s.Align(lipgloss.Right)
	}
	return s
}

var scalarNames = map[string]func(ts *ir.Types) ir.TypeID{
	"bool":       func(ts *ir.Types) ir.TypeID { return ts.Int(32) },
	"int":        func(ts *ir.Types) ir.TypeID { return ts.Int(32) },
	"uint":       func(ts *ir.Types) ir.TypeID { return ts.Int(32) },
	"dword":      func(ts *ir.Types) ir.TypeID { return ts.Int(32) },
	"float":      func(ts *ir.Types) ir.TypeID { return ts.Float(32) },
	"double":     func(ts *ir.Types) ir.TypeID { return ts.Float(64) },
	"half":       func(ts *ir.Types) ir.TypeID { return ts.Float(16) },
	"float16_t":  func(ts *ir.Types) ir.TypeID { return ts.Float(16) },
	"min16float": func(ts *ir.Types) ir.TypeID { return ts.Float(16) },
	"int16_t":    func(ts *ir.Types) ir.TypeID { return ts.Int(16) },
	"uint16_t":   func(ts *ir.Types) ir.TypeID { return ts.Int(16) },
	"min16int":   func(ts *ir.Types) ir.TypeID { return ts.Int(16) },
	"min16uint":  func(ts *ir.Types) ir.TypeID { return ts.Int(16) },
	"int64_t":    func(ts *ir.Types) ir.TypeID { return ts.Int(64) },
	"uint64_t":   func(ts *ir.Types) ir.TypeID { return ts.Int(64) },
}

var hlslType = regexp.MustCompile(`^([a-z_0-9]*?[a-z_])(?:([1-4])(?:x([1-4]))?)?((?:\[\d+\])*)$`)

// parseHLSLType understands scalars, vectors (float3), matrices (float4x4)
// and arrays of those (float4[3][2]).
func parseHLSLType(ts *ir.Types, s string) (ir.TypeID, error) {
	m := hlslType.FindStringSubmatch(strings.ReplaceAll(s, " ", ""))
	if m == nil {
		return ir.NoTypeID, fmt.Errorf("cannot parse type %q", s)
	}
	mk, ok := scalarNames[m[1]]
	if !ok {
		return ir.NoTypeID, fmt.Errorf("unknown scalar type %q", m[1])
	}
	ty := mk(ts)
	switch {
	case m[3] != "":
		rows, _ := strconv.ParseUint(m[2], 10, 32)
		cols, _ := strconv.ParseUint(m[3], 10, 32)
		ty = hlop.MatrixType(ts, ty, uint32(rows), uint32(cols))
	case m[2] != "":
		n, _ := strconv.ParseUint(m[2], 10, 32)
		ty = ts.Vector(ty, uint32(n))
	}
	if m[4] != "" {
		dims := strings.Split(strings.Trim(m[4], "[]"), "][")
		for i := len(dims) - 1; i >= 0; i-- {
			n, err := strconv.ParseUint(dims[i], 10, 32)
			if err != nil {
				return ir.NoTypeID, fmt.Errorf("array size %q: %w", dims[i], err)
			}
			ty = ts.Array(ty, uint32(n))
		}
	}
	return ty, nil
}

// parsePackOffset converts "c<row>[.<component>]" to a byte offset.
func parsePackOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return cbuf.NoOffset, nil
	}
	if !strings.HasPrefix(s, "c") {
		return 0, fmt.Errorf("packoffset %q: expected c<row>[.xyzw]", s)
	}
	row, comp, _ := strings.Cut(s[1:], ".")
	r, err := strconv.ParseInt(row, 10, 64)
	if err != nil || r < 0 {
		return 0, fmt.Errorf("packoffset %q: bad register", s)
	}
	off := r * 16
	if comp != "" {
		i := strings.IndexByte("xyzw", comp[0])
		if len(comp) != 1 || i < 0 {
			return 0, fmt.Errorf("packoffset %q: bad component", s)
		}
		off += int64(i) * 4
	}
	return off, nil
}
