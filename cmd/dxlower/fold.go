package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"dxlower/internal/constfold"
	"dxlower/internal/hlop"
	"dxlower/internal/ir"
)

var foldCmd = &cobra.Command{
	Use:   "fold <intrinsic> <arg>...",
	Short: "Evaluate an intrinsic on constant arguments",
	Long: `Fold evaluates an HLSL intrinsic the way the constant folder does during
lowering. A comma separated argument is a vector; all arguments must have
the same number of lanes.

  dxlower fold sqrt 2
  dxlower fold --type int max 3,-1 2,2`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typeName, _ := cmd.Flags().GetString("type")
		lang, _ := cmd.Flags().GetUint32("lang")
		out, err := foldIntrinsic(args[0], args[1:], typeName, lang)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	foldCmd.Flags().String("type", "float", "element type (half|float|double|int|uint|int64|uint64)")
	foldCmd.Flags().Uint32("lang", constfold.DefaultOptions().LanguageVersion, "HLSL language version")
}

type foldType struct {
	elem     func(ts *ir.Types) ir.TypeID
	float    bool
	unsigned bool
}

var foldTypes = map[string]foldType{
	"half":   {elem: func(ts *ir.Types) ir.TypeID { return ts.Float(16) }, float: true},
	"float":  {elem: func(ts *ir.Types) ir.TypeID { return ts.Float(32) }, float: true},
	"double": {elem: func(ts *ir.Types) ir.TypeID { return ts.Float(64) }, float: true},
	"int":    {elem: func(ts *ir.Types) ir.TypeID { return ts.Int(32) }},
	"uint":   {elem: func(ts *ir.Types) ir.TypeID { return ts.Int(32) }, unsigned: true},
	"int64":  {elem: func(ts *ir.Types) ir.TypeID { return ts.Int(64) }},
	"uint64": {elem: func(ts *ir.Types) ir.TypeID { return ts.Int(64) }, unsigned: true},
}

// foldIntrinsic builds a call to name on constant operands and folds it.
func foldIntrinsic(name string, args []string, typeName string, lang uint32) (string, error) {
	op, ok := hlop.IntrinsicByName(name)
	if !ok {
		return "", fmt.Errorf("unknown intrinsic %q", name)
	}
	ft, ok := foldTypes[typeName]
	if !ok {
		return "", fmt.Errorf("unsupported --type %q", typeName)
	}

	m := ir.NewModule("fold")
	ts := m.Types
	elem := ft.elem(ts)
	lanes := -1
	operands := make([]ir.ValueID, 0, len(args))
	for _, a := range args {
		parts := strings.Split(a, ",")
		if lanes >= 0 && len(parts) != lanes {
			return "", fmt.Errorf("argument %q has %d lanes, want %d", a, len(parts), lanes)
		}
		lanes = len(parts)
		elems := make([]ir.ValueID, len(parts))
		for i, p := range parts {
			v, err := foldConst(m, elem, ft, strings.TrimSpace(p))
			if err != nil {
				return "", err
			}
			elems[i] = v
		}
		if len(elems) == 1 {
			operands = append(operands, elems[0])
			continue
		}
		operands = append(operands, m.ConstAggregate(ts.Vector(elem, uint32(len(elems))), elems...))
	}

	ret := elem
	if op == hlop.IOPisnan || op == hlop.IOPisinf || op == hlop.IOPisfinite {
		ret = ts.Builtins().I1
	}
	if lanes > 1 {
		ret = ts.Vector(ret, uint32(lanes))
	}
	fn := m.NewFunc("fold", ts.Func(ts.Builtins().Void))
	b := ir.NewBuilder(m)
	b.SetInsertPointAtEnd(m.NewBlock(fn.ID, "entry"))
	call := hlop.Emit(b, ret, hlop.GroupIntrinsic, uint32(op), operands...)
	b.RetVoid()

	res := constfold.TryEvalIntrinsic(m, call, constfold.Options{LanguageVersion: lang})
	if res == ir.NoValueID {
		return "", fmt.Errorf("%s(%s) does not fold", name, strings.Join(args, ", "))
	}
	return formatConst(m, res, ft), nil
}

func foldConst(m *ir.Module, elem ir.TypeID, ft foldType, s string) (ir.ValueID, error) {
	if ft.float {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return ir.NoValueID, fmt.Errorf("%q is not a number", s)
		}
		return m.ConstFloat(elem, f), nil
	}
	if ft.unsigned {
		u, err := strconv.ParseUint(s, 0, int(m.Types.Bits(elem)))
		if err != nil {
			return ir.NoValueID, fmt.Errorf("%q is not an unsigned integer", s)
		}
		return m.ConstInt(elem, int64(u)), nil //nolint:gosec // two's complement bits
	}
	i, err := strconv.ParseInt(s, 0, int(m.Types.Bits(elem)))
	if err != nil {
		return ir.NoValueID, fmt.Errorf("%q is not an integer", s)
	}
	return m.ConstInt(elem, i), nil
}

func formatConst(m *ir.Module, v ir.ValueID, ft foldType) string {
	if elems, ok := m.ConstElements(v); ok {
		parts := make([]string, len(elems))
		for i, e := range elems {
			parts[i] = formatConst(m, e, ft)
		}
		return strings.Join(parts, ", ")
	}
	if m.Types.IsInt(m.TypeOf(v), 1) {
		u, _ := m.ConstUintValue(v)
		return strconv.FormatBool(u != 0)
	}
	if f, ok := m.ConstFloatValue(v); ok {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	if ft.unsigned {
		if u, ok := m.ConstUintValue(v); ok {
			return strconv.FormatUint(u, 10)
		}
	}
	if i, ok := m.ConstIntValue(v); ok {
		return strconv.FormatInt(i, 10)
	}
	return m.Value(v).Kind.String()
}
