package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dxlower/internal/diag"
	"dxlower/internal/diagfmt"
	"dxlower/internal/hlmodule"
	"dxlower/internal/pipeline"
)

var lowerCmd = &cobra.Command{
	Use:   "lower <file.hlm>...",
	Short: "Run the lowering passes over high-level modules",
	Long: `Lower decodes each module, runs the passes in their fixed order and prints
or writes the result. Modules are lowered concurrently (see --jobs).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLower,
}

func init() {
	lowerCmd.Flags().String("format", "", "output format (ir|ll|hlm|none); overrides [output].format")
	lowerCmd.Flags().String("ui", "auto", "progress UI (auto|on|off)")
	lowerCmd.Flags().IntP("jobs", "j", 0, "modules lowered in parallel (0 = GOMAXPROCS)")
	lowerCmd.Flags().Bool("cache", false, "reuse results of unchanged inputs")
	lowerCmd.Flags().String("cache-dir", "", "cache directory (default: $XDG_CACHE_HOME/dxlower)")
	lowerCmd.Flags().StringP("out-dir", "o", "", "write results into this directory instead of stdout")
	lowerCmd.Flags().Uint32("lang", 0, "HLSL language version; overrides the module and [lower].language_version")
	lowerCmd.Flags().String("shader-model", "", "target shader model; overrides [target].shader_model")
	lowerCmd.Flags().String("diag-format", "pretty", "diagnostics format (pretty|json)")
}

func runLower(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cmd, cfg)
	if err != nil {
		return err
	}
	if err := applyLowerFlags(cmd, &opts); err != nil {
		return err
	}

	outDir, _ := cmd.Flags().GetString("out-dir")
	uiFlag, _ := cmd.Flags().GetString("ui")
	mode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}
	diagFormat, _ := cmd.Flags().GetString("diag-format")
	if diagFormat != "pretty" && diagFormat != "json" {
		return fmt.Errorf("unsupported --diag-format %q (must be pretty or json)", diagFormat)
	}

	var results []*pipeline.Result
	var lowerErr error
	if shouldUseTUI(mode, outDir == "") {
		results, lowerErr = runLowerWithUI(cmd.Context(), "lowering", args, opts)
	} else {
		results, lowerErr = pipeline.LowerFiles(cmd.Context(), args, opts)
	}

	out := cmd.OutOrStdout()
	for _, res := range results {
		if res == nil {
			continue
		}
		if err := reportDiagnostics(cmd, res.Bag, diagFormat); err != nil {
			return err
		}
		if res.Err != nil {
			continue
		}
		if err := writeResult(out, outDir, res, opts.Format, len(results) > 1); err != nil {
			return err
		}
	}
	if timings, _ := cmd.Root().PersistentFlags().GetBool("timings"); timings {
		printTimings(cmd.ErrOrStderr(), results)
	}

	var ie *pipeline.InternalError
	if errors.As(lowerErr, &ie) {
		fmt.Fprintf(cmd.ErrOrStderr(), "%v\n%s", ie, ie.Stack)
	}
	return lowerErr
}

func applyLowerFlags(cmd *cobra.Command, opts *pipeline.Options) error {
	flags := cmd.Flags()
	if flags.Changed("format") {
		s, _ := flags.GetString("format")
		f, err := pipeline.ParseFormat(s)
		if err != nil {
			return err
		}
		opts.Format = f
	}
	if flags.Changed("lang") {
		opts.LanguageVersion, _ = flags.GetUint32("lang")
	}
	if flags.Changed("shader-model") {
		opts.ShaderModel, _ = flags.GetString("shader-model")
	}
	opts.Jobs, _ = flags.GetInt("jobs")

	if useCache, _ := flags.GetBool("cache"); useCache {
		dir, _ := flags.GetString("cache-dir")
		cache, err := pipeline.OpenCache(dir)
		if err != nil {
			return err
		}
		opts.Cache = cache
	}
	return nil
}

func reportDiagnostics(cmd *cobra.Command, bag *diag.Bag, format string) error {
	w := cmd.ErrOrStderr()
	if bag == nil || bag.Len() == 0 {
		return nil
	}
	if format == "json" {
		bag.Sort()
		return diagfmt.JSON(w, bag, diagfmt.JSONOpts{IncludeNotes: true})
	}
	printDiagnostics(cmd, w, bag)
	return nil
}

var outputExt = map[pipeline.Format]string{
	pipeline.FormatIR:  ".hlir",
	pipeline.FormatLL:  ".ll",
	pipeline.FormatHLM: ".lowered" + hlmodule.Ext,
}

// writeResult prints res to out, or writes it into outDir named after the
// input. Several results on stdout are separated by a comment header.
func writeResult(out io.Writer, outDir string, res *pipeline.Result, format pipeline.Format, header bool) error {
	if format == pipeline.FormatNone || len(res.Output) == 0 {
		return nil
	}
	if outDir == "" {
		if header {
			if _, err := fmt.Fprintf(out, "; %s\n", res.File); err != nil {
				return err
			}
		}
		_, err := out.Write(res.Output)
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(res.File), hlmodule.Ext)
	path := filepath.Join(outDir, base+outputExt[format])
	if err := os.WriteFile(path, res.Output, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
