package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"dxlower/internal/config"
	"dxlower/internal/diag"
	"dxlower/internal/diagfmt"
	"dxlower/internal/pipeline"
)

// loadConfig resolves dxlower.toml (from --config or by searching upward),
// applies environment overrides and validates the result. Configuration
// diagnostics are printed to the command's stderr.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	bag := diag.NewBag(32)
	rep := diag.BagReporter{Bag: bag}
	defer func() { printDiagnostics(cmd, cmd.ErrOrStderr(), bag) }()

	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg := config.Default()
	if path == "" {
		path, _ = config.Find(".")
	}
	if path != "" {
		if cfg, err = config.Load(path, rep); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv(rep)
	if err := cfg.Validate(rep); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// pipelineOptions turns the configuration and the shared flags into
// pipeline options.
func pipelineOptions(cmd *cobra.Command, cfg config.Config) (pipeline.Options, error) {
	opts, err := cfg.Options()
	if err != nil {
		return opts, err
	}
	maxDiag, err := cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	if err != nil {
		return opts, fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	opts.MaxDiagnostics = maxDiag
	return opts, nil
}

// printDiagnostics prints bag sorted. With --quiet only errors are shown,
// without their notes.
func printDiagnostics(cmd *cobra.Command, w io.Writer, bag *diag.Bag) {
	if bag == nil || bag.Len() == 0 {
		return
	}
	quiet, _ := cmd.Root().PersistentFlags().GetBool("quiet")
	opts := diagfmt.PrettyOpts{Color: !color.NoColor, ShowNotes: !quiet}
	if quiet {
		opts.MinSeverity = diag.SevError
	}
	bag.Sort()
	if err := diagfmt.Pretty(w, bag, opts); err != nil {
		fmt.Fprintf(w, "failed to print diagnostics: %v\n", err)
	}
}
