package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"dxlower/internal/hlmodule"
	"dxlower/internal/pipeline"
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Re-lower modules in a directory whenever they change",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringP("out-dir", "o", "", "directory for lowered output (required)")
	watchCmd.Flags().String("format", "", "output format (ir|ll|hlm); overrides [output].format")
	watchCmd.Flags().Duration("debounce", 100*time.Millisecond, "wait this long after the last change before lowering")
	_ = watchCmd.MarkFlagRequired("out-dir")
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if st, err := os.Stat(dir); err != nil {
		return err
	} else if !st.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := pipelineOptions(cmd, cfg)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("format") {
		s, _ := cmd.Flags().GetString("format")
		if opts.Format, err = pipeline.ParseFormat(s); err != nil {
			return err
		}
	}
	outDir, _ := cmd.Flags().GetString("out-dir")
	debounce, _ := cmd.Flags().GetDuration("debounce")

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "watching %s\n", dir)

	pending := map[string]struct{}{}
	timer := time.NewTimer(debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isModuleChange(ev) || filepath.Dir(ev.Name) == filepath.Clean(outDir) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(stderr, "watch: %v\n", err)
		case <-timer.C:
			files := make([]string, 0, len(pending))
			for f := range pending {
				files = append(files, f)
			}
			clear(pending)
			lowerChanged(ctx, cmd, files, outDir, opts)
		}
	}
}

func isModuleChange(ev fsnotify.Event) bool {
	if !strings.HasSuffix(ev.Name, hlmodule.Ext) {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create) != 0
}

func lowerChanged(ctx context.Context, cmd *cobra.Command, files []string, outDir string, opts pipeline.Options) {
	stderr := cmd.ErrOrStderr()
	results, _ := pipeline.LowerFiles(ctx, files, opts)
	for _, res := range results {
		if res == nil {
			continue
		}
		printDiagnostics(cmd, stderr, res.Bag)
		if res.Err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", res.File, res.Err)
			continue
		}
		if err := writeResult(cmd.OutOrStdout(), outDir, res, opts.Format, false); err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", res.File, err)
			continue
		}
		fmt.Fprintf(stderr, "lowered %s\n", res.File)
	}
}
