package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dxlower/internal/diag"
	"dxlower/internal/pipeline"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func report() (*diag.Bag, diag.Reporter) {
	bag := diag.NewBag(20)
	return bag, diag.BagReporter{Bag: bag}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[lower]
language_version = 2018
min_precision = true
fold_constants = false

[target]
shader_model = "6.6"
validator = ">= 1.6"

[output]
format = "ll"
colour = "yes"
`)
	bag, rep := report()
	cfg, err := Load(path, rep)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Lower.LanguageVersion != 2018 || !cfg.Lower.MinPrecision || cfg.Lower.FoldConstants {
		t.Fatalf("lower = %+v", cfg.Lower)
	}
	if !cfg.Lower.StructurizeReturns {
		t.Fatalf("unset keys must keep their defaults")
	}
	if bag.Count(diag.CfgUnknownKey) != 1 {
		t.Fatalf("unknown key not reported:\n%s", diag.FormatBag(bag, false))
	}
	if err := cfg.Validate(rep); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.Format != pipeline.FormatLL || opts.ShaderModel != "6.6" || opts.FoldConstants || opts.LanguageVersion != 2018 {
		t.Fatalf("options = %+v", opts)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := writeConfig(t, "[lower\n")
	_, rep := report()
	if _, err := Load(path, rep); err == nil {
		t.Fatalf("malformed file accepted")
	}
}

func TestFindWalksUp(t *testing.T) {
	path := writeConfig(t, "")
	nested := filepath.Join(filepath.Dir(path), "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	got, ok := Find(nested)
	if !ok || got != path {
		t.Fatalf("Find = %q, %v; want %q", got, ok, path)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLangVersion, "2021")
	t.Setenv(EnvMinPrecision, "true")
	t.Setenv(EnvShaderModel, "6.8")
	cfg := Default()
	bag, rep := report()
	cfg.ApplyEnv(rep)
	if bag.Len() != 0 {
		t.Fatalf("diagnostics:\n%s", diag.FormatBag(bag, false))
	}
	if cfg.Lower.LanguageVersion != 2021 || !cfg.Lower.MinPrecision || cfg.Target.ShaderModel != "6.8" {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	t.Setenv(EnvLangVersion, "twenty")
	cfg := Default()
	bag, rep := report()
	cfg.ApplyEnv(rep)
	if bag.Count(diag.CfgBadEnvOverride) != 1 || cfg.Lower.LanguageVersion != 0 {
		t.Fatalf("bad override not reported:\n%s", diag.FormatBag(bag, false))
	}
}

func TestApplyEnvSeesLaterChanges(t *testing.T) {
	t.Setenv(EnvShaderModel, "6.6")
	first := Default()
	_, rep := report()
	first.ApplyEnv(rep)

	t.Setenv(EnvShaderModel, "6.8")
	second := Default()
	second.ApplyEnv(rep)
	if first.Target.ShaderModel != "6.6" || second.Target.ShaderModel != "6.8" {
		t.Fatalf("shader models = %q then %q", first.Target.ShaderModel, second.Target.ShaderModel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		code   diag.Code
	}{
		{"defaults", func(*Config) {}, 0},
		{"language", func(c *Config) { c.Lower.LanguageVersion = 2019 }, diag.CfgBadLangVersion},
		{"shader model", func(c *Config) { c.Target.ShaderModel = "5.1" }, diag.CfgBadShaderModel},
		{"constraint syntax", func(c *Config) { c.Target.Validator = "banana" }, diag.CfgBadValidator},
		{"validator too old", func(c *Config) {
			c.Target.ShaderModel = "6.6"
			c.Target.Validator = ">= 1.8"
		}, diag.CfgBadValidator},
		{"validator ok", func(c *Config) {
			c.Target.ShaderModel = "6.8"
			c.Target.Validator = ">= 1.8"
		}, 0},
		{"format", func(c *Config) { c.Output.Format = "spirv" }, diag.CfgBadOutputFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			bag, rep := report()
			err := cfg.Validate(rep)
			if tt.code == 0 {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) || bag.Count(tt.code) != 1 {
				t.Fatalf("err = %v, diagnostics:\n%s", err, diag.FormatBag(bag, false))
			}
		})
	}
}

func TestValidatorFor(t *testing.T) {
	sm, err := ParseShaderModel("6.7")
	if err != nil {
		t.Fatalf("ParseShaderModel: %v", err)
	}
	if got := ValidatorFor(sm).String(); got != "1.7.0" {
		t.Fatalf("ValidatorFor(6.7) = %s", got)
	}
}
