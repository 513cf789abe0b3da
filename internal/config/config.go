// Package config loads dxlower.toml, applies DXLOWER_* environment
// overrides and turns the result into pipeline options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/xyproto/env/v2"

	"dxlower/internal/diag"
	"dxlower/internal/pipeline"
)

// FileName is the configuration file looked up by Find.
const FileName = "dxlower.toml"

// Environment overrides.
const (
	EnvLangVersion   = "DXLOWER_LANG_VERSION"
	EnvMinPrecision  = "DXLOWER_MIN_PRECISION"
	EnvShaderModel   = "DXLOWER_SHADER_MODEL"
	EnvWaveSensitive = "DXLOWER_WAVE_SENSITIVE"
)

// LanguageVersions lists the accepted HLSL versions.
var LanguageVersions = []uint32{2015, 2016, 2017, 2018, 2021}

// Lower is the [lower] section.
type Lower struct {
	LanguageVersion    uint32 `toml:"language_version"`
	MinPrecision       bool   `toml:"min_precision"`
	StructurizeReturns bool   `toml:"structurize_returns"`
	WaveSensitive      bool   `toml:"wave_sensitive"`
	FoldConstants      bool   `toml:"fold_constants"`
}

// Target is the [target] section. Validator is a version constraint the
// validator matching ShaderModel must satisfy, e.g. ">= 1.6".
type Target struct {
	ShaderModel string `toml:"shader_model"`
	Validator   string `toml:"validator"`
}

// Output is the [output] section.
type Output struct {
	Format string `toml:"format"`
}

// Config is a decoded dxlower.toml.
type Config struct {
	Lower  Lower  `toml:"lower"`
	Target Target `toml:"target"`
	Output Output `toml:"output"`

	// Path is the file the configuration was read from, if any.
	Path string `toml:"-"`
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Default returns the configuration used without a file.
func Default() Config {
	return Config{
		Lower: Lower{
			StructurizeReturns: true,
			FoldConstants:      true,
		},
		Output: Output{Format: string(pipeline.FormatIR)},
	}
}

// Find looks for dxlower.toml in dir and its parents.
func Find(dir string) (string, bool) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		path := filepath.Join(dir, FileName)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// Load decodes path on top of Default. Keys the file sets that no section
// knows are reported to rep as warnings.
func Load(path string, rep diag.Reporter) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	cfg.Path = path
	for _, key := range meta.Undecoded() {
		diag.ReportWarning(rep, diag.CfgUnknownKey, diag.Loc{File: path},
			fmt.Sprintf("unknown key %q", key.String())).Emit()
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the DXLOWER_* variables that are set.
// Malformed values are reported and leave the field unchanged. The
// environment is read afresh on every call.
func (c *Config) ApplyEnv(rep diag.Reporter) {
	env.Load()
	loc := diag.Loc{File: "environment"}
	if env.Has(EnvLangVersion) {
		raw := env.Str(EnvLangVersion)
		v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
		if err != nil {
			diag.ReportError(rep, diag.CfgBadEnvOverride, loc,
				fmt.Sprintf("%s=%q is not a language version", EnvLangVersion, raw)).Emit()
		} else {
			c.Lower.LanguageVersion = uint32(v)
		}
	}
	if env.Has(EnvMinPrecision) {
		c.Lower.MinPrecision = env.Bool(EnvMinPrecision)
	}
	if env.Has(EnvWaveSensitive) {
		c.Lower.WaveSensitive = env.Bool(EnvWaveSensitive)
	}
	if sm := env.Str(EnvShaderModel); sm != "" {
		c.Target.ShaderModel = sm
	}
}

// Validate checks the language version, the shader model and the
// validator constraint. Every problem is reported; the returned error
// wraps ErrInvalid when any was found.
func (c Config) Validate(rep diag.Reporter) error {
	loc := diag.Loc{File: c.Path}
	var errs []error
	fail := func(code diag.Code, msg string) {
		diag.ReportError(rep, code, loc, msg).Emit()
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, msg))
	}

	if v := c.Lower.LanguageVersion; v != 0 && !knownLanguageVersion(v) {
		fail(diag.CfgBadLangVersion, fmt.Sprintf("unsupported language version %d", v))
	}
	smOK := true
	if c.Target.ShaderModel != "" {
		if _, err := ParseShaderModel(c.Target.ShaderModel); err != nil {
			fail(diag.CfgBadShaderModel, err.Error())
			smOK = false
		}
	}
	if smOK && c.Target.Validator != "" {
		if err := CheckValidator(c.Target.ShaderModel, c.Target.Validator); err != nil {
			fail(diag.CfgBadValidator, err.Error())
		}
	}
	if _, err := pipeline.ParseFormat(c.Output.Format); err != nil {
		fail(diag.CfgBadOutputFormat, err.Error())
	}
	return errors.Join(errs...)
}

func knownLanguageVersion(v uint32) bool {
	for _, k := range LanguageVersions {
		if k == v {
			return true
		}
	}
	return false
}

// ParseShaderModel parses "6.x". DXIL exists from shader model 6.0 on.
func ParseShaderModel(s string) (*semver.Version, error) {
	v, err := semver.NewVersion(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("shader model %q: %w", s, err)
	}
	if v.Major() != 6 || v.Patch() != 0 || v.Prerelease() != "" {
		return nil, fmt.Errorf("shader model %q: expected 6.<minor>", s)
	}
	return v, nil
}

// ValidatorFor returns the validator version paired with a shader model:
// shader model 6.x is validated by validator 1.x.
func ValidatorFor(sm *semver.Version) *semver.Version {
	return semver.New(1, sm.Minor(), 0, "", "")
}

// CheckValidator reports whether the validator paired with shaderModel
// satisfies constraint. Without a shader model only the constraint syntax
// is checked.
func CheckValidator(shaderModel, constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("validator constraint %q: %w", constraint, err)
	}
	if shaderModel == "" {
		return nil
	}
	sm, err := ParseShaderModel(shaderModel)
	if err != nil {
		return err
	}
	val := ValidatorFor(sm)
	if ok, reasons := c.Validate(val); !ok {
		msgs := make([]string, len(reasons))
		for i, r := range reasons {
			msgs[i] = r.Error()
		}
		return fmt.Errorf("shader model %s needs validator %s: %s", shaderModel, val, strings.Join(msgs, "; "))
	}
	return nil
}

// Options converts the configuration to pipeline options.
func (c Config) Options() (pipeline.Options, error) {
	format, err := pipeline.ParseFormat(c.Output.Format)
	if err != nil {
		return pipeline.Options{}, err
	}
	opts := pipeline.DefaultOptions()
	opts.LanguageVersion = c.Lower.LanguageVersion
	opts.ShaderModel = c.Target.ShaderModel
	opts.MinPrecision = c.Lower.MinPrecision
	opts.StructurizeReturns = c.Lower.StructurizeReturns
	opts.WaveSensitive = c.Lower.WaveSensitive
	opts.FoldConstants = c.Lower.FoldConstants
	opts.Format = format
	return opts, nil
}
