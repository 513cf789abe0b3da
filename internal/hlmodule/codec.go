package hlmodule

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"

	"dxlower/internal/annot"
	"dxlower/internal/cbuf"
	"dxlower/internal/ir"
	"dxlower/internal/resprops"
	"dxlower/internal/structurize"
)

// Ext is the file extension of encoded modules.
const Ext = ".hlm"

// Current schema version - increment when the payload format changes
const schemaVersion uint16 = 1

// ErrSchema is returned for files written with another schema version.
var ErrSchema = errors.New("hlmodule: unsupported schema version")

type payload struct {
	Schema uint16

	Image       *ir.Image
	Objects     []resprops.Entry
	Annotations []*annot.Struct
	CBuffers    []*cbuf.CBuffer
	Scopes      map[string]*structurize.ScopeInfo

	Entry           Entry
	Exports         []Export
	LanguageVersion uint32
	ShaderModel     string
}

// Encode writes hm to w.
func (hm *HLModule) Encode(w io.Writer) error {
	p := &payload{
		Schema:          schemaVersion,
		Image:           hm.IR.Image(),
		Objects:         hm.Objects.Entries(),
		Annotations:     hm.Types.Structs(),
		CBuffers:        hm.CBuffers,
		Scopes:          hm.Scopes,
		Entry:           hm.Entry,
		Exports:         hm.Exports,
		LanguageVersion: hm.LanguageVersion,
		ShaderModel:     hm.ShaderModel,
	}
	if err := msgpack.NewEncoder(w).Encode(p); err != nil {
		return fmt.Errorf("hlmodule: encode %s: %w", hm.Name(), err)
	}
	return nil
}

// Decode reads a module written by Encode and rebuilds its use lists.
func Decode(r io.Reader) (*HLModule, error) {
	var p payload
	if err := msgpack.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("hlmodule: decode: %w", err)
	}
	if p.Schema != schemaVersion {
		return nil, fmt.Errorf("%w %d (want %d)", ErrSchema, p.Schema, schemaVersion)
	}
	m, err := ir.FromImage(p.Image)
	if err != nil {
		return nil, fmt.Errorf("hlmodule: decode: %w", err)
	}
	hm := Wrap(m)
	hm.Entry = p.Entry
	hm.Exports = p.Exports
	hm.LanguageVersion = p.LanguageVersion
	hm.ShaderModel = p.ShaderModel
	hm.CBuffers = p.CBuffers
	if p.Scopes != nil {
		hm.Scopes = p.Scopes
	}

	chk, err := newChecker(m, p.Image)
	if err != nil {
		return nil, err
	}
	for _, e := range p.Objects {
		if chk.value(e.Value, "resource") && !hm.Objects.AddResource(e.Value, e.Props) {
			chk.fail("resource %%%d has invalid properties", e.Value)
		}
	}
	for _, s := range p.Annotations {
		if s == nil || !chk.typ(s.Type, "annotation") {
			continue
		}
		dst := hm.Types.AddStructAnnotation(s.Type, len(s.Fields))
		copy(dst.Fields, s.Fields)
		dst.CBufferSize = s.CBufferSize
		dst.TemplateArg = s.TemplateArg
	}
	for _, cb := range hm.CBuffers {
		for _, c := range cb.Constants {
			chk.value(c.Global, "cbuffer "+cb.Name)
		}
	}
	for name, si := range hm.Scopes {
		chk.scopes(name, si)
	}
	if err := chk.err(); err != nil {
		return nil, fmt.Errorf("hlmodule: decode %s: %w", m.Name, err)
	}
	return hm, nil
}

// checker collects every dangling reference of a decoded payload.
type checker struct {
	m      *ir.Module
	values int32
	blocks int32
	errs   []error
}

func newChecker(m *ir.Module, img *ir.Image) (*checker, error) {
	nv, err := safecast.Conv[int32](len(img.Values))
	if err != nil {
		return nil, fmt.Errorf("hlmodule: value count: %w", err)
	}
	nb, err := safecast.Conv[int32](len(img.Blocks))
	if err != nil {
		return nil, fmt.Errorf("hlmodule: block count: %w", err)
	}
	return &checker{m: m, values: nv, blocks: nb}, nil
}

func (c *checker) fail(format string, args ...any) {
	c.errs = append(c.errs, fmt.Errorf(format, args...))
}

func (c *checker) err() error { return errors.Join(c.errs...) }

func (c *checker) value(id ir.ValueID, what string) bool {
	if id == ir.NoValueID {
		return false
	}
	if id < 0 || int32(id) >= c.values || c.m.Value(id).Erased {
		c.fail("%s refers to missing value %%%d", what, id)
		return false
	}
	return true
}

func (c *checker) typ(id ir.TypeID, what string) bool {
	if _, ok := c.m.Types.Lookup(id); !ok || id == ir.NoTypeID {
		c.fail("%s refers to missing type %d", what, id)
		return false
	}
	return true
}

func (c *checker) block(id ir.BlockID, what string) {
	if id == ir.NoBlockID {
		return
	}
	if id < 0 || int32(id) >= c.blocks || c.m.Block(id).Erased {
		c.fail("%s refers to missing block %d", what, id)
	}
}

func (c *checker) scopes(fn string, si *structurize.ScopeInfo) {
	if si == nil || len(si.Scopes) == 0 {
		c.fail("scopes of %s are empty", fn)
		return
	}
	if _, ok := c.m.FuncByName(fn); !ok {
		c.fail("scopes recorded for unknown function %s", fn)
		return
	}
	for i, s := range si.Scopes {
		what := fmt.Sprintf("%s scope %d", fn, i)
		c.block(s.End, what)
		c.block(s.Continue, what)
		if i > 0 && (s.Parent < 0 || s.Parent >= len(si.Scopes)) {
			c.fail("%s has parent %d out of range", what, s.Parent)
		}
	}
	for _, bb := range si.Cleanup {
		c.block(bb, fn+" cleanup")
	}
}

// WriteFile encodes hm into path, replacing it atomically.
func (hm *HLModule) WriteFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, "tmp-*"+Ext)
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if _, statErr := os.Stat(tmp); statErr == nil {
			_ = os.Remove(tmp)
		}
	}()
	if err := hm.Encode(f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadFile decodes the module stored at path.
func ReadFile(path string) (*HLModule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	hm, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hm, nil
}
