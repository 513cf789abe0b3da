package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"dxlower/internal/diag"
	"dxlower/internal/observ"
)

// Current schema version - increment when cacheEntry changes
const cacheSchemaVersion uint16 = 1

// CacheKey identifies one input file under one set of options.
type CacheKey [sha256.Size]byte

// Cache stores lowered outputs on disk by CacheKey. A nil *Cache is a
// valid cache that never hits. Safe for concurrent use.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

type cacheEntry struct {
	Schema      uint16
	Output      []byte
	Diagnostics []diag.Diagnostic
	Timings     observ.Report
	Stats       Stats
}

// OpenCache opens the cache rooted at dir. An empty dir selects
// $XDG_CACHE_HOME/dxlower, falling back to ~/.cache/dxlower.
func OpenCache(dir string) (*Cache, error) {
	if dir == "" {
		base := os.Getenv("XDG_CACHE_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, err
			}
			base = filepath.Join(home, ".cache")
		}
		dir = filepath.Join(base, "dxlower")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

// Key hashes the input bytes together with the options fingerprint.
func (c *Cache) Key(input []byte, fingerprint string) CacheKey {
	var k CacheKey
	if c == nil {
		return k
	}
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write([]byte{0})
	h.Write(input)
	copy(k[:], h.Sum(nil))
	return k
}

func (c *Cache) pathFor(key CacheKey) string {
	return filepath.Join(c.dir, "lowered", hex.EncodeToString(key[:])+".mp")
}

// put writes e under key, replacing any previous entry atomically.
func (c *Cache) put(key CacheKey, e *cacheEntry) error {
	if c == nil || e == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if _, statErr := os.Stat(tmp); statErr == nil {
			_ = os.Remove(tmp)
		}
	}()
	e.Schema = cacheSchemaVersion
	if err := msgpack.NewEncoder(f).Encode(e); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

// get reads the entry stored under key. Entries of another schema miss.
func (c *Cache) get(key CacheKey) (*cacheEntry, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() {
		_ = f.Close()
	}()
	var e cacheEntry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return nil, false, err
	}
	if e.Schema != cacheSchemaVersion {
		return nil, false, nil
	}
	return &e, true, nil
}

// DropAll removes every entry.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}

func newCacheEntry(res *Result) *cacheEntry {
	e := &cacheEntry{Output: res.Output, Stats: res.Stats}
	if res.Bag != nil {
		e.Diagnostics = append(e.Diagnostics, res.Bag.Items()...)
	}
	if res.Timer != nil {
		e.Timings = res.Timer.Report()
	}
	return e
}

// result rebuilds the Result a cache hit stands for. The module itself is
// not kept.
func (e *cacheEntry) result(path string) *Result {
	res := &Result{
		File:   path,
		Bag:    diag.NewBag(max(len(e.Diagnostics), 1)),
		Timer:  observ.NewTimer(),
		Stats:  e.Stats,
		Output: e.Output,
		Cached: true,
	}
	for _, d := range e.Diagnostics {
		res.Bag.Add(d)
	}
	for _, p := range e.Timings.Phases {
		res.Timer.Record(p.Name, time.Duration(p.DurationMS*float64(time.Millisecond)), p.Note)
	}
	return res
}
