// Package symcache keeps resolved symbols on disk so repeated conversions
// against the same binary skip the disassembler.
package symcache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"x2trace/internal/symbolize"
)

// Current schema version - increment when Entry format changes
const schemaVersion uint16 = 1

// Digest is the SHA-256 of a binary's contents.
type Digest [sha256.Size]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// DigestFile hashes the file at path.
func DigestFile(path string) (Digest, error) {
	var d Digest
	f, err := os.Open(path)
	if err != nil {
		return d, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return d, fmt.Errorf("hash %s: %w", path, err)
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}

// Key identifies one cache entry: a binary loaded at a base offset.
type Key struct {
	Binary     Digest
	BaseOffset uint64
}

// Entry is the stored payload. Addresses are normalized hex without "0x".
type Entry struct {
	Schema     uint16
	Binary     string // path the entry was built from, informational
	BaseOffset uint64
	Resolved   map[string]symbolize.Info
	Missed     []string
}

// Cache is a directory of msgpack entries.
// Thread-safe for concurrent access.
type Cache struct {
	mu  sync.RWMutex
	dir string
}

// DefaultDir is $XDG_CACHE_HOME/x2trace/symbols, falling back to
// ~/.cache.
func DefaultDir() (string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".cache")
	}
	return filepath.Join(base, "x2trace", "symbols"), nil
}

// Open returns a cache rooted at dir, creating it. An empty dir means
// DefaultDir.
func Open(dir string) (*Cache, error) {
	if dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	if c == nil {
		return ""
	}
	return c.dir
}

func (c *Cache) pathFor(key Key) string {
	return filepath.Join(c.dir, key.Binary.String()+"-"+strconv.FormatUint(key.BaseOffset, 16)+".mp")
}

// Get reads the entry for key. A missing entry or one written with another
// schema reports false.
func (c *Cache) Get(key Key) (*Entry, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.read(key)
}

func (c *Cache) read(key Key) (*Entry, bool, error) {
	f, err := os.Open(c.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	var e Entry
	if err := msgpack.NewDecoder(f).Decode(&e); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", f.Name(), err)
	}
	if e.Schema != schemaVersion {
		return nil, false, nil
	}
	return &e, true, nil
}

func (c *Cache) write(key Key, e *Entry) error {
	p := c.pathFor(key)
	f, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := msgpack.NewEncoder(f).Encode(e); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	// Атомарная замена
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Lookup splits addrs into what the entry for key already answers and
// what still needs resolving. Known misses land in neither.
func (c *Cache) Lookup(key Key, addrs []string) (map[string]symbolize.Info, []string, error) {
	hits := make(map[string]symbolize.Info)
	e, ok, err := c.Get(key)
	if err != nil || !ok {
		return hits, addrs, err
	}
	missed := make(map[string]struct{}, len(e.Missed))
	for _, a := range e.Missed {
		missed[a] = struct{}{}
	}
	var unknown []string
	for _, a := range addrs {
		if info, ok := e.Resolved[symbolize.Key(a)]; ok {
			hits[symbolize.Key(a)] = info
			continue
		}
		if _, ok := missed[a]; ok {
			continue
		}
		unknown = append(unknown, a)
	}
	return hits, unknown, nil
}

// Merge adds resolved symbols and known misses to the entry for key.
func (c *Cache) Merge(key Key, binary string, resolved map[string]symbolize.Info, missed []string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok, err := c.read(key)
	if err != nil || !ok {
		e = &Entry{}
	}
	e.Schema = schemaVersion
	e.Binary = binary
	e.BaseOffset = key.BaseOffset
	if e.Resolved == nil {
		e.Resolved = make(map[string]symbolize.Info, len(resolved))
	}
	for k, v := range resolved {
		e.Resolved[k] = v
	}
	set := make(map[string]struct{}, len(e.Missed)+len(missed))
	for _, a := range e.Missed {
		set[a] = struct{}{}
	}
	for _, a := range missed {
		if _, ok := e.Resolved[symbolize.Key(a)]; !ok {
			set[a] = struct{}{}
		}
	}
	e.Missed = e.Missed[:0]
	for a := range set {
		e.Missed = append(e.Missed, a)
	}
	sort.Strings(e.Missed)
	return c.write(key, e)
}

// DropAll removes every entry.
func (c *Cache) DropAll() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	// переименуем каталог, затем удалим
	old := c.dir + ".old-" + time.Now().Format("20060102150405")
	if err := os.Rename(c.dir, old); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	return os.MkdirAll(c.dir, 0o755)
}
