package vfs

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/quakecore/q2srv/internal/metrics"
)

// ErrNotFound is returned when no overlay in the search path resolves a name.
var ErrNotFound = errors.New("vfs: not found")

// FS is the virtual filesystem: a search-path stack plus a resolution cache.
// It is safe for concurrent use.
type FS struct {
	search *SearchPath
	cache  *pathCache
}

// New returns an FS rooted at the given search path stack.
func New(search *SearchPath) *FS {
	return &FS{
		search: search,
		cache:  newPathCache(),
	}
}

// Search exposes the underlying stack so callers (fsnotify wiring, admin
// commands like "path") can inspect or extend it.
func (f *FS) Search() *SearchPath { return f.search }

// ReadFile resolves name against the search path (cache first, head-first
// overlay scan on miss) and returns its bytes.
func (f *FS) ReadFile(name string) ([]byte, error) {
	key, err := Canonicalize(name)
	if err != nil {
		return nil, err
	}

	if e, ok := f.cache.get(key); ok {
		if e.negative {
			metrics.IncVFSHit()
			return nil, ErrNotFound
		}
		metrics.IncVFSHit()
		if e.pack != nil {
			if data, ok := e.pack.Read(key); ok {
				return data, nil
			}
			// stale cache: archive entry vanished, fall through to rescan
		} else {
			if data, err := os.ReadFile(e.realPath); err == nil {
				return data, nil
			}
		}
	}

	metrics.IncVFSMiss()
	for _, ent := range f.search.Entries() {
		switch ent.kind {
		case kindDirectory:
			real := filepath.Join(ent.dir, filepath.FromSlash(key))
			data, err := os.ReadFile(real)
			if err == nil {
				f.cache.putHit(key, cacheEntry{realPath: real})
				return data, nil
			}
		case kindPack:
			if data, ok := ent.pack.Read(key); ok {
				off, length, _ := ent.pack.Find(key)
				f.cache.putHit(key, cacheEntry{pack: ent.pack, offset: off, length: length})
				return data, nil
			}
		}
	}
	f.cache.putMiss(key)
	return nil, ErrNotFound
}

// Stat reports the byte length of name without reading its full contents,
// used by the download path to size svc_download chunk iteration.
func (f *FS) Stat(name string) (int64, error) {
	key, err := Canonicalize(name)
	if err != nil {
		return 0, err
	}
	if e, ok := f.cache.get(key); ok && !e.negative {
		if e.pack != nil {
			return int64(e.length), nil
		}
		if fi, err := os.Stat(e.realPath); err == nil {
			return fi.Size(), nil
		}
	}
	// Fall back to a full resolve; cheap enough and keeps Stat correct
	// after cache eviction.
	data, err := f.ReadFile(name)
	if err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

// FlushCache drops every cached resolution, called on game-directory change
// notifications and by the admin "fsflushcache" command.
func (f *FS) FlushCache() {
	f.cache.flush()
	metrics.IncVFSFlush()
}

// CacheSize reports the number of cached entries (positive and negative),
// used by the "fsstats" admin command.
func (f *FS) CacheSize() int {
	return f.cache.len()
}
