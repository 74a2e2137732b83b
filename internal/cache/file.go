package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

const (
	cacheDirPerm  = 0o750
	cacheFilePerm = 0o600
)

// fileSchema is bumped when the on-disk entry layout changes; older entries read as misses.
const fileSchema uint16 = 1

const fileExt = ".mp"

// FileCache is a Store keeping one msgpack file per key under a directory. Writes go
// through a temp file and rename, so readers never see a partial entry.
type FileCache struct {
	mu  sync.RWMutex
	dir string
	now func() time.Time
}

type fileEntry struct {
	Schema    uint16             `msgpack:"schema"`
	Key       string             `msgpack:"key"`
	CreatedAt time.Time          `msgpack:"created_at"`
	ExpiresAt time.Time          `msgpack:"expires_at"`
	Value     msgpack.RawMessage `msgpack:"value"`
}

// NewFileCache opens or creates a cache rooted at dir.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, cacheDirPerm); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileCache{dir: dir, now: time.Now}, nil
}

// Dir returns the cache root.
func (f *FileCache) Dir() string { return f.dir }

// Load decodes the live entry for key into dst. Expired, corrupt, or foreign-schema
// entries are misses and are removed.
func (f *FileCache) Load(ctx context.Context, key string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.mu.RLock()
	entry, err := f.read(f.pathFor(key))
	f.mu.RUnlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		f.Delete(ctx, key)
		return false, nil
	}
	if entry.Schema != fileSchema || entry.Key != key || expired(entry, f.now()) {
		f.Delete(ctx, key)
		return false, nil
	}
	// Entries saved from a nil value, such as a clean diagnostics list, carry no raw bytes.
	if len(entry.Value) == 0 {
		entry.Value = msgpack.RawMessage{msgpcode.Nil}
	}
	if err := msgpack.Unmarshal(entry.Value, dst); err != nil {
		return false, fmt.Errorf("cache %s: %w", key, err)
	}
	return true, nil
}

// Save encodes value under key. A non-positive ttl never expires.
func (f *FileCache) Save(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache %s: %w", key, err)
	}
	now := f.now()
	entry := fileEntry{
		Schema:    fileSchema,
		Key:       key,
		CreatedAt: now,
		ExpiresAt: expiry(now, ttl),
		Value:     raw,
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	p := f.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(p), cacheDirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	enc := msgpack.NewEncoder(tmp)
	if err := enc.Encode(&entry); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(cacheFilePerm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Delete removes the entry for key.
func (f *FileCache) Delete(_ context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = os.Remove(f.pathFor(key))
}

// Clear removes every entry.
func (f *FileCache) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.RemoveAll(f.dir); err != nil {
		return err
	}
	return os.MkdirAll(f.dir, cacheDirPerm)
}

// Stats reports the number of entries, how many are stale, and their total size.
func (f *FileCache) Stats() (total, stale int, size int64) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	now := f.now()
	_ = f.walk(func(path string, info fs.FileInfo) {
		total++
		size += info.Size()
		entry, err := f.read(path)
		if err != nil || entry.Schema != fileSchema || expired(entry, now) {
			stale++
		}
	})
	return total, stale, size
}

// Cleanup removes stale entries and returns how many were removed.
func (f *FileCache) Cleanup() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	removed := 0
	err := f.walk(func(path string, _ fs.FileInfo) {
		entry, err := f.read(path)
		if err == nil && entry.Schema == fileSchema && !expired(entry, now) {
			return
		}
		if os.Remove(path) == nil {
			removed++
		}
	})
	return removed, err
}

func (f *FileCache) walk(visit func(path string, info fs.FileInfo)) error {
	return filepath.WalkDir(f.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, fileExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		visit(path, info)
		return nil
	})
}

func (f *FileCache) read(path string) (fileEntry, error) {
	var entry fileEntry
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return entry, err
	}
	defer file.Close()
	err = msgpack.NewDecoder(file).Decode(&entry)
	return entry, err
}

// pathFor spreads entries over two directory levels taken from the key hash.
func (f *FileCache) pathFor(key string) string {
	h := ComputeKey([]byte(key))
	return filepath.Join(f.dir, h[:2], h[2:4], h+fileExt)
}

func expired(e fileEntry, now time.Time) bool {
	return Entry{ExpiresAt: e.ExpiresAt}.Expired(now)
}

var _ Store = (*FileCache)(nil)
