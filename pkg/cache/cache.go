package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrRootNotDir is returned when the cache root exists but is a regular file.
var ErrRootNotDir = errors.New("cache root is not a directory")

// Cacher defines the caching interface.
type Cacher interface {
	GetCache(ctx context.Context, key string) ([]byte, bool)
	SetCache(ctx context.Context, key string, val []byte) error
}

// FileStore implements Cacher on a directory tree. Keys are slash-separated
// relative paths ("12/2048/1361.png") and map one-to-one to files under Root.
type FileStore struct {
	root string
}

var _ Cacher = (*FileStore)(nil)

// NewFileStore creates a store rooted at dir. The directory is created lazily.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Root returns the directory holding all cached files.
func (f *FileStore) Root() string { return f.root }

// Path returns the file path for key, whether or not it exists.
func (f *FileStore) Path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

// EnsureRoot creates the root directory if needed.
func (f *FileStore) EnsureRoot() error {
	if err := os.MkdirAll(f.root, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir %s: %w", f.root, err)
	}
	return nil
}

// Has reports whether a regular file exists for key.
func (f *FileStore) Has(key string) bool {
	info, err := os.Stat(f.Path(key))
	return err == nil && info.Mode().IsRegular()
}

func (f *FileStore) GetCache(ctx context.Context, key string) ([]byte, bool) {
	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *FileStore) SetCache(ctx context.Context, key string, val []byte) error {
	_, err := f.WriteFrom(key, bytes.NewReader(val))
	return err
}

// WriteFrom streams r into the file for key. Data lands in a temp file in the
// target directory first and is renamed into place once complete, so readers
// never observe a partial file.
func (f *FileStore) WriteFrom(key string, r io.Reader) (int64, error) {
	dst := f.Path(key)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to write %s: %w", key, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	return n, nil
}

// Remove deletes the file for key. A missing file is not an error.
func (f *FileStore) Remove(key string) error {
	err := os.Remove(f.Path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Walk calls fn for every cached file, skipping in-progress temp files.
// An absent root is treated as empty. A root that is not a directory is an
// error.
func (f *FileStore) Walk(fn func(key string, info fs.FileInfo) error) error {
	root, err := os.Stat(f.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !root.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotDir, f.root)
	}

	return filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path != f.root && errors.Is(err, fs.ErrNotExist) {
				return nil // removed concurrently
			}
			return err
		}
		if d.IsDir() || isTemp(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil // removed concurrently
			}
			return err
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info)
	})
}

// EvictOlderThan deletes every file last modified before cutoff and returns
// the number of files removed.
func (f *FileStore) EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := f.Walk(func(key string, info fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := f.Remove(key); err != nil {
			return fmt.Errorf("failed to evict %s: %w", key, err)
		}
		removed++
		return nil
	})
	return removed, err
}

// SizeBytes returns the total size of all cached files.
func (f *FileStore) SizeBytes() (int64, error) {
	var total int64
	err := f.Walk(func(_ string, info fs.FileInfo) error {
		total += info.Size()
		return nil
	})
	return total, err
}

func isTemp(name string) bool {
	return strings.HasPrefix(name, ".tmp-")
}
