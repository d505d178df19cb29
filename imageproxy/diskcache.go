package imageproxy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint returns the deterministic cache key for a source URL and
// its effective (post-clamp) transform parameters. Identical inputs
// always map to the same on-disk slot.
func Fingerprint(sourceURL string, width, height, quality int) string {
	d := xxhash.New()
	fmt.Fprintf(d, "%s|%d|%d|%d", sourceURL, width, height, quality)
	return fmt.Sprintf("%016x", d.Sum64())
}

// DiskCache is a content-addressed store of transformed images. Files
// are named by fingerprint, sharded by key prefix, and never mutated
// after creation; duplicate concurrent writes for one key produce
// identical bytes and are harmless. There is no eviction: entries are
// treated as permanently valid and survive restarts.
type DiskCache struct {
	root string
}

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(root string) (*DiskCache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DiskCache{root: root}, nil
}

func (c *DiskCache) path(key string) string {
	return filepath.Join(c.root, key[:2], key+".jpg")
}

// Get returns the stored bytes for key, if present.
func (c *DiskCache) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(c.path(key))
	if err != nil {
		return nil, false
	}
	return data, true
}

// Put stores data under key via a temp file and rename so readers never
// observe a partial entry.
func (c *DiskCache) Put(key string, data []byte) error {
	target := c.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), "tmp-img-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if _, err := os.Stat(tmpName); err == nil {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

// Len counts stored entries. Intended for tests and diagnostics.
func (c *DiskCache) Len() int {
	var n int
	_ = filepath.Walk(c.root, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n++
		}
		return nil
	})
	return n
}
