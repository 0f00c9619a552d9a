// Package thumbnail caches square entry thumbnails rendered from the first
// photo of an entry. The sync engine invalidates an entry's thumbnail
// whenever its photos may have changed; the next Get regenerates it.
package thumbnail

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
)

// DefaultSize is the edge length of generated thumbnails in pixels.
const DefaultSize = 256

// Cache stores thumbnails as <dir>/<entryID>.jpg.
type Cache struct {
	dir  string
	size int
}

// New returns a Cache rooted at dir. A non-positive size selects DefaultSize.
func New(dir string, size int) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	return &Cache{dir: dir, size: size}
}

// Path returns where the thumbnail of entryID is stored.
func (c *Cache) Path(entryID int64) string {
	return filepath.Join(c.dir, strconv.FormatInt(entryID, 10)+".jpg")
}

// Invalidate drops the cached thumbnail of entryID. A missing thumbnail is
// not an error.
func (c *Cache) Invalidate(entryID int64) error {
	err := os.Remove(c.Path(entryID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing thumbnail %d: %w", entryID, err)
	}
	return nil
}

// Get returns the path of the thumbnail for entryID, rendering it from the
// photo at src when it is not cached.
func (c *Cache) Get(entryID int64, src string) (string, error) {
	path := c.Path(entryID)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("opening photo %q: %w", src, err)
	}
	thumb := imaging.Fill(img, c.size, c.size, imaging.Center, imaging.Lanczos)

	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return "", fmt.Errorf("creating thumbnail directory: %w", err)
	}
	if err := imaging.Save(thumb, path, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("saving thumbnail %d: %w", entryID, err)
	}
	return path, nil
}
