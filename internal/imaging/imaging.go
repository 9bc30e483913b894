// Package imaging loads page images for conversion. Pages arrive as
// already-rasterized images; PDF rendering happens upstream.
package imaging

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// MaxImageBytes caps a single page image. Anything larger is almost
// certainly not a document page.
const MaxImageBytes = 50 << 20

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tiff": true,
	".bmp":  true,
	".webp": true,
}

// Page is one loaded page image.
type Page struct {
	Number int // 1-based
	Path   string
	Data   []byte
}

// Supported reports whether a path has an accepted image extension.
func Supported(path string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(path))]
}

// LoadPage reads and validates a single image file. Symlinks are rejected:
// a pipeline pointed at a directory must not follow links out of it.
func LoadPage(path string) ([]byte, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat image: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("refusing to follow symlink: %s", path)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if !Supported(path) {
		return nil, fmt.Errorf("unsupported image type %q (want png/jpg/jpeg/tiff/bmp/webp)", filepath.Ext(path))
	}
	if info.Size() > MaxImageBytes {
		return nil, fmt.Errorf("image %s is %d bytes, above the %d byte limit", path, info.Size(), MaxImageBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("image %s is empty", path)
	}
	return data, nil
}

// LoadPages loads a document's pages. A single image file is a one-page
// document; a directory holds one image per page, ordered by filename.
// Non-image files in a directory are skipped.
func LoadPages(path string) ([]Page, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat input: %w", err)
	}

	if !info.IsDir() {
		data, err := LoadPage(path)
		if err != nil {
			return nil, err
		}
		return []Page{{Number: 1, Path: path, Data: data}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !Supported(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no page images found in %s", path)
	}
	sort.Strings(names)

	pages := make([]Page, 0, len(names))
	for i, name := range names {
		full := filepath.Join(path, name)
		data, err := LoadPage(full)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i+1, err)
		}
		pages = append(pages, Page{Number: i + 1, Path: full, Data: data})
	}
	return pages, nil
}

// Hash returns the SHA-256 hex digest of image bytes, used as the cache
// key's image component.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ToBase64 encodes image bytes for embedding in a chat completion request.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
